// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package optimize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

func addNode(t *testing.T, g *graph.Graph, node *graph.Node) {
	t.Helper()
	require.NoError(t, g.AddNode(node))
}

func addEdge(t *testing.T, g *graph.Graph, edge *graph.Edge) {
	t.Helper()
	require.NoError(t, g.AddEdge(edge))
}

func constant(id string, v any) *graph.Node {
	return &graph.Node{ID: id, Kind: graph.KindConstant, Value: v}
}

func opNode(id string, kind graph.NodeKind) *graph.Node {
	return &graph.Node{ID: id, Kind: kind}
}

func edgeTo(id, from, to, toPort string) *graph.Edge {
	return &graph.Edge{ID: id, From: from, To: to, ToPort: toPort}
}

func portEdge(id, from, fromPort, to, toPort string) *graph.Edge {
	return &graph.Edge{ID: id, From: from, To: to, FromPort: fromPort, ToPort: toPort}
}

// foldableSum builds c1(2), c2(3) -> sum(Add) -> out(Output).
func foldableSum(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(graph.WithName("sum"))
	addNode(t, g, constant("c1", 2))
	addNode(t, g, constant("c2", 3))
	addNode(t, g, opNode("sum", graph.KindAdd))
	addNode(t, g, opNode("out", graph.KindOutput))
	addEdge(t, g, edgeTo("e1", "c1", "sum", "a"))
	addEdge(t, g, edgeTo("e2", "c2", "sum", "b"))
	addEdge(t, g, edgeTo("e3", "sum", "out", ""))
	return g
}

// TestBasePass_Disabled verifies a disabled pass returns its input
// untouched without counting an application.
func TestBasePass_Disabled(t *testing.T) {
	pass := NewConstantFolding()
	pass.SetEnabled(false)
	require.False(t, pass.Enabled())

	g := foldableSum(t)
	res, err := pass.Apply(context.Background(), g)
	require.NoError(t, err)
	assert.Same(t, g, res.Graph)
	assert.False(t, res.Modified)
	assert.Equal(t, 0, res.Iterations)
	assert.Zero(t, pass.Stats().Applications)

	pass.SetEnabled(true)
	res, err = pass.Apply(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, res.Modified)
}

// TestBasePass_NilGraph verifies Apply rejects a nil graph.
func TestBasePass_NilGraph(t *testing.T) {
	pass := NewConstantFolding()
	_, err := pass.Apply(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilGraph)
}

// TestBasePass_ContextCancelled verifies Apply stops on a cancelled
// context.
func TestBasePass_ContextCancelled(t *testing.T) {
	pass := NewConstantFolding()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pass.Apply(ctx, foldableSum(t))
	require.ErrorIs(t, err, context.Canceled)
}

// TestBasePass_IterationBound verifies WithMaxIterations stops the
// fixed point loop early.
func TestBasePass_IterationBound(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("c1", 2))
	addNode(t, g, constant("c2", 3))
	addNode(t, g, constant("c3", 4))
	addNode(t, g, opNode("add1", graph.KindAdd))
	addNode(t, g, opNode("add2", graph.KindAdd))
	addNode(t, g, opNode("out", graph.KindOutput))
	addEdge(t, g, edgeTo("e1", "c1", "add1", "a"))
	addEdge(t, g, edgeTo("e2", "c2", "add1", "b"))
	addEdge(t, g, edgeTo("e3", "add1", "add2", "a"))
	addEdge(t, g, edgeTo("e4", "c3", "add2", "b"))
	addEdge(t, g, edgeTo("e5", "add2", "out", ""))

	pass := NewConstantFolding(WithMaxIterations(1))
	res, err := pass.Apply(context.Background(), g)
	require.NoError(t, err)
	require.True(t, res.Modified)
	assert.Equal(t, 1, res.Iterations)

	add1, ok := res.Graph.GetNode("add1")
	require.True(t, ok)
	assert.Equal(t, graph.KindConstant, add1.Kind)
	add2, ok := res.Graph.GetNode("add2")
	require.True(t, ok)
	assert.Equal(t, graph.KindAdd, add2.Kind)
}

// TestBasePass_StatsAccumulateAndReset verifies counters accumulate
// across applications and zero on reset.
func TestBasePass_StatsAccumulateAndReset(t *testing.T) {
	pass := NewConstantFolding()

	_, err := pass.Apply(context.Background(), foldableSum(t))
	require.NoError(t, err)
	_, err = pass.Apply(context.Background(), foldableSum(t))
	require.NoError(t, err)

	stats := pass.Stats()
	assert.Equal(t, int64(2), stats.Applications)
	assert.Equal(t, int64(2), stats.NodesFolded)
	assert.Positive(t, stats.Iterations)
	assert.Positive(t, stats.TotalDuration)
	assert.True(t, stats.LastModified)

	pass.ResetStats()
	assert.Zero(t, pass.Stats())
}
