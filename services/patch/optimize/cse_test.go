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

// TestCSE_MergesDuplicates verifies the first-inserted node of an
// equivalence class survives and consumers move to it.
func TestCSE_MergesDuplicates(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("a", 2))
	addNode(t, g, constant("b", 3))
	addNode(t, g, opNode("n1", graph.KindAdd))
	addNode(t, g, opNode("n2", graph.KindAdd))
	addNode(t, g, opNode("m", graph.KindMultiply))
	addNode(t, g, opNode("out", graph.KindOutput))
	addEdge(t, g, edgeTo("e1", "a", "n1", "a"))
	addEdge(t, g, edgeTo("e2", "b", "n1", "b"))
	addEdge(t, g, edgeTo("e3", "a", "n2", "a"))
	addEdge(t, g, edgeTo("e4", "b", "n2", "b"))
	addEdge(t, g, edgeTo("e5", "n1", "m", "a"))
	addEdge(t, g, edgeTo("e6", "n2", "m", "b"))
	addEdge(t, g, edgeTo("e7", "m", "out", ""))

	pass := NewCSE()
	res, err := pass.Apply(context.Background(), g)
	require.NoError(t, err)
	require.True(t, res.Modified)

	assert.True(t, res.Graph.HasNode("n1"))
	assert.False(t, res.Graph.HasNode("n2"))

	// Both of m's inputs now come from the representative, with edge
	// ids and ports preserved.
	e6, ok := res.Graph.GetEdge("e6")
	require.True(t, ok)
	assert.Equal(t, "n1", e6.From)
	assert.Equal(t, "b", e6.ToPort)
	for _, e := range res.Graph.Incoming("m") {
		assert.Equal(t, "n1", e.From)
	}

	stats := pass.Stats()
	assert.Equal(t, int64(1), stats.NodesRemoved)
	assert.Equal(t, int64(1), stats.EdgesRewritten)
	assert.Equal(t, int64(2), stats.EdgesRemoved)
}

// TestCSE_InputUntouched verifies the pass rewrites a clone, never the
// graph it was given.
func TestCSE_InputUntouched(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("k1", 5))
	addNode(t, g, constant("k2", 5))
	addNode(t, g, opNode("add", graph.KindAdd))
	addEdge(t, g, edgeTo("e1", "k1", "add", "a"))
	addEdge(t, g, edgeTo("e2", "k2", "add", "b"))

	res, err := NewCSE().Apply(context.Background(), g)
	require.NoError(t, err)
	require.True(t, res.Modified)
	require.NotSame(t, g, res.Graph)
	assert.True(t, g.HasNode("k2"))
}

// TestCSE_ConstantsParticipate verifies duplicate literals collapse,
// including across numeric types.
func TestCSE_ConstantsParticipate(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("k1", 5))
	addNode(t, g, constant("k2", 5.0))
	addNode(t, g, opNode("add", graph.KindAdd))
	addEdge(t, g, edgeTo("e1", "k1", "add", "a"))
	addEdge(t, g, edgeTo("e2", "k2", "add", "b"))

	res, err := NewCSE().Apply(context.Background(), g)
	require.NoError(t, err)
	require.True(t, res.Modified)
	assert.True(t, res.Graph.HasNode("k1"))
	assert.False(t, res.Graph.HasNode("k2"))

	e2, ok := res.Graph.GetEdge("e2")
	require.True(t, ok)
	assert.Equal(t, "k1", e2.From)
}

// TestCSE_DifferentValuesNotMerged verifies distinct literals stay.
func TestCSE_DifferentValuesNotMerged(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("k1", 5))
	addNode(t, g, constant("k2", 6))

	res, err := NewCSE().Apply(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, res.Modified)
	assert.Same(t, g, res.Graph)
}

// TestCSE_DifferentPortsNotMerged verifies nodes with the same sources
// on different ports are not equivalent.
func TestCSE_DifferentPortsNotMerged(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("a", 10))
	addNode(t, g, constant("b", 4))
	addNode(t, g, opNode("n1", graph.KindSubtract))
	addNode(t, g, opNode("n2", graph.KindSubtract))
	addEdge(t, g, edgeTo("e1", "a", "n1", "a"))
	addEdge(t, g, edgeTo("e2", "b", "n1", "b"))
	addEdge(t, g, edgeTo("e3", "a", "n2", "b"))
	addEdge(t, g, edgeTo("e4", "b", "n2", "a"))

	res, err := NewCSE().Apply(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, res.Modified)
}

// TestCSE_OutputsNotMerged verifies output nodes keep their identity
// even when structurally equal.
func TestCSE_OutputsNotMerged(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("k", 1))
	addNode(t, g, opNode("out1", graph.KindOutput))
	addNode(t, g, opNode("out2", graph.KindOutput))
	addEdge(t, g, edgeTo("e1", "k", "out1", ""))
	addEdge(t, g, edgeTo("e2", "k", "out2", ""))
	addNode(t, g, &graph.Node{
		ID:       "sink1",
		Kind:     graph.KindNegate,
		Metadata: map[string]any{graph.MetaIsOutput: true},
	})
	addNode(t, g, &graph.Node{
		ID:       "sink2",
		Kind:     graph.KindNegate,
		Metadata: map[string]any{graph.MetaIsOutput: true},
	})
	addEdge(t, g, edgeTo("e3", "k", "sink1", ""))
	addEdge(t, g, edgeTo("e4", "k", "sink2", ""))

	res, err := NewCSE().Apply(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, res.Modified)
}

// TestCSE_ChainConverges verifies layered duplicates collapse across
// iterations within one application.
func TestCSE_ChainConverges(t *testing.T) {
	g := graph.New()
	addNode(t, g, opNode("x", graph.KindInput))
	addNode(t, g, opNode("n1", graph.KindNegate))
	addNode(t, g, opNode("n2", graph.KindNegate))
	addNode(t, g, opNode("m1", graph.KindNegate))
	addNode(t, g, opNode("m2", graph.KindNegate))
	addNode(t, g, opNode("out", graph.KindOutput))
	addEdge(t, g, edgeTo("e1", "x", "n1", ""))
	addEdge(t, g, edgeTo("e2", "x", "n2", ""))
	addEdge(t, g, edgeTo("e3", "n1", "m1", ""))
	addEdge(t, g, edgeTo("e4", "n2", "m2", ""))
	addEdge(t, g, edgeTo("e5", "m1", "out", "p"))
	addEdge(t, g, edgeTo("e6", "m2", "out", "q"))

	res, err := NewCSE().Apply(context.Background(), g)
	require.NoError(t, err)
	require.True(t, res.Modified)
	assert.Equal(t, 3, res.Iterations)

	assert.False(t, res.Graph.HasNode("n2"))
	assert.False(t, res.Graph.HasNode("m2"))
	inbound := res.Graph.Incoming("out")
	require.Len(t, inbound, 2)
	for _, e := range inbound {
		assert.Equal(t, "m1", e.From)
	}
}

// TestCSE_Idempotent verifies reapplying the pass to its own output
// changes nothing.
func TestCSE_Idempotent(t *testing.T) {
	g := graph.New()
	addNode(t, g, constant("k1", 5))
	addNode(t, g, constant("k2", 5))

	pass := NewCSE()
	res, err := pass.Apply(context.Background(), g)
	require.NoError(t, err)
	require.True(t, res.Modified)

	again, err := pass.Apply(context.Background(), res.Graph)
	require.NoError(t, err)
	assert.False(t, again.Modified)
	assert.Same(t, res.Graph, again.Graph)
}
