// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathexpr

import (
	"context"
	"fmt"
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

// matchGraph builds a diamond with typed edges out of the input:
// a -[feeds]-> b -> d and a -[meta]-> c -> d.
func matchGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New(graph.WithName("match"))
	addNode(t, g, &graph.Node{ID: "a", Kind: graph.KindInput})
	addNode(t, g, &graph.Node{ID: "b", Kind: graph.KindAdd})
	addNode(t, g, &graph.Node{ID: "c", Kind: graph.KindAdd})
	addNode(t, g, &graph.Node{ID: "d", Kind: graph.KindOutput})
	addEdge(t, g, &graph.Edge{ID: "e1", From: "a", To: "b", Kind: "feeds"})
	addEdge(t, g, &graph.Edge{ID: "e2", From: "a", To: "c", Kind: "meta"})
	addEdge(t, g, &graph.Edge{ID: "e3", From: "b", To: "d"})
	addEdge(t, g, &graph.Edge{ID: "e4", From: "c", To: "d"})
	return g
}

func matchIDs(set *MatchSet) [][]string {
	ids := make([][]string, len(set.Matches))
	for i, m := range set.Matches {
		ids[i] = m.NodeIDs
	}
	return ids
}

// TestFind_SingleNode verifies a bare pattern matches nodes as
// single-element paths.
func TestFind_SingleNode(t *testing.T) {
	g := matchGraph(t)

	set, err := Find(context.Background(), g, From("a"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, matchIDs(set))
	assert.False(t, set.Truncated)

	set, err = Find(context.Background(), g, From("Add"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b"}, {"c"}}, matchIDs(set))
}

// TestFind_SimpleStep verifies one-hop matching.
func TestFind_SimpleStep(t *testing.T) {
	g := matchGraph(t)

	set, err := Find(context.Background(), g, From("a->b"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From("a->z"))
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Empty(t, set.Matches)
}

// TestFind_Incoming verifies incoming hops follow edges backwards.
func TestFind_Incoming(t *testing.T) {
	g := matchGraph(t)

	set, err := Find(context.Background(), g, From("d<-b"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"d", "b"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From("d<-*"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"d", "b"}, {"d", "c"}}, matchIDs(set))
}

// TestFind_Both verifies bidirectional hops try outgoing edges first
// and dedupe nodes reachable both ways.
func TestFind_Both(t *testing.T) {
	g := matchGraph(t)
	set, err := Find(context.Background(), g, From("b<->*"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b", "d"}, {"b", "a"}}, matchIDs(set))

	g2 := graph.New()
	addNode(t, g2, &graph.Node{ID: "a", Kind: graph.KindAdd})
	addNode(t, g2, &graph.Node{ID: "b", Kind: graph.KindAdd})
	addEdge(t, g2, &graph.Edge{ID: "x1", From: "a", To: "b"})
	addEdge(t, g2, &graph.Edge{ID: "x2", From: "b", To: "a"})

	set, err = Find(context.Background(), g2, From("a<->b"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, matchIDs(set))
}

// TestFind_TypedEdge verifies edge kind restrictions.
func TestFind_TypedEdge(t *testing.T) {
	g := matchGraph(t)

	set, err := Find(context.Background(), g, From("a-[feeds]->*"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From("a-[meta]->*"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "c"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From("a-[absent]->*"))
	require.NoError(t, err)
	assert.Empty(t, set.Matches)
}

// TestFind_Wildcard verifies single-node wildcards bind intermediate
// nodes.
func TestFind_Wildcard(t *testing.T) {
	g := matchGraph(t)

	set, err := Find(context.Background(), g, From("a->*->d"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "d"}, {"a", "c", "d"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From("Input->Add->Output"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "d"}, {"a", "c", "d"}}, matchIDs(set))
}

// TestFind_AnyPath verifies variable-length runs respect their
// bounds.
func TestFind_AnyPath(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"a", "b", "c", "d"} {
		addNode(t, g, &graph.Node{ID: id, Kind: graph.KindAdd})
	}
	addEdge(t, g, &graph.Edge{ID: "e1", From: "a", To: "b"})
	addEdge(t, g, &graph.Edge{ID: "e2", From: "b", To: "c"})
	addEdge(t, g, &graph.Edge{ID: "e3", From: "c", To: "d"})

	set, err := Find(context.Background(), g, From("a->**{0,2}->d"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c", "d"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From("a->**{0,1}->d"))
	require.NoError(t, err)
	assert.Empty(t, set.Matches)

	set, err = Find(context.Background(), g, From("a->**->d"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b", "c", "d"}}, matchIDs(set))
}

// TestFind_AnyPathShortestFirst verifies zero-hop runs are tried
// before longer ones.
func TestFind_AnyPathShortestFirst(t *testing.T) {
	g := graph.New()
	for _, id := range []string{"a", "b", "d"} {
		addNode(t, g, &graph.Node{ID: id, Kind: graph.KindAdd})
	}
	addEdge(t, g, &graph.Edge{ID: "e1", From: "a", To: "d"})
	addEdge(t, g, &graph.Edge{ID: "e2", From: "a", To: "b"})
	addEdge(t, g, &graph.Edge{ID: "e3", From: "b", To: "d"})

	set, err := Find(context.Background(), g, From("a->**{0,5}->d"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "d"}, {"a", "b", "d"}}, matchIDs(set))
}

// TestFind_CycleSafe verifies per-path visited sets terminate on
// cycles.
func TestFind_CycleSafe(t *testing.T) {
	g := graph.New()
	addNode(t, g, &graph.Node{ID: "a", Kind: graph.KindAdd})
	addNode(t, g, &graph.Node{ID: "b", Kind: graph.KindAdd})
	addEdge(t, g, &graph.Edge{ID: "e1", From: "a", To: "b"})
	addEdge(t, g, &graph.Edge{ID: "e2", From: "b", To: "a"})

	set, err := Find(context.Background(), g, From("a->**->b"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, matchIDs(set))
}

// TestFind_Constraints verifies constrained segments filter matches.
func TestFind_Constraints(t *testing.T) {
	g := graph.New()
	addNode(t, g, &graph.Node{ID: "k1", Kind: graph.KindConstant, Value: 5})
	addNode(t, g, &graph.Node{ID: "k2", Kind: graph.KindConstant, Value: 7})
	addNode(t, g, &graph.Node{
		ID:       "m1",
		Kind:     graph.KindAdd,
		Metadata: map[string]any{"region": "west"},
	})

	set, err := Find(context.Background(), g, From("Constant{value:5}"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"k1"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From(`m1{region:"west"}`))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"m1"}}, matchIDs(set))

	set, err = Find(context.Background(), g, From(`m1{region:"east"}`))
	require.NoError(t, err)
	assert.Empty(t, set.Matches)
}

// TestFind_MaxMatches verifies the result bound and exact truncation.
func TestFind_MaxMatches(t *testing.T) {
	g := graph.New()
	addNode(t, g, &graph.Node{ID: "a", Kind: graph.KindAdd})
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("x%d", i)
		addNode(t, g, &graph.Node{ID: id, Kind: graph.KindAdd})
		addEdge(t, g, &graph.Edge{ID: "e" + id, From: "a", To: id})
	}

	set, err := Find(context.Background(), g, From("a->*"), WithMaxMatches(3))
	require.NoError(t, err)
	assert.Len(t, set.Matches, 3)
	assert.True(t, set.Truncated)

	set, err = Find(context.Background(), g, From("a->*"), WithMaxMatches(5))
	require.NoError(t, err)
	assert.Len(t, set.Matches, 5)
	assert.False(t, set.Truncated)

	set, err = Find(context.Background(), g, From("a->*"))
	require.NoError(t, err)
	assert.Len(t, set.Matches, 5)
	assert.False(t, set.Truncated)
}

// TestFind_Errors verifies input validation.
func TestFind_Errors(t *testing.T) {
	g := matchGraph(t)

	_, err := Find(context.Background(), nil, From("a"))
	require.ErrorIs(t, err, ErrNilGraph)

	_, err = Find(context.Background(), g, From("A->"))
	require.ErrorIs(t, err, ErrInvalidExpression)

	_, err = Find(context.Background(), g, nil)
	require.ErrorIs(t, err, ErrInvalidExpression)
}

// TestFind_ContextCancelled verifies long searches notice
// cancellation.
func TestFind_ContextCancelled(t *testing.T) {
	g := graph.New()
	for i := 0; i < 150; i++ {
		addNode(t, g, &graph.Node{ID: fmt.Sprintf("n%d", i), Kind: graph.KindAdd})
	}
	for i := 1; i < 150; i++ {
		addEdge(t, g, &graph.Edge{
			ID:   fmt.Sprintf("e%d", i),
			From: fmt.Sprintf("n%d", i-1),
			To:   fmt.Sprintf("n%d", i),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Find(ctx, g, From("n0->**"))
	require.ErrorIs(t, err, context.Canceled)
}

// TestExists verifies the short-circuit variant.
func TestExists(t *testing.T) {
	g := matchGraph(t)

	ok, err := Exists(context.Background(), g, From("a->b"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(context.Background(), g, From("a->z"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Exists(context.Background(), g, From("A->"))
	require.ErrorIs(t, err, ErrInvalidExpression)

	_, err = Exists(context.Background(), nil, From("a"))
	require.ErrorIs(t, err, ErrNilGraph)
}
