// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"testing"
)

// makeNode creates a minimal test node.
func makeNode(id string, kind NodeKind) *Node {
	return &Node{ID: id, Kind: kind}
}

// makeEdge creates a minimal test edge.
func makeEdge(id, from, to string) *Edge {
	return &Edge{ID: id, From: from, To: to}
}

// buildChain constructs a -> b -> out with out flagged as output.
func buildChain(t *testing.T) *Graph {
	t.Helper()
	g := New()
	for _, n := range []*Node{
		makeNode("a", KindConstant),
		makeNode("b", KindAdd),
		makeNode("out", KindOutput),
	} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s) failed: %v", n.ID, err)
		}
	}
	for _, e := range []*Edge{
		makeEdge("e1", "a", "b"),
		makeEdge("e2", "b", "out"),
	} {
		if err := g.AddEdge(e); err != nil {
			t.Fatalf("AddEdge(%s) failed: %v", e.ID, err)
		}
	}
	return g
}

func TestGraphState_String(t *testing.T) {
	tests := []struct {
		state    GraphState
		expected string
	}{
		{GraphStateBuilding, "building"},
		{GraphStateFrozen, "frozen"},
		{GraphState(99), "unknown"},
	}

	for _, tc := range tests {
		got := tc.state.String()
		if got != tc.expected {
			t.Errorf("GraphState(%d).String() = %q, expected %q", tc.state, got, tc.expected)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		g := New()

		if g.State() != GraphStateBuilding {
			t.Errorf("State = %v, expected building", g.State())
		}
		if g.NodeCount() != 0 || g.EdgeCount() != 0 {
			t.Errorf("new graph not empty: %d nodes, %d edges", g.NodeCount(), g.EdgeCount())
		}
		stats := g.Stats()
		if stats.MaxNodes != DefaultMaxNodes {
			t.Errorf("MaxNodes = %d, expected %d", stats.MaxNodes, DefaultMaxNodes)
		}
	})

	t.Run("custom options", func(t *testing.T) {
		g := New(WithName("chain"), WithMaxNodes(2), WithMaxEdges(1))

		if g.Name() != "chain" {
			t.Errorf("Name = %q, expected chain", g.Name())
		}
		if err := g.AddNode(makeNode("a", KindConstant)); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		if err := g.AddNode(makeNode("b", KindConstant)); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		if err := g.AddNode(makeNode("c", KindConstant)); !errors.Is(err, ErrMaxNodesExceeded) {
			t.Errorf("expected ErrMaxNodesExceeded, got %v", err)
		}
	})
}

func TestGraph_AddNode(t *testing.T) {
	tests := []struct {
		name    string
		node    *Node
		wantErr error
	}{
		{"valid node", makeNode("n1", KindAdd), nil},
		{"nil node", nil, ErrInvalidNode},
		{"empty id", makeNode("", KindAdd), ErrInvalidNode},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := New()
			err := g.AddNode(tc.node)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("AddNode returned %v, expected nil", err)
				}
				if g.NodeCount() != 1 {
					t.Errorf("NodeCount = %d, expected 1", g.NodeCount())
				}
			} else if !errors.Is(err, tc.wantErr) {
				t.Errorf("AddNode returned %v, expected %v", err, tc.wantErr)
			}
		})
	}

	t.Run("duplicate id", func(t *testing.T) {
		g := New()
		if err := g.AddNode(makeNode("n1", KindAdd)); err != nil {
			t.Fatalf("first AddNode failed: %v", err)
		}
		err := g.AddNode(makeNode("n1", KindConstant))
		if !errors.Is(err, ErrDuplicateNode) {
			t.Errorf("expected ErrDuplicateNode, got %v", err)
		}
	})
}

func TestGraph_AddEdge(t *testing.T) {
	t.Run("valid edge", func(t *testing.T) {
		g := buildChain(t)
		if g.EdgeCount() != 2 {
			t.Errorf("EdgeCount = %d, expected 2", g.EdgeCount())
		}
		if got := g.OutDegree("a"); got != 1 {
			t.Errorf("OutDegree(a) = %d, expected 1", got)
		}
		if got := g.InDegree("out"); got != 1 {
			t.Errorf("InDegree(out) = %d, expected 1", got)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		g := New()
		if err := g.AddNode(makeNode("b", KindAdd)); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		err := g.AddEdge(makeEdge("e1", "missing", "b"))
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", err)
		}
		if g.EdgeCount() != 0 {
			t.Errorf("dangling edge was stored: EdgeCount = %d", g.EdgeCount())
		}
	})

	t.Run("missing target", func(t *testing.T) {
		g := New()
		if err := g.AddNode(makeNode("a", KindAdd)); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		err := g.AddEdge(makeEdge("e1", "a", "missing"))
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", err)
		}
	})

	t.Run("duplicate edge id", func(t *testing.T) {
		g := buildChain(t)
		err := g.AddEdge(makeEdge("e1", "a", "out"))
		if !errors.Is(err, ErrDuplicateEdge) {
			t.Errorf("expected ErrDuplicateEdge, got %v", err)
		}
	})

	t.Run("self loop allowed", func(t *testing.T) {
		g := New()
		if err := g.AddNode(makeNode("a", KindAdd)); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		if err := g.AddEdge(makeEdge("loop", "a", "a")); err != nil {
			t.Fatalf("self loop rejected: %v", err)
		}
		if g.OutDegree("a") != 1 || g.InDegree("a") != 1 {
			t.Errorf("self loop adjacency wrong: out=%d in=%d", g.OutDegree("a"), g.InDegree("a"))
		}
	})
}

func TestGraph_RemoveNode(t *testing.T) {
	t.Run("cascades incident edges", func(t *testing.T) {
		g := buildChain(t)

		if err := g.RemoveNode("b"); err != nil {
			t.Fatalf("RemoveNode failed: %v", err)
		}

		if g.NodeCount() != 2 {
			t.Errorf("NodeCount = %d, expected 2", g.NodeCount())
		}
		if g.EdgeCount() != 0 {
			t.Errorf("EdgeCount = %d, expected 0 after cascade", g.EdgeCount())
		}
		if g.OutDegree("a") != 0 {
			t.Errorf("peer adjacency not cleaned: OutDegree(a) = %d", g.OutDegree("a"))
		}
		if g.InDegree("out") != 0 {
			t.Errorf("peer adjacency not cleaned: InDegree(out) = %d", g.InDegree("out"))
		}
		if err := g.Validate(); err != nil {
			t.Errorf("Validate after remove: %v", err)
		}
	})

	t.Run("missing node", func(t *testing.T) {
		g := New()
		err := g.RemoveNode("ghost")
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", err)
		}
	})

	t.Run("self loop node", func(t *testing.T) {
		g := New()
		if err := g.AddNode(makeNode("a", KindAdd)); err != nil {
			t.Fatalf("AddNode failed: %v", err)
		}
		if err := g.AddEdge(makeEdge("loop", "a", "a")); err != nil {
			t.Fatalf("AddEdge failed: %v", err)
		}
		if err := g.RemoveNode("a"); err != nil {
			t.Fatalf("RemoveNode failed: %v", err)
		}
		if g.NodeCount() != 0 || g.EdgeCount() != 0 {
			t.Errorf("graph not empty: %d nodes, %d edges", g.NodeCount(), g.EdgeCount())
		}
	})
}

func TestGraph_RemoveEdge(t *testing.T) {
	g := buildChain(t)

	if err := g.RemoveEdge("e1"); err != nil {
		t.Fatalf("RemoveEdge failed: %v", err)
	}
	if g.EdgeCount() != 1 {
		t.Errorf("EdgeCount = %d, expected 1", g.EdgeCount())
	}
	if g.OutDegree("a") != 0 {
		t.Errorf("OutDegree(a) = %d, expected 0", g.OutDegree("a"))
	}

	if err := g.RemoveEdge("e1"); !errors.Is(err, ErrEdgeNotFound) {
		t.Errorf("expected ErrEdgeNotFound, got %v", err)
	}
}

func TestGraph_Clear(t *testing.T) {
	g := buildChain(t)

	if err := g.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if g.NodeCount() != 0 || g.EdgeCount() != 0 {
		t.Errorf("graph not empty after Clear: %d nodes, %d edges", g.NodeCount(), g.EdgeCount())
	}

	// Graph is reusable after Clear.
	if err := g.AddNode(makeNode("x", KindConstant)); err != nil {
		t.Errorf("AddNode after Clear failed: %v", err)
	}
}

func TestGraph_Freeze(t *testing.T) {
	g := buildChain(t)
	g.Freeze()

	if !g.IsFrozen() {
		t.Fatal("IsFrozen = false after Freeze")
	}
	if g.FrozenAtMilli == 0 {
		t.Error("FrozenAtMilli not set")
	}

	mutations := []struct {
		name string
		op   func() error
	}{
		{"AddNode", func() error { return g.AddNode(makeNode("z", KindAdd)) }},
		{"AddEdge", func() error { return g.AddEdge(makeEdge("e9", "a", "b")) }},
		{"RemoveNode", func() error { return g.RemoveNode("a") }},
		{"RemoveEdge", func() error { return g.RemoveEdge("e1") }},
		{"Clear", func() error { return g.Clear() }},
	}

	for _, tc := range mutations {
		if err := tc.op(); !errors.Is(err, ErrGraphFrozen) {
			t.Errorf("%s on frozen graph returned %v, expected ErrGraphFrozen", tc.name, err)
		}
	}
}

func TestGraph_InsertionOrder(t *testing.T) {
	g := New()
	ids := []string{"m", "a", "z", "b"}
	for _, id := range ids {
		if err := g.AddNode(makeNode(id, KindConstant)); err != nil {
			t.Fatalf("AddNode(%s) failed: %v", id, err)
		}
	}

	var got []string
	for id := range g.Nodes() {
		got = append(got, id)
	}

	if len(got) != len(ids) {
		t.Fatalf("iterated %d nodes, expected %d", len(got), len(ids))
	}
	for i, id := range ids {
		if got[i] != id {
			t.Errorf("position %d: got %s, expected %s", i, got[i], id)
		}
	}

	// Removal keeps the relative order of the survivors.
	if err := g.RemoveNode("a"); err != nil {
		t.Fatalf("RemoveNode failed: %v", err)
	}
	want := []string{"m", "z", "b"}
	got = g.NodeIDs()
	for i, id := range want {
		if got[i] != id {
			t.Errorf("after removal, position %d: got %s, expected %s", i, got[i], id)
		}
	}
}

func TestGraph_Clone(t *testing.T) {
	g := buildChain(t)
	g.nodes["a"].Value = 2.0
	g.nodes["a"].Metadata = map[string]any{"source": "test"}

	clone := g.Clone()

	if !g.Equal(clone) {
		t.Fatal("clone not equal to original")
	}
	if clone.IsFrozen() {
		t.Error("clone should be mutable")
	}

	// Mutating the clone must not affect the original.
	if err := clone.RemoveNode("b"); err != nil {
		t.Fatalf("RemoveNode on clone failed: %v", err)
	}
	if g.NodeCount() != 3 {
		t.Errorf("original mutated through clone: NodeCount = %d", g.NodeCount())
	}
	if g.EdgeCount() != 2 {
		t.Errorf("original mutated through clone: EdgeCount = %d", g.EdgeCount())
	}

	// Metadata maps must be independent.
	clone2 := g.Clone()
	clone2.nodes["a"].Metadata["source"] = "changed"
	if g.nodes["a"].Metadata["source"] != "test" {
		t.Error("metadata shared between graph and clone")
	}

	// Insertion order survives cloning.
	gotIDs := g.Clone().NodeIDs()
	wantIDs := []string{"a", "b", "out"}
	for i, id := range wantIDs {
		if gotIDs[i] != id {
			t.Errorf("clone order position %d: got %s, expected %s", i, gotIDs[i], id)
		}
	}
}

func TestGraph_CloneSubgraph(t *testing.T) {
	inner := New()
	if err := inner.AddNode(makeNode("in", KindInput)); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	g := New()
	host := makeNode("host", KindSubGraph)
	host.Sub = inner
	if err := g.AddNode(host); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	clone := g.Clone()
	clonedHost, _ := clone.GetNode("host")
	if clonedHost.Sub == nil {
		t.Fatal("subgraph not cloned")
	}
	if clonedHost.Sub == inner {
		t.Error("subgraph shared between graph and clone")
	}
	if clonedHost.Sub.NodeCount() != 1 {
		t.Errorf("cloned subgraph NodeCount = %d, expected 1", clonedHost.Sub.NodeCount())
	}
}

func TestGraph_Equal(t *testing.T) {
	g1 := buildChain(t)
	g2 := buildChain(t)

	if !g1.Equal(g2) {
		t.Error("identical graphs reported unequal")
	}

	g2.nodes["a"].Value = 7.0
	if g1.Equal(g2) {
		t.Error("graphs with different values reported equal")
	}

	// Numeric values compare across int and float64.
	g1.nodes["a"].Value = 7
	if !g1.Equal(g2) {
		t.Error("int 7 and float64 7 should compare equal")
	}

	if g1.Equal(nil) {
		t.Error("Equal(nil) = true")
	}
}

func TestGraph_Validate(t *testing.T) {
	g := buildChain(t)
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate on healthy graph: %v", err)
	}

	// Corrupt the graph directly to simulate a dangling edge.
	delete(g.nodes, "b")
	g.nodeOrder = filterIDs(g.nodeOrder, map[string]bool{"b": true})
	err := g.Validate()
	if !errors.Is(err, ErrDanglingEdge) {
		t.Errorf("expected ErrDanglingEdge, got %v", err)
	}
}

func TestNode_IsOutput(t *testing.T) {
	tests := []struct {
		name     string
		node     *Node
		expected bool
	}{
		{"output kind", makeNode("o", KindOutput), true},
		{"plain node", makeNode("a", KindAdd), false},
		{"metadata flag", &Node{ID: "m", Kind: KindAdd, Metadata: map[string]any{MetaIsOutput: true}}, true},
		{"metadata flag false", &Node{ID: "m", Kind: KindAdd, Metadata: map[string]any{MetaIsOutput: false}}, false},
		{"metadata flag wrong type", &Node{ID: "m", Kind: KindAdd, Metadata: map[string]any{MetaIsOutput: "yes"}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.node.IsOutput(); got != tc.expected {
				t.Errorf("IsOutput = %v, expected %v", got, tc.expected)
			}
		})
	}
}

func TestEdge_Weight(t *testing.T) {
	tests := []struct {
		name     string
		edge     *Edge
		expected float64
	}{
		{"no metadata", &Edge{ID: "e"}, 1},
		{"float weight", &Edge{ID: "e", Metadata: map[string]any{"weight": 2.5}}, 2.5},
		{"int weight", &Edge{ID: "e", Metadata: map[string]any{"weight": 3}}, 3},
		{"non numeric", &Edge{ID: "e", Metadata: map[string]any{"weight": "heavy"}}, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.edge.Weight(); got != tc.expected {
				t.Errorf("Weight = %v, expected %v", got, tc.expected)
			}
		})
	}
}

func TestGraph_Stats(t *testing.T) {
	g := buildChain(t)
	stats := g.Stats()

	if stats.NodeCount != 3 || stats.EdgeCount != 2 {
		t.Errorf("Stats counts = %d/%d, expected 3/2", stats.NodeCount, stats.EdgeCount)
	}
	if stats.NodesByKind[KindConstant] != 1 {
		t.Errorf("NodesByKind[Constant] = %d, expected 1", stats.NodesByKind[KindConstant])
	}
	if stats.NodesByKind[KindOutput] != 1 {
		t.Errorf("NodesByKind[Output] = %d, expected 1", stats.NodesByKind[KindOutput])
	}
}

func TestGraph_OutputNodes(t *testing.T) {
	g := buildChain(t)
	flagged := makeNode("flagged", KindAdd)
	flagged.Metadata = map[string]any{MetaIsOutput: true}
	if err := g.AddNode(flagged); err != nil {
		t.Fatalf("AddNode failed: %v", err)
	}

	outputs := g.OutputNodes()
	if len(outputs) != 2 {
		t.Fatalf("OutputNodes = %v, expected 2 entries", outputs)
	}
	if outputs[0] != "out" || outputs[1] != "flagged" {
		t.Errorf("OutputNodes order = %v, expected [out flagged]", outputs)
	}
}

func TestIsDeclaredKind(t *testing.T) {
	for _, kind := range []NodeKind{KindConstant, KindAdd, KindShiftRight, KindFunction} {
		if !IsDeclaredKind(kind) {
			t.Errorf("IsDeclaredKind(%s) = false, expected true", kind)
		}
	}
	for _, kind := range []NodeKind{"", "custom", "add", "constant"} {
		if IsDeclaredKind(kind) {
			t.Errorf("IsDeclaredKind(%q) = true, expected false", kind)
		}
	}
}
