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

import "fmt"

// Nodes returns an iterator over all nodes in insertion order.
//
// Description:
//
//	Insertion order is the canonical iteration order; passes rely on it
//	for deterministic "first node wins" tie-breaks.
//
// Example:
//
//	for id, node := range g.Nodes() {
//	    fmt.Printf("node %s kind=%s\n", id, node.Kind)
//	}
func (g *Graph) Nodes() func(yield func(string, *Node) bool) {
	return func(yield func(string, *Node) bool) {
		for _, id := range g.nodeOrder {
			if !yield(id, g.nodes[id]) {
				return
			}
		}
	}
}

// Edges returns an iterator over all edges in insertion order.
func (g *Graph) Edges() func(yield func(string, *Edge) bool) {
	return func(yield func(string, *Edge) bool) {
		for _, id := range g.edgeOrder {
			if !yield(id, g.edges[id]) {
				return
			}
		}
	}
}

// NodeIDs returns all node IDs in insertion order. The returned slice is
// a copy and safe to retain.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.nodeOrder))
	copy(ids, g.nodeOrder)
	return ids
}

// EdgeIDs returns all edge IDs in insertion order. The returned slice is
// a copy and safe to retain.
func (g *Graph) EdgeIDs() []string {
	ids := make([]string, len(g.edgeOrder))
	copy(ids, g.edgeOrder)
	return ids
}

// Outgoing returns the edges whose source is the given node, in the
// order they were added. The returned slice is a copy; the edges are not.
func (g *Graph) Outgoing(id string) []*Edge {
	node, exists := g.nodes[id]
	if !exists {
		return nil
	}
	out := make([]*Edge, len(node.Outgoing))
	copy(out, node.Outgoing)
	return out
}

// Incoming returns the edges whose target is the given node, in the
// order they were added. The returned slice is a copy; the edges are not.
func (g *Graph) Incoming(id string) []*Edge {
	node, exists := g.nodes[id]
	if !exists {
		return nil
	}
	in := make([]*Edge, len(node.Incoming))
	copy(in, node.Incoming)
	return in
}

// OutDegree returns the number of outgoing edges for a node, or 0 if the
// node does not exist.
func (g *Graph) OutDegree(id string) int {
	node, exists := g.nodes[id]
	if !exists {
		return 0
	}
	return len(node.Outgoing)
}

// InDegree returns the number of incoming edges for a node, or 0 if the
// node does not exist.
func (g *Graph) InDegree(id string) int {
	node, exists := g.nodes[id]
	if !exists {
		return 0
	}
	return len(node.Incoming)
}

// OutputNodes returns the IDs of all nodes flagged as outputs, in
// insertion order.
func (g *Graph) OutputNodes() []string {
	outputs := make([]string, 0)
	for _, id := range g.nodeOrder {
		if g.nodes[id].IsOutput() {
			outputs = append(outputs, id)
		}
	}
	return outputs
}

// Stats returns summary statistics about the graph.
func (g *Graph) Stats() Stats {
	byKind := make(map[NodeKind]int)
	for _, node := range g.nodes {
		byKind[node.Kind]++
	}

	return Stats{
		Name:        g.options.Name,
		NodeCount:   len(g.nodes),
		EdgeCount:   len(g.edges),
		NodesByKind: byKind,
		MaxNodes:    g.options.MaxNodes,
		MaxEdges:    g.options.MaxEdges,
		State:       g.state,
	}
}

// Validate checks structural invariants.
//
// Description:
//
//	Verifies that every edge references nodes present in the graph, that
//	the insertion-order slices agree with the id maps, and that adjacency
//	slices contain exactly the edges the edge map holds for each node.
//	Used by tests and by rollback verification.
//
// Outputs:
//
//	error - Non-nil describing the first inconsistency found.
func (g *Graph) Validate() error {
	if len(g.nodeOrder) != len(g.nodes) {
		return fmt.Errorf("node order length %d != node count %d", len(g.nodeOrder), len(g.nodes))
	}
	if len(g.edgeOrder) != len(g.edges) {
		return fmt.Errorf("edge order length %d != edge count %d", len(g.edgeOrder), len(g.edges))
	}

	for _, id := range g.nodeOrder {
		if _, ok := g.nodes[id]; !ok {
			return fmt.Errorf("%w: ordered node %s missing from map", ErrNodeNotFound, id)
		}
	}

	for _, id := range g.edgeOrder {
		edge, ok := g.edges[id]
		if !ok {
			return fmt.Errorf("%w: ordered edge %s missing from map", ErrEdgeNotFound, id)
		}
		if _, ok := g.nodes[edge.From]; !ok {
			return fmt.Errorf("%w: edge %s source %s", ErrDanglingEdge, edge.ID, edge.From)
		}
		if _, ok := g.nodes[edge.To]; !ok {
			return fmt.Errorf("%w: edge %s target %s", ErrDanglingEdge, edge.ID, edge.To)
		}
	}

	for id, node := range g.nodes {
		for _, e := range node.Outgoing {
			if e.From != id {
				return fmt.Errorf("node %s outgoing edge %s has source %s", id, e.ID, e.From)
			}
			if _, ok := g.edges[e.ID]; !ok {
				return fmt.Errorf("%w: adjacency edge %s not in edge map", ErrEdgeNotFound, e.ID)
			}
		}
		for _, e := range node.Incoming {
			if e.To != id {
				return fmt.Errorf("node %s incoming edge %s has target %s", id, e.ID, e.To)
			}
			if _, ok := g.edges[e.ID]; !ok {
				return fmt.Errorf("%w: adjacency edge %s not in edge map", ErrEdgeNotFound, e.ID)
			}
		}
	}

	return nil
}
