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

// Clone creates a deep copy of the graph.
//
// Description:
//
//	Creates an independent copy that can be modified without affecting
//	the original. Passes use this for their copy-on-write contract;
//	checkpoints clone before freezing the snapshot.
//
// Outputs:
//
//	*Graph - A deep copy. Always in GraphStateBuilding, regardless of the
//	         source state, so clones of frozen snapshots are mutable.
//
// Behavior:
//
//   - Nodes are deep copied, including Metadata maps and Sub graphs
//   - Edges are deep copied, including Metadata maps
//   - Adjacency references are rebuilt against the cloned nodes
//   - Insertion order is preserved
func (g *Graph) Clone() *Graph {
	clone := &Graph{
		nodes:     make(map[string]*Node, len(g.nodes)),
		edges:     make(map[string]*Edge, len(g.edges)),
		nodeOrder: make([]string, len(g.nodeOrder)),
		edgeOrder: make([]string, len(g.edgeOrder)),
		state:     GraphStateBuilding,
		options:   g.options,
	}
	copy(clone.nodeOrder, g.nodeOrder)
	copy(clone.edgeOrder, g.edgeOrder)

	// First pass: clone all nodes.
	for _, id := range g.nodeOrder {
		node := g.nodes[id]
		cloned := &Node{
			ID:       node.ID,
			Kind:     node.Kind,
			Value:    node.Value,
			Metadata: cloneMetadata(node.Metadata),
			Outgoing: make([]*Edge, 0, len(node.Outgoing)),
			Incoming: make([]*Edge, 0, len(node.Incoming)),
		}
		if node.Sub != nil {
			cloned.Sub = node.Sub.Clone()
		}
		clone.nodes[id] = cloned
	}

	// Second pass: clone edges and rebuild adjacency references.
	for _, id := range g.edgeOrder {
		edge := g.edges[id]
		cloned := &Edge{
			ID:       edge.ID,
			From:     edge.From,
			To:       edge.To,
			FromPort: edge.FromPort,
			ToPort:   edge.ToPort,
			Kind:     edge.Kind,
			Metadata: cloneMetadata(edge.Metadata),
		}
		clone.edges[id] = cloned

		if fromNode, ok := clone.nodes[edge.From]; ok {
			fromNode.Outgoing = append(fromNode.Outgoing, cloned)
		}
		if toNode, ok := clone.nodes[edge.To]; ok {
			toNode.Incoming = append(toNode.Incoming, cloned)
		}
	}

	return clone
}

// cloneMetadata shallow-copies a metadata map. Values are shared; the
// engine treats metadata values as immutable once attached.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cloned := make(map[string]any, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Equal reports whether two graphs hold the same node and edge sets.
//
// Description:
//
//	Compares node IDs, kinds and values, edge IDs, endpoints, ports and
//	kinds. Metadata maps are compared by key set and scalar equality.
//	Insertion order and lifecycle state are NOT compared; a checkpoint
//	round-trip preserves contents, which is what this verifies.
func (g *Graph) Equal(other *Graph) bool {
	if other == nil {
		return false
	}
	if len(g.nodes) != len(other.nodes) || len(g.edges) != len(other.edges) {
		return false
	}

	for id, node := range g.nodes {
		o, ok := other.nodes[id]
		if !ok {
			return false
		}
		if node.Kind != o.Kind || !scalarEqual(node.Value, o.Value) {
			return false
		}
		if !metadataEqual(node.Metadata, o.Metadata) {
			return false
		}
		if (node.Sub == nil) != (o.Sub == nil) {
			return false
		}
		if node.Sub != nil && !node.Sub.Equal(o.Sub) {
			return false
		}
	}

	for id, edge := range g.edges {
		o, ok := other.edges[id]
		if !ok {
			return false
		}
		if edge.From != o.From || edge.To != o.To {
			return false
		}
		if edge.FromPort != o.FromPort || edge.ToPort != o.ToPort || edge.Kind != o.Kind {
			return false
		}
		if !metadataEqual(edge.Metadata, o.Metadata) {
			return false
		}
	}

	return true
}

// metadataEqual compares two metadata maps by key set and scalar values.
// Empty and nil maps compare equal.
func metadataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !scalarEqual(va, vb) {
			return false
		}
	}
	return true
}

// scalarEqual compares two metadata or node values. Numeric values
// compare across int/int64/float64; everything else uses ==, with
// non-comparable values treated as unequal.
func scalarEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()

	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	return a == b
}

// toFloat normalizes numeric values to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
