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

// NodeKind identifies the operation a node performs.
//
// The set is open: the constants below are the kinds the optimizer
// understands, but callers may introduce their own kinds for domain
// nodes the engine treats as opaque.
type NodeKind string

// Node kinds understood by the engine.
const (
	// KindConstant is a node carrying a literal value.
	KindConstant NodeKind = "Constant"

	// Arithmetic operations.
	KindAdd      NodeKind = "Add"
	KindSubtract NodeKind = "Subtract"
	KindMultiply NodeKind = "Multiply"
	KindDivide   NodeKind = "Divide"
	KindModulo   NodeKind = "Modulo"
	KindNegate   NodeKind = "Negate"

	// Boolean operations.
	KindAnd NodeKind = "And"
	KindOr  NodeKind = "Or"
	KindNot NodeKind = "Not"

	// Comparison operations.
	KindEqual        NodeKind = "Equal"
	KindNotEqual     NodeKind = "NotEqual"
	KindLess         NodeKind = "Less"
	KindLessEqual    NodeKind = "LessEqual"
	KindGreater      NodeKind = "Greater"
	KindGreaterEqual NodeKind = "GreaterEqual"

	// Bit shifts, produced by strength reduction.
	KindShiftLeft  NodeKind = "ShiftLeft"
	KindShiftRight NodeKind = "ShiftRight"

	// Boundary markers inside subgraphs.
	KindInput  NodeKind = "Input"
	KindOutput NodeKind = "Output"

	// Inlinable container kinds.
	KindSubGraph NodeKind = "SubGraph"
	KindFunction NodeKind = "Function"
)

var declaredKinds = map[NodeKind]bool{
	KindConstant:     true,
	KindAdd:          true,
	KindSubtract:     true,
	KindMultiply:     true,
	KindDivide:       true,
	KindModulo:       true,
	KindNegate:       true,
	KindAnd:          true,
	KindOr:           true,
	KindNot:          true,
	KindEqual:        true,
	KindNotEqual:     true,
	KindLess:         true,
	KindLessEqual:    true,
	KindGreater:      true,
	KindGreaterEqual: true,
	KindShiftLeft:    true,
	KindShiftRight:   true,
	KindInput:        true,
	KindOutput:       true,
	KindSubGraph:     true,
	KindFunction:     true,
}

// IsDeclaredKind reports whether k is one of the kinds this package
// declares. Caller-defined kinds return false.
func IsDeclaredKind(k NodeKind) bool {
	return declaredKinds[k]
}

// EdgeKind classifies a connection. The zero value means untyped; the
// set is open so callers can define their own relationship kinds.
type EdgeKind string

// GraphState represents the lifecycle state of a graph.
type GraphState int

const (
	// GraphStateBuilding means the graph accepts mutations.
	GraphStateBuilding GraphState = iota

	// GraphStateFrozen means the graph is read-only.
	GraphStateFrozen
)

// String returns a human-readable state name.
func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// MetaIsOutput is the metadata key that flags a node as a graph output
// for liveness purposes, in addition to KindOutput.
const MetaIsOutput = "isOutput"

// Node is a single operation in the compute graph.
//
// Description:
//
//	A node carries an operation kind, an optional literal value (constant
//	nodes, shift amounts), free-form metadata, and for SubGraph/Function
//	kinds an embedded subgraph. Adjacency lives on the node as Outgoing
//	and Incoming edge slices maintained by the graph.
//
// Ownership:
//
//	Owned by the graph after AddNode. Outgoing/Incoming are maintained by
//	the graph and must not be modified directly.
type Node struct {
	// ID uniquely identifies the node within its graph.
	ID string

	// Kind is the operation this node performs.
	Kind NodeKind

	// Value holds the literal for constant-valued nodes and the shift
	// amount for ShiftLeft/ShiftRight. Nil for operation nodes.
	Value any

	// Metadata carries free-form annotations: provenance, timestamps,
	// the output-marker flag, fold/reduction provenance.
	Metadata map[string]any

	// Sub is the embedded subgraph for SubGraph/Function nodes.
	Sub *Graph

	// Outgoing contains edges where this node is the source.
	Outgoing []*Edge

	// Incoming contains edges where this node is the target.
	Incoming []*Edge
}

// IsOutput reports whether the node marks a graph output, either by
// kind or by the isOutput metadata flag.
func (n *Node) IsOutput() bool {
	if n.Kind == KindOutput {
		return true
	}
	if n.Metadata == nil {
		return false
	}
	flag, ok := n.Metadata[MetaIsOutput].(bool)
	return ok && flag
}

// Edge is a directed, port-addressed connection between two nodes.
type Edge struct {
	// ID uniquely identifies the edge within its graph.
	ID string

	// From is the source node ID.
	From string

	// To is the target node ID.
	To string

	// FromPort names the output port on the source node.
	FromPort string

	// ToPort names the input port on the target node.
	ToPort string

	// Kind is the optional connection kind. Empty means untyped.
	Kind EdgeKind

	// Metadata carries free-form annotations such as weight and label.
	Metadata map[string]any
}

// Weight returns the edge's numeric weight annotation, or 1 when absent
// or non-numeric.
func (e *Edge) Weight() float64 {
	if e.Metadata == nil {
		return 1
	}
	switch v := e.Metadata["weight"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 1
	}
}

// Stats contains summary statistics about a graph.
type Stats struct {
	// Name is the graph's configured name.
	Name string

	// NodeCount is the total number of nodes.
	NodeCount int

	// EdgeCount is the total number of edges.
	EdgeCount int

	// NodesByKind maps each node kind to its count.
	NodesByKind map[NodeKind]int

	// MaxNodes is the configured node capacity.
	MaxNodes int

	// MaxEdges is the configured edge capacity.
	MaxEdges int

	// State is the lifecycle state at collection time.
	State GraphState
}
