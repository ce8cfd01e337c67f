// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the compute-graph store: a mutable node/edge
// intermediate representation with mutation primitives, deterministic
// iteration, deep cloning, and a freeze lifecycle.
//
// Ownership Model:
//
//	The graph owns its nodes and edges after AddNode/AddEdge. Callers must
//	not mutate a Node or Edge once it has been added; mutation happens
//	through the graph's own methods so the adjacency indexes and insertion
//	order stay consistent.
//
// Thread Safety:
//
//	Graph is NOT safe for concurrent use. It is designed for a single
//	logical owner per instance. After Freeze() the graph is read-only and
//	can be shared across goroutines for reads.
//
// Lifecycle:
//
//  1. Create with New()
//  2. Mutate with AddNode/AddEdge/RemoveNode/RemoveEdge/Clear
//  3. Optionally Freeze() to make the graph immutable (snapshots do this)
//  4. Query with GetNode(), Nodes(), Outgoing(), Stats(), etc.
package graph

import "errors"

// Sentinel errors for graph operations. Callers should use errors.Is to
// check for these conditions.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrNodeNotFound is returned when a referenced node doesn't exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound is returned when a referenced edge doesn't exist.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrDuplicateNode is returned when adding a node with an existing ID.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrDuplicateEdge is returned when adding an edge with an existing ID.
	ErrDuplicateEdge = errors.New("duplicate edge ID")

	// ErrInvalidNode is returned when a node is nil or has an empty ID.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidEdge is returned when an edge is nil or has an empty ID.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrMaxNodesExceeded is returned when the graph reaches max node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the graph reaches max edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrDanglingEdge is returned by Validate when an edge references a
	// node that is not present in the graph.
	ErrDanglingEdge = errors.New("edge references missing node")
)
