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
	"fmt"
	"time"
)

// Default capacity limits for graph construction.
const (
	// DefaultMaxNodes is the default maximum number of nodes.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxEdges is the default maximum number of edges.
	DefaultMaxEdges = 10_000_000
)

// Options contains graph configuration.
type Options struct {
	// Name labels the graph in logs and stats.
	Name string

	// MaxNodes is the maximum number of nodes the graph can hold.
	// Default: 1,000,000
	MaxNodes int

	// MaxEdges is the maximum number of edges the graph can hold.
	// Default: 10,000,000
	MaxEdges int
}

// DefaultOptions returns sensible defaults for graph configuration.
func DefaultOptions() Options {
	return Options{
		MaxNodes: DefaultMaxNodes,
		MaxEdges: DefaultMaxEdges,
	}
}

// Option is a functional option for configuring Graph.
type Option func(*Options)

// WithName sets the graph's name.
func WithName(name string) Option {
	return func(o *Options) {
		o.Name = name
	}
}

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxNodes = n
		}
	}
}

// WithMaxEdges sets the maximum number of edges the graph can hold.
func WithMaxEdges(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxEdges = n
		}
	}
}

// Graph is the node/edge container for a compute graph.
//
// Description:
//
//	Nodes and edges are id-keyed; insertion order is preserved and is the
//	canonical tie-break for "first" in deduplication. The graph is not
//	required to be acyclic. Adjacency is maintained on the nodes as
//	Outgoing/Incoming edge slices.
//
// Thread Safety:
//
//	NOT safe for concurrent use. One logical owner per instance; after
//	Freeze() the graph is read-only and safe to share for reads.
type Graph struct {
	// nodes maps node ID to Node. Unexported to prevent direct access.
	nodes map[string]*Node

	// edges maps edge ID to Edge.
	edges map[string]*Edge

	// nodeOrder preserves node insertion order.
	nodeOrder []string

	// edgeOrder preserves edge insertion order.
	edgeOrder []string

	// state is the current lifecycle state.
	state GraphState

	// options contains configuration.
	options Options

	// FrozenAtMilli is the Unix timestamp in milliseconds when Freeze()
	// was called. Zero if the graph has not been frozen.
	FrozenAtMilli int64
}

// New creates a new empty graph.
//
// Description:
//
//	Creates a graph in the building state, ready to accept AddNode and
//	AddEdge calls.
//
// Inputs:
//
//	opts - Optional configuration options.
//
// Example:
//
//	// Default options
//	g := graph.New()
//
//	// Named, with custom limits
//	g := graph.New(
//	    graph.WithName("filter-chain"),
//	    graph.WithMaxNodes(100_000),
//	)
func New(opts ...Option) *Graph {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Graph{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*Edge),
		nodeOrder: make([]string, 0),
		edgeOrder: make([]string, 0),
		state:     GraphStateBuilding,
		options:   options,
	}
}

// Name returns the graph's configured name.
func (g *Graph) Name() string {
	return g.options.Name
}

// State returns the current lifecycle state of the graph.
func (g *Graph) State() GraphState {
	return g.state
}

// IsFrozen returns true if the graph is in read-only mode.
func (g *Graph) IsFrozen() bool {
	return g.state == GraphStateFrozen
}

// Freeze transitions the graph to read-only mode.
//
// Description:
//
//	After calling Freeze(), all mutation methods return ErrGraphFrozen.
//	This operation is irreversible on this instance; Clone() returns a
//	mutable copy. Checkpoints freeze their snapshots so a retained
//	snapshot can never drift.
func (g *Graph) Freeze() {
	g.state = GraphStateFrozen
	g.FrozenAtMilli = time.Now().UnixMilli()
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// AddNode adds a node to the graph.
//
// Description:
//
//	The node's ID must be unique within the graph. The graph takes
//	ownership; callers must not mutate the node after this call.
//
// Inputs:
//
//	node - The node to add. Must not be nil and must have a non-empty ID.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrInvalidNode - Node is nil or has an empty ID
//	ErrDuplicateNode - Node with same ID already exists
//	ErrMaxNodesExceeded - Graph is at node capacity
func (g *Graph) AddNode(node *Node) error {
	if g.state == GraphStateFrozen {
		return ErrGraphFrozen
	}

	if node == nil {
		return fmt.Errorf("%w: node is nil", ErrInvalidNode)
	}
	if node.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidNode)
	}

	if len(g.nodes) >= g.options.MaxNodes {
		return ErrMaxNodesExceeded
	}

	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}

	if node.Outgoing == nil {
		node.Outgoing = make([]*Edge, 0)
	}
	if node.Incoming == nil {
		node.Incoming = make([]*Edge, 0)
	}

	g.nodes[node.ID] = node
	g.nodeOrder = append(g.nodeOrder, node.ID)

	return nil
}

// AddEdge adds a directed edge between two existing nodes.
//
// Description:
//
//	Both endpoints must already exist in the graph; a dangling edge can
//	never be constructed. Multiple edges between the same nodes are
//	allowed (distinct ports or kinds), as long as edge IDs are unique.
//
// Inputs:
//
//	edge - The edge to add. Must not be nil and must have a non-empty ID.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrInvalidEdge - Edge is nil or has an empty ID
//	ErrDuplicateEdge - Edge with same ID already exists
//	ErrNodeNotFound - Source or target node doesn't exist
//	ErrMaxEdgesExceeded - Graph is at edge capacity
func (g *Graph) AddEdge(edge *Edge) error {
	if g.state == GraphStateFrozen {
		return ErrGraphFrozen
	}

	if edge == nil {
		return fmt.Errorf("%w: edge is nil", ErrInvalidEdge)
	}
	if edge.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidEdge)
	}

	if len(g.edges) >= g.options.MaxEdges {
		return ErrMaxEdgesExceeded
	}

	if _, exists := g.edges[edge.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, edge.ID)
	}

	fromNode, fromOK := g.nodes[edge.From]
	if !fromOK {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, edge.From)
	}

	toNode, toOK := g.nodes[edge.To]
	if !toOK {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, edge.To)
	}

	g.edges[edge.ID] = edge
	g.edgeOrder = append(g.edgeOrder, edge.ID)
	fromNode.Outgoing = append(fromNode.Outgoing, edge)
	toNode.Incoming = append(toNode.Incoming, edge)

	return nil
}

// RemoveNode removes a node and every edge incident to it.
//
// Description:
//
//	Incident edges are removed in the same operation so the dangling-edge
//	invariant holds by construction, never by leaving stale edges behind.
//
// Inputs:
//
//	id - The node ID to remove.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrNodeNotFound - No node with the given ID
func (g *Graph) RemoveNode(id string) error {
	if g.state == GraphStateFrozen {
		return ErrGraphFrozen
	}

	node, exists := g.nodes[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	// Collect incident edges before touching anything.
	removed := make(map[string]bool, len(node.Outgoing)+len(node.Incoming))
	peers := make(map[string]bool)
	for _, e := range node.Outgoing {
		removed[e.ID] = true
		peers[e.To] = true
	}
	for _, e := range node.Incoming {
		removed[e.ID] = true
		peers[e.From] = true
	}

	for edgeID := range removed {
		delete(g.edges, edgeID)
	}
	if len(removed) > 0 {
		g.edgeOrder = filterIDs(g.edgeOrder, removed)
	}

	// Fix up adjacency on the surviving peers.
	for peerID := range peers {
		if peerID == id {
			continue
		}
		if peer, ok := g.nodes[peerID]; ok {
			peer.Outgoing = filterEdges(peer.Outgoing, removed)
			peer.Incoming = filterEdges(peer.Incoming, removed)
		}
	}

	delete(g.nodes, id)
	g.nodeOrder = filterIDs(g.nodeOrder, map[string]bool{id: true})

	return nil
}

// RemoveEdge removes a single edge by ID.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrEdgeNotFound - No edge with the given ID
func (g *Graph) RemoveEdge(id string) error {
	if g.state == GraphStateFrozen {
		return ErrGraphFrozen
	}

	edge, exists := g.edges[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}

	delete(g.edges, id)
	removed := map[string]bool{id: true}
	g.edgeOrder = filterIDs(g.edgeOrder, removed)

	if fromNode, ok := g.nodes[edge.From]; ok {
		fromNode.Outgoing = filterEdges(fromNode.Outgoing, removed)
	}
	if toNode, ok := g.nodes[edge.To]; ok {
		toNode.Incoming = filterEdges(toNode.Incoming, removed)
	}

	return nil
}

// Clear removes all nodes and edges.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
func (g *Graph) Clear() error {
	if g.state == GraphStateFrozen {
		return ErrGraphFrozen
	}

	g.nodes = make(map[string]*Node)
	g.edges = make(map[string]*Edge)
	g.nodeOrder = g.nodeOrder[:0]
	g.edgeOrder = g.edgeOrder[:0]

	return nil
}

// GetNode retrieves a node by its ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetEdge retrieves an edge by its ID.
func (g *Graph) GetEdge(id string) (*Edge, bool) {
	edge, exists := g.edges[id]
	return edge, exists
}

// HasNode reports whether a node with the given ID exists.
func (g *Graph) HasNode(id string) bool {
	_, exists := g.nodes[id]
	return exists
}

// filterEdges filters the slice in place, dropping edges whose IDs are
// in removed. Order is preserved.
func filterEdges(edges []*Edge, removed map[string]bool) []*Edge {
	filtered := edges[:0]
	for _, e := range edges {
		if !removed[e.ID] {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// filterIDs filters the slice in place, dropping IDs present in
// removed. Order is preserved.
func filterIDs(ids []string, removed map[string]bool) []string {
	filtered := ids[:0]
	for _, id := range ids {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered
}
