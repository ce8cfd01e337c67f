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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// DefaultMaxInlineNodes is the largest subgraph inline expansion will
// copy into its host by default.
const DefaultMaxInlineNodes = 50

// InlineExpansionPass replaces SubGraph and Function nodes with the
// contents of their embedded graphs.
//
// Description:
//
//	A host qualifies when its kind is SubGraph or Function, its Sub is
//	non-nil and non-empty, and the subgraph's node count is at or below
//	the configured ceiling. Every inner node and edge is copied into
//	the parent with ids prefixed "{hostID}_" to avoid collisions.
//	Boundary edges are rewired through marker nodes: an edge into the
//	host on port p moves to the copied Input marker whose id is p, and
//	an edge out of the host on port q moves off the copied Output
//	marker whose id is q. Boundary edges naming a port with no matching
//	marker are dropped with a warning. The host node is removed last.
//
//	Copied hosts nested inside the subgraph are expanded by later
//	iterations, so nesting unwinds one level per round up to the
//	iteration bound.
type InlineExpansionPass struct {
	BasePass

	maxNodes int
}

// InlineOption configures an InlineExpansionPass.
type InlineOption func(*InlineExpansionPass)

// WithMaxInlineNodes sets the subgraph node-count ceiling. Values
// below 1 are ignored.
func WithMaxInlineNodes(n int) InlineOption {
	return func(p *InlineExpansionPass) {
		if n > 0 {
			p.maxNodes = n
		}
	}
}

// WithInlineLogger sets the logger used for pass diagnostics.
func WithInlineLogger(logger *slog.Logger) InlineOption {
	return func(p *InlineExpansionPass) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewInlineExpansion returns an inline expansion pass.
func NewInlineExpansion(opts ...InlineOption) *InlineExpansionPass {
	p := &InlineExpansionPass{
		BasePass: newBasePass("inline_expansion"),
		maxNodes: DefaultMaxInlineNodes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Apply expands qualifying hosts until none remain.
func (p *InlineExpansionPass) Apply(ctx context.Context, g *graph.Graph) (*Result, error) {
	return p.run(ctx, g, p.applyOnce)
}

func (p *InlineExpansionPass) applyOnce(_ context.Context, g *graph.Graph) (*graph.Graph, bool, error) {
	var hosts []string
	for id, node := range g.Nodes() {
		if !p.inlinable(node) {
			continue
		}
		hosts = append(hosts, id)
	}
	if len(hosts) == 0 {
		return g, false, nil
	}

	clone := g.Clone()
	inlined := 0
	for _, hostID := range hosts {
		n, err := p.expandHost(clone, hostID)
		if err != nil {
			return nil, false, err
		}
		inlined += n
	}

	p.addStats(func(s *Stats) {
		s.NodesInlined += int64(inlined)
		s.NodesRemoved += int64(len(hosts))
	})
	return clone, true, nil
}

func (p *InlineExpansionPass) inlinable(node *graph.Node) bool {
	if node.Kind != graph.KindSubGraph && node.Kind != graph.KindFunction {
		return false
	}
	if node.Sub == nil || node.Sub.NodeCount() == 0 {
		return false
	}
	return node.Sub.NodeCount() <= p.maxNodes
}

// expandHost copies the host's subgraph into g, rewires the host's
// boundary edges, and removes the host. Returns the number of nodes
// copied.
func (p *InlineExpansionPass) expandHost(g *graph.Graph, hostID string) (int, error) {
	host, ok := g.GetNode(hostID)
	if !ok {
		return 0, fmt.Errorf("inlining %s: %w", hostID, graph.ErrNodeNotFound)
	}
	inner := host.Sub

	copied := 0
	for innerID, innerNode := range inner.Nodes() {
		node := &graph.Node{
			ID:       hostID + "_" + innerID,
			Kind:     innerNode.Kind,
			Value:    innerNode.Value,
			Metadata: copyMeta(innerNode.Metadata),
		}
		if innerNode.Sub != nil {
			node.Sub = innerNode.Sub.Clone()
		}
		if err := g.AddNode(node); err != nil {
			return 0, fmt.Errorf("inlining %s: copy node %s: %w", hostID, innerID, err)
		}
		copied++
	}
	for innerID, innerEdge := range inner.Edges() {
		edge := &graph.Edge{
			ID:       hostID + "_" + innerID,
			From:     hostID + "_" + innerEdge.From,
			To:       hostID + "_" + innerEdge.To,
			FromPort: innerEdge.FromPort,
			ToPort:   innerEdge.ToPort,
			Kind:     innerEdge.Kind,
			Metadata: copyMeta(innerEdge.Metadata),
		}
		if err := g.AddEdge(edge); err != nil {
			return 0, fmt.Errorf("inlining %s: copy edge %s: %w", hostID, innerID, err)
		}
	}

	// Boundary rewiring. Snapshot the adjacency before mutating it.
	inbound := append([]*graph.Edge(nil), g.Incoming(hostID)...)
	for _, e := range inbound {
		marker, ok := inner.GetNode(e.ToPort)
		if !ok || marker.Kind != graph.KindInput {
			p.logger.Warn("dropping boundary edge with no input marker",
				"host", hostID,
				"edge", e.ID,
				"port", e.ToPort)
			continue
		}
		if err := p.redirectEdge(g, e, e.From, hostID+"_"+e.ToPort); err != nil {
			return 0, fmt.Errorf("inlining %s: %w", hostID, err)
		}
	}
	outbound := append([]*graph.Edge(nil), g.Outgoing(hostID)...)
	for _, e := range outbound {
		marker, ok := inner.GetNode(e.FromPort)
		if !ok || marker.Kind != graph.KindOutput {
			p.logger.Warn("dropping boundary edge with no output marker",
				"host", hostID,
				"edge", e.ID,
				"port", e.FromPort)
			continue
		}
		if err := p.redirectEdge(g, e, hostID+"_"+e.FromPort, e.To); err != nil {
			return 0, fmt.Errorf("inlining %s: %w", hostID, err)
		}
	}

	// Unmatched boundary edges still reference the host and cascade
	// away with it.
	if err := g.RemoveNode(hostID); err != nil {
		return 0, fmt.Errorf("inlining %s: remove host: %w", hostID, err)
	}
	p.logger.Debug("inlined subgraph",
		"host", hostID,
		"nodes", copied)
	return copied, nil
}

// redirectEdge moves e to run from/to the given endpoints, keeping its
// id, ports, kind, and metadata.
func (p *InlineExpansionPass) redirectEdge(g *graph.Graph, e *graph.Edge, from, to string) error {
	moved := &graph.Edge{
		ID:       e.ID,
		From:     from,
		To:       to,
		FromPort: e.FromPort,
		ToPort:   e.ToPort,
		Kind:     e.Kind,
		Metadata: e.Metadata,
	}
	if err := g.RemoveEdge(e.ID); err != nil {
		return fmt.Errorf("redirect edge %s: %w", e.ID, err)
	}
	if err := g.AddEdge(moved); err != nil {
		return fmt.Errorf("redirect edge %s: %w", e.ID, err)
	}
	return nil
}

// copyMeta shallow-copies a metadata map, preserving nil.
func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	copied := make(map[string]any, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return copied
}
