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

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// DeadCodeEliminationPass removes nodes that no graph output depends on.
//
// Description:
//
//	Liveness is computed by walking inbound edges backward from every
//	output node (KindOutput or the isOutput metadata flag). Nodes
//	outside the reachable set are removed along with their edges. A
//	graph with no output nodes has no live set at all; every node is
//	removed and a warning is logged, since that usually means the
//	caller forgot to mark outputs.
type DeadCodeEliminationPass struct {
	BasePass
}

// NewDeadCodeElimination returns a dead code elimination pass.
func NewDeadCodeElimination(opts ...PassOption) *DeadCodeEliminationPass {
	return &DeadCodeEliminationPass{BasePass: newBasePass("dead_code_elimination", opts...)}
}

// Apply removes unreachable nodes until the graph is fully live.
func (p *DeadCodeEliminationPass) Apply(ctx context.Context, g *graph.Graph) (*Result, error) {
	return p.run(ctx, g, p.applyOnce)
}

func (p *DeadCodeEliminationPass) applyOnce(ctx context.Context, g *graph.Graph) (*graph.Graph, bool, error) {
	outputs := g.OutputNodes()
	if len(outputs) == 0 {
		if g.NodeCount() == 0 {
			return g, false, nil
		}
		p.logger.Warn("graph has no output nodes, removing all nodes",
			"graph", g.Name(),
			"nodes", g.NodeCount())
		clone := g.Clone()
		removedNodes := clone.NodeCount()
		removedEdges := clone.EdgeCount()
		if err := clone.Clear(); err != nil {
			return nil, false, fmt.Errorf("clearing dead graph: %w", err)
		}
		p.addStats(func(s *Stats) {
			s.NodesRemoved += int64(removedNodes)
			s.EdgesRemoved += int64(removedEdges)
		})
		recordNodesRemoved(ctx, p.name, int64(removedNodes))
		return clone, true, nil
	}

	live := liveSet(g, outputs)
	var dead []string
	for id := range g.Nodes() {
		if !live[id] {
			dead = append(dead, id)
		}
	}
	if len(dead) == 0 {
		return g, false, nil
	}

	clone := g.Clone()
	edgesBefore := clone.EdgeCount()
	for _, id := range dead {
		if err := clone.RemoveNode(id); err != nil {
			return nil, false, fmt.Errorf("removing dead node %s: %w", id, err)
		}
	}
	edgesRemoved := edgesBefore - clone.EdgeCount()

	p.logger.Debug("removed dead nodes",
		"graph", g.Name(),
		"nodes", len(dead),
		"edges", edgesRemoved)
	p.addStats(func(s *Stats) {
		s.NodesRemoved += int64(len(dead))
		s.EdgesRemoved += int64(edgesRemoved)
	})
	recordNodesRemoved(ctx, p.name, int64(len(dead)))
	return clone, true, nil
}

// liveSet walks inbound edges backward from the output nodes.
func liveSet(g *graph.Graph, outputs []string) map[string]bool {
	live := make(map[string]bool, g.NodeCount())
	queue := make([]string, 0, len(outputs))
	for _, id := range outputs {
		live[id] = true
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Incoming(id) {
			if !live[e.From] {
				live[e.From] = true
				queue = append(queue, e.From)
			}
		}
	}
	return live
}
