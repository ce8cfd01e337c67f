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
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// CSEPass merges nodes that compute the same expression.
//
// Description:
//
//	Two nodes are equivalent when they share a structural signature:
//	the same kind, the same literal value, and the same inputs on the
//	same ports. Within an equivalence class the first node in insertion
//	order is kept as the representative; every duplicate has its
//	consumers redirected to the representative and is then removed
//	together with its input edges. Constants participate, so duplicate
//	literals collapse too.
//
//	Input and Output markers are never merged because their identity is
//	their binding, not their structure, and SubGraph/Function hosts are
//	skipped because the signature does not inspect embedded graphs.
//	Chains of duplicates converge across iterations: merging one layer
//	makes the next layer's signatures equal.
type CSEPass struct {
	BasePass
}

// NewCSE returns a common subexpression elimination pass.
func NewCSE(opts ...PassOption) *CSEPass {
	return &CSEPass{BasePass: newBasePass("cse", opts...)}
}

// Apply merges equivalent nodes until no duplicates remain.
func (p *CSEPass) Apply(ctx context.Context, g *graph.Graph) (*Result, error) {
	return p.run(ctx, g, p.applyOnce)
}

func (p *CSEPass) applyOnce(ctx context.Context, g *graph.Graph) (*graph.Graph, bool, error) {
	representatives := make(map[string]string, g.NodeCount())
	type merge struct {
		dupID string
		repID string
	}
	var merges []merge
	for id, node := range g.Nodes() {
		if !mergeableKind(node) {
			continue
		}
		sig := signature(g, node)
		if rep, seen := representatives[sig]; seen {
			merges = append(merges, merge{dupID: id, repID: rep})
			continue
		}
		representatives[sig] = id
	}
	if len(merges) == 0 {
		return g, false, nil
	}

	clone := g.Clone()
	edgesBefore := clone.EdgeCount()
	redirected := 0
	for _, m := range merges {
		consumers := append([]*graph.Edge(nil), clone.Outgoing(m.dupID)...)
		for _, e := range consumers {
			moved := &graph.Edge{
				ID:       e.ID,
				From:     m.repID,
				To:       e.To,
				FromPort: e.FromPort,
				ToPort:   e.ToPort,
				Kind:     e.Kind,
				Metadata: e.Metadata,
			}
			if err := clone.RemoveEdge(e.ID); err != nil {
				return nil, false, fmt.Errorf("merging %s into %s: %w", m.dupID, m.repID, err)
			}
			if err := clone.AddEdge(moved); err != nil {
				return nil, false, fmt.Errorf("merging %s into %s: %w", m.dupID, m.repID, err)
			}
			redirected++
		}
		if err := clone.RemoveNode(m.dupID); err != nil {
			return nil, false, fmt.Errorf("removing duplicate %s: %w", m.dupID, err)
		}
		p.logger.Debug("merged duplicate node",
			"duplicate", m.dupID,
			"representative", m.repID)
	}
	edgesRemoved := edgesBefore - clone.EdgeCount()

	p.addStats(func(s *Stats) {
		s.NodesRemoved += int64(len(merges))
		s.EdgesRewritten += int64(redirected)
		s.EdgesRemoved += int64(edgesRemoved)
	})
	recordNodesRemoved(ctx, p.name, int64(len(merges)))
	return clone, true, nil
}

func mergeableKind(node *graph.Node) bool {
	switch node.Kind {
	case graph.KindInput, graph.KindOutput, graph.KindSubGraph, graph.KindFunction:
		return false
	}
	return !node.IsOutput()
}

// signature renders a node's structural identity as
// "kind|value|port:source,port:source,..." with input pairs sorted.
func signature(g *graph.Graph, node *graph.Node) string {
	inbound := g.Incoming(node.ID)
	pairs := make([]string, 0, len(inbound))
	for _, e := range inbound {
		pairs = append(pairs, e.ToPort+":"+e.From)
	}
	sort.Strings(pairs)

	var b strings.Builder
	b.WriteString(string(node.Kind))
	b.WriteByte('|')
	b.WriteString(renderValue(node.Value))
	b.WriteByte('|')
	b.WriteString(strings.Join(pairs, ","))
	return b.String()
}

// renderValue formats a literal for signatures, collapsing numeric
// types so int 5 and float64 5 compare equal, matching graph.Equal.
func renderValue(v any) string {
	if v == nil {
		return ""
	}
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'g', -1, 64)
	case int:
		return strconv.FormatFloat(float64(n), 'g', -1, 64)
	case int32:
		return strconv.FormatFloat(float64(n), 'g', -1, 64)
	case int64:
		return strconv.FormatFloat(float64(n), 'g', -1, 64)
	case uint:
		return strconv.FormatFloat(float64(n), 'g', -1, 64)
	case uint32:
		return strconv.FormatFloat(float64(n), 'g', -1, 64)
	case uint64:
		return strconv.FormatFloat(float64(n), 'g', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	case string:
		return strconv.Quote(n)
	default:
		return fmt.Sprintf("%v", n)
	}
}
