// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import "github.com/AleutianAI/patchwork/services/patch/graph"

// Result holds the outcome of a single-origin impact analysis.
type Result struct {
	// Origin is the node the analysis started from.
	Origin string

	// Affected lists every reached node in BFS discovery order,
	// excluding the origin itself.
	Affected []string

	// Distances maps each reached node, origin included, to its
	// shortest hop distance from the origin.
	Distances map[string]int

	// Paths maps each reached node to one shortest path from the
	// origin to it, both endpoints included. Nil when path collection
	// was disabled.
	Paths map[string][]string

	// MaxDepth is the depth bound the analysis ran with. Zero means
	// unbounded.
	MaxDepth int

	// Truncated reports whether the depth bound cut off reachable
	// nodes.
	Truncated bool
}

// MultiResult holds the union of several single-origin analyses.
type MultiResult struct {
	// Origins lists the analyzed origin nodes in input order, with
	// duplicates removed.
	Origins []string

	// Affected lists every node reached by at least one origin, in
	// first-discovery order across the analyses.
	Affected []string

	// Distances maps each affected node to the minimum distance over
	// all origins that reached it.
	Distances map[string]int

	// Contributors maps each affected node to the sorted origins whose
	// traversal reached it.
	Contributors map[string][]string

	// Truncated reports whether any contributing analysis was cut off
	// by its depth bound.
	Truncated bool
}

// CriticalNode ranks one node by the size of its downstream impact.
type CriticalNode struct {
	// ID is the node.
	ID string

	// AffectedCount is how many nodes an update to ID would reach.
	AffectedCount int

	// MaxDistance is the longest shortest-hop distance within the
	// affected set. Zero when nothing is affected.
	MaxDistance int
}

// CostFunc prices the update of a single node.
type CostFunc func(*graph.Node) float64

// DefaultCost prices a node at 1 plus its numeric weight metadata.
func DefaultCost(node *graph.Node) float64 {
	cost := 1.0
	if node == nil || node.Metadata == nil {
		return cost
	}
	switch w := node.Metadata["weight"].(type) {
	case float64:
		cost += w
	case int:
		cost += float64(w)
	case int64:
		cost += float64(w)
	}
	return cost
}

// CostEstimate holds the projected cost of propagating one update.
type CostEstimate struct {
	// Total is the summed cost of the origin and every affected node.
	Total float64

	// PerNode maps each priced node to its individual cost.
	PerNode map[string]float64

	// Nodes is the number of priced nodes, origin included.
	Nodes int
}
