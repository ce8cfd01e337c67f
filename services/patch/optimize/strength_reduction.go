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
	"math"
	"math/bits"
	"sort"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// MetaReducedFrom is the metadata key recording the original kind of a
// node rewritten by strength reduction.
const MetaReducedFrom = "reducedFrom"

// StrengthReductionPass rewrites multiplications and divisions by a
// power of two into bit shifts.
//
// Description:
//
//	A Multiply or Divide node qualifies when it has exactly two inputs
//	and exactly one of them is a Constant whose value is an integral
//	power of two, at least 2. The node is rewritten in place: Multiply
//	becomes ShiftLeft and Divide becomes ShiftRight, the shift amount
//	log2(c) is stored as the node's value, and Metadata["reducedFrom"]
//	records the original kind. The constant's feeding edge is removed,
//	leaving the constant for dead code elimination.
//
//	Division is not commutative, so for Divide the constant must be the
//	second operand in port order; a constant dividend is left alone, as
//	is a Divide whose operand order the ports cannot establish.
type StrengthReductionPass struct {
	BasePass
}

// NewStrengthReduction returns a strength reduction pass.
func NewStrengthReduction(opts ...PassOption) *StrengthReductionPass {
	return &StrengthReductionPass{BasePass: newBasePass("strength_reduction", opts...)}
}

// Apply rewrites qualifying nodes until none remain.
func (p *StrengthReductionPass) Apply(ctx context.Context, g *graph.Graph) (*Result, error) {
	return p.run(ctx, g, p.applyOnce)
}

// reducePlan captures one rewrite decided during the scan phase.
type reducePlan struct {
	nodeID      string
	oldKind     graph.NodeKind
	newKind     graph.NodeKind
	shiftAmount float64
	constEdgeID string
}

func (p *StrengthReductionPass) applyOnce(_ context.Context, g *graph.Graph) (*graph.Graph, bool, error) {
	var plans []reducePlan
	for _, node := range g.Nodes() {
		plan, ok := reducible(g, node)
		if !ok {
			continue
		}
		plans = append(plans, plan)
	}
	if len(plans) == 0 {
		return g, false, nil
	}

	clone := g.Clone()
	for _, plan := range plans {
		node, ok := clone.GetNode(plan.nodeID)
		if !ok {
			return nil, false, fmt.Errorf("reducing %s: %w", plan.nodeID, graph.ErrNodeNotFound)
		}
		node.Kind = plan.newKind
		node.Value = plan.shiftAmount
		if node.Metadata == nil {
			node.Metadata = make(map[string]any, 1)
		}
		node.Metadata[MetaReducedFrom] = string(plan.oldKind)
		if err := clone.RemoveEdge(plan.constEdgeID); err != nil {
			return nil, false, fmt.Errorf("reducing %s: remove edge %s: %w", plan.nodeID, plan.constEdgeID, err)
		}
		p.logger.Debug("reduced node to shift",
			"node", plan.nodeID,
			"from", string(plan.oldKind),
			"to", string(plan.newKind),
			"shift", plan.shiftAmount)
	}

	p.addStats(func(s *Stats) {
		s.NodesRewritten += int64(len(plans))
		s.EdgesRemoved += int64(len(plans))
	})
	return clone, true, nil
}

// reducible decides whether node rewrites to a shift and builds the plan.
func reducible(g *graph.Graph, node *graph.Node) (reducePlan, bool) {
	if node.Kind != graph.KindMultiply && node.Kind != graph.KindDivide {
		return reducePlan{}, false
	}
	inbound := g.Incoming(node.ID)
	if len(inbound) != 2 {
		return reducePlan{}, false
	}

	sorted := make([]*graph.Edge, len(inbound))
	copy(sorted, inbound)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ToPort != sorted[j].ToPort {
			return sorted[i].ToPort < sorted[j].ToPort
		}
		return sorted[i].ID < sorted[j].ID
	})

	constIdx := -1
	var shift float64
	for i, e := range sorted {
		source, ok := g.GetNode(e.From)
		if !ok || source.Kind != graph.KindConstant {
			continue
		}
		k, ok := powerOfTwoExponent(source.Value)
		if !ok {
			continue
		}
		if constIdx >= 0 {
			// Both operands constant; constant folding handles that.
			return reducePlan{}, false
		}
		constIdx = i
		shift = k
	}
	if constIdx < 0 {
		return reducePlan{}, false
	}

	newKind := graph.KindShiftLeft
	if node.Kind == graph.KindDivide {
		newKind = graph.KindShiftRight
		if constIdx != 1 || sorted[0].ToPort == sorted[1].ToPort {
			return reducePlan{}, false
		}
	}

	return reducePlan{
		nodeID:      node.ID,
		oldKind:     node.Kind,
		newKind:     newKind,
		shiftAmount: shift,
		constEdgeID: sorted[constIdx].ID,
	}, true
}

// powerOfTwoExponent returns log2(v) when v is an integral power of
// two no smaller than 2.
func powerOfTwoExponent(v any) (float64, bool) {
	f, ok := toNumber(v)
	if !ok {
		return 0, false
	}
	if f < 2 || f != math.Trunc(f) || f > math.MaxUint32 {
		return 0, false
	}
	n := uint64(f)
	if n&(n-1) != 0 {
		return 0, false
	}
	return float64(bits.TrailingZeros64(n)), true
}
