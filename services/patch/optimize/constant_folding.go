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
	"sort"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// MetaFoldedFrom is the metadata key recording the original kind of a
// node replaced by a folded constant.
const MetaFoldedFrom = "foldedFrom"

// ConstantFoldingPass evaluates operation nodes whose inputs are all
// constants and replaces them with constant nodes in place.
//
// Description:
//
//	A node folds when its kind is a supported arithmetic, boolean, or
//	comparison operator, every inbound edge originates at a Constant
//	node, and the operand values evaluate without error. The folded
//	node keeps its ID and outgoing edges, its kind becomes Constant,
//	its value becomes the computed result, and Metadata["foldedFrom"]
//	records the original kind. Inbound edges are removed; the feeding
//	constants stay behind for dead code elimination to collect.
//
//	Division and modulo by zero are left untouched rather than folded,
//	so the error surfaces at evaluation time instead of silently
//	becoming a constant.
type ConstantFoldingPass struct {
	BasePass
}

// NewConstantFolding returns a constant folding pass.
func NewConstantFolding(opts ...PassOption) *ConstantFoldingPass {
	return &ConstantFoldingPass{BasePass: newBasePass("constant_folding", opts...)}
}

// Apply folds constant subexpressions until none remain.
func (p *ConstantFoldingPass) Apply(ctx context.Context, g *graph.Graph) (*Result, error) {
	return p.run(ctx, g, p.applyOnce)
}

// foldPlan captures one fold decided during the scan phase.
type foldPlan struct {
	nodeID   string
	oldKind  graph.NodeKind
	value    any
	inEdgeID []string
}

func (p *ConstantFoldingPass) applyOnce(_ context.Context, g *graph.Graph) (*graph.Graph, bool, error) {
	var plans []foldPlan
	for id, node := range g.Nodes() {
		value, ok := evaluateNode(g, node)
		if !ok {
			continue
		}
		inbound := g.Incoming(id)
		edgeIDs := make([]string, 0, len(inbound))
		for _, e := range inbound {
			edgeIDs = append(edgeIDs, e.ID)
		}
		plans = append(plans, foldPlan{
			nodeID:   id,
			oldKind:  node.Kind,
			value:    value,
			inEdgeID: edgeIDs,
		})
	}
	if len(plans) == 0 {
		return g, false, nil
	}

	clone := g.Clone()
	edgesRemoved := 0
	for _, plan := range plans {
		node, ok := clone.GetNode(plan.nodeID)
		if !ok {
			return nil, false, fmt.Errorf("folding %s: %w", plan.nodeID, graph.ErrNodeNotFound)
		}
		node.Kind = graph.KindConstant
		node.Value = plan.value
		if node.Metadata == nil {
			node.Metadata = make(map[string]any, 1)
		}
		node.Metadata[MetaFoldedFrom] = string(plan.oldKind)
		for _, edgeID := range plan.inEdgeID {
			if err := clone.RemoveEdge(edgeID); err != nil {
				return nil, false, fmt.Errorf("folding %s: remove edge %s: %w", plan.nodeID, edgeID, err)
			}
			edgesRemoved++
		}
		p.logger.Debug("folded node",
			"node", plan.nodeID,
			"from", string(plan.oldKind),
			"value", plan.value)
	}

	p.addStats(func(s *Stats) {
		s.NodesFolded += int64(len(plans))
		s.EdgesRemoved += int64(edgesRemoved)
	})
	return clone, true, nil
}

// evaluateNode decides whether node folds and computes its value.
//
// Description:
//
//	Operands are the values of the constant nodes feeding node, ordered
//	by inbound port name. Any non-constant input, unsupported kind,
//	wrong arity, non-coercible operand, or division by zero makes the
//	node non-foldable; none of these are errors.
func evaluateNode(g *graph.Graph, node *graph.Node) (any, bool) {
	if !foldableKind(node.Kind) {
		return nil, false
	}
	inbound := g.Incoming(node.ID)
	if len(inbound) == 0 {
		return nil, false
	}

	sorted := make([]*graph.Edge, len(inbound))
	copy(sorted, inbound)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ToPort != sorted[j].ToPort {
			return sorted[i].ToPort < sorted[j].ToPort
		}
		return sorted[i].ID < sorted[j].ID
	})

	operands := make([]any, 0, len(sorted))
	for _, e := range sorted {
		source, ok := g.GetNode(e.From)
		if !ok || source.Kind != graph.KindConstant {
			return nil, false
		}
		operands = append(operands, source.Value)
	}

	switch node.Kind {
	case graph.KindAdd, graph.KindSubtract, graph.KindMultiply, graph.KindDivide, graph.KindModulo:
		return evalArithmetic(node.Kind, operands)
	case graph.KindNegate:
		return evalNegate(operands)
	case graph.KindAnd, graph.KindOr:
		return evalVariadicBool(node.Kind, operands)
	case graph.KindNot:
		return evalNot(operands)
	case graph.KindEqual, graph.KindNotEqual, graph.KindLess, graph.KindLessEqual,
		graph.KindGreater, graph.KindGreaterEqual:
		return evalComparison(node.Kind, operands)
	default:
		return nil, false
	}
}

func foldableKind(kind graph.NodeKind) bool {
	switch kind {
	case graph.KindAdd, graph.KindSubtract, graph.KindMultiply, graph.KindDivide,
		graph.KindModulo, graph.KindNegate,
		graph.KindAnd, graph.KindOr, graph.KindNot,
		graph.KindEqual, graph.KindNotEqual, graph.KindLess, graph.KindLessEqual,
		graph.KindGreater, graph.KindGreaterEqual:
		return true
	default:
		return false
	}
}

func evalArithmetic(kind graph.NodeKind, operands []any) (any, bool) {
	a, b, ok := twoNumbers(operands)
	if !ok {
		return nil, false
	}
	switch kind {
	case graph.KindAdd:
		return a + b, true
	case graph.KindSubtract:
		return a - b, true
	case graph.KindMultiply:
		return a * b, true
	case graph.KindDivide:
		if b == 0 {
			return nil, false
		}
		return a / b, true
	case graph.KindModulo:
		if b == 0 {
			return nil, false
		}
		return math.Mod(a, b), true
	default:
		return nil, false
	}
}

func evalNegate(operands []any) (any, bool) {
	if len(operands) != 1 {
		return nil, false
	}
	v, ok := toNumber(operands[0])
	if !ok {
		return nil, false
	}
	return -v, true
}

func evalComparison(kind graph.NodeKind, operands []any) (any, bool) {
	a, b, ok := twoNumbers(operands)
	if !ok {
		return nil, false
	}
	switch kind {
	case graph.KindEqual:
		return a == b, true
	case graph.KindNotEqual:
		return a != b, true
	case graph.KindLess:
		return a < b, true
	case graph.KindLessEqual:
		return a <= b, true
	case graph.KindGreater:
		return a > b, true
	case graph.KindGreaterEqual:
		return a >= b, true
	default:
		return nil, false
	}
}

func evalVariadicBool(kind graph.NodeKind, operands []any) (any, bool) {
	if len(operands) < 2 {
		return nil, false
	}
	result := kind == graph.KindAnd
	for _, op := range operands {
		b, ok := op.(bool)
		if !ok {
			return nil, false
		}
		if kind == graph.KindAnd {
			result = result && b
		} else {
			result = result || b
		}
	}
	return result, true
}

func evalNot(operands []any) (any, bool) {
	if len(operands) != 1 {
		return nil, false
	}
	b, ok := operands[0].(bool)
	if !ok {
		return nil, false
	}
	return !b, true
}

func twoNumbers(operands []any) (float64, float64, bool) {
	if len(operands) != 2 {
		return 0, 0, false
	}
	a, okA := toNumber(operands[0])
	b, okB := toNumber(operands[1])
	if !okA || !okB {
		return 0, 0, false
	}
	return a, b, true
}

// toNumber coerces the numeric types a constant value may carry.
func toNumber(v any) (float64, bool) {
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
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
