// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathexpr

import (
	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// PatternKind classifies what a node pattern matches against.
type PatternKind int

const (
	// PatternLiteral matches one node by exact id.
	PatternLiteral PatternKind = iota

	// PatternKindName matches any node of a declared node kind.
	PatternKindName

	// PatternWildcard matches any single node.
	PatternWildcard

	// PatternAnyPath matches a variable-length run of nodes.
	PatternAnyPath
)

// String returns a human-readable pattern kind name.
func (k PatternKind) String() string {
	switch k {
	case PatternLiteral:
		return "literal"
	case PatternKindName:
		return "kind"
	case PatternWildcard:
		return "wildcard"
	case PatternAnyPath:
		return "any_path"
	default:
		return "unknown"
	}
}

// Direction says which way a step follows edges.
type Direction int

const (
	// DirectionNone is the zero value and never appears in a parsed
	// expression.
	DirectionNone Direction = iota

	// DirectionOutgoing follows edges from source to target.
	DirectionOutgoing

	// DirectionIncoming follows edges from target to source.
	DirectionIncoming

	// DirectionBoth follows edges either way.
	DirectionBoth
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	case DirectionBoth:
		return "both"
	default:
		return "none"
	}
}

// Constraint requires a node attribute to equal a literal value.
//
// The key "value" checks the node's Value, "kind" checks its Kind, and
// any other key checks Metadata[key]. Numeric comparisons coerce across
// integer and float types.
type Constraint struct {
	Key   string
	Value any
}

// NodePattern matches graph nodes within one segment of an expression.
type NodePattern struct {
	// Kind selects the matching rule.
	Kind PatternKind

	// Value holds the node id for literal patterns and the kind name
	// for kind patterns.
	Value string

	// MinHops and MaxHops bound a variable-length segment. MaxHops -1
	// means unbounded. Both are zero outside PatternAnyPath.
	MinHops int
	MaxHops int

	// Constraints must all hold for a node to match.
	Constraints []Constraint
}

// Matches reports whether the node satisfies the pattern and every
// constraint on it.
func (p NodePattern) Matches(node *graph.Node) bool {
	if node == nil {
		return false
	}
	switch p.Kind {
	case PatternLiteral:
		if node.ID != p.Value {
			return false
		}
	case PatternKindName:
		if string(node.Kind) != p.Value {
			return false
		}
	}
	for _, c := range p.Constraints {
		if !constraintHolds(node, c) {
			return false
		}
	}
	return true
}

func constraintHolds(node *graph.Node, c Constraint) bool {
	switch c.Key {
	case "value":
		return looseEqual(node.Value, c.Value)
	case "kind":
		return looseEqual(string(node.Kind), c.Value)
	}
	if node.Metadata == nil {
		return false
	}
	v, ok := node.Metadata[c.Key]
	if !ok {
		return false
	}
	return looseEqual(v, c.Value)
}

// looseEqual compares scalars with numeric coercion so a metadata int
// equals a parsed int64 or float literal.
func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	}
	return false
}

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
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Step is one hop of an expression: a connector plus its target.
type Step struct {
	// Target is the pattern the reached node must satisfy.
	Target NodePattern

	// Direction says which way edges are followed.
	Direction Direction

	// EdgeKind restricts the hop to edges of this kind. Empty accepts
	// any edge.
	EdgeKind string
}
