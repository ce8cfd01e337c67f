// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pathexpr parses and matches a small path language over
// compute graphs.
//
// # Description
//
// An expression names a start node pattern and a list of steps, each a
// connector plus a target pattern: "A->B" follows an outgoing edge,
// "A<-B" an incoming one, "A<->B" either way, and "A-[owns]->B" only
// edges of kind owns. Segments may be exact ids, declared node kinds,
// "*" for any single node, or "**{min,max}" for a bounded run of
// nodes. "{key:value}" blocks constrain a segment's node by value,
// kind, or metadata.
//
// Parsing never fails loudly: From always returns an expression and
// records problems on it, so callers check IsValid before matching.
package pathexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidExpression is returned when a matcher receives an
	// expression whose parse failed.
	ErrInvalidExpression = errors.New("invalid path expression")

	// ErrNilGraph is returned when a matcher receives a nil graph.
	ErrNilGraph = errors.New("graph is nil")
)

// ParseError reports where in the pattern text parsing failed.
type ParseError struct {
	// Pos is the rune offset the parser stopped at.
	Pos int

	// Message describes the problem.
	Message string
}

// Error formats the failure with its position.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d: %s", e.Pos, e.Message)
}

// PathExpression is a parsed path pattern.
//
// # Description
//
// Holds the start pattern and the ordered steps that follow it. A bare
// segment parses to a start with zero steps. Invalid input still
// produces an expression; the failure is reported through IsValid and
// Err rather than raised.
//
// # Thread Safety
//
// Expressions are immutable after parsing and safe to share.
type PathExpression struct {
	raw   string
	start NodePattern
	steps []Step
	err   error
}

// IsValid reports whether parsing succeeded.
func (e *PathExpression) IsValid() bool {
	return e.err == nil
}

// Err returns the parse failure, or nil.
func (e *PathExpression) Err() error {
	return e.err
}

// Start returns the start pattern.
func (e *PathExpression) Start() NodePattern {
	return copyPattern(e.start)
}

// Steps returns a copy of the steps.
func (e *PathExpression) Steps() []Step {
	steps := make([]Step, len(e.steps))
	for i, s := range e.steps {
		s.Target = copyPattern(s.Target)
		steps[i] = s
	}
	return steps
}

// StepCount returns the number of steps.
func (e *PathExpression) StepCount() int {
	return len(e.steps)
}

// String renders the canonical form of a valid expression. Invalid
// expressions return the original input unchanged.
func (e *PathExpression) String() string {
	if e.err != nil {
		return e.raw
	}
	var b strings.Builder
	writePattern(&b, e.start)
	for _, s := range e.steps {
		b.WriteString(renderConnector(s.Direction, s.EdgeKind))
		writePattern(&b, s.Target)
	}
	return b.String()
}

func copyPattern(p NodePattern) NodePattern {
	if p.Constraints != nil {
		p.Constraints = append([]Constraint(nil), p.Constraints...)
	}
	return p
}

func writePattern(b *strings.Builder, p NodePattern) {
	switch p.Kind {
	case PatternWildcard:
		b.WriteString("*")
	case PatternAnyPath:
		if p.MaxHops < 0 {
			b.WriteString("**")
		} else {
			fmt.Fprintf(b, "**{%d,%d}", p.MinHops, p.MaxHops)
		}
	default:
		b.WriteString(p.Value)
	}
	if len(p.Constraints) == 0 {
		return
	}
	b.WriteString("{")
	for i, c := range p.Constraints {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(c.Key)
		b.WriteString(":")
		b.WriteString(renderLiteral(c.Value))
	}
	b.WriteString("}")
}

func renderConnector(d Direction, edgeKind string) string {
	switch d {
	case DirectionOutgoing:
		if edgeKind == "" {
			return "->"
		}
		return "-[" + edgeKind + "]->"
	case DirectionIncoming:
		if edgeKind == "" {
			return "<-"
		}
		return "<-[" + edgeKind + "]-"
	case DirectionBoth:
		if edgeKind == "" {
			return "<->"
		}
		return "<-[" + edgeKind + "]->"
	default:
		return ""
	}
}

func renderLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
