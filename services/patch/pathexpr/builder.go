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
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Builder composes path expressions without string concatenation.
//
// # Description
//
// Builder offers a fluent API over the same language From parses:
// Node sets the start, To/From/Both append typed or untyped hops,
// Any and AnyPath append wildcard hops, and Where constrains the most
// recent segment. Build renders the canonical text and parses it, so
// the builder cannot produce anything the parser would reject
// silently. Errors accumulate and surface on the built expression;
// nothing panics.
//
// # Thread Safety
//
// Builder is not safe for concurrent use. Compose in one goroutine.
//
// # Example
//
//	expr := pathexpr.NewBuilder().
//	    Node("sensor").
//	    To("*", "feeds").
//	    AnyPath(0, 3).
//	    To("Output").
//	    Build()
type Builder struct {
	start *builderPattern
	steps []builderStep
	errs  []error
}

type builderPattern struct {
	segment     string
	constraints []Constraint
}

type builderStep struct {
	connector string
	pattern   builderPattern
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Node sets the start segment. Calling it twice records an error.
func (b *Builder) Node(id string) *Builder {
	if b.start != nil {
		b.errs = append(b.errs, errors.New("start pattern already set"))
		return b
	}
	if !isIdentifier(id) {
		b.errs = append(b.errs, fmt.Errorf("invalid node id %q", id))
		return b
	}
	b.start = &builderPattern{segment: id}
	return b
}

// To appends an outgoing hop, optionally restricted to one edge kind.
func (b *Builder) To(target string, edgeKind ...string) *Builder {
	return b.step(DirectionOutgoing, target, edgeKind)
}

// From appends an incoming hop, optionally restricted to one edge
// kind.
func (b *Builder) From(target string, edgeKind ...string) *Builder {
	return b.step(DirectionIncoming, target, edgeKind)
}

// Both appends a bidirectional hop, optionally restricted to one edge
// kind.
func (b *Builder) Both(target string, edgeKind ...string) *Builder {
	return b.step(DirectionBoth, target, edgeKind)
}

// Any appends an outgoing hop to any single node. As the first call
// it sets the start pattern instead.
func (b *Builder) Any() *Builder {
	return b.segment("*")
}

// AnyPath appends an outgoing variable-length run of minHops to
// maxHops nodes. A maxHops of -1 means unbounded, which requires
// minHops 0. As the first call it sets the start pattern instead.
func (b *Builder) AnyPath(minHops, maxHops int) *Builder {
	segment, err := anyPathSegment(minHops, maxHops)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	return b.segment(segment)
}

// Where constrains the most recent segment. Supported value types are
// strings, bools, ints, and floats.
func (b *Builder) Where(key string, value any) *Builder {
	target := b.lastPattern()
	if target == nil {
		b.errs = append(b.errs, errors.New("constraint before any pattern"))
		return b
	}
	if !isIdentifier(key) {
		b.errs = append(b.errs, fmt.Errorf("invalid constraint key %q", key))
		return b
	}
	switch value.(type) {
	case string, bool, int, int64, float64:
	default:
		b.errs = append(b.errs, fmt.Errorf("unsupported constraint value type %T", value))
		return b
	}
	target.constraints = append(target.constraints, Constraint{Key: key, Value: value})
	return b
}

// Build renders the accumulated pattern and parses it.
//
// The returned expression is never nil; accumulated builder errors or
// parse failures surface through IsValid and Err.
func (b *Builder) Build() *PathExpression {
	if len(b.errs) > 0 {
		return &PathExpression{err: b.errs[0]}
	}
	if b.start == nil {
		return &PathExpression{err: errors.New("empty pattern")}
	}
	var sb strings.Builder
	writeBuilderPattern(&sb, *b.start)
	for _, s := range b.steps {
		sb.WriteString(s.connector)
		writeBuilderPattern(&sb, s.pattern)
	}
	return From(sb.String())
}

func (b *Builder) step(direction Direction, target string, edgeKind []string) *Builder {
	if b.start == nil {
		b.errs = append(b.errs, errors.New("step before start pattern"))
		return b
	}
	if !isIdentifier(target) && target != "*" && target != "**" {
		b.errs = append(b.errs, fmt.Errorf("invalid step target %q", target))
		return b
	}
	kind := ""
	switch len(edgeKind) {
	case 0:
	case 1:
		kind = edgeKind[0]
		if !isIdentifier(kind) {
			b.errs = append(b.errs, fmt.Errorf("invalid edge kind %q", kind))
			return b
		}
	default:
		b.errs = append(b.errs, errors.New("at most one edge kind per step"))
		return b
	}
	b.steps = append(b.steps, builderStep{
		connector: renderConnector(direction, kind),
		pattern:   builderPattern{segment: target},
	})
	return b
}

// segment appends a wildcard-style segment, seeding the start when
// none is set yet.
func (b *Builder) segment(segment string) *Builder {
	if b.start == nil {
		b.start = &builderPattern{segment: segment}
		return b
	}
	b.steps = append(b.steps, builderStep{
		connector: "->",
		pattern:   builderPattern{segment: segment},
	})
	return b
}

func (b *Builder) lastPattern() *builderPattern {
	if len(b.steps) > 0 {
		return &b.steps[len(b.steps)-1].pattern
	}
	return b.start
}

func anyPathSegment(minHops, maxHops int) (string, error) {
	if minHops < 0 {
		return "", fmt.Errorf("negative min hops %d", minHops)
	}
	if maxHops < 0 {
		if minHops != 0 {
			return "", fmt.Errorf("unbounded hop range requires min 0, got %d", minHops)
		}
		return "**", nil
	}
	if maxHops < minHops {
		return "", fmt.Errorf("hop bounds out of order: %d > %d", minHops, maxHops)
	}
	return fmt.Sprintf("**{%d,%d}", minHops, maxHops), nil
}

func writeBuilderPattern(sb *strings.Builder, p builderPattern) {
	sb.WriteString(p.segment)
	if len(p.constraints) == 0 {
		return
	}
	sb.WriteString("{")
	for i, c := range p.constraints {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(c.Key)
		sb.WriteString(":")
		sb.WriteString(renderLiteral(c.Value))
	}
	sb.WriteString("}")
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' {
			continue
		}
		return false
	}
	return true
}
