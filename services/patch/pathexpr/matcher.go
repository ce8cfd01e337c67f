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
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

const (
	// DefaultMaxMatches bounds Find results when no option overrides
	// it.
	DefaultMaxMatches = 100

	// MaxMaxMatches caps the configurable result bound.
	MaxMaxMatches = 10000

	// contextCheckInterval is how many path extensions pass between
	// context checks.
	contextCheckInterval = 100

	matcherTracerName = "patchwork.pathexpr"
)

// Match is one concrete binding of an expression: the node ids along
// the path, start first.
type Match struct {
	NodeIDs []string
}

// MatchSet holds the matches found for one expression.
type MatchSet struct {
	// Matches are the bindings in discovery order.
	Matches []Match

	// Truncated is true when more matches existed beyond the bound.
	Truncated bool
}

// MatchOption configures a single Find call.
type MatchOption func(*matchOptions)

type matchOptions struct {
	maxMatches int
}

// WithMaxMatches bounds the number of matches returned. Values above
// 10000 are clamped.
func WithMaxMatches(n int) MatchOption {
	return func(o *matchOptions) {
		if n > 0 {
			o.maxMatches = n
		}
	}
}

func buildMatchOptions(opts []MatchOption) matchOptions {
	options := matchOptions{maxMatches: DefaultMaxMatches}
	for _, opt := range opts {
		opt(&options)
	}
	if options.maxMatches > MaxMaxMatches {
		options.maxMatches = MaxMaxMatches
	}
	return options
}

// Find returns every path in the graph the expression matches.
//
// # Description
//
// Every node matching the start pattern seeds a depth-first search
// that follows the expression's steps. Matches bind one graph node per
// segment, in path order, and never revisit a node within one path,
// which makes wildcard and variable-length segments safe on cyclic
// graphs. Results arrive in discovery order: start nodes in graph
// insertion order, successors in adjacency order, shorter runs before
// longer ones.
//
// # Inputs
//
//   - ctx: Context for cancellation, checked every 100 extensions.
//   - g: Graph to search. Must not be nil.
//   - expr: Parsed expression. Must be valid.
//   - opts: Optional result bound.
//
// # Outputs
//
//   - *MatchSet: Matches plus a truncation marker.
//   - error: ErrNilGraph or ErrInvalidExpression on bad input.
//
// # Example
//
//	expr := pathexpr.From("sensor-[feeds]->**->Output")
//	set, err := pathexpr.Find(ctx, g, expr, pathexpr.WithMaxMatches(10))
func Find(ctx context.Context, g *graph.Graph, expr *PathExpression, opts ...MatchOption) (*MatchSet, error) {
	options := buildMatchOptions(opts)

	tracer := otel.Tracer(matcherTracerName)
	ctx, span := tracer.Start(ctx, "pathexpr.find",
		trace.WithAttributes(attribute.Int("max_matches", options.maxMatches)))
	defer span.End()

	start := time.Now()
	if err := checkInputs(g, expr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordFind(ctx, time.Since(start), 0, false)
		return nil, err
	}

	// Search for one extra match so truncation is exact.
	set, err := search(ctx, g, expr, options.maxMatches+1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordFind(ctx, time.Since(start), 0, false)
		return nil, err
	}
	if len(set.Matches) > options.maxMatches {
		set.Matches = set.Matches[:options.maxMatches]
		set.Truncated = true
	}

	span.SetAttributes(
		attribute.Int("matches", len(set.Matches)),
		attribute.Bool("truncated", set.Truncated),
	)
	span.SetStatus(codes.Ok, "")
	recordFind(ctx, time.Since(start), len(set.Matches), true)
	return set, nil
}

// Exists reports whether the expression matches anywhere in the graph,
// stopping at the first match.
func Exists(ctx context.Context, g *graph.Graph, expr *PathExpression) (bool, error) {
	tracer := otel.Tracer(matcherTracerName)
	ctx, span := tracer.Start(ctx, "pathexpr.exists")
	defer span.End()

	if err := checkInputs(g, expr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	set, err := search(ctx, g, expr, 1)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("exists", len(set.Matches) > 0))
	span.SetStatus(codes.Ok, "")
	return len(set.Matches) > 0, nil
}

func checkInputs(g *graph.Graph, expr *PathExpression) error {
	if g == nil {
		return ErrNilGraph
	}
	if expr == nil {
		return fmt.Errorf("%w: expression is nil", ErrInvalidExpression)
	}
	if expr.err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, expr.err)
	}
	return nil
}

func search(ctx context.Context, g *graph.Graph, expr *PathExpression, limit int) (*MatchSet, error) {
	m := &matcher{
		g:     g,
		steps: expr.steps,
		limit: limit,
		set:   &MatchSet{Matches: make([]Match, 0)},
	}
	for _, id := range g.NodeIDs() {
		node, ok := g.GetNode(id)
		if !ok || !expr.start.Matches(node) {
			continue
		}
		stop, err := m.walk(ctx, id, 0, []string{id}, map[string]bool{id: true})
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
	}
	return m.set, nil
}

type matcher struct {
	g          *graph.Graph
	steps      []Step
	limit      int
	set        *MatchSet
	extensions int
}

// walk extends the path rooted at nodeID through steps[stepIdx:].
// onPath is the per-path visited set; path holds the bindings so far.
// Returns true when the search should stop.
func (m *matcher) walk(ctx context.Context, nodeID string, stepIdx int, path []string, onPath map[string]bool) (bool, error) {
	if err := m.checkContext(ctx); err != nil {
		return true, err
	}
	if stepIdx == len(m.steps) {
		m.set.Matches = append(m.set.Matches, Match{
			NodeIDs: append([]string(nil), path...),
		})
		return len(m.set.Matches) >= m.limit, nil
	}

	step := m.steps[stepIdx]
	if step.Target.Kind == PatternAnyPath {
		return m.walkRun(ctx, nodeID, stepIdx, 0, path, onPath)
	}
	for _, nextID := range m.successors(nodeID, step.Direction, step.EdgeKind) {
		if onPath[nextID] {
			continue
		}
		node, ok := m.g.GetNode(nextID)
		if !ok || !step.Target.Matches(node) {
			continue
		}
		onPath[nextID] = true
		stop, err := m.walk(ctx, nextID, stepIdx+1, append(path, nextID), onPath)
		delete(onPath, nextID)
		if stop || err != nil {
			return stop, err
		}
	}
	return false, nil
}

// walkRun expands a variable-length segment. depth counts the nodes
// consumed by the run so far; shorter runs are tried before longer
// ones.
func (m *matcher) walkRun(ctx context.Context, nodeID string, stepIdx, depth int, path []string, onPath map[string]bool) (bool, error) {
	if err := m.checkContext(ctx); err != nil {
		return true, err
	}
	step := m.steps[stepIdx]
	if depth >= step.Target.MinHops {
		stop, err := m.walk(ctx, nodeID, stepIdx+1, path, onPath)
		if stop || err != nil {
			return stop, err
		}
	}
	if step.Target.MaxHops >= 0 && depth >= step.Target.MaxHops {
		return false, nil
	}
	for _, nextID := range m.successors(nodeID, step.Direction, step.EdgeKind) {
		if onPath[nextID] {
			continue
		}
		node, ok := m.g.GetNode(nextID)
		if !ok || !step.Target.Matches(node) {
			continue
		}
		onPath[nextID] = true
		stop, err := m.walkRun(ctx, nextID, stepIdx, depth+1, append(path, nextID), onPath)
		delete(onPath, nextID)
		if stop || err != nil {
			return stop, err
		}
	}
	return false, nil
}

func (m *matcher) checkContext(ctx context.Context) error {
	m.extensions++
	if m.extensions%contextCheckInterval == 0 {
		return ctx.Err()
	}
	return nil
}

// successors lists candidate next nodes in adjacency order, deduped,
// honoring direction and edge kind.
func (m *matcher) successors(nodeID string, d Direction, edgeKind string) []string {
	var ids []string
	seen := make(map[string]bool)
	collect := func(edges []*graph.Edge, pick func(*graph.Edge) string) {
		for _, e := range edges {
			if edgeKind != "" && string(e.Kind) != edgeKind {
				continue
			}
			id := pick(e)
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	switch d {
	case DirectionOutgoing:
		collect(m.g.Outgoing(nodeID), func(e *graph.Edge) string { return e.To })
	case DirectionIncoming:
		collect(m.g.Incoming(nodeID), func(e *graph.Edge) string { return e.From })
	case DirectionBoth:
		collect(m.g.Outgoing(nodeID), func(e *graph.Edge) string { return e.To })
		collect(m.g.Incoming(nodeID), func(e *graph.Edge) string { return e.From })
	}
	return ids
}
