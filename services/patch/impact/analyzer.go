// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package impact answers "what breaks if this node changes" over a
// compute graph.
package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

const (
	// MaxMaxDepth caps the configurable traversal depth.
	MaxMaxDepth = 1000

	// contextCheckInterval is how many dequeues pass between context
	// checks during traversal.
	contextCheckInterval = 100

	impactTracerName = "patchwork.impact"
)

// ErrNilGraph is returned when an analyzer is created without a graph.
var ErrNilGraph = errors.New("graph is nil")

// Analyzer computes downstream impact over a compute graph.
//
// # Description
//
// Walks outgoing edges breadth-first from changed nodes to determine
// what depends on them, how far away each dependent is, and through
// which path the change propagates. Provides union analysis over
// several origins, layer grouping for staged rollouts, critical node
// ranking, and update cost estimation.
//
// # Thread Safety
//
// All methods are safe for concurrent use as long as the graph is not
// mutated during analysis.
type Analyzer struct {
	g      *graph.Graph
	logger *slog.Logger
	tracer trace.Tracer
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithLogger sets the logger used for analysis diagnostics.
func WithLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer creates an analyzer over the given graph.
//
// # Inputs
//
//   - g: Graph to analyze. Must not be nil.
//   - opts: Optional configuration.
//
// # Outputs
//
//   - *Analyzer: Ready-to-use analyzer.
//   - error: ErrNilGraph when g is nil.
func NewAnalyzer(g *graph.Graph, opts ...AnalyzerOption) (*Analyzer, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	a := &Analyzer{
		g:      g,
		tracer: otel.Tracer(impactTracerName),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default().With("component", "impact.Analyzer")
	}
	return a, nil
}

// Options bound and filter a traversal.
type Options struct {
	// MaxDepth stops expansion past this hop distance. Zero means
	// unbounded; values above 1000 are clamped.
	MaxDepth int

	// ExcludeNodes are pruned before they are enqueued. The origin is
	// never pruned.
	ExcludeNodes []string

	// EdgeFilter prunes individual edges when it returns false. Nil
	// keeps every edge.
	EdgeFilter func(*graph.Edge) bool

	// IncludePaths controls whether shortest paths are collected.
	IncludePaths bool
}

// AnalyzeOption configures a single analysis call.
type AnalyzeOption func(*Options)

// WithMaxDepth bounds the traversal depth. Zero means unbounded.
func WithMaxDepth(depth int) AnalyzeOption {
	return func(o *Options) {
		o.MaxDepth = depth
	}
}

// WithExcludeNodes prunes the given nodes from the traversal.
func WithExcludeNodes(ids ...string) AnalyzeOption {
	return func(o *Options) {
		o.ExcludeNodes = append(o.ExcludeNodes, ids...)
	}
}

// WithEdgeFilter prunes edges the filter rejects.
func WithEdgeFilter(filter func(*graph.Edge) bool) AnalyzeOption {
	return func(o *Options) {
		o.EdgeFilter = filter
	}
}

// WithIncludePaths toggles shortest path collection. On by default.
func WithIncludePaths(include bool) AnalyzeOption {
	return func(o *Options) {
		o.IncludePaths = include
	}
}

func buildOptions(opts []AnalyzeOption) Options {
	options := Options{IncludePaths: true}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxDepth < 0 {
		options.MaxDepth = 0
	}
	if options.MaxDepth > MaxMaxDepth {
		options.MaxDepth = MaxMaxDepth
	}
	return options
}

// Analyze computes everything downstream of one changed node.
//
// # Description
//
// Performs a breadth-first traversal strictly along outgoing edges
// from the origin. The visited set guarantees termination on cyclic
// graphs and shortest-hop distances. Excluded nodes are pruned before
// they are enqueued; the edge filter prunes per edge; the depth bound
// stops expansion and flags the result as truncated when anything lay
// beyond it.
//
// # Inputs
//
//   - ctx: Context for cancellation, checked every 100 dequeues.
//   - changedNodeID: Origin node. Must exist in the graph.
//   - opts: Traversal options.
//
// # Outputs
//
//   - *Result: Affected nodes, distances, and paths.
//   - error: graph.ErrNodeNotFound when the origin is absent.
//
// # Example
//
//	analyzer, _ := impact.NewAnalyzer(g)
//	result, err := analyzer.Analyze(ctx, "price_feed")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d nodes affected\n", len(result.Affected))
func (a *Analyzer) Analyze(ctx context.Context, changedNodeID string, opts ...AnalyzeOption) (*Result, error) {
	options := buildOptions(opts)

	ctx, span := a.tracer.Start(ctx, "impact.analyze",
		trace.WithAttributes(
			attribute.String("origin", changedNodeID),
			attribute.Int("max_depth", options.MaxDepth),
		))
	defer span.End()

	start := time.Now()
	result, err := a.analyze(ctx, changedNodeID, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordAnalyze(ctx, time.Since(start), 0, false)
		return nil, err
	}
	span.SetAttributes(attribute.Int("affected", len(result.Affected)))
	span.SetStatus(codes.Ok, "")
	recordAnalyze(ctx, time.Since(start), len(result.Affected), true)

	a.logger.Debug("impact analysis complete",
		"origin", changedNodeID,
		"affected", len(result.Affected),
		"truncated", result.Truncated)
	return result, nil
}

func (a *Analyzer) analyze(ctx context.Context, origin string, options Options) (*Result, error) {
	if !a.g.HasNode(origin) {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, origin)
	}

	excluded := make(map[string]bool, len(options.ExcludeNodes))
	for _, id := range options.ExcludeNodes {
		excluded[id] = true
	}

	result := &Result{
		Origin:    origin,
		Affected:  make([]string, 0),
		Distances: map[string]int{origin: 0},
		MaxDepth:  options.MaxDepth,
	}
	if options.IncludePaths {
		result.Paths = map[string][]string{origin: {origin}}
	}

	visited := map[string]bool{origin: true}
	queue := []string{origin}
	dequeues := 0
	for len(queue) > 0 {
		dequeues++
		if dequeues%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		current := queue[0]
		queue = queue[1:]
		depth := result.Distances[current]

		if options.MaxDepth > 0 && depth >= options.MaxDepth {
			if !result.Truncated && a.hasEligibleSuccessor(current, visited, excluded, options.EdgeFilter) {
				result.Truncated = true
			}
			continue
		}

		for _, e := range a.g.Outgoing(current) {
			if options.EdgeFilter != nil && !options.EdgeFilter(e) {
				continue
			}
			if excluded[e.To] || visited[e.To] {
				continue
			}
			visited[e.To] = true
			result.Distances[e.To] = depth + 1
			if options.IncludePaths {
				path := make([]string, 0, len(result.Paths[current])+1)
				path = append(path, result.Paths[current]...)
				path = append(path, e.To)
				result.Paths[e.To] = path
			}
			result.Affected = append(result.Affected, e.To)
			queue = append(queue, e.To)
		}
	}

	return result, nil
}

// hasEligibleSuccessor reports whether current has an outgoing edge
// the traversal would have followed.
func (a *Analyzer) hasEligibleSuccessor(current string, visited, excluded map[string]bool, filter func(*graph.Edge) bool) bool {
	for _, e := range a.g.Outgoing(current) {
		if filter != nil && !filter(e) {
			continue
		}
		if excluded[e.To] || visited[e.To] {
			continue
		}
		return true
	}
	return false
}

// AnalyzeMultiple unions the impact of several changed nodes.
//
// # Description
//
// Runs one analysis per distinct origin and merges the results: each
// affected node carries its minimum distance over all origins and the
// sorted set of origins that reached it. Any missing origin fails the
// whole call before traversal starts.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - changedNodeIDs: Origin nodes. Duplicates are analyzed once.
//   - opts: Traversal options, applied to every origin.
//
// # Outputs
//
//   - *MultiResult: Merged affected set.
//   - error: graph.ErrNodeNotFound when any origin is absent.
func (a *Analyzer) AnalyzeMultiple(ctx context.Context, changedNodeIDs []string, opts ...AnalyzeOption) (*MultiResult, error) {
	origins := make([]string, 0, len(changedNodeIDs))
	seen := make(map[string]bool, len(changedNodeIDs))
	for _, id := range changedNodeIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !a.g.HasNode(id) {
			return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
		}
		origins = append(origins, id)
	}

	result := &MultiResult{
		Origins:      origins,
		Affected:     make([]string, 0),
		Distances:    make(map[string]int),
		Contributors: make(map[string][]string),
	}
	for _, origin := range origins {
		single, err := a.Analyze(ctx, origin, opts...)
		if err != nil {
			return nil, err
		}
		if single.Truncated {
			result.Truncated = true
		}
		for _, id := range single.Affected {
			distance := single.Distances[id]
			if _, known := result.Distances[id]; !known {
				result.Affected = append(result.Affected, id)
				result.Distances[id] = distance
			} else if distance < result.Distances[id] {
				result.Distances[id] = distance
			}
			result.Contributors[id] = append(result.Contributors[id], origin)
		}
	}
	for _, contributors := range result.Contributors {
		sort.Strings(contributors)
	}

	return result, nil
}

// ComputeLayers groups a result by hop distance.
//
// # Description
//
// Layer 0 holds the origin, layer n the nodes exactly n hops out.
// Within a layer, nodes keep their BFS discovery order. Useful for
// staged propagation where each layer is updated before the next.
func ComputeLayers(result *Result) [][]string {
	if result == nil {
		return nil
	}
	maxDistance := 0
	for _, d := range result.Distances {
		if d > maxDistance {
			maxDistance = d
		}
	}
	layers := make([][]string, maxDistance+1)
	layers[0] = []string{result.Origin}
	for _, id := range result.Affected {
		d := result.Distances[id]
		layers[d] = append(layers[d], id)
	}
	return layers
}

// FindCriticalPaths ranks every node by the size of its downstream
// impact.
//
// # Description
//
// Runs one analysis per node and sorts nodes by affected count
// descending, ties broken by id. The cost is O(V*(V+E)); intended for
// offline diagnostics, not hot paths.
//
// # Inputs
//
//   - ctx: Context for cancellation, checked between analyses.
//   - opts: Traversal options, applied to every analysis.
//
// # Outputs
//
//   - []CriticalNode: Every node, most impactful first.
//   - error: Non-nil on cancellation.
func (a *Analyzer) FindCriticalPaths(ctx context.Context, opts ...AnalyzeOption) ([]CriticalNode, error) {
	ctx, span := a.tracer.Start(ctx, "impact.find_critical_paths",
		trace.WithAttributes(attribute.Int("nodes", a.g.NodeCount())))
	defer span.End()

	critical := make([]CriticalNode, 0, a.g.NodeCount())
	for _, id := range a.g.NodeIDs() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result, err := a.Analyze(ctx, id, opts...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		maxDistance := 0
		for _, d := range result.Distances {
			if d > maxDistance {
				maxDistance = d
			}
		}
		critical = append(critical, CriticalNode{
			ID:            id,
			AffectedCount: len(result.Affected),
			MaxDistance:   maxDistance,
		})
	}
	sort.Slice(critical, func(i, j int) bool {
		if critical[i].AffectedCount != critical[j].AffectedCount {
			return critical[i].AffectedCount > critical[j].AffectedCount
		}
		return critical[i].ID < critical[j].ID
	})
	span.SetStatus(codes.Ok, "")
	return critical, nil
}

// EstimateUpdateCost prices the propagation of one change.
//
// # Description
//
// Analyzes the origin's impact and sums the cost function over the
// origin and every affected node. A nil cost function uses
// DefaultCost.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - changedNodeID: Origin node. Must exist in the graph.
//   - costFn: Per-node price. Nil uses DefaultCost.
//   - opts: Traversal options.
//
// # Outputs
//
//   - *CostEstimate: Total and per-node costs.
//   - error: graph.ErrNodeNotFound when the origin is absent.
func (a *Analyzer) EstimateUpdateCost(ctx context.Context, changedNodeID string, costFn CostFunc, opts ...AnalyzeOption) (*CostEstimate, error) {
	if costFn == nil {
		costFn = DefaultCost
	}
	result, err := a.Analyze(ctx, changedNodeID, opts...)
	if err != nil {
		return nil, err
	}

	estimate := &CostEstimate{
		PerNode: make(map[string]float64, len(result.Affected)+1),
	}
	price := func(id string) {
		node, ok := a.g.GetNode(id)
		if !ok {
			return
		}
		cost := costFn(node)
		estimate.PerNode[id] = cost
		estimate.Total += cost
	}
	price(result.Origin)
	for _, id := range result.Affected {
		price(id)
	}
	estimate.Nodes = len(estimate.PerNode)
	return estimate, nil
}
