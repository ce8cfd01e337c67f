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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

const (
	// DefaultMaxSweeps bounds how often Optimize re-runs the pass list.
	DefaultMaxSweeps = 10

	// MinMaxSweeps is the lowest accepted sweep bound.
	MinMaxSweeps = 1

	// MaxMaxSweeps is the highest accepted sweep bound.
	MaxMaxSweeps = 100

	pipelineTracerName = "patchwork.optimize"
)

// Pipeline runs an ordered list of passes over a graph.
//
// # Description
//
// Run performs a single sweep, applying each enabled pass once in
// order and feeding each pass's output to the next. Optimize repeats
// sweeps until a full sweep changes nothing or the sweep bound is
// reached. Like the passes themselves, the pipeline never mutates its
// input graph.
//
// # Ownership Model
//
// The pipeline owns its passes; callers interact with them through
// Pass and Passes for enabling or disabling individual rewrites.
//
// # Thread Safety
//
// Safe for concurrent use as long as each call operates on its own
// graph.
type Pipeline struct {
	passes    []Pass
	maxSweeps int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// PipelineResult is the outcome of a Run or Optimize call.
type PipelineResult struct {
	// Graph is the resulting graph. It is the input graph when
	// Modified is false and a rewritten clone otherwise.
	Graph *graph.Graph

	// Modified reports whether any pass changed the graph.
	Modified bool

	// Sweeps is the number of full sweeps performed.
	Sweeps int

	// PerPass holds each pass's cumulative stats, keyed by pass name.
	PerPass map[string]Stats

	// Duration is wall time spent in the call.
	Duration time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPasses replaces the pipeline's pass list.
func WithPasses(passes ...Pass) PipelineOption {
	return func(p *Pipeline) {
		p.passes = passes
	}
}

// WithMaxSweeps bounds Optimize's sweep loop. Values outside [1, 100]
// are clamped.
func WithMaxSweeps(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxSweeps = n
		}
	}
}

// WithLogger sets the logger used for pipeline diagnostics.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline returns a pipeline with the given configuration and no
// default passes.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		maxSweeps: DefaultMaxSweeps,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxSweeps < MinMaxSweeps {
		p.maxSweeps = MinMaxSweeps
	}
	if p.maxSweeps > MaxMaxSweeps {
		p.maxSweeps = MaxMaxSweeps
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "optimize.Pipeline")
	}
	p.tracer = otel.Tracer(pipelineTracerName)
	return p
}

// Default returns a pipeline with the canonical pass order: constant
// folding, strength reduction, common subexpression elimination,
// inline expansion, dead code elimination.
func Default(opts ...PipelineOption) *Pipeline {
	passes := []Pass{
		NewConstantFolding(),
		NewStrengthReduction(),
		NewCSE(),
		NewInlineExpansion(),
		NewDeadCodeElimination(),
	}
	return NewPipeline(append([]PipelineOption{WithPasses(passes...)}, opts...)...)
}

// Passes returns the pipeline's passes in execution order.
func (p *Pipeline) Passes() []Pass {
	out := make([]Pass, len(p.passes))
	copy(out, p.passes)
	return out
}

// Pass returns the pass with the given name.
func (p *Pipeline) Pass(name string) (Pass, bool) {
	for _, pass := range p.passes {
		if pass.Name() == name {
			return pass, true
		}
	}
	return nil, false
}

// Run applies each enabled pass once, in order.
func (p *Pipeline) Run(ctx context.Context, g *graph.Graph) (*PipelineResult, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if len(p.passes) == 0 {
		return nil, ErrNoPasses
	}

	ctx, span := p.tracer.Start(ctx, "optimize.run",
		trace.WithAttributes(
			attribute.String("graph", g.Name()),
			attribute.Int("nodes", g.NodeCount()),
		))
	defer span.End()

	start := time.Now()
	current, modified, err := p.sweep(ctx, g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")

	return &PipelineResult{
		Graph:    current,
		Modified: modified,
		Sweeps:   1,
		PerPass:  p.collectStats(),
		Duration: time.Since(start),
	}, nil
}

// Optimize repeats sweeps until one changes nothing or the sweep bound
// is reached.
func (p *Pipeline) Optimize(ctx context.Context, g *graph.Graph) (*PipelineResult, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if len(p.passes) == 0 {
		return nil, ErrNoPasses
	}

	ctx, span := p.tracer.Start(ctx, "optimize.optimize",
		trace.WithAttributes(
			attribute.String("graph", g.Name()),
			attribute.Int("nodes", g.NodeCount()),
		))
	defer span.End()

	start := time.Now()
	current := g
	modified := false
	converged := false
	sweeps := 0
	for sweeps < p.maxSweeps {
		next, changed, err := p.sweep(ctx, current)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		sweeps++
		if !changed {
			converged = true
			break
		}
		modified = true
		current = next
	}
	if !converged && modified {
		p.logger.Debug("pipeline stopped at sweep bound",
			"graph", g.Name(),
			"sweeps", sweeps)
	}
	span.SetAttributes(attribute.Int("sweeps", sweeps))
	span.SetStatus(codes.Ok, "")
	recordSweeps(ctx, sweeps)

	return &PipelineResult{
		Graph:    current,
		Modified: modified,
		Sweeps:   sweeps,
		PerPass:  p.collectStats(),
		Duration: time.Since(start),
	}, nil
}

// sweep applies each enabled pass once and reports whether anything
// changed.
func (p *Pipeline) sweep(ctx context.Context, g *graph.Graph) (*graph.Graph, bool, error) {
	current := g
	modified := false
	for _, pass := range p.passes {
		if !pass.Enabled() {
			continue
		}
		res, err := pass.Apply(ctx, current)
		if err != nil {
			return nil, false, fmt.Errorf("pass %s: %w", pass.Name(), err)
		}
		if res.Modified {
			modified = true
			p.logger.Debug("pass modified graph",
				"pass", pass.Name(),
				"iterations", res.Iterations,
				"nodes", res.Graph.NodeCount(),
				"edges", res.Graph.EdgeCount())
		}
		current = res.Graph
	}
	return current, modified, nil
}

func (p *Pipeline) collectStats() map[string]Stats {
	stats := make(map[string]Stats, len(p.passes))
	for _, pass := range p.passes {
		stats[pass.Name()] = pass.Stats()
	}
	return stats
}
