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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

const (
	// DefaultMaxIterations bounds the per-pass fixed point loop.
	DefaultMaxIterations = 10

	// MinMaxIterations is the lowest accepted iteration bound.
	MinMaxIterations = 1

	// MaxMaxIterations is the highest accepted iteration bound.
	MaxMaxIterations = 100
)

// Pass is a single graph rewrite applied to a fixed point.
//
// Description:
//
//	Apply never mutates its input graph. When nothing matches, the
//	returned Result carries the input graph and Modified=false; when the
//	pass rewrites, the Result graph is a modified clone. Applying a pass
//	to its own output changes nothing.
type Pass interface {
	// Name returns the stable pass name used in stats and metrics.
	Name() string

	// Enabled reports whether Apply will do any work.
	Enabled() bool

	// SetEnabled toggles the pass on or off.
	SetEnabled(enabled bool)

	// Apply runs the pass on g until no further rewrite applies or the
	// iteration bound is reached.
	Apply(ctx context.Context, g *graph.Graph) (*Result, error)

	// Stats returns a snapshot of the pass's cumulative counters.
	Stats() Stats

	// ResetStats zeroes the cumulative counters.
	ResetStats()
}

// Result is the outcome of one Apply call.
type Result struct {
	// Graph is the resulting graph. It is the input graph when
	// Modified is false and a rewritten clone otherwise.
	Graph *graph.Graph

	// Modified reports whether any rewrite was performed.
	Modified bool

	// Iterations is the number of scan-and-rewrite rounds performed,
	// including the final round that found nothing to change.
	Iterations int
}

// Stats holds cumulative counters for a pass across Apply calls.
type Stats struct {
	// Applications counts Apply calls, including failed ones.
	Applications int64

	// Iterations counts scan-and-rewrite rounds across all calls.
	Iterations int64

	// NodesFolded counts operation nodes replaced by constants.
	NodesFolded int64

	// NodesRemoved counts nodes deleted from the graph.
	NodesRemoved int64

	// NodesRewritten counts nodes whose kind or value changed in place.
	NodesRewritten int64

	// NodesInlined counts subgraph nodes copied into a host graph.
	NodesInlined int64

	// EdgesRemoved counts edges deleted from the graph.
	EdgesRemoved int64

	// EdgesRewritten counts edges redirected to a new endpoint.
	EdgesRewritten int64

	// TotalDuration is wall time spent inside Apply.
	TotalDuration time.Duration

	// LastModified records whether the most recent Apply changed the graph.
	LastModified bool
}

// applyOnceFunc performs one scan-and-rewrite round. It returns the
// input graph and changed=false when nothing matched, or a rewritten
// clone and changed=true.
type applyOnceFunc func(ctx context.Context, g *graph.Graph) (*graph.Graph, bool, error)

// BasePass carries the name, toggle, iteration bound, and stats shared
// by every pass, and drives the fixed point loop around an applyOnce
// round.
type BasePass struct {
	name          string
	maxIterations int

	mu      sync.Mutex
	enabled bool
	stats   Stats

	logger *slog.Logger
}

// PassOption configures the shared portion of a pass.
type PassOption func(*BasePass)

// WithMaxIterations bounds the pass's fixed point loop. Values outside
// [1, 100] are clamped.
func WithMaxIterations(n int) PassOption {
	return func(p *BasePass) {
		if n > 0 {
			p.maxIterations = n
		}
	}
}

// WithPassLogger sets the logger used for pass diagnostics.
func WithPassLogger(logger *slog.Logger) PassOption {
	return func(p *BasePass) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func newBasePass(name string, opts ...PassOption) BasePass {
	p := BasePass{
		name:          name,
		maxIterations: DefaultMaxIterations,
		enabled:       true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.maxIterations < MinMaxIterations {
		p.maxIterations = MinMaxIterations
	}
	if p.maxIterations > MaxMaxIterations {
		p.maxIterations = MaxMaxIterations
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "optimize."+name)
	}
	return p
}

// Name returns the stable pass name.
func (p *BasePass) Name() string {
	return p.name
}

// Enabled reports whether the pass will do any work.
func (p *BasePass) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// SetEnabled toggles the pass on or off.
func (p *BasePass) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Stats returns a snapshot of the cumulative counters.
func (p *BasePass) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetStats zeroes the cumulative counters.
func (p *BasePass) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = Stats{}
}

// run drives applyOnce to a fixed point or to the iteration bound.
//
// Description:
//
//	Each round scans the current graph and either returns it unchanged
//	or produces a rewritten clone that becomes the input to the next
//	round. A disabled pass returns its input untouched without counting
//	an application.
func (p *BasePass) run(ctx context.Context, g *graph.Graph, applyOnce applyOnceFunc) (result *Result, err error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	if !p.Enabled() {
		return &Result{Graph: g}, nil
	}

	start := time.Now()
	defer func() {
		duration := time.Since(start)
		modified := result != nil && result.Modified
		iterations := 0
		if result != nil {
			iterations = result.Iterations
		}
		p.mu.Lock()
		p.stats.Applications++
		p.stats.Iterations += int64(iterations)
		p.stats.TotalDuration += duration
		p.stats.LastModified = modified
		p.mu.Unlock()
		recordApply(ctx, p.name, duration, modified, err == nil)
	}()

	current := g
	modified := false
	converged := false
	iterations := 0
	for iterations < p.maxIterations {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		next, changed, roundErr := applyOnce(ctx, current)
		if roundErr != nil {
			return nil, roundErr
		}
		iterations++
		if !changed {
			converged = true
			break
		}
		modified = true
		current = next
	}

	if !converged && modified {
		p.logger.Debug("pass stopped at iteration bound",
			"pass", p.name,
			"iterations", iterations)
	}

	return &Result{Graph: current, Modified: modified, Iterations: iterations}, nil
}

// addStats applies fn to the cumulative counters under the pass lock.
func (p *BasePass) addStats(fn func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.stats)
}
