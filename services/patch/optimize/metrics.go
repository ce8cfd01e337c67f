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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("patchwork.optimize")

var (
	applyTotal        metric.Int64Counter
	applyDuration     metric.Float64Histogram
	nodesRemovedTotal metric.Int64Counter
	sweepsHistogram   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled toggles metric recording for the package.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

func initMetrics() error {
	metricsOnce.Do(func() {
		applyTotal, metricsErr = meter.Int64Counter(
			"optimize.pass.applications",
			metric.WithDescription("Number of pass applications"),
			metric.WithUnit("{application}"),
		)
		if metricsErr != nil {
			return
		}
		applyDuration, metricsErr = meter.Float64Histogram(
			"optimize.pass.duration",
			metric.WithDescription("Duration of pass applications"),
			metric.WithUnit("s"),
		)
		if metricsErr != nil {
			return
		}
		nodesRemovedTotal, metricsErr = meter.Int64Counter(
			"optimize.pass.nodes_removed",
			metric.WithDescription("Number of nodes removed by passes"),
			metric.WithUnit("{node}"),
		)
		if metricsErr != nil {
			return
		}
		sweepsHistogram, metricsErr = meter.Int64Histogram(
			"optimize.pipeline.sweeps",
			metric.WithDescription("Sweeps needed to reach a fixed point"),
			metric.WithUnit("{sweep}"),
		)
	})
	return metricsErr
}

// recordApply records one completed pass application.
func recordApply(ctx context.Context, pass string, duration time.Duration, modified, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("pass", normalizePass(pass)),
		attribute.String("status", status),
		attribute.Bool("modified", modified),
	)
	applyTotal.Add(ctx, 1, attrs)
	applyDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("pass", normalizePass(pass))))
}

// recordNodesRemoved records nodes removed by a pass round.
func recordNodesRemoved(ctx context.Context, pass string, n int64) {
	if !metricsEnabled.Load() || n <= 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	nodesRemovedTotal.Add(ctx, n,
		metric.WithAttributes(attribute.String("pass", normalizePass(pass))))
}

// recordSweeps records how many sweeps a pipeline run took.
func recordSweeps(ctx context.Context, sweeps int) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	sweepsHistogram.Record(ctx, int64(sweeps))
}

// normalizePass bounds the pass attribute to the built-in pass names so
// custom passes cannot explode metric cardinality.
func normalizePass(pass string) string {
	switch pass {
	case "constant_folding", "strength_reduction", "cse", "inline_expansion", "dead_code_elimination":
		return pass
	default:
		return "other"
	}
}
