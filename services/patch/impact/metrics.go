// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package impact

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("patchwork.impact")

var (
	analyzeTotal    metric.Int64Counter
	analyzeDuration metric.Float64Histogram
	affectedCount   metric.Int64Histogram

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
		analyzeTotal, metricsErr = meter.Int64Counter(
			"impact.analyze.total",
			metric.WithDescription("Number of impact analyses"),
			metric.WithUnit("{analysis}"),
		)
		if metricsErr != nil {
			return
		}
		analyzeDuration, metricsErr = meter.Float64Histogram(
			"impact.analyze.duration",
			metric.WithDescription("Duration of impact analyses"),
			metric.WithUnit("s"),
		)
		if metricsErr != nil {
			return
		}
		affectedCount, metricsErr = meter.Int64Histogram(
			"impact.analyze.affected",
			metric.WithDescription("Affected nodes per analysis"),
			metric.WithUnit("{node}"),
		)
	})
	return metricsErr
}

// recordAnalyze records one completed analysis.
func recordAnalyze(ctx context.Context, duration time.Duration, affected int, success bool) {
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
	analyzeTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
	analyzeDuration.Record(ctx, duration.Seconds())
	if success {
		affectedCount.Record(ctx, int64(affected))
	}
}
