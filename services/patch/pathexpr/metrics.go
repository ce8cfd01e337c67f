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
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("patchwork.pathexpr")

var (
	findTotal    metric.Int64Counter
	findDuration metric.Float64Histogram
	matchCount   metric.Int64Histogram

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
		findTotal, metricsErr = meter.Int64Counter(
			"pathexpr.find.total",
			metric.WithDescription("Number of path searches"),
			metric.WithUnit("{search}"),
		)
		if metricsErr != nil {
			return
		}
		findDuration, metricsErr = meter.Float64Histogram(
			"pathexpr.find.duration",
			metric.WithDescription("Duration of path searches"),
			metric.WithUnit("s"),
		)
		if metricsErr != nil {
			return
		}
		matchCount, metricsErr = meter.Int64Histogram(
			"pathexpr.find.matches",
			metric.WithDescription("Matches per search"),
			metric.WithUnit("{match}"),
		)
	})
	return metricsErr
}

// recordFind records one completed search.
func recordFind(ctx context.Context, duration time.Duration, matches int, success bool) {
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
	findTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
	findDuration.Record(ctx, duration.Seconds())
	if success {
		matchCount.Record(ctx, int64(matches))
	}
}
