// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for checkpoint metrics.
var meter = otel.Meter("patchwork.checkpoint")

// Metric instruments for checkpoint operations.
var (
	createTotal      metric.Int64Counter
	evictTotal       metric.Int64Counter
	rollbackTotal    metric.Int64Counter
	rollbackDuration metric.Float64Histogram
	retainedGauge    metric.Int64UpDownCounter
	persistTotal     metric.Int64Counter
	persistErrTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
// Set by the Manager on initialization.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		createTotal, err = meter.Int64Counter(
			"checkpoint_create_total",
			metric.WithDescription("Total number of checkpoint create operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evictTotal, err = meter.Int64Counter(
			"checkpoint_evict_total",
			metric.WithDescription("Total number of checkpoints evicted by retention"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"checkpoint_rollback_total",
			metric.WithDescription("Total number of rollback operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackDuration, err = meter.Float64Histogram(
			"checkpoint_rollback_duration_seconds",
			metric.WithDescription("Duration of rollback replays in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		retainedGauge, err = meter.Int64UpDownCounter(
			"checkpoint_retained",
			metric.WithDescription("Number of checkpoints currently retained"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		persistTotal, err = meter.Int64Counter(
			"checkpoint_persist_total",
			metric.WithDescription("Total number of snapshots persisted to the store"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		persistErrTotal, err = meter.Int64Counter(
			"checkpoint_persist_errors_total",
			metric.WithDescription("Total number of failed snapshot persists"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordCreate records a checkpoint create operation.
func recordCreate(ctx context.Context, success bool) {
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

	createTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// recordEvict records a retention eviction.
func recordEvict(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	evictTotal.Add(ctx, 1)
}

// recordRollback records a rollback operation.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - trigger: What initiated the rollback (checkpoint, latest,
//     version, guard).
//   - duration: How long the replay took.
//   - success: Whether the replay completed.
func recordRollback(ctx context.Context, trigger string, duration time.Duration, success bool) {
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
		attribute.String("trigger", normalizeTrigger(trigger)),
		attribute.String("status", status),
	)

	rollbackTotal.Add(ctx, 1, attrs)
	rollbackDuration.Record(ctx, duration.Seconds(), attrs)
}

// normalizeTrigger normalizes rollback triggers to a bounded set.
func normalizeTrigger(trigger string) string {
	switch trigger {
	case TriggerCheckpoint, TriggerLatest, TriggerVersion, TriggerGuard:
		return trigger
	default:
		return "other"
	}
}

// recordPersist records a successful snapshot persist.
func recordPersist(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	persistTotal.Add(ctx, 1)
}

// recordPersistError records a failed snapshot persist.
func recordPersistError(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	persistErrTotal.Add(ctx, 1)
}

// incActive increments the retained checkpoint gauge.
func incActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	retainedGauge.Add(ctx, 1)
}

// decActive decrements the retained checkpoint gauge.
func decActive(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	retainedGauge.Add(ctx, -1)
}
