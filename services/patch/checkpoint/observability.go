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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const checkpointTracerName = "patchwork.checkpoint"

// Tracer provides OpenTelemetry tracing for checkpoint operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with checkpoint-specific span creation
// and attribute management. When disabled, returns noop spans for zero
// overhead.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new checkpoint tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
//
// # Outputs
//
//   - *Tracer: Ready-to-use tracer instance.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(checkpointTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartCreate starts a span for a checkpoint create operation.
func (t *Tracer) StartCreate(ctx context.Context, label string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "checkpoint.create",
		trace.WithAttributes(
			attribute.String("checkpoint.label", truncateForTrace(label, 100)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "creating checkpoint",
		slog.String("label", label),
	)

	return ctx, span
}

// EndCreate completes a checkpoint create span.
func (t *Tracer) EndCreate(span trace.Span, id string, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String("checkpoint.id", id))
}

// StartRollback starts a span for a rollback operation.
func (t *Tracer) StartRollback(ctx context.Context, id, trigger string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "checkpoint.rollback",
		trace.WithAttributes(
			attribute.String("checkpoint.id", truncateForTrace(id, 36)),
			attribute.String("checkpoint.trigger", trigger),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	t.logger.DebugContext(ctx, "rolling back",
		slog.String("checkpoint_id", id),
		slog.String("trigger", trigger),
	)

	return ctx, span
}

// EndRollback completes a rollback span.
func (t *Tracer) EndRollback(span trace.Span, nodes, edges int, err error) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(
		attribute.Int("checkpoint.nodes_restored", nodes),
		attribute.Int("checkpoint.edges_restored", edges),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// truncateForTrace limits attribute length to keep span payloads small.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// LoggerWithTrace returns a logger with trace context fields.
//
// # Description
//
// Extracts trace_id and span_id from the context and adds them to the
// logger for correlation with distributed traces.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
