// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// telemetryResource identifies this binary in exported telemetry.
func telemetryResource() *resource.Resource {
	// Build resource (service identity) using standard attribute keys
	return resource.NewWithAttributes(
		"",
		attribute.String("service.name", "patchctl"),
		attribute.String("service.version", "dev"),
	)
}

// initTracing wires a stdout span exporter into the global tracer
// provider so spans from library code are visible on a CLI run without
// a collector.
//
// Outputs:
//
//	shutdown - Flushes buffered spans. Must be called before exit.
//	error - Non-nil if the exporter cannot be created.
func initTracing(_ context.Context) (shutdown func(context.Context) error, err error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(telemetryResource()),
		trace.WithSampler(trace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// initMetrics bridges the otel meter provider into the default
// prometheus registry, so promhttp serves the library counters next
// to the promauto ones.
func initMetrics() error {
	exporter, err := promexporter.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	otel.SetMeterProvider(metric.NewMeterProvider(
		metric.WithResource(telemetryResource()),
		metric.WithReader(exporter),
	))
	return nil
}
