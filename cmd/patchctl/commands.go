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
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchwork/pkg/logging"
)

// --- Global Command Variables ---
var (
	logLevel     string
	logFormat    string
	traceEnabled bool
	quiet        bool

	queryMaxMatches int
	criticalTop     int

	// tracerShutdown flushes buffered spans after a traced run.
	tracerShutdown func(context.Context) error

	rootCmd = &cobra.Command{
		Use:   "patchctl",
		Short: "A cli to optimize, analyze, and version compute graphs",
		Long: `Patchctl works on compute graph manifests (YAML files). It runs
				optimization passes over a graph, computes the blast radius of a
				node change, matches path expressions against the graph, and
				manages durable checkpoints in a local snapshot store.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
			if traceEnabled {
				shutdown, err := initTracing(cmd.Context())
				if err != nil {
					outputError("Failed to initialize tracing", err)
					os.Exit(CLIExitError)
				}
				tracerShutdown = shutdown
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if tracerShutdown != nil {
				if err := tracerShutdown(context.Background()); err != nil {
					slog.Warn("trace flush failed", "error", err)
				}
			}
		},
	}

	// --- Manifest ---
	initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example graph manifest to get started",
		Args:  cobra.MaximumNArgs(1),
		Run:   runInit, // Defined in cmd_init.go
	}

	// --- Path Queries ---
	queryCmd = &cobra.Command{
		Use:   "query [graph.yaml] [expression]",
		Short: "Match a path expression against a graph",
		Long: `Match a path expression against a graph and print the bindings.

Expressions name a start node pattern followed by edge steps. A
segment that spells a node kind matches by kind, "*" matches any
node, "**" crosses multiple hops, and "-[kind]->" constrains the
edge kind.

Examples:
  patchctl query graph.yaml "x->*"
  patchctl query graph.yaml "Constant->**->Output"
  patchctl query graph.yaml "x->**{1,2}->Output" --max-matches 5`,
		Args: cobra.ExactArgs(2),
		Run:  runQuery, // Defined in cmd_query.go
	}
	criticalCmd = &cobra.Command{
		Use:   "critical [graph.yaml]",
		Short: "Rank nodes by how much of the graph they can break",
		Args:  cobra.ExactArgs(1),
		Run:   runCritical, // Defined in cmd_query.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&traceEnabled, "trace", false,
		"Print OpenTelemetry spans for this run to stdout")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false,
		"Suppress log output; command results still print")

	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("force", false, "Overwrite an existing manifest")

	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVar(&queryMaxMatches, "max-matches", 0,
		"Maximum matches to collect (0 = default 100)")

	rootCmd.AddCommand(criticalCmd)
	criticalCmd.Flags().IntVar(&criticalTop, "top", 10,
		"Number of nodes to show")

	// Larger commands bind their flags in their own cmd_*.go files.
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(watchCmd)
}

// setupLogging installs the process-wide logger from the global flags.
func setupLogging() {
	writer := io.Writer(os.Stderr)
	if quiet {
		writer = io.Discard
	}

	logger, err := logging.New(logging.Config{
		Level:   logLevel,
		Format:  logFormat,
		Service: "patchctl",
		Writer:  writer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(CLIExitError)
	}
	slog.SetDefault(logger)
}
