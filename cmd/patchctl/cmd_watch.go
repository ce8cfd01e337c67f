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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchwork/services/patch/manifest"
	"github.com/AleutianAI/patchwork/services/patch/optimize"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	watchInterval    time.Duration
	watchMetricsAddr string
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch [graph.yaml]",
	Short: "Watch a manifest and report optimization opportunities",
	Long: `Watch a manifest and report what optimization would do on each
change.

Filesystem events are debounced so one save produces one report. The
manifest is never rewritten from the watch loop; run "patchctl
optimize" to apply the reported rewrites.

Examples:
  patchctl watch graph.yaml
  patchctl watch graph.yaml --interval 2s
  patchctl watch graph.yaml --metrics-addr localhost:9090`,
	Args: cobra.ExactArgs(1),
	Run:  runWatch,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 500*time.Millisecond,
		"Debounce window for filesystem events")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address (host:port)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runWatch(cmd *cobra.Command, args []string) {
	path := args[0]

	// Verify the manifest loads before entering the loop.
	g := loadGraph(path)
	fmt.Printf("Watching %s (%d nodes, %d edges). Ctrl-C to stop.\n",
		path, g.NodeCount(), g.EdgeCount())

	if watchMetricsAddr != "" {
		if err := initMetrics(); err != nil {
			outputError("Failed to initialize metrics", err)
			os.Exit(CLIExitError)
		}
		go serveMetrics(watchMetricsAddr)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		outputError("Failed to create watcher", err)
		os.Exit(CLIExitError)
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file by rename,
	// which drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		outputError("Failed to watch directory", err)
		os.Exit(CLIExitError)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		outputError("Failed to resolve path", err)
		os.Exit(CLIExitError)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !watchRelevant(event, target) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchInterval)
				timerC = timer.C
			} else {
				timer.Reset(watchInterval)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			reportChange(path)

		case <-quit:
			fmt.Println()
			fmt.Println("Stopped watching.")
			return
		}
	}
}

// watchRelevant reports whether the event touches the watched
// manifest.
func watchRelevant(event fsnotify.Event, target string) bool {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != target {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// reportChange reloads the manifest and reports what optimization
// would do.
func reportChange(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, err := manifest.Load(path)
	if err != nil {
		slog.Warn("manifest reload failed", "path", path, "error", err)
		return
	}

	pipeline := optimize.NewPipeline(optimize.WithPasses(defaultPasses()...))
	result, err := pipeline.Optimize(ctx, g)
	if err != nil {
		slog.Warn("optimization failed", "path", path, "error", err)
		return
	}

	stamp := time.Now().Format("15:04:05")
	if result.Modified {
		fmt.Printf("%s reloaded %s: %d nodes, %d edges; optimizable to %d nodes, %d edges (%d sweeps)\n",
			stamp, path, g.NodeCount(), g.EdgeCount(),
			result.Graph.NodeCount(), result.Graph.EdgeCount(), result.Sweeps)
	} else {
		fmt.Printf("%s reloaded %s: %d nodes, %d edges; already optimal\n",
			stamp, path, g.NodeCount(), g.EdgeCount())
	}
}

// serveMetrics exposes the default prometheus registry, which carries
// the manifest and pipeline counters.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics server stopped", "error", err)
	}
}
