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
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchwork/services/patch/graph"
	"github.com/AleutianAI/patchwork/services/patch/manifest"
	"github.com/AleutianAI/patchwork/services/patch/optimize"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	optimizePasses []string
	optimizeSweeps int
	optimizeOut    string
	optimizeStats  bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var optimizeCmd = &cobra.Command{
	Use:   "optimize [graph.yaml]",
	Short: "Run optimization passes over a graph manifest",
	Long: `Run optimization passes over a graph manifest and save the result.

Passes run in order, each feeding the next, and the pipeline sweeps
until a full sweep changes nothing. By default the result overwrites
the input manifest; use --out to write elsewhere.

Passes:
  constant_folding       Evaluate operations with constant inputs
  strength_reduction     Rewrite expensive operations into cheap ones
  cse                    Merge duplicated subexpressions
  inline_expansion       Expand subgraph nodes into the host graph
  dead_code_elimination  Remove nodes no output depends on

Examples:
  patchctl optimize graph.yaml
  patchctl optimize graph.yaml --stats
  patchctl optimize graph.yaml --passes constant_folding,dce
  patchctl optimize graph.yaml --sweeps 1 --out optimized.yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runOptimize,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	optimizeCmd.Flags().StringSliceVar(&optimizePasses, "passes", nil,
		"Comma-separated pass names to run (default: all, standard order)")
	optimizeCmd.Flags().IntVar(&optimizeSweeps, "sweeps", 0,
		"Maximum pipeline sweeps (0 = default 10)")
	optimizeCmd.Flags().StringVar(&optimizeOut, "out", "",
		"Write the optimized graph to this path instead of in place")
	optimizeCmd.Flags().BoolVar(&optimizeStats, "stats", false,
		"Print per-pass rewrite counters")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runOptimize(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	path := args[0]
	g := loadGraph(path)

	passes, err := passesByName(optimizePasses)
	if err != nil {
		outputError("Invalid --passes", err)
		os.Exit(CLIExitError)
	}

	opts := []optimize.PipelineOption{optimize.WithPasses(passes...)}
	if optimizeSweeps > 0 {
		opts = append(opts, optimize.WithMaxSweeps(optimizeSweeps))
	}
	pipeline := optimize.NewPipeline(opts...)

	result, err := pipeline.Optimize(ctx, g)
	if err != nil {
		outputError("Optimization failed", err)
		os.Exit(CLIExitError)
	}

	outPath := optimizeOut
	if outPath == "" {
		outPath = path
	}

	// An unchanged graph is only written when the caller asked for a
	// copy somewhere else.
	savedTo := ""
	if result.Modified || outPath != path {
		if err := manifest.Save(result.Graph, outPath); err != nil {
			outputError("Failed to save optimized graph", err)
			os.Exit(CLIExitError)
		}
		savedTo = outPath
	}

	outputOptimizeText(g, result, savedTo)
}

// defaultPasses returns the standard order: fold constants first,
// simplify, deduplicate, inline subgraphs, then sweep dead nodes.
func defaultPasses() []optimize.Pass {
	return []optimize.Pass{
		optimize.NewConstantFolding(),
		optimize.NewStrengthReduction(),
		optimize.NewCSE(),
		optimize.NewInlineExpansion(),
		optimize.NewDeadCodeElimination(),
	}
}

// passesByName builds the pass list for --passes. An empty list means
// the default order.
func passesByName(names []string) ([]optimize.Pass, error) {
	if len(names) == 0 {
		return defaultPasses(), nil
	}

	passes := make([]optimize.Pass, 0, len(names))
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "constant_folding":
			passes = append(passes, optimize.NewConstantFolding())
		case "strength_reduction":
			passes = append(passes, optimize.NewStrengthReduction())
		case "cse":
			passes = append(passes, optimize.NewCSE())
		case "inline_expansion":
			passes = append(passes, optimize.NewInlineExpansion())
		case "dead_code_elimination", "dce":
			passes = append(passes, optimize.NewDeadCodeElimination())
		default:
			return nil, fmt.Errorf("unknown pass %q (known: constant_folding, "+
				"strength_reduction, cse, inline_expansion, dead_code_elimination)", name)
		}
	}
	return passes, nil
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

func outputOptimizeText(before *graph.Graph, result *optimize.PipelineResult, savedTo string) {
	printHeader("Optimization")

	fmt.Printf("nodes: %d -> %d\n", before.NodeCount(), result.Graph.NodeCount())
	fmt.Printf("edges: %d -> %d\n", before.EdgeCount(), result.Graph.EdgeCount())
	fmt.Printf("sweeps: %d\n", result.Sweeps)
	fmt.Printf("duration: %s\n", result.Duration.Round(time.Microsecond))

	fmt.Println()
	if savedTo != "" {
		fmt.Printf("Wrote graph to %s\n", savedTo)
	}
	if !result.Modified {
		fmt.Println("Nothing to optimize; graph unchanged.")
	}

	if optimizeStats {
		fmt.Println()
		fmt.Println("Per-pass stats:")
		names := make([]string, 0, len(result.PerPass))
		for name := range result.PerPass {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-24s %s\n", name, describeStats(result.PerPass[name]))
		}
	}
}

// describeStats renders a pass's nonzero counters on one line.
func describeStats(s optimize.Stats) string {
	parts := []string{fmt.Sprintf("iterations=%d", s.Iterations)}
	if s.NodesFolded > 0 {
		parts = append(parts, fmt.Sprintf("folded=%d", s.NodesFolded))
	}
	if s.NodesRewritten > 0 {
		parts = append(parts, fmt.Sprintf("rewritten=%d", s.NodesRewritten))
	}
	if s.NodesInlined > 0 {
		parts = append(parts, fmt.Sprintf("inlined=%d", s.NodesInlined))
	}
	if s.NodesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("nodes_removed=%d", s.NodesRemoved))
	}
	if s.EdgesRemoved > 0 {
		parts = append(parts, fmt.Sprintf("edges_removed=%d", s.EdgesRemoved))
	}
	if s.EdgesRewritten > 0 {
		parts = append(parts, fmt.Sprintf("edges_rewritten=%d", s.EdgesRewritten))
	}
	return strings.Join(parts, " ")
}
