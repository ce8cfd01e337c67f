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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchwork/services/patch/impact"
	"github.com/AleutianAI/patchwork/services/patch/visualization"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	analyzeMaxDepth int
	analyzeExclude  []string
	analyzeFormat   string
	analyzeLayers   bool
	analyzeCost     bool
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var analyzeCmd = &cobra.Command{
	Use:   "analyze [graph.yaml] [nodeID...]",
	Short: "Compute the blast radius of changing one or more nodes",
	Long: `Compute which nodes are affected when the given nodes change.

The traversal follows edges downstream and reports every reachable
node with its hop distance. With several origins the result merges
the traversals and reports the minimum distance per node.

Examples:
  patchctl analyze graph.yaml x
  patchctl analyze graph.yaml x --layers
  patchctl analyze graph.yaml x --format mermaid
  patchctl analyze graph.yaml x sum --max-depth 3 --cost
  patchctl analyze graph.yaml x --exclude product`,
	Args: cobra.MinimumNArgs(2),
	Run:  runAnalyze,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	analyzeCmd.Flags().IntVar(&analyzeMaxDepth, "max-depth", 0,
		"Maximum hop distance (0 = unbounded)")
	analyzeCmd.Flags().StringSliceVar(&analyzeExclude, "exclude", nil,
		"Node ids to prune from the traversal")
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "text",
		"Output format: text, mermaid, dot, or d3")
	analyzeCmd.Flags().BoolVar(&analyzeLayers, "layers", false,
		"Group affected nodes by hop distance")
	analyzeCmd.Flags().BoolVar(&analyzeCost, "cost", false,
		"Estimate the update cost of the affected set")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runAnalyze(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g := loadGraph(args[0])
	origins := args[1:]

	format, err := parseFormat(analyzeFormat)
	if err != nil {
		outputError("Invalid --format", err)
		os.Exit(CLIExitError)
	}
	if len(origins) > 1 && format != visualization.FormatText {
		outputError("Diagram formats support a single origin", nil)
		os.Exit(CLIExitError)
	}

	analyzer, err := impact.NewAnalyzer(g)
	if err != nil {
		outputError("Failed to build analyzer", err)
		os.Exit(CLIExitError)
	}

	var opts []impact.AnalyzeOption
	if analyzeMaxDepth > 0 {
		opts = append(opts, impact.WithMaxDepth(analyzeMaxDepth))
	}
	if len(analyzeExclude) > 0 {
		opts = append(opts, impact.WithExcludeNodes(analyzeExclude...))
	}

	if len(origins) == 1 {
		result, err := analyzer.Analyze(ctx, origins[0], opts...)
		if err != nil {
			outputError("Analysis failed", err)
			os.Exit(CLIExitError)
		}

		// The renderer owns the layered text view and all diagram
		// formats; the flat summary is CLI-local.
		if format != visualization.FormatText || analyzeLayers {
			gen := visualization.NewGenerator(nil)
			out, err := gen.RenderImpact(ctx, g, result, format)
			if err != nil {
				outputError("Rendering failed", err)
				os.Exit(CLIExitError)
			}
			fmt.Println(out)
		} else {
			outputAnalyzeText(result)
		}
	} else {
		result, err := analyzer.AnalyzeMultiple(ctx, origins, opts...)
		if err != nil {
			outputError("Analysis failed", err)
			os.Exit(CLIExitError)
		}
		outputAnalyzeMultiText(result, analyzeLayers)
	}

	if analyzeCost && format == visualization.FormatText {
		rows := make([]costRow, 0, len(origins))
		for _, origin := range origins {
			est, err := analyzer.EstimateUpdateCost(ctx, origin, impact.DefaultCost, opts...)
			if err != nil {
				outputError("Cost estimate failed", err)
				os.Exit(CLIExitError)
			}
			rows = append(rows, costRow{origin: origin, estimate: est})
		}
		outputCostText(rows)
	}
}

// parseFormat maps the --format flag onto a renderer format.
func parseFormat(name string) (visualization.OutputFormat, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return visualization.FormatText, nil
	case "mermaid":
		return visualization.FormatMermaid, nil
	case "dot":
		return visualization.FormatDOT, nil
	case "d3":
		return visualization.FormatD3, nil
	default:
		return "", fmt.Errorf("unknown format %q (known: text, mermaid, dot, d3)", name)
	}
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

type costRow struct {
	origin   string
	estimate *impact.CostEstimate
}

func outputAnalyzeText(result *impact.Result) {
	printHeader("Impact Analysis")

	fmt.Printf("origin: %s\n", result.Origin)
	fmt.Printf("affected: %d nodes\n", len(result.Affected))
	if result.Truncated {
		fmt.Printf("(truncated at depth %d)\n", result.MaxDepth)
	}
	if len(result.Affected) == 0 {
		return
	}

	fmt.Println()
	limit := 20
	for i, id := range result.Affected {
		if i >= limit {
			fmt.Printf("  ... and %d more\n", len(result.Affected)-limit)
			break
		}
		fmt.Printf("  %-24s distance %d\n", id, result.Distances[id])
	}
}

func outputAnalyzeMultiText(result *impact.MultiResult, layers bool) {
	printHeader("Impact Analysis")

	fmt.Printf("origins: %s\n", strings.Join(result.Origins, ", "))
	fmt.Printf("affected: %d nodes\n", len(result.Affected))
	if result.Truncated {
		fmt.Println("(truncated)")
	}
	if len(result.Affected) == 0 {
		return
	}

	fmt.Println()
	if layers {
		maxDist := 0
		for _, d := range result.Distances {
			if d > maxDist {
				maxDist = d
			}
		}
		for dist := 1; dist <= maxDist; dist++ {
			var ids []string
			for _, id := range result.Affected {
				if result.Distances[id] == dist {
					ids = append(ids, id)
				}
			}
			if len(ids) == 0 {
				continue
			}
			fmt.Printf("distance %d:\n", dist)
			for _, id := range ids {
				fmt.Printf("  %s\n", id)
			}
		}
		return
	}

	for _, id := range result.Affected {
		fmt.Printf("  %-24s distance %d  via %s\n",
			id, result.Distances[id], strings.Join(result.Contributors[id], ","))
	}
}

func outputCostText(rows []costRow) {
	fmt.Println()
	fmt.Println("Update cost:")
	for _, row := range rows {
		fmt.Printf("  %-24s total %.1f across %d nodes\n",
			row.origin, row.estimate.Total, row.estimate.Nodes)
	}
}
