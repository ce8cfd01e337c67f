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
	"github.com/AleutianAI/patchwork/services/patch/pathexpr"
)

func runQuery(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g := loadGraph(args[0])

	expr := pathexpr.From(args[1])
	if !expr.IsValid() {
		outputError("Invalid expression", expr.Err())
		os.Exit(CLIExitError)
	}

	var opts []pathexpr.MatchOption
	if queryMaxMatches > 0 {
		opts = append(opts, pathexpr.WithMaxMatches(queryMaxMatches))
	}

	set, err := pathexpr.Find(ctx, g, expr, opts...)
	if err != nil {
		outputError("Query failed", err)
		os.Exit(CLIExitError)
	}

	outputQueryText(expr, set)
}

func runCritical(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g := loadGraph(args[0])

	analyzer, err := impact.NewAnalyzer(g)
	if err != nil {
		outputError("Failed to build analyzer", err)
		os.Exit(CLIExitError)
	}

	nodes, err := analyzer.FindCriticalPaths(ctx)
	if err != nil {
		outputError("Critical path analysis failed", err)
		os.Exit(CLIExitError)
	}

	outputCriticalText(nodes, criticalTop)
}

func outputQueryText(expr *pathexpr.PathExpression, set *pathexpr.MatchSet) {
	printHeader("Path Query")

	fmt.Printf("expression: %s\n", expr.String())
	fmt.Printf("matches: %d\n", len(set.Matches))
	if len(set.Matches) > 0 {
		fmt.Println()
		for _, m := range set.Matches {
			fmt.Printf("  %s\n", strings.Join(m.NodeIDs, " -> "))
		}
	}
	if set.Truncated {
		fmt.Println()
		fmt.Println("(more matches exist; raise --max-matches)")
	}
}

func outputCriticalText(nodes []impact.CriticalNode, top int) {
	printHeader("Critical Nodes")

	if len(nodes) == 0 {
		fmt.Println("No node affects any other node.")
		return
	}

	limit := top
	if limit <= 0 || limit > len(nodes) {
		limit = len(nodes)
	}
	for i := 0; i < limit; i++ {
		n := nodes[i]
		fmt.Printf("%3d. %-24s affects %d nodes (max distance %d)\n",
			i+1, n.ID, n.AffectedCount, n.MaxDistance)
	}
	if limit < len(nodes) {
		fmt.Printf("  ... and %d more\n", len(nodes)-limit)
	}
}
