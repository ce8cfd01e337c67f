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
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/patchwork/services/patch/graph"
	"github.com/AleutianAI/patchwork/services/patch/manifest"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess = 0 // Operation completed successfully
	CLIExitError   = 1 // Operation failed
)

// outputError writes a human-readable error to stderr.
func outputError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
}

// stdoutDecorated reports whether stdout is an interactive terminal.
// Piped output skips banners so it stays machine-consumable.
func stdoutDecorated() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// printHeader writes a section banner on interactive terminals.
func printHeader(title string) {
	if !stdoutDecorated() {
		return
	}
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()
}

// loadGraph reads a manifest and exits the process when it cannot.
func loadGraph(path string) *graph.Graph {
	g, err := manifest.Load(path)
	if err != nil {
		outputError("Failed to load manifest", err)
		os.Exit(CLIExitError)
	}
	return g
}
