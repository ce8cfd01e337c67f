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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchwork/services/patch/manifest"
)

// runInit writes the embedded example manifest so new users have a
// graph to optimize right away.
func runInit(cmd *cobra.Command, args []string) {
	path := "graph.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		if _, err := os.Stat(path); err == nil {
			outputError(fmt.Sprintf("%s already exists; use --force to overwrite", path), nil)
			os.Exit(CLIExitError)
		}
	}

	if err := os.WriteFile(path, manifest.ExampleDocument(), 0o644); err != nil {
		outputError("Failed to write manifest", err)
		os.Exit(CLIExitError)
	}

	fmt.Printf("Wrote example manifest to %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  patchctl optimize %s --stats\n", path)
	fmt.Printf("  patchctl analyze %s x\n", path)
	fmt.Printf("  patchctl query %s \"Constant->**->Output\"\n", path)
}
