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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchwork/services/patch/optimize"
)

// TestPassesByName_Default verifies that an empty --passes list yields
// the full pipeline in standard order.
func TestPassesByName_Default(t *testing.T) {
	passes, err := passesByName(nil)
	require.NoError(t, err)
	require.Len(t, passes, 5)

	names := make([]string, 0, len(passes))
	for _, p := range passes {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{
		"constant_folding",
		"strength_reduction",
		"cse",
		"inline_expansion",
		"dead_code_elimination",
	}, names)
}

// TestPassesByName_Selection verifies explicit names, surrounding
// whitespace, and the dce alias.
func TestPassesByName_Selection(t *testing.T) {
	passes, err := passesByName([]string{" cse ", "dce"})
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, "cse", passes[0].Name())
	assert.Equal(t, "dead_code_elimination", passes[1].Name())
}

// TestPassesByName_Unknown verifies that a bad name lists the known passes.
func TestPassesByName_Unknown(t *testing.T) {
	_, err := passesByName([]string{"loop_unrolling"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown pass "loop_unrolling"`)
	assert.Contains(t, err.Error(), "constant_folding")
}

// TestDescribeStats verifies that only nonzero counters are rendered.
func TestDescribeStats(t *testing.T) {
	tests := []struct {
		name  string
		stats optimize.Stats
		want  string
	}{
		{
			name:  "idle pass",
			stats: optimize.Stats{Iterations: 1},
			want:  "iterations=1",
		},
		{
			name:  "folding",
			stats: optimize.Stats{Iterations: 3, NodesFolded: 4, NodesRemoved: 2},
			want:  "iterations=3 folded=4 nodes_removed=2",
		},
		{
			name:  "dead code sweep",
			stats: optimize.Stats{Iterations: 2, NodesRemoved: 5, EdgesRemoved: 7},
			want:  "iterations=2 nodes_removed=5 edges_removed=7",
		},
		{
			name:  "rewrites",
			stats: optimize.Stats{Iterations: 1, NodesRewritten: 2, EdgesRewritten: 3},
			want:  "iterations=1 rewritten=2 edges_rewritten=3",
		},
		{
			name:  "inlining",
			stats: optimize.Stats{Iterations: 1, NodesInlined: 6},
			want:  "iterations=1 inlined=6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeStats(tt.stats))
		})
	}
}
