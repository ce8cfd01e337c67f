// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimize rewrites compute graphs through a pipeline of
// independent passes.
//
// # Description
//
// Each pass implements one rewrite: constant folding, strength
// reduction, common subexpression elimination, inline expansion, or
// dead code elimination. Passes never mutate their input graph; a pass
// that changes nothing returns the input unchanged, and a pass that
// rewrites returns a modified clone. Every pass is idempotent, so
// running the pipeline on its own output is a no-op.
//
// # Ownership Model
//
// A Pipeline owns its passes. Passes are safe for concurrent use, but
// a returned Result graph is a plain *graph.Graph with the usual
// single-writer rules.
//
// # Thread Safety
//
// Pass statistics are guarded by a mutex; Apply may be called from
// multiple goroutines as long as each call uses its own graph.
package optimize

import "errors"

var (
	// ErrNilGraph is returned when a pass or pipeline receives a nil graph.
	ErrNilGraph = errors.New("graph is nil")

	// ErrNoPasses is returned when a pipeline is run with no passes
	// registered.
	ErrNoPasses = errors.New("pipeline has no passes")
)
