// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint captures and restores point-in-time states of a
// compute graph.
//
// Description:
//
//	A Manager is bound to a single graph.Graph and keeps a bounded list
//	of checkpoints, each holding a frozen clone of the graph at capture
//	time. Restoration replays the snapshot through the graph's public
//	mutation API (Clear, AddNode, AddEdge) rather than swapping internal
//	state, so the graph's own invariants hold at every step.
//
// Ownership Model:
//
//	The manager does not take ownership of the graph; callers keep their
//	handle and remain responsible for serializing their own mutations
//	against rollbacks. An optional SnapshotStore receives asynchronous
//	copies of every checkpoint for durability beyond the in-memory
//	retention window.
//
// Thread Safety:
//
//	All Manager methods are safe for concurrent use. Rollback mutates
//	the bound graph under the manager's lock.
package checkpoint

import "errors"

// Sentinel errors for checkpoint operations.
var (
	// ErrCheckpointNotFound is returned when the requested checkpoint id
	// is not in the manager's retention window.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrVersionNotFound is returned by SnapshotStore implementations
	// when the requested version has never been persisted.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNoCheckpoints is returned by operations that need at least one
	// retained checkpoint.
	ErrNoCheckpoints = errors.New("no checkpoints available")

	// ErrNoStore is returned when a version operation is attempted on a
	// manager configured without a snapshot store.
	ErrNoStore = errors.New("no snapshot store configured")

	// ErrPartialRestore is returned when a rollback replay fails midway.
	// The graph is left in the partially restored state.
	ErrPartialRestore = errors.New("partial restore")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("checkpoint manager closed")

	// ErrNilOperation is returned when WithCheckpoint receives a nil
	// function.
	ErrNilOperation = errors.New("nil operation")
)
