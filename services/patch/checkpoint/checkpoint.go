// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"time"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// Retention and timing defaults.
const (
	// DefaultMaxCheckpoints is the retention window when none is set.
	DefaultMaxCheckpoints = 10

	// MinMaxCheckpoints and MaxMaxCheckpoints bound configured retention.
	MinMaxCheckpoints = 1
	MaxMaxCheckpoints = 1000

	// DefaultPersistTimeout bounds each asynchronous store write.
	DefaultPersistTimeout = 5 * time.Second

	// maxHistoryRecords caps the rollback history ring.
	maxHistoryRecords = 100
)

// Checkpoint is an immutable point-in-time capture of a graph.
//
// Description:
//
//	The captured graph is a frozen clone; it never observes later
//	mutations of the live graph. NodeCount and EdgeCount are recorded at
//	capture time for cheap inspection without touching the clone.
type Checkpoint struct {
	ID        string
	Label     string
	Metadata  map[string]any
	CreatedAt time.Time
	NodeCount int
	EdgeCount int

	graph *graph.Graph
	seq   uint64
}

// Graph returns the frozen captured graph. Callers must not unfreeze or
// mutate it; use Clone for a mutable copy.
func (c *Checkpoint) Graph() *graph.Graph {
	return c.graph
}

// RollbackRecord describes one rollback attempt, successful or not.
type RollbackRecord struct {
	CheckpointID  string
	Label         string
	Trigger       string
	At            time.Time
	Success       bool
	NodesRestored int
	EdgesRestored int
	Duration      time.Duration
	Err           string
}

// Rollback triggers recorded in RollbackRecord.Trigger.
const (
	TriggerCheckpoint = "checkpoint"
	TriggerLatest     = "latest"
	TriggerVersion    = "version"
	TriggerGuard      = "guard"
)

// Config controls checkpoint retention and persistence behavior.
type Config struct {
	// MaxCheckpoints is the retention window. Clamped to
	// [MinMaxCheckpoints, MaxMaxCheckpoints].
	MaxCheckpoints int

	// AutoCleanup evicts the oldest checkpoint by capture time when the
	// window overflows. When false, Create keeps accumulating.
	AutoCleanup bool

	// PersistTimeout bounds each asynchronous snapshot store write.
	PersistTimeout time.Duration

	// MetricsEnabled controls metric recording.
	MetricsEnabled bool

	// TracingEnabled controls span creation.
	TracingEnabled bool
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxCheckpoints: DefaultMaxCheckpoints,
		AutoCleanup:    true,
		PersistTimeout: DefaultPersistTimeout,
		MetricsEnabled: true,
		TracingEnabled: false,
	}
}

// normalize fills zero values with defaults and clamps the rest into
// their supported ranges.
func (c Config) normalize() Config {
	if c.MaxCheckpoints == 0 {
		c.MaxCheckpoints = DefaultMaxCheckpoints
	}
	if c.MaxCheckpoints < MinMaxCheckpoints {
		c.MaxCheckpoints = MinMaxCheckpoints
	}
	if c.MaxCheckpoints > MaxMaxCheckpoints {
		c.MaxCheckpoints = MaxMaxCheckpoints
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	return c
}
