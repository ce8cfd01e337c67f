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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// Manager captures and restores checkpoints of a single graph.
//
// # Description
//
// The manager keeps a bounded, capture-ordered list of checkpoints.
// Rollback replays the chosen checkpoint into the bound graph through
// its public mutation API, never by swapping internal state. When a
// SnapshotStore is configured every checkpoint is also persisted
// asynchronously, keyed by its checkpoint id, so states older than the
// retention window stay reachable through RollbackToVersion.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. The bound graph is
// mutated only under the manager's lock, but callers who mutate the
// graph directly must serialize those mutations against rollbacks
// themselves.
type Manager struct {
	config      Config
	g           *graph.Graph
	store       SnapshotStore
	cache       VersionCache
	checkpoints []*Checkpoint
	history     []RollbackRecord
	seq         uint64
	now         func() time.Time
	persistWG   sync.WaitGroup
	closed      bool
	mu          sync.Mutex
	logger      *slog.Logger
	tracer      *Tracer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxCheckpoints sets the retention window. Values outside
// [MinMaxCheckpoints, MaxMaxCheckpoints] are clamped.
func WithMaxCheckpoints(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.config.MaxCheckpoints = n
		}
	}
}

// WithAutoCleanup controls eviction of the oldest checkpoint when the
// retention window overflows.
func WithAutoCleanup(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.config.AutoCleanup = enabled
	}
}

// WithStore attaches a snapshot store for durable persistence.
func WithStore(store SnapshotStore) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

// WithSnapshotCache attaches a read-through cache for version loads.
func WithSnapshotCache(cache VersionCache) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPersistTimeout bounds each asynchronous store write.
func WithPersistTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.config.PersistTimeout = d
		}
	}
}

// WithTracing enables span creation around manager operations.
func WithTracing(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.config.TracingEnabled = enabled
	}
}

// WithClock overrides the time source. Used by tests to make capture
// timestamps deterministic.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a checkpoint manager bound to g.
//
// # Description
//
// Applies DefaultConfig, then the options, then clamps the result.
//
// # Inputs
//
//   - g: The graph to guard. Must be non-nil and mutable.
//   - opts: Optional configuration.
//
// # Outputs
//
//   - *Manager: Ready-to-use manager.
//
// # Example
//
//	g := graph.New()
//	mgr := checkpoint.NewManager(g,
//	    checkpoint.WithMaxCheckpoints(25),
//	    checkpoint.WithStore(store),
//	)
//	defer mgr.Close()
func NewManager(g *graph.Graph, opts ...ManagerOption) *Manager {
	m := &Manager{
		config: DefaultConfig(),
		g:      g,
		now:    time.Now,
		logger: slog.Default().With("component", "checkpoint.Manager"),
	}

	for _, opt := range opts {
		opt(m)
	}
	m.config = m.config.normalize()

	SetMetricsEnabled(m.config.MetricsEnabled)
	m.tracer = NewTracer(m.logger, m.config.TracingEnabled)

	return m
}

// Configure updates retention settings at runtime.
//
// # Description
//
// Re-clamps the new configuration and, when the window shrank and
// AutoCleanup is on, evicts oldest checkpoints immediately until the
// new limit holds.
//
// # Inputs
//
//   - cfg: New configuration. Zero values fall back to defaults.
//
// # Outputs
//
//   - error: ErrManagerClosed after Close.
func (m *Manager) Configure(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	m.config = cfg.normalize()
	SetMetricsEnabled(m.config.MetricsEnabled)
	m.tracer = NewTracer(m.logger, m.config.TracingEnabled)
	m.evictLocked(context.Background())

	return nil
}

// Create captures the current graph state as a new checkpoint.
//
// # Description
//
// Clones and freezes the live graph, records the checkpoint in capture
// order, and evicts the oldest checkpoint by capture time when the
// retention window overflows with AutoCleanup enabled. If a store is
// configured, the snapshot is forwarded on a background goroutine;
// Create returns before the write is durable and persistence failures
// are logged and counted, never returned.
//
// # Inputs
//
//   - ctx: Context for tracing and metrics.
//   - label: Optional human-readable label.
//   - metadata: Optional caller metadata attached to the checkpoint.
//
// # Outputs
//
//   - string: The new checkpoint id. Doubles as the persisted version.
//   - error: ErrManagerClosed after Close.
func (m *Manager) Create(ctx context.Context, label string, metadata map[string]any) (id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartCreate(ctx, label)
	defer func() { m.tracer.EndCreate(span, id, err) }()

	logger := LoggerWithTrace(ctx, m.logger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in Create: %v", r)
			logger.Error("panic in Create", "panic", r, "label", label)
		}
	}()

	defer func() {
		recordCreate(ctx, err == nil)
		if err == nil {
			incActive(ctx)
		}
	}()

	if m.closed {
		return "", ErrManagerClosed
	}

	frozen := m.g.Clone()
	frozen.Freeze()

	m.seq++
	cp := &Checkpoint{
		ID:        uuid.New().String(),
		Label:     label,
		Metadata:  copyMetadata(metadata),
		CreatedAt: m.now(),
		NodeCount: frozen.NodeCount(),
		EdgeCount: frozen.EdgeCount(),
		graph:     frozen,
		seq:       m.seq,
	}

	m.checkpoints = append(m.checkpoints, cp)
	m.evictLocked(ctx)

	if m.store != nil {
		m.persistAsync(cp)
	}

	logger.Info("checkpoint created",
		"checkpoint_id", cp.ID,
		"label", label,
		"nodes", cp.NodeCount,
		"edges", cp.EdgeCount,
		"retained", len(m.checkpoints))

	return cp.ID, nil
}

// persistAsync forwards the checkpoint to the store without blocking
// the caller. Uses a background context so a cancelled caller context
// cannot abort a write already in flight.
func (m *Manager) persistAsync(cp *Checkpoint) {
	snap := SnapshotFromGraph(cp.graph, cp.ID, cp.Label, cp.Metadata, cp.CreatedAt)
	timeout := m.config.PersistTimeout

	m.persistWG.Add(1)
	go func() {
		defer m.persistWG.Done()

		pctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := m.store.StoreSnapshot(pctx, snap, cp.Label); err != nil {
			m.logger.Warn("snapshot persist failed",
				"checkpoint_id", cp.ID,
				"error", err)
			recordPersistError(pctx)
			return
		}
		recordPersist(pctx)
	}()
}

// evictLocked drops oldest checkpoints by capture time until the
// retention window holds. Caller must hold m.mu.
func (m *Manager) evictLocked(ctx context.Context) {
	if !m.config.AutoCleanup {
		return
	}
	for len(m.checkpoints) > m.config.MaxCheckpoints {
		oldest := 0
		for i, cp := range m.checkpoints {
			if cp.CreatedAt.Before(m.checkpoints[oldest].CreatedAt) ||
				(cp.CreatedAt.Equal(m.checkpoints[oldest].CreatedAt) && cp.seq < m.checkpoints[oldest].seq) {
				oldest = i
			}
		}
		evicted := m.checkpoints[oldest]
		m.checkpoints = append(m.checkpoints[:oldest], m.checkpoints[oldest+1:]...)
		recordEvict(ctx)
		decActive(ctx)
		m.logger.Debug("checkpoint evicted",
			"checkpoint_id", evicted.ID,
			"label", evicted.Label,
			"captured_at", evicted.CreatedAt.Format(time.RFC3339))
	}
}

// RollbackTo restores the graph to the identified checkpoint.
//
// # Description
//
// Replays the checkpoint through Clear, AddNode, and AddEdge in the
// captured insertion order. A failed replay surfaces ErrPartialRestore
// wrapping the cause and leaves the graph as the replay left it. Every
// attempt, successful or not, appends a RollbackRecord.
//
// # Inputs
//
//   - ctx: Context for tracing and metrics.
//   - id: Checkpoint id returned by Create.
//
// # Outputs
//
//   - error: ErrCheckpointNotFound if id is not retained,
//     ErrPartialRestore if the replay failed midway.
func (m *Manager) RollbackTo(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	cp := m.findLocked(id)
	if cp == nil {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}

	return m.restoreLocked(ctx, cp, TriggerCheckpoint)
}

// RollbackToLatest restores the most recent checkpoint by capture
// timestamp, not retention order.
//
// # Outputs
//
//   - error: ErrNoCheckpoints when the retention window is empty.
func (m *Manager) RollbackToLatest(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	cp := m.latestLocked()
	if cp == nil {
		return ErrNoCheckpoints
	}

	return m.restoreLocked(ctx, cp, TriggerLatest)
}

// RollbackToVersion restores a snapshot persisted in the external
// store, reaching states older than the in-memory retention window.
//
// # Inputs
//
//   - ctx: Context for the store read and tracing.
//   - version: Persisted version (a checkpoint id).
//
// # Outputs
//
//   - error: ErrNoStore without a configured store, ErrVersionNotFound
//     if the version was never persisted, ErrPartialRestore on a failed
//     replay.
func (m *Manager) RollbackToVersion(ctx context.Context, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.store == nil {
		return ErrNoStore
	}

	load := func(ctx context.Context) (*Snapshot, error) {
		return m.store.GetSnapshot(ctx, version)
	}

	var snap *Snapshot
	var err error
	if m.cache != nil {
		snap, err = m.cache.GetOrLoad(ctx, version, load)
	} else {
		snap, err = load(ctx)
	}
	if err != nil {
		return fmt.Errorf("loading version %s: %w", version, err)
	}

	return m.restoreSnapshotLocked(ctx, snap, version, snap.Label, TriggerVersion)
}

// restoreLocked replays a retained checkpoint. Caller must hold m.mu.
func (m *Manager) restoreLocked(ctx context.Context, cp *Checkpoint, trigger string) error {
	snap := SnapshotFromGraph(cp.graph, cp.ID, cp.Label, cp.Metadata, cp.CreatedAt)
	return m.restoreSnapshotLocked(ctx, snap, cp.ID, cp.Label, trigger)
}

// restoreSnapshotLocked is the single replay path for all rollbacks.
// Caller must hold m.mu.
func (m *Manager) restoreSnapshotLocked(ctx context.Context, snap *Snapshot, id, label, trigger string) (err error) {
	ctx, span := m.tracer.StartRollback(ctx, id, trigger)
	start := m.now()

	logger := LoggerWithTrace(ctx, m.logger)

	var nodes, edges int
	defer func() {
		duration := m.now().Sub(start)
		m.tracer.EndRollback(span, nodes, edges, err)
		recordRollback(ctx, trigger, duration, err == nil)

		record := RollbackRecord{
			CheckpointID:  id,
			Label:         label,
			Trigger:       trigger,
			At:            start,
			Success:       err == nil,
			NodesRestored: nodes,
			EdgesRestored: edges,
			Duration:      duration,
		}
		if err != nil {
			record.Err = err.Error()
		}
		m.appendHistoryLocked(record)
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in rollback: %v", r)
			logger.Error("panic in rollback", "panic", r, "checkpoint_id", id)
		}
	}()

	nodes, edges, err = snap.Restore(m.g)
	if err != nil {
		logger.Error("rollback failed partway",
			"checkpoint_id", id,
			"trigger", trigger,
			"nodes_restored", nodes,
			"edges_restored", edges,
			"error", err)
		err = fmt.Errorf("%w: %v", ErrPartialRestore, err)
		return err
	}

	logger.Info("rollback complete",
		"checkpoint_id", id,
		"trigger", trigger,
		"nodes_restored", nodes,
		"edges_restored", edges)

	return nil
}

// TxOption configures WithCheckpoint.
type TxOption func(*txOptions)

type txOptions struct {
	retainOnSuccess bool
}

// RetainOnSuccess keeps the guard checkpoint after the operation
// succeeds instead of discarding it.
func RetainOnSuccess() TxOption {
	return func(o *txOptions) {
		o.retainOnSuccess = true
	}
}

// WithCheckpoint runs fn under checkpoint protection.
//
// # Description
//
// Captures a checkpoint, runs fn, and on failure rolls the graph back
// to the capture before returning fn's error. A panic inside fn is
// recovered, rolled back, and returned as an error. On success the
// guard checkpoint is discarded unless RetainOnSuccess is given. The
// net effect is all-or-nothing: either fn's mutations are fully
// visible, or the graph is back in its pre-operation state.
//
// # Inputs
//
//   - ctx: Context passed through to fn and the rollback.
//   - label: Label for the guard checkpoint.
//   - fn: The operation. Receives ctx; mutates the bound graph.
//   - opts: Optional behavior tweaks.
//
// # Outputs
//
//   - error: fn's error after a successful rollback; joined with the
//     rollback error if the rollback itself failed.
func (m *Manager) WithCheckpoint(ctx context.Context, label string, fn func(context.Context) error, opts ...TxOption) error {
	if fn == nil {
		return ErrNilOperation
	}

	var options txOptions
	for _, opt := range opts {
		opt(&options)
	}

	id, err := m.Create(ctx, label, nil)
	if err != nil {
		return fmt.Errorf("creating guard checkpoint: %w", err)
	}

	opErr := runGuarded(ctx, fn)
	if opErr != nil {
		if rbErr := m.rollbackGuard(ctx, id); rbErr != nil {
			return errors.Join(opErr, fmt.Errorf("rollback after failure: %w", rbErr))
		}
		return opErr
	}

	if !options.retainOnSuccess {
		if err := m.Remove(id); err != nil {
			m.logger.Warn("failed to discard guard checkpoint",
				"checkpoint_id", id,
				"error", err)
		}
	}

	return nil
}

// rollbackGuard restores the guard checkpoint with the guard trigger.
func (m *Manager) rollbackGuard(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := m.findLocked(id)
	if cp == nil {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
	}
	return m.restoreLocked(ctx, cp, TriggerGuard)
}

// runGuarded invokes fn, converting a panic into an error.
func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in checkpointed operation: %v", r)
		}
	}()
	return fn(ctx)
}

// Remove discards a retained checkpoint. The persisted copy, if any,
// stays in the store.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	for i, cp := range m.checkpoints {
		if cp.ID == id {
			m.checkpoints = append(m.checkpoints[:i], m.checkpoints[i+1:]...)
			decActive(context.Background())
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
}

// Clear discards all retained checkpoints. Rollback history and
// persisted snapshots are unaffected.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	for range m.checkpoints {
		decActive(context.Background())
	}
	m.checkpoints = nil
	return nil
}

// List returns the retained checkpoints sorted by capture time.
func (m *Manager) List() []*Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].seq < out[j].seq
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Latest returns the most recent checkpoint by capture time.
func (m *Manager) Latest() (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := m.latestLocked()
	if cp == nil {
		return nil, ErrNoCheckpoints
	}
	return cp, nil
}

// History returns a copy of the rollback records, oldest first.
func (m *Manager) History() []RollbackRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RollbackRecord, len(m.history))
	copy(out, m.history)
	return out
}

// Close drains in-flight persists and marks the manager closed. The
// snapshot store is not closed; its owner remains responsible for it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.persistWG.Wait()
	return nil
}

// findLocked returns the retained checkpoint with the given id, or nil.
// Caller must hold m.mu.
func (m *Manager) findLocked(id string) *Checkpoint {
	for _, cp := range m.checkpoints {
		if cp.ID == id {
			return cp
		}
	}
	return nil
}

// latestLocked returns the checkpoint with the greatest capture time,
// ties broken by creation sequence. Caller must hold m.mu.
func (m *Manager) latestLocked() *Checkpoint {
	var latest *Checkpoint
	for _, cp := range m.checkpoints {
		if latest == nil ||
			cp.CreatedAt.After(latest.CreatedAt) ||
			(cp.CreatedAt.Equal(latest.CreatedAt) && cp.seq > latest.seq) {
			latest = cp
		}
	}
	return latest
}

// appendHistoryLocked records a rollback attempt, dropping the oldest
// record past maxHistoryRecords. Caller must hold m.mu.
func (m *Manager) appendHistoryLocked(record RollbackRecord) {
	m.history = append(m.history, record)
	if len(m.history) > maxHistoryRecords {
		m.history = m.history[len(m.history)-maxHistoryRecords:]
	}
}
