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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// fakeStore is an in-memory SnapshotStore that signals each persist.
type fakeStore struct {
	mu        sync.Mutex
	snaps     map[string]*Snapshot
	stored    chan string
	failStore bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snaps:  make(map[string]*Snapshot),
		stored: make(chan string, 16),
	}
}

func (s *fakeStore) StoreSnapshot(_ context.Context, snap *Snapshot, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStore {
		return errors.New("store unavailable")
	}
	s.snaps[snap.Version] = snap
	select {
	case s.stored <- snap.Version:
	default:
	}
	return nil
}

func (s *fakeStore) GetSnapshot(_ context.Context, version string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, version)
	}
	return snap, nil
}

func (s *fakeStore) Versions(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := make([]string, 0, len(s.snaps))
	for v := range s.snaps {
		versions = append(versions, v)
	}
	return versions, nil
}

func (s *fakeStore) Close() error { return nil }

// waitStored blocks until the store has accepted one snapshot.
func waitStored(t *testing.T, store *fakeStore) string {
	t.Helper()
	select {
	case v := <-store.stored:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot persist")
		return ""
	}
}

// addConstant adds a single constant node.
func addConstant(t *testing.T, g *graph.Graph, id string, value float64) {
	t.Helper()
	require.NoError(t, g.AddNode(&graph.Node{ID: id, Kind: graph.KindConstant, Value: value}))
}

// TestManager_CreateAndRollback verifies the basic round trip.
func TestManager_CreateAndRollback(t *testing.T) {
	g := buildSampleGraph(t)
	want := g.Clone()

	mgr := NewManager(g)
	defer mgr.Close()
	ctx := context.Background()

	id, err := mgr.Create(ctx, "before-edit", map[string]any{"actor": "test"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Mutate the live graph heavily.
	require.NoError(t, g.RemoveNode("sum"))
	addConstant(t, g, "extra", 9)
	require.False(t, want.Equal(g))

	require.NoError(t, mgr.RollbackTo(ctx, id))
	assert.True(t, want.Equal(g), "rollback should restore the captured state")
	assert.Equal(t, want.NodeIDs(), g.NodeIDs(), "replay should preserve insertion order")
}

// TestManager_CheckpointIsolation verifies later mutations never leak
// into an existing checkpoint.
func TestManager_CheckpointIsolation(t *testing.T) {
	g := graph.New()
	addConstant(t, g, "a", 1)

	mgr := NewManager(g)
	defer mgr.Close()
	ctx := context.Background()

	id, err := mgr.Create(ctx, "", nil)
	require.NoError(t, err)

	addConstant(t, g, "b", 2)

	cps := mgr.List()
	require.Len(t, cps, 1)
	assert.Equal(t, id, cps[0].ID)
	assert.Equal(t, 1, cps[0].NodeCount)
	assert.False(t, cps[0].Graph().HasNode("b"))
	assert.True(t, cps[0].Graph().IsFrozen())
}

// TestManager_RollbackToMissing verifies the not-found path.
func TestManager_RollbackToMissing(t *testing.T) {
	mgr := NewManager(graph.New())
	defer mgr.Close()

	err := mgr.RollbackTo(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

// TestManager_RollbackToLatest verifies selection by capture timestamp,
// not creation order.
func TestManager_RollbackToLatest(t *testing.T) {
	g := graph.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mgr := NewManager(g, WithClock(func() time.Time { return now }))
	defer mgr.Close()
	ctx := context.Background()

	// First checkpoint carries the LATER capture timestamp.
	addConstant(t, g, "newer", 1)
	now = now.Add(2 * time.Hour)
	_, err := mgr.Create(ctx, "newer", nil)
	require.NoError(t, err)

	require.NoError(t, g.Clear())
	addConstant(t, g, "older", 2)
	now = now.Add(-time.Hour)
	_, err = mgr.Create(ctx, "older", nil)
	require.NoError(t, err)

	require.NoError(t, g.Clear())
	require.NoError(t, mgr.RollbackToLatest(ctx))

	assert.True(t, g.HasNode("newer"), "latest should be chosen by capture time")
	assert.False(t, g.HasNode("older"))
}

// TestManager_RollbackToLatestEmpty verifies the empty-window error.
func TestManager_RollbackToLatestEmpty(t *testing.T) {
	mgr := NewManager(graph.New())
	defer mgr.Close()

	err := mgr.RollbackToLatest(context.Background())
	assert.ErrorIs(t, err, ErrNoCheckpoints)
}

// TestManager_EvictionByCaptureTime verifies the retention window
// evicts the oldest capture, wherever it sits in creation order.
func TestManager_EvictionByCaptureTime(t *testing.T) {
	g := graph.New()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mgr := NewManager(g,
		WithMaxCheckpoints(2),
		WithClock(func() time.Time { return now }),
	)
	defer mgr.Close()
	ctx := context.Background()

	now = now.Add(3 * time.Hour)
	idA, err := mgr.Create(ctx, "a", nil)
	require.NoError(t, err)

	now = now.Add(-2 * time.Hour)
	idB, err := mgr.Create(ctx, "b", nil)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	idC, err := mgr.Create(ctx, "c", nil)
	require.NoError(t, err)

	cps := mgr.List()
	require.Len(t, cps, 2)

	retained := map[string]bool{}
	for _, cp := range cps {
		retained[cp.ID] = true
	}
	assert.False(t, retained[idB], "oldest capture should be evicted")
	assert.True(t, retained[idA])
	assert.True(t, retained[idC])

	// List is sorted by capture time.
	assert.Equal(t, idC, cps[0].ID)
	assert.Equal(t, idA, cps[1].ID)
}

// TestManager_AutoCleanupDisabled verifies checkpoints accumulate past
// the window when cleanup is off.
func TestManager_AutoCleanupDisabled(t *testing.T) {
	g := graph.New()
	mgr := NewManager(g, WithMaxCheckpoints(2), WithAutoCleanup(false))
	defer mgr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := mgr.Create(ctx, "", nil)
		require.NoError(t, err)
	}
	assert.Len(t, mgr.List(), 5)
}

// TestManager_Configure verifies runtime reconfiguration trims
// immediately.
func TestManager_Configure(t *testing.T) {
	g := graph.New()
	mgr := NewManager(g, WithMaxCheckpoints(10))
	defer mgr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := mgr.Create(ctx, "", nil)
		require.NoError(t, err)
	}

	require.NoError(t, mgr.Configure(Config{MaxCheckpoints: 2, AutoCleanup: true}))
	assert.Len(t, mgr.List(), 2)
}

// TestManager_RemoveAndClear verifies explicit discard paths.
func TestManager_RemoveAndClear(t *testing.T) {
	g := graph.New()
	mgr := NewManager(g)
	defer mgr.Close()
	ctx := context.Background()

	id1, err := mgr.Create(ctx, "one", nil)
	require.NoError(t, err)
	_, err = mgr.Create(ctx, "two", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Remove(id1))
	assert.Len(t, mgr.List(), 1)

	err = mgr.Remove(id1)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	require.NoError(t, mgr.Clear())
	assert.Empty(t, mgr.List())
}

// TestManager_History verifies rollback attempts are recorded.
func TestManager_History(t *testing.T) {
	g := graph.New()
	addConstant(t, g, "a", 1)

	mgr := NewManager(g)
	defer mgr.Close()
	ctx := context.Background()

	id, err := mgr.Create(ctx, "labelled", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.RollbackTo(ctx, id))

	history := mgr.History()
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].CheckpointID)
	assert.Equal(t, "labelled", history[0].Label)
	assert.Equal(t, TriggerCheckpoint, history[0].Trigger)
	assert.True(t, history[0].Success)
	assert.Equal(t, 1, history[0].NodesRestored)
	assert.Empty(t, history[0].Err)
}

// TestManager_WithCheckpoint verifies the all-or-nothing guard.
func TestManager_WithCheckpoint(t *testing.T) {
	t.Run("success keeps mutations, discards guard", func(t *testing.T) {
		g := graph.New()
		addConstant(t, g, "a", 1)

		mgr := NewManager(g)
		defer mgr.Close()

		err := mgr.WithCheckpoint(context.Background(), "edit", func(context.Context) error {
			addConstant(t, g, "b", 2)
			return nil
		})
		require.NoError(t, err)

		assert.True(t, g.HasNode("b"))
		assert.Empty(t, mgr.List(), "guard checkpoint should be discarded")
	})

	t.Run("failure rolls back and returns the cause", func(t *testing.T) {
		g := graph.New()
		addConstant(t, g, "a", 1)
		want := g.Clone()

		mgr := NewManager(g)
		defer mgr.Close()

		cause := errors.New("validation refused")
		err := mgr.WithCheckpoint(context.Background(), "edit", func(context.Context) error {
			addConstant(t, g, "partial", 2)
			return cause
		})
		assert.ErrorIs(t, err, cause)

		assert.True(t, want.Equal(g), "graph should be back to the pre-operation state")
		assert.False(t, g.HasNode("partial"))

		history := mgr.History()
		require.Len(t, history, 1)
		assert.Equal(t, TriggerGuard, history[0].Trigger)
	})

	t.Run("panic is recovered and rolled back", func(t *testing.T) {
		g := graph.New()
		addConstant(t, g, "a", 1)
		want := g.Clone()

		mgr := NewManager(g)
		defer mgr.Close()

		err := mgr.WithCheckpoint(context.Background(), "edit", func(context.Context) error {
			addConstant(t, g, "partial", 2)
			panic("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
		assert.True(t, want.Equal(g))
	})

	t.Run("retain on success keeps the guard", func(t *testing.T) {
		g := graph.New()
		mgr := NewManager(g)
		defer mgr.Close()

		err := mgr.WithCheckpoint(context.Background(), "edit", func(context.Context) error {
			addConstant(t, g, "b", 2)
			return nil
		}, RetainOnSuccess())
		require.NoError(t, err)
		assert.Len(t, mgr.List(), 1)
	})

	t.Run("nil operation", func(t *testing.T) {
		mgr := NewManager(graph.New())
		defer mgr.Close()

		err := mgr.WithCheckpoint(context.Background(), "", nil)
		assert.ErrorIs(t, err, ErrNilOperation)
	})
}

// TestManager_PersistAndRollbackToVersion verifies the external store
// path, including reaching a state already evicted from memory.
func TestManager_PersistAndRollbackToVersion(t *testing.T) {
	g := graph.New()
	addConstant(t, g, "v1-node", 1)

	store := newFakeStore()
	mgr := NewManager(g, WithMaxCheckpoints(1), WithStore(store))
	defer mgr.Close()
	ctx := context.Background()

	v1, err := mgr.Create(ctx, "first", nil)
	require.NoError(t, err)
	require.Equal(t, v1, waitStored(t, store))

	// Second checkpoint evicts the first from memory.
	require.NoError(t, g.Clear())
	addConstant(t, g, "v2-node", 2)
	v2, err := mgr.Create(ctx, "second", nil)
	require.NoError(t, err)
	require.Equal(t, v2, waitStored(t, store))

	cps := mgr.List()
	require.Len(t, cps, 1)
	require.Equal(t, v2, cps[0].ID)

	// The evicted version is still reachable through the store.
	require.NoError(t, mgr.RollbackToVersion(ctx, v1))
	assert.True(t, g.HasNode("v1-node"))
	assert.False(t, g.HasNode("v2-node"))

	history := mgr.History()
	require.Len(t, history, 1)
	assert.Equal(t, TriggerVersion, history[0].Trigger)
}

// TestManager_RollbackToVersionMissing verifies store miss propagation.
func TestManager_RollbackToVersionMissing(t *testing.T) {
	store := newFakeStore()
	mgr := NewManager(graph.New(), WithStore(store))
	defer mgr.Close()

	err := mgr.RollbackToVersion(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

// TestManager_RollbackToVersionNoStore verifies the unconfigured path.
func TestManager_RollbackToVersionNoStore(t *testing.T) {
	mgr := NewManager(graph.New())
	defer mgr.Close()

	err := mgr.RollbackToVersion(context.Background(), "any")
	assert.ErrorIs(t, err, ErrNoStore)
}

// TestManager_PartialRestore verifies a corrupt snapshot surfaces
// ErrPartialRestore and a failed history record.
func TestManager_PartialRestore(t *testing.T) {
	store := newFakeStore()
	store.snaps["bad"] = &Snapshot{
		Version: "bad",
		Nodes:   []SnapshotNode{{ID: "a", Kind: string(graph.KindConstant)}},
		Edges:   []SnapshotEdge{{ID: "e1", From: "a", To: "missing"}},
	}

	g := graph.New()
	mgr := NewManager(g, WithStore(store))
	defer mgr.Close()

	err := mgr.RollbackToVersion(context.Background(), "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialRestore)

	// The graph is left as the replay left it.
	assert.True(t, g.HasNode("a"))

	history := mgr.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].Success)
	assert.Equal(t, 1, history[0].NodesRestored)
	assert.NotEmpty(t, history[0].Err)
}

// TestManager_PersistFailureDoesNotSurface verifies fire-and-forget
// persistence never fails a Create.
func TestManager_PersistFailureDoesNotSurface(t *testing.T) {
	store := newFakeStore()
	store.failStore = true

	g := graph.New()
	mgr := NewManager(g, WithStore(store))
	ctx := context.Background()

	id, err := mgr.Create(ctx, "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Close drains the failed persist goroutine.
	require.NoError(t, mgr.Close())
}

// TestManager_Closed verifies operations after Close.
func TestManager_Closed(t *testing.T) {
	mgr := NewManager(graph.New())
	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close(), "Close should be idempotent")

	ctx := context.Background()
	_, err := mgr.Create(ctx, "", nil)
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, mgr.RollbackTo(ctx, "x"), ErrManagerClosed)
	assert.ErrorIs(t, mgr.RollbackToLatest(ctx), ErrManagerClosed)
	assert.ErrorIs(t, mgr.RollbackToVersion(ctx, "x"), ErrManagerClosed)
	assert.ErrorIs(t, mgr.Remove("x"), ErrManagerClosed)
	assert.ErrorIs(t, mgr.Clear(), ErrManagerClosed)
	assert.ErrorIs(t, mgr.Configure(DefaultConfig()), ErrManagerClosed)
}

// TestManager_Latest verifies the accessor without rollback.
func TestManager_Latest(t *testing.T) {
	g := graph.New()
	mgr := NewManager(g)
	defer mgr.Close()
	ctx := context.Background()

	_, err := mgr.Latest()
	assert.ErrorIs(t, err, ErrNoCheckpoints)

	_, err = mgr.Create(ctx, "first", nil)
	require.NoError(t, err)
	id2, err := mgr.Create(ctx, "second", nil)
	require.NoError(t, err)

	latest, err := mgr.Latest()
	require.NoError(t, err)
	assert.Equal(t, id2, latest.ID)
	assert.Equal(t, "second", latest.Label)
}
