// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides a read-through LRU cache for persisted graph
// snapshots.
//
// Snapshots are immutable once stored, so the cache never worries about
// staleness; entries are dropped by LRU pressure, an optional age
// bound, or explicit invalidation. Concurrent loads for the same
// version are collapsed into one store read via singleflight.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/patchwork/services/patch/checkpoint"
)

// DefaultMaxEntries is the cache capacity when none is configured.
const DefaultMaxEntries = 32

// SnapshotCache is an LRU cache of snapshots keyed by version.
//
// Thread Safety:
//
//	Safe for concurrent use. The entry map and LRU list share one
//	mutex; loads run outside it under singleflight.
type SnapshotCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	flight     singleflight.Group
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time

	// Stats
	hits       int64
	misses     int64
	evictions  int64
	loads      int64
	loadErrors int64
}

// cacheEntry is the LRU list payload.
type cacheEntry struct {
	version  string
	snap     *checkpoint.Snapshot
	storedAt time.Time
}

// Option configures a SnapshotCache.
type Option func(*SnapshotCache)

// WithMaxEntries sets the cache capacity.
func WithMaxEntries(n int) Option {
	return func(c *SnapshotCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMaxAge bounds how long an entry may be served. Zero (the
// default) keeps entries until LRU pressure or invalidation drops
// them.
func WithMaxAge(d time.Duration) Option {
	return func(c *SnapshotCache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// withClock overrides the cache clock in tests.
func withClock(now func() time.Time) Option {
	return func(c *SnapshotCache) {
		c.now = now
	}
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache(opts ...Option) *SnapshotCache {
	c := &SnapshotCache{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ checkpoint.VersionCache = (*SnapshotCache)(nil)

// GetOrLoad returns the cached snapshot for version, invoking load on a
// miss.
//
// Description:
//
//	Concurrent callers for the same version share a single load; the
//	result is cached on success. Load errors are returned to every
//	waiter and never cached. The returned snapshot is shared; callers
//	must treat it as read-only.
//
// Inputs:
//
//	ctx - Context passed to load.
//	version - Snapshot version key.
//	load - Store read invoked on a miss.
//
// Outputs:
//
//	*checkpoint.Snapshot - The cached or freshly loaded snapshot.
//	error - The load error, if any.
func (c *SnapshotCache) GetOrLoad(ctx context.Context, version string, load func(context.Context) (*checkpoint.Snapshot, error)) (*checkpoint.Snapshot, error) {
	if snap, ok := c.get(version); ok {
		atomic.AddInt64(&c.hits, 1)
		return snap, nil
	}
	atomic.AddInt64(&c.misses, 1)

	result, err, _ := c.flight.Do(version, func() (interface{}, error) {
		// Another waiter may have populated the entry already.
		if snap, ok := c.get(version); ok {
			return snap, nil
		}

		atomic.AddInt64(&c.loads, 1)
		snap, err := load(ctx)
		if err != nil {
			atomic.AddInt64(&c.loadErrors, 1)
			return nil, err
		}

		c.put(version, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*checkpoint.Snapshot), nil
}

// Get returns the cached snapshot for version without loading.
func (c *SnapshotCache) Get(version string) (*checkpoint.Snapshot, bool) {
	snap, ok := c.get(version)
	if ok {
		atomic.AddInt64(&c.hits, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}
	return snap, ok
}

// Invalidate drops the cached entry for version, if present.
func (c *SnapshotCache) Invalidate(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[version]; ok {
		c.lru.Remove(elem)
		delete(c.entries, version)
	}
}

// Clear drops all cached entries. Stats are preserved.
func (c *SnapshotCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// Len returns the number of cached snapshots.
func (c *SnapshotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats summarizes cache behavior.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	Loads      int64
	LoadErrors int64
	Entries    int
}

// Stats returns a point-in-time snapshot of the counters.
func (c *SnapshotCache) Stats() Stats {
	return Stats{
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
		Evictions:  atomic.LoadInt64(&c.evictions),
		Loads:      atomic.LoadInt64(&c.loads),
		LoadErrors: atomic.LoadInt64(&c.loadErrors),
		Entries:    c.Len(),
	}
}

// get returns the cached snapshot and promotes it to most recent.
// Entries past the age bound are dropped and reported as a miss.
func (c *SnapshotCache) get(version string) (*checkpoint.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[version]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.maxAge > 0 && c.now().Sub(entry.storedAt) > c.maxAge {
		c.lru.Remove(elem)
		delete(c.entries, version)
		atomic.AddInt64(&c.evictions, 1)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return entry.snap, true
}

// put inserts a snapshot and evicts past capacity.
func (c *SnapshotCache) put(version string, snap *checkpoint.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[version]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.snap = snap
		entry.storedAt = c.now()
		c.lru.MoveToFront(elem)
		return
	}

	c.entries[version] = c.lru.PushFront(&cacheEntry{
		version:  version,
		snap:     snap,
		storedAt: c.now(),
	})

	for len(c.entries) > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).version)
		atomic.AddInt64(&c.evictions, 1)
	}
}
