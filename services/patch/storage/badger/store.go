// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/patchwork/pkg/validation"
	"github.com/AleutianAI/patchwork/services/patch/checkpoint"
)

// Key layout. Snapshot payloads live under the snapshot prefix; each
// non-empty tag adds an index key with an empty value. Rollback
// records live under the history prefix keyed by timestamp, so key
// order is chronological order.
const (
	snapshotKeyPrefix = "snapshot:"
	tagKeyPrefix      = "tag:"
	historyKeyPrefix  = "history:"
)

// ErrSnapshotCorrupt is returned when a stored snapshot fails its
// digest check.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// envelope wraps a snapshot payload with its integrity digest.
type envelope struct {
	Digest  string          `json:"digest"`
	Payload json.RawMessage `json:"payload"`
}

// Store is a BadgerDB-backed checkpoint.SnapshotStore.
//
// Description:
//
//	Snapshots are stored as JSON with a sha256 digest computed at write
//	time and verified on every read. The store owns its database handle
//	and GC runner; Close releases both.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB serializes conflicting writes.
type Store struct {
	db       *badger.DB
	gcRunner *GCRunner
	logger   *slog.Logger
	path     string
	inMemory bool
}

// Compile-time interface check.
var _ checkpoint.SnapshotStore = (*Store)(nil)

// Open creates a snapshot store with the given configuration.
//
// Description:
//
//	Opens the underlying BadgerDB and, for persistent stores with a
//	positive GCInterval, starts a value log GC runner.
//
// Inputs:
//
//	cfg - Store configuration. Use DefaultConfig or InMemoryConfig.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "badger.Store")
	}

	s := &Store{
		db:       db,
		logger:   logger,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gcRunner = runner
		runner.Start()
	}

	return s, nil
}

// Path returns the store directory, or empty string for in-memory
// stores.
func (s *Store) Path() string {
	return s.path
}

// InMemory reports whether the store persists to disk.
func (s *Store) InMemory() bool {
	return s.inMemory
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gcRunner != nil {
		s.gcRunner.Stop()
		s.gcRunner = nil
	}
	return s.db.Close()
}

// StoreSnapshot persists a snapshot under its version key.
//
// Description:
//
//	Serializes the snapshot to JSON, computes its sha256 digest, and
//	writes both in one transaction. A non-empty tag also writes a
//	tag index key. Re-storing a version overwrites it.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	snap - Snapshot to persist. Version must be non-empty.
//	tag - Optional secondary index value.
//
// Outputs:
//
//	error - Non-nil on serialization or write failure.
func (s *Store) StoreSnapshot(ctx context.Context, snap *checkpoint.Snapshot, tag string) error {
	if snap == nil {
		return errors.New("snapshot must not be nil")
	}
	if snap.Version == "" {
		return errors.New("snapshot version must not be empty")
	}
	if err := validation.ValidateVersion(snap.Version); err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}
	if err := validation.ValidateTag(tag); err != nil {
		return fmt.Errorf("storing snapshot %s: %w", snap.Version, err)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", snap.Version, err)
	}

	env := envelope{
		Digest:  digestHex(payload),
		Payload: payload,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope %s: %w", snap.Version, err)
	}

	err = s.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(snap.Version), value); err != nil {
			return err
		}
		if tag != "" {
			return txn.Set(tagKey(tag, snap.Version), nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storing snapshot %s: %w", snap.Version, err)
	}

	s.logger.Debug("snapshot stored",
		"version", snap.Version,
		"tag", tag,
		"bytes", len(value))
	return nil
}

// GetSnapshot loads and verifies a snapshot by version.
//
// Outputs:
//
//	*checkpoint.Snapshot - The decoded snapshot.
//	error - checkpoint.ErrVersionNotFound if absent, ErrSnapshotCorrupt
//	        if the stored digest does not match the payload.
func (s *Store) GetSnapshot(ctx context.Context, version string) (*checkpoint.Snapshot, error) {
	var value []byte
	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(version))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", checkpoint.ErrVersionNotFound, version)
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", version, err)
	}

	var env envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: undecodable envelope: %v", ErrSnapshotCorrupt, version, err)
	}
	if digestHex(env.Payload) != env.Digest {
		return nil, fmt.Errorf("%w: %s: digest mismatch", ErrSnapshotCorrupt, version)
	}

	var snap checkpoint.Snapshot
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: undecodable payload: %v", ErrSnapshotCorrupt, version, err)
	}
	return &snap, nil
}

// Versions lists all persisted versions in key order.
func (s *Store) Versions(ctx context.Context) ([]string, error) {
	var versions []string
	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(snapshotKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			versions = append(versions, strings.TrimPrefix(key, snapshotKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return versions, nil
}

// TaggedVersions lists all versions stored under the given tag.
func (s *Store) TaggedVersions(ctx context.Context, tag string) ([]string, error) {
	prefix := tagKeyPrefix + tag + ":"

	var versions []string
	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			versions = append(versions, strings.TrimPrefix(key, prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing versions for tag %s: %w", tag, err)
	}
	return versions, nil
}

// DeleteSnapshot removes a version and its tag index entries.
//
// Outputs:
//
//	error - checkpoint.ErrVersionNotFound if the version is absent.
func (s *Store) DeleteSnapshot(ctx context.Context, version string) error {
	snap, err := s.GetSnapshot(ctx, version)
	if err != nil && !errors.Is(err, ErrSnapshotCorrupt) {
		return err
	}

	return s.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(snapshotKey(version)); err != nil {
			return err
		}
		if snap != nil && snap.Label != "" {
			return txn.Delete(tagKey(snap.Label, version))
		}
		return nil
	})
}

// AppendRollback journals a rollback record so restore lineage
// survives the process that performed it.
func (s *Store) AppendRollback(ctx context.Context, record checkpoint.RollbackRecord) error {
	if record.CheckpointID == "" {
		return errors.New("rollback record must name a checkpoint")
	}
	if err := validation.ValidateVersion(record.CheckpointID); err != nil {
		return fmt.Errorf("journaling rollback: %w", err)
	}

	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding rollback record %s: %w", record.CheckpointID, err)
	}

	err = s.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(historyKey(record.At, record.CheckpointID), value)
	})
	if err != nil {
		return fmt.Errorf("journaling rollback %s: %w", record.CheckpointID, err)
	}

	s.logger.Debug("rollback journaled",
		"checkpoint_id", record.CheckpointID,
		"trigger", record.Trigger,
		"success", record.Success)
	return nil
}

// RollbackHistory returns all journaled rollback records, oldest
// first.
func (s *Store) RollbackHistory(ctx context.Context) ([]checkpoint.RollbackRecord, error) {
	var records []checkpoint.RollbackRecord
	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(historyKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var record checkpoint.RollbackRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("undecodable record %s: %v", it.Item().Key(), err)
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing rollback history: %w", err)
	}
	return records, nil
}

// WithTxn executes a function within a read-write transaction.
//
// Description:
//
//	Opens a read-write transaction, executes the function, and commits
//	if the function returns nil. Rolls back on error.
//
// Inputs:
//
//	ctx - Context for cancellation (used for deadline checks).
//	fn - Function to execute within the transaction.
//
// Outputs:
//
//	error - Non-nil if transaction fails or function returns error.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	// Check context before starting
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn executes a function within a read-only transaction.
//
// Description:
//
//	Opens a read-only transaction and executes the function.
//
// Inputs:
//
//	ctx - Context for cancellation (used for deadline checks).
//	fn - Function to execute within the transaction.
//
// Outputs:
//
//	error - Non-nil if function returns error.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	// Check context before starting
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

func snapshotKey(version string) []byte {
	return []byte(snapshotKeyPrefix + version)
}

func tagKey(tag, version string) []byte {
	return []byte(tagKeyPrefix + tag + ":" + version)
}

func historyKey(at time.Time, checkpointID string) []byte {
	return []byte(historyKeyPrefix + at.UTC().Format(time.RFC3339Nano) + ":" + checkpointID)
}

func digestHex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
