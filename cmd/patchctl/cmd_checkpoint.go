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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/patchwork/services/patch/cache"
	"github.com/AleutianAI/patchwork/services/patch/checkpoint"
	"github.com/AleutianAI/patchwork/services/patch/manifest"
	badgerstore "github.com/AleutianAI/patchwork/services/patch/storage/badger"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	checkpointStore   string
	checkpointLabel   string
	checkpointTag     string
	checkpointVersion string
	checkpointLatest  bool
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage durable graph checkpoints",
	Long: `Manage durable graph checkpoints in a local snapshot store.

Snapshots live in a BadgerDB directory (--store) and survive across
runs. Rollbacks restore the manifest file in place and are journaled
so history shows every restore, including failed ones.

Examples:
  patchctl checkpoint create graph.yaml --label before-refactor
  patchctl checkpoint list
  patchctl checkpoint rollback graph.yaml --latest
  patchctl checkpoint rollback graph.yaml --version 6c0f...
  patchctl checkpoint history`,
}

var checkpointCreateCmd = &cobra.Command{
	Use:   "create [graph.yaml]",
	Short: "Capture the graph into the snapshot store",
	Args:  cobra.ExactArgs(1),
	Run:   runCheckpointCreate,
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted snapshots, oldest first",
	Args:  cobra.NoArgs,
	Run:   runCheckpointList,
}

var checkpointRollbackCmd = &cobra.Command{
	Use:   "rollback [graph.yaml]",
	Short: "Restore the manifest from a snapshot",
	Args:  cobra.ExactArgs(1),
	Run:   runCheckpointRollback,
}

var checkpointHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled rollbacks",
	Args:  cobra.NoArgs,
	Run:   runCheckpointHistory,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	checkpointCmd.PersistentFlags().StringVar(&checkpointStore, "store", ".patchwork",
		"Snapshot store directory")

	checkpointCreateCmd.Flags().StringVar(&checkpointLabel, "label", "",
		"Human label for the checkpoint")
	checkpointListCmd.Flags().StringVar(&checkpointTag, "tag", "",
		"Only list snapshots stored under this label")
	checkpointRollbackCmd.Flags().StringVar(&checkpointVersion, "version", "",
		"Snapshot version to restore")
	checkpointRollbackCmd.Flags().BoolVar(&checkpointLatest, "latest", false,
		"Restore the most recently captured snapshot")

	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointRollbackCmd)
	checkpointCmd.AddCommand(checkpointHistoryCmd)
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

// openSnapshotStore opens the badger store named by --store and exits
// the process when it cannot.
func openSnapshotStore() *badgerstore.Store {
	cfg := badgerstore.DefaultConfig(checkpointStore)
	cfg.Logger = slog.Default()

	store, err := badgerstore.Open(cfg)
	if err != nil {
		outputError("Failed to open snapshot store", err)
		os.Exit(CLIExitError)
	}
	return store
}

func runCheckpointCreate(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g := loadGraph(args[0])

	store := openSnapshotStore()
	defer store.Close()

	manager := checkpoint.NewManager(g,
		checkpoint.WithStore(store),
		checkpoint.WithLogger(slog.Default()))

	id, err := manager.Create(ctx, checkpointLabel, map[string]any{"source": args[0]})
	if err != nil {
		outputError("Failed to create checkpoint", err)
		os.Exit(CLIExitError)
	}

	// Close drains the async persist; verify the write landed before
	// reporting success.
	manager.Close()
	snap, err := store.GetSnapshot(ctx, id)
	if err != nil {
		outputError("Checkpoint was not persisted", err)
		os.Exit(CLIExitError)
	}

	fmt.Printf("Created checkpoint %s\n", id)
	if checkpointLabel != "" {
		fmt.Printf("  label: %s\n", checkpointLabel)
	}
	fmt.Printf("  nodes: %d  edges: %d\n", len(snap.Nodes), len(snap.Edges))
}

func runCheckpointList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := openSnapshotStore()
	defer store.Close()

	var versions []string
	var err error
	if checkpointTag != "" {
		versions, err = store.TaggedVersions(ctx, checkpointTag)
	} else {
		versions, err = store.Versions(ctx)
	}
	if err != nil {
		outputError("Failed to list snapshots", err)
		os.Exit(CLIExitError)
	}

	snaps := make([]*checkpoint.Snapshot, 0, len(versions))
	for _, version := range versions {
		snap, err := store.GetSnapshot(ctx, version)
		if err != nil {
			slog.Warn("skipping unreadable snapshot", "version", version, "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CapturedAt.Before(snaps[j].CapturedAt)
	})

	outputCheckpointList(snaps)
}

func runCheckpointRollback(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if checkpointVersion == "" && !checkpointLatest {
		outputError("Specify --version or --latest", nil)
		os.Exit(CLIExitError)
	}
	if checkpointVersion != "" && checkpointLatest {
		outputError("Use only one of --version and --latest", nil)
		os.Exit(CLIExitError)
	}

	g := loadGraph(args[0])

	store := openSnapshotStore()
	defer store.Close()

	version := checkpointVersion
	if checkpointLatest {
		var err error
		version, err = latestVersion(ctx, store)
		if err != nil {
			outputError("Failed to resolve latest snapshot", err)
			os.Exit(CLIExitError)
		}
	}

	manager := checkpoint.NewManager(g,
		checkpoint.WithStore(store),
		checkpoint.WithSnapshotCache(cache.NewSnapshotCache()),
		checkpoint.WithLogger(slog.Default()))
	defer manager.Close()

	rollbackErr := manager.RollbackToVersion(ctx, version)

	// Journal the attempt either way so history reflects failures too.
	if records := manager.History(); len(records) > 0 {
		if err := store.AppendRollback(ctx, records[len(records)-1]); err != nil {
			slog.Warn("rollback journal write failed", "error", err)
		}
	}

	if rollbackErr != nil {
		outputError("Rollback failed", rollbackErr)
		os.Exit(CLIExitError)
	}

	if err := manifest.Save(g, args[0]); err != nil {
		outputError("Failed to save restored manifest", err)
		os.Exit(CLIExitError)
	}

	fmt.Printf("Restored %s from %s\n", args[0], version)
	fmt.Printf("  nodes: %d  edges: %d\n", g.NodeCount(), g.EdgeCount())
}

func runCheckpointHistory(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := openSnapshotStore()
	defer store.Close()

	records, err := store.RollbackHistory(ctx)
	if err != nil {
		outputError("Failed to read rollback history", err)
		os.Exit(CLIExitError)
	}

	outputCheckpointHistory(records)
}

// latestVersion picks the newest snapshot by capture time.
func latestVersion(ctx context.Context, store *badgerstore.Store) (string, error) {
	versions, err := store.Versions(ctx)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", errors.New("store has no snapshots")
	}

	var newest *checkpoint.Snapshot
	for _, version := range versions {
		snap, err := store.GetSnapshot(ctx, version)
		if err != nil {
			continue
		}
		if newest == nil || snap.CapturedAt.After(newest.CapturedAt) {
			newest = snap
		}
	}
	if newest == nil {
		return "", errors.New("store has no readable snapshots")
	}
	return newest.Version, nil
}

// =============================================================================
// OUTPUT FUNCTIONS
// =============================================================================

func outputCheckpointList(snaps []*checkpoint.Snapshot) {
	printHeader("Checkpoints")

	if len(snaps) == 0 {
		fmt.Println("No checkpoints found.")
		return
	}
	for _, snap := range snaps {
		label := snap.Label
		if label == "" {
			label = "-"
		}
		fmt.Printf("%s  %-20s %s  %d nodes, %d edges\n",
			snap.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			label, snap.Version, len(snap.Nodes), len(snap.Edges))
	}
}

func outputCheckpointHistory(records []checkpoint.RollbackRecord) {
	printHeader("Rollback History")

	if len(records) == 0 {
		fmt.Println("No rollbacks recorded.")
		return
	}
	for _, record := range records {
		status := "ok"
		if !record.Success {
			status = "FAILED"
		}
		fmt.Printf("%s  %-6s %s  %d nodes, %d edges restored\n",
			record.At.Local().Format("2006-01-02 15:04:05"),
			status, record.CheckpointID, record.NodesRestored, record.EdgesRestored)
		if record.Err != "" {
			fmt.Printf("    %s\n", record.Err)
		}
	}
}
