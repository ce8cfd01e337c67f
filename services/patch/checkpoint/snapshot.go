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
	"fmt"
	"time"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

// SnapshotNode is the portable form of a graph node.
type SnapshotNode struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Value    any            `json:"value,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Sub      *Snapshot      `json:"sub,omitempty"`
}

// SnapshotEdge is the portable form of a graph edge.
type SnapshotEdge struct {
	ID       string         `json:"id"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	FromPort string         `json:"from_port,omitempty"`
	ToPort   string         `json:"to_port,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Snapshot is a serializable point-in-time copy of a graph.
//
// Description:
//
//	Node and edge slices preserve the graph's insertion order, so a
//	restored graph iterates identically to the captured one. Version is
//	the durable identity used by SnapshotStore implementations; for
//	snapshots produced by a Manager it equals the checkpoint id.
type Snapshot struct {
	Version    string         `json:"version"`
	Tag        string         `json:"tag,omitempty"`
	Label      string         `json:"label,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
	Nodes      []SnapshotNode `json:"nodes"`
	Edges      []SnapshotEdge `json:"edges"`
}

// SnapshotStore persists snapshots beyond the in-memory retention window.
//
// Description:
//
//	Implementations must be safe for concurrent use. GetSnapshot returns
//	ErrVersionNotFound (possibly wrapped) when the version has never
//	been stored.
type SnapshotStore interface {
	// StoreSnapshot persists the snapshot under its Version. The tag is
	// an optional secondary index (for example a human label).
	StoreSnapshot(ctx context.Context, snap *Snapshot, tag string) error

	// GetSnapshot loads a snapshot by version.
	GetSnapshot(ctx context.Context, version string) (*Snapshot, error)

	// Versions lists all persisted versions.
	Versions(ctx context.Context) ([]string, error)

	// Close releases store resources.
	Close() error
}

// VersionCache is an optional read-through cache in front of a
// SnapshotStore. The cache package provides an LRU implementation.
type VersionCache interface {
	// GetOrLoad returns the cached snapshot for version, invoking load
	// on a miss. Concurrent callers for the same version share one load.
	GetOrLoad(ctx context.Context, version string, load func(context.Context) (*Snapshot, error)) (*Snapshot, error)

	// Invalidate drops the cached entry for version, if present.
	Invalidate(version string)

	// Clear drops all cached entries.
	Clear()
}

// SnapshotFromGraph captures the graph into a portable snapshot.
//
// Description:
//
//	Walks nodes and edges in insertion order. Metadata maps are copied
//	shallowly; nested subgraphs are captured recursively with an empty
//	version of their own.
//
// Inputs:
//   - g: Graph to capture. Must not be mutated concurrently.
//   - version: Durable identity for the snapshot.
//   - label: Optional human-readable label.
//   - metadata: Optional caller metadata, copied by reference.
//   - capturedAt: Capture timestamp.
//
// Outputs:
//   - *Snapshot: The captured snapshot.
func SnapshotFromGraph(g *graph.Graph, version, label string, metadata map[string]any, capturedAt time.Time) *Snapshot {
	snap := &Snapshot{
		Version:    version,
		Label:      label,
		Metadata:   metadata,
		CapturedAt: capturedAt,
		Nodes:      make([]SnapshotNode, 0, g.NodeCount()),
		Edges:      make([]SnapshotEdge, 0, g.EdgeCount()),
	}

	for _, node := range g.Nodes() {
		sn := SnapshotNode{
			ID:       node.ID,
			Kind:     string(node.Kind),
			Value:    node.Value,
			Metadata: copyMetadata(node.Metadata),
		}
		if node.Sub != nil {
			sn.Sub = SnapshotFromGraph(node.Sub, "", "", nil, capturedAt)
		}
		snap.Nodes = append(snap.Nodes, sn)
	}

	for _, edge := range g.Edges() {
		snap.Edges = append(snap.Edges, SnapshotEdge{
			ID:       edge.ID,
			From:     edge.From,
			To:       edge.To,
			FromPort: edge.FromPort,
			ToPort:   edge.ToPort,
			Kind:     string(edge.Kind),
			Metadata: copyMetadata(edge.Metadata),
		})
	}

	return snap
}

// Restore replays the snapshot into the graph.
//
// Description:
//
//	Clears the graph, then adds every node and edge through the graph's
//	public API in the captured insertion order. On failure the replay
//	stops immediately and the graph is left with whatever was restored
//	so far; callers decide how to recover.
//
// Inputs:
//   - g: Target graph. Must be mutable.
//
// Outputs:
//   - int: Nodes restored before returning.
//   - int: Edges restored before returning.
//   - error: Non-nil if any mutation failed.
func (s *Snapshot) Restore(g *graph.Graph) (int, int, error) {
	if err := g.Clear(); err != nil {
		return 0, 0, fmt.Errorf("clearing graph: %w", err)
	}

	nodesRestored := 0
	for i := range s.Nodes {
		node, err := s.Nodes[i].toGraphNode()
		if err != nil {
			return nodesRestored, 0, fmt.Errorf("rebuilding node %s: %w", s.Nodes[i].ID, err)
		}
		if err := g.AddNode(node); err != nil {
			return nodesRestored, 0, fmt.Errorf("adding node %s: %w", node.ID, err)
		}
		nodesRestored++
	}

	edgesRestored := 0
	for i := range s.Edges {
		se := &s.Edges[i]
		edge := &graph.Edge{
			ID:       se.ID,
			From:     se.From,
			To:       se.To,
			FromPort: se.FromPort,
			ToPort:   se.ToPort,
			Kind:     graph.EdgeKind(se.Kind),
			Metadata: copyMetadata(se.Metadata),
		}
		if err := g.AddEdge(edge); err != nil {
			return nodesRestored, edgesRestored, fmt.Errorf("adding edge %s: %w", edge.ID, err)
		}
		edgesRestored++
	}

	return nodesRestored, edgesRestored, nil
}

// toGraphNode rebuilds a graph node, including nested subgraphs.
func (sn *SnapshotNode) toGraphNode() (*graph.Node, error) {
	node := &graph.Node{
		ID:       sn.ID,
		Kind:     graph.NodeKind(sn.Kind),
		Value:    sn.Value,
		Metadata: copyMetadata(sn.Metadata),
	}
	if sn.Sub != nil {
		sub := graph.New()
		if _, _, err := sn.Sub.Restore(sub); err != nil {
			return nil, fmt.Errorf("restoring subgraph: %w", err)
		}
		node.Sub = sub
	}
	return node, nil
}

// copyMetadata shallow-copies a metadata map, returning nil for nil.
func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	copied := make(map[string]any, len(metadata))
	for k, v := range metadata {
		copied[k] = v
	}
	return copied
}
