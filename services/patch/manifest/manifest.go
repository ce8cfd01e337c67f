// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest reads and writes compute graphs as YAML documents.
//
// A manifest is a small, hand-editable description of a graph: a
// version marker, an optional name, and the node and edge lists in
// insertion order. Parsing is strict: unknown fields, oversized
// documents, duplicate ids, and dangling edges are all errors.
//
// Thread Safety:
//
//	All exported functions are safe for concurrent use. The graphs
//	they return follow the graph package's single-owner model.
package manifest

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/patchwork/services/patch/graph"
)

const (
	// SchemaVersion is the manifest schema this package reads and writes.
	SchemaVersion = 1

	// MaxDocumentSize is the maximum allowed manifest size (1MB).
	MaxDocumentSize = 1024 * 1024

	// MaxNestingDepth is the maximum subgraph nesting depth.
	MaxNestingDepth = 10
)

//go:embed example.yaml
var exampleYAML []byte

var (
	manifestLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchwork_manifest_load_errors_total",
		Help: "Total manifest load errors",
	})

	manifestLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchwork_manifest_load_duration_seconds",
		Help:    "Duration of manifest loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

// Sentinel errors for manifest operations.
var (
	// ErrDocumentTooLarge is returned when a manifest exceeds MaxDocumentSize.
	ErrDocumentTooLarge = errors.New("manifest document too large")

	// ErrUnsupportedVersion is returned when the version marker is not
	// a schema this package understands.
	ErrUnsupportedVersion = errors.New("unsupported manifest version")

	// ErrTooDeeplyNested is returned when subgraphs nest past
	// MaxNestingDepth.
	ErrTooDeeplyNested = errors.New("manifest nesting too deep")
)

// Document is the root structure for YAML serialization.
type Document struct {
	Version int       `yaml:"version"`
	Name    string    `yaml:"name,omitempty"`
	Nodes   []NodeDoc `yaml:"nodes"`
	Edges   []EdgeDoc `yaml:"edges,omitempty"`
}

// NodeDoc represents a single node entry in the YAML document.
type NodeDoc struct {
	ID       string         `yaml:"id"`
	Kind     string         `yaml:"kind"`
	Value    any            `yaml:"value,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
	Subgraph *Document      `yaml:"subgraph,omitempty"`
}

// EdgeDoc represents a single edge entry in the YAML document.
type EdgeDoc struct {
	ID       string         `yaml:"id"`
	From     string         `yaml:"from"`
	To       string         `yaml:"to"`
	FromPort string         `yaml:"fromPort,omitempty"`
	ToPort   string         `yaml:"toPort,omitempty"`
	Kind     string         `yaml:"kind,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// ExampleDocument returns a copy of the embedded example manifest.
func ExampleDocument() []byte {
	out := make([]byte, len(exampleYAML))
	copy(out, exampleYAML)
	return out
}

// Load reads and parses a manifest file.
//
// # Inputs
//
//   - path: Manifest file to read. Must be at most MaxDocumentSize bytes.
//
// # Outputs
//
//   - *graph.Graph: The parsed graph. Never nil on success.
//   - error: Non-nil on IO failures or any Parse error.
func Load(path string) (*graph.Graph, error) {
	startTime := time.Now()
	defer func() {
		manifestLoadDuration.Observe(time.Since(startTime).Seconds())
	}()

	info, err := os.Stat(path)
	if err != nil {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("stat manifest: %w", err)
	}
	if info.Size() > MaxDocumentSize {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDocumentTooLarge, info.Size(), MaxDocumentSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		manifestLoadErrors.Inc()
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	g, err := Parse(data)
	if err != nil {
		manifestLoadErrors.Inc()
		return nil, err
	}

	slog.Debug("manifest loaded",
		slog.String("path", path),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()))

	return g, nil
}

// Parse decodes a manifest document into a graph.
//
// # Description
//
// Decoding is strict: unknown YAML fields are rejected, the version
// marker must equal SchemaVersion, and every graph-level violation
// (duplicate id, dangling edge, invalid node) is surfaced as the
// graph package's sentinel wrapped with the offending node or edge id.
//
// # Inputs
//
//   - data: YAML document. Must be at most MaxDocumentSize bytes.
//
// # Outputs
//
//   - *graph.Graph: The parsed graph. Never nil on success.
//   - error: Non-nil on any schema or graph violation.
func Parse(data []byte) (*graph.Graph, error) {
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDocumentTooLarge, len(data), MaxDocumentSize)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unmarshaling manifest: %w", err)
	}
	if doc.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	return buildGraph(&doc, 0)
}

// buildGraph converts a document into a graph, recursing into
// subgraph documents.
func buildGraph(doc *Document, depth int) (*graph.Graph, error) {
	if depth >= MaxNestingDepth {
		return nil, fmt.Errorf("%w: depth %d (max %d)", ErrTooDeeplyNested, depth, MaxNestingDepth)
	}

	var opts []graph.Option
	if doc.Name != "" {
		opts = append(opts, graph.WithName(doc.Name))
	}
	g := graph.New(opts...)

	for i, n := range doc.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node at index %d has empty id", graph.ErrInvalidNode, i)
		}
		if n.Kind == "" {
			return nil, fmt.Errorf("%w: node %s has no kind", graph.ErrInvalidNode, n.ID)
		}

		node := &graph.Node{
			ID:       n.ID,
			Kind:     graph.NodeKind(n.Kind),
			Value:    n.Value,
			Metadata: n.Metadata,
		}
		if n.Subgraph != nil {
			// Nested documents may omit the version marker.
			if n.Subgraph.Version != 0 && n.Subgraph.Version != SchemaVersion {
				return nil, fmt.Errorf("node %s subgraph: %w: %d", n.ID, ErrUnsupportedVersion, n.Subgraph.Version)
			}
			sub, err := buildGraph(n.Subgraph, depth+1)
			if err != nil {
				return nil, fmt.Errorf("node %s subgraph: %w", n.ID, err)
			}
			node.Sub = sub
		}

		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
	}

	for _, e := range doc.Edges {
		edge := &graph.Edge{
			ID:       e.ID,
			From:     e.From,
			To:       e.To,
			FromPort: e.FromPort,
			ToPort:   e.ToPort,
			Kind:     graph.EdgeKind(e.Kind),
			Metadata: e.Metadata,
		}
		if err := g.AddEdge(edge); err != nil {
			return nil, fmt.Errorf("edge %s: %w", e.ID, err)
		}
	}

	return g, nil
}

// Marshal renders a graph as a manifest document in insertion order.
func Marshal(g *graph.Graph) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("graph is required")
	}

	doc, err := buildDocument(g, 0)
	if err != nil {
		return nil, err
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return data, nil
}

// buildDocument converts a graph into a document, recursing into
// subgraphs.
func buildDocument(g *graph.Graph, depth int) (*Document, error) {
	if depth >= MaxNestingDepth {
		return nil, fmt.Errorf("%w: depth %d (max %d)", ErrTooDeeplyNested, depth, MaxNestingDepth)
	}

	doc := &Document{
		Version: SchemaVersion,
		Name:    g.Name(),
	}

	for _, id := range g.NodeIDs() {
		node, ok := g.GetNode(id)
		if !ok {
			continue
		}
		nd := NodeDoc{
			ID:       node.ID,
			Kind:     string(node.Kind),
			Value:    node.Value,
			Metadata: node.Metadata,
		}
		if node.Sub != nil {
			sub, err := buildDocument(node.Sub, depth+1)
			if err != nil {
				return nil, fmt.Errorf("node %s subgraph: %w", node.ID, err)
			}
			nd.Subgraph = sub
		}
		doc.Nodes = append(doc.Nodes, nd)
	}

	for _, id := range g.EdgeIDs() {
		edge, ok := g.GetEdge(id)
		if !ok {
			continue
		}
		doc.Edges = append(doc.Edges, EdgeDoc{
			ID:       edge.ID,
			From:     edge.From,
			To:       edge.To,
			FromPort: edge.FromPort,
			ToPort:   edge.ToPort,
			Kind:     string(edge.Kind),
			Metadata: edge.Metadata,
		})
	}

	return doc, nil
}

// Save writes a graph to a manifest file atomically.
//
// # Description
//
// The document is written to a temp file in the destination directory,
// synced, then renamed over the target, so a crash mid-write never
// leaves a half-written manifest behind.
func Save(g *graph.Graph, path string) error {
	data, err := Marshal(g)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}
	success = true

	return nil
}
