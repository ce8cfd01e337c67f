// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package visualization

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/patchwork/services/patch/graph"
	"github.com/AleutianAI/patchwork/services/patch/impact"
)

// OutputFormat specifies the visualization output format.
type OutputFormat string

const (
	FormatText    OutputFormat = "text"
	FormatMermaid OutputFormat = "mermaid"
	FormatDOT     OutputFormat = "dot"
	FormatD3      OutputFormat = "d3"
)

// Generator renders compute graphs and impact results.
//
// # Description
//
// Produces human-readable text, Mermaid flowcharts, Graphviz DOT, and
// D3.js JSON. All rendering is done locally without external services.
//
// # Thread Safety
//
// Safe for concurrent use.
type Generator struct {
	options GraphOptions
}

// GraphOptions configures rendering.
type GraphOptions struct {
	// MaxNodes limits the number of nodes in the output.
	// Default: 100
	MaxNodes int

	// Direction is the flow direction (TB, LR, BT, RL).
	// Default: "TB"
	Direction string

	// ShowPorts includes port names on edges.
	// Default: false
	ShowPorts bool

	// HighlightOrigin styles the origin node in impact renderings.
	// Default: true
	HighlightOrigin bool
}

// DefaultGraphOptions returns sensible defaults.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes:        100,
		Direction:       "TB",
		ShowPorts:       false,
		HighlightOrigin: true,
	}
}

// NewGenerator creates a generator. A nil options pointer uses the
// defaults; zero MaxNodes and Direction fall back to them too.
func NewGenerator(opts *GraphOptions) *Generator {
	if opts == nil {
		defaults := DefaultGraphOptions()
		opts = &defaults
	}
	options := *opts
	if options.MaxNodes <= 0 {
		options.MaxNodes = 100
	}
	if options.Direction == "" {
		options.Direction = "TB"
	}
	return &Generator{options: options}
}

// RenderGraph renders the whole graph in insertion order.
//
// # Inputs
//
//   - ctx: Context, required but not used for cancellation.
//   - g: Graph to render.
//   - format: The output format.
//
// # Outputs
//
//   - string: The rendering in the requested format.
//   - error: Non-nil on nil inputs or an unsupported format.
func (v *Generator) RenderGraph(ctx context.Context, g *graph.Graph, format OutputFormat) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}
	if g == nil {
		return "", fmt.Errorf("graph is required")
	}

	switch format {
	case FormatText:
		return v.graphText(g), nil
	case FormatMermaid:
		return v.graphMermaid(g), nil
	case FormatDOT:
		return v.graphDOT(g), nil
	case FormatD3:
		return v.graphD3(g)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// RenderImpact renders an impact analysis over its graph.
//
// # Description
//
// The text format is a layer-by-layer tree from the origin outward.
// Mermaid and DOT draw the propagation edges, each labeled with the
// hop distance of the node it reaches; the origin is styled when
// HighlightOrigin is set. D3 emits a nodes/links JSON document.
//
// # Inputs
//
//   - ctx: Context, required but not used for cancellation.
//   - g: Graph the analysis ran over.
//   - result: Analysis to render.
//   - format: The output format.
//
// # Outputs
//
//   - string: The rendering in the requested format.
//   - error: Non-nil on nil inputs or an unsupported format.
func (v *Generator) RenderImpact(ctx context.Context, g *graph.Graph, result *impact.Result, format OutputFormat) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is required")
	}
	if g == nil {
		return "", fmt.Errorf("graph is required")
	}
	if result == nil {
		return "", fmt.Errorf("impact result is required")
	}

	switch format {
	case FormatText:
		return v.impactText(result), nil
	case FormatMermaid:
		return v.impactMermaid(g, result), nil
	case FormatDOT:
		return v.impactDOT(g, result), nil
	case FormatD3:
		return v.impactD3(g, result)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// graphText renders a plain listing of nodes and edges.
func (v *Generator) graphText(g *graph.Graph) string {
	var sb strings.Builder

	name := g.Name()
	if name == "" {
		name = "graph"
	}
	fmt.Fprintf(&sb, "%s: %d nodes, %d edges\n", name, g.NodeCount(), g.EdgeCount())

	rendered := make(map[string]bool, g.NodeCount())
	nodeIDs := g.NodeIDs()
	for i, id := range nodeIDs {
		if i >= v.options.MaxNodes {
			fmt.Fprintf(&sb, "  ... %d more nodes\n", len(nodeIDs)-i)
			break
		}
		node, ok := g.GetNode(id)
		if !ok {
			continue
		}
		rendered[id] = true
		fmt.Fprintf(&sb, "  %s\n", describeNode(node))
	}

	skipped := 0
	wroteHeader := false
	for _, id := range g.EdgeIDs() {
		edge, ok := g.GetEdge(id)
		if !ok {
			continue
		}
		if !rendered[edge.From] || !rendered[edge.To] {
			skipped++
			continue
		}
		if !wroteHeader {
			sb.WriteString("edges:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&sb, "  %s\n", v.describeEdge(edge))
	}
	if skipped > 0 {
		fmt.Fprintf(&sb, "  ... %d more edges\n", skipped)
	}

	return sb.String()
}

func describeNode(node *graph.Node) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]", node.ID, node.Kind)
	if node.Value != nil {
		fmt.Fprintf(&sb, " = %v", node.Value)
	}
	if node.IsOutput() && node.Kind != graph.KindOutput {
		sb.WriteString(" (output)")
	}
	return sb.String()
}

func (v *Generator) describeEdge(edge *graph.Edge) string {
	var sb strings.Builder
	sb.WriteString(edge.From)
	if edge.Kind != "" {
		fmt.Fprintf(&sb, " -[%s]-> ", edge.Kind)
	} else {
		sb.WriteString(" -> ")
	}
	sb.WriteString(edge.To)
	if v.options.ShowPorts && (edge.FromPort != "" || edge.ToPort != "") {
		fmt.Fprintf(&sb, " (%s -> %s)", edge.FromPort, edge.ToPort)
	}
	return sb.String()
}

// graphMermaid renders a Mermaid flowchart of the whole graph.
func (v *Generator) graphMermaid(g *graph.Graph) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "flowchart %s\n", v.options.Direction)

	rendered := make(map[string]bool, g.NodeCount())
	nodeIDs := g.NodeIDs()
	for i, id := range nodeIDs {
		if i >= v.options.MaxNodes {
			fmt.Fprintf(&sb, "    more[\"... %d more\"]\n", len(nodeIDs)-i)
			break
		}
		node, ok := g.GetNode(id)
		if !ok {
			continue
		}
		rendered[id] = true
		nodeID := sanitizeMermaidID(id)
		label := escapeMermaidLabel(nodeLabel(node))
		if node.IsOutput() {
			fmt.Fprintf(&sb, "    %s[[\"%s\"]]:::output\n", nodeID, label)
		} else {
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", nodeID, label)
		}
	}

	sb.WriteString("\n")
	for _, id := range g.EdgeIDs() {
		edge, ok := g.GetEdge(id)
		if !ok || !rendered[edge.From] || !rendered[edge.To] {
			continue
		}
		label := v.edgeLabel(edge)
		if label != "" {
			fmt.Fprintf(&sb, "    %s -->|%s| %s\n",
				sanitizeMermaidID(edge.From), escapeMermaidLabel(label), sanitizeMermaidID(edge.To))
		} else {
			fmt.Fprintf(&sb, "    %s --> %s\n",
				sanitizeMermaidID(edge.From), sanitizeMermaidID(edge.To))
		}
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef output fill:#ff6b6b,stroke:#333,stroke-width:2px,color:#fff\n")

	return sb.String()
}

func nodeLabel(node *graph.Node) string {
	if node.Value != nil {
		return fmt.Sprintf("%s\\n(%s: %v)", node.ID, node.Kind, node.Value)
	}
	return fmt.Sprintf("%s\\n(%s)", node.ID, node.Kind)
}

func (v *Generator) edgeLabel(edge *graph.Edge) string {
	parts := make([]string, 0, 2)
	if edge.Kind != "" {
		parts = append(parts, string(edge.Kind))
	}
	if v.options.ShowPorts && (edge.FromPort != "" || edge.ToPort != "") {
		parts = append(parts, fmt.Sprintf("%s->%s", edge.FromPort, edge.ToPort))
	}
	return strings.Join(parts, " ")
}

// graphDOT renders a Graphviz digraph of the whole graph.
func (v *Generator) graphDOT(g *graph.Graph) string {
	var sb strings.Builder

	sb.WriteString("digraph ComputeGraph {\n")
	fmt.Fprintf(&sb, "    rankdir=%s;\n", v.options.Direction)
	sb.WriteString("    node [shape=box, style=filled];\n")
	sb.WriteString("\n")

	rendered := make(map[string]bool, g.NodeCount())
	nodeIDs := g.NodeIDs()
	for i, id := range nodeIDs {
		if i >= v.options.MaxNodes {
			fmt.Fprintf(&sb, "    overflow [label=\"+%d more\", shape=plaintext];\n", len(nodeIDs)-i)
			break
		}
		node, ok := g.GetNode(id)
		if !ok {
			continue
		}
		rendered[id] = true
		switch {
		case node.IsOutput():
			fmt.Fprintf(&sb, "    %s [label=\"%s\", fillcolor=\"#ff6b6b\", fontcolor=\"white\"];\n",
				sanitizeDOTID(id), escapeDOTLabel(dotNodeLabel(node)))
		case node.Kind == graph.KindConstant:
			fmt.Fprintf(&sb, "    %s [label=\"%s\", fillcolor=\"#ffd93d\"];\n",
				sanitizeDOTID(id), escapeDOTLabel(dotNodeLabel(node)))
		default:
			fmt.Fprintf(&sb, "    %s [label=\"%s\", fillcolor=\"#74b9ff\"];\n",
				sanitizeDOTID(id), escapeDOTLabel(dotNodeLabel(node)))
		}
	}

	sb.WriteString("\n")
	for _, id := range g.EdgeIDs() {
		edge, ok := g.GetEdge(id)
		if !ok || !rendered[edge.From] || !rendered[edge.To] {
			continue
		}
		label := v.edgeLabel(edge)
		if label != "" {
			fmt.Fprintf(&sb, "    %s -> %s [label=\"%s\"];\n",
				sanitizeDOTID(edge.From), sanitizeDOTID(edge.To), escapeDOTLabel(label))
		} else {
			fmt.Fprintf(&sb, "    %s -> %s;\n",
				sanitizeDOTID(edge.From), sanitizeDOTID(edge.To))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotNodeLabel(node *graph.Node) string {
	if node.Value != nil {
		return fmt.Sprintf("%s\n%s: %v", node.ID, node.Kind, node.Value)
	}
	return fmt.Sprintf("%s\n%s", node.ID, node.Kind)
}

type d3Node struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Value    any    `json:"value,omitempty"`
	Distance int    `json:"distance,omitempty"`
	IsOrigin bool   `json:"isOrigin,omitempty"`
	IsOutput bool   `json:"isOutput,omitempty"`
}

type d3Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind,omitempty"`
	Value  int    `json:"value"`
}

type d3Graph struct {
	Nodes []d3Node `json:"nodes"`
	Links []d3Link `json:"links"`
}

// graphD3 renders D3.js compatible JSON for the whole graph.
func (v *Generator) graphD3(g *graph.Graph) (string, error) {
	doc := d3Graph{
		Nodes: make([]d3Node, 0, g.NodeCount()),
		Links: make([]d3Link, 0, g.EdgeCount()),
	}

	rendered := make(map[string]bool, g.NodeCount())
	for i, id := range g.NodeIDs() {
		if i >= v.options.MaxNodes {
			break
		}
		node, ok := g.GetNode(id)
		if !ok {
			continue
		}
		rendered[id] = true
		doc.Nodes = append(doc.Nodes, d3Node{
			ID:       id,
			Kind:     string(node.Kind),
			Value:    node.Value,
			IsOutput: node.IsOutput(),
		})
	}

	for _, id := range g.EdgeIDs() {
		edge, ok := g.GetEdge(id)
		if !ok || !rendered[edge.From] || !rendered[edge.To] {
			continue
		}
		doc.Links = append(doc.Links, d3Link{
			Source: edge.From,
			Target: edge.To,
			Kind:   string(edge.Kind),
			Value:  1,
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// impactText renders a layer-by-layer tree of the analysis.
func (v *Generator) impactText(result *impact.Result) string {
	var sb strings.Builder

	maxDistance := 0
	for _, d := range result.Distances {
		if d > maxDistance {
			maxDistance = d
		}
	}
	fmt.Fprintf(&sb, "impact of %s: %d affected, max distance %d\n",
		result.Origin, len(result.Affected), maxDistance)

	emitted := 0
	remaining := 0
	for depth, layer := range impact.ComputeLayers(result) {
		if emitted >= v.options.MaxNodes {
			remaining += len(layer)
			continue
		}
		fmt.Fprintf(&sb, "layer %d:\n", depth)
		for i, id := range layer {
			if emitted >= v.options.MaxNodes {
				remaining = len(layer) - i
				break
			}
			fmt.Fprintf(&sb, "  %s\n", id)
			emitted++
		}
	}
	if remaining > 0 {
		fmt.Fprintf(&sb, "  ... %d more\n", remaining)
	}
	if result.Truncated {
		fmt.Fprintf(&sb, "(truncated at depth %d)\n", result.MaxDepth)
	}

	return sb.String()
}

// impactNodes lists the origin plus affected nodes up to the node
// budget, in discovery order.
func (v *Generator) impactNodes(result *impact.Result) ([]string, int) {
	ids := make([]string, 0, len(result.Affected)+1)
	ids = append(ids, result.Origin)
	for _, id := range result.Affected {
		if len(ids) >= v.options.MaxNodes {
			return ids, len(result.Affected) + 1 - len(ids)
		}
		ids = append(ids, id)
	}
	return ids, 0
}

// propagationEdges yields the graph edges a change actually travels:
// both endpoints in the affected set with the hop count increasing by
// one.
func propagationEdges(g *graph.Graph, result *impact.Result, included map[string]bool) []*graph.Edge {
	var edges []*graph.Edge
	for _, id := range g.EdgeIDs() {
		edge, ok := g.GetEdge(id)
		if !ok || !included[edge.From] || !included[edge.To] {
			continue
		}
		if result.Distances[edge.To] != result.Distances[edge.From]+1 {
			continue
		}
		edges = append(edges, edge)
	}
	return edges
}

// impactMermaid renders a Mermaid flowchart of the propagation.
func (v *Generator) impactMermaid(g *graph.Graph, result *impact.Result) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "flowchart %s\n", v.options.Direction)

	ids, overflow := v.impactNodes(result)
	included := make(map[string]bool, len(ids))
	for _, id := range ids {
		included[id] = true
		nodeID := sanitizeMermaidID(id)
		label := escapeMermaidLabel(id)
		if id == result.Origin && v.options.HighlightOrigin {
			fmt.Fprintf(&sb, "    %s[[\"%s\"]]:::origin\n", nodeID, label)
		} else {
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", nodeID, label)
		}
	}
	if overflow > 0 {
		fmt.Fprintf(&sb, "    more[\"... %d more\"]\n", overflow)
	}

	sb.WriteString("\n")
	for _, edge := range propagationEdges(g, result, included) {
		fmt.Fprintf(&sb, "    %s -->|%d| %s\n",
			sanitizeMermaidID(edge.From), result.Distances[edge.To], sanitizeMermaidID(edge.To))
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef origin fill:#ff6b6b,stroke:#333,stroke-width:2px,color:#fff\n")

	return sb.String()
}

// impactDOT renders a Graphviz digraph of the propagation.
func (v *Generator) impactDOT(g *graph.Graph, result *impact.Result) string {
	var sb strings.Builder

	sb.WriteString("digraph Impact {\n")
	fmt.Fprintf(&sb, "    rankdir=%s;\n", v.options.Direction)
	sb.WriteString("    node [shape=box, style=filled];\n")
	sb.WriteString("\n")

	ids, overflow := v.impactNodes(result)
	included := make(map[string]bool, len(ids))
	for _, id := range ids {
		included[id] = true
		if id == result.Origin && v.options.HighlightOrigin {
			fmt.Fprintf(&sb, "    %s [label=\"%s\", fillcolor=\"#ff6b6b\", fontcolor=\"white\"];\n",
				sanitizeDOTID(id), escapeDOTLabel(id))
		} else {
			fmt.Fprintf(&sb, "    %s [label=\"%s\", fillcolor=\"#74b9ff\"];\n",
				sanitizeDOTID(id), escapeDOTLabel(id))
		}
	}
	if overflow > 0 {
		fmt.Fprintf(&sb, "    overflow [label=\"+%d more\", shape=plaintext];\n", overflow)
	}

	sb.WriteString("\n")
	for _, edge := range propagationEdges(g, result, included) {
		fmt.Fprintf(&sb, "    %s -> %s [label=\"%d\"];\n",
			sanitizeDOTID(edge.From), sanitizeDOTID(edge.To), result.Distances[edge.To])
	}

	sb.WriteString("}\n")
	return sb.String()
}

// impactD3 renders D3.js compatible JSON of the propagation.
func (v *Generator) impactD3(g *graph.Graph, result *impact.Result) (string, error) {
	doc := d3Graph{
		Nodes: make([]d3Node, 0, len(result.Affected)+1),
		Links: make([]d3Link, 0),
	}

	ids, _ := v.impactNodes(result)
	included := make(map[string]bool, len(ids))
	for _, id := range ids {
		included[id] = true
		kind := ""
		if node, ok := g.GetNode(id); ok {
			kind = string(node.Kind)
		}
		doc.Nodes = append(doc.Nodes, d3Node{
			ID:       id,
			Kind:     kind,
			Distance: result.Distances[id],
			IsOrigin: id == result.Origin,
		})
	}

	for _, edge := range propagationEdges(g, result, included) {
		doc.Links = append(doc.Links, d3Link{
			Source: edge.From,
			Target: edge.To,
			Kind:   string(edge.Kind),
			Value:  result.Distances[edge.To],
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Helper functions

func sanitizeMermaidID(s string) string {
	replacer := strings.NewReplacer(
		":", "_",
		"/", "_",
		".", "_",
		"-", "_",
		" ", "_",
		"(", "",
		")", "",
		"*", "_",
	)
	result := replacer.Replace(s)
	if len(result) > 0 && (result[0] >= '0' && result[0] <= '9') {
		result = "n" + result
	}
	return result
}

func sanitizeDOTID(s string) string {
	return fmt.Sprintf("\"%s\"", strings.ReplaceAll(s, "\"", "\\\""))
}

func escapeMermaidLabel(s string) string {
	replacer := strings.NewReplacer(
		"\"", "#quot;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}

func escapeDOTLabel(s string) string {
	replacer := strings.NewReplacer(
		"\"", "\\\"",
		"\n", "\\n",
	)
	return replacer.Replace(s)
}
