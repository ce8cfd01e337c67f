// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// generate_benchmark_graph emits a synthetic graph manifest sized for
// profiling the optimization pipeline.
//
// Usage:
//
//	go run scripts/generate_benchmark_graph.go -nodes 500 > bench.yaml
//	go run scripts/generate_benchmark_graph.go -nodes 2000 -seed 7 -out bench.yaml
//
// The generated graph is layered so every pass has work: constant
// clusters for folding, power-of-two multiplies for strength
// reduction, repeated subexpressions for CSE, and branches no output
// depends on for dead code elimination. The same seed always yields
// the same manifest.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/AleutianAI/patchwork/services/patch/graph"
	"github.com/AleutianAI/patchwork/services/patch/manifest"
)

var (
	nodeTarget = flag.Int("nodes", 200, "approximate node count")
	seed       = flag.Int64("seed", 42, "rand seed")
	outPath    = flag.String("out", "", "output path (default stdout)")
)

func main() {
	flag.Parse()
	if *nodeTarget < 10 {
		fmt.Fprintln(os.Stderr, "need -nodes >= 10")
		os.Exit(1)
	}

	g, err := buildGraph(rand.New(rand.NewSource(*seed)), *nodeTarget)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building graph: %v\n", err)
		os.Exit(1)
	}

	data, err := manifest.Marshal(g)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshalling manifest: %v\n", err)
		os.Exit(1)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "creating %s: %v\n", *outPath, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	if _, err := out.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "writing manifest: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "generated %d nodes, %d edges (seed %d)\n",
		g.NodeCount(), g.EdgeCount(), *seed)
}

// buildGraph lays nodes out in layers. Each operation draws its two
// operands from earlier layers, so the result is always acyclic.
func buildGraph(rng *rand.Rand, target int) (*graph.Graph, error) {
	g := graph.New(graph.WithName(fmt.Sprintf("bench-%d", target)))

	binaryKinds := []graph.NodeKind{
		graph.KindAdd, graph.KindSubtract, graph.KindMultiply, graph.KindDivide,
	}

	var ids []string
	edgeSeq := 0

	addNode := func(node *graph.Node) error {
		if err := g.AddNode(node); err != nil {
			return err
		}
		ids = append(ids, node.ID)
		return nil
	}
	addEdge := func(from, to, port string) error {
		edgeSeq++
		return g.AddEdge(&graph.Edge{
			ID:     fmt.Sprintf("e%d", edgeSeq),
			From:   from,
			To:     to,
			ToPort: port,
		})
	}

	// Seed layer: a few inputs and a spread of constants, including
	// powers of two so strength reduction fires.
	inputs := target / 10
	if inputs < 2 {
		inputs = 2
	}
	for i := 0; i < inputs; i++ {
		if err := addNode(&graph.Node{ID: fmt.Sprintf("in%d", i), Kind: graph.KindInput}); err != nil {
			return nil, err
		}
	}
	constants := target / 5
	for i := 0; i < constants; i++ {
		value := rng.Intn(100) + 1
		if i%4 == 0 {
			value = 1 << (uint(rng.Intn(5)) + 1)
		}
		node := &graph.Node{ID: fmt.Sprintf("c%d", i), Kind: graph.KindConstant, Value: value}
		if err := addNode(node); err != nil {
			return nil, err
		}
	}

	// Operation layers. Every eighth node repeats the previous node's
	// operands so CSE has duplicates to merge.
	var prevFrom, prevTo string
	ops := 0
	for len(ids) < target {
		kind := binaryKinds[rng.Intn(len(binaryKinds))]
		id := fmt.Sprintf("op%d", ops)
		ops++

		from := ids[rng.Intn(len(ids))]
		to := ids[rng.Intn(len(ids))]
		if ops%8 == 0 && prevFrom != "" {
			from, to = prevFrom, prevTo
		}
		prevFrom, prevTo = from, to

		if err := addNode(&graph.Node{ID: id, Kind: kind}); err != nil {
			return nil, err
		}
		if err := addEdge(from, id, "a"); err != nil {
			return nil, err
		}
		if err := addEdge(to, id, "b"); err != nil {
			return nil, err
		}
	}

	// Mark a quarter of the late operations as live roots. Everything
	// that feeds no output is DCE fodder.
	outputs := ops / 4
	if outputs < 1 {
		outputs = 1
	}
	for i := 0; i < outputs; i++ {
		source := fmt.Sprintf("op%d", ops-1-i)
		id := fmt.Sprintf("out%d", i)
		if err := addNode(&graph.Node{ID: id, Kind: graph.KindOutput}); err != nil {
			return nil, err
		}
		if err := addEdge(source, id, "in"); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
