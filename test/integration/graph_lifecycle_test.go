// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Integration test for the manifest -> optimize -> checkpoint lifecycle
//
// This test drives the example manifest through the full pipeline and
// back: optimization collapses the constant sum, path queries see the
// folded graph, and a rollback through the BadgerDB store restores the
// manifest state exactly.

package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchwork/services/patch/cache"
	"github.com/AleutianAI/patchwork/services/patch/checkpoint"
	"github.com/AleutianAI/patchwork/services/patch/graph"
	"github.com/AleutianAI/patchwork/services/patch/impact"
	"github.com/AleutianAI/patchwork/services/patch/manifest"
	"github.com/AleutianAI/patchwork/services/patch/optimize"
	"github.com/AleutianAI/patchwork/services/patch/pathexpr"
	badgerstore "github.com/AleutianAI/patchwork/services/patch/storage/badger"
)

// The example manifest encodes result = (2 + 3) * x: six nodes, five
// edges. Folding collapses sum to a constant and dead code elimination
// sweeps the two feeding constants.

func fullPipeline() *optimize.Pipeline {
	return optimize.NewPipeline(optimize.WithPasses(
		optimize.NewConstantFolding(),
		optimize.NewStrengthReduction(),
		optimize.NewCSE(),
		optimize.NewInlineExpansion(),
		optimize.NewDeadCodeElimination(),
	))
}

func TestOptimizeQueryImpactLoop(t *testing.T) {
	ctx := context.Background()

	g, err := manifest.Parse(manifest.ExampleDocument())
	require.NoError(t, err)
	require.Equal(t, 6, g.NodeCount())
	require.Equal(t, 5, g.EdgeCount())

	t.Log("Optimizing example graph...")
	result, err := fullPipeline().Optimize(ctx, g)
	require.NoError(t, err)

	t.Run("Optimize_Collapses_Constant_Sum", func(t *testing.T) {
		assert.True(t, result.Modified)
		assert.Equal(t, 4, result.Graph.NodeCount())
		assert.Equal(t, 3, result.Graph.EdgeCount())

		sum, ok := result.Graph.GetNode("sum")
		require.True(t, ok, "folded node keeps its id")
		assert.Equal(t, graph.KindConstant, sum.Kind)
		assert.Equal(t, float64(5), sum.Value)

		assert.False(t, result.Graph.HasNode("two"), "dead constant swept")
		assert.False(t, result.Graph.HasNode("three"), "dead constant swept")
		assert.True(t, result.Graph.HasNode("x"))
	})

	t.Run("Source_Graph_Untouched", func(t *testing.T) {
		assert.Equal(t, 6, g.NodeCount())
		assert.True(t, g.HasNode("two"))
	})

	t.Run("Path_Query_Sees_Folded_Graph", func(t *testing.T) {
		expr := pathexpr.From("Constant->**->Output")
		require.NoError(t, expr.Err())

		before, err := pathexpr.Find(ctx, g, expr)
		require.NoError(t, err)
		assert.Len(t, before.Matches, 2, "both feeding constants reach the output")

		after, err := pathexpr.Find(ctx, result.Graph, expr)
		require.NoError(t, err)
		require.Len(t, after.Matches, 1)
		assert.Equal(t, []string{"sum", "product", "result"}, after.Matches[0].NodeIDs)
	})

	t.Run("Impact_Of_Input_Change", func(t *testing.T) {
		analyzer, err := impact.NewAnalyzer(g)
		require.NoError(t, err)

		res, err := analyzer.Analyze(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, []string{"product", "result"}, res.Affected)
		assert.Equal(t, 2, res.Distances["result"])
	})
}

func TestCheckpointRoundtripThroughStore(t *testing.T) {
	ctx := context.Background()

	g, err := manifest.Parse(manifest.ExampleDocument())
	require.NoError(t, err)

	store, err := badgerstore.Open(badgerstore.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	defer store.Close()

	t.Log("Creating checkpoint...")
	creator := checkpoint.NewManager(g, checkpoint.WithStore(store))
	_, err = creator.Create(ctx, "pre-edit", map[string]any{"reason": "integration"})
	require.NoError(t, err)
	// Close drains the async persist so the version is durable.
	require.NoError(t, creator.Close())

	versions, err := store.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	t.Log("Mutating graph...")
	require.NoError(t, g.RemoveNode("three"))
	require.Equal(t, 5, g.NodeCount())
	require.Equal(t, 4, g.EdgeCount())

	t.Log("Rolling back through the store...")
	restorer := checkpoint.NewManager(g,
		checkpoint.WithStore(store),
		checkpoint.WithSnapshotCache(cache.NewSnapshotCache()),
	)
	defer restorer.Close()
	require.NoError(t, restorer.RollbackToVersion(ctx, versions[0]))

	t.Run("Graph_Restored_Exactly", func(t *testing.T) {
		pristine, err := manifest.Parse(manifest.ExampleDocument())
		require.NoError(t, err)
		assert.True(t, g.Equal(pristine))
	})

	t.Run("Rollback_Recorded", func(t *testing.T) {
		history := restorer.History()
		require.Len(t, history, 1)
		assert.True(t, history[0].Success)
		assert.Equal(t, 6, history[0].NodesRestored)
	})

	t.Run("Manifest_Roundtrips_Restored_Graph", func(t *testing.T) {
		data, err := manifest.Marshal(g)
		require.NoError(t, err)
		reparsed, err := manifest.Parse(data)
		require.NoError(t, err)
		assert.True(t, g.Equal(reparsed))
	})
}

func TestGuardedEditRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()

	g, err := manifest.Parse(manifest.ExampleDocument())
	require.NoError(t, err)

	manager := checkpoint.NewManager(g)
	defer manager.Close()

	edit := func(context.Context) error {
		if err := g.RemoveNode("product"); err != nil {
			return err
		}
		return assert.AnError
	}

	err = manager.WithCheckpoint(ctx, "guarded-edit", edit)
	require.Error(t, err)

	assert.True(t, g.HasNode("product"), "failed edit rolled back")
	assert.Equal(t, 6, g.NodeCount())
	assert.Equal(t, 5, g.EdgeCount())
}
