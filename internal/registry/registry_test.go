package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThreatFlux/hybridrag/internal/config"
	"github.com/ThreatFlux/hybridrag/internal/graph"
	"github.com/ThreatFlux/hybridrag/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.DocumentStore) {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Index.Dimensions = 3

	db, err := store.OpenDocumentStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(cfg, db, nil), db
}

func TestRegistry_InitializeIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Initialize(ctx))
	require.NoError(t, r.Initialize(ctx))

	lexical, err := r.Lexical(ctx)
	require.NoError(t, err)
	assert.NotNil(t, lexical)
}

func TestRegistry_ConcurrentFirstAccessSharesInstances(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	const callers = 32
	lexicals := make([]*store.LexicalIndex, callers)
	vectors := make([]*store.VectorIndex, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lex, err := r.Lexical(ctx)
			assert.NoError(t, err)
			vec, err := r.Vector(ctx)
			assert.NoError(t, err)
			lexicals[i] = lex
			vectors[i] = vec
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, lexicals[0], lexicals[i], "every caller sees the one lexical instance")
		assert.Same(t, vectors[0], vectors[i])
	}
}

func TestRegistry_GraphBackendFollowsRAGConfig(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	g, err := r.Graph(ctx)
	require.NoError(t, err)
	assert.IsType(t, &graph.MemoryGraph{}, g, "default backend is memory")

	require.NoError(t, db.SetGraphBackend(ctx, "enhanced"))
	require.NoError(t, r.ResetGraphBackend(ctx))

	swapped, err := r.Graph(ctx)
	require.NoError(t, err)
	assert.IsType(t, &graph.EnhancedGraph{}, swapped)
}

func TestRegistry_ConfiguredBackendSeedsRAGConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Index.Dimensions = 3
	cfg.Graph.Backend = config.GraphBackendEnhanced

	db, err := store.OpenDocumentStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := New(cfg, db, nil)
	ctx := context.Background()

	// No SetGraphBackend call: the configured default must reach the
	// seeded rag_config row and select the backend.
	g, err := r.Graph(ctx)
	require.NoError(t, err)
	assert.IsType(t, &graph.EnhancedGraph{}, g)

	ragCfg, err := db.GetRAGConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "enhanced", ragCfg.GraphBackend)
}

func TestRegistry_PersistedBackendWinsOverConfigured(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	// An existing row keeps its selection even when the config default
	// differs.
	require.NoError(t, db.SetGraphBackend(ctx, "enhanced"))
	r.cfg.Graph.Backend = config.GraphBackendMemory

	g, err := r.Graph(ctx)
	require.NoError(t, err)
	assert.IsType(t, &graph.EnhancedGraph{}, g)
}

func TestRegistry_PageRankDampingApplied(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Index.Dimensions = 3
	cfg.Graph.PageRankDamping = 0.5

	db, err := store.OpenDocumentStore("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := New(cfg, db, nil)
	ctx := context.Background()

	g, err := r.Graph(ctx)
	require.NoError(t, err)

	// Same star shape in the registry graph and in a reference graph
	// explicitly set to the configured damping.
	reference := graph.NewMemoryGraph("", nil, nil)
	reference.SetPageRankDamping(0.5)
	for _, target := range []graph.Store{g, reference} {
		require.NoError(t, target.AddNode(store.GraphNode{ID: "hub", Content: "hub", NodeType: "entity"}))
		for _, id := range []string{"s1", "s2", "s3"} {
			require.NoError(t, target.AddNode(store.GraphNode{ID: id, Content: id, NodeType: "entity"}))
			require.NoError(t, target.AddEdge(store.GraphEdge{ID: id + "-hub", SourceID: id, TargetID: "hub", Relation: "points_at"}))
		}
	}

	got, err := g.ImportantNodes(4, graph.CentralityPageRank)
	require.NoError(t, err)
	want, err := reference.ImportantNodes(4, graph.CentralityPageRank)
	require.NoError(t, err)
	assert.Equal(t, want, got, "registry graph runs pagerank at the configured damping")

	// And the configured damping actually changes the result relative
	// to the default.
	reference.SetPageRankDamping(0.85)
	defaulted, err := reference.ImportantNodes(4, graph.CentralityPageRank)
	require.NoError(t, err)
	assert.NotEqual(t, defaulted[0].Score, got[0].Score)
}

func TestRegistry_ResetGraphBackendPreservesOtherComponents(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	lexBefore, err := r.Lexical(ctx)
	require.NoError(t, err)
	vecBefore, err := r.Vector(ctx)
	require.NoError(t, err)

	g, err := r.Graph(ctx)
	require.NoError(t, err)
	require.NoError(t, g.AddNode(store.GraphNode{ID: "n1", Content: "persist me", NodeType: "entity"}))

	require.NoError(t, r.ResetGraphBackend(ctx))

	lexAfter, err := r.Lexical(ctx)
	require.NoError(t, err)
	vecAfter, err := r.Vector(ctx)
	require.NoError(t, err)
	assert.Same(t, lexBefore, lexAfter)
	assert.Same(t, vecBefore, vecAfter)

	// The swap persisted the old graph to disk, so the new backend
	// loaded it.
	swapped, err := r.Graph(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swapped.NodeCount())

	// And to the database.
	nodes, err := db.ListGraphNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestRegistry_ClearAllForcesReinitialization(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	lexical, err := r.Lexical(ctx)
	require.NoError(t, err)
	lexical.AddDocument("d1", "some content")
	require.NoError(t, lexical.Save())

	require.NoError(t, r.ClearAll(ctx))

	fresh, err := r.Lexical(ctx)
	require.NoError(t, err)
	assert.NotSame(t, lexical, fresh, "clear_all rebuilds components")
	assert.Equal(t, 0, fresh.Count(), "on-disk state was cleared too")
}

func TestRegistry_CloseSavesState(t *testing.T) {
	r, db := newTestRegistry(t)
	ctx := context.Background()

	lexical, err := r.Lexical(ctx)
	require.NoError(t, err)
	lexical.AddDocument("d1", "persisted across restart")
	require.NoError(t, r.Close())

	// Simulate restart: fresh registry over the same data dir.
	r2 := New(r.cfg, db, nil)
	reloaded, err := r2.Lexical(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Count())
}
