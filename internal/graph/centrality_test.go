package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// starGraph wires spokes pointing at a hub, making the hub the clear
// pagerank and degree winner.
func starGraph(t *testing.T) *MemoryGraph {
	t.Helper()
	g := newTestGraph(t)
	addNode(t, g, "hub", "hub", "entity")
	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		addNode(t, g, id, id, "entity")
		addEdge(t, g, id, "hub", "points_at")
	}
	return g
}

func TestImportantNodes_PageRank(t *testing.T) {
	g := starGraph(t)

	ranked, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)
	require.Len(t, ranked, 5)
	assert.Equal(t, "hub", ranked[0].ID)
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
}

func TestImportantNodes_Degree(t *testing.T) {
	g := starGraph(t)

	ranked, err := g.ImportantNodes(3, CentralityDegree)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "hub", ranked[0].ID)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9, "degree scores normalize to [0,1]")
	for _, r := range ranked {
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.GreaterOrEqual(t, r.Score, 0.0)
	}
}

func TestImportantNodes_Betweenness(t *testing.T) {
	// Path graph: the middle node carries all shortest paths.
	g := newTestGraph(t)
	addNode(t, g, "A", "a", "entity")
	addNode(t, g, "M", "middle", "entity")
	addNode(t, g, "B", "b", "entity")
	addEdge(t, g, "A", "M", "r")
	addEdge(t, g, "M", "B", "r")

	ranked, err := g.ImportantNodes(3, CentralityBetweenness)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "M", ranked[0].ID)
}

func TestImportantNodes_EigenvectorConverges(t *testing.T) {
	g := starGraph(t)

	ranked, err := g.ImportantNodes(5, CentralityEigenvector)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "hub", ranked[0].ID)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-6)
}

func TestImportantNodes_EigenvectorBipartite(t *testing.T) {
	// Chunk and entity nodes joined only by "contains" edges form a
	// bipartite graph, the shape the chunk-fallback build produces.
	// Power iteration must still converge here and rank the shared
	// entity first; a score of exactly 1.0 after max-normalization
	// distinguishes the eigenvector path from the pagerank fallback.
	g := newTestGraph(t)
	addNode(t, g, "c1", "chunk one", "chunk")
	addNode(t, g, "c2", "chunk two", "chunk")
	addNode(t, g, "shared", "shared entity", "entity")
	addNode(t, g, "e1", "entity one", "entity")
	addNode(t, g, "e2", "entity two", "entity")
	addEdge(t, g, "c1", "shared", "contains")
	addEdge(t, g, "c1", "e1", "contains")
	addEdge(t, g, "c2", "shared", "contains")
	addEdge(t, g, "c2", "e2", "contains")

	ranked, err := g.ImportantNodes(5, CentralityEigenvector)
	require.NoError(t, err)
	require.Len(t, ranked, 5)
	assert.Equal(t, "shared", ranked[0].ID)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-6)
}

func TestImportantNodes_PageRankDeterministic(t *testing.T) {
	g := starGraph(t)

	first, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)
	second, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeated runs over the same graph return identical scores")
}

func TestImportantNodes_EigenvectorFallbackMatchesPageRank(t *testing.T) {
	// No edges: power iteration cannot converge, so eigenvector must
	// return exactly the pagerank ranking.
	g := newTestGraph(t)
	addNode(t, g, "A", "a", "entity")
	addNode(t, g, "B", "b", "entity")
	addNode(t, g, "C", "c", "entity")

	eigen, err := g.ImportantNodes(10, CentralityEigenvector)
	require.NoError(t, err)
	pagerank, err := g.ImportantNodes(10, CentralityPageRank)
	require.NoError(t, err)
	assert.Equal(t, pagerank, eigen)
}

func TestImportantNodes_UnknownMethodFallsBack(t *testing.T) {
	g := starGraph(t)

	unknown, err := g.ImportantNodes(5, "closeness")
	require.NoError(t, err)
	pagerank, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)
	assert.Equal(t, pagerank, unknown)
}

func TestSetPageRankDamping(t *testing.T) {
	g := starGraph(t)

	defaulted, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)

	g.SetPageRankDamping(0.5)
	damped, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)
	assert.Equal(t, "hub", damped[0].ID)
	assert.NotEqual(t, defaulted[0].Score, damped[0].Score, "damping factor changes the scores")

	// Out-of-range values are ignored.
	g.SetPageRankDamping(1.5)
	unchanged, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)
	assert.Equal(t, damped, unchanged)
}

func TestImportantNodes_EmptyGraph(t *testing.T) {
	g := newTestGraph(t)
	ranked, err := g.ImportantNodes(5, CentralityPageRank)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestImportantNodes_TopNBound(t *testing.T) {
	g := starGraph(t)
	ranked, err := g.ImportantNodes(2, CentralityPageRank)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
}
