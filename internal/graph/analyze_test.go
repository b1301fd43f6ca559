package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze_EmptyGraphZeroDefaults(t *testing.T) {
	g := newTestGraph(t)
	stats := g.Analyze()

	assert.Zero(t, stats.NodeCount)
	assert.Zero(t, stats.EdgeCount)
	assert.Zero(t, stats.Density)
	assert.Zero(t, stats.AverageDegree)
	assert.Zero(t, stats.ConnectedComponents)
	assert.Zero(t, stats.Diameter)
	assert.Zero(t, stats.AverageShortestPath)
	assert.Zero(t, stats.ClusteringCoefficient)
	assert.Empty(t, stats.NodeTypes)
	assert.Empty(t, stats.RelationTypes)
}

func TestAnalyze_SingleNode(t *testing.T) {
	g := newTestGraph(t)
	addNode(t, g, "A", "alone", "entity")

	stats := g.Analyze()
	assert.Equal(t, 1, stats.NodeCount)
	assert.Zero(t, stats.Density, "density is 0 when n<=1")
	assert.Equal(t, 1, stats.ConnectedComponents)
	assert.Equal(t, 1, stats.LargestComponentSize)
	assert.Zero(t, stats.Diameter)
}

func TestAnalyze_PathGraph(t *testing.T) {
	g := newTestGraph(t)
	addNode(t, g, "A", "a", "entity")
	addNode(t, g, "B", "b", "concept")
	addNode(t, g, "C", "c", "entity")
	addEdge(t, g, "A", "B", "related")
	addEdge(t, g, "B", "C", "contains")

	stats := g.Analyze()
	assert.Equal(t, 3, stats.NodeCount)
	assert.Equal(t, 2, stats.EdgeCount)
	assert.InDelta(t, 2.0/6.0, stats.Density, 1e-9, "edges / n(n-1) for directed")
	assert.InDelta(t, 4.0/3.0, stats.AverageDegree, 1e-9)
	assert.Equal(t, 1, stats.ConnectedComponents)
	assert.Equal(t, 3, stats.LargestComponentSize)
	assert.Equal(t, 2, stats.Diameter)
	// Path A-B-C: distances 1,1,2 in both directions -> mean 4/3.
	assert.InDelta(t, 4.0/3.0, stats.AverageShortestPath, 1e-9)

	assert.Equal(t, map[string]int{"entity": 2, "concept": 1}, stats.NodeTypes)
	assert.Equal(t, map[string]int{"related": 1, "contains": 1}, stats.RelationTypes)
}

func TestAnalyze_DisconnectedComponents(t *testing.T) {
	g := newTestGraph(t)
	addNode(t, g, "A", "a", "entity")
	addNode(t, g, "B", "b", "entity")
	addNode(t, g, "C", "c", "entity")
	addNode(t, g, "D", "d", "entity")
	addEdge(t, g, "A", "B", "r")
	addEdge(t, g, "C", "D", "r")

	stats := g.Analyze()
	assert.Equal(t, 2, stats.ConnectedComponents)
	assert.Equal(t, 2, stats.LargestComponentSize)
	assert.Equal(t, 1, stats.Diameter, "diameter restricted to the largest component")
}

func TestAnalyze_Triangle(t *testing.T) {
	g := newTestGraph(t)
	addNode(t, g, "A", "a", "entity")
	addNode(t, g, "B", "b", "entity")
	addNode(t, g, "C", "c", "entity")
	addEdge(t, g, "A", "B", "r")
	addEdge(t, g, "B", "C", "r")
	addEdge(t, g, "C", "A", "r")

	stats := g.Analyze()
	require.Equal(t, 3, stats.EdgeCount)
	assert.InDelta(t, 1.0, stats.ClusteringCoefficient, 1e-9, "triangle is fully clustered")
	assert.Equal(t, 1, stats.Diameter)
}
