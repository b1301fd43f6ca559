package graph

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Analyze computes whole-graph statistics. Every metric degrades to a
// zero value on an empty or degenerate graph; Analyze never fails.
// Component analysis runs on the undirected projection; diameter and
// average path length are restricted to the largest component.
func (g *MemoryGraph) Analyze() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{
		NodeCount:     len(g.nodes),
		EdgeCount:     len(g.edges),
		NodeTypes:     map[string]int{},
		RelationTypes: map[string]int{},
	}
	if stats.NodeCount == 0 {
		return stats
	}

	for _, node := range g.nodes {
		stats.NodeTypes[node.NodeType]++
	}
	for _, edge := range g.edges {
		stats.RelationTypes[edge.Relation]++
	}

	n := float64(stats.NodeCount)
	if stats.NodeCount > 1 {
		stats.Density = float64(stats.EdgeCount) / (n * (n - 1))
	}
	stats.AverageDegree = 2 * float64(stats.EdgeCount) / n

	ids := g.sortedNodeIDsLocked()
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	// Undirected projection for components and paths.
	undirected := simple.NewUndirectedGraph()
	for i := range ids {
		undirected.AddNode(simple.Node(int64(i)))
	}
	adj := make([]map[int]struct{}, len(ids))
	for i := range adj {
		adj[i] = map[int]struct{}{}
	}
	for _, edge := range g.edges {
		a, b := index[edge.SourceID], index[edge.TargetID]
		if a == b {
			continue
		}
		undirected.SetEdge(simple.Edge{F: simple.Node(int64(a)), T: simple.Node(int64(b))})
		adj[a][b] = struct{}{}
		adj[b][a] = struct{}{}
	}

	components := topo.ConnectedComponents(undirected)
	stats.ConnectedComponents = len(components)

	var largest []int
	for _, component := range components {
		members := make([]int, len(component))
		for i, node := range component {
			members[i] = int(node.ID())
		}
		if len(members) > len(largest) {
			largest = members
		}
	}
	stats.LargestComponentSize = len(largest)

	stats.Diameter, stats.AverageShortestPath = componentPaths(largest, adj)
	stats.ClusteringCoefficient = clusteringCoefficient(adj)
	return stats
}

// componentPaths computes diameter and mean shortest-path length over
// one component by BFS from every member. Components of size <= 1
// yield zeros.
func componentPaths(members []int, adj []map[int]struct{}) (int, float64) {
	if len(members) <= 1 {
		return 0, 0
	}
	sort.Ints(members)

	diameter := 0
	totalDist := 0
	pairs := 0

	for _, start := range members {
		dist := map[int]int{start: 0}
		queue := []int{start}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for neighbor := range adj[current] {
				if _, seen := dist[neighbor]; seen {
					continue
				}
				dist[neighbor] = dist[current] + 1
				queue = append(queue, neighbor)
			}
		}
		for node, d := range dist {
			if node == start {
				continue
			}
			totalDist += d
			pairs++
			if d > diameter {
				diameter = d
			}
		}
	}

	if pairs == 0 {
		return 0, 0
	}
	return diameter, float64(totalDist) / float64(pairs)
}

// clusteringCoefficient averages the local clustering coefficient over
// all nodes with degree >= 2.
func clusteringCoefficient(adj []map[int]struct{}) float64 {
	total := 0.0
	counted := 0

	for _, neighbors := range adj {
		k := len(neighbors)
		if k < 2 {
			continue
		}
		links := 0
		for a := range neighbors {
			for b := range neighbors {
				if a < b {
					if _, ok := adj[a][b]; ok {
						links++
					}
				}
			}
		}
		total += 2 * float64(links) / float64(k*(k-1))
		counted++
	}

	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}
