package graph

import (
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

const (
	defaultPageRankDamping = 0.85
	pagerankTolerance      = 1e-6

	eigenvectorMaxIterations = 100
	eigenvectorTolerance     = 1e-6

	// scoreRounding quantizes pagerank scores. gonum iterates internal
	// maps, so two identical runs can differ in the last ULP; rounding
	// well below the solver tolerance makes repeated calls (and the
	// eigenvector fallback) compare equal.
	scoreRounding = 1e9

	defaultImportantNodes = 10
)

// SetPageRankDamping overrides the pagerank damping factor.
// Values outside (0,1) are ignored.
func (g *MemoryGraph) SetPageRankDamping(damping float64) {
	if damping <= 0 || damping >= 1 {
		return
	}
	g.mu.Lock()
	g.damping = damping
	g.mu.Unlock()
}

// ImportantNodes ranks nodes by centrality. Methods: pagerank,
// betweenness, degree, eigenvector. Unknown methods fall back to
// pagerank with a warning; an eigenvector run that fails to converge
// falls back to pagerank rather than failing.
func (g *MemoryGraph) ImportantNodes(topN int, method string) ([]RankedNode, error) {
	if topN <= 0 {
		topN = defaultImportantNodes
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.nodes) == 0 {
		return []RankedNode{}, nil
	}

	var scores map[string]float64
	switch method {
	case CentralityPageRank, "":
		scores = g.pagerankLocked()
	case CentralityBetweenness:
		scores = g.betweennessLocked()
	case CentralityDegree:
		scores = g.degreeCentralityLocked()
	case CentralityEigenvector:
		var converged bool
		scores, converged = g.eigenvectorLocked()
		if !converged {
			g.logger.Warn("eigenvector_centrality_diverged",
				slog.String("fallback", CentralityPageRank))
			scores = g.pagerankLocked()
		}
	default:
		g.logger.Warn("unknown_centrality_method",
			slog.String("method", method),
			slog.String("fallback", CentralityPageRank))
		scores = g.pagerankLocked()
	}

	ranked := make([]RankedNode, 0, len(scores))
	for id, score := range scores {
		node := g.nodes[id]
		ranked = append(ranked, RankedNode{
			ID:       node.ID,
			Content:  node.Content,
			NodeType: node.NodeType,
			Score:    score,
			Metadata: node.Metadata,
		})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].Score != ranked[b].Score {
			return ranked[a].Score > ranked[b].Score
		}
		return ranked[a].ID < ranked[b].ID
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked, nil
}

// sortedNodeIDsLocked gives every node a stable int64 index for the
// gonum mirror. Caller must hold at least the read lock.
func (g *MemoryGraph) sortedNodeIDsLocked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// directedMirrorLocked builds a gonum directed graph mirroring the
// current adjacency. Self loops are dropped; gonum rejects them.
func (g *MemoryGraph) directedMirrorLocked(ids []string) *simple.DirectedGraph {
	index := make(map[string]int64, len(ids))
	mirror := simple.NewDirectedGraph()
	for i, id := range ids {
		index[id] = int64(i)
		mirror.AddNode(simple.Node(int64(i)))
	}
	for _, edge := range g.edges {
		from, to := index[edge.SourceID], index[edge.TargetID]
		if from == to {
			continue
		}
		mirror.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
	}
	return mirror
}

func (g *MemoryGraph) pagerankLocked() map[string]float64 {
	ids := g.sortedNodeIDsLocked()
	mirror := g.directedMirrorLocked(ids)

	damping := g.damping
	if damping <= 0 || damping >= 1 {
		damping = defaultPageRankDamping
	}

	ranks := network.PageRank(mirror, damping, pagerankTolerance)
	scores := make(map[string]float64, len(ids))
	for i, id := range ids {
		scores[id] = math.Round(ranks[int64(i)]*scoreRounding) / scoreRounding
	}
	return scores
}

func (g *MemoryGraph) betweennessLocked() map[string]float64 {
	ids := g.sortedNodeIDsLocked()
	mirror := g.directedMirrorLocked(ids)

	between := network.Betweenness(mirror)
	scores := make(map[string]float64, len(ids))
	for i, id := range ids {
		scores[id] = between[int64(i)] // absent entries are zero
	}
	return scores
}

// degreeCentralityLocked scores nodes by in+out degree, normalized to
// [0,1] by the maximum observed degree.
func (g *MemoryGraph) degreeCentralityLocked() map[string]float64 {
	scores := make(map[string]float64, len(g.nodes))
	maxDegree := 0.0
	for id := range g.nodes {
		d := float64(len(g.out[id]) + len(g.in[id]))
		scores[id] = d
		if d > maxDegree {
			maxDegree = d
		}
	}
	if maxDegree > 0 {
		for id := range scores {
			scores[id] /= maxDegree
		}
	}
	return scores
}

// eigenvectorLocked runs power iteration over the undirected
// projection. The update includes each node's own previous score
// (iteration on A+I): on a plain adjacency matrix a bipartite graph —
// the shape the chunk/entity fallback build produces — oscillates with
// period two and never settles, while the shifted iteration converges
// to the same dominant eigenvector. Returns converged=false when the
// iteration still does not settle within the budget (for example on an
// edgeless graph).
func (g *MemoryGraph) eigenvectorLocked() (map[string]float64, bool) {
	ids := g.sortedNodeIDsLocked()
	if len(g.edges) == 0 {
		return nil, false
	}

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	// Undirected adjacency lists.
	adj := make([][]int, len(ids))
	for _, edge := range g.edges {
		a, b := index[edge.SourceID], index[edge.TargetID]
		if a == b {
			continue
		}
		adj[a] = append(adj[a], b)
		adj[b] = append(adj[b], a)
	}

	vec := make([]float64, len(ids))
	for i := range vec {
		vec[i] = 1
	}

	next := make([]float64, len(ids))
	for iter := 0; iter < eigenvectorMaxIterations; iter++ {
		for i := range next {
			sum := vec[i]
			for _, j := range adj[i] {
				sum += vec[j]
			}
			next[i] = sum
		}

		norm := 0.0
		for _, v := range next {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return nil, false
		}

		maxDelta := 0.0
		for i := range next {
			next[i] /= norm
			if delta := math.Abs(next[i] - vec[i]); delta > maxDelta {
				maxDelta = delta
			}
		}
		copy(vec, next)

		if maxDelta < eigenvectorTolerance {
			return g.normalizeByMax(ids, vec), true
		}
	}
	return nil, false
}

// normalizeByMax maps raw scores to [0,1] relative to the maximum.
func (g *MemoryGraph) normalizeByMax(ids []string, raw []float64) map[string]float64 {
	maxVal := 0.0
	for _, v := range raw {
		if v > maxVal {
			maxVal = v
		}
	}
	scores := make(map[string]float64, len(ids))
	for i, id := range ids {
		if maxVal > 0 {
			scores[id] = raw[i] / maxVal
		} else {
			scores[id] = 0
		}
	}
	return scores
}
