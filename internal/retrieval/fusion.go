package retrieval

import (
	"sort"

	"github.com/ThreatFlux/hybridrag/internal/store"
)

// Source labels for per-source score attribution.
const (
	SourceLexical = "lexical"
	SourceVector  = "vector"
	SourceGraph   = "graph"
)

// Weights are the per-source fusion weights. They should sum to 1.0;
// config validation enforces that upstream.
type Weights struct {
	Lexical float64
	Vector  float64
	Graph   float64
}

// DefaultWeights favors vector similarity slightly over keyword
// overlap, with graph connectivity as a tiebreaker signal.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.35, Vector: 0.45, Graph: 0.20}
}

// Result is one fused retrieval hit. Sources records the raw
// (pre-normalization) score each contributing source reported.
type Result struct {
	ID       string             `json:"id"`
	Score    float64            `json:"score"`
	Content  string             `json:"content"`
	Metadata map[string]string  `json:"metadata,omitempty"`
	Sources  map[string]float64 `json:"sources,omitempty"`
}

// graphHit is a graph-sourced candidate already mapped to a chunk ID.
type graphHit struct {
	ChunkID string
	Score   float64
	Content string
}

// fuseResults merges per-source hit lists into one ranked list.
//
// Each source's scores are first normalized to [0,1] by that source's
// maximum, which keeps BM25's unbounded scores comparable with the
// bounded vector and graph scores. A chunk appearing in several
// sources gets the weighted sum of its normalized scores — merged,
// never duplicated. Ties break by chunk ID ascending so ordering is
// deterministic.
func fuseResults(
	lexical []store.LexicalResult,
	vector []store.VectorResult,
	graph []graphHit,
	weights Weights,
) []Result {
	fused := make(map[string]*Result)

	get := func(id string) *Result {
		if r, ok := fused[id]; ok {
			return r
		}
		r := &Result{ID: id, Sources: map[string]float64{}}
		fused[id] = r
		return r
	}

	lexMax := 0.0
	for _, h := range lexical {
		if h.Score > lexMax {
			lexMax = h.Score
		}
	}
	for _, h := range lexical {
		if h.Score <= 0 {
			continue
		}
		r := get(h.ID)
		r.Score += weights.Lexical * (h.Score / lexMax)
		r.Sources[SourceLexical] = h.Score
		if r.Content == "" {
			r.Content = h.Content
		}
	}

	vecMax := 0.0
	for _, h := range vector {
		if h.Score > vecMax {
			vecMax = h.Score
		}
	}
	for _, h := range vector {
		if h.Score <= 0 {
			continue
		}
		r := get(h.ID)
		r.Score += weights.Vector * (h.Score / vecMax)
		r.Sources[SourceVector] = h.Score
		if r.Content == "" {
			r.Content = h.Content
		}
		if r.Metadata == nil && len(h.Metadata) > 0 {
			r.Metadata = h.Metadata
		}
	}

	graphMax := 0.0
	for _, h := range graph {
		if h.Score > graphMax {
			graphMax = h.Score
		}
	}
	for _, h := range graph {
		if h.Score <= 0 {
			continue
		}
		r := get(h.ChunkID)
		r.Score += weights.Graph * (h.Score / graphMax)
		r.Sources[SourceGraph] = h.Score
		if r.Content == "" {
			r.Content = h.Content
		}
	}

	results := make([]Result, 0, len(fused))
	for _, r := range fused {
		results = append(results, *r)
	}
	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].ID < results[b].ID
	})
	return results
}
