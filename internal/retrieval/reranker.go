package retrieval

import (
	"context"
	"sort"

	"github.com/ThreatFlux/hybridrag/internal/store"
)

// Reranker applies a secondary scoring pass over an already-fused
// candidate set. Implementations may be remote models; failures and
// unavailability must never abort retrieval, so the coordinator treats
// any error as "keep the pre-rerank ranking".
type Reranker interface {
	// Available reports whether the reranker can serve right now.
	Available(ctx context.Context) bool

	// Rerank returns the candidates in refined order. The slice may
	// be reordered and rescored but not grown.
	Rerank(ctx context.Context, query string, candidates []Result) ([]Result, error)
}

// TermOverlapReranker is a local, dependency-free reranker: it
// rescores candidates by the fraction of query terms present in the
// candidate content, blended with the fused score. It exists as the
// built-in default so rerank requests work without an external model.
type TermOverlapReranker struct{}

// NewTermOverlapReranker returns the built-in reranker.
func NewTermOverlapReranker() *TermOverlapReranker {
	return &TermOverlapReranker{}
}

// Available always reports true; the reranker is in-process.
func (r *TermOverlapReranker) Available(context.Context) bool { return true }

// Rerank blends term overlap with the fused score, 60/40.
func (r *TermOverlapReranker) Rerank(_ context.Context, query string, candidates []Result) ([]Result, error) {
	terms := store.Tokenize(query)
	if len(terms) == 0 || len(candidates) < 2 {
		return candidates, nil
	}

	maxFused := 0.0
	for _, c := range candidates {
		if c.Score > maxFused {
			maxFused = c.Score
		}
	}

	reranked := make([]Result, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		contentTerms := make(map[string]struct{})
		for _, t := range store.Tokenize(reranked[i].Content) {
			contentTerms[t] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := contentTerms[t]; ok {
				matched++
			}
		}
		overlap := float64(matched) / float64(len(terms))

		fused := 0.0
		if maxFused > 0 {
			fused = reranked[i].Score / maxFused
		}
		reranked[i].Score = 0.6*overlap + 0.4*fused
	}

	sort.Slice(reranked, func(a, b int) bool {
		if reranked[a].Score != reranked[b].Score {
			return reranked[a].Score > reranked[b].Score
		}
		return reranked[a].ID < reranked[b].ID
	})
	return reranked, nil
}
