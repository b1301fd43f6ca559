package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermOverlapReranker_PromotesOverlappingContent(t *testing.T) {
	r := NewTermOverlapReranker()

	candidates := []Result{
		{ID: "c1", Score: 0.9, Content: "completely unrelated text"},
		{ID: "c2", Score: 0.5, Content: "error handling in distributed systems"},
	}

	reranked, err := r.Rerank(context.Background(), "distributed error handling", candidates)
	require.NoError(t, err)
	require.Len(t, reranked, 2)
	assert.Equal(t, "c2", reranked[0].ID, "full term overlap beats a higher fused score")
}

func TestTermOverlapReranker_PassesThroughDegenerateInput(t *testing.T) {
	r := NewTermOverlapReranker()

	single := []Result{{ID: "c1", Score: 1.0, Content: "x"}}
	out, err := r.Rerank(context.Background(), "query", single)
	require.NoError(t, err)
	assert.Equal(t, single, out)

	candidates := []Result{
		{ID: "c1", Score: 0.9, Content: "a"},
		{ID: "c2", Score: 0.5, Content: "b"},
	}
	out, err = r.Rerank(context.Background(), "", candidates)
	require.NoError(t, err)
	assert.Equal(t, candidates, out, "empty query leaves order untouched")
}

func TestTermOverlapReranker_Available(t *testing.T) {
	assert.True(t, NewTermOverlapReranker().Available(context.Background()))
}
