package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThreatFlux/hybridrag/internal/store"
)

func TestFuseResults_MergesByIDNotDuplicates(t *testing.T) {
	lexical := []store.LexicalResult{
		{ID: "c1", Score: 8.0, Content: "shared chunk"},
		{ID: "c2", Score: 4.0, Content: "lexical only"},
	}
	vector := []store.VectorResult{
		{ID: "c1", Score: 1.0, Content: "shared chunk", Metadata: map[string]string{"k": "v"}},
		{ID: "c3", Score: 0.5, Content: "vector only"},
	}

	fused := fuseResults(lexical, vector, nil, DefaultWeights())
	require.Len(t, fused, 3)

	// c1 appears once with both source contributions combined.
	assert.Equal(t, "c1", fused[0].ID)
	assert.InDelta(t, 0.35+0.45, fused[0].Score, 1e-9, "both sources at their max contribute full weight")
	assert.Equal(t, 8.0, fused[0].Sources[SourceLexical])
	assert.Equal(t, 1.0, fused[0].Sources[SourceVector])
	assert.Equal(t, map[string]string{"k": "v"}, fused[0].Metadata)
}

func TestFuseResults_PerSourceNormalization(t *testing.T) {
	// BM25 scores are unbounded; normalization keeps them comparable.
	lexical := []store.LexicalResult{
		{ID: "c1", Score: 20.0, Content: "a"},
		{ID: "c2", Score: 10.0, Content: "b"},
	}

	fused := fuseResults(lexical, nil, nil, DefaultWeights())
	require.Len(t, fused, 2)
	assert.InDelta(t, 0.35, fused[0].Score, 1e-9)
	assert.InDelta(t, 0.175, fused[1].Score, 1e-9)
}

func TestFuseResults_SortedDescendingWithStableTies(t *testing.T) {
	graph := []graphHit{
		{ChunkID: "b", Score: 0.5, Content: "b"},
		{ChunkID: "a", Score: 0.5, Content: "a"},
		{ChunkID: "c", Score: 1.0, Content: "c"},
	}

	fused := fuseResults(nil, nil, graph, DefaultWeights())
	require.Len(t, fused, 3)
	assert.Equal(t, "c", fused[0].ID)
	assert.Equal(t, "a", fused[1].ID, "equal scores order by chunk ID")
	assert.Equal(t, "b", fused[2].ID)
}

func TestFuseResults_DropsNonPositiveScores(t *testing.T) {
	lexical := []store.LexicalResult{
		{ID: "c1", Score: 1.0, Content: "a"},
		{ID: "c2", Score: 0, Content: "b"},
	}

	fused := fuseResults(lexical, nil, nil, DefaultWeights())
	require.Len(t, fused, 1)
	assert.Equal(t, "c1", fused[0].ID)
}

func TestFuseResults_AllEmpty(t *testing.T) {
	assert.Empty(t, fuseResults(nil, nil, nil, DefaultWeights()))
}
