package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/ThreatFlux/hybridrag/internal/errors"
)

func newTestVectorIndex(t *testing.T, dims int) *VectorIndex {
	t.Helper()
	return NewVectorIndex(filepath.Join(t.TempDir(), "vectors.hnsw"), dims, nil)
}

func TestVectorIndex_ExactMatchScoresOne(t *testing.T) {
	idx := newTestVectorIndex(t, 3)
	require.NoError(t, idx.AddEmbedding("c1", []float32{1, 0, 0}, "first chunk", nil))

	results, err := idx.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "zero distance scores 1.0")
	assert.Equal(t, "first chunk", results[0].Content)
}

func TestVectorIndex_CloserVectorsScoreHigher(t *testing.T) {
	idx := newTestVectorIndex(t, 3)
	require.NoError(t, idx.AddEmbedding("near", []float32{1, 0, 0}, "near", nil))
	require.NoError(t, idx.AddEmbedding("far", []float32{0, 0, 5}, "far", nil))

	results, err := idx.Search([]float32{0.9, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorIndex_DimensionMismatchRejected(t *testing.T) {
	idx := newTestVectorIndex(t, 3)

	err := idx.AddEmbedding("c1", []float32{1, 2}, "content", nil)
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeDimensionMismatch, ragerrors.GetCode(err))

	var dimErr ErrDimensionMismatch
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = idx.Search([]float32{1, 2, 3, 4}, 5)
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeDimensionMismatch, ragerrors.GetCode(err))
}

func TestVectorIndex_EmptyIndexSearch(t *testing.T) {
	idx := newTestVectorIndex(t, 3)

	results, err := idx.Search([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_BatchSkipsInvalidEntries(t *testing.T) {
	idx := newTestVectorIndex(t, 3)

	err := idx.AddEmbeddings([]Chunk{
		{ID: "", Content: "no id", Embedding: []float32{1, 0, 0}},
		{ID: "c1", Content: "", Embedding: []float32{1, 0, 0}},
		{ID: "c2", Content: "no embedding"},
		{ID: "c3", Content: "valid", Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Count())
}

func TestVectorIndex_ReinsertReplacesVector(t *testing.T) {
	idx := newTestVectorIndex(t, 3)
	require.NoError(t, idx.AddEmbedding("c1", []float32{1, 0, 0}, "v1", nil))
	require.NoError(t, idx.AddEmbedding("c1", []float32{0, 1, 0}, "v2", nil))

	assert.Equal(t, 1, idx.Count())

	results, err := idx.Search([]float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "v2", results[0].Content)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestVectorIndex_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	idx := NewVectorIndex(path, 3, nil)
	require.NoError(t, idx.AddEmbedding("c1", []float32{1, 0, 0}, "first", map[string]string{"k": "v"}))
	require.NoError(t, idx.AddEmbedding("c2", []float32{0, 1, 0}, "second", nil))
	require.NoError(t, idx.Save())

	reloaded := NewVectorIndex(path, 3, nil)
	loaded, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, loaded)
	assert.Equal(t, 2, reloaded.Count())

	results, err := reloaded.Search([]float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "first", results[0].Content)
	assert.Equal(t, map[string]string{"k": "v"}, results[0].Metadata)
}

func TestVectorIndex_LoadMissingArtifactsIsNotAnError(t *testing.T) {
	idx := newTestVectorIndex(t, 3)
	loaded, err := idx.Load()
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestVectorIndex_LoadRejectsDimensionDisagreement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	idx := NewVectorIndex(path, 3, nil)
	require.NoError(t, idx.AddEmbedding("c1", []float32{1, 0, 0}, "content", nil))
	require.NoError(t, idx.Save())

	other := NewVectorIndex(path, 8, nil)
	loaded, err := other.Load()
	assert.False(t, loaded)
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeDimensionMismatch, ragerrors.GetCode(err))
}

func TestVectorIndex_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")

	idx := NewVectorIndex(path, 3, nil)
	require.NoError(t, idx.AddEmbedding("c1", []float32{1, 0, 0}, "content", nil))
	require.NoError(t, idx.Save())
	require.NoError(t, idx.Clear())

	assert.Equal(t, 0, idx.Count())

	loaded, err := NewVectorIndex(path, 3, nil).Load()
	require.NoError(t, err)
	assert.False(t, loaded, "artifacts removed by Clear")
}

func TestVectorIndex_DefaultDimensions(t *testing.T) {
	idx := NewVectorIndex(filepath.Join(t.TempDir(), "v.hnsw"), 0, nil)
	assert.Equal(t, DefaultDimensions, idx.Dimensions())
}
