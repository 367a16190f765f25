package store

import (
	"context"
	"testing"

	"docintel/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexEmpty(t *testing.T) {
	hits, err := NewMemoryIndex().Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestMemoryIndexRejectsNonPositiveTopK(t *testing.T) {
	idx := NewMemoryIndex()
	for _, k := range []int{0, -3} {
		_, err := idx.Search(context.Background(), []float32{1, 0}, k)
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	}
}

func TestMemoryIndexLastWriteWins(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()

	require.NoError(t, idx.Upsert(ctx, "q1.pdf", []float32{1, 0}, "first"))
	require.NoError(t, idx.Upsert(ctx, "q1.pdf", []float32{0, 1}, "second"))

	assert.Equal(t, 1, idx.Len())
	hits, err := idx.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "q1.pdf", hits[0].ID)
	assert.Equal(t, "second", hits[0].Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryIndexRankingAndClamp(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "far", []float32{0, 1}, "far"))
	require.NoError(t, idx.Upsert(ctx, "near", []float32{1, 0.1}, "near"))
	require.NoError(t, idx.Upsert(ctx, "mid", []float32{1, 1}, "mid"))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestMemoryIndexStableTies(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	for _, id := range []string{"c", "a", "b", "d", "e", "f"} {
		require.NoError(t, idx.Upsert(ctx, id, []float32{1, 1}, id))
	}

	first, err := idx.Search(ctx, []float32{1, 1}, 5)
	require.NoError(t, err)
	second, err := idx.Search(ctx, []float32{1, 1}, 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"c", "a", "b", "d", "e"}, ids(first))
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, "a", []float32{1, 0}, "a"))
	assert.ErrorIs(t, idx.Upsert(ctx, "b", []float32{1, 0, 0}, "b"), types.ErrInvalidInput)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	job := &types.Job{ID: "j1", Kind: types.JobExtract, Status: types.JobStatusQueued, Result: map[string]string{"a": "1"}}
	require.NoError(t, s.SaveJob(ctx, job))
	job.Result["a"] = "changed"

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Result["a"])

	text := "Revenue"
	require.NoError(t, s.SaveDocument(ctx, &types.DocumentRecord{Key: "k", Status: types.DocumentExtracted, ExtractedText: &text}))
	doc, err := s.GetDocument(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "Revenue", *doc.ExtractedText)

	require.NoError(t, s.SaveKnowledgeBase(ctx, &types.KnowledgeBaseJob{ID: "kb1", Status: types.KnowledgeBaseReady}))
	kb, err := s.GetKnowledgeBase(ctx, "kb1")
	require.NoError(t, err)
	assert.True(t, kb.Status.Terminal())
}

func ids(hits []types.RetrievalHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}
