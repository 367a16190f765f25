package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docintel/store"
	"docintel/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const burnRate = "What was the burn rate in Q1?"

func TestAnswerRejectsBlankQuestion(t *testing.T) {
	for _, q := range []string{"", "   ", "\n\t"} {
		embedder := &mockEmbedder{}
		index := &mockIndex{}
		completer := &mockCompleter{}
		a := NewAnswerer(embedder, index, completer, AnswerOptions{})

		ans, err := a.Answer(context.Background(), q)
		assert.Nil(t, ans)
		assert.ErrorIs(t, err, types.ErrInvalidInput)
		embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
		index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything)
		completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestAnswerEmptyIndex(t *testing.T) {
	embedder := &mockEmbedder{}
	embedder.On("Embed", mock.Anything, burnRate).Return([]float32{1, 0}, nil)
	completer := &mockCompleter{}

	a := NewAnswerer(embedder, store.NewMemoryIndex(), completer, AnswerOptions{})
	_, err := a.Answer(context.Background(), burnRate)

	assert.ErrorIs(t, err, types.ErrNoEvidence)
	assert.Equal(t, types.StageRetrieve, types.StageOf(err))
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAnswer(t *testing.T) {
	hits := []types.RetrievalHit{
		{ID: "c", Score: 0.65, Text: "Headcount: 12"},
		{ID: "a", Score: 0.91, Text: "Burn rate: $50,000 per month"},
		{ID: "b", Score: 0.77, Text: "Cash on hand: $600,000"},
	}
	vec := []float32{0.6, 0.8}

	embedder := &mockEmbedder{}
	embedder.On("Embed", mock.Anything, burnRate).Return(vec, nil).Once()
	index := &mockIndex{}
	index.On("Search", mock.Anything, vec, DefaultTopK).Return(hits, nil).Once()

	wantContext := "---\n(1) score=0.910\nBurn rate: $50,000 per month\n" +
		"---\n(2) score=0.770\nCash on hand: $600,000\n" +
		"---\n(3) score=0.650\nHeadcount: 12"
	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, SystemPrompt, wantContext, burnRate).
		Return("The burn rate was $50,000 per month.", nil).Once()

	a := NewAnswerer(embedder, index, completer, AnswerOptions{Grounding: &GroundingChecker{MinOverlap: 0.5}})
	ans, err := a.Answer(context.Background(), burnRate)
	require.NoError(t, err)

	assert.Equal(t, "The burn rate was $50,000 per month.", ans.Text)
	assert.True(t, ans.Grounded)
	require.Len(t, ans.Sources, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ans.Sources[0].ID, ans.Sources[1].ID, ans.Sources[2].ID})
	embedder.AssertExpectations(t)
	index.AssertExpectations(t)
	completer.AssertExpectations(t)
}

func TestAnswerFlagsUngrounded(t *testing.T) {
	hits := []types.RetrievalHit{{ID: "a", Score: 0.9, Text: "Burn rate: $50,000 per month"}}
	embedder := &mockEmbedder{}
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	index := &mockIndex{}
	index.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(hits, nil)
	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("Marketing spend doubled to 120k after the Series B closing.", nil)

	a := NewAnswerer(embedder, index, completer, AnswerOptions{Grounding: &GroundingChecker{MinOverlap: 0.5}})
	ans, err := a.Answer(context.Background(), burnRate)
	require.NoError(t, err)

	assert.False(t, ans.Grounded)
	assert.Less(t, ans.Overlap, 0.5)
	assert.Equal(t, "Marketing spend doubled to 120k after the Series B closing.", ans.Text)
}

func TestAnswerErrorStages(t *testing.T) {
	boom := errors.New("connection refused")
	hits := []types.RetrievalHit{{ID: "a", Score: 0.9, Text: "x"}}

	tests := []struct {
		name  string
		setup func(e *mockEmbedder, i *mockIndex, c *mockCompleter)
		stage types.Stage
	}{
		{
			name: "embed",
			setup: func(e *mockEmbedder, i *mockIndex, c *mockCompleter) {
				e.On("Embed", mock.Anything, mock.Anything).Return(nil, boom)
			},
			stage: types.StageEmbed,
		},
		{
			name: "retrieve",
			setup: func(e *mockEmbedder, i *mockIndex, c *mockCompleter) {
				e.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
				i.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)
			},
			stage: types.StageRetrieve,
		},
		{
			name: "complete",
			setup: func(e *mockEmbedder, i *mockIndex, c *mockCompleter) {
				e.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
				i.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(hits, nil)
				c.On("Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", boom)
			},
			stage: types.StageComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, i, c := &mockEmbedder{}, &mockIndex{}, &mockCompleter{}
			tt.setup(e, i, c)

			_, err := NewAnswerer(e, i, c, AnswerOptions{}).Answer(context.Background(), burnRate)
			assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
			assert.Equal(t, tt.stage, types.StageOf(err))
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestAnswerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	embedder := &mockEmbedder{}
	embedder.On("Embed", mock.Anything, mock.Anything).Return(nil, context.Canceled)

	_, err := NewAnswerer(embedder, &mockIndex{}, &mockCompleter{}, AnswerOptions{}).Answer(ctx, burnRate)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.KindUnknown, types.KindOf(err))
}

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestAnswerFitsTokenBudget(t *testing.T) {
	hits := []types.RetrievalHit{
		{ID: "a", Score: 0.9, Text: "one two three"},
		{ID: "b", Score: 0.8, Text: "four five six seven eight nine ten"},
	}
	embedder := &mockEmbedder{}
	embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	index := &mockIndex{}
	index.On("Search", mock.Anything, mock.Anything, 2).Return(hits, nil)
	completer := &mockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything, BuildContext(hits[:1]), mock.Anything).Return("three", nil)

	a := NewAnswerer(embedder, index, completer, AnswerOptions{TopK: 2, MaxContextTokens: 8, Tokens: wordCounter{}})
	ans, err := a.Answer(context.Background(), burnRate)
	require.NoError(t, err)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "a", ans.Sources[0].ID)
	completer.AssertExpectations(t)
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]types.RetrievalHit{
		{ID: "2", Score: 0.77, Text: "second"},
		{ID: "1", Score: 0.91, Text: "first"},
		{ID: "3", Score: 0.65, Text: "third"},
	})
	assert.Equal(t, "---\n(1) score=0.910\nfirst\n---\n(2) score=0.770\nsecond\n---\n(3) score=0.650\nthird", got)
	assert.Equal(t, "", BuildContext(nil))
}

func TestRankingIsStable(t *testing.T) {
	ctx := context.Background()
	index := store.NewMemoryIndex()
	require.NoError(t, index.Upsert(ctx, "q1.pdf", []float32{1, 0}, "Q1 revenue"))
	require.NoError(t, index.Upsert(ctx, "q2.pdf", []float32{1, 0}, "Q2 revenue"))
	require.NoError(t, index.Upsert(ctx, "q3.pdf", []float32{0, 1}, "Headcount"))

	first, err := index.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	for range 5 {
		again, err := index.Search(ctx, []float32{1, 0}, 3)
		require.NoError(t, err)
		assert.Equal(t, BuildContext(first), BuildContext(again))
	}
}

func TestReingestReplacesEntry(t *testing.T) {
	ctx := context.Background()
	embedder := &mockEmbedder{}
	embedder.On("Embed", mock.Anything, "old text").Return([]float32{1, 0}, nil)
	embedder.On("Embed", mock.Anything, "new text").Return([]float32{0, 1}, nil)
	index := store.NewMemoryIndex()
	ix := NewIndexer(embedder, index, nil, nil)

	require.NoError(t, ix.Index(ctx, "q1.pdf", "old text"))
	require.NoError(t, ix.Index(ctx, "q1.pdf", "new text"))
	assert.Equal(t, 1, index.Len())

	hits, err := index.Search(ctx, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new text", hits[0].Text)
}

func TestIndexSkipsBlankText(t *testing.T) {
	embedder := &mockEmbedder{}
	index := &mockIndex{}
	require.NoError(t, NewIndexer(embedder, index, nil, nil).Index(context.Background(), "scan.pdf", "  \n"))
	embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
	index.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
