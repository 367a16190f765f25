package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docintel/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestOllamaEmbedder(t *testing.T) {
	var got OllamaEmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	vec, err := NewOllamaEmbedder(srv.URL, "nomic-embed-text", nil).Embed(context.Background(), "Revenue: $10,000")
	require.NoError(t, err)

	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, "Revenue: $10,000", got.Prompt)
	require.Len(t, vec, 2)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
}

func TestOllamaEmbedderUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "missing", nil).Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.Equal(t, types.StageEmbed, types.StageOf(err))
}

func TestEmbedRejectsBlank(t *testing.T) {
	_, err := NewOllamaEmbedder("http://127.0.0.1:0", "m", nil).Embed(context.Background(), "  ")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.25,-0.5,1]}]}`))
	}))
	defer srv.Close()

	vec, err := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "").Embed(context.Background(), "burn rate")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
}

func TestOpenAIEmbedderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder("sk-bad", srv.URL+"/v1", "").Embed(context.Background(), "burn rate")
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
}

type fakeGemini struct {
	model string
	dims  *int32
	resp  *genai.EmbedContentResponse
}

func (f *fakeGemini) EmbedContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.model = model
	if cfg != nil {
		f.dims = cfg.OutputDimensionality
	}
	return f.resp, nil
}

func TestGeminiEmbedder(t *testing.T) {
	fake := &fakeGemini{resp: &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2}}},
	}}
	e := &GeminiEmbedder{models: fake, model: "text-embedding-004", dimensions: 768}

	vec, err := e.Embed(context.Background(), "cash runway")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, "text-embedding-004", fake.model)
	require.NotNil(t, fake.dims)
	assert.Equal(t, int32(768), *fake.dims)

	fake.resp = &genai.EmbedContentResponse{}
	_, err = e.Embed(context.Background(), "cash runway")
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
}

type wordCutter struct{}

func (wordCutter) Truncate(text string, max int) string {
	words := strings.Fields(text)
	if len(words) > max {
		words = words[:max]
	}
	return strings.Join(words, " ")
}

type echoEmbedder struct{ last string }

func (e *echoEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.last = text
	return []float32{1}, nil
}

func TestLimitedTruncates(t *testing.T) {
	inner := &echoEmbedder{}
	l := Limited{Embedder: inner, Tokens: wordCutter{}, MaxTokens: 2}

	_, err := l.Embed(context.Background(), "one two three four")
	require.NoError(t, err)
	assert.Equal(t, "one two", inner.last)

	l.Tokens = nil
	_, err = l.Embed(context.Background(), "one two three four")
	require.NoError(t, err)
	assert.Equal(t, "one two three four", inner.last)
}

func TestNormalize(t *testing.T) {
	v := normalize64([]float64{1, 1})
	assert.InDelta(t, 1/math.Sqrt2, v[0], 1e-9)
	assert.Equal(t, []float64{0, 0}, normalize64([]float64{0, 0}))
}
