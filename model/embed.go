package model

import (
	"context"
	"math"
	"strings"

	"docintel/types"
)

// Embedder turns text into a vector of fixed dimensionality for one model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Truncator caps text to a token budget before it is embedded.
type Truncator interface {
	Truncate(text string, maxTokens int) string
}

// Limited wraps an Embedder so input longer than maxTokens is cut first.
type Limited struct {
	Embedder  Embedder
	Tokens    Truncator
	MaxTokens int
}

func (l Limited) Embed(ctx context.Context, text string) ([]float32, error) {
	if l.Tokens != nil && l.MaxTokens > 0 {
		text = l.Tokens.Truncate(text, l.MaxTokens)
	}
	return l.Embedder.Embed(ctx, text)
}

func checkInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return types.InvalidInput(types.StageEmbed, "text is empty")
	}
	return nil
}

func normalize64(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = x / norm
	}
	return vec
}
