package model

import (
	"context"

	"docintel/types"

	"google.golang.org/genai"
)

type geminiModels interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type GeminiEmbedder struct {
	models     geminiModels
	model      string
	dimensions int32
}

// NewGeminiEmbedder uses client.Models. dimensions of zero keeps the model default.
func NewGeminiEmbedder(client *genai.Client, model string, dimensions int) *GeminiEmbedder {
	return &GeminiEmbedder{
		models:     client.Models,
		model:      model,
		dimensions: int32(dimensions),
	}
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}

	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		cfg = &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(e.dimensions)}
	}

	resp, err := e.models.EmbedContent(ctx, e.model, genai.Text(text), cfg)
	if err != nil {
		return nil, types.Unavailable(types.StageEmbed, "gemini embed content", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, types.Unavailable(types.StageEmbed, "embedding response empty", nil)
	}

	out := make([]float32, len(resp.Embeddings[0].Values))
	copy(out, resp.Embeddings[0].Values)
	return out, nil
}
