package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docintel/types"

	"go.uber.org/zap"
)

// OllamaEmbedder calls a local Ollama /api/embeddings endpoint.
type OllamaEmbedder struct {
	apiURL string
	model  string
	client *http.Client
	logger *zap.Logger
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(apiURL, model string, logger *zap.Logger) *OllamaEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaEmbedder{
		apiURL: apiURL,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(text); err != nil {
		return nil, err
	}

	body, err := json.Marshal(OllamaEmbeddingRequest{
		Model:  e.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, types.Unavailable(types.StageEmbed, "ollama request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Unavailable(types.StageEmbed, "failed to read ollama response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.Unavailable(types.StageEmbed,
			fmt.Sprintf("ollama API error: status %d, body: %s", resp.StatusCode, string(respBody)), nil)
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, types.Unavailable(types.StageEmbed, "failed to unmarshal ollama response", err)
	}
	if len(ollamaResp.Embedding) == 0 {
		return nil, types.Unavailable(types.StageEmbed, "ollama returned an empty embedding", nil)
	}

	norm := normalize64(ollamaResp.Embedding)
	embedding := make([]float32, len(norm))
	for i, v := range norm {
		embedding[i] = float32(v)
	}

	e.logger.Debug("ollama embedding", zap.String("model", e.model), zap.Int("dims", len(embedding)))
	return embedding, nil
}
