package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docintel/types"

	"go.uber.org/zap"
)

// Completer sends one grounded prompt to a completion model and returns the
// raw text it produced.
type Completer interface {
	Complete(ctx context.Context, system, contextBlock, question string) (string, error)
}

type GenerateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options *GenerateOption `json:"options,omitempty"`
}

type GenerateOption struct {
	Temperature float32 `json:"temperature"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaCompleter calls Ollama /api/generate.
type OllamaCompleter struct {
	url         string
	model       string
	temperature float32
	client      *http.Client
	tokens      *Tokenizer
	logger      *zap.Logger
}

func NewOllamaCompleter(url, model string, temperature float32, tokens *Tokenizer, logger *zap.Logger) *OllamaCompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaCompleter{
		url:         url,
		model:       model,
		temperature: temperature,
		client:      &http.Client{Timeout: 2 * time.Minute},
		tokens:      tokens,
		logger:      logger,
	}
}

func (o *OllamaCompleter) Complete(ctx context.Context, system, contextBlock, question string) (string, error) {
	start := time.Now()

	reqBody, err := json.Marshal(GenerateRequest{
		Model:   o.model,
		System:  system,
		Prompt:  UserPrompt(contextBlock, question),
		Options: &GenerateOption{Temperature: o.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	if o.tokens != nil {
		o.logger.Debug("prompt size", zap.Int("tokens", o.tokens.Count(string(reqBody))), zap.Int("bytes", len(reqBody)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", types.Unavailable(types.StageComplete, "ollama request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.Unavailable(types.StageComplete, "failed to read ollama response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", types.Unavailable(types.StageComplete,
			fmt.Sprintf("ollama API error: status %d, body: %s", resp.StatusCode, string(body)), nil)
	}

	output, err := decodeGenerate(body)
	if err != nil {
		return "", types.Unavailable(types.StageComplete, "failed to decode ollama response", err)
	}
	o.logger.Debug("ollama answer", zap.String("model", o.model), zap.Duration("duration", time.Since(start)))
	return output, nil
}

// decodeGenerate accepts both a single JSON object and a stream of chunks.
func decodeGenerate(body []byte) (string, error) {
	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil {
		return genResp.Response, nil
	}

	var sb strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			return "", err
		}
		sb.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return sb.String(), nil
}

// UserPrompt is the message for backends without a separate context turn.
func UserPrompt(contextBlock, question string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s\n\nAnswer:", contextBlock, question)
}
