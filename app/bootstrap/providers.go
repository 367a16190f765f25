package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"docintel/app/agent"
	"docintel/model"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

func (a *App) embedder(ctx context.Context) (model.Embedder, error) {
	cfg := a.Config.Embedder
	var e model.Embedder
	switch cfg.Provider {
	case "ollama":
		e = model.NewOllamaEmbedder(cfg.BaseURL, cfg.Model, a.Logger.Named("embed"))
	case "gemini":
		client, err := genaiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		e = model.NewGeminiEmbedder(client, cfg.Model, a.Config.Index.Dimensions)
	default:
		e = model.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model)
	}

	if cfg.MaxTokens <= 0 {
		return e, nil
	}
	tokens, err := agent.NewTokenizer(cfg.Model)
	if err != nil {
		a.Logger.Warn("embedding input will not be truncated", zap.Error(err))
		return e, nil
	}
	return model.Limited{Embedder: e, Tokens: tokens, MaxTokens: cfg.MaxTokens}, nil
}

// completer returns the configured model and, when it can be loaded, a
// tokenizer used to bound the context block.
func (a *App) completer(ctx context.Context) (agent.Completer, *agent.Tokenizer, error) {
	cfg := a.Config.Completion
	var tokens *agent.Tokenizer
	if a.Config.Answer.MaxContextTokens > 0 {
		t, err := agent.NewTokenizer(cfg.Model)
		if err != nil {
			a.Logger.Warn("context token budget disabled", zap.Error(err))
		} else {
			tokens = t
		}
	}

	switch cfg.Provider {
	case "ollama":
		return agent.NewOllamaCompleter(cfg.BaseURL, cfg.Model, cfg.Temperature, tokens, a.Logger.Named("complete")), tokens, nil
	case "gemini":
		client, err := genaiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, nil, err
		}
		return agent.NewGeminiCompleter(client, cfg.Model, cfg.Temperature), tokens, nil
	default:
		return agent.NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature), tokens, nil
	}
}

func genaiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// Close releases pools and connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
