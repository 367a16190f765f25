package agent

import (
	"context"

	"docintel/types"

	"google.golang.org/genai"
)

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiCompleter struct {
	models      geminiModels
	model       string
	temperature float32
}

func NewGeminiCompleter(client *genai.Client, model string, temperature float32) *GeminiCompleter {
	return &GeminiCompleter{
		models:      client.Models,
		model:       model,
		temperature: temperature,
	}
}

func (g *GeminiCompleter) Complete(ctx context.Context, system, contextBlock, question string) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(UserPrompt(contextBlock, question)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
	})
	if err != nil {
		return "", types.Unavailable(types.StageComplete, "gemini generate content", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", types.Unavailable(types.StageComplete, "completion returned no candidates", nil)
	}
	return resp.Text(), nil
}
