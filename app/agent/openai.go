package agent

import (
	"context"

	"docintel/types"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAICompleter(apiKey, baseURL, model string, temperature float32) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, contextBlock, question string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleSystem, Content: "Context:\n" + contextBlock},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
	})
	if err != nil {
		return "", types.Unavailable(types.StageComplete, "openai chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", types.Unavailable(types.StageComplete, "completion returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}
