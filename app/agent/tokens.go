package agent

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and cuts text in BPE tokens of an OpenAI-compatible encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer picks the encoding for model, falling back to cl100k_base.
func NewTokenizer(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	// a cut can land inside a multi-token rune
	return strings.ToValidUTF8(t.enc.Decode(tokens[:maxTokens]), "")
}
