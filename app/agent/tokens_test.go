package agent

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTokenizerTruncateKeepsValidUTF8(t *testing.T) {
	tok, err := NewTokenizer("text-embedding-3-small")
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}

	text := "Revenue 🙂🚀 売上高は増加した"
	total := tok.Count(text)
	for n := 1; n < total; n++ {
		cut := tok.Truncate(text, n)
		assert.True(t, utf8.ValidString(cut), "max %d tokens", n)
		assert.LessOrEqual(t, len(cut), len(text))
	}
	assert.Equal(t, text, tok.Truncate(text, total))
	assert.Equal(t, text, tok.Truncate(text, 0))
}
