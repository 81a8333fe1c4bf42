package tutorgate

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts prompt tokens with the cl100k encoding shared by the
// GPT-4 family. Other providers tokenize differently but closely enough for
// budgeting the context block.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a TokenCounter.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("tutorgate: tokenizer: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text. A nil counter, or a codec
// error, falls back to ~4 chars per token.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// EstimateTokens provides a token count estimate for messages.
// Counts content with tc plus a fixed overhead per message (role, formatting).
func EstimateTokens(tc *TokenCounter, messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += int64(tc.Count(m.Content))
		total += 4
	}
	// base overhead for the request
	total += 3
	return total
}
