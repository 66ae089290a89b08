package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts BPE tokens with the GPT-4 (cl100k) codec. Counts are exact for OpenAI and a
// close approximation elsewhere. They are not prefix-monotonic, so budgeting uses Estimate.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a counter for the GPT-4 encoding.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the token count of text, falling back to the generic estimate on codec errors.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return Estimate(text, FamilyGeneric)
	}
	count, err := c.codec.Count(text)
	if err != nil {
		return Estimate(text, FamilyGeneric)
	}
	return count
}

// CountSimple counts tokens without keeping a Counter around.
func CountSimple(text string) int {
	counter, err := NewCounter()
	if err != nil {
		return Estimate(text, FamilyGeneric)
	}
	return counter.Count(text)
}
