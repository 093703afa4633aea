// Package tokenizer counts and truncates prompt text in model tokens.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used by GPT-4 class models.
const DefaultEncoding = "cl100k_base"

// Tokenizer wraps a tiktoken encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New loads the default encoding. Loading can fail in environments where
// the BPE ranks cannot be fetched; callers should fall back to Estimate.
func New() (*Tokenizer, error) {
	return NewWithEncoding(DefaultEncoding)
}

// NewWithEncoding loads a named encoding.
func NewWithEncoding(encoding string) (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load encoding %s: %w", encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if t == nil || t.enc == nil {
		return Estimate(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate cuts text to at most max tokens. Text already within budget is
// returned unchanged; max <= 0 disables truncation.
func (t *Tokenizer) Truncate(text string, max int) string {
	if max <= 0 {
		return text
	}
	if t == nil || t.enc == nil {
		return truncateEstimate(text, max)
	}
	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	return t.enc.Decode(tokens[:max])
}

// Estimate approximates a token count at four characters per token.
func Estimate(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

func truncateEstimate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max*4 {
		return text
	}
	return string(runes[:max*4])
}
