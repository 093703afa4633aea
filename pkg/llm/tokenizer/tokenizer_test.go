package tokenizer

import (
	"strings"
	"testing"
)

func TestEstimate(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Errorf("Estimate(\"\") = %d, want 0", got)
	}
	if got := Estimate("abcdefgh"); got != 2 {
		t.Errorf("Estimate(8 chars) = %d, want 2", got)
	}
	if got := Estimate("abcde"); got != 2 {
		t.Errorf("Estimate(5 chars) = %d, want 2", got)
	}
}

func TestNilTokenizerFallsBack(t *testing.T) {
	var tok *Tokenizer
	text := strings.Repeat("a", 100)
	if got := tok.Count(text); got != 25 {
		t.Errorf("Count = %d, want 25", got)
	}
	if got := tok.Truncate(text, 10); len(got) != 40 {
		t.Errorf("Truncate len = %d, want 40", len(got))
	}
	if got := tok.Truncate(text, 0); got != text {
		t.Errorf("Truncate with no budget changed text")
	}
}

func TestTiktokenTruncate(t *testing.T) {
	tok, err := New()
	if err != nil {
		t.Skipf("Tokenizer initialization failed (expected in some environments): %v", err)
	}

	text := strings.Repeat("governance proposal analysis ", 50)
	full := tok.Count(text)
	if full <= 20 {
		t.Fatalf("expected more than 20 tokens, got %d", full)
	}

	cut := tok.Truncate(text, 20)
	if n := tok.Count(cut); n > 20 {
		t.Errorf("truncated text has %d tokens, want <= 20", n)
	}
	if !strings.HasPrefix(text, cut) {
		t.Errorf("truncated text is not a prefix of the original")
	}
	if tok.Truncate("short", 20) != "short" {
		t.Errorf("text within budget should be unchanged")
	}
}
