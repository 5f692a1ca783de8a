package compactor

import (
	"strings"
	"testing"
)

func TestEstimateTokensASCII(t *testing.T) {
	// 40 ASCII chars ≈ 10 tokens.
	got := EstimateTokens(strings.Repeat("abcd", 10))
	if got != 10 {
		t.Errorf("EstimateTokens = %d, want 10", got)
	}
}

func TestEstimateTokensCJK(t *testing.T) {
	// 15 CJK code points ≈ 10 tokens.
	got := EstimateTokens(strings.Repeat("漢", 15))
	if got != 10 {
		t.Errorf("EstimateTokens = %d, want 10", got)
	}
}

func TestEstimateTokensMixedCountsCodePoints(t *testing.T) {
	// Byte length must not matter; 3 CJK code points are 2 tokens even
	// though they are 9 UTF-8 bytes.
	got := EstimateTokens("漢字語")
	if got != 2 {
		t.Errorf("EstimateTokens = %d, want 2", got)
	}
	if EstimateTokens("") != 0 {
		t.Error("EstimateTokens(empty) != 0")
	}
	if EstimateTokens("a") != 1 {
		t.Error("EstimateTokens(single char) != 1")
	}
}

func TestTruncateToTokens(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("some reasonably long line of text here\n")
	}
	in := b.String()

	got := TruncateToTokens(in, 50)
	if tokens := EstimateTokens(got); tokens > 50 {
		t.Errorf("truncated estimate = %d, want <= 50", tokens)
	}
	if len(got) == 0 {
		t.Fatal("truncated to nothing")
	}
	// Cuts land on line boundaries, so every kept line is whole.
	for _, line := range strings.Split(got, "\n") {
		if line != "" && line != "some reasonably long line of text here" {
			t.Errorf("partial line survived: %q", line)
		}
	}
}

func TestTruncateToTokensNoopWhenUnder(t *testing.T) {
	in := "short text"
	if got := TruncateToTokens(in, 100); got != in {
		t.Errorf("TruncateToTokens changed text under budget: %q", got)
	}
	if got := TruncateToTokens(in, 0); got != "" {
		t.Errorf("TruncateToTokens with zero budget = %q", got)
	}
}
