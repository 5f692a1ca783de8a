package compactor

import (
	"strings"
	"unicode"
)

// Token estimation uses a character-composition heuristic over Unicode
// code points: ASCII text runs about 4 chars per token, CJK about 1.5.
const (
	asciiCharsPerToken = 4.0
	cjkCharsPerToken   = 1.5
)

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	ascii, cjk := 0, 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			ascii++
		}
	}
	est := float64(ascii)/asciiCharsPerToken + float64(cjk)/cjkCharsPerToken
	if est > 0 && est < 1 {
		return 1
	}
	return int(est)
}

// TruncateToTokens cuts s down to roughly budget tokens. Cuts land on the
// last newline or space past the midpoint of the candidate slice so words
// and lines stay whole; trimming iterates while the estimate is over.
func TruncateToTokens(s string, budget int) string {
	if budget <= 0 {
		return ""
	}
	for EstimateTokens(s) > budget {
		runes := []rune(s)
		// Proportional cut, never growing.
		target := len(runes) * budget / EstimateTokens(s)
		if target >= len(runes) {
			target = len(runes) - 1
		}
		if target < 1 {
			return ""
		}
		candidate := string(runes[:target])

		// Prefer a break at a newline, then a space, past the midpoint.
		cut := strings.LastIndexByte(candidate, '\n')
		if cut < len(candidate)/2 {
			if sp := strings.LastIndexByte(candidate, ' '); sp >= len(candidate)/2 {
				cut = sp
			} else {
				cut = -1
			}
		}
		if cut >= len(candidate)/2 {
			candidate = candidate[:cut]
		}
		candidate = strings.TrimRight(candidate, " \n\t")
		if candidate == s {
			// No progress; force a hard cut.
			candidate = string(runes[:target-1])
		}
		s = candidate
	}
	return s
}
