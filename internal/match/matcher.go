// Package match scores semantic similarity of short role/task strings.
//
// The hybrid scorer combines three dimensions: exact keyword overlap,
// fuzzy edit-distance similarity, and synonym-group expansion. It is used
// for sub-agent reuse lookup and role-template selection.
package match

import (
	"strings"
	"sync"
	"unicode"
)

// Default scoring weights and threshold.
const (
	WeightKeyword = 0.5
	WeightFuzzy   = 0.2
	WeightSynonym = 0.3

	// DefaultMinScore is the FindBest acceptance threshold.
	DefaultMinScore = 0.3
)

// Matcher scores query/target string pairs. Safe for concurrent use.
type Matcher struct {
	minScore float64

	mu       sync.RWMutex
	synonyms []map[string]struct{}
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMinScore overrides the FindBest acceptance threshold.
func WithMinScore(s float64) Option {
	return func(m *Matcher) { m.minScore = s }
}

// New creates a Matcher with the built-in synonym table.
func New(opts ...Option) *Matcher {
	m := &Matcher{minScore: DefaultMinScore}
	for _, group := range builtinSynonyms {
		set := make(map[string]struct{}, len(group))
		for _, w := range group {
			set[w] = struct{}{}
		}
		m.synonyms = append(m.synonyms, set)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddSynonyms registers an additional synonym group at runtime.
// Groups with fewer than two usable words are ignored.
func (m *Matcher) AddSynonyms(words ...string) {
	set := make(map[string]struct{})
	for _, w := range words {
		for _, tok := range tokenize(w) {
			set[tok] = struct{}{}
		}
	}
	if len(set) < 2 {
		return
	}
	m.mu.Lock()
	m.synonyms = append(m.synonyms, set)
	m.mu.Unlock()
}

// Score rates how well query matches target, in [0,1].
func (m *Matcher) Score(query, target string) float64 {
	qTokens := tokenize(query)
	tTokens := tokenize(target)
	if len(qTokens) == 0 || len(tTokens) == 0 {
		return 0
	}

	tSet := make(map[string]struct{}, len(tTokens))
	for _, t := range tTokens {
		tSet[t] = struct{}{}
	}

	keyword := keywordOverlap(qTokens, tSet, len(tTokens))
	fuzzy := fuzzyScore(qTokens, tTokens)
	synonym := m.synonymScore(qTokens, tSet)

	score := WeightKeyword*keyword + WeightFuzzy*fuzzy + WeightSynonym*synonym
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// Candidate pairs an arbitrary value with the text it is matched on.
type Candidate struct {
	Text  string
	Value interface{}
}

// FindBest returns the highest-scoring candidate whose score meets the
// matcher's minimum, or ok=false when none qualifies. Ties are broken by
// encounter order.
func (m *Matcher) FindBest(query string, candidates []Candidate) (best Candidate, score float64, ok bool) {
	bestScore := -1.0
	for _, c := range candidates {
		s := m.Score(query, c.Text)
		if s > bestScore {
			bestScore = s
			best = c
		}
	}
	if bestScore < m.minScore {
		return Candidate{}, 0, false
	}
	return best, bestScore, true
}

func keywordOverlap(qTokens []string, tSet map[string]struct{}, tLen int) float64 {
	matches := 0
	for _, q := range qTokens {
		if _, ok := tSet[q]; ok {
			matches++
		}
	}
	denom := len(qTokens)
	if tLen < denom {
		denom = tLen
	}
	if denom == 0 {
		return 0
	}
	return float64(matches) / float64(denom)
}

// fuzzyScore averages each query token's best similarity against the target
// tokens, counting only contributions above 0.5.
func fuzzyScore(qTokens, tTokens []string) float64 {
	sum := 0.0
	for _, q := range qTokens {
		best := 0.0
		for _, t := range tTokens {
			if s := tokenSimilarity(q, t); s > best {
				best = s
			}
		}
		if best > 0.5 {
			sum += best
		}
	}
	return sum / float64(len(qTokens))
}

func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) >= 4 && len(b) >= 4 &&
		(strings.Contains(a, b) || strings.Contains(b, a)) {
		return 0.8
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// synonymScore counts query tokens absent from the target whose synonym
// group has a member present in the target.
func (m *Matcher) synonymScore(qTokens []string, tSet map[string]struct{}) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := 0
	for _, q := range qTokens {
		if _, inTarget := tSet[q]; inTarget {
			continue
		}
		if m.hasSynonymIn(q, tSet) {
			hits++
		}
	}
	return float64(hits) / float64(len(qTokens))
}

func (m *Matcher) hasSynonymIn(token string, tSet map[string]struct{}) bool {
	for _, group := range m.synonyms {
		if _, ok := group[token]; !ok {
			continue
		}
		for peer := range group {
			if peer == token {
				continue
			}
			if _, ok := tSet[peer]; ok {
				return true
			}
		}
	}
	return false
}

// tokenize lowercases, strips punctuation, and drops stop words and
// tokens of length <= 2.
func tokenize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "him": {}, "his": {},
	"how": {}, "its": {}, "may": {}, "new": {}, "now": {}, "who": {},
	"will": {}, "with": {}, "this": {}, "that": {}, "from": {},
	"they": {}, "have": {}, "been": {}, "were": {}, "what": {},
	"when": {}, "your": {}, "which": {}, "their": {}, "about": {},
	"would": {}, "there": {}, "could": {}, "should": {}, "into": {},
	"some": {}, "then": {}, "than": {}, "them": {}, "these": {},
	"very": {}, "just": {}, "also": {}, "more": {}, "most": {},
	"other": {}, "such": {}, "only": {}, "over": {}, "please": {},
	"need": {}, "want": {}, "like": {}, "make": {}, "using": {},
}
