package compactor

import "strings"

// DefaultSimilarityThreshold is the Jaccard cutoff for message-level
// dedup.
const DefaultSimilarityThreshold = 0.6

// shingles builds the word-trigram set of a message body.
func shingles(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{})
	if len(words) < 3 {
		// Short bodies fall back to whole-text identity.
		if len(words) > 0 {
			set[strings.Join(words, " ")] = struct{}{}
		}
		return set
	}
	for i := 0; i+2 < len(words); i++ {
		set[words[i]+" "+words[i+1]+" "+words[i+2]] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// DedupeBodies compares message bodies pairwise by word-trigram Jaccard
// similarity; when a pair scores at or above threshold, the earlier body
// is dropped. Returns the surviving bodies in order and the count removed.
func DedupeBodies(bodies []string, threshold float64) ([]string, int) {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	sets := make([]map[string]struct{}, len(bodies))
	for i, b := range bodies {
		sets[i] = shingles(b)
	}

	dropped := make([]bool, len(bodies))
	removed := 0
	for i := 0; i < len(bodies); i++ {
		if dropped[i] {
			continue
		}
		for j := i + 1; j < len(bodies); j++ {
			if dropped[j] {
				continue
			}
			if jaccard(sets[i], sets[j]) >= threshold {
				dropped[i] = true
				removed++
				break
			}
		}
	}

	kept := make([]string, 0, len(bodies)-removed)
	for i, b := range bodies {
		if !dropped[i] {
			kept = append(kept, b)
		}
	}
	return kept, removed
}
