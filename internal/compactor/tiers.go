package compactor

import (
	"sort"
	"strings"
)

// Default tier token budgets. L2 is the full summary; L1 and L0 are
// derived line selections.
const (
	DefaultBudgetL2 = 3000
	DefaultBudgetL1 = 1000
	DefaultBudgetL0 = 200
)

// TierBudgets holds the per-tier token budgets.
type TierBudgets struct {
	L2 int
	L1 int
	L0 int
}

func DefaultTierBudgets() TierBudgets {
	return TierBudgets{L2: DefaultBudgetL2, L1: DefaultBudgetL1, L0: DefaultBudgetL0}
}

// linePriorities maps keyword markers to importance. Higher keeps the line
// longer when the tier budget shrinks.
var linePriorities = []struct {
	keywords []string
	priority int
}{
	{[]string{"name", "identity", "call me", "i am", "my name"}, 10},
	{[]string{"decision", "decided", "correction", "corrected", "actually", "instead"}, 9},
	{[]string{"task", "todo", "action", "pending", "deadline", "must"}, 8},
	{[]string{"prefer", "preference", "likes", "dislikes", "always", "never"}, 7},
	{[]string{"topic", "discussed", "talked about", "about"}, 5},
}

func linePriority(line string) int {
	lower := strings.ToLower(line)
	for _, p := range linePriorities {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				return p.priority
			}
		}
	}
	return 1
}

// DeriveTier selects the highest-priority lines of summary that fit the
// token budget, then restores original line order for readable flow.
func DeriveTier(summary string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(summary) <= budget {
		return summary
	}

	type scoredLine struct {
		pos      int
		priority int
		tokens   int
		text     string
	}

	var lines []scoredLine
	for pos, raw := range strings.Split(summary, "\n") {
		text := strings.TrimRight(raw, " \t")
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines = append(lines, scoredLine{
			pos:      pos,
			priority: linePriority(text),
			tokens:   EstimateTokens(text),
			text:     text,
		})
	}

	// Highest priority first; earlier position wins ties.
	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return lines[order[a]].priority > lines[order[b]].priority
	})

	used := 0
	var selected []int
	for _, idx := range order {
		if used+lines[idx].tokens > budget {
			continue
		}
		used += lines[idx].tokens
		selected = append(selected, idx)
	}
	sort.Ints(selected)

	parts := make([]string, len(selected))
	for i, idx := range selected {
		parts[i] = lines[idx].text
	}
	return strings.Join(parts, "\n")
}
