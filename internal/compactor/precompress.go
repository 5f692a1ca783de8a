package compactor

import (
	"strings"
	"unicode"
)

// PreCompress applies the deterministic shrink rules to one message body,
// in a fixed order: punctuation normalization, whitespace cleanup, exact
// line dedup, empty-section removal, table compression, optional emoji
// strip, near-duplicate bullet merging, short-bullet run joining, and a
// final whitespace/decoration pass.
func PreCompress(s string, stripEmoji bool) string {
	s = normalizeCJKPunctuation(s)
	s = collapseWhitespace(s)
	s = dedupeExactLines(s)
	s = removeEmptyMarkdownSections(s)
	s = compressMarkdownTables(s)
	if stripEmoji {
		s = removeEmoji(s)
	}
	s = mergeSimilarBullets(s)
	s = joinShortBulletRuns(s)
	s = finalCleanup(s)
	return s
}

var cjkPunctuation = strings.NewReplacer(
	"，", ", ", "。", ". ", "！", "! ", "？", "? ",
	"：", ": ", "；", "; ", "（", "(", "）", ")",
	"【", "[", "】", "]", "「", "\"", "」", "\"",
	"、", ", ", "　", " ",
)

func normalizeCJKPunctuation(s string) string {
	return cjkPunctuation.Replace(s)
}

// collapseWhitespace trims trailing whitespace per line and collapses runs
// of three or more blank lines down to two.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blanks++
			if blanks > 2 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// dedupeExactLines drops exact duplicates of non-empty lines, keeping the
// first occurrence.
func dedupeExactLines(s string) string {
	lines := strings.Split(s, "\n")
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			if seen[line] {
				continue
			}
			seen[line] = true
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func headerLevel(line string) int {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level >= len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

// removeEmptyMarkdownSections drops headers that have no body text and no
// deeper-level child section before the next header at the same or a
// shallower level.
func removeEmptyMarkdownSections(s string) string {
	lines := strings.Split(s, "\n")
	drop := make([]bool, len(lines))

	for i, line := range lines {
		level := headerLevel(line)
		if level == 0 {
			continue
		}
		empty := true
		for j := i + 1; j < len(lines); j++ {
			next := lines[j]
			if nl := headerLevel(next); nl > 0 {
				if nl <= level {
					break
				}
				// A deeper child counts as content.
				empty = false
				break
			}
			if strings.TrimSpace(next) != "" {
				empty = false
				break
			}
		}
		if empty {
			drop[i] = true
		}
	}

	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if !drop[i] {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 1
}

func isTableSeparator(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !isTableRow(trimmed) {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return true
}

func splitTableRow(line string) []string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	cells := strings.Split(trimmed, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// compressMarkdownTables rewrites tables by column count: 2 columns become
// "- Key: Value" lines, 3 and 4 columns become compact one-liners keyed by
// the first cell, wider tables keep their rows pipe-delimited but lose the
// header and separator.
func compressMarkdownTables(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); {
		if !isTableRow(lines[i]) || i+1 >= len(lines) || !isTableSeparator(lines[i+1]) {
			out = append(out, lines[i])
			i++
			continue
		}

		header := splitTableRow(lines[i])
		j := i + 2
		var rows [][]string
		for j < len(lines) && isTableRow(lines[j]) {
			rows = append(rows, splitTableRow(lines[j]))
			j++
		}

		cols := len(header)
		for _, row := range rows {
			switch {
			case cols == 2 && len(row) >= 2:
				out = append(out, "- "+row[0]+": "+row[1])
			case cols >= 3 && cols <= 4 && len(row) >= cols:
				parts := make([]string, 0, cols-1)
				for c := 1; c < cols; c++ {
					parts = append(parts, header[c]+"="+row[c])
				}
				out = append(out, row[0]+", "+strings.Join(parts, ", "))
			default:
				out = append(out, strings.Join(row, " | "))
			}
		}
		i = j
	}
	return strings.Join(out, "\n")
}

func removeEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 0x1F000 && r <= 0x1FAFF || r >= 0x2600 && r <= 0x27BF || r == 0xFE0F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isBullet(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ")
}

func bulletContent(line string) string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "- ")
	trimmed = strings.TrimPrefix(trimmed, "* ")
	return trimmed
}

// bigramSimilarity is a Dice coefficient over character bigrams.
func bigramSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ar, br := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	if len(ar) < 2 || len(br) < 2 {
		return 0
	}
	grams := make(map[string]int)
	for i := 0; i+1 < len(ar); i++ {
		grams[string(ar[i:i+2])]++
	}
	matches := 0
	for i := 0; i+1 < len(br); i++ {
		g := string(br[i : i+2])
		if grams[g] > 0 {
			grams[g]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(len(ar)-1+len(br)-1)
}

// mergeSimilarBullets drops bullets that are near-duplicates (bigram
// similarity >= 0.8) of an earlier bullet, keeping the longer text.
func mergeSimilarBullets(s string) string {
	lines := strings.Split(s, "\n")
	type kept struct {
		idx     int
		content string
	}
	var bullets []kept
	drop := make(map[int]bool)

	for i, line := range lines {
		if !isBullet(line) {
			continue
		}
		content := bulletContent(line)
		merged := false
		for bi := range bullets {
			if bigramSimilarity(content, bullets[bi].content) >= 0.8 {
				if len(content) > len(bullets[bi].content) {
					// Keep the longer variant in place of the earlier one.
					lines[bullets[bi].idx] = line
					bullets[bi].content = content
				}
				drop[i] = true
				merged = true
				break
			}
		}
		if !merged {
			bullets = append(bullets, kept{idx: i, content: content})
		}
	}

	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if !drop[i] {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// joinShortBulletRuns collapses runs of more than two consecutive bullets
// whose content is at most three words each into one comma-joined line.
func joinShortBulletRuns(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	flush := func(run []string) {
		if len(run) > 2 {
			out = append(out, "- "+strings.Join(run, ", "))
			return
		}
		for _, content := range run {
			out = append(out, "- "+content)
		}
	}

	var run []string
	for _, line := range lines {
		if isBullet(line) {
			content := bulletContent(line)
			if len(strings.Fields(content)) <= 3 {
				run = append(run, content)
				continue
			}
		}
		flush(run)
		run = nil
		out = append(out, line)
	}
	flush(run)
	return strings.Join(out, "\n")
}

// isDecorativeLine reports lines made only of punctuation filler.
func isDecorativeLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 3 {
		return false
	}
	for _, r := range trimmed {
		switch {
		case r == '-' || r == '=' || r == '*' || r == '_' || r == '~' || r == '#' || r == ' ':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return false
		default:
			return false
		}
	}
	return true
}

func finalCleanup(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if isDecorativeLine(line) && headerLevel(line) == 0 {
			continue
		}
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.TrimSpace(collapseWhitespace(strings.Join(out, "\n")))
}
