package compactor

import (
	"strings"
	"testing"
)

func TestNormalizeCJKPunctuation(t *testing.T) {
	got := normalizeCJKPunctuation("你好，世界。真的！")
	if strings.ContainsAny(got, "，。！") {
		t.Errorf("fullwidth punctuation survived: %q", got)
	}
	if !strings.Contains(got, ", ") || !strings.Contains(got, ". ") {
		t.Errorf("ASCII replacements missing: %q", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	in := "line one   \nline two\t\n\n\n\n\nline three"
	got := collapseWhitespace(in)
	if strings.Contains(got, "one   ") || strings.Contains(got, "two\t") {
		t.Errorf("trailing whitespace survived: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank run not collapsed: %q", got)
	}
	if !strings.Contains(got, "\n\n") {
		t.Errorf("double blank over-collapsed: %q", got)
	}
}

func TestDedupeExactLines(t *testing.T) {
	in := "alpha\nbeta\nalpha\n\n\nbeta\ngamma"
	got := dedupeExactLines(in)
	if strings.Count(got, "alpha") != 1 || strings.Count(got, "beta") != 1 {
		t.Errorf("duplicates survived: %q", got)
	}
	// Blank lines are not deduplicated.
	if strings.Count(got, "\n\n") == 0 {
		t.Errorf("blank lines were removed: %q", got)
	}
}

func TestRemoveEmptyMarkdownSections(t *testing.T) {
	in := "# Title\nintro text\n## Empty\n\n## Full\ncontent here\n## Parent\n### Child\nchild content"
	got := removeEmptyMarkdownSections(in)
	if strings.Contains(got, "## Empty") {
		t.Errorf("empty section survived: %q", got)
	}
	if !strings.Contains(got, "## Full") || !strings.Contains(got, "## Parent") {
		t.Errorf("non-empty sections removed: %q", got)
	}
}

func TestCompressTwoColumnTable(t *testing.T) {
	in := "| Key | Value |\n| --- | --- |\n| Name | Ada |\n| Role | Engineer |"
	got := compressMarkdownTables(in)
	if !strings.Contains(got, "- Name: Ada") || !strings.Contains(got, "- Role: Engineer") {
		t.Errorf("two-column table not compressed: %q", got)
	}
	if strings.Contains(got, "|") {
		t.Errorf("pipes survived: %q", got)
	}
}

func TestCompressThreeColumnTable(t *testing.T) {
	in := "| Service | Port | Status |\n|---|---|---|\n| api | 8080 | up |"
	got := compressMarkdownTables(in)
	if !strings.Contains(got, "api, Port=8080, Status=up") {
		t.Errorf("three-column row = %q", got)
	}
}

func TestCompressWideTableKeepsRows(t *testing.T) {
	in := "| a | b | c | d | e |\n|---|---|---|---|---|\n| 1 | 2 | 3 | 4 | 5 |"
	got := compressMarkdownTables(in)
	if !strings.Contains(got, "1 | 2 | 3 | 4 | 5") {
		t.Errorf("wide table row lost: %q", got)
	}
	if strings.Contains(got, "| a |") || strings.Contains(got, "---") {
		t.Errorf("header/separator survived: %q", got)
	}
}

func TestMergeSimilarBullets(t *testing.T) {
	in := "- deploy the api service to production\n- deploy the api service to production now\n- unrelated grocery list"
	got := mergeSimilarBullets(in)
	if strings.Count(got, "deploy the api service") != 1 {
		t.Errorf("near-duplicate bullets not merged: %q", got)
	}
	// The longer variant wins.
	if !strings.Contains(got, "production now") {
		t.Errorf("shorter variant kept: %q", got)
	}
	if !strings.Contains(got, "grocery") {
		t.Errorf("unrelated bullet removed: %q", got)
	}
}

func TestJoinShortBulletRuns(t *testing.T) {
	in := "- apples\n- ripe bananas\n- dark chocolate\n- a very long bullet with more than three words"
	got := joinShortBulletRuns(in)
	if !strings.Contains(got, "- apples, ripe bananas, dark chocolate") {
		t.Errorf("short run not joined: %q", got)
	}
	if !strings.Contains(got, "very long bullet") {
		t.Errorf("long bullet lost: %q", got)
	}

	// Two short bullets stay separate.
	got = joinShortBulletRuns("- one\n- two")
	if strings.Contains(got, "one, two") {
		t.Errorf("pair was joined: %q", got)
	}
}

func TestFinalCleanupDropsDecorativeLines(t *testing.T) {
	in := "real content\n----------\nmore content\n==========\n"
	got := finalCleanup(in)
	if strings.Contains(got, "---") || strings.Contains(got, "===") {
		t.Errorf("decorative lines survived: %q", got)
	}
	if !strings.Contains(got, "real content") || !strings.Contains(got, "more content") {
		t.Errorf("content lost: %q", got)
	}
}

func TestRemoveEmoji(t *testing.T) {
	got := removeEmoji("done ✅ shipping \U0001F680 today")
	if strings.ContainsRune(got, '✅') || strings.ContainsRune(got, '\U0001F680') {
		t.Errorf("emoji survived: %q", got)
	}
	if !strings.Contains(got, "done") || !strings.Contains(got, "today") {
		t.Errorf("text lost: %q", got)
	}
}

func TestPreCompressPipeline(t *testing.T) {
	in := "status update！\n\n\n\n## Notes\n\n| Key | Value |\n|---|---|\n| Env | prod |\n\nduplicate line\nduplicate line\n-----\n"
	got := PreCompress(in, false)
	if strings.Contains(got, "！") {
		t.Errorf("punctuation not normalized: %q", got)
	}
	if strings.Count(got, "duplicate line") != 1 {
		t.Errorf("lines not deduped: %q", got)
	}
	if !strings.Contains(got, "- Env: prod") {
		t.Errorf("table not compressed: %q", got)
	}
	if strings.Contains(got, "-----") {
		t.Errorf("decorative line survived: %q", got)
	}
}
