package heartware

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAndCompose(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IDENTITY.md", "A calm local assistant.")
	writeFile(t, dir, "PREFERENCES.md", "Short answers.\nMetric units.")
	writeFile(t, dir, "NOTES.md", "irrelevant file")

	l := NewLoader(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := l.Compose()
	if !strings.Contains(got, "## Identity\nA calm local assistant.") {
		t.Errorf("identity section missing:\n%s", got)
	}
	if !strings.Contains(got, "## Preferences\nShort answers.") {
		t.Errorf("preferences section missing:\n%s", got)
	}
	if strings.Contains(got, "Memories") {
		t.Errorf("absent section rendered:\n%s", got)
	}
	if strings.Contains(got, "irrelevant") {
		t.Errorf("unknown file included:\n%s", got)
	}
}

func TestComposeSectionOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "MEMORIES.md", "Knows Go.")
	writeFile(t, dir, "IDENTITY.md", "Helper.")

	l := NewLoader(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := l.Compose()
	if strings.Index(got, "## Identity") > strings.Index(got, "## Memories") {
		t.Errorf("sections out of order:\n%s", got)
	}
}

func TestEmptyDirAndNoDir(t *testing.T) {
	l := NewLoader(t.TempDir())
	if err := l.Load(); err != nil {
		t.Fatalf("Load empty dir: %v", err)
	}
	if got := l.Compose(); got != "" {
		t.Errorf("Compose = %q, want empty", got)
	}

	none := NewLoader("")
	if err := none.Load(); err != nil {
		t.Fatalf("Load with no dir: %v", err)
	}
	if got := none.Compose(); got != "" {
		t.Errorf("Compose with no dir = %q", got)
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "IDENTITY.md", "before")

	l := NewLoader(dir)
	if err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Watch(ctx); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, dir, "IDENTITY.md", "after")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(l.Compose(), "after") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("reload did not pick up change: %q", l.Compose())
}
