// Package heartware loads the file-based identity layer: markdown files
// describing who the assistant is, what the user prefers, and long-lived
// memories. The rest of the runtime consumes only the composed orientation
// block; edits on disk hot-reload through fsnotify.
package heartware

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Section files read from the heartware directory, in composition order.
var sectionFiles = []struct {
	file    string
	heading string
}{
	{"IDENTITY.md", "Identity"},
	{"PREFERENCES.md", "Preferences"},
	{"MEMORIES.md", "Memories"},
}

// Loader reads and caches the heartware directory. Safe for concurrent
// readers while a watch goroutine reloads.
type Loader struct {
	dir string

	mu       sync.RWMutex
	sections map[string]string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, sections: make(map[string]string)}
}

// Load reads all section files. Missing files are skipped, not errors; an
// empty directory composes to an empty block.
func (l *Loader) Load() error {
	if l.dir == "" {
		return nil
	}
	fresh := make(map[string]string, len(sectionFiles))
	for _, s := range sectionFiles {
		raw, err := os.ReadFile(filepath.Join(l.dir, s.file))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read heartware %s: %w", s.file, err)
		}
		if body := strings.TrimSpace(string(raw)); body != "" {
			fresh[s.file] = body
		}
	}

	l.mu.Lock()
	l.sections = fresh
	l.mu.Unlock()
	slog.Debug("heartware loaded", "dir", l.dir, "sections", len(fresh))
	return nil
}

// Compose renders the orientation block from the cached sections.
func (l *Loader) Compose() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var b strings.Builder
	for _, s := range sectionFiles {
		body, ok := l.sections[s.file]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", s.heading, body)
	}
	return b.String()
}

// Watch reloads on filesystem changes until ctx is done. It returns after
// the watcher is installed; reloads happen on a background goroutine.
func (l *Loader) Watch(ctx context.Context) error {
	if l.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("heartware watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch heartware dir %s: %w", l.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isSectionFile(ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := l.Load(); err != nil {
					slog.Warn("heartware reload failed", "error", err)
					continue
				}
				slog.Info("heartware reloaded", "file", filepath.Base(ev.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("heartware watcher error", "error", err)
			}
		}
	}()
	return nil
}

func isSectionFile(path string) bool {
	base := filepath.Base(path)
	for _, s := range sectionFiles {
		if base == s.file {
			return true
		}
	}
	return false
}
