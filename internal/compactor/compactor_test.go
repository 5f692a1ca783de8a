package compactor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/providers"
	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/store/sqlite"
)

type summaryProvider struct {
	summary string
	err     error
	calls   int
}

func (p *summaryProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(req.Tools) != 0 {
		return nil, errors.New("summarize call must not carry tools")
	}
	return &providers.ChatResponse{Content: p.summary, FinishReason: "stop"}, nil
}

func (p *summaryProvider) ID() string      { return "summary" }
func (p *summaryProvider) Name() string    { return "Summary" }
func (p *summaryProvider) Available() bool { return true }

func seedMessages(t *testing.T, db *sqlite.DB, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		if _, err := db.SaveMessage(userID, role, fmt.Sprintf("message number %d with some content", i)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
}

func newTestCompactor(t *testing.T, provider providers.Provider) (*Compactor, *sqlite.DB, *bus.Bus) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	b := bus.New(10)
	c := New(Config{
		Messages:    db,
		Compactions: db,
		Provider:    provider,
		Bus:         b,
		Threshold:   30,
		KeepRecent:  10,
	})
	return c, db, b
}

func TestCheckBelowThresholdNoop(t *testing.T) {
	provider := &summaryProvider{summary: "sum"}
	c, db, _ := newTestCompactor(t, provider)
	seedMessages(t, db, "u1", 29)

	stats, err := c.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if stats != nil {
		t.Errorf("stats = %+v, want nil below threshold", stats)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times below threshold", provider.calls)
	}
}

func TestCheckCompactsAtThreshold(t *testing.T) {
	provider := &summaryProvider{summary: "The user is testing compaction.\nDecision: keep going."}
	c, db, b := newTestCompactor(t, provider)

	var consolidated []bus.Event
	b.Subscribe(bus.TopicMemoryConsolidated, func(ev bus.Event) {
		consolidated = append(consolidated, ev)
	})

	seedMessages(t, db, "u1", 30)

	stats, err := c.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if stats == nil {
		t.Fatal("stats = nil, want a run")
	}
	if stats.MessagesBefore != 30 || stats.MessagesSummarized != 20 || stats.MessagesKept != 10 {
		t.Errorf("stats = %+v", stats)
	}

	// Only the recent window survives.
	count, _ := db.CountMessages("u1")
	if count != 10 {
		t.Errorf("remaining messages = %d, want 10", count)
	}
	remaining, _ := db.RecentMessages("u1", 0)
	if remaining[0].Content != "message number 20 with some content" {
		t.Errorf("oldest survivor = %q", remaining[0].Content)
	}

	// The record carries the summary and the cutoff.
	rec, err := db.LatestCompaction("u1")
	if err != nil {
		t.Fatalf("LatestCompaction: %v", err)
	}
	if rec.Summary != provider.summary {
		t.Errorf("Summary = %q", rec.Summary)
	}
	if rec.ReplacedBefore != remaining[0].CreatedAt {
		t.Errorf("ReplacedBefore = %d, want %d", rec.ReplacedBefore, remaining[0].CreatedAt)
	}

	if len(consolidated) != 1 {
		t.Errorf("memory:consolidated events = %d, want 1", len(consolidated))
	}

	// Under threshold again: next check is a no-op.
	stats, err = c.Check(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if stats != nil {
		t.Errorf("second stats = %+v, want nil", stats)
	}
}

func TestCheckAbandonsOnProviderFailure(t *testing.T) {
	provider := &summaryProvider{err: errors.New("summarize backend down")}
	c, db, b := newTestCompactor(t, provider)

	var consolidated int
	b.Subscribe(bus.TopicMemoryConsolidated, func(bus.Event) { consolidated++ })

	seedMessages(t, db, "u1", 35)

	_, err := c.Check(context.Background(), "u1")
	if err == nil {
		t.Fatal("Check succeeded with failing provider")
	}

	// Nothing deleted, nothing recorded, no event.
	count, _ := db.CountMessages("u1")
	if count != 35 {
		t.Errorf("messages = %d, want 35 untouched", count)
	}
	if _, err := db.LatestCompaction("u1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LatestCompaction: got %v, want ErrNotFound", err)
	}
	if consolidated != 0 {
		t.Errorf("memory:consolidated fired %d times", consolidated)
	}
}

func TestCheckAbandonsOnEmptySummary(t *testing.T) {
	provider := &summaryProvider{summary: "   "}
	c, db, _ := newTestCompactor(t, provider)
	seedMessages(t, db, "u1", 35)

	if _, err := c.Check(context.Background(), "u1"); err == nil {
		t.Fatal("Check succeeded with empty summary")
	}
	count, _ := db.CountMessages("u1")
	if count != 35 {
		t.Errorf("messages = %d, want 35 untouched", count)
	}
}

func TestLatestSummary(t *testing.T) {
	provider := &summaryProvider{summary: "a compact summary"}
	c, db, _ := newTestCompactor(t, provider)

	got, err := c.LatestSummary("u1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "" {
		t.Errorf("LatestSummary before compaction = %q", got)
	}

	seedMessages(t, db, "u1", 30)
	if _, err := c.Check(context.Background(), "u1"); err != nil {
		t.Fatalf("Check: %v", err)
	}

	got, err = c.LatestSummary("u1")
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got != "a compact summary" {
		t.Errorf("LatestSummary = %q", got)
	}
}
