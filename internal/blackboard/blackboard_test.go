package blackboard

import (
	"errors"
	"testing"
	"time"

	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/store/sqlite"
)

func newTestBoard(t *testing.T) (*Board, *bus.Bus) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	b := bus.New(10)
	return New(db, b), b
}

func TestProposalLifecycle(t *testing.T) {
	board, b := newTestBoard(t)

	var topics []string
	b.SubscribeAny(func(ev bus.Event) { topics = append(topics, ev.Topic) })

	problemID, err := board.PostProblem("u1", "how should we cache the results?")
	if err != nil {
		t.Fatalf("PostProblem: %v", err)
	}

	// Confidence outside [0,1] is clamped.
	if _, err := board.AddProposal(problemID, "a1", "engineer", "use an LRU", 1.7); err != nil {
		t.Fatalf("AddProposal: %v", err)
	}
	if _, err := board.AddProposal(problemID, "a2", "researcher", "memoize per request", -0.2); err != nil {
		t.Fatalf("AddProposal: %v", err)
	}
	if _, err := board.AddProposal(problemID, "a3", "architect", "redis with ttl", 0.6); err != nil {
		t.Fatalf("AddProposal: %v", err)
	}

	proposals, err := board.GetProposals(problemID)
	if err != nil {
		t.Fatalf("GetProposals: %v", err)
	}
	if len(proposals) != 3 {
		t.Fatalf("got %d proposals, want 3", len(proposals))
	}
	if proposals[0].Confidence != 1 || proposals[2].Confidence != 0 {
		t.Errorf("clamping/order wrong: %+v", proposals)
	}
	for _, p := range proposals {
		if p.UserID != "u1" {
			t.Errorf("proposal did not inherit user: %+v", p)
		}
		if p.IsProblem() {
			t.Errorf("proposal flagged as root: %+v", p)
		}
	}

	active, err := board.GetActiveProblems("u1")
	if err != nil {
		t.Fatalf("GetActiveProblems: %v", err)
	}
	if len(active) != 1 || active[0].ProposalCount != 3 {
		t.Fatalf("active = %+v", active)
	}

	if err := board.Resolve(problemID, "synthesis: use redis with a short ttl"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	active, _ = board.GetActiveProblems("u1")
	if len(active) != 0 {
		t.Errorf("active after resolve = %+v", active)
	}
	// Proposals remain queryable after resolution.
	proposals, _ = board.GetProposals(problemID)
	if len(proposals) != 3 {
		t.Errorf("proposals after resolve = %d, want 3", len(proposals))
	}

	want := []string{
		bus.TopicBlackboardProposal,
		bus.TopicBlackboardProposal,
		bus.TopicBlackboardProposal,
		bus.TopicBlackboardResolved,
	}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v", topics)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topics[%d] = %q, want %q", i, topics[i], want[i])
		}
	}
}

func TestAddProposalUnknownRoot(t *testing.T) {
	board, _ := newTestBoard(t)

	entry, err := board.AddProposal("missing-problem", "a1", "engineer", "try anyway", 0.5)
	if err != nil {
		t.Fatalf("AddProposal: %v", err)
	}
	if entry.UserID != "unknown" {
		t.Errorf("UserID = %q, want unknown", entry.UserID)
	}
}

func TestResolveValidation(t *testing.T) {
	board, _ := newTestBoard(t)

	if err := board.Resolve("nope", "synthesis"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Resolve missing: got %v, want ErrNotFound", err)
	}

	problemID, err := board.PostProblem("u1", "problem")
	if err != nil {
		t.Fatalf("PostProblem: %v", err)
	}
	if err := board.Resolve(problemID, "first"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := board.Resolve(problemID, "second"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("double Resolve: got %v, want ErrNotFound", err)
	}
}

func TestCleanupRemovesResolvedWithProposals(t *testing.T) {
	board, _ := newTestBoard(t)

	problemID, err := board.PostProblem("u1", "old business")
	if err != nil {
		t.Fatalf("PostProblem: %v", err)
	}
	if _, err := board.AddProposal(problemID, "a1", "engineer", "idea", 0.5); err != nil {
		t.Fatalf("AddProposal: %v", err)
	}
	if err := board.Resolve(problemID, "settled"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	openID, err := board.PostProblem("u1", "still open")
	if err != nil {
		t.Fatalf("PostProblem: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	n, err := board.Cleanup(time.Millisecond)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup = %d, want 1", n)
	}

	proposals, _ := board.GetProposals(problemID)
	if len(proposals) != 0 {
		t.Errorf("proposals survived cleanup: %+v", proposals)
	}
	active, _ := board.GetActiveProblems("u1")
	if len(active) != 1 || active[0].ID != openID {
		t.Errorf("open problem affected: %+v", active)
	}
}
