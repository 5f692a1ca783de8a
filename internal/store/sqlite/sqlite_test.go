package sqlite

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/emberlab/hearth/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndRecentMessages(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 5; i++ {
		if _, err := db.SaveMessage("u1", store.RoleUser, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}
	if _, err := db.SaveMessage("u2", store.RoleUser, "other user"); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	msgs, err := db.RecentMessages("u1", 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Oldest first within the window, so the 3 most recent are 2,3,4.
	for i, want := range []string{"msg 2", "msg 3", "msg 4"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d].Content = %q, want %q", i, msgs[i].Content, want)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt <= msgs[i-1].CreatedAt {
			t.Errorf("created_at not strictly increasing: %d then %d",
				msgs[i-1].CreatedAt, msgs[i].CreatedAt)
		}
	}

	n, err := db.CountMessages("u1")
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 5 {
		t.Errorf("CountMessages = %d, want 5", n)
	}
}

func TestDeleteMessages(t *testing.T) {
	db := openTestDB(t)

	var cutoff int64
	for i := 0; i < 4; i++ {
		m, err := db.SaveMessage("u1", store.RoleUser, fmt.Sprintf("msg %d", i))
		if err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
		if i == 2 {
			cutoff = m.CreatedAt
		}
	}

	removed, err := db.DeleteMessagesBefore("u1", cutoff)
	if err != nil {
		t.Fatalf("DeleteMessagesBefore: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d messages, want 2", removed)
	}

	removed, err = db.DeleteAllMessages("u1")
	if err != nil {
		t.Fatalf("DeleteAllMessages: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d messages, want 2", removed)
	}
}

func newSubAgent(userID, role string) *store.SubAgent {
	now := time.Now().UnixMilli()
	return &store.SubAgent{
		ID:               uuid.NewString(),
		UserID:           userID,
		Role:             role,
		SystemPrompt:     "You are " + role + ".",
		ToolsGranted:     []string{"web_search", "read_file"},
		Status:           store.AgentActive,
		PerformanceScore: 0.5,
		CreatedAt:        now,
		LastActiveAt:     now,
	}
}

func TestSubAgentActiveCap(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.InsertSubAgent(newSubAgent("u1", fmt.Sprintf("role %d", i)), 3); err != nil {
			t.Fatalf("InsertSubAgent %d: %v", i, err)
		}
	}

	err := db.InsertSubAgent(newSubAgent("u1", "one too many"), 3)
	if !errors.Is(err, store.ErrLimitExceeded) {
		t.Fatalf("InsertSubAgent over cap: got %v, want ErrLimitExceeded", err)
	}

	// Other users are not affected by the cap.
	if err := db.InsertSubAgent(newSubAgent("u2", "researcher"), 3); err != nil {
		t.Fatalf("InsertSubAgent other user: %v", err)
	}
}

func TestSubAgentLifecycle(t *testing.T) {
	db := openTestDB(t)

	a := newSubAgent("u1", "researcher")
	if err := db.InsertSubAgent(a, 10); err != nil {
		t.Fatalf("InsertSubAgent: %v", err)
	}

	got, err := db.GetSubAgent(a.ID)
	if err != nil {
		t.Fatalf("GetSubAgent: %v", err)
	}
	if got.Role != "researcher" || len(got.ToolsGranted) != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.DeletedAt != nil {
		t.Errorf("DeletedAt = %v, want nil", *got.DeletedAt)
	}

	deleted := time.Now().UnixMilli()
	got.Status = store.AgentSoftDeleted
	got.DeletedAt = &deleted
	if err := db.UpdateSubAgent(got); err != nil {
		t.Fatalf("UpdateSubAgent: %v", err)
	}

	got, err = db.GetSubAgent(a.ID)
	if err != nil {
		t.Fatalf("GetSubAgent after update: %v", err)
	}
	if got.Status != store.AgentSoftDeleted || got.DeletedAt == nil {
		t.Errorf("tombstone not persisted: %+v", got)
	}

	n, err := db.PurgeSoftDeleted(deleted + 1)
	if err != nil {
		t.Fatalf("PurgeSoftDeleted: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := db.GetSubAgent(a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSubAgent after purge: got %v, want ErrNotFound", err)
	}
}

func TestListSubAgentsByStatus(t *testing.T) {
	db := openTestDB(t)

	active := newSubAgent("u1", "active one")
	if err := db.InsertSubAgent(active, 10); err != nil {
		t.Fatalf("InsertSubAgent: %v", err)
	}
	suspended := newSubAgent("u1", "suspended one")
	suspended.Status = store.AgentSuspended
	if err := db.InsertSubAgent(suspended, 10); err != nil {
		t.Fatalf("InsertSubAgent: %v", err)
	}

	got, err := db.ListSubAgents("u1", store.AgentActive)
	if err != nil {
		t.Fatalf("ListSubAgents: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("filtered list = %+v, want just the active agent", got)
	}

	all, err := db.ListSubAgents("u1")
	if err != nil {
		t.Fatalf("ListSubAgents all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered list has %d agents, want 2", len(all))
	}
}

func newTemplate(userID, name string) *store.Template {
	now := time.Now().UnixMilli()
	return &store.Template{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            name,
		RoleDescription: name + " who does things",
		DefaultTools:    []string{"web_search"},
		AvgPerformance:  0.5,
		Tags:            []string{"general"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestTemplateCapAndCRUD(t *testing.T) {
	db := openTestDB(t)

	tpl := newTemplate("u1", "researcher")
	if err := db.InsertTemplate(tpl, 2); err != nil {
		t.Fatalf("InsertTemplate: %v", err)
	}
	if err := db.InsertTemplate(newTemplate("u1", "writer"), 2); err != nil {
		t.Fatalf("InsertTemplate: %v", err)
	}
	if err := db.InsertTemplate(newTemplate("u1", "over cap"), 2); !errors.Is(err, store.ErrLimitExceeded) {
		t.Fatalf("InsertTemplate over cap: got %v, want ErrLimitExceeded", err)
	}

	tpl.TimesUsed = 3
	tpl.AvgPerformance = 0.8
	if err := db.UpdateTemplate(tpl); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	got, err := db.GetTemplate(tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.TimesUsed != 3 || got.AvgPerformance != 0.8 {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := db.DeleteTemplate(tpl.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if err := db.DeleteTemplate(tpl.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteTemplate twice: got %v, want ErrNotFound", err)
	}

	list, err := db.ListTemplates("u1")
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list has %d templates, want 1", len(list))
	}
}

func newTask(userID, agentID string) *store.BackgroundTask {
	return &store.BackgroundTask{
		ID:              uuid.NewString(),
		UserID:          userID,
		AgentID:         agentID,
		TaskDescription: "summarize the report",
		Status:          store.TaskRunning,
		StartedAt:       time.Now().UnixMilli(),
	}
}

func TestTaskStateMachine(t *testing.T) {
	db := openTestDB(t)

	task := newTask("u1", "a1")
	if err := db.InsertTask(task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	if err := db.CompleteTask(task.ID, store.TaskCompleted, "done"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	// Completing twice is a no-op error; the row already left running.
	if err := db.CompleteTask(task.ID, store.TaskFailed, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CompleteTask twice: got %v, want ErrNotFound", err)
	}

	got, err := db.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.TaskCompleted || got.Result != "done" || got.CompletedAt == nil {
		t.Errorf("completed task = %+v", got)
	}

	if err := db.MarkDelivered(task.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	got, _ = db.GetTask(task.ID)
	if got.Status != store.TaskDelivered || got.DeliveredAt == nil {
		t.Errorf("delivered task = %+v", got)
	}
}

func TestListUndeliveredOrdering(t *testing.T) {
	db := openTestDB(t)

	first := newTask("u1", "a1")
	second := newTask("u1", "a2")
	running := newTask("u1", "a3")
	for _, task := range []*store.BackgroundTask{first, second, running} {
		if err := db.InsertTask(task); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}
	if err := db.CompleteTask(first.ID, store.TaskCompleted, "first result"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := db.CompleteTask(second.ID, store.TaskFailed, "second failed"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	undelivered, err := db.ListUndelivered("u1")
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}
	if len(undelivered) != 2 {
		t.Fatalf("got %d undelivered, want 2", len(undelivered))
	}
	if undelivered[0].ID != first.ID || undelivered[1].ID != second.ID {
		t.Errorf("undelivered out of order: %s then %s", undelivered[0].ID, undelivered[1].ID)
	}

	if err := db.MarkDelivered(first.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	undelivered, _ = db.ListUndelivered("u1")
	if len(undelivered) != 1 || undelivered[0].ID != second.ID {
		t.Errorf("after delivery: %+v", undelivered)
	}
}

func TestFailStale(t *testing.T) {
	db := openTestDB(t)

	stale := newTask("u1", "a1")
	stale.StartedAt = time.Now().Add(-time.Hour).UnixMilli()
	fresh := newTask("u1", "a2")
	for _, task := range []*store.BackgroundTask{stale, fresh} {
		if err := db.InsertTask(task); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}

	n, err := db.FailStale(time.Now().Add(-time.Minute).UnixMilli(), "task timed out")
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if n != 1 {
		t.Errorf("failed %d tasks, want 1", n)
	}
	got, _ := db.GetTask(stale.ID)
	if got.Status != store.TaskFailed || got.Result != "task timed out" {
		t.Errorf("stale task = %+v", got)
	}
	got, _ = db.GetTask(fresh.ID)
	if got.Status != store.TaskRunning {
		t.Errorf("fresh task = %+v", got)
	}
}

func TestLatestCompaction(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.LatestCompaction("u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LatestCompaction empty: got %v, want ErrNotFound", err)
	}

	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		c := &store.Compaction{
			ID:             uuid.NewString(),
			UserID:         "u1",
			Summary:        fmt.Sprintf("summary %d", i),
			ReplacedBefore: base + int64(i),
			CreatedAt:      base + int64(i),
		}
		if err := db.InsertCompaction(c); err != nil {
			t.Fatalf("InsertCompaction: %v", err)
		}
	}

	latest, err := db.LatestCompaction("u1")
	if err != nil {
		t.Fatalf("LatestCompaction: %v", err)
	}
	if latest.Summary != "summary 2" {
		t.Errorf("latest.Summary = %q, want %q", latest.Summary, "summary 2")
	}
}

func TestBlackboardProposalsAndResolve(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UnixMilli()
	problemID := uuid.NewString()
	problem := &store.BlackboardEntry{
		ID:          problemID,
		UserID:      "u1",
		ProblemID:   problemID,
		ProblemText: "how to cache results",
		Status:      store.BlackboardOpen,
		CreatedAt:   now,
	}
	if err := db.InsertBlackboardEntry(problem); err != nil {
		t.Fatalf("InsertBlackboardEntry: %v", err)
	}

	confidences := []float64{0.4, 0.9, 0.7}
	for i, c := range confidences {
		p := &store.BlackboardEntry{
			ID:         uuid.NewString(),
			UserID:     "u1",
			ProblemID:  problemID,
			AgentID:    fmt.Sprintf("a%d", i),
			AgentRole:  "engineer",
			Proposal:   fmt.Sprintf("proposal %d", i),
			Confidence: c,
			Status:     store.BlackboardOpen,
			CreatedAt:  now + int64(i),
		}
		if err := db.InsertBlackboardEntry(p); err != nil {
			t.Fatalf("InsertBlackboardEntry proposal: %v", err)
		}
	}

	proposals, err := db.ListProposals(problemID)
	if err != nil {
		t.Fatalf("ListProposals: %v", err)
	}
	if len(proposals) != 3 {
		t.Fatalf("got %d proposals, want 3", len(proposals))
	}
	for i := 1; i < len(proposals); i++ {
		if proposals[i].Confidence > proposals[i-1].Confidence {
			t.Errorf("proposals not in confidence order: %v", proposals)
		}
	}

	open, err := db.ListOpenProblems("u1")
	if err != nil {
		t.Fatalf("ListOpenProblems: %v", err)
	}
	if len(open) != 1 || open[0].ProposalCount != 3 {
		t.Fatalf("open problems = %+v", open)
	}

	if err := db.ResolveProblem(problemID, "use an LRU"); err != nil {
		t.Fatalf("ResolveProblem: %v", err)
	}
	if err := db.ResolveProblem(problemID, "again"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ResolveProblem twice: got %v, want ErrNotFound", err)
	}

	root, err := db.GetBlackboardEntry(problemID)
	if err != nil {
		t.Fatalf("GetBlackboardEntry: %v", err)
	}
	if root.Status != store.BlackboardResolved || root.Synthesis != "use an LRU" {
		t.Errorf("resolved root = %+v", root)
	}
	if !root.IsProblem() {
		t.Error("root.IsProblem() = false")
	}

	open, _ = db.ListOpenProblems("u1")
	if len(open) != 0 {
		t.Errorf("open problems after resolve = %+v", open)
	}

	purged, err := db.PurgeResolved(now + 10)
	if err != nil {
		t.Fatalf("PurgeResolved: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged %d roots, want 1", purged)
	}
	if got, _ := db.ListProposals(problemID); len(got) != 0 {
		t.Errorf("proposals survived purge: %+v", got)
	}
}

func TestMetricsRoundTrip(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().UnixMilli()
	for i := 0; i < 4; i++ {
		m := &store.TaskMetric{
			ID:         uuid.NewString(),
			UserID:     "u1",
			TaskType:   "research",
			Tier:       "standard",
			DurationMS: int64(1000 * (i + 1)),
			Iterations: i + 1,
			Success:    i%2 == 0,
			CreatedAt:  base + int64(i),
		}
		if err := db.InsertMetric(m); err != nil {
			t.Fatalf("InsertMetric: %v", err)
		}
	}

	metrics, err := db.RecentMetrics("research", "standard", 2)
	if err != nil {
		t.Fatalf("RecentMetrics: %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("got %d metrics, want 2", len(metrics))
	}
	// Newest first.
	if metrics[0].DurationMS != 4000 || metrics[1].DurationMS != 3000 {
		t.Errorf("metrics out of order: %+v", metrics)
	}
	if metrics[0].Success {
		t.Error("metrics[0].Success = true, want false")
	}

	none, err := db.RecentMetrics("writing", "", 10)
	if err != nil {
		t.Fatalf("RecentMetrics other type: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d metrics for unknown type, want 0", len(none))
	}
}

func TestMemoryUpsertAndSearch(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.SetMemory("u1", "favorite_language", "Go"); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}
	if _, err := db.SetMemory("u1", "favorite_language", "still Go"); err != nil {
		t.Fatalf("SetMemory upsert: %v", err)
	}
	if _, err := db.SetMemory("u1", "editor", "helix"); err != nil {
		t.Fatalf("SetMemory: %v", err)
	}

	got, err := db.GetMemory("u1", "favorite_language")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Value != "still Go" {
		t.Errorf("Value = %q, want %q", got.Value, "still Go")
	}

	all, err := db.ListMemories("u1")
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListMemories has %d entries, want 2", len(all))
	}

	hits, err := db.SearchEpisodic("u1", "helix", 5)
	if err != nil {
		t.Fatalf("SearchEpisodic: %v", err)
	}
	if len(hits) != 1 || hits[0].Key != "editor" {
		t.Errorf("SearchEpisodic = %+v", hits)
	}

	if _, err := db.GetMemory("u1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMemory missing: got %v, want ErrNotFound", err)
	}
}

func TestStoresContainer(t *testing.T) {
	db := openTestDB(t)
	s := db.Stores()
	if s.Messages == nil || s.SubAgents == nil || s.Templates == nil || s.Tasks == nil ||
		s.Compactions == nil || s.Blackboard == nil || s.Metrics == nil || s.Memory == nil {
		t.Fatal("Stores() left a nil backend")
	}
}
