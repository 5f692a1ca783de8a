package store

// Stores is the top-level container for all storage backends. One concrete
// implementation (sqlite) backs every interface; components declare the
// subset they consume.
type Stores struct {
	Messages    MessageStore
	SubAgents   SubAgentStore
	Templates   TemplateStore
	Tasks       TaskStore
	Compactions CompactionStore
	Blackboard  BlackboardStore
	Metrics     MetricStore
	Memory      MemoryStore
}

// MessageStore persists conversation messages. Sub-agent conversations
// reuse the same table under the synthetic user ID "subagent:<agent_id>".
type MessageStore interface {
	// SaveMessage appends a message; created_at is stamped strictly
	// increasing per user within the process.
	SaveMessage(userID, role, content string) (*Message, error)

	// RecentMessages returns up to limit most-recent messages, oldest
	// first. limit <= 0 means no limit.
	RecentMessages(userID string, limit int) ([]Message, error)

	CountMessages(userID string) (int, error)

	// DeleteMessagesBefore removes the user's messages with
	// created_at < cutoff and returns the count removed.
	DeleteMessagesBefore(userID string, cutoff int64) (int, error)

	// DeleteAllMessages removes every message for a user (kill cascade).
	DeleteAllMessages(userID string) (int, error)
}

// SubAgentStore persists sub-agent records.
type SubAgentStore interface {
	// InsertSubAgent creates the record, enforcing the per-user active
	// cap. Returns ErrLimitExceeded when the cap would be violated.
	InsertSubAgent(a *SubAgent, maxActive int) error

	GetSubAgent(id string) (*SubAgent, error)

	// ListSubAgents returns the user's agents with any of the given
	// statuses, most recently active first. Empty statuses means all.
	ListSubAgents(userID string, statuses ...string) ([]SubAgent, error)

	UpdateSubAgent(a *SubAgent) error

	// HardDeleteSubAgent removes the row outright.
	HardDeleteSubAgent(id string) error

	// PurgeSoftDeleted hard-deletes soft_deleted agents whose deleted_at
	// is before cutoff. Returns the count removed.
	PurgeSoftDeleted(cutoff int64) (int, error)
}

// TemplateStore persists role templates.
type TemplateStore interface {
	// InsertTemplate creates the record, enforcing the per-user cap.
	InsertTemplate(t *Template, maxPerUser int) error

	GetTemplate(id string) (*Template, error)
	ListTemplates(userID string) ([]Template, error)
	UpdateTemplate(t *Template) error
	DeleteTemplate(id string) error
}

// TaskStore persists background task rows.
type TaskStore interface {
	InsertTask(t *BackgroundTask) error
	GetTask(id string) (*BackgroundTask, error)

	// CompleteTask transitions running → completed/failed with the result
	// text and stamps completed_at.
	CompleteTask(id, status, result string) error

	// MarkDelivered transitions completed/failed → delivered.
	MarkDelivered(id string) error

	// ListUndelivered returns completed/failed tasks with no delivered_at,
	// oldest first.
	ListUndelivered(userID string) ([]BackgroundTask, error)

	// FailStale marks running tasks started before cutoff as failed with
	// the given reason. Returns the count updated.
	FailStale(cutoff int64, reason string) (int, error)
}

// CompactionStore persists compaction records.
type CompactionStore interface {
	InsertCompaction(c *Compaction) error

	// LatestCompaction returns the newest compaction for a user, or
	// ErrNotFound.
	LatestCompaction(userID string) (*Compaction, error)
}

// BlackboardStore persists the shared problem space.
type BlackboardStore interface {
	InsertBlackboardEntry(e *BlackboardEntry) error
	GetBlackboardEntry(id string) (*BlackboardEntry, error)

	// ListProposals returns the proposals for a problem (root excluded),
	// highest confidence first.
	ListProposals(problemID string) ([]BlackboardEntry, error)

	// ResolveProblem sets the root entry's status to resolved and stores
	// the synthesis.
	ResolveProblem(problemID, synthesis string) error

	// ListOpenProblems returns the user's open root problems with live
	// proposal counts.
	ListOpenProblems(userID string) ([]ProblemSummary, error)

	// PurgeResolved hard-deletes resolved roots (and their proposals)
	// created before cutoff. Returns the count of roots removed.
	PurgeResolved(cutoff int64) (int, error)
}

// MetricStore records task metrics for adaptive timeout estimation.
type MetricStore interface {
	InsertMetric(m *TaskMetric) error

	// RecentMetrics returns up to limit most-recent metrics matching
	// task type and tier (empty matches any), newest first.
	RecentMetrics(taskType, tier string, limit int) ([]TaskMetric, error)
}

// MemoryStore holds per-user key/value facts plus an episodic full-text
// index. The episodic search is available to outer layers but unused by
// the orchestration core.
type MemoryStore interface {
	SetMemory(userID, key, value string) (*MemoryEntry, error)
	GetMemory(userID, key string) (*MemoryEntry, error)
	ListMemories(userID string) ([]MemoryEntry, error)

	// SearchEpisodic runs a full-text query over the episodic index.
	SearchEpisodic(userID, query string, limit int) ([]MemoryEntry, error)
}
