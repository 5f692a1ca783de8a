// Package store defines the durable entities of the runtime and the narrow
// interfaces each component consumes. The concrete backend is an embedded
// SQL engine (internal/store/sqlite); a single process owns the store and
// all implementations must be safe for concurrent callers.
package store

import "fmt"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Sub-agent statuses.
const (
	AgentActive      = "active"
	AgentSuspended   = "suspended"
	AgentSoftDeleted = "soft_deleted"
)

// Background task statuses.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskDelivered = "delivered"
)

// Blackboard statuses.
const (
	BlackboardOpen     = "open"
	BlackboardResolved = "resolved"
)

// SubagentUserID returns the synthetic user ID under which a sub-agent's
// conversation is stored in the messages table.
func SubagentUserID(agentID string) string {
	return fmt.Sprintf("subagent:%s", agentID)
}

// Message is one conversation message. Immutable once written.
// CreatedAt is epoch milliseconds, strictly increasing per user.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// SubAgent is a persistent specialized agent owned by a user.
type SubAgent struct {
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	Role             string   `json:"role"`
	SystemPrompt     string   `json:"system_prompt"` // frozen at creation
	ToolsGranted     []string `json:"tools_granted"`
	TierPreference   string   `json:"tier_preference,omitempty"`
	Status           string   `json:"status"`
	PerformanceScore float64  `json:"performance_score"`
	TotalTasks       int      `json:"total_tasks"`
	SuccessfulTasks  int      `json:"successful_tasks"`
	TemplateID       string   `json:"template_id,omitempty"`
	CreatedAt        int64    `json:"created_at"`
	LastActiveAt     int64    `json:"last_active_at"`
	DeletedAt        *int64   `json:"deleted_at,omitempty"` // non-nil iff soft_deleted
}

// Template is a reusable role specification.
type Template struct {
	ID              string   `json:"id"`
	UserID          string   `json:"user_id"`
	Name            string   `json:"name"`
	RoleDescription string   `json:"role_description"`
	DefaultTools    []string `json:"default_tools"`
	DefaultTier     string   `json:"default_tier,omitempty"`
	TimesUsed       int      `json:"times_used"`
	AvgPerformance  float64  `json:"avg_performance"`
	Tags            []string `json:"tags"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}

// BackgroundTask is one fire-and-forget delegated run.
type BackgroundTask struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	AgentID         string `json:"agent_id"`
	TaskDescription string `json:"task_description"`
	Status          string `json:"status"`
	Result          string `json:"result,omitempty"`
	StartedAt       int64  `json:"started_at"`
	CompletedAt     *int64 `json:"completed_at,omitempty"`
	DeliveredAt     *int64 `json:"delivered_at,omitempty"`
}

// Compaction records one folded summary of old conversation history.
// Messages with created_at < ReplacedBefore were deleted when it was written.
type Compaction struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Summary        string `json:"summary"` // full-tier (L2) text
	ReplacedBefore int64  `json:"replaced_before"`
	CreatedAt      int64  `json:"created_at"`
}

// BlackboardEntry stores both shapes of the blackboard table: a problem
// (ID == ProblemID, agent fields empty) and a proposal (ProblemID points at
// the root problem).
type BlackboardEntry struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	ProblemID   string  `json:"problem_id"`
	ProblemText string  `json:"problem_text,omitempty"`
	AgentID     string  `json:"agent_id,omitempty"`
	AgentRole   string  `json:"agent_role,omitempty"`
	Proposal    string  `json:"proposal,omitempty"`
	Confidence  float64 `json:"confidence"`
	Status      string  `json:"status"`
	Synthesis   string  `json:"synthesis,omitempty"`
	CreatedAt   int64   `json:"created_at"`
}

// IsProblem reports whether the entry is a root problem.
func (e *BlackboardEntry) IsProblem() bool { return e.ID == e.ProblemID }

// ProblemSummary is an open problem with its live proposal count.
type ProblemSummary struct {
	BlackboardEntry
	ProposalCount int `json:"proposal_count"`
}

// TaskMetric is an append-only record of one completed run, used to
// estimate future timeouts by tier and task type.
type TaskMetric struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	TaskType   string `json:"task_type"`
	Tier       string `json:"tier,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Iterations int    `json:"iterations"`
	Success    bool   `json:"success"`
	CreatedAt  int64  `json:"created_at"`
}

// MemoryEntry is one key/value fact about a user. (user_id, key) is unique.
type MemoryEntry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}
