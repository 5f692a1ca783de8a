// Package subagents owns the lifecycle of persistent specialized agents:
// creation against a per-user cap, reuse matching, suspension, soft delete
// with retention, revival, and the kill cascade over their conversations.
package subagents

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/match"
	"github.com/emberlab/hearth/internal/store"
)

const (
	// MaxActivePerUser caps concurrently active sub-agents per user.
	MaxActivePerUser = 10

	// ReuseThreshold is the minimum hybrid match score for reusing an
	// existing active sub-agent instead of creating a new one. Kept low
	// enough that synonym-heavy rephrasings of the same specialty reuse
	// the agent rather than spawning a near-duplicate.
	ReuseThreshold = 0.45

	// MaxMessages bounds the conversation window loaded for a sub-agent.
	MaxMessages = 100

	// SoftDeleteRetention is how long dismissed agents stay revivable.
	SoftDeleteRetention = 14 * 24 * time.Hour
)

// focusedInstruction is appended to every sub-agent system prompt.
const focusedInstruction = `You are a focused sub-agent. Work only on the tasks you are given, within your role. Be direct and thorough; report results plainly. Do not take on work outside your role.`

// OrientationFunc supplies the orientation block (user identity,
// preferences, memories, compacted context) for a user's sub-agents.
type OrientationFunc func(userID string) string

// Manager implements sub-agent lifecycle operations.
type Manager struct {
	agents      store.SubAgentStore
	messages    store.MessageStore
	bus         *bus.Bus
	matcher     *match.Matcher
	orientation OrientationFunc
	maxActive   int
}

// Config configures a Manager. Orientation may be nil; creation then uses
// an empty orientation block.
type Config struct {
	Agents      store.SubAgentStore
	Messages    store.MessageStore
	Bus         *bus.Bus
	Matcher     *match.Matcher
	Orientation OrientationFunc
	MaxActive   int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = MaxActivePerUser
	}
	if cfg.Matcher == nil {
		cfg.Matcher = match.New()
	}
	return &Manager{
		agents:      cfg.Agents,
		messages:    cfg.Messages,
		bus:         cfg.Bus,
		matcher:     cfg.Matcher,
		orientation: cfg.Orientation,
		maxActive:   cfg.MaxActive,
	}
}

// CreateSpec describes a new sub-agent.
type CreateSpec struct {
	UserID         string
	Role           string
	ToolsGranted   []string
	TierPreference string
	TemplateID     string
}

// Create builds and persists a new active sub-agent. The system prompt is
// frozen at creation: orientation, then the role, then the focused
// instruction. Emits agent:created.
func (m *Manager) Create(spec CreateSpec) (*store.SubAgent, error) {
	if spec.UserID == "" || spec.Role == "" {
		return nil, fmt.Errorf("create sub-agent: user_id and role are required")
	}

	now := time.Now().UnixMilli()
	agent := &store.SubAgent{
		ID:               uuid.NewString(),
		UserID:           spec.UserID,
		Role:             spec.Role,
		SystemPrompt:     m.buildSystemPrompt(spec.UserID, spec.Role),
		ToolsGranted:     spec.ToolsGranted,
		TierPreference:   spec.TierPreference,
		Status:           store.AgentActive,
		PerformanceScore: 0.5,
		TemplateID:       spec.TemplateID,
		CreatedAt:        now,
		LastActiveAt:     now,
	}

	if err := m.agents.InsertSubAgent(agent, m.maxActive); err != nil {
		return nil, err
	}

	slog.Info("sub-agent created", "agent", agent.ID, "user", spec.UserID, "role", spec.Role)
	m.emit(bus.TopicAgentCreated, spec.UserID, agent)
	return agent, nil
}

func (m *Manager) buildSystemPrompt(userID, role string) string {
	orientation := ""
	if m.orientation != nil {
		orientation = m.orientation(userID)
	}
	prompt := orientation
	if prompt != "" {
		prompt += "\n\n"
	}
	return prompt + "## Your Role\n" + role + "\n\n" + focusedInstruction
}

func (m *Manager) Get(agentID string) (*store.SubAgent, error) {
	return m.agents.GetSubAgent(agentID)
}

// ListActive returns the user's active and suspended agents, most recently
// active first.
func (m *Manager) ListActive(userID string) ([]store.SubAgent, error) {
	return m.agents.ListSubAgents(userID, store.AgentActive, store.AgentSuspended)
}

// List returns the user's agents; includeDeleted adds soft-deleted ones.
func (m *Manager) List(userID string, includeDeleted bool) ([]store.SubAgent, error) {
	if includeDeleted {
		return m.agents.ListSubAgents(userID)
	}
	return m.ListActive(userID)
}

// FindReusable matches requestedRole against the user's active agents and
// returns the best scorer at or above ReuseThreshold, or nil.
func (m *Manager) FindReusable(userID, requestedRole string) (*store.SubAgent, error) {
	agents, err := m.agents.ListSubAgents(userID, store.AgentActive)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}

	candidates := make([]match.Candidate, len(agents))
	for i := range agents {
		candidates[i] = match.Candidate{Text: agents[i].Role, Value: &agents[i]}
	}
	best, score, ok := m.matcher.FindBest(requestedRole, candidates)
	if !ok || score < ReuseThreshold {
		return nil, nil
	}

	agent := best.Value.(*store.SubAgent)
	slog.Debug("reusable sub-agent found", "agent", agent.ID, "role", agent.Role, "score", score)
	return agent, nil
}

// RecordTaskResult folds one task outcome into the agent's rolling stats.
func (m *Manager) RecordTaskResult(agentID string, success bool) error {
	agent, err := m.agents.GetSubAgent(agentID)
	if err != nil {
		return err
	}
	agent.TotalTasks++
	if success {
		agent.SuccessfulTasks++
	}
	agent.PerformanceScore = float64(agent.SuccessfulTasks) / float64(agent.TotalTasks)
	agent.LastActiveAt = time.Now().UnixMilli()
	return m.agents.UpdateSubAgent(agent)
}

// Suspend pauses an agent without deleting it.
func (m *Manager) Suspend(agentID string) error {
	agent, err := m.agents.GetSubAgent(agentID)
	if err != nil {
		return err
	}
	agent.Status = store.AgentSuspended
	return m.agents.UpdateSubAgent(agent)
}

// Resume reactivates a suspended agent.
func (m *Manager) Resume(agentID string) error {
	agent, err := m.agents.GetSubAgent(agentID)
	if err != nil {
		return err
	}
	if agent.Status != store.AgentSuspended {
		return fmt.Errorf("resume sub-agent %s: status is %s, not %s",
			agentID, agent.Status, store.AgentSuspended)
	}
	agent.Status = store.AgentActive
	agent.LastActiveAt = time.Now().UnixMilli()
	return m.agents.UpdateSubAgent(agent)
}

// Dismiss soft-deletes an agent. It stays revivable until retention
// cleanup removes it. Emits agent:dismissed.
func (m *Manager) Dismiss(agentID string) error {
	agent, err := m.agents.GetSubAgent(agentID)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	agent.Status = store.AgentSoftDeleted
	agent.DeletedAt = &now
	if err := m.agents.UpdateSubAgent(agent); err != nil {
		return err
	}

	slog.Info("sub-agent dismissed", "agent", agentID, "user", agent.UserID)
	m.emit(bus.TopicAgentDismissed, agent.UserID, agent)
	return nil
}

// Revive restores a soft-deleted agent to active. Emits agent:revived.
func (m *Manager) Revive(agentID string) (*store.SubAgent, error) {
	agent, err := m.agents.GetSubAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != store.AgentSoftDeleted {
		return nil, fmt.Errorf("revive sub-agent %s: status is %s, not %s",
			agentID, agent.Status, store.AgentSoftDeleted)
	}
	agent.Status = store.AgentActive
	agent.DeletedAt = nil
	agent.LastActiveAt = time.Now().UnixMilli()
	if err := m.agents.UpdateSubAgent(agent); err != nil {
		return nil, err
	}

	slog.Info("sub-agent revived", "agent", agentID, "user", agent.UserID)
	m.emit(bus.TopicAgentRevived, agent.UserID, agent)
	return agent, nil
}

// Kill removes an agent outright: its conversation messages first, then
// the row itself.
func (m *Manager) Kill(agentID string) error {
	agent, err := m.agents.GetSubAgent(agentID)
	if err != nil {
		return err
	}
	if _, err := m.messages.DeleteAllMessages(store.SubagentUserID(agentID)); err != nil {
		return err
	}
	if err := m.agents.HardDeleteSubAgent(agentID); err != nil {
		return err
	}
	slog.Info("sub-agent killed", "agent", agentID, "user", agent.UserID)
	return nil
}

// Cleanup hard-deletes soft-deleted agents past the retention window and
// returns the count removed.
func (m *Manager) Cleanup(retention time.Duration) (int, error) {
	if retention <= 0 {
		retention = SoftDeleteRetention
	}
	cutoff := time.Now().Add(-retention).UnixMilli()
	n, err := m.agents.PurgeSoftDeleted(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("expired sub-agents purged", "count", n)
	}
	return n, nil
}

// GetMessages loads the agent's conversation, oldest first, capped at
// MaxMessages.
func (m *Manager) GetMessages(agentID string, limit int) ([]store.Message, error) {
	if limit <= 0 || limit > MaxMessages {
		limit = MaxMessages
	}
	return m.messages.RecentMessages(store.SubagentUserID(agentID), limit)
}

// SaveMessage appends to the agent's conversation.
func (m *Manager) SaveMessage(agentID, role, content string) (*store.Message, error) {
	return m.messages.SaveMessage(store.SubagentUserID(agentID), role, content)
}

func (m *Manager) emit(topic, userID string, data interface{}) {
	if m.bus != nil {
		m.bus.Emit(topic, userID, data)
	}
}
