// Package blackboard is the shared problem space: the primary agent posts
// a problem, sub-agents contribute scored proposals, and a synthesis
// resolves it. Entries persist after resolution until retention cleanup.
package blackboard

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/store"
)

// synthesisPreviewLen bounds the synthesis text carried on the resolved
// event payload.
const synthesisPreviewLen = 200

// Board implements blackboard operations.
type Board struct {
	entries store.BlackboardStore
	bus     *bus.Bus
}

func New(entries store.BlackboardStore, b *bus.Bus) *Board {
	return &Board{entries: entries, bus: b}
}

// PostProblem opens a new root problem and returns its ID.
func (b *Board) PostProblem(userID, problem string) (string, error) {
	if userID == "" || problem == "" {
		return "", fmt.Errorf("post problem: user_id and problem are required")
	}

	id := uuid.NewString()
	entry := &store.BlackboardEntry{
		ID:          id,
		UserID:      userID,
		ProblemID:   id,
		ProblemText: problem,
		Status:      store.BlackboardOpen,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := b.entries.InsertBlackboardEntry(entry); err != nil {
		return "", err
	}
	slog.Info("problem posted", "problem", id, "user", userID)
	return id, nil
}

// AddProposal stores a sub-agent's proposal against a problem. Confidence
// is clamped to [0,1]; user_id is inherited from the root problem. Emits
// blackboard:proposal.
func (b *Board) AddProposal(problemID, agentID, agentRole, proposal string, confidence float64) (*store.BlackboardEntry, error) {
	if problemID == "" || proposal == "" {
		return nil, fmt.Errorf("add proposal: problem_id and proposal are required")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	userID := "unknown"
	if root, err := b.entries.GetBlackboardEntry(problemID); err == nil {
		userID = root.UserID
	}

	entry := &store.BlackboardEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		ProblemID:  problemID,
		AgentID:    agentID,
		AgentRole:  agentRole,
		Proposal:   proposal,
		Confidence: confidence,
		Status:     store.BlackboardOpen,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := b.entries.InsertBlackboardEntry(entry); err != nil {
		return nil, err
	}

	slog.Debug("proposal added", "problem", problemID, "agent", agentID, "confidence", confidence)
	b.emit(bus.TopicBlackboardProposal, userID, map[string]interface{}{
		"problem_id": problemID,
		"agent_id":   agentID,
		"agent_role": agentRole,
		"confidence": confidence,
	})
	return entry, nil
}

// GetProposals returns a problem's proposals, highest confidence first.
func (b *Board) GetProposals(problemID string) ([]store.BlackboardEntry, error) {
	return b.entries.ListProposals(problemID)
}

// Resolve closes a problem with a synthesis. Proposals stay queryable.
// Emits blackboard:resolved with a truncated synthesis preview.
func (b *Board) Resolve(problemID, synthesis string) error {
	if err := b.entries.ResolveProblem(problemID, synthesis); err != nil {
		return err
	}

	root, err := b.entries.GetBlackboardEntry(problemID)
	if err != nil {
		return err
	}
	preview := synthesis
	if len(preview) > synthesisPreviewLen {
		preview = preview[:synthesisPreviewLen] + "..."
	}
	slog.Info("problem resolved", "problem", problemID, "user", root.UserID)
	b.emit(bus.TopicBlackboardResolved, root.UserID, map[string]interface{}{
		"problem_id": problemID,
		"synthesis":  preview,
	})
	return nil
}

// GetActiveProblems returns the user's open problems with live proposal
// counts.
func (b *Board) GetActiveProblems(userID string) ([]store.ProblemSummary, error) {
	return b.entries.ListOpenProblems(userID)
}

// Cleanup hard-deletes resolved problems (with their proposals) older
// than the cutoff and returns the count of roots removed.
func (b *Board) Cleanup(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	n, err := b.entries.PurgeResolved(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("resolved problems purged", "count", n)
	}
	return n, nil
}

func (b *Board) emit(topic, userID string, data interface{}) {
	if b.bus != nil {
		b.bus.Emit(topic, userID, data)
	}
}
