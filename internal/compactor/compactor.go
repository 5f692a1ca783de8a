// Package compactor folds old conversation history into a tiered summary
// when a user's message count crosses the threshold. The pipeline is
// deterministic pre-compression, message-level dedup, one LLM summarize
// call, tier derivation, then persist-and-delete. A failed summarize
// abandons the run; the threshold simply fires again next turn.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/providers"
	"github.com/emberlab/hearth/internal/store"
	"github.com/emberlab/hearth/internal/tracing"
)

const tracerName = "github.com/emberlab/hearth/internal/compactor"

// Trigger defaults.
const (
	DefaultThreshold  = 60
	DefaultKeepRecent = 20
)

const summarizeSystemPrompt = `Summarize the conversation below for long-term memory. Preserve, in this order of importance: facts about the user (name, identity, preferences), decisions and corrections, and open tasks or action items. Drop pleasantries and repetition. Write plain compact prose and bullet lists. Stay under %d tokens.`

// Compactor runs the compaction pipeline for one store/provider pair.
type Compactor struct {
	messages    store.MessageStore
	compactions store.CompactionStore
	provider    providers.Provider
	model       string
	bus         *bus.Bus

	threshold  int
	keepRecent int
	budgets    TierBudgets
	similarity float64
	stripEmoji bool
}

// Config configures a Compactor.
type Config struct {
	Messages    store.MessageStore
	Compactions store.CompactionStore
	Provider    providers.Provider
	Model       string
	Bus         *bus.Bus

	Threshold  int
	KeepRecent int
	Budgets    TierBudgets
	Similarity float64
	StripEmoji bool
}

func New(cfg Config) *Compactor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultKeepRecent
	}
	if cfg.Budgets == (TierBudgets{}) {
		cfg.Budgets = DefaultTierBudgets()
	}
	if cfg.Similarity <= 0 {
		cfg.Similarity = DefaultSimilarityThreshold
	}
	return &Compactor{
		messages:    cfg.Messages,
		compactions: cfg.Compactions,
		provider:    cfg.Provider,
		model:       cfg.Model,
		bus:         cfg.Bus,
		threshold:   cfg.Threshold,
		keepRecent:  cfg.KeepRecent,
		budgets:     cfg.Budgets,
		similarity:  cfg.Similarity,
		stripEmoji:  cfg.StripEmoji,
	}
}

// Stats reports one compaction run.
type Stats struct {
	MessagesBefore     int     `json:"messages_before"`
	MessagesSummarized int     `json:"messages_summarized"`
	MessagesKept       int     `json:"messages_kept"`
	TokensBefore       int     `json:"tokens_before"`
	TokensAfter        int     `json:"tokens_after"`
	CompressionRatio   float64 `json:"compression_ratio"`
	DedupGroupsRemoved int     `json:"dedup_groups_removed"`
	DurationMS         int64   `json:"duration_ms"`
}

// Tiers is the derived summary at each budget.
type Tiers struct {
	L2 string
	L1 string
	L0 string
}

// Check runs compaction if the user's history crossed the threshold.
// Returns nil stats when below threshold. Errors abandon the run without
// deleting anything.
func (c *Compactor) Check(ctx context.Context, userID string) (*Stats, error) {
	count, err := c.messages.CountMessages(userID)
	if err != nil {
		return nil, err
	}
	if count < c.threshold {
		return nil, nil
	}
	return c.compact(ctx, userID, count)
}

func (c *Compactor) compact(ctx context.Context, userID string, count int) (*Stats, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, tracing.SpanCompaction,
		trace.WithAttributes(tracing.UserAttrs(userID)...))
	defer span.End()

	start := time.Now()

	all, err := c.messages.RecentMessages(userID, 0)
	if err != nil {
		return nil, err
	}
	if len(all) <= c.keepRecent {
		return nil, nil
	}
	old := all[:len(all)-c.keepRecent]
	cutoff := all[len(all)-c.keepRecent].CreatedAt

	stats := &Stats{
		MessagesBefore:     count,
		MessagesSummarized: len(old),
		MessagesKept:       c.keepRecent,
	}

	bodies := make([]string, len(old))
	for i, m := range old {
		stats.TokensBefore += EstimateTokens(m.Content)
		bodies[i] = m.Role + ": " + PreCompress(m.Content, c.stripEmoji)
	}
	bodies, stats.DedupGroupsRemoved = DedupeBodies(bodies, c.similarity)

	summary, err := c.summarize(ctx, strings.Join(bodies, "\n\n"))
	if err != nil {
		slog.Warn("compaction abandoned", "user", userID, "error", err)
		return nil, err
	}

	tiers := c.deriveTiers(summary)
	stats.TokensAfter = EstimateTokens(tiers.L2)
	if stats.TokensBefore > 0 {
		stats.CompressionRatio = float64(stats.TokensAfter) / float64(stats.TokensBefore)
	}

	record := &store.Compaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Summary:        tiers.L2,
		ReplacedBefore: cutoff,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := c.compactions.InsertCompaction(record); err != nil {
		return nil, err
	}
	if _, err := c.messages.DeleteMessagesBefore(userID, cutoff); err != nil {
		return nil, err
	}

	stats.DurationMS = time.Since(start).Milliseconds()
	slog.Info("history compacted",
		"user", userID,
		"summarized", stats.MessagesSummarized,
		"kept", stats.MessagesKept,
		"ratio", fmt.Sprintf("%.3f", stats.CompressionRatio),
		"dedup_removed", stats.DedupGroupsRemoved,
		"duration_ms", stats.DurationMS,
	)
	if c.bus != nil {
		c.bus.Emit(bus.TopicMemoryConsolidated, userID, stats)
	}
	return stats, nil
}

// summarize makes the single no-tools LLM call. Empty output is an error;
// the caller abandons the run.
func (c *Compactor) summarize(ctx context.Context, text string) (string, error) {
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: fmt.Sprintf(summarizeSystemPrompt, c.budgets.L2)},
			{Role: "user", Content: text},
		},
		Model: c.model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   c.budgets.L2 * 2,
			providers.OptTemperature: 0.3,
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("summarize history: provider returned empty summary")
	}
	return summary, nil
}

func (c *Compactor) deriveTiers(summary string) Tiers {
	l2 := TruncateToTokens(summary, c.budgets.L2)
	return Tiers{
		L2: l2,
		L1: DeriveTier(l2, c.budgets.L1),
		L0: DeriveTier(l2, c.budgets.L0),
	}
}

// LatestSummary returns the newest compaction summary for a user, or ""
// when none exists.
func (c *Compactor) LatestSummary(userID string) (string, error) {
	rec, err := c.compactions.LatestCompaction(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return rec.Summary, nil
}
