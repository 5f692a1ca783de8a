// Package agent drives one conversation turn to completion: the LLM emits
// either a final text response or tool invocations; tool outputs are fed
// back and the loop repeats until a final text, the iteration cap, or the
// overall timeout.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberlab/hearth/internal/providers"
	"github.com/emberlab/hearth/internal/tools"
	"github.com/emberlab/hearth/internal/tracing"
)

// DefaultMaxIterations is the per-run cap for sub-agent loops. The primary
// agent runs with a larger cap.
const DefaultMaxIterations = 10

const tracerName = "github.com/emberlab/hearth/internal/agent"

// Event is emitted during a run for streaming/broadcast consumers.
type Event struct {
	Type    string      `json:"type"` // "run.started", "run.completed", "tool.call", "tool.result"
	RunID   string      `json:"run_id"`
	Payload interface{} `json:"payload,omitempty"`
}

// Loop executes runs against one provider with one tool registry.
type Loop struct {
	provider      providers.Provider
	model         string
	maxIterations int
	tools         *tools.Registry
	tracer        trace.Tracer
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	Provider      providers.Provider
	Model         string
	MaxIterations int
	Tools         *tools.Registry
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		provider:      cfg.Provider,
		model:         cfg.Model,
		maxIterations: cfg.MaxIterations,
		tools:         cfg.Tools,
		tracer:        otel.Tracer(tracerName),
	}
}

// RunRequest is the input for one turn.
type RunRequest struct {
	RunID        string
	SystemPrompt string
	// Seed is the conversation so far plus the new user message.
	Seed []providers.Message
	// AllowedTools restricts the registry subset offered to the model.
	// nil means all tools, empty means none.
	AllowedTools []string
	// Timeout bounds the whole run, not a single iteration. Zero means
	// no explicit bound beyond ctx.
	Timeout time.Duration
	// MaxIterations overrides the loop default when > 0.
	MaxIterations int
	OnEvent       func(Event)
}

// RunResult is the outcome record of one turn. The loop never returns a Go
// error to its caller; failures are carried in Success and Response.
type RunResult struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	Iterations int    `json:"iterations"`
	ProviderID string `json:"provider_id"`
	// Messages is the transcript after the run: system prompt first, then
	// the seed and everything appended while iterating.
	Messages []providers.Message `json:"messages"`
	Usage    providers.Usage     `json:"usage"`
}

// Run processes one turn and blocks until it terminates.
func (l *Loop) Run(ctx context.Context, req RunRequest) *RunResult {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	ctx, span := l.tracer.Start(ctx, tracing.SpanAgentRun,
		trace.WithAttributes(
			attribute.String(tracing.AttrRunID, req.RunID),
			attribute.String("provider.id", l.provider.ID()),
		))
	defer span.End()

	l.emit(req, Event{Type: "run.started", RunID: req.RunID})

	result := l.runLoop(ctx, req)

	span.SetAttributes(
		attribute.Int("run.iterations", result.Iterations),
		attribute.Bool("run.success", result.Success),
	)
	l.emit(req, Event{Type: "run.completed", RunID: req.RunID, Payload: map[string]interface{}{
		"success":    result.Success,
		"iterations": result.Iterations,
	}})
	return result
}

func (l *Loop) runLoop(ctx context.Context, req RunRequest) *RunResult {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = l.maxIterations
	}

	messages := make([]providers.Message, 0, len(req.Seed)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Seed...)

	toolDefs := l.tools.FilteredDefs(req.AllowedTools)

	var totalUsage providers.Usage
	iteration := 0

	for iteration < maxIterations {
		if err := ctx.Err(); err != nil {
			return l.failed(req, "timed out", iteration, messages, totalUsage)
		}
		iteration++

		slog.Debug("agent iteration", "run", req.RunID, "iteration", iteration, "messages", len(messages))

		resp, err := l.chat(ctx, messages, toolDefs)
		if err != nil {
			if ctx.Err() != nil {
				return l.failed(req, "timed out", iteration, messages, totalUsage)
			}
			slog.Warn("provider call failed", "run", req.RunID, "iteration", iteration, "error", err)
			return l.failed(req, err.Error(), iteration, messages, totalUsage)
		}
		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
		}

		toolCalls := resp.ToolCalls
		content := resp.Content
		if len(toolCalls) == 0 {
			// Some models emit tool calls as JSON inside the text body.
			if extracted, preamble, ok := ExtractToolCalls(content); ok {
				toolCalls = extracted
				content = preamble
			}
		}

		if len(toolCalls) == 0 {
			messages = append(messages, providers.Message{Role: "assistant", Content: content})
			return &RunResult{
				Success:    true,
				Response:   content,
				Iterations: iteration,
				ProviderID: l.provider.ID(),
				Messages:   messages,
				Usage:      totalUsage,
			}
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   content,
			ToolCalls: toolCalls,
		})
		messages = append(messages, l.executeToolCalls(ctx, req, toolCalls)...)
	}

	return l.failed(req,
		fmt.Sprintf("reached maximum iterations (%d)", maxIterations),
		iteration, messages, totalUsage)
}

func (l *Loop) chat(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition) (*providers.ChatResponse, error) {
	ctx, span := l.tracer.Start(ctx, tracing.SpanChat,
		trace.WithAttributes(
			attribute.String(tracing.AttrModel, l.model),
			attribute.Int("chat.messages", len(messages)),
		))
	defer span.End()

	return l.provider.Chat(ctx, providers.ChatRequest{
		Messages: messages,
		Tools:    toolDefs,
		Model:    l.model,
		Options: map[string]interface{}{
			providers.OptMaxTokens:   8192,
			providers.OptTemperature: 0.7,
		},
	})
}

// executeToolCalls runs the calls and returns their role=tool messages in
// call order. Multiple calls run in parallel; tool failures and unknown
// tools become error-string results so the next iteration can recover.
func (l *Loop) executeToolCalls(ctx context.Context, req RunRequest, calls []providers.ToolCall) []providers.Message {
	type indexedResult struct {
		idx    int
		tc     providers.ToolCall
		result *tools.Result
	}

	for _, tc := range calls {
		l.emit(req, Event{Type: "tool.call", RunID: req.RunID,
			Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID}})
	}

	resultCh := make(chan indexedResult, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			resultCh <- indexedResult{idx: idx, tc: tc, result: l.executeOne(ctx, tc)}
		}(i, tc)
	}
	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexedResult, 0, len(calls))
	for r := range resultCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	msgs := make([]providers.Message, 0, len(collected))
	for _, r := range collected {
		if r.result.IsError {
			errMsg := r.result.ForLLM
			if len(errMsg) > 200 {
				errMsg = errMsg[:200] + "..."
			}
			slog.Warn("tool error", "run", req.RunID, "tool", r.tc.Name, "error", errMsg)
		}
		l.emit(req, Event{Type: "tool.result", RunID: req.RunID,
			Payload: map[string]interface{}{
				"name":     r.tc.Name,
				"id":       r.tc.ID,
				"is_error": r.result.IsError,
			}})
		msgs = append(msgs, providers.Message{
			Role:       "tool",
			Content:    r.result.ForLLM,
			ToolCallID: r.tc.ID,
		})
	}
	return msgs
}

// executeOne invokes a single tool, converting panics into error results.
func (l *Loop) executeOne(ctx context.Context, tc providers.ToolCall) (result *tools.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", tc.Name, "panic", r)
			result = tools.ErrorResult(fmt.Sprintf("Error: tool %s panicked: %v", tc.Name, r))
		}
	}()

	ctx, span := l.tracer.Start(ctx, tracing.SpanToolCall,
		trace.WithAttributes(attribute.String(tracing.AttrToolName, tc.Name)))
	defer span.End()

	argsJSON, _ := json.Marshal(tc.Arguments)
	start := time.Now()
	result = l.tools.Execute(ctx, tc.Name, tc.Arguments)
	slog.Info("tool call", "tool", tc.Name, "args_len", len(argsJSON),
		"duration", time.Since(start), "is_error", result.IsError)
	return result
}

func (l *Loop) failed(req RunRequest, response string, iterations int, messages []providers.Message, usage providers.Usage) *RunResult {
	return &RunResult{
		Success:    false,
		Response:   response,
		Iterations: iterations,
		ProviderID: l.provider.ID(),
		Messages:   messages,
		Usage:      usage,
	}
}

func (l *Loop) emit(req RunRequest, ev Event) {
	if req.OnEvent != nil {
		req.OnEvent(ev)
	}
}
