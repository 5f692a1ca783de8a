// Package tracing wires optional OpenTelemetry trace export. When telemetry
// is disabled the provider is a noop and every span call is free.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/emberlab/hearth/internal/config"
)

const tracerName = "hearth"

// Span names used across the runtime.
const (
	SpanTurn       = "hearth.orchestrator.turn"
	SpanAgentRun   = "hearth.agent.run"
	SpanChat       = "hearth.agent.chat"
	SpanToolCall   = "hearth.tool.call"
	SpanCompaction = "hearth.compactor.fold"
	SpanDelegation = "hearth.delegation.dispatch"
)

// Attribute keys.
const (
	AttrUserID   = "hearth.user_id"
	AttrAgentID  = "hearth.agent_id"
	AttrTaskID   = "hearth.task_id"
	AttrRunID    = "hearth.run_id"
	AttrToolName = "hearth.tool_name"
	AttrModel    = "hearth.model"
)

// Provider wraps the configured tracer. A zero-value Provider is not valid;
// use Setup.
type Provider struct {
	sdk    *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Setup builds a Provider from config. Disabled telemetry yields a noop
// tracer with a nil SDK, so Shutdown is trivially safe.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(tracerName)}, nil
	}

	opts := []otlptracehttp.Option{}
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = tracerName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(sdk)

	return &Provider{sdk: sdk, tracer: sdk.Tracer(tracerName)}, nil
}

// Shutdown flushes and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Tracer returns the underlying tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// StartSpan opens a span with the given attributes.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// UserAttrs tags a span with the owning user.
func UserAttrs(userID string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrUserID, userID)}
}

// TaskAttrs tags a span with a background task and its agent.
func TaskAttrs(taskID, agentID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrAgentID, agentID),
	}
}
