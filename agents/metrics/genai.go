/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI provides OpenTelemetry metrics for agent runs: token usage, tool
// calls, rejected duplicate calls, truncated multi-call responses, turns and
// run outcomes. Counters that fail to initialize degrade to no-ops.
type GenAI struct {
	meter            metric.Meter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	toolCallCounter  metric.Int64Counter
	duplicateCounter metric.Int64Counter
	truncatedCounter metric.Int64Counter
	turnCounter      metric.Int64Counter
	runCounter       metric.Int64Counter
	runDuration      metric.Float64Histogram
	attrEnricher     AttributeEnricher
}

// NewGenAI creates a new GenAI metrics instance with the specified meter name.
// The model name is recorded as a dimension so one meter serves every provider.
func NewGenAI(meterName string) *GenAI {
	meter := otel.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	counter := func(name, description, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
		if err != nil {
			slog.Warn("Failed to create counter, metric will be disabled", "error", err, "meter", meterName, "counter", name)
			return noop.Int64Counter{}
		}
		return c
	}

	runDuration, err := meter.Float64Histogram("genai.run.duration",
		metric.WithDescription("Wall-clock duration of agent runs"),
		metric.WithUnit("s"))
	if err != nil {
		slog.Warn("Failed to create run duration histogram, metric will be disabled", "error", err, "meter", meterName)
		runDuration = noop.Float64Histogram{}
	}

	return &GenAI{
		meter:            meter,
		promptTokens:     counter("genai.token.prompt", "The number of prompt tokens used", "{tokens}"),
		completionTokens: counter("genai.token.completion", "The number of completion tokens used", "{tokens}"),
		toolCallCounter:  counter("genai.tool.calls", "The number of tool calls executed", "{calls}"),
		duplicateCounter: counter("genai.tool.duplicates", "The number of tool calls rejected as duplicates", "{calls}"),
		truncatedCounter: counter("genai.tool.truncated", "The number of responses that requested more than one tool call", "{responses}"),
		turnCounter:      counter("genai.turns", "The number of orchestrator turns", "{turns}"),
		runCounter:       counter("genai.runs", "The number of finished agent runs by outcome", "{runs}"),
		runDuration:      runDuration,
	}
}

// SetAttributeEnricher sets the attribute enricher for this metrics instance.
// The enricher is called before recording each metric to add contextual attributes.
func (m *GenAI) SetAttributeEnricher(enricher AttributeEnricher) {
	m.attrEnricher = enricher
}

func (m *GenAI) attributes(ctx context.Context, base []attribute.KeyValue, attrs []attribute.KeyValue) metric.MeasurementOption {
	if m.attrEnricher != nil {
		base = m.attrEnricher(ctx, base)
	}
	return metric.WithAttributes(append(base, attrs...)...)
}

// RecordTokens records prompt and completion token usage.
func (m *GenAI) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64, attrs ...attribute.KeyValue) {
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("model", model)}, attrs)
	m.promptTokens.Add(ctx, promptTokens, opt)
	m.completionTokens.Add(ctx, completionTokens, opt)
}

// RecordToolCall records an executed tool.
func (m *GenAI) RecordToolCall(ctx context.Context, model, toolName string, attrs ...attribute.KeyValue) {
	m.toolCallCounter.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("tool", toolName),
	}, attrs))
}

// RecordDuplicate records a tool call that was rejected without executing.
func (m *GenAI) RecordDuplicate(ctx context.Context, model, toolName string, attrs ...attribute.KeyValue) {
	m.duplicateCounter.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("tool", toolName),
	}, attrs))
}

// RecordTruncated records a response whose extra tool calls were dropped.
func (m *GenAI) RecordTruncated(ctx context.Context, model string, dropped int, attrs ...attribute.KeyValue) {
	m.truncatedCounter.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.Int("dropped", dropped),
	}, attrs))
}

// RecordTurn records one orchestrator turn in mode.
func (m *GenAI) RecordTurn(ctx context.Context, model, mode string, attrs ...attribute.KeyValue) {
	m.turnCounter.Add(ctx, 1, m.attributes(ctx, []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("mode", mode),
	}, attrs))
}

// RecordRun records a finished run and its duration in seconds.
func (m *GenAI) RecordRun(ctx context.Context, outcome string, seconds float64, attrs ...attribute.KeyValue) {
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("outcome", outcome)}, attrs)
	m.runCounter.Add(ctx, 1, opt)
	m.runDuration.Record(ctx, seconds, opt)
}
