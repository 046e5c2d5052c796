/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "chainguard.dev/issueagent/agents/agenttrace"

func tracer() oteltrace.Tracer {
	return otel.Tracer(instrumentationName, oteltrace.WithInstrumentationVersion("1.0.0"))
}

// ToolCall represents a single executed tool within a trace
type ToolCall[T any] struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    string          `json:"result"`
	Error     error           `json:"error,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	trace     *Trace[T]
	mu        sync.Mutex
	span      oteltrace.Span
}

// Rejection is a tool call that was refused without executing.
type Rejection struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Time      time.Time       `json:"time"`
}

// Trace represents a complete agent run from prompt to outcome
type Trace[T any] struct {
	ID           string           `json:"id"`
	InputPrompt  string           `json:"input_prompt"`
	ExecContext  ExecutionContext `json:"exec_context,omitempty"`
	ToolCalls    []*ToolCall[T]   `json:"tool_calls"`
	Rejected     []Rejection      `json:"rejected,omitempty"`
	Model        string           `json:"model,omitempty"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	Result       T                `json:"result"`
	Error        error            `json:"error,omitempty"`
	StartTime    time.Time        `json:"start_time"`
	EndTime      time.Time        `json:"end_time"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	tracer       Tracer[T]
	mu           sync.Mutex
	ctx          context.Context
	span         oteltrace.Span
}

// newTraceWithTracer creates a new trace with the given tracer and prompt
func newTraceWithTracer[T any](ctx context.Context, tr Tracer[T], prompt string) *Trace[T] {
	execCtx := GetExecutionContext(ctx)

	attrs := append([]attribute.KeyValue{attribute.Int("agent.prompt_length", len(prompt))}, execCtx.spanAttributes()...)
	ctx, span := tracer().Start(ctx, "agent.run", oteltrace.WithAttributes(attrs...))

	return &Trace[T]{
		ID:          generateTraceID(),
		InputPrompt: prompt,
		ExecContext: execCtx,
		ToolCalls:   []*ToolCall[T]{},
		StartTime:   time.Now(),
		Metadata:    make(map[string]any),
		tracer:      tr,
		ctx:         ctx,
		span:        span,
	}
}

// Context returns a context carrying the trace's span, so that work done on
// behalf of the run nests under it.
func (t *Trace[T]) Context() context.Context {
	return t.ctx
}

// StartToolCall starts a new tool call and returns it
func (t *Trace[T]) StartToolCall(id, name string, args json.RawMessage) *ToolCall[T] {
	execCtx := GetExecutionContext(t.ctx)
	_, span := tracer().Start(t.ctx, "agent.tool_call", oteltrace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.id", id),
		attribute.Int("turn", execCtx.TurnNumber),
	))

	return &ToolCall[T]{
		ID:        id,
		Name:      name,
		Arguments: args,
		StartTime: time.Now(),
		trace:     t,
		span:      span,
	}
}

// RejectDuplicate records a call that was refused because an identical call
// already executed.
func (t *Trace[T]) RejectDuplicate(id, name string, args json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Rejected = append(t.Rejected, Rejection{ID: id, Name: name, Arguments: args, Time: time.Now()})
	if t.span != nil {
		t.span.AddEvent("agent.tool_call.duplicate", oteltrace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("tool.id", id),
		))
	}
}

// RecordTokenUsage adds one turn's token usage to the trace and updates
// the span attributes with the running totals.
func (t *Trace[T]) RecordTokenUsage(model string, inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Model = model
	t.InputTokens += inputTokens
	t.OutputTokens += outputTokens

	if t.span != nil {
		t.span.SetAttributes(
			attribute.String("model", model),
			attribute.Int64("tokens.input", t.InputTokens),
			attribute.Int64("tokens.output", t.OutputTokens),
			attribute.Int64("tokens.total", t.InputTokens+t.OutputTokens),
		)
	}
}

// Tokens returns the accumulated input and output tokens.
func (t *Trace[T]) Tokens() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.InputTokens, t.OutputTokens
}

// Complete marks the tool call as complete and adds it to the parent trace
func (tc *ToolCall[T]) Complete(result string, err error) {
	tc.mu.Lock()
	tc.Result = result
	tc.Error = err
	tc.EndTime = time.Now()
	trace := tc.trace
	span := tc.span
	tc.mu.Unlock()

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	trace.mu.Lock()
	defer trace.mu.Unlock()
	trace.ToolCalls = append(trace.ToolCalls, tc)
}

// Duration returns the duration of the tool call
func (tc *ToolCall[T]) Duration() time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.EndTime.IsZero() {
		return time.Since(tc.StartTime)
	}
	return tc.EndTime.Sub(tc.StartTime)
}

// Complete marks the trace as complete with the given result and records it
func (t *Trace[T]) Complete(result T, err error) {
	t.mu.Lock()
	t.Result = result
	t.Error = err
	t.EndTime = time.Now()
	tr := t.tracer
	span := t.span
	t.mu.Unlock()

	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	tr.RecordTrace(t)
}

// Duration returns the total duration of the trace
func (t *Trace[T]) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// String returns a structured representation of the trace
func (t *Trace[T]) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sb strings.Builder

	duration := time.Since(t.StartTime)
	if !t.EndTime.IsZero() {
		duration = t.EndTime.Sub(t.StartTime)
	}

	fmt.Fprintf(&sb, "=== Trace %s ===\n", t.ID)
	fmt.Fprintf(&sb, "Prompt: %q\n", truncate(t.InputPrompt, 200))
	fmt.Fprintf(&sb, "Duration: %v\n", duration)
	if t.Model != "" {
		fmt.Fprintf(&sb, "Model: %s (tokens in=%d out=%d)\n", t.Model, t.InputTokens, t.OutputTokens)
	}

	if len(t.ToolCalls) > 0 {
		fmt.Fprintf(&sb, "\nTool Calls (%d):\n", len(t.ToolCalls))
		for i, tc := range t.ToolCalls {
			fmt.Fprintf(&sb, "  [%d] %s (ID: %s)\n", i+1, tc.Name, tc.ID)
			fmt.Fprintf(&sb, "      Duration: %v\n", tc.EndTime.Sub(tc.StartTime))
			if len(tc.Arguments) > 0 {
				fmt.Fprintf(&sb, "      Arguments: %s\n", truncate(string(tc.Arguments), 200))
			}
			if tc.Error != nil {
				fmt.Fprintf(&sb, "      Error: %v\n", tc.Error)
			} else if tc.Result != "" {
				fmt.Fprintf(&sb, "      Result: %s\n", truncate(tc.Result, 200))
			}
		}
	} else {
		sb.WriteString("\nNo tool calls\n")
	}

	if len(t.Rejected) > 0 {
		fmt.Fprintf(&sb, "\nRejected Duplicates (%d):\n", len(t.Rejected))
		for i, r := range t.Rejected {
			fmt.Fprintf(&sb, "  [%d] %s (ID: %s)\n", i+1, r.Name, r.ID)
		}
	}

	sb.WriteString("\nCompletion:\n")
	switch {
	case t.Error != nil:
		fmt.Fprintf(&sb, "  Error: %v\n", t.Error)
	case any(t.Result) != nil:
		fmt.Fprintf(&sb, "  Result: %s\n", truncate(fmt.Sprintf("%v", t.Result), 500))
	default:
		sb.WriteString("  Result: <nil>\n")
	}

	if len(t.Metadata) > 0 {
		sb.WriteString("\nMetadata:\n")
		for k, v := range t.Metadata {
			fmt.Fprintf(&sb, "  %s: %v\n", k, v)
		}
	}

	return sb.String()
}

// generateTraceID generates a unique trace ID
func generateTraceID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102-150405.000000")
	}
	// YYYYMMDD-HHMMSS-RRRRRRRR
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), hex.EncodeToString(b))
}
