/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// ExecutionContext carries run-level metadata for spans and metrics.
type ExecutionContext struct {
	RunID       string `json:"run_id,omitempty"`       // "octo/hello#7"
	Repository  string `json:"repository,omitempty"`   // "octo/hello"
	IssueNumber int    `json:"issue_number,omitempty"` // issue being resolved
	Phase       string `json:"phase,omitempty"`        // run driver phase, e.g. "exploring"
	TurnNumber  int    `json:"turn_number,omitempty"`  // 1-based turn within the run
}

// EnrichAttributes adds execution context attributes to the provided base attributes.
//
// Only bounded labels are added. RunID and IssueNumber stay on spans, where
// cardinality is not a concern.
func (e ExecutionContext) EnrichAttributes(baseAttrs []attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, len(baseAttrs), len(baseAttrs)+3)
	copy(attrs, baseAttrs)

	if e.Repository != "" {
		attrs = append(attrs, attribute.String("repository", e.Repository))
	}
	if e.Phase != "" {
		attrs = append(attrs, attribute.String("phase", e.Phase))
	}
	attrs = append(attrs, attribute.Int("turn", e.TurnNumber))

	return attrs
}

// spanAttributes returns every non-empty field as a span attribute.
func (e ExecutionContext) spanAttributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if e.RunID != "" {
		attrs = append(attrs, attribute.String("run_id", e.RunID))
	}
	if e.Repository != "" {
		attrs = append(attrs, attribute.String("repository", e.Repository))
	}
	if e.IssueNumber != 0 {
		attrs = append(attrs, attribute.Int("issue_number", e.IssueNumber))
	}
	return attrs
}

type contextKey string

const executionContextKey contextKey = "execution_context"

// WithExecutionContext adds execution context to the Go context
func WithExecutionContext(ctx context.Context, execCtx ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey, execCtx)
}

// GetExecutionContext retrieves execution context from the Go context
func GetExecutionContext(ctx context.Context) ExecutionContext {
	if val := ctx.Value(executionContextKey); val != nil {
		if execCtx, ok := val.(ExecutionContext); ok {
			return execCtx
		}
	}
	return ExecutionContext{}
}

// WithTurn returns ctx with the phase and turn of its execution context replaced.
func WithTurn(ctx context.Context, phase string, turn int) context.Context {
	execCtx := GetExecutionContext(ctx)
	execCtx.Phase = phase
	execCtx.TurnNumber = turn
	return WithExecutionContext(ctx, execCtx)
}
