/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"

	"github.com/chainguard-dev/clog"
)

// NewDefaultTracer creates a new default tracer that logs to clog
func NewDefaultTracer[T any](ctx context.Context) Tracer[T] {
	logger := clog.FromContext(ctx)

	return ByCode[T](func(trace *Trace[T]) {
		in, out := trace.Tokens()
		logger.With(
			"trace_id", trace.ID,
			"duration_ms", trace.Duration().Milliseconds(),
			"tool_calls", len(trace.ToolCalls),
			"rejected_calls", len(trace.Rejected),
			"tokens_input", in,
			"tokens_output", out,
		).Info("Agent trace completed", "trace", trace.String())
	})
}
