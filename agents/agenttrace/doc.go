/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package agenttrace provides tracing for agent runs.

# Overview

  - ExecutionContext: run-level metadata (repository, issue, phase, turn) for span and metric enrichment
  - Trace[T]: one agent run from the issue prompt to its outcome
  - ToolCall[T]: one executed tool within a trace
  - Tracer[T]: creates traces and receives them when they complete

Every trace opens an OpenTelemetry span, and every tool call opens a child
span, so a run can be followed in any OTLP backend without extra wiring.

# Usage

Set execution context for trace enrichment:

	ctx = agenttrace.WithExecutionContext(ctx, agenttrace.ExecutionContext{
		RunID:       "octo/hello#7",
		Repository:  "octo/hello",
		IssueNumber: 7,
	})

Create and use traces:

	tracer := agenttrace.ByCode[*Outcome](func(trace *agenttrace.Trace[*Outcome]) {
		log.Printf("Trace completed: %s", trace.ID)
	})
	ctx = agenttrace.WithTracer[*Outcome](ctx, tracer)

	trace := agenttrace.StartTrace[*Outcome](ctx, issuePrompt)
	tc := trace.StartToolCall("call_1", "get_file_content", args)
	tc.Complete(output, nil)
	trace.RejectDuplicate("call_2", "get_file_content", args)
	trace.Complete(outcome, nil)
*/
package agenttrace
