/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package orchestrator runs one turn of the tool calling loop.
//
// A turn prepends the mode's instruction to the history, asks the provider
// for at most one tool call, and then does exactly one of three things:
//
//   - No tool call: nothing is appended. Only token usage changes.
//   - A call already in the run's call log: the tool is not executed. The
//     model receives a corrective tool result and the turn is not done.
//   - A new call: the tool executes through the registry, its record joins
//     the call log and the turn is done.
//
// In the last two cases the assistant message is appended before the tool
// result. Replies with several tool calls are cut down to the first one.
//
// # Usage
//
//	orch, err := orchestrator.New(p, registry, orchestrator.WithTurnTimeout(2*time.Minute))
//	res, err := orch.Turn(ctx, state, toolcall.ModeExplore, orchestrator.TurnContext{Branch: branch})
//	if err != nil {
//		// Provider errors, unknown tools and tool failures are fatal.
//	}
package orchestrator
