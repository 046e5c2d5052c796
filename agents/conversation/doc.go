/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package conversation holds the state of a single agent run: the ordered,
// append-only message history, the log of tool calls that actually executed,
// and the running token usage.
//
// The only mutation of the history is AppendExchange, which appends an
// assistant message carrying exactly one tool call followed by the matching
// tool result:
//
//	st := conversation.New(system, user)
//	rec, _ := conversation.NewRecord(call.Name, call.Arguments)
//	if st.Seen(rec) {
//		// reject the call without executing it
//	}
//	err := st.AppendExchange(conversation.Exchange{
//		Assistant: conversation.AssistantMessage(text, call),
//		Result:    conversation.ToolResultMessage(call, output),
//		Executed:  &rec,
//	})
package conversation
