/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package conversation

import (
	"errors"
	"fmt"
)

// Usage is a count of model tokens.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// IsZero reports whether no tokens were counted.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// Exchange is the pair of messages produced by a turn that returned a tool
// call. Executed is non-nil only when the tool actually ran.
type Exchange struct {
	Assistant Message
	Result    Message
	Executed  *Record
}

// ErrDuplicateRecord is returned when an exchange claims to have executed a
// call that is already in the log.
var ErrDuplicateRecord = errors.New("tool call already executed in this run")

// State is the conversation for a single run. It is not safe for
// concurrent use; a run owns its state.
type State struct {
	messages []Message
	calls    CallLog
	usage    Usage
	done     bool
}

// New creates a state holding exactly one system and one user message.
func New(system, user string) *State {
	return &State{
		messages: []Message{SystemMessage(system), UserMessage(user)},
	}
}

// Messages returns a copy of the history.
func (s *State) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the history.
func (s *State) Len() int {
	return len(s.messages)
}

// Calls returns the executed calls in order.
func (s *State) Calls() []Record {
	return s.calls.Records()
}

// Seen reports whether r already executed in this run.
func (s *State) Seen(r Record) bool {
	return s.calls.Contains(r)
}

// Usage returns the accumulated token usage.
func (s *State) Usage() Usage {
	return s.usage
}

// AddUsage accumulates token usage.
func (s *State) AddUsage(u Usage) {
	s.usage = s.usage.Add(u)
}

// EmptyTurn accounts a turn in which the model called no tool. The history
// and call log are untouched and Done becomes false.
func (s *State) EmptyTurn(u Usage) {
	s.usage = s.usage.Add(u)
	s.done = false
}

// Done reports whether the most recent turn executed a tool.
func (s *State) Done() bool {
	return s.done
}

// AppendExchange appends the assistant message and then the tool result.
// When x.Executed is set the record joins the call log and Done becomes
// true; otherwise Done becomes false.
func (s *State) AppendExchange(x Exchange) error {
	if x.Assistant.Role != RoleAssistant {
		return fmt.Errorf("first message of an exchange has role %q, want %q", x.Assistant.Role, RoleAssistant)
	}
	if x.Assistant.ToolCall == nil {
		return errors.New("assistant message carries no tool call")
	}
	if x.Result.Role != RoleTool {
		return fmt.Errorf("second message of an exchange has role %q, want %q", x.Result.Role, RoleTool)
	}
	if x.Result.ToolCallID != x.Assistant.ToolCall.ID {
		return fmt.Errorf("tool result answers %q, want %q", x.Result.ToolCallID, x.Assistant.ToolCall.ID)
	}
	if x.Executed != nil && s.calls.Contains(*x.Executed) {
		return fmt.Errorf("%s: %w", x.Executed.Tool, ErrDuplicateRecord)
	}

	s.messages = append(s.messages, x.Assistant, x.Result)
	if x.Executed != nil {
		s.calls.Add(*x.Executed)
		s.done = true
	} else {
		s.done = false
	}
	return nil
}
