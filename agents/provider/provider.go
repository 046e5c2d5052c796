/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package provider

import (
	"context"
	"strings"
	"time"

	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/toolcall"
)

// Request is one model call.
type Request struct {
	// Messages is the full history, led by one or more system messages.
	Messages []conversation.Message

	// Tools are the definitions visible in the active mode.
	Tools []toolcall.Definition

	// SingleToolCall asks the provider to return at most one tool call.
	SingleToolCall bool

	// Timeout bounds the call when non-zero.
	Timeout time.Duration
}

// Response is the model's reply.
type Response struct {
	Text      string
	ToolCalls []conversation.ToolCall
	Usage     conversation.Usage
}

// Interface is implemented by every model provider.
type Interface interface {
	// Model returns the model name used for metrics and traces.
	Model() string

	// Complete performs one model call.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// TokenCounter is implemented by providers that can count prompt tokens
// through their API.
type TokenCounter interface {
	CountTokens(ctx context.Context, messages []conversation.Message) (int64, error)
}

// Factory returns the provider for one run. Stateless providers can be
// shared between runs; stateful ones such as the assistants provider
// return a fresh instance per call.
type Factory func() (Interface, error)

// Shared returns a Factory that always hands out p.
func Shared(p Interface) Factory {
	return func() (Interface, error) { return p, nil }
}

// SplitSystem separates the leading system messages from the rest of the
// history and joins them with blank lines. Most APIs take the system
// prompt out of band.
func SplitSystem(messages []conversation.Message) (string, []conversation.Message) {
	var parts []string
	i := 0
	for ; i < len(messages) && messages[i].Role == conversation.RoleSystem; i++ {
		parts = append(parts, messages[i].Content)
	}
	return strings.Join(parts, "\n\n"), messages[i:]
}

// WithTimeout applies req.Timeout to ctx.
func WithTimeout(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, req.Timeout)
}
