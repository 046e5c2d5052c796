/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/provider/retry"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/chainguard-dev/clog"
)

const name = "claude"

// Provider calls the Anthropic Messages API.
type Provider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	retry       retry.Config
}

var (
	_ provider.Interface    = (*Provider)(nil)
	_ provider.TokenCounter = (*Provider)(nil)
)

// New creates a Provider.
func New(client anthropic.Client, opts ...Option) (*Provider, error) {
	p := &Provider{
		client:      client,
		model:       "claude-sonnet-4-5",
		maxTokens:   8192,
		temperature: 0.1,
		retry:       retry.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return p, nil
}

// Model implements provider.Interface.
func (p *Provider) Model() string { return p.model }

// Complete implements provider.Interface.
func (p *Provider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	ctx, cancel := provider.WithTimeout(ctx, req)
	defer cancel()

	system, history := provider.SplitSystem(req.Messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Messages:    toMessages(history),
		Temperature: anthropic.Float(p.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: toTool(def)})
		}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfAuto: &anthropic.ToolChoiceAutoParam{
				DisableParallelToolUse: anthropic.Bool(req.SingleToolCall),
			},
		}
	}

	msg, err := retry.Do(ctx, p.retry, "claude_messages", isRetryable, func(ctx context.Context) (*anthropic.Message, error) {
		return p.client.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, provider.Wrap(name, err)
	}
	if msg == nil || len(msg.Content) == 0 {
		return nil, provider.Empty(name, "response has no content blocks (stop reason %q)", stopReason(msg))
	}

	resp := &provider.Response{
		Usage: conversation.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: append(json.RawMessage(nil), block.Input...),
			})
		}
	}
	resp.Text = strings.Join(text, "\n")

	clog.FromContext(ctx).With("model", p.model).
		With("tool_calls", len(resp.ToolCalls)).
		With("stop_reason", stopReason(msg)).
		Debug("Claude response received")
	return resp, nil
}

// CountTokens implements provider.TokenCounter.
func (p *Provider) CountTokens(ctx context.Context, messages []conversation.Message) (int64, error) {
	system, history := provider.SplitSystem(messages)
	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(p.model),
		Messages: toMessages(history),
	}
	if system != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{
			OfTextBlockArray: []anthropic.TextBlockParam{{Text: system}},
		}
	}
	count, err := retry.Do(ctx, p.retry, "claude_count_tokens", isRetryable, func(ctx context.Context) (*anthropic.MessageTokensCount, error) {
		return p.client.Messages.CountTokens(ctx, params)
	})
	if err != nil {
		return 0, provider.Wrap(name, err)
	}
	return count.InputTokens, nil
}

func toMessages(history []conversation.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			if m.ToolCall != nil {
				args := m.ToolCall.Arguments
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(m.ToolCall.ID, args, m.ToolCall.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case conversation.RoleTool:
			isError := strings.HasPrefix(m.Content, "Error:")
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isError)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}

func toTool(def toolcall.Definition) *anthropic.ToolParam {
	return &anthropic.ToolParam{
		Name:        def.Name,
		Description: anthropic.String(def.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: def.Parameters.Properties,
			Required:   def.Parameters.Required,
		},
	}
}

func stopReason(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	return string(msg.StopReason)
}

func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retry.RetryableStatus(apiErr.StatusCode)
	}
	return false
}
