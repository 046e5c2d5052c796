/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package openaiprovider implements provider.Interface on the OpenAI chat
// completions API.
package openaiprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/provider/retry"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
)

const name = "openai"

// Option configures a Provider.
type Option func(*Provider) error

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(p *Provider) error {
		if model == "" {
			return errors.New("model cannot be empty")
		}
		p.model = model
		return nil
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) error {
		if tokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", tokens)
		}
		p.maxTokens = tokens
		return nil
	}
}

// WithTemperature sets the sampling temperature in [0, 2].
func WithTemperature(temp float64) Option {
	return func(p *Provider) error {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", temp)
		}
		p.temperature = temp
		return nil
	}
}

// WithRetryConfig sets the retry policy for rate limit responses.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Provider) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
		p.retry = cfg
		return nil
	}
}

// Provider calls the chat completions endpoint.
type Provider struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	retry       retry.Config
}

var _ provider.Interface = (*Provider)(nil)

// New creates a Provider.
func New(client openai.Client, opts ...Option) (*Provider, error) {
	p := &Provider{
		client:      client,
		model:       string(openai.ChatModelGPT4o),
		maxTokens:   4096,
		temperature: 0,
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

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(p.model),
		Messages:            toMessages(req.Messages),
		MaxCompletionTokens: openai.Int(p.maxTokens),
		Temperature:         openai.Float(p.temperature),
	}
	if len(req.Tools) > 0 {
		params.Tools = make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			params.Tools = append(params.Tools, toTool(def))
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
		if req.SingleToolCall {
			params.ParallelToolCalls = openai.Bool(false)
		}
	}

	completion, err := retry.Do(ctx, p.retry, "openai_chat_completion", isRetryable, func(ctx context.Context) (*openai.ChatCompletion, error) {
		return p.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return nil, provider.Wrap(name, err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return nil, provider.Empty(name, "completion has no choices")
	}

	msg := completion.Choices[0].Message
	resp := &provider.Response{
		Text: msg.Content,
		Usage: conversation.Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	clog.FromContext(ctx).With("model", p.model).
		With("tool_calls", len(resp.ToolCalls)).
		With("finish_reason", completion.Choices[0].FinishReason).
		Debug("OpenAI completion received")
	return resp, nil
}

func toMessages(messages []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	system, history := provider.SplitSystem(messages)
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range history {
		switch m.Role {
		case conversation.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			if m.ToolCall != nil {
				assistant.ToolCalls = []openai.ChatCompletionMessageToolCallParam{{
					ID: m.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      m.ToolCall.Name,
						Arguments: string(m.ToolCall.Arguments),
					},
				}}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toTool(def toolcall.Definition) openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Function: shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(def.Parameters.Map()),
		},
	}
}

func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return retry.RetryableStatus(apiErr.StatusCode)
	}
	return false
}
