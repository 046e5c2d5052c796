/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package googleprovider implements provider.Interface on Gemini through
// the google.golang.org/genai SDK, against either the Gemini API or
// Vertex AI depending on how the client was configured.
//
// Gemini has no switch for single tool calls; a reply with several
// function calls is returned as is and the orchestrator keeps the first.
package googleprovider

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
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const name = "gemini"

// Option configures a Provider.
type Option func(*Provider) error

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(p *Provider) error {
		if !strings.HasPrefix(model, "gemini-") {
			return fmt.Errorf("model %q does not appear to be a Gemini model (expected gemini-* format)", model)
		}
		p.model = model
		return nil
	}
}

// WithMaxOutputTokens caps the reply length.
func WithMaxOutputTokens(tokens int32) Option {
	return func(p *Provider) error {
		if tokens <= 0 {
			return fmt.Errorf("max output tokens must be positive, got %d", tokens)
		}
		p.maxOutputTokens = tokens
		return nil
	}
}

// WithTemperature sets the sampling temperature in [0, 2].
func WithTemperature(temp float32) Option {
	return func(p *Provider) error {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", temp)
		}
		p.temperature = temp
		return nil
	}
}

// WithRetryConfig sets the retry policy for quota and overload errors.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Provider) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
		p.retry = cfg
		return nil
	}
}

// Provider calls Models.GenerateContent.
type Provider struct {
	client          *genai.Client
	model           string
	maxOutputTokens int32
	temperature     float32
	retry           retry.Config
}

var (
	_ provider.Interface    = (*Provider)(nil)
	_ provider.TokenCounter = (*Provider)(nil)
)

// New creates a Provider.
func New(client *genai.Client, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("genai client cannot be nil")
	}
	p := &Provider{
		client:          client,
		model:           "gemini-2.5-flash",
		maxOutputTokens: 8192,
		temperature:     0.1,
		retry:           retry.Default(),
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
	log := clog.FromContext(ctx)

	system, history := provider.SplitSystem(req.Messages)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.temperature),
		MaxOutputTokens: p.maxOutputTokens,
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, def := range req.Tools {
			decls = append(decls, toDeclaration(def))
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	contents, err := toContents(history)
	if err != nil {
		return nil, provider.Malformed(name, "converting history: %w", err)
	}

	response, err := retry.Do(ctx, p.retry, "gemini_generate_content", isRetryable, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return p.client.Models.GenerateContent(ctx, p.model, contents, config)
	})
	if err != nil {
		return nil, provider.Wrap(name, err)
	}
	if response == nil || len(response.Candidates) == 0 {
		return nil, provider.Empty(name, "no candidates")
	}

	candidate := response.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonMalformedFunctionCall {
		return nil, provider.Malformed(name, "malformed function call: %s", candidate.FinishMessage)
	}

	resp := &provider.Response{}
	if u := response.UsageMetadata; u != nil {
		resp.Usage = conversation.Usage{
			InputTokens:  int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
		}
	}
	if candidate.Content == nil {
		return resp, nil
	}

	var text []string
	for _, part := range candidate.Content.Parts {
		switch {
		case part.Thought:
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, provider.Malformed(name, "encoding arguments of %s: %w", part.FunctionCall.Name, err)
			}
			if part.FunctionCall.Args == nil {
				args = json.RawMessage("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		case part.Text != "":
			text = append(text, part.Text)
		}
	}
	resp.Text = strings.Join(text, "\n")

	log.With("model", p.model).
		With("tool_calls", len(resp.ToolCalls)).
		With("finish_reason", candidate.FinishReason).
		Debug("Gemini response received")
	return resp, nil
}

// CountTokens implements provider.TokenCounter. The Gemini API does not
// take a system instruction when counting, so system text is counted as
// a leading user turn.
func (p *Provider) CountTokens(ctx context.Context, messages []conversation.Message) (int64, error) {
	system, history := provider.SplitSystem(messages)
	contents, err := toContents(history)
	if err != nil {
		return 0, provider.Malformed(name, "converting history: %w", err)
	}
	if system != "" {
		contents = append([]*genai.Content{genai.NewContentFromText(system, genai.RoleUser)}, contents...)
	}
	resp, err := retry.Do(ctx, p.retry, "gemini_count_tokens", isRetryable, func(ctx context.Context) (*genai.CountTokensResponse, error) {
		return p.client.Models.CountTokens(ctx, p.model, contents, nil)
	})
	if err != nil {
		return 0, provider.Wrap(name, err)
	}
	return int64(resp.TotalTokens), nil
}

func toContents(history []conversation.Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleAssistant:
			c := &genai.Content{Role: string(genai.RoleModel)}
			if m.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: m.Content})
			}
			if m.ToolCall != nil {
				args := map[string]any{}
				if len(m.ToolCall.Arguments) > 0 {
					if err := json.Unmarshal(m.ToolCall.Arguments, &args); err != nil {
						return nil, fmt.Errorf("arguments of %s: %w", m.ToolCall.Name, err)
					}
				}
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   m.ToolCall.ID,
					Name: m.ToolCall.Name,
					Args: args,
				}})
			}
			out = append(out, c)
		case conversation.RoleTool:
			out = append(out, &genai.Content{
				Role: string(genai.RoleUser),
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.ToolName,
					Response: map[string]any{"output": m.Content},
				}}},
			})
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return out, nil
}

func toDeclaration(def toolcall.Definition) *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:                 def.Name,
		Description:          def.Description,
		ParametersJsonSchema: def.Parameters.Map(),
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retry.RetryableStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return retry.RetryableStatus(apiErrPtr.Code)
	}
	msg := err.Error()
	return strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "Resource exhausted") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "Overloaded")
}
