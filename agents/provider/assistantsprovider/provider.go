/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package assistantsprovider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/provider/poll"
	"chainguard.dev/issueagent/agents/provider/retry"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/chainguard-dev/clog"
	"github.com/sashabaranov/go-openai"
)

const name = "assistants"

// skippedOutput answers the tool calls of a run beyond the first one.
const skippedOutput = "Error: only one tool call is processed per turn. Call it again in a later turn if it is still needed."

// Option configures a Provider.
type Option func(*Provider) error

// WithModel overrides the assistant's model for every run.
func WithModel(model string) Option {
	return func(p *Provider) error {
		if model == "" {
			return errors.New("model cannot be empty")
		}
		p.model = model
		return nil
	}
}

// WithPollConfig sets how run status is polled.
func WithPollConfig(cfg poll.Config) Option {
	return func(p *Provider) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid poll config: %w", err)
		}
		p.poll = cfg
		return nil
	}
}

// WithRetryConfig sets the retry policy for rate limited API calls.
func WithRetryConfig(cfg retry.Config) Option {
	return func(p *Provider) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid retry config: %w", err)
		}
		p.retry = cfg
		return nil
	}
}

// Provider drives one assistants thread.
type Provider struct {
	client      *openai.Client
	assistantID string
	model       string
	poll        poll.Config
	retry       retry.Config

	mu       sync.Mutex
	threadID string
	// runID is the run waiting in requires_action, if any.
	runID    string
	runTools string
	pending  []openai.ToolCall
	// usage is the cumulative usage last reported by runID.
	usage openai.Usage
	// synced counts the history messages already on the thread.
	synced int
}

var _ provider.Interface = (*Provider)(nil)

// New creates a Provider for a single conversation.
func New(client *openai.Client, assistantID string, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("openai client cannot be nil")
	}
	if assistantID == "" {
		return nil, errors.New("assistant id cannot be empty")
	}
	p := &Provider{
		client:      client,
		assistantID: assistantID,
		poll:        poll.Default(),
		retry:       retry.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return p, nil
}

// NewFactory returns a provider.Factory that creates one Provider per run.
func NewFactory(client *openai.Client, assistantID string, opts ...Option) provider.Factory {
	return func() (provider.Interface, error) {
		return New(client, assistantID, opts...)
	}
}

// Model implements provider.Interface.
func (p *Provider) Model() string {
	if p.model == "" {
		return p.assistantID
	}
	return p.model
}

// ThreadID returns the thread backing this conversation, or "" before the
// first call.
func (p *Provider) ThreadID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threadID
}

// Complete implements provider.Interface.
func (p *Provider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := provider.WithTimeout(ctx, req)
	defer cancel()
	log := clog.FromContext(ctx)

	system, history := provider.SplitSystem(req.Messages)
	if len(history) < p.synced {
		return nil, provider.Malformed(name, "history shrank from %d to %d messages", p.synced, len(history))
	}
	fresh := history[p.synced:]
	tools := toolKey(req.Tools)

	var (
		run openai.Run
		err error
	)
	switch {
	case p.threadID == "":
		run, err = p.startThread(ctx, system, fresh, req.Tools)

	case p.runID != "" && p.runTools == tools:
		run, err = p.submitOutputs(ctx, fresh)

	default:
		if p.runID != "" {
			log.With("run_id", p.runID).Info("Tool set changed, cancelling pending run")
			if _, cerr := p.client.CancelRun(ctx, p.threadID, p.runID); cerr != nil {
				log.With("error", cerr).Warn("Failed to cancel pending run")
			}
			p.clearRun()
		}
		run, err = p.continueThread(ctx, system, fresh, req.Tools)
	}
	if err != nil {
		return nil, provider.Wrap(name, err)
	}
	p.synced = len(history)
	p.runTools = tools

	run, err = p.await(ctx, run)
	if err != nil {
		if errors.Is(err, poll.ErrExhausted) {
			if _, cerr := p.client.CancelRun(context.WithoutCancel(ctx), p.threadID, run.ID); cerr != nil {
				log.With("error", cerr).Warn("Failed to cancel timed out run")
			}
			p.clearRun()
			return nil, &provider.Error{Provider: name, Kind: provider.KindTimeout, Err: err}
		}
		p.clearRun()
		return nil, provider.Wrap(name, err)
	}

	resp := &provider.Response{Usage: p.usageDelta(run)}
	switch run.Status {
	case openai.RunStatusRequiresAction:
		if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
			p.clearRun()
			return nil, provider.Malformed(name, "run %s requires action but lists no tool calls", run.ID)
		}
		calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
		if len(calls) == 0 {
			p.clearRun()
			return nil, provider.Empty(name, "run %s requires action with zero tool calls", run.ID)
		}
		p.runID = run.ID
		p.pending = calls
		for _, tc := range calls {
			resp.ToolCalls = append(resp.ToolCalls, conversation.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}

	case openai.RunStatusCompleted:
		p.clearRun()

	case openai.RunStatusExpired:
		p.clearRun()
		return nil, &provider.Error{Provider: name, Kind: provider.KindTimeout, Err: fmt.Errorf("run %s expired", run.ID)}

	default:
		p.clearRun()
		return nil, &provider.Error{Provider: name, Kind: provider.KindAPI, Err: runError(run)}
	}

	log.With("thread_id", p.threadID).
		With("run_id", run.ID).
		With("status", run.Status).
		With("tool_calls", len(resp.ToolCalls)).
		Debug("Assistant run settled")
	return resp, nil
}

func (p *Provider) startThread(ctx context.Context, system string, fresh []conversation.Message, tools []toolcall.Definition) (openai.Run, error) {
	var msgs []openai.ThreadMessage
	for _, m := range fresh {
		if text, ok := threadText(m); ok {
			msgs = append(msgs, openai.ThreadMessage{Role: openai.ThreadMessageRoleUser, Content: text})
		}
	}
	thread, err := retry.Do(ctx, p.retry, "assistants_create_thread", isRetryable, func(ctx context.Context) (openai.Thread, error) {
		return p.client.CreateThread(ctx, openai.ThreadRequest{Messages: msgs})
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("creating thread: %w", err)
	}
	p.threadID = thread.ID
	clog.FromContext(ctx).With("thread_id", thread.ID).Info("Created assistants thread")
	return p.createRun(ctx, system, tools)
}

func (p *Provider) continueThread(ctx context.Context, system string, fresh []conversation.Message, tools []toolcall.Definition) (openai.Run, error) {
	for _, m := range fresh {
		text, ok := threadText(m)
		if !ok {
			continue
		}
		if _, err := retry.Do(ctx, p.retry, "assistants_create_message", isRetryable, func(ctx context.Context) (openai.Message, error) {
			return p.client.CreateMessage(ctx, p.threadID, openai.MessageRequest{
				Role:    string(openai.ThreadMessageRoleUser),
				Content: text,
			})
		}); err != nil {
			return openai.Run{}, fmt.Errorf("posting message: %w", err)
		}
	}
	return p.createRun(ctx, system, tools)
}

func (p *Provider) createRun(ctx context.Context, system string, tools []toolcall.Definition) (openai.Run, error) {
	req := openai.RunRequest{
		AssistantID:            p.assistantID,
		Model:                  p.model,
		AdditionalInstructions: system,
		Tools:                  toTools(tools),
	}
	run, err := retry.Do(ctx, p.retry, "assistants_create_run", isRetryable, func(ctx context.Context) (openai.Run, error) {
		return p.client.CreateRun(ctx, p.threadID, req)
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("creating run: %w", err)
	}
	p.usage = openai.Usage{}
	return run, nil
}

// submitOutputs answers every pending call. Calls without a matching tool
// message were dropped by the single call rule and get skippedOutput.
func (p *Provider) submitOutputs(ctx context.Context, fresh []conversation.Message) (openai.Run, error) {
	results := make(map[string]string, len(fresh))
	for _, m := range fresh {
		if m.Role == conversation.RoleTool {
			results[m.ToolCallID] = m.Content
		}
	}
	outputs := make([]openai.ToolOutput, 0, len(p.pending))
	for _, tc := range p.pending {
		out, ok := results[tc.ID]
		if !ok {
			out = skippedOutput
		}
		outputs = append(outputs, openai.ToolOutput{ToolCallID: tc.ID, Output: out})
	}
	run, err := retry.Do(ctx, p.retry, "assistants_submit_tool_outputs", isRetryable, func(ctx context.Context) (openai.Run, error) {
		return p.client.SubmitToolOutputs(ctx, p.threadID, p.runID, openai.SubmitToolOutputsRequest{ToolOutputs: outputs})
	})
	if err != nil {
		return openai.Run{}, fmt.Errorf("submitting tool outputs: %w", err)
	}
	p.pending = nil
	return run, nil
}

// await polls run until it needs input or reaches a terminal status.
func (p *Provider) await(ctx context.Context, run openai.Run) (openai.Run, error) {
	if settled(run.Status) {
		return run, nil
	}
	last := run
	got, err := poll.Until(ctx, p.poll, func(ctx context.Context) (openai.Run, bool, error) {
		r, err := retry.Do(ctx, p.retry, "assistants_retrieve_run", isRetryable, func(ctx context.Context) (openai.Run, error) {
			return p.client.RetrieveRun(ctx, p.threadID, run.ID)
		})
		if err != nil {
			return r, false, fmt.Errorf("retrieving run %s: %w", run.ID, err)
		}
		last = r
		return r, settled(r.Status), nil
	})
	if err != nil {
		return last, err
	}
	return got, nil
}

func (p *Provider) usageDelta(run openai.Run) conversation.Usage {
	delta := conversation.Usage{
		InputTokens:  int64(run.Usage.PromptTokens - p.usage.PromptTokens),
		OutputTokens: int64(run.Usage.CompletionTokens - p.usage.CompletionTokens),
	}
	if delta.InputTokens < 0 || delta.OutputTokens < 0 {
		delta = conversation.Usage{}
	}
	p.usage = run.Usage
	return delta
}

func (p *Provider) clearRun() {
	p.runID = ""
	p.pending = nil
	p.usage = openai.Usage{}
}

func settled(s openai.RunStatus) bool {
	switch s {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return false
	}
	return true
}

// threadText renders a history message as thread text. The assistant's
// own turns already live on the thread.
func threadText(m conversation.Message) (string, bool) {
	switch m.Role {
	case conversation.RoleAssistant, conversation.RoleSystem:
		return "", false
	case conversation.RoleTool:
		return fmt.Sprintf("Result of %s:\n%s", m.ToolName, m.Content), true
	default:
		return m.Content, m.Content != ""
	}
}

func toTools(defs []toolcall.Definition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters.Map(),
			},
		})
	}
	return out
}

func toolKey(defs []toolcall.Definition) string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

func runError(run openai.Run) error {
	if run.LastError != nil {
		return fmt.Errorf("run %s %s: %s: %s", run.ID, run.Status, run.LastError.Code, run.LastError.Message)
	}
	return fmt.Errorf("run %s ended with status %s", run.ID, run.Status)
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retry.RetryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retry.RetryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}
