/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chainguard.dev/issueagent/agents/agenttrace"
	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/metrics"
	"chainguard.dev/issueagent/agents/promptbuilder"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

// maxContextPaths bounds the observed paths repeated in every instruction.
const maxContextPaths = 300

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithTurnTimeout bounds each provider round trip.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d < 0 {
			return fmt.Errorf("turn timeout cannot be negative, got %v", d)
		}
		o.turnTimeout = d
		return nil
	}
}

// WithMetrics records token usage, tool calls, duplicates and turns.
func WithMetrics(m *metrics.GenAI) Option {
	return func(o *Orchestrator) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		o.metrics = m
		return nil
	}
}

// WithInstruction overrides the instruction template of a mode. The
// template must have a single {{context}} placeholder.
func WithInstruction(mode toolcall.Mode, p *promptbuilder.Prompt) Option {
	return func(o *Orchestrator) error {
		if p == nil {
			return fmt.Errorf("instruction for %s cannot be nil", mode)
		}
		if _, err := toolcall.ParseMode(string(mode)); err != nil {
			return err
		}
		o.instructions[mode] = p
		return nil
	}
}

// Orchestrator executes turns for one run.
type Orchestrator struct {
	provider     provider.Interface
	registry     *toolcall.Registry
	metrics      *metrics.GenAI
	turnTimeout  time.Duration
	instructions map[toolcall.Mode]*promptbuilder.Prompt
}

// New creates an Orchestrator.
func New(p provider.Interface, registry *toolcall.Registry, opts ...Option) (*Orchestrator, error) {
	if p == nil {
		return nil, errors.New("provider cannot be nil")
	}
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	o := &Orchestrator{
		provider:     p,
		registry:     registry,
		metrics:      metrics.NewGenAI("chainguard.ai.agents"),
		turnTimeout:  2 * time.Minute,
		instructions: defaultInstructions(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return o, nil
}

// TurnContext is what earlier turns learned. It is rendered into the
// mode's instruction.
type TurnContext struct {
	Branch        string
	ObservedPaths []string
	FetchedFiles  []string

	// Trace, when set, receives tool calls, rejections and token usage.
	Trace *agenttrace.Trace[string]
}

type promptContext struct {
	Repository    string   `yaml:"repository"`
	Branch        string   `yaml:"branch"`
	FetchedFiles  []string `yaml:"fetched_files,omitempty"`
	ObservedPaths []string `yaml:"observed_paths,omitempty"`
	OmittedPaths  int      `yaml:"omitted_paths,omitempty"`
}

// TurnResult describes a completed turn.
type TurnResult struct {
	// Text is any prose the model returned alongside or instead of a call.
	Text string

	// Tool and Arguments describe the call that was kept, if any.
	Tool      string
	Arguments json.RawMessage

	// Output is the tool result text appended to the history.
	Output string

	// Result is set when the tool executed.
	Result *toolcall.Result

	Executed  bool
	Duplicate bool
	Done      bool

	// Truncated counts the tool calls dropped from the reply.
	Truncated int

	// Usage is the token usage of this turn.
	Usage conversation.Usage
}

// Turn runs one cycle against state in mode.
func (o *Orchestrator) Turn(ctx context.Context, state *conversation.State, mode toolcall.Mode, tc TurnContext) (*TurnResult, error) {
	if state == nil {
		return nil, errors.New("state cannot be nil")
	}
	model := o.provider.Model()
	log := clog.FromContext(ctx).With("mode", mode).With("model", model)

	instruction, err := o.instruction(mode, tc)
	if err != nil {
		return nil, err
	}
	outbound := append([]conversation.Message{conversation.SystemMessage(instruction)}, state.Messages()...)

	resp, err := o.provider.Complete(ctx, provider.Request{
		Messages:       outbound,
		Tools:          o.registry.SchemasFor(mode),
		SingleToolCall: true,
		Timeout:        o.turnTimeout,
	})
	if err != nil {
		return nil, provider.Wrap(model, err)
	}
	if resp == nil {
		return nil, provider.Empty(model, "provider returned no response")
	}
	o.metrics.RecordTurn(ctx, model, string(mode))

	if len(resp.ToolCalls) == 0 {
		usage := o.account(ctx, tc, resp, outbound, conversation.Message{Role: conversation.RoleAssistant, Content: resp.Text})
		state.EmptyTurn(usage)
		log.Info("No tool call returned")
		return &TurnResult{Text: resp.Text, Usage: usage}, nil
	}

	res := &TurnResult{Text: resp.Text}
	if n := len(resp.ToolCalls) - 1; n > 0 {
		res.Truncated = n
		o.metrics.RecordTruncated(ctx, model, n)
		log.With("dropped", n).Warn("Model returned several tool calls, keeping the first")
	}

	call := resp.ToolCalls[0]
	if call.Name == "" {
		return nil, provider.Malformed(model, "tool call %q has no name", call.ID)
	}
	record, err := conversation.NewRecord(call.Name, call.Arguments)
	if err != nil {
		return nil, provider.Malformed(model, "arguments of %s: %w", call.Name, err)
	}
	if call.ID == "" {
		call.ID = "call_" + uuid.NewString()
	}
	if len(call.Arguments) == 0 {
		call.Arguments = json.RawMessage("{}")
	}
	res.Tool, res.Arguments = call.Name, call.Arguments

	assistant := conversation.AssistantMessage(resp.Text, call)
	res.Usage = o.account(ctx, tc, resp, outbound, assistant)
	state.AddUsage(res.Usage)

	log = log.With("tool", call.Name).With("id", call.ID)
	if !o.registry.Visible(mode, call.Name) {
		return nil, &toolcall.UnknownToolError{Name: call.Name, Mode: mode}
	}
	if state.Seen(record) {
		res.Duplicate = true
		res.Output = corrective(call.Name)
		o.metrics.RecordDuplicate(ctx, model, call.Name)
		if tc.Trace != nil {
			tc.Trace.RejectDuplicate(call.ID, call.Name, call.Arguments)
		}
		log.Warn("Rejected duplicate tool call")

		if err := state.AppendExchange(conversation.Exchange{
			Assistant: assistant,
			Result:    conversation.ToolResultMessage(call, res.Output),
		}); err != nil {
			return nil, fmt.Errorf("appending duplicate exchange: %w", err)
		}
		return res, nil
	}

	var span *agenttrace.ToolCall[string]
	if tc.Trace != nil {
		span = tc.Trace.StartToolCall(call.ID, call.Name, call.Arguments)
	}
	o.metrics.RecordToolCall(ctx, model, call.Name)
	result, err := o.registry.Invoke(ctx, mode, call.Name, call.Arguments)
	if span != nil {
		output := ""
		if result != nil {
			output = result.Output
		}
		span.Complete(output, err)
	}
	if err != nil {
		log.With("error", err).Error("Tool call failed")
		return nil, err
	}

	res.Executed, res.Done = true, true
	res.Result = result
	res.Output = result.Output
	if err := state.AppendExchange(conversation.Exchange{
		Assistant: assistant,
		Result:    conversation.ToolResultMessage(call, result.Output),
		Executed:  &record,
	}); err != nil {
		return nil, fmt.Errorf("appending exchange: %w", err)
	}
	log.Info("Executed tool call")
	return res, nil
}

func (o *Orchestrator) instruction(mode toolcall.Mode, tc TurnContext) (string, error) {
	tmpl, ok := o.instructions[mode]
	if !ok {
		return "", fmt.Errorf("no instruction for mode %q", mode)
	}
	run := o.registry.Run()
	pc := promptContext{
		Repository:   run.Owner + "/" + run.Repo,
		Branch:       tc.Branch,
		FetchedFiles: tc.FetchedFiles,
	}
	if pc.Branch == "" {
		pc.Branch = run.Branch
	}
	pc.ObservedPaths = tc.ObservedPaths
	if len(pc.ObservedPaths) > maxContextPaths {
		pc.OmittedPaths = len(pc.ObservedPaths) - maxContextPaths
		pc.ObservedPaths = pc.ObservedPaths[:maxContextPaths]
	}

	bound, err := tmpl.BindYAML("context", pc)
	if err != nil {
		return "", fmt.Errorf("binding %s instruction: %w", mode, err)
	}
	out, err := bound.Build()
	if err != nil {
		return "", fmt.Errorf("building %s instruction: %w", mode, err)
	}
	return out, nil
}

// account returns the token usage of a turn. Reported usage wins, then a
// provider side count, then the local estimate.
func (o *Orchestrator) account(ctx context.Context, tc TurnContext, resp *provider.Response, outbound []conversation.Message, reply conversation.Message) conversation.Usage {
	usage := resp.Usage
	if usage.IsZero() {
		usage = o.count(ctx, outbound, reply)
	}
	model := o.provider.Model()
	o.metrics.RecordTokens(ctx, model, usage.InputTokens, usage.OutputTokens)
	if tc.Trace != nil {
		tc.Trace.RecordTokenUsage(model, usage.InputTokens, usage.OutputTokens)
	}
	return usage
}

func (o *Orchestrator) count(ctx context.Context, outbound []conversation.Message, reply conversation.Message) conversation.Usage {
	if counter, ok := o.provider.(provider.TokenCounter); ok {
		in, err := counter.CountTokens(ctx, outbound)
		if err == nil {
			return conversation.Usage{InputTokens: in, OutputTokens: provider.EstimateTokens(reply)}
		}
		clog.FromContext(ctx).With("error", err).Warn("Token count failed, estimating")
	}
	return conversation.Usage{
		InputTokens:  provider.EstimateTokens(outbound...),
		OutputTokens: provider.EstimateTokens(reply),
	}
}

// corrective returns the tool result sent instead of executing a repeated
// call. Reads point back at the earlier result; writes point at the diff.
func corrective(tool string) string {
	cat, _ := toolcall.CategoryOf(tool)
	switch cat {
	case toolcall.Mutating, toolcall.Terminal:
		return fmt.Sprintf("The function '%s' was called with the same arguments as before, so it was not run again. "+
			"Open the file path in your arguments and update your diff content to match it, or choose a different action.", tool)
	default:
		return fmt.Sprintf("The function '%s' was called with the same arguments as before, so it was not run again. "+
			"Its result was already fetched and is earlier in this conversation. Reuse that result or pick a different action.", tool)
	}
}
