/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rundriver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"chainguard.dev/issueagent/agents/agenttrace"
	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/metrics"
	"chainguard.dev/issueagent/agents/orchestrator"
	"chainguard.dev/issueagent/agents/toolcall"
	"chainguard.dev/issueagent/agents/toolcall/callbacks"
	"github.com/chainguard-dev/clog"
)

// reportTimeout bounds Reporter calls made after the run context is gone.
const reportTimeout = 30 * time.Second

// Phase is a state of the run state machine.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseExploring   Phase = "exploring"
	PhaseGettingFile Phase = "getting_file"
	PhaseCommitting  Phase = "committing"
	PhaseCommenting  Phase = "commenting"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Turner runs one orchestrator turn. *orchestrator.Orchestrator implements it.
type Turner interface {
	Turn(ctx context.Context, state *conversation.State, mode toolcall.Mode, tc orchestrator.TurnContext) (*orchestrator.TurnResult, error)
}

// Reporter receives run milestones. Reporter errors are logged and do not
// change the outcome of the run.
type Reporter interface {
	Started(ctx context.Context) error
	Explored(ctx context.Context, observed, fetched []string) error
	Committed(ctx context.Context, changes []Change) error
	Failed(ctx context.Context, err error) error
}

// Change is a file committed during the run.
type Change struct {
	FilePath string
	Diff     string
	SHA      string
	Status   callbacks.FileStatus
}

// Outcome is the result of a finished run.
type Outcome struct {
	Changes []Change
	Summary string
	Turns   int
	Usage   conversation.Usage
	Elapsed time.Duration
	Calls   []conversation.Record
}

// Option configures a Driver.
type Option func(*Driver) error

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.GenAI) Option {
	return func(d *Driver) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		d.metrics = m
		return nil
	}
}

// WithClock replaces time.Now for ceiling checks.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		d.now = now
		return nil
	}
}

// Driver runs issues to completion under a Config.
type Driver struct {
	cfg     Config
	metrics *metrics.GenAI
	now     func() time.Time
}

// New creates a Driver.
func New(cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:     cfg,
		metrics: metrics.NewGenAI("chainguard.ai.agents"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return d, nil
}

// Config returns the driver's policy.
func (d *Driver) Config() Config {
	return d.cfg
}

// run is the mutable state of one Run call.
type run struct {
	d        *Driver
	turner   Turner
	state    *conversation.State
	trace    *agenttrace.Trace[string]
	tc       orchestrator.TurnContext
	parent   context.Context
	ctx      context.Context
	start    time.Time
	turns    int
	phase    Phase
	outcome  Outcome
	observed map[string]struct{}
}

// Run drives task to a terminal phase. On failure Reporter.Failed has been
// called before Run returns.
func (d *Driver) Run(ctx context.Context, task Task, turner Turner, reporter Reporter) (_ *Outcome, err error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if turner == nil || reporter == nil {
		return nil, errors.New("turner and reporter are required")
	}

	system, user, err := task.prompts()
	if err != nil {
		return nil, err
	}

	ctx = agenttrace.WithExecutionContext(ctx, agenttrace.ExecutionContext{
		RunID:       task.RunID,
		Repository:  task.Owner + "/" + task.Repo,
		IssueNumber: task.IssueNumber,
	})
	runCtx, cancel := context.WithDeadlineCause(ctx, time.Now().Add(d.cfg.MaxDuration), errWallClock)
	defer cancel()

	trace := agenttrace.StartTrace[string](runCtx, user)
	r := &run{
		d:        d,
		turner:   turner,
		state:    conversation.New(system, user),
		trace:    trace,
		parent:   ctx,
		ctx:      trace.Context(),
		start:    d.now(),
		phase:    PhaseInit,
		observed: make(map[string]struct{}, len(task.Tree)),
		tc: orchestrator.TurnContext{
			Branch: task.Branch,
			Trace:  trace,
		},
	}
	r.observe(task.Tree)
	log := clog.FromContext(ctx).With("run_id", task.RunID).With("issue", task.IssueNumber)

	defer func() {
		elapsed := d.now().Sub(r.start)
		outcome := "completed"
		if err != nil {
			outcome = "failed"
			if errors.Is(err, context.Canceled) {
				outcome = "aborted"
			}
			r.phase = PhaseFailed
			rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
			defer rcancel()
			if rerr := reporter.Failed(rctx, err); rerr != nil {
				log.With("error", rerr).Error("Failed to report run failure")
			}
			trace.Complete("", err)
			log.With("error", err).With("turns", r.turns).Error("Run failed")
		}
		d.metrics.RecordRun(context.WithoutCancel(ctx), outcome, elapsed.Seconds())
	}()

	if err := reporter.Started(r.ctx); err != nil {
		log.With("error", err).Warn("Failed to report run start")
	}

	// EXPLORING
	r.enter(PhaseExploring)
	for range d.cfg.ExploreTurns {
		res, err := r.turn(toolcall.ModeExplore)
		if err != nil {
			return nil, err
		}
		if !calledTool(res) {
			break
		}
	}

	// GETTING_FILE
	r.enter(PhaseGettingFile)
	for range d.cfg.GetTurns {
		res, err := r.turn(toolcall.ModeGet)
		if err != nil {
			return nil, err
		}
		if !calledTool(res) {
			break
		}
	}
	if err := reporter.Explored(r.ctx, r.tc.ObservedPaths, r.tc.FetchedFiles); err != nil {
		log.With("error", err).Warn("Failed to report exploration")
	}

	// COMMITTING
	r.enter(PhaseCommitting)
	for {
		res, err := r.turn(toolcall.ModeCommit)
		if err != nil {
			return nil, err
		}
		if !calledTool(res) {
			break
		}
		if res.Result != nil && res.Result.Commit != nil {
			c := res.Result.Commit
			r.outcome.Changes = append(r.outcome.Changes, Change{FilePath: c.FilePath, Diff: c.Diff, SHA: c.SHA, Status: c.Status})
		}
		if res.Executed && res.Tool == toolcall.NameFinish {
			r.outcome.Summary = res.Result.Summary
			break
		}
	}
	if err := reporter.Committed(r.ctx, r.outcome.Changes); err != nil {
		log.With("error", err).Warn("Failed to report commits")
	}

	// COMMENTING is best effort; the changes are already committed.
	if d.cfg.CommentTurns > 0 && len(r.outcome.Changes) > 0 {
		r.enter(PhaseCommenting)
		for range d.cfg.CommentTurns {
			res, err := r.turn(toolcall.ModeComment)
			if err != nil {
				log.With("error", err).Warn("Comment phase ended early")
				break
			}
			if !calledTool(res) || res.Executed {
				break
			}
		}
	}

	r.enter(PhaseDone)
	r.outcome.Turns = r.turns
	r.outcome.Usage = r.state.Usage()
	r.outcome.Elapsed = d.now().Sub(r.start)
	r.outcome.Calls = r.state.Calls()
	trace.Complete(r.outcome.Summary, nil)
	log.With("turns", r.turns).
		With("changes", len(r.outcome.Changes)).
		With("tokens", r.outcome.Usage.Total()).
		Info("Run completed")
	return &r.outcome, nil
}

func (r *run) enter(p Phase) {
	clog.FromContext(r.ctx).With("from", r.phase).With("to", p).Info("Run phase transition")
	r.phase = p
}

// turn checks the ceilings and runs one turn in mode.
func (r *run) turn(mode toolcall.Mode) (*orchestrator.TurnResult, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	r.turns++
	ctx := agenttrace.WithTurn(r.ctx, string(r.phase), r.turns)
	res, err := r.turner.Turn(ctx, r.state, mode, r.tc)
	if err == nil && res == nil {
		err = errors.New("turn returned no result")
	}
	if err != nil {
		if r.parent.Err() != nil {
			return nil, fmt.Errorf("run aborted in phase %s: %w", r.phase, context.Cause(r.parent))
		}
		if errors.Is(context.Cause(r.ctx), errWallClock) {
			return nil, r.timeout(ReasonDuration)
		}
		return nil, fmt.Errorf("turn %d (%s): %w", r.turns, mode, err)
	}
	if res.Result != nil {
		r.observe(res.Result.Paths)
		if p := res.Result.FetchedPath; p != "" && !slices.Contains(r.tc.FetchedFiles, p) {
			r.tc.FetchedFiles = append(r.tc.FetchedFiles, p)
		}
	}
	return res, nil
}

func (r *run) check() error {
	if err := r.parent.Err(); err != nil {
		return fmt.Errorf("run aborted in phase %s: %w", r.phase, err)
	}
	cfg := r.d.cfg
	switch {
	case r.turns >= cfg.MaxTurns:
		return r.timeout(ReasonTurns)
	case r.d.now().Sub(r.start) >= cfg.MaxDuration, errors.Is(context.Cause(r.ctx), errWallClock):
		return r.timeout(ReasonDuration)
	case cfg.MaxTokens > 0 && r.state.Usage().Total() >= cfg.MaxTokens:
		return r.timeout(ReasonTokens)
	}
	return nil
}

func (r *run) timeout(reason Reason) error {
	return &RunTimeoutError{
		Reason:  reason,
		Phase:   r.phase,
		Turns:   r.turns,
		Elapsed: r.d.now().Sub(r.start),
	}
}

func (r *run) observe(paths []string) {
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := r.observed[p]; ok {
			continue
		}
		r.observed[p] = struct{}{}
		r.tc.ObservedPaths = append(r.tc.ObservedPaths, p)
	}
}

// calledTool reports whether the model returned a tool call, executed or
// rejected as a duplicate.
func calledTool(res *orchestrator.TurnResult) bool {
	return res.Executed || res.Duplicate
}
