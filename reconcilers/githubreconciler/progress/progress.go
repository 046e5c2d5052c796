/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package progress reports the milestones of an issue run as a single
// comment in the issue thread, mirrored to the run registry.
package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/rundriver"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/chainguard-dev/clog"
)

// Percentages reported at each milestone.
const (
	PercentQueued    = 0
	PercentStarted   = 10
	PercentExplored  = 50
	PercentCommitted = 75
	PercentDone      = 100
)

// Commenter posts and edits issue comments.
type Commenter interface {
	CreateComment(ctx context.Context, issue int, body string) (int64, error)
	UpdateComment(ctx context.Context, commentID int64, body string) error
}

// Recorder persists the progress of a run.
type Recorder interface {
	SetProgress(ctx context.Context, runID string, percent int) error
}

// Option configures a Reporter.
type Option func(*Reporter) error

// WithRecorder mirrors every milestone percentage to r under runID.
func WithRecorder(r Recorder, runID string) Option {
	return func(rep *Reporter) error {
		if r == nil {
			return errors.New("recorder cannot be nil")
		}
		if runID == "" {
			return errors.New("run ID is required")
		}
		rep.recorder, rep.runID = r, runID
		return nil
	}
}

// WithCommentID reuses an existing progress comment instead of posting one.
func WithCommentID(id int64) Option {
	return func(rep *Reporter) error {
		if id <= 0 {
			return fmt.Errorf("invalid comment ID %d", id)
		}
		rep.commentID = id
		return nil
	}
}

// Reporter implements rundriver.Reporter on top of one issue comment.
type Reporter struct {
	commenter Commenter
	issue     int
	recorder  Recorder
	runID     string

	mu        sync.Mutex
	commentID int64
	percent   int
	summary   string
}

var _ rundriver.Reporter = (*Reporter)(nil)

// New creates a Reporter for issue.
func New(c Commenter, issue int, opts ...Option) (*Reporter, error) {
	if c == nil {
		return nil, errors.New("commenter cannot be nil")
	}
	if issue <= 0 {
		return nil, fmt.Errorf("invalid issue number %d", issue)
	}
	r := &Reporter{commenter: c, issue: issue}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return r, nil
}

// CommentID returns the progress comment, zero before the first milestone.
func (r *Reporter) CommentID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commentID
}

// Percent returns the last reported percentage.
func (r *Reporter) Percent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent
}

// Queued posts the initial progress comment.
func (r *Reporter) Queued(ctx context.Context) error {
	return r.report(ctx, PercentQueued, "")
}

// Started implements rundriver.Reporter.
func (r *Reporter) Started(ctx context.Context) error {
	return r.report(ctx, PercentStarted, "Exploring the repository.")
}

// Explored implements rundriver.Reporter.
func (r *Reporter) Explored(ctx context.Context, observed, fetched []string) error {
	return r.report(ctx, PercentExplored, fmt.Sprintf("Looked at %d paths and read %d files.", len(observed), len(fetched)))
}

// Committed implements rundriver.Reporter.
func (r *Reporter) Committed(ctx context.Context, changes []rundriver.Change) error {
	if len(changes) == 0 {
		return r.report(ctx, PercentCommitted, "No changes were committed.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Committed %d file(s), opening pull request.\n", len(changes))
	for _, c := range changes {
		fmt.Fprintf(&b, "\n- `%s` (%s)", c.FilePath, c.Status)
	}
	return r.report(ctx, PercentCommitted, b.String())
}

// Failed implements rundriver.Reporter.
func (r *Reporter) Failed(ctx context.Context, err error) error {
	return r.write(ctx, -1, fmt.Sprintf("Sorry, we could not create a pull request: %s.\n\n```\n%v\n```", Classify(err), err))
}

// Busy tells the issue that another run is already active.
func (r *Reporter) Busy(ctx context.Context) error {
	return r.write(ctx, -1, "The issue is already in progress. Please wait for the previous request to complete.")
}

// Completed reports the opened pull request.
func (r *Reporter) Completed(ctx context.Context, url string) error {
	return r.write(ctx, PercentDone, fmt.Sprintf("Pull request completed! Check it out here %s 🚀", url))
}

// SetSummary replaces the free text shown under the progress line. It backs
// the update_comment tool.
func (r *Reporter) SetSummary(ctx context.Context, body string) error {
	r.mu.Lock()
	r.summary = strings.TrimSpace(body)
	percent := r.percent
	r.mu.Unlock()
	return r.report(ctx, percent, "")
}

func (r *Reporter) report(ctx context.Context, percent int, detail string) error {
	r.mu.Lock()
	summary := r.summary
	r.mu.Unlock()

	body := fmt.Sprintf("We are creating a pull request. Progress: %d%%", percent)
	if detail != "" {
		body += "\n\n" + detail
	}
	if summary != "" {
		body += "\n\n" + summary
	}
	return r.write(ctx, percent, body)
}

// write sets the comment body. A negative percent leaves the recorded
// progress unchanged.
func (r *Reporter) write(ctx context.Context, percent int, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := clog.FromContext(ctx).With("issue", r.issue).With("percent", percent)
	if r.commentID == 0 {
		id, err := r.commenter.CreateComment(ctx, r.issue, body)
		if err != nil {
			return fmt.Errorf("posting progress comment: %w", err)
		}
		r.commentID = id
		log.With("comment_id", id).Info("Posted progress comment")
	} else if err := r.commenter.UpdateComment(ctx, r.commentID, body); err != nil {
		return fmt.Errorf("updating progress comment: %w", err)
	}

	if percent < 0 {
		return nil
	}
	r.percent = percent
	if r.recorder != nil {
		if err := r.recorder.SetProgress(ctx, r.runID, percent); err != nil {
			log.With("error", err).Warn("Failed to record progress")
		}
	}
	return nil
}

// Classify names the class of a run failure for humans.
func Classify(err error) string {
	var (
		timeout *rundriver.RunTimeoutError
		perr    *provider.Error
		unknown *toolcall.UnknownToolError
		invalid *toolcall.InvalidArgumentsError
		exec    *toolcall.ToolExecutionError
	)
	switch {
	case err == nil:
		return "no error"
	case errors.As(err, &timeout):
		return fmt.Sprintf("the run hit its %s limit", timeout.Reason)
	case errors.Is(err, context.Canceled):
		return "the run was aborted"
	case errors.Is(err, rundriver.ErrNoChanges):
		return "the agent did not commit any changes"
	case errors.As(err, &perr):
		return fmt.Sprintf("the model provider failed (%s)", perr.Kind)
	case errors.As(err, &unknown):
		return fmt.Sprintf("the model called an unknown tool %q", unknown.Name)
	case errors.As(err, &invalid):
		return fmt.Sprintf("the model sent invalid arguments to %s", invalid.Tool)
	case errors.As(err, &exec):
		return fmt.Sprintf("the %s tool failed", exec.Tool)
	default:
		return "an internal error occurred"
	}
}
