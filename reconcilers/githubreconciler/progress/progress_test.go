/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package progress_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/rundriver"
	"chainguard.dev/issueagent/agents/toolcall"
	"chainguard.dev/issueagent/agents/toolcall/callbacks"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/progress"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeComments struct {
	created int
	bodies  map[int64]string
	fail    error
}

func (f *fakeComments) CreateComment(_ context.Context, _ int, body string) (int64, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	f.created++
	id := int64(100 + f.created)
	if f.bodies == nil {
		f.bodies = make(map[int64]string)
	}
	f.bodies[id] = body
	return id, nil
}

func (f *fakeComments) UpdateComment(_ context.Context, id int64, body string) error {
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.bodies[id]; !ok {
		return fmt.Errorf("no comment %d", id)
	}
	f.bodies[id] = body
	return nil
}

type fakeRecorder struct {
	runID    string
	percents []int
}

func (f *fakeRecorder) SetProgress(_ context.Context, runID string, percent int) error {
	f.runID = runID
	f.percents = append(f.percents, percent)
	return nil
}

func TestReporterMilestones(t *testing.T) {
	ctx := context.Background()
	comments := &fakeComments{}
	rec := &fakeRecorder{}
	r, err := progress.New(comments, 7, progress.WithRecorder(rec, "acme/widget#7"))
	require.NoError(t, err)

	require.NoError(t, r.Queued(ctx))
	id := r.CommentID()
	require.Equal(t, int64(101), id)
	require.Equal(t, "We are creating a pull request. Progress: 0%", comments.bodies[id])

	require.NoError(t, r.Started(ctx))
	require.NoError(t, r.Explored(ctx, []string{"a.go", "b.go"}, []string{"a.go"}))
	require.Contains(t, comments.bodies[id], "Progress: 50%")
	require.Contains(t, comments.bodies[id], "Looked at 2 paths and read 1 files.")

	require.NoError(t, r.SetSummary(ctx, "Fixed the nil check in the parser."))
	require.Contains(t, comments.bodies[id], "Progress: 50%")
	require.Contains(t, comments.bodies[id], "Fixed the nil check in the parser.")

	require.NoError(t, r.Committed(ctx, []rundriver.Change{{FilePath: "a.go", Status: callbacks.FileModified}}))
	require.Contains(t, comments.bodies[id], "- `a.go` (modified)")
	require.Contains(t, comments.bodies[id], "Fixed the nil check in the parser.")

	require.NoError(t, r.Completed(ctx, "https://github.com/acme/widget/pull/12"))
	require.Equal(t, "Pull request completed! Check it out here https://github.com/acme/widget/pull/12 🚀", comments.bodies[id])

	require.Equal(t, 1, comments.created, "all milestones share one comment")
	require.Equal(t, "acme/widget#7", rec.runID)
	if diff := cmp.Diff([]int{0, 10, 50, 50, 75, 100}, rec.percents); diff != "" {
		t.Errorf("recorded percents (-want +got):\n%s", diff)
	}
	require.Equal(t, progress.PercentDone, r.Percent())
}

func TestReporterFailedKeepsProgress(t *testing.T) {
	ctx := context.Background()
	comments := &fakeComments{}
	rec := &fakeRecorder{}
	r, err := progress.New(comments, 7, progress.WithRecorder(rec, "acme/widget#7"))
	require.NoError(t, err)

	require.NoError(t, r.Started(ctx))
	require.NoError(t, r.Failed(ctx, &rundriver.RunTimeoutError{Reason: rundriver.ReasonTurns, Turns: 20}))

	body := comments.bodies[r.CommentID()]
	require.True(t, strings.HasPrefix(body, "Sorry, we could not create a pull request: the run hit its turns limit."), body)
	if diff := cmp.Diff([]int{10}, rec.percents); diff != "" {
		t.Errorf("recorded percents (-want +got):\n%s", diff)
	}
}

func TestReporterReusesComment(t *testing.T) {
	comments := &fakeComments{bodies: map[int64]string{42: "old"}}
	r, err := progress.New(comments, 7, progress.WithCommentID(42))
	require.NoError(t, err)

	require.NoError(t, r.Busy(context.Background()))
	require.Equal(t, 0, comments.created)
	require.Equal(t, "The issue is already in progress. Please wait for the previous request to complete.", comments.bodies[42])
}

func TestReporterCommentError(t *testing.T) {
	boom := errors.New("boom")
	r, err := progress.New(&fakeComments{fail: boom}, 7)
	require.NoError(t, err)
	require.ErrorIs(t, r.Queued(context.Background()), boom)
	require.Zero(t, r.CommentID())
}

func TestNewErrors(t *testing.T) {
	for name, fn := range map[string]func() error{
		"nil commenter": func() error { _, err := progress.New(nil, 1); return err },
		"bad issue":     func() error { _, err := progress.New(&fakeComments{}, 0); return err },
		"nil recorder":  func() error { _, err := progress.New(&fakeComments{}, 1, progress.WithRecorder(nil, "x")); return err },
		"empty run ID":  func() error { _, err := progress.New(&fakeComments{}, 1, progress.WithRecorder(&fakeRecorder{}, "")); return err },
		"bad comment":   func() error { _, err := progress.New(&fakeComments{}, 1, progress.WithCommentID(0)); return err },
	} {
		t.Run(name, func(t *testing.T) {
			if fn() == nil {
				t.Error("New() = nil error")
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{{
		name: "timeout",
		err:  fmt.Errorf("run: %w", &rundriver.RunTimeoutError{Reason: rundriver.ReasonDuration}),
		want: "the run hit its duration limit",
	}, {
		name: "canceled",
		err:  fmt.Errorf("run aborted: %w", context.Canceled),
		want: "the run was aborted",
	}, {
		name: "provider",
		err:  fmt.Errorf("turn 3: %w", &provider.Error{Provider: "claude", Kind: provider.KindEmpty, Err: errors.New("no content")}),
		want: "the model provider failed (empty)",
	}, {
		name: "unknown tool",
		err:  &toolcall.UnknownToolError{Name: "rm_rf", Mode: toolcall.ModeCommit},
		want: `the model called an unknown tool "rm_rf"`,
	}, {
		name: "invalid arguments",
		err:  &toolcall.InvalidArgumentsError{Tool: "commit_change", Err: errors.New("missing diff")},
		want: "the model sent invalid arguments to commit_change",
	}, {
		name: "tool execution",
		err:  &toolcall.ToolExecutionError{Tool: "get_file_content", Err: errors.New("404")},
		want: "the get_file_content tool failed",
	}, {
		name: "no changes",
		err:  rundriver.ErrNoChanges,
		want: "the agent did not commit any changes",
	}, {
		name: "other",
		err:  errors.New("disk full"),
		want: "an internal error occurred",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := progress.Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, wanted %q", got, tt.want)
			}
		})
	}
}
