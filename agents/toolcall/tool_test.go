/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"chainguard.dev/issueagent/agents/toolcall"
	"chainguard.dev/issueagent/agents/toolcall/callbacks"
	"github.com/google/go-cmp/cmp"
)

type fakeRepo struct {
	listed    []string
	fetched   []string
	committed []callbacks.Change
	comments  []string
	failWith  error
}

func (f *fakeRepo) callbacks() callbacks.Repository {
	return callbacks.Repository{
		ListTree: func(_ context.Context, path string) ([]callbacks.TreeEntry, error) {
			f.listed = append(f.listed, path)
			if f.failWith != nil {
				return nil, f.failWith
			}
			return []callbacks.TreeEntry{
				{Path: "src", Dir: true},
				{Path: "src/main.go", Size: 10},
				{Path: "README.md", Size: 5},
			}, nil
		},
		GetFileContent: func(_ context.Context, _, _, path, _ string) (string, error) {
			f.fetched = append(f.fetched, path)
			if f.failWith != nil {
				return "", f.failWith
			}
			return "package main\n", nil
		},
		CommitChange: func(_ context.Context, change callbacks.Change) (callbacks.CommitResult, error) {
			f.committed = append(f.committed, change)
			if f.failWith != nil {
				return callbacks.CommitResult{}, f.failWith
			}
			return callbacks.CommitResult{SHA: "abc123", Status: callbacks.FileModified}, nil
		},
		UpdateComment: func(_ context.Context, body string) error {
			f.comments = append(f.comments, body)
			return f.failWith
		},
	}
}

var run = toolcall.RunContext{Owner: "octo", Repo: "hello", Branch: "issueagent/issue-#1-x"}

func newRegistry(t *testing.T, f *fakeRepo) *toolcall.Registry {
	t.Helper()
	reg, err := toolcall.NewRegistry(f.callbacks(), run)
	if err != nil {
		t.Fatalf("NewRegistry() = %v", err)
	}
	return reg
}

func TestNewRegistryValidates(t *testing.T) {
	if _, err := toolcall.NewRegistry(callbacks.Repository{}, run); err == nil {
		t.Error("NewRegistry() with no callbacks = nil, wanted error")
	}
	f := &fakeRepo{}
	if _, err := toolcall.NewRegistry(f.callbacks(), toolcall.RunContext{Owner: "octo"}); err == nil {
		t.Error("NewRegistry() with partial run context = nil, wanted error")
	}
}

func TestSchemasFor(t *testing.T) {
	reg := newRegistry(t, &fakeRepo{})

	tests := []struct {
		mode toolcall.Mode
		want []string
	}{
		{toolcall.ModeExplore, []string{"explore_repository", "explain_decision"}},
		{toolcall.ModeGet, []string{"get_file_content", "explain_decision"}},
		{toolcall.ModeCommit, []string{"commit_change", "explain_decision", "finish"}},
		{toolcall.ModeComment, []string{"update_comment"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			var got []string
			for _, def := range reg.SchemasFor(tt.mode) {
				got = append(got, def.Name)
				if def.Description == "" {
					t.Errorf("%s has no description", def.Name)
				}
				if def.Parameters.Properties == nil {
					t.Errorf("%s has no properties", def.Name)
				}
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SchemasFor(%s) mismatch (-want +got):\n%s", tt.mode, diff)
			}
		})
	}
}

func TestSchemasRequired(t *testing.T) {
	reg := newRegistry(t, &fakeRepo{})
	for _, def := range reg.SchemasFor(toolcall.ModeGet) {
		if def.Name != toolcall.NameGetFileContent {
			continue
		}
		want := []string{"owner", "repo", "file_path", "ref"}
		if diff := cmp.Diff(want, def.Parameters.Required); diff != "" {
			t.Errorf("required mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	reg := newRegistry(t, &fakeRepo{})

	tests := []struct {
		name        string
		mode        toolcall.Mode
		tool        string
		args        string
		wantUnknown bool
	}{{
		name:        "not a tool",
		mode:        toolcall.ModeExplore,
		tool:        "rm_rf",
		args:        `{}`,
		wantUnknown: true,
	}, {
		name:        "tool outside mode",
		mode:        toolcall.ModeExplore,
		tool:        toolcall.NameCommitChange,
		args:        `{}`,
		wantUnknown: true,
	}, {
		name: "missing required",
		mode: toolcall.ModeGet,
		tool: toolcall.NameGetFileContent,
		args: `{"owner":"octo","repo":"hello"}`,
	}, {
		name: "wrong type",
		mode: toolcall.ModeExplore,
		tool: toolcall.NameExploreRepository,
		args: `{"path": 7}`,
	}, {
		name: "not an object",
		mode: toolcall.ModeCommit,
		tool: toolcall.NameFinish,
		args: `"done"`,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Decode(tt.mode, tt.tool, json.RawMessage(tt.args))
			var unknown *toolcall.UnknownToolError
			var invalid *toolcall.InvalidArgumentsError
			switch {
			case tt.wantUnknown && !errors.As(err, &unknown):
				t.Errorf("Decode() = %v, want UnknownToolError", err)
			case !tt.wantUnknown && !errors.As(err, &invalid):
				t.Errorf("Decode() = %v, want InvalidArgumentsError", err)
			}
		})
	}
}

func TestVisible(t *testing.T) {
	reg := newRegistry(t, &fakeRepo{})

	for _, mode := range toolcall.Modes {
		for _, def := range reg.SchemasFor(mode) {
			if !reg.Visible(mode, def.Name) {
				t.Errorf("Visible(%s, %s) = false for a listed tool", mode, def.Name)
			}
		}
	}
	if reg.Visible(toolcall.ModeExplore, toolcall.NameGetFileContent) {
		t.Error("get_file_content is visible in explore mode")
	}
	if reg.Visible(toolcall.ModeCommit, "rm_rf") {
		t.Error("an unregistered name is visible")
	}
}

func TestDecodeVariants(t *testing.T) {
	reg := newRegistry(t, &fakeRepo{})

	inv, err := reg.Decode(toolcall.ModeGet, toolcall.NameGetFileContent,
		json.RawMessage(`{"owner":"octo","repo":"hello","file_path":"a.go","ref":"main"}`))
	if err != nil {
		t.Fatal(err)
	}
	want := toolcall.GetFileContent{Owner: "octo", Repo: "hello", FilePath: "a.go", Ref: "main"}
	if diff := cmp.Diff(toolcall.Invocation(want), inv); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}

	inv, err = reg.Decode(toolcall.ModeExplore, toolcall.NameExploreRepository, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(toolcall.Invocation(toolcall.ExploreRepository{}), inv); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeExplore(t *testing.T) {
	f := &fakeRepo{}
	reg := newRegistry(t, f)

	res, err := reg.Invoke(context.Background(), toolcall.ModeExplore, toolcall.NameExploreRepository, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if diff := cmp.Diff([]string{"README.md", "src/main.go"}, res.Paths); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(res.Output, "src/\n") {
		t.Errorf("Output = %q, want directory marker", res.Output)
	}
}

func TestInvokeGetFileContent(t *testing.T) {
	f := &fakeRepo{}
	reg := newRegistry(t, f)

	res, err := reg.Invoke(context.Background(), toolcall.ModeGet, toolcall.NameGetFileContent,
		json.RawMessage(`{"owner":"octo","repo":"hello","file_path":"src/main.go","ref":"main"}`))
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if res.FetchedPath != "src/main.go" {
		t.Errorf("FetchedPath = %q, want %q", res.FetchedPath, "src/main.go")
	}
	if !strings.HasSuffix(res.Output, "package main\n") {
		t.Errorf("Output = %q, want file content", res.Output)
	}
	if len(f.fetched) != 1 {
		t.Errorf("fetched %d times, want 1", len(f.fetched))
	}
}

func TestInvokeCommitChange(t *testing.T) {
	f := &fakeRepo{}
	reg := newRegistry(t, f)

	args := `{"owner":"octo","repo":"hello","file_path":"a.go","diff":"--- a/a.go\n+++ b/a.go\n","branch":"issueagent/issue-#1-x"}`
	res, err := reg.Invoke(context.Background(), toolcall.ModeCommit, toolcall.NameCommitChange, json.RawMessage(args))
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if res.Commit == nil || res.Commit.SHA != "abc123" || res.Commit.FilePath != "a.go" {
		t.Errorf("Commit = %+v, want a.go at abc123", res.Commit)
	}
	if len(f.committed) != 1 {
		t.Fatalf("committed %d times, want 1", len(f.committed))
	}
}

func TestInvokeCommitForeignTarget(t *testing.T) {
	f := &fakeRepo{}
	reg := newRegistry(t, f)

	for _, args := range []string{
		`{"owner":"evil","repo":"hello","file_path":"a.go","diff":"x","branch":"issueagent/issue-#1-x"}`,
		`{"owner":"octo","repo":"other","file_path":"a.go","diff":"x","branch":"issueagent/issue-#1-x"}`,
		`{"owner":"octo","repo":"hello","file_path":"a.go","diff":"x","branch":"main"}`,
	} {
		_, err := reg.Invoke(context.Background(), toolcall.ModeCommit, toolcall.NameCommitChange, json.RawMessage(args))
		var execErr *toolcall.ToolExecutionError
		if !errors.As(err, &execErr) || !errors.Is(err, toolcall.ErrForeignTarget) {
			t.Errorf("Invoke(%s) = %v, want foreign target error", args, err)
		}
	}
	if len(f.committed) != 0 {
		t.Errorf("committed %d times, want 0", len(f.committed))
	}
}

func TestInvokeWrapsCapabilityErrors(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeRepo{failWith: boom}
	reg := newRegistry(t, f)

	_, err := reg.Invoke(context.Background(), toolcall.ModeComment, toolcall.NameUpdateComment, json.RawMessage(`{"body":"hi"}`))
	var execErr *toolcall.ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Invoke() = %v, want ToolExecutionError", err)
	}
	if execErr.Tool != toolcall.NameUpdateComment || !errors.Is(err, boom) {
		t.Errorf("ToolExecutionError = %+v, want update_comment wrapping boom", execErr)
	}
}

func TestInvokeNoSideEffects(t *testing.T) {
	f := &fakeRepo{}
	reg := newRegistry(t, f)

	res, err := reg.Invoke(context.Background(), toolcall.ModeCommit, toolcall.NameExplainDecision, json.RawMessage(`{"why":"the test fails"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Output == "" {
		t.Error("explain_decision returned empty output")
	}

	res, err = reg.Invoke(context.Background(), toolcall.ModeCommit, toolcall.NameFinish, json.RawMessage(`{"summary":"fixed"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary != "fixed" {
		t.Errorf("Summary = %q, want %q", res.Summary, "fixed")
	}
	if len(f.committed)+len(f.fetched)+len(f.listed)+len(f.comments) != 0 {
		t.Error("audit and terminal tools touched the repository")
	}
}

func TestCategoryOf(t *testing.T) {
	tests := map[string]toolcall.Category{
		toolcall.NameExploreRepository: toolcall.ReadOnly,
		toolcall.NameGetFileContent:    toolcall.ReadOnly,
		toolcall.NameCommitChange:      toolcall.Mutating,
		toolcall.NameUpdateComment:     toolcall.Mutating,
		toolcall.NameExplainDecision:   toolcall.Audit,
		toolcall.NameFinish:            toolcall.Terminal,
	}
	for name, want := range tests {
		got, ok := toolcall.CategoryOf(name)
		if !ok || got != want {
			t.Errorf("CategoryOf(%s) = %v, %v, want %v", name, got, ok, want)
		}
	}
	if _, ok := toolcall.CategoryOf("nope"); ok {
		t.Error("CategoryOf(nope) reported a known tool")
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range toolcall.Modes {
		got, err := toolcall.ParseMode(string(m))
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m, got, err)
		}
	}
	if _, err := toolcall.ParseMode("delete"); err == nil {
		t.Error("ParseMode(delete) = nil error")
	}
}
