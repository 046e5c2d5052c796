/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package evals_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"chainguard.dev/issueagent/agents/agenttrace"
	"chainguard.dev/issueagent/agents/evals"
	"github.com/google/go-cmp/cmp"
)

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu       sync.Mutex
	failures []string
	logs     []string
	count    int64
}

func (r *recorder) Fail(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, msg)
}

func (r *recorder) Log(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, msg)
}

func (r *recorder) Grade(score float64, reasoning string) {
	r.Log(fmt.Sprintf("grade %.2f: %s", score, reasoning))
}

func (r *recorder) Increment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *recorder) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type call struct {
	name string
	args string
	err  error
}

// runTrace drives a trace the way the run driver does and returns it once
// recorded.
func runTrace(t *testing.T, calls []call, rejected int, tokens int64, runErr error) *agenttrace.Trace[string] {
	t.Helper()
	var got *agenttrace.Trace[string]
	tracer := agenttrace.ByCode(func(tr *agenttrace.Trace[string]) { got = tr })

	trace := tracer.NewTrace(context.Background(), "Fix the parser")
	for i, c := range calls {
		tc := trace.StartToolCall(fmt.Sprintf("call-%d", i), c.name, json.RawMessage(c.args))
		tc.Complete("ok", c.err)
	}
	for i := range rejected {
		trace.RejectDuplicate(fmt.Sprintf("dup-%d", i), "get_file_content", json.RawMessage(`{"path":"a.go"}`))
	}
	trace.RecordTokenUsage("claude", tokens/2, tokens-tokens/2)
	trace.Complete("summary", runErr)
	if got == nil {
		t.Fatal("trace was not recorded")
	}
	return got
}

func TestChecks(t *testing.T) {
	explore := call{name: "get_file_content", args: `{"path":"parser/parser.go"}`}
	commit := call{name: "commit_change", args: `{"path":"parser/parser.go","patch":"@@"}`}

	tests := []struct {
		name     string
		check    evals.Check[string]
		calls    []call
		rejected int
		tokens   int64
		runErr   error
		want     []string
	}{{
		name:  "minimum met",
		check: evals.MinimumNToolCalls[string](2),
		calls: []call{explore, commit},
	}, {
		name:  "minimum missed",
		check: evals.MinimumNToolCalls[string](3),
		calls: []call{explore, commit},
		want:  []string{"tool call count: got = 2, wanted >= 3"},
	}, {
		name:  "maximum exceeded",
		check: evals.MaximumNToolCalls[string](1),
		calls: []call{explore, commit},
		want:  []string{"tool call count: got = 2, wanted <= 1"},
	}, {
		name:  "only allowed tools",
		check: evals.OnlyToolCalls[string]("get_file_content", "commit_change"),
		calls: []call{explore, commit},
	}, {
		name:  "unexpected tool",
		check: evals.OnlyToolCalls[string]("get_file_content"),
		calls: []call{explore, commit},
		want:  []string{`unexpected tool call "commit_change", only allowed: [get_file_content]`},
	}, {
		name:  "required tools present",
		check: evals.RequiredToolCalls[string]("commit_change"),
		calls: []call{explore, commit},
	}, {
		name:  "required tools missing",
		check: evals.RequiredToolCalls[string]("update_comment", "commit_change"),
		calls: []call{explore},
		want:  []string{"missing required tool calls: [commit_change update_comment]"},
	}, {
		name:  "no errors",
		check: evals.NoErrors[string](),
		calls: []call{explore, commit},
	}, {
		name:   "run error",
		check:  evals.NoErrors[string](),
		calls:  []call{explore},
		runErr: errors.New("turn limit"),
		want:   []string{"trace error: got = turn limit, wanted = nil"},
	}, {
		name:  "tool error",
		check: evals.NoErrors[string](),
		calls: []call{explore, {name: "commit_change", err: errors.New("conflict")}},
		want:  []string{"tool call commit_change error: got = conflict, wanted = nil"},
	}, {
		name:     "rejections within limit",
		check:    evals.MaxRejections[string](1),
		calls:    []call{explore},
		rejected: 1,
	}, {
		name:     "too many rejections",
		check:    evals.MaxRejections[string](0),
		calls:    []call{explore},
		rejected: 2,
		want:     []string{"duplicate tool calls: got = 2, wanted <= 0"},
	}, {
		name:   "over token budget",
		check:  evals.TokenBudget[string](1000),
		tokens: 1500,
		want:   []string{"token usage: got = 1500, wanted <= 1000"},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trace := runTrace(t, tt.calls, tt.rejected, tt.tokens, tt.runErr)
			obs := &recorder{}
			tt.check(obs, trace)
			if diff := cmp.Diff(tt.want, obs.failures); diff != "" {
				t.Errorf("failures (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenBudgetGrades(t *testing.T) {
	trace := runTrace(t, nil, 0, 250, nil)
	obs := &recorder{}
	evals.TokenBudget[string](1000)(obs, trace)

	if len(obs.failures) != 0 {
		t.Fatalf("failures: got = %v, wanted none", obs.failures)
	}
	if diff := cmp.Diff([]string{"grade 0.75: used 250 of 1000 tokens"}, obs.logs); diff != "" {
		t.Errorf("logs (-want +got):\n%s", diff)
	}
}

func TestToolCallNamed(t *testing.T) {
	requirePath := func(tc *agenttrace.ToolCall[string]) error {
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return err
		}
		if !strings.HasPrefix(args.Path, "parser/") {
			return fmt.Errorf("path %q is outside parser/", args.Path)
		}
		return nil
	}
	check := evals.ToolCallNamed[string]("commit_change", requirePath)

	tests := []struct {
		name  string
		calls []call
		want  []string
	}{{
		name:  "valid",
		calls: []call{{name: "commit_change", args: `{"path":"parser/lexer.go"}`}},
	}, {
		name:  "invalid",
		calls: []call{{name: "commit_change", args: `{"path":"README.md"}`}},
		want:  []string{`tool call commit_change validation failed: path "README.md" is outside parser/`},
	}, {
		name:  "absent",
		calls: []call{{name: "list_tree", args: `{}`}},
		want:  []string{`tool call named "commit_change": got = not found, wanted = found`},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recorder{}
			check(obs, runTrace(t, tt.calls, 0, 0, nil))
			if diff := cmp.Diff(tt.want, obs.failures); diff != "" {
				t.Errorf("failures (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildTracer(t *testing.T) {
	root := evals.NewNamespacedObserver(func(string) *evals.ResultCollector {
		return evals.NewResultCollector(&recorder{})
	})

	var extra int
	tracer := evals.BuildTracer(root, map[string]evals.Check[string]{
		"commits":       evals.RequiredToolCalls[string]("commit_change"),
		"no-duplicates": evals.MaxRejections[string](0),
	}, func(*agenttrace.Trace[string]) { extra++ })

	ctx := agenttrace.WithTracer(context.Background(), tracer)
	trace := agenttrace.StartTrace[string](ctx, "Fix the parser")
	trace.StartToolCall("1", "get_file_content", json.RawMessage(`{"path":"a.go"}`)).Complete("package a", nil)
	trace.RejectDuplicate("2", "get_file_content", json.RawMessage(`{"path":"a.go"}`))
	trace.Complete("", nil)

	if extra != 1 {
		t.Errorf("extra callback calls: got = %d, wanted = 1", extra)
	}
	want := map[string][]string{
		"/":              nil,
		"/commits":       {"missing required tool calls: [commit_change]"},
		"/no-duplicates": {"duplicate tool calls: got = 1, wanted <= 0"},
	}
	got := map[string][]string{}
	root.Walk(func(name string, rc *evals.ResultCollector) {
		if name != "/" && rc.Total() != 1 {
			t.Errorf("%s total: got = %d, wanted = 1", name, rc.Total())
		}
		if f := rc.Failures(); len(f) > 0 {
			got[name] = f
		} else {
			got[name] = nil
		}
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("failures by check (-want +got):\n%s", diff)
	}
}
