/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"chainguard.dev/issueagent/agents/agenttrace"
	"chainguard.dev/issueagent/agents/rundriver"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/repoclient"
	"chainguard.dev/issueagent/runregistry"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-envconfig"
)

func TestParseIssueRef(t *testing.T) {
	tests := []struct {
		ref       string
		owner     string
		repo      string
		number    int
		wantError bool
	}{
		{ref: "acme/widget#7", owner: "acme", repo: "widget", number: 7},
		{ref: "my-org/repo.go#123", owner: "my-org", repo: "repo.go", number: 123},
		{ref: "acme/widget", wantError: true},
		{ref: "acme#7", wantError: true},
		{ref: "acme/widget#0", wantError: true},
		{ref: "acme/widget#x", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			owner, repo, number, err := parseIssueRef(tt.ref)
			if tt.wantError {
				if err == nil {
					t.Errorf("parseIssueRef() = nil error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseIssueRef() = %v", err)
			}
			if owner != tt.owner || repo != tt.repo || number != tt.number {
				t.Errorf("parseIssueRef() = %s, %s, %d", owner, repo, number)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	ctx := context.Background()

	cfg, err := loadConfigFrom(ctx, envconfig.MapLookuper(map[string]string{
		"GITHUB_TOKEN":      "ghp_x",
		"ANTHROPIC_API_KEY": "sk-ant",
	}))
	if err != nil {
		t.Fatalf("loadConfigFrom() = %v", err)
	}
	want := config{
		Port:              8080,
		MetricsPort:       2112,
		ProductID:         "issueagent",
		WebhookRPS:        10,
		GitHubToken:       "ghp_x",
		ModelProvider:     "claude",
		AnthropicAPIKey:   "sk-ant",
		PollInterval:      500 * time.Millisecond,
		PollMaxAttempts:   240,
		RegistryBackend:   "badger",
		StaleAfter:        time.Hour,
		MaxConcurrentRuns: 4,
	}
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
	if pc := cfg.pollConfig(); pc.Backoff != nil || pc.MaxAttempts != 240 {
		t.Errorf("pollConfig() = %+v", pc)
	}

	for name, env := range map[string]map[string]string{
		"no credentials":       {"ANTHROPIC_API_KEY": "sk-ant"},
		"app without key":      {"GITHUB_APP_ID": "12", "ANTHROPIC_API_KEY": "sk-ant"},
		"unknown provider":     {"GITHUB_TOKEN": "x", "MODEL_PROVIDER": "llama"},
		"missing model key":    {"GITHUB_TOKEN": "x", "MODEL_PROVIDER": "gemini"},
		"assistants no id":     {"GITHUB_TOKEN": "x", "MODEL_PROVIDER": "assistants", "OPENAI_API_KEY": "sk"},
		"postgres without dsn": {"GITHUB_TOKEN": "x", "ANTHROPIC_API_KEY": "sk-ant", "REGISTRY_BACKEND": "postgres"},
		"slash in product":     {"GITHUB_TOKEN": "x", "ANTHROPIC_API_KEY": "sk-ant", "PRODUCT_ID": "a/b"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := loadConfigFrom(ctx, envconfig.MapLookuper(env)); err == nil {
				t.Error("loadConfigFrom() = nil error")
			}
		})
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config{RegistryBackend: "sqlite", RegistryDSN: t.TempDir() + "/runs.db", StaleAfter: time.Hour}
	store, err := cfg.openStore(ctx)
	if err != nil {
		t.Fatalf("openStore() = %v", err)
	}
	defer store.Close()

	ok, err := store.StartIfAbsent(ctx, "acme/widget#7", 1)
	if err != nil || !ok {
		t.Fatalf("StartIfAbsent() = %v, %v", ok, err)
	}
}

func TestRenderRuns(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	if err := renderRuns(&buf, []runregistry.Run{{
		ID:        "acme/widget#7",
		Status:    runregistry.StatusCompleted,
		Progress:  100,
		Merged:    true,
		StartedAt: at,
		UpdatedAt: at.Add(time.Minute),
	}}); err != nil {
		t.Fatalf("renderRuns() = %v", err)
	}
	for _, want := range []string{"acme/widget#7", "completed", "100%", "true", "2026-01-02T03:04:05Z", "2026-01-02T03:05:05Z"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output is missing %q:\n%s", want, buf.String())
		}
	}
}

func TestRenderFiles(t *testing.T) {
	var buf bytes.Buffer
	if err := renderFiles(&buf, []repoclient.FileChange{
		{Filename: "parser/parser.go", Status: "modified", Patch: "@@ -1 +1 @@\n-a\n+b"},
		{Filename: "logo.png", Status: "added"},
	}); err != nil {
		t.Fatalf("renderFiles() = %v", err)
	}
	for _, want := range []string{"parser/parser.go", "modified", "3", "logo.png", "added", "0"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output is missing %q:\n%s", want, buf.String())
		}
	}
}

func TestCountLines(t *testing.T) {
	for in, want := range map[string]int{"": 0, "a": 1, "a\nb": 2, "a\nb\n": 3} {
		if got := countLines(in); got != want {
			t.Errorf("countLines(%q) = %d, want %d", in, got, want)
		}
	}
}

func checkFailures(t *testing.T, check string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "issueagent_run_check_failures_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "check" && l.GetValue() == check {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWithRunChecks(t *testing.T) {
	checks := []string{"/commits", "/no-duplicates", "/no-errors", "/tokens"}
	before := map[string]float64{}
	for _, c := range checks {
		before[c] = checkFailures(t, c)
	}

	ctx := withRunChecks(context.Background(), rundriver.Config{MaxTokens: 100})
	trace := agenttrace.StartTrace[string](ctx, "Fix the parser")
	trace.RecordTokenUsage("claude", 100, 50)
	trace.Complete("", nil)

	want := map[string]float64{"/commits": 1, "/no-duplicates": 0, "/no-errors": 0, "/tokens": 1}
	got := map[string]float64{}
	for _, c := range checks {
		got[c] = checkFailures(t, c) - before[c]
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("check failures (-want +got):\n%s", diff)
	}
}

func TestCheckRun(t *testing.T) {
	var trace *agenttrace.Trace[string]
	tracer := agenttrace.ByCode(func(tr *agenttrace.Trace[string]) { trace = tr })
	tr := tracer.NewTrace(context.Background(), "Fix the parser")
	tr.StartToolCall("1", "get_file_content", []byte(`{"path":"a.go"}`)).Complete("package a", nil)
	tr.RejectDuplicate("2", "get_file_content", []byte(`{"path":"a.go"}`))
	tr.RecordTokenUsage("claude", 20, 5)
	tr.Complete("", nil)
	if trace == nil {
		t.Fatal("trace was not recorded")
	}

	got := checkRun(context.Background(), runChecks(rundriver.Config{MaxTokens: 100}), trace)
	want := map[string][]string{
		"/commits":       {"missing required tool calls: [commit_change]"},
		"/no-duplicates": {"duplicate tool calls: got = 1, wanted <= 0"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("checkRun() (-want +got):\n%s", diff)
	}

	if got := checkRun(context.Background(), runChecks(rundriver.Config{}), trace); len(got["/tokens"]) != 0 {
		t.Errorf("checkRun(no token budget) = %v, wanted no token check", got)
	}
}
