/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package googleprovider_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/provider/googleprovider"
	"chainguard.dev/issueagent/agents/provider/retry"
	"chainguard.dev/issueagent/agents/schema"
	"chainguard.dev/issueagent/agents/toolcall"
	"google.golang.org/genai"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *googleprovider.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	if err != nil {
		t.Fatalf("genai.NewClient() = %v", err)
	}
	p, err := googleprovider.New(client, googleprovider.WithRetryConfig(retry.Config{}))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return p
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var body map[string]any
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path: got %q, wanted a generateContent call", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
  "candidates": [{
    "content": {"role": "model", "parts": [
      {"functionCall": {"name": "explore_repository", "args": {"path": "src"}}},
      {"functionCall": {"name": "explain_decision", "args": {"why": "both"}}}
    ]},
    "finishReason": "STOP"
  }],
  "usageMetadata": {"promptTokenCount": 20, "candidatesTokenCount": 4}
}`)
	})

	resp, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{
			conversation.SystemMessage("explore"),
			conversation.UserMessage("issue body"),
		},
		Tools: []toolcall.Definition{{
			Name:        "explore_repository",
			Description: "Lists files.",
			Parameters:  schema.Parameters{Properties: map[string]any{"path": map[string]any{"type": "string"}}},
		}},
		SingleToolCall: true,
	})
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}

	if len(resp.ToolCalls) != 2 {
		t.Fatalf("tool calls: got %d, want 2 (truncation is the caller's job)", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.Name != "explore_repository" || first.ID == "" {
		t.Errorf("first call: got %+v", first)
	}
	if string(first.Arguments) != `{"path":"src"}` {
		t.Errorf("arguments: got %s, want %s", first.Arguments, `{"path":"src"}`)
	}
	if first.ID == resp.ToolCalls[1].ID {
		t.Errorf("generated ids collide: %q", first.ID)
	}
	if want := (conversation.Usage{InputTokens: 20, OutputTokens: 4}); resp.Usage != want {
		t.Errorf("usage: got %+v, want %+v", resp.Usage, want)
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Errorf("request has no systemInstruction: %v", body)
	}
}

func TestComplete_NoCandidates(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates": []}`)
	})

	_, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{conversation.SystemMessage("s"), conversation.UserMessage("u")},
	})
	if !provider.IsKind(err, provider.KindEmpty) {
		t.Errorf("Complete() = %v, wanted KindEmpty", err)
	}
}

func TestComplete_MalformedFunctionCall(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates": [{"finishReason": "MALFORMED_FUNCTION_CALL", "finishMessage": "bad json"}]}`)
	})

	_, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{conversation.SystemMessage("s"), conversation.UserMessage("u")},
	})
	if !provider.IsKind(err, provider.KindMalformed) {
		t.Errorf("Complete() = %v, wanted KindMalformed", err)
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":countTokens") {
			t.Errorf("path: got %q, wanted a countTokens call", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"totalTokens": 17}`)
	})

	got, err := p.CountTokens(context.Background(), []conversation.Message{
		conversation.SystemMessage("s"),
		conversation.UserMessage("u"),
	})
	if err != nil {
		t.Fatalf("CountTokens() = %v", err)
	}
	if got != 17 {
		t.Errorf("CountTokens() = %d, wanted 17", got)
	}
}
