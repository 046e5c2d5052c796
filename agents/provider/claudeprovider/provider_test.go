/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package claudeprovider_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/provider/claudeprovider"
	"chainguard.dev/issueagent/agents/provider/retry"
	"chainguard.dev/issueagent/agents/schema"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/go-cmp/cmp"
)

const toolUseResponse = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [
    {"type": "text", "text": "Reading the parser."},
    {"type": "tool_use", "id": "toolu_1", "name": "get_file_content", "input": {"file_path": "parser.go"}}
  ],
  "stop_reason": "tool_use",
  "usage": {"input_tokens": 120, "output_tokens": 30}
}`

func newProvider(t *testing.T, handler http.HandlerFunc) *claudeprovider.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := anthropic.NewClient(
		option.WithBaseURL(srv.URL),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	p, err := claudeprovider.New(client, claudeprovider.WithRetryConfig(retry.Config{}))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return p
}

func definitions() []toolcall.Definition {
	return []toolcall.Definition{{
		Name:        "get_file_content",
		Description: "Reads a file.",
		Category:    toolcall.ReadOnly,
		Parameters: schema.Parameters{
			Properties: map[string]any{"file_path": map[string]any{"type": "string"}},
			Required:   []string{"file_path"},
		},
	}}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var body map[string]any
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path: got %q, want /v1/messages", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, toolUseResponse)
	})

	call := conversation.ToolCall{ID: "toolu_0", Name: "explore_repository", Arguments: json.RawMessage(`{}`)}
	resp, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{
			conversation.SystemMessage("mode instruction"),
			conversation.SystemMessage("base instruction"),
			conversation.UserMessage("fix the parser"),
			conversation.AssistantMessage("", call),
			conversation.ToolResultMessage(call, "parser.go\nmain.go"),
		},
		Tools:          definitions(),
		SingleToolCall: true,
	})
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}

	want := &provider.Response{
		Text: "Reading the parser.",
		ToolCalls: []conversation.ToolCall{{
			ID:        "toolu_1",
			Name:      "get_file_content",
			Arguments: json.RawMessage(`{"file_path": "parser.go"}`),
		}},
		Usage: conversation.Usage{InputTokens: 120, OutputTokens: 30},
	}
	if diff := cmp.Diff(want.Text, resp.Text); diff != "" {
		t.Errorf("text (-want +got):\n%s", diff)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Name != "get_file_content" {
		t.Errorf("tool calls: got %+v, want %+v", resp.ToolCalls, want.ToolCalls)
	}
	var args map[string]any
	if err := json.Unmarshal(resp.ToolCalls[0].Arguments, &args); err != nil || args["file_path"] != "parser.go" {
		t.Errorf("arguments: got %s", resp.ToolCalls[0].Arguments)
	}
	if resp.Usage != want.Usage {
		t.Errorf("usage: got %+v, want %+v", resp.Usage, want.Usage)
	}

	// The request folds the system messages together and disables parallel tool use.
	system, _ := body["system"].([]any)
	if len(system) != 1 || system[0].(map[string]any)["text"] != "mode instruction\n\nbase instruction" {
		t.Errorf("system: got %v", body["system"])
	}
	choice, _ := body["tool_choice"].(map[string]any)
	if choice["type"] != "auto" || choice["disable_parallel_tool_use"] != true {
		t.Errorf("tool_choice: got %v", body["tool_choice"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 3 {
		t.Errorf("messages: got %d, want 3", len(msgs))
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":0}}`)
	})

	_, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{conversation.SystemMessage("s"), conversation.UserMessage("u")},
	})
	if !provider.IsKind(err, provider.KindEmpty) {
		t.Errorf("Complete() = %v, wanted KindEmpty", err)
	}
}

func TestComplete_APIError(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	})

	_, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{conversation.SystemMessage("s"), conversation.UserMessage("u")},
	})
	if !provider.IsKind(err, provider.KindAPI) {
		t.Errorf("Complete() = %v, wanted KindAPI", err)
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages/count_tokens" {
			t.Errorf("path: got %q, want /v1/messages/count_tokens", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"input_tokens": 42}`)
	})

	got, err := p.CountTokens(context.Background(), []conversation.Message{
		conversation.SystemMessage("s"),
		conversation.UserMessage("u"),
	})
	if err != nil {
		t.Fatalf("CountTokens() = %v", err)
	}
	if got != 42 {
		t.Errorf("CountTokens() = %d, wanted 42", got)
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	client := anthropic.NewClient(option.WithAPIKey("test"))
	tests := []struct {
		name    string
		opt     claudeprovider.Option
		wantErr bool
	}{
		{name: "model", opt: claudeprovider.WithModel("claude-opus-4-1")},
		{name: "foreign model", opt: claudeprovider.WithModel("gpt-4o"), wantErr: true},
		{name: "max tokens", opt: claudeprovider.WithMaxTokens(1024)},
		{name: "zero max tokens", opt: claudeprovider.WithMaxTokens(0), wantErr: true},
		{name: "temperature", opt: claudeprovider.WithTemperature(0.5)},
		{name: "hot temperature", opt: claudeprovider.WithTemperature(1.5), wantErr: true},
		{name: "bad retry", opt: claudeprovider.WithRetryConfig(retry.Config{MaxRetries: -1}), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := claudeprovider.New(client, tt.opt); (err != nil) != tt.wantErr {
				t.Errorf("New() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
