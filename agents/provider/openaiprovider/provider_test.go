/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package openaiprovider_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chainguard.dev/issueagent/agents/conversation"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/provider/openaiprovider"
	"chainguard.dev/issueagent/agents/provider/retry"
	"chainguard.dev/issueagent/agents/schema"
	"chainguard.dev/issueagent/agents/toolcall"
	"github.com/google/go-cmp/cmp"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func newProvider(t *testing.T, handler http.HandlerFunc) *openaiprovider.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := openai.NewClient(
		option.WithBaseURL(srv.URL+"/v1/"),
		option.WithAPIKey("test"),
		option.WithMaxRetries(0),
	)
	p, err := openaiprovider.New(client, openaiprovider.WithRetryConfig(retry.Config{}))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return p
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var body map[string]any
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path: got %q, want /v1/chat/completions", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "commit_change", "arguments": "{\"file_path\":\"a.go\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 50, "completion_tokens": 9, "total_tokens": 59}
}`)
	})

	call := conversation.ToolCall{ID: "call_0", Name: "get_file_content", Arguments: json.RawMessage(`{"file_path":"a.go"}`)}
	resp, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{
			conversation.SystemMessage("commit mode"),
			conversation.SystemMessage("base"),
			conversation.UserMessage("fix a.go"),
			conversation.AssistantMessage("", call),
			conversation.ToolResultMessage(call, "package a"),
		},
		Tools: []toolcall.Definition{{
			Name:        "commit_change",
			Description: "Commits a diff.",
			Parameters: schema.Parameters{
				Properties: map[string]any{"file_path": map[string]any{"type": "string"}},
				Required:   []string{"file_path"},
			},
		}},
		SingleToolCall: true,
	})
	if err != nil {
		t.Fatalf("Complete() = %v", err)
	}

	want := &provider.Response{
		ToolCalls: []conversation.ToolCall{{
			ID:        "call_1",
			Name:      "commit_change",
			Arguments: json.RawMessage(`{"file_path":"a.go"}`),
		}},
		Usage: conversation.Usage{InputTokens: 50, OutputTokens: 9},
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Complete() (-want +got):\n%s", diff)
	}

	if body["parallel_tool_calls"] != false {
		t.Errorf("parallel_tool_calls: got %v, want false", body["parallel_tool_calls"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("messages: got %d, want 4", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "commit mode\n\nbase" {
		t.Errorf("system message: got %v", first)
	}
	last := msgs[3].(map[string]any)
	if last["role"] != "tool" || last["tool_call_id"] != "call_0" {
		t.Errorf("tool message: got %v", last)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"gpt-4o","choices":[]}`)
	})

	_, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{conversation.SystemMessage("s"), conversation.UserMessage("u")},
	})
	if !provider.IsKind(err, provider.KindEmpty) {
		t.Errorf("Complete() = %v, wanted KindEmpty", err)
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()

	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	_, err := p.Complete(context.Background(), provider.Request{
		Messages: []conversation.Message{conversation.SystemMessage("s"), conversation.UserMessage("u")},
	})
	if !provider.IsKind(err, provider.KindAPI) {
		t.Errorf("Complete() = %v, wanted KindAPI", err)
	}
}
