package perception

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"aide/internal/tools"
)

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srv *httptest.Server) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
	})
}

func TestChatParsesToolCalls(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "list_dir", "arguments": "{\"path\": \"/tmp\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5}
		}`))
	})

	resp, err := testClient(srv).Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "list /tmp"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	want := []ToolCall{{ID: "call_1", Name: "list_dir", Args: map[string]any{"path": "/tmp"}}}
	if diff := cmp.Diff(want, resp.ToolCalls); diff != "" {
		t.Errorf("tool calls mismatch (-want +got):\n%s", diff)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatPlainText(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"  the answer  "},"finish_reason":"stop"}]}`))
	})

	resp, err := testClient(srv).Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Text != "the answer" {
		t.Errorf("text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %v", resp.ToolCalls)
	}
}

func TestChatMalformedArgumentsIsModelError(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"choices": [{
				"message": {"tool_calls": [{
					"id": "call_1", "type": "function",
					"function": {"name": "read_file", "arguments": "{not json"}
				}]},
				"finish_reason": "tool_calls"
			}]
		}`))
	})

	_, err := testClient(srv).Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	})
	if err == nil {
		t.Fatal("expected error for malformed arguments")
	}
	var me *ModelError
	if !errors.As(err, &me) {
		t.Fatalf("error %v is not a *ModelError", err)
	}
	if me.Op != "parse" {
		t.Errorf("op = %q, want parse", me.Op)
	}
}

func TestChatNonOKStatusIsModelError(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid key"}}`, http.StatusUnauthorized)
	})

	_, err := testClient(srv).Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	})
	var me *ModelError
	if !errors.As(err, &me) {
		t.Fatalf("error %v is not a *ModelError", err)
	}
	if me.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", me.Status)
	}
}

func TestChatRetriesRateLimit(t *testing.T) {
	attempts := 0
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	})

	resp, err := testClient(srv).Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: RoleUser, Content: "q"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if resp.Text != "ok" {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestBuildMessagesWireFormat(t *testing.T) {
	var captured openAIRequest
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"x"},"finish_reason":"stop"}]}`))
	})

	_, err := testClient(srv).Chat(context.Background(), ChatRequest{
		System: "be brief",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "list /tmp"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "list_dir", Args: map[string]any{"path": "/tmp"}}}},
			{Role: RoleTool, ToolCallID: "c1", Content: `{"ok":true}`},
		},
		Tools: []ToolDefinition{{
			Name:        "list_dir",
			Description: "lists a directory",
			Schema: tools.Schema{
				Required:   []string{"path"},
				Properties: map[string]tools.Property{"path": {Type: "string", Description: "dir"}},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(captured.Messages) != 4 {
		t.Fatalf("messages = %d, want 4 (system + 3 turns)", len(captured.Messages))
	}
	if captured.Messages[0].Role != RoleSystem || captured.Messages[0].Content != "be brief" {
		t.Errorf("system message = %+v", captured.Messages[0])
	}
	if captured.Messages[2].ToolCalls[0].Function.Name != "list_dir" {
		t.Errorf("assistant tool call = %+v", captured.Messages[2].ToolCalls)
	}
	if captured.Messages[3].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", captured.Messages[3])
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "list_dir" {
		t.Fatalf("tools = %+v", captured.Tools)
	}
	params := captured.Tools[0].Function.Parameters
	if params["type"] != "object" {
		t.Errorf("parameters type = %v", params["type"])
	}
}

func TestGeminiBuildContents(t *testing.T) {
	c := NewGeminiClient(DefaultGeminiConfig("k"))

	contents := c.buildContents([]ChatMessage{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "list_dir", Name: "list_dir", Args: map[string]any{"path": "/tmp"}}}},
		{Role: RoleTool, ToolCallID: "list_dir", Content: `{"ok":true,"data":"x"}`},
	})

	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	if contents[1].Role != "model" || contents[1].Parts[0].FunctionCall == nil {
		t.Errorf("assistant content = %+v", contents[1])
	}
	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "list_dir" {
		t.Fatalf("tool content = %+v", contents[2])
	}
	if fr.Response["ok"] != true {
		t.Errorf("outcome JSON not decoded into response: %+v", fr.Response)
	}
}
