// Package perception is the boundary to the hosted language model. It
// translates a provider-neutral chat request (history, system prompt, tool
// declarations) into each provider's wire format and parses the reply into
// text plus structured tool calls.
package perception

import (
	"context"

	"aide/internal/tools"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatClient is implemented by every provider client.
type ChatClient interface {
	// Chat sends the conversation and returns the model's next turn.
	// All failures (transport, auth, decode, malformed output) come back
	// as a *ModelError.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Model returns the configured model identifier.
	Model() string
}

// ChatRequest is a full conversation turn request.
type ChatRequest struct {
	// System is the system prompt, sent the provider's preferred way.
	System string

	// Messages is the conversation history, oldest first.
	Messages []ChatMessage

	// Tools declares what the model may call.
	Tools []ToolDefinition
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	// Role is one of the Role* constants.
	Role string `json:"role"`

	// Content is the text of the turn. For tool turns it carries the
	// JSON-serialized outcome.
	Content string `json:"content"`

	// ToolCallID links a tool turn to the assistant call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls are the calls an assistant turn requested, if any.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider's call identifier, echoed back with the result.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Args are the decoded arguments.
	Args map[string]any `json:"args"`
}

// ToolDefinition describes one tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      tools.Schema
}

// FromDeclarations converts registry declarations into tool definitions.
func FromDeclarations(decls []tools.Declaration) []ToolDefinition {
	defs := make([]ToolDefinition, len(decls))
	for i, d := range decls {
		defs[i] = ToolDefinition{Name: d.Name, Description: d.Description, Schema: d.Schema}
	}
	return defs
}

// ChatResponse is the model's next turn.
type ChatResponse struct {
	// Text is the assistant's content, possibly empty when only tools
	// were called.
	Text string

	// ToolCalls are requested invocations, in the model's order.
	ToolCalls []ToolCall

	// StopReason is the provider's termination reason, normalized only
	// in that tool-call stops always carry ToolCalls.
	StopReason string

	// Usage reports token consumption when the provider provides it.
	Usage Usage
}

// Usage reports token counts for one model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// schemaParameters renders a tool schema as the JSON-schema object both
// providers expect for function parameters.
func schemaParameters(s tools.Schema) map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		params["required"] = s.Required
	}
	return params
}
