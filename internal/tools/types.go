// Package tools defines the tool contract the model-facing loop operates on.
//
// A Tool pairs a JSON-schema-like argument description with an execute
// function. Every tool returns an Outcome of identical shape, so the
// orchestrator can serialize results back to the model without caring which
// tool produced them.
package tools

import (
	"context"
	"encoding/json"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the JSON schema for tool arguments.
// This enables LLM tool calling with proper validation.
type Schema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// Outcome is the uniform result of every tool execution. The model only
// ever sees the JSON form of this struct, regardless of which tool ran.
type Outcome struct {
	// OK reports whether the tool achieved its effect.
	OK bool `json:"ok"`

	// Data carries the tool's payload on success. Shape is tool-specific.
	Data any `json:"data,omitempty"`

	// Error is a human-readable failure description. Non-empty iff OK is false.
	Error string `json:"error,omitempty"`

	// ExitCode is set by tools that ran an external process.
	// Nil when no process was involved.
	ExitCode *int `json:"exit_code,omitempty"`
}

// Ok builds a success outcome carrying data.
func Ok(data any) Outcome {
	return Outcome{OK: true, Data: data}
}

// Fail builds a failure outcome with the given message.
func Fail(msg string) Outcome {
	return Outcome{OK: false, Error: msg}
}

// Failf builds a failure outcome from an error.
func Failf(err error) Outcome {
	return Outcome{OK: false, Error: err.Error()}
}

// JSON renders the outcome for the model turn. Marshal errors are
// impossible for the types tools put in Data, but fall back to a plain
// error outcome rather than panic.
func (o Outcome) JSON() string {
	data, err := json.Marshal(o)
	if err != nil {
		return `{"ok":false,"error":"outcome serialization failed"}`
	}
	return string(data)
}

// ExecuteFunc is the signature for tool execution.
// It never returns a Go error; failures are expressed in the Outcome.
type ExecuteFunc func(ctx context.Context, args map[string]any) Outcome

// Tool defines a capability the model may invoke.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	// Used for LLM tool calling and documentation.
	Description string

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema Schema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Declaration is the provider-neutral description of a tool, handed to the
// model so it knows what it may call.
type Declaration struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`
}

// =============================================================================
// ARGUMENT EXTRACTION HELPERS
// =============================================================================

// StringArg extracts a string argument, returning "" when absent or mistyped.
func StringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// StringSliceArg extracts a string-array argument. JSON decoding delivers
// arrays as []any, so both forms are accepted.
func StringSliceArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// NumberArg extracts a numeric argument. JSON decoding delivers numbers as
// float64; integer inputs are accepted too.
func NumberArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
