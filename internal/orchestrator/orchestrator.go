// Package orchestrator implements the tool-augmented conversation loop.
//
// The loop is a bounded state machine: assemble memory context, send the
// history plus tool declarations to the model, execute any requested tool
// calls through the registry, feed the outcomes back, and repeat until the
// model answers in plain text or the turn budget runs out.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aide/internal/logging"
	"aide/internal/memory"
	"aide/internal/perception"
	"aide/internal/tools"
)

// State is the terminal state of a run.
type State string

const (
	// StateDone means the model produced a final plain-text answer.
	StateDone State = "done"

	// StateBudgetExhausted means the turn budget ran out before a final
	// answer.
	StateBudgetExhausted State = "budget_exhausted"
)

// Config holds configuration for the orchestrator.
type Config struct {
	// SystemPrompt is the base system message for every run.
	SystemPrompt string

	// MaxTurns bounds the number of model calls per run.
	MaxTurns int

	// ToolTimeout is the maximum time for a single tool execution.
	ToolTimeout time.Duration

	// FallbackMessage is returned when the budget runs out and no
	// assistant content was produced.
	FallbackMessage string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:    "You are aide, a local assistant. Use the available tools to act on the user's behalf, then answer concisely.",
		MaxTurns:        10,
		ToolTimeout:     2 * time.Minute,
		FallbackMessage: "I ran out of turns before finishing. The partial work above is what I completed.",
	}
}

// Orchestrator runs the conversation loop.
type Orchestrator struct {
	client   perception.ChatClient
	registry *tools.Registry
	builder  *memory.ContextBuilder
	config   Config
}

// New creates an orchestrator. The builder may be nil; runs then start
// without memory context.
func New(client perception.ChatClient, registry *tools.Registry, builder *memory.ContextBuilder, config Config) *Orchestrator {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultConfig().MaxTurns
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = DefaultConfig().ToolTimeout
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultConfig().SystemPrompt
	}
	if config.FallbackMessage == "" {
		config.FallbackMessage = DefaultConfig().FallbackMessage
	}
	return &Orchestrator{
		client:   client,
		registry: registry,
		builder:  builder,
		config:   config,
	}
}

// Request is one user input to process.
type Request struct {
	// UserID attributes memory retrieval.
	UserID string

	// SessionID groups dialogue turns. Generated when empty.
	SessionID string

	// Input is the user's message.
	Input string
}

// Result is the outcome of one run.
type Result struct {
	// Text is the final answer shown to the user.
	Text string

	// State is how the run terminated.
	State State

	// ModelCalls is the number of model round-trips made.
	ModelCalls int

	// ToolCalls is the number of tool executions performed.
	ToolCalls int

	// History is the full conversation of the run, for persistence.
	History []perception.ChatMessage

	// Duration is how long the run took.
	Duration time.Duration
}

// Run processes one user input through the loop.
//
// Model failures terminate the run with the wrapped error. Tool failures
// never do; their ok:false outcomes are fed back like any other result.
// Exactly MaxTurns model calls are made in the worst case, never more.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	requestID := uuid.NewString()
	logging.Session("Run %s: session=%s input=%d chars", requestID, req.SessionID, len(req.Input))

	system := o.config.SystemPrompt
	if o.builder != nil {
		if memCtx := o.builder.Build(ctx, req.UserID, req.SessionID, req.Input); memCtx != "" {
			system = system + "\n\n" + memCtx
		}
	}

	history := []perception.ChatMessage{
		{Role: perception.RoleUser, Content: req.Input},
	}
	declarations := perception.FromDeclarations(o.registry.Declarations())

	result := &Result{State: StateBudgetExhausted}
	lastAssistantText := ""

	for turn := 0; turn < o.config.MaxTurns; turn++ {
		// Caller cancellation is honored at the iteration boundary.
		if err := ctx.Err(); err != nil {
			logging.SessionWarn("Run %s: canceled at turn %d", requestID, turn)
			return nil, err
		}

		resp, err := o.client.Chat(ctx, perception.ChatRequest{
			System:   system,
			Messages: history,
			Tools:    declarations,
		})
		result.ModelCalls++
		if err != nil {
			logging.SessionError("Run %s: model call %d failed: %v", requestID, result.ModelCalls, err)
			return nil, fmt.Errorf("model call failed: %w", err)
		}

		if resp.Text != "" {
			lastAssistantText = resp.Text
		}

		history = append(history, perception.ChatMessage{
			Role:      perception.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		// Plain content with no tool calls is the final answer.
		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			result.State = StateDone
			result.History = history
			result.Duration = time.Since(start)
			logging.Session("Run %s: done after %d model calls, %d tool calls, %v",
				requestID, result.ModelCalls, result.ToolCalls, result.Duration)
			return result, nil
		}

		for _, call := range resp.ToolCalls {
			outcome := o.executeToolCall(ctx, call)
			result.ToolCalls++
			history = append(history, perception.ChatMessage{
				Role:       perception.RoleTool,
				Content:    outcome.JSON(),
				ToolCallID: call.ID,
			})
		}
	}

	// Budget exhausted.
	result.Text = lastAssistantText
	if result.Text == "" {
		result.Text = o.config.FallbackMessage
	}
	result.History = history
	result.Duration = time.Since(start)
	logging.SessionWarn("Run %s: budget exhausted after %d model calls, %d tool calls",
		requestID, result.ModelCalls, result.ToolCalls)
	return result, nil
}

// executeToolCall runs one tool call under the per-tool timeout. Failures
// come back as ok:false outcomes, never as errors.
func (o *Orchestrator) executeToolCall(ctx context.Context, call perception.ToolCall) tools.Outcome {
	toolCtx, cancel := context.WithTimeout(ctx, o.config.ToolTimeout)
	defer cancel()

	logging.Session("Executing tool: %s with %d args", call.Name, len(call.Args))
	outcome := o.registry.Execute(toolCtx, call.Name, call.Args)
	if !outcome.OK {
		logging.SessionWarn("Tool %s failed: %s", call.Name, outcome.Error)
	}
	return outcome
}
