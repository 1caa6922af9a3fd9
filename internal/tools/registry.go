package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aide/internal/logging"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe and supports registration at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	// order preserves registration order for Declarations.
	order []string
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists. Duplicate
// names are rejected rather than shadowed so a misconfigured tool set fails
// at startup, not mid-conversation.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}

	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)

	logging.ToolsDebug("Registered tool: %s", tool.Name)
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at startup.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Declarations returns the model-facing description of every registered
// tool, in registration order.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	decls := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		decls = append(decls, Declaration{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      tool.Schema,
		})
	}
	return decls
}

// Execute runs a tool by name with the given arguments.
// It never returns a Go error or panics: an unknown name or a missing
// required argument comes back as a failure Outcome, which the caller
// feeds to the model like any other tool result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Outcome {
	tool := r.Get(name)
	if tool == nil {
		logging.ToolsWarn("Execute requested for unknown tool: %s", name)
		return Fail(fmt.Sprintf("Unknown tool: %s", name))
	}

	if missing := missingRequired(tool, args); missing != "" {
		return Fail(fmt.Sprintf("Missing required argument: %s", missing))
	}

	start := time.Now()
	logging.ToolsDebug("Executing tool: %s", tool.Name)

	outcome := runTool(ctx, tool, args)

	logging.ToolsDebug("Tool %s completed in %v (ok=%v)", tool.Name, time.Since(start), outcome.OK)
	return outcome
}

// runTool executes the tool and converts a panic into a failure outcome,
// so one faulty tool cannot take down the run.
func runTool(ctx context.Context, tool *Tool, args map[string]any) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.ToolsError("Tool %s panicked: %v", tool.Name, r)
			outcome = Fail(fmt.Sprintf("Tool %s failed internally: %v", tool.Name, r))
		}
	}()
	return tool.Execute(ctx, args)
}

// missingRequired returns the first required argument absent from args,
// or "" when all are present.
func missingRequired(tool *Tool, args map[string]any) string {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return required
		}
	}
	return ""
}
