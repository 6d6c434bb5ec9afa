package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry manages the available tools.
type Registry struct {
	tools     map[string]Tool
	validator *Validator
	mu        sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		validator: NewValidator(),
	}
}

// RegisterTool registers a new tool.
func (r *Registry) RegisterTool(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}

	r.tools[name] = tool
	return nil
}

// GetTool retrieves a tool by name, or nil.
func (r *Registry) GetTool(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// HasTool checks if a tool is registered.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// ToolNames returns all registered tool names.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ListTools returns all registered tools.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	return tools
}

// Execute validates the parameters against the tool's schema and runs
// it. Unknown tools and schema violations come back as error results so
// the agent sees a string it can react to.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (*ToolResult, error) {
	tool := r.GetTool(name)
	if tool == nil {
		return errorResult(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	invocationID := uuid.New().String()
	start := time.Now()

	if err := r.validator.ValidateParams(params, tool.Schema()); err != nil {
		log.Warn().Err(err).
			Str("tool", name).
			Str("invocation_id", invocationID).
			Msg("Tool parameter validation failed")
		return errorResult(fmt.Sprintf("invalid parameters for %s: %v", name, err)), nil
	}

	result, err := tool.Execute(ctx, params)

	logEvt := log.Debug()
	if err != nil || (result != nil && result.IsError) {
		logEvt = log.Warn().Err(err)
	}
	logEvt.
		Str("tool", name).
		Str("invocation_id", invocationID).
		Dur("duration", time.Since(start)).
		Msg("Tool executed")

	return result, err
}
