// Package tools exposes sandbox operations to the agent runtime. Every
// tool is addressed by (user_id, project_id); the lifecycle manager
// resolves that to a live sandbox handle. Tools either succeed or
// return a structured error string, never panic into the agent loop.
package tools

import (
	"context"

	"github.com/appforge/sandboxd/pkg/sandbox"
)

// Tool is one operation the agent runtime may invoke.
type Tool interface {
	// Name returns the tool name.
	Name() string

	// Description returns the tool description.
	Description() string

	// Schema returns the JSON schema for tool parameters.
	Schema() map[string]interface{}

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error)
}

// ToolResult is what the agent runtime receives back.
type ToolResult struct {
	Text     string                 `json:"text"`
	IsError  bool                   `json:"is_error"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// errorResult wraps a failure into the structured error string the
// agent expects.
func errorResult(msg string) *ToolResult {
	return &ToolResult{Text: msg, IsError: true}
}

// Manager is the slice of the lifecycle manager the tools depend on.
type Manager interface {
	Acquire(ctx context.Context, userID, projectID string, opts ...sandbox.AcquireOption) (sandbox.Handle, error)
	Release(ctx context.Context, userID, projectID string) error
	Stats() sandbox.StatsSnapshot
}
