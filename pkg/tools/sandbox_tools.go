package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/appforge/sandboxd/pkg/sandbox"
)

// tenantSchema is the base schema fragment shared by every tool: all of
// them address a sandbox by its owning tenant.
func tenantSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	props := map[string]interface{}{
		"user_id": map[string]interface{}{
			"type":        "string",
			"minLength":   1,
			"description": "Identifier of the requesting user",
		},
		"project_id": map[string]interface{}{
			"type":        "string",
			"minLength":   1,
			"description": "Identifier of the project within the user's account",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   append([]string{"user_id", "project_id"}, required...),
	}
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string", key)
	}
	return s, nil
}

func optionalString(params map[string]interface{}, key, def string) string {
	if raw, ok := params[key]; ok {
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// tenant pulls the addressing pair out of params. Schema validation has
// already run, so failures here are defensive only.
func tenant(params map[string]interface{}) (string, string, error) {
	userID, err := stringParam(params, "user_id")
	if err != nil {
		return "", "", err
	}
	projectID, err := stringParam(params, "project_id")
	if err != nil {
		return "", "", err
	}
	return userID, projectID, nil
}

// acquire resolves the tenant's sandbox, creating or reconnecting as
// needed, and folds acquisition failures into tool error results.
func acquire(ctx context.Context, mgr Manager, params map[string]interface{}) (sandbox.Handle, *ToolResult, error) {
	userID, projectID, err := tenant(params)
	if err != nil {
		return nil, errorResult(err.Error()), nil
	}
	h, err := mgr.Acquire(ctx, userID, projectID)
	if err != nil {
		var exhausted *sandbox.ResourceExhaustedError
		var transient *sandbox.TransientSandboxError
		var invalid *sandbox.InvalidTenantError
		switch {
		case errors.As(err, &exhausted):
			return nil, errorResult(exhausted.Error()), nil
		case errors.As(err, &transient):
			return nil, errorResult(fmt.Sprintf("sandbox temporarily unavailable: %v", transient)), nil
		case errors.As(err, &invalid):
			return nil, errorResult(invalid.Error()), nil
		default:
			return nil, nil, err
		}
	}
	return h, nil, nil
}

// WriteFileTool writes file contents into the tenant's sandbox.
type WriteFileTool struct {
	mgr Manager
}

func NewWriteFileTool(mgr Manager) *WriteFileTool { return &WriteFileTool{mgr: mgr} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file inside the project sandbox, creating parent directories as needed"
}

func (t *WriteFileTool) Schema() map[string]interface{} {
	return tenantSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"minLength":   1,
			"description": "Absolute path of the file inside the sandbox",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "File content to write",
		},
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	h, res, err := acquire(ctx, t.mgr, params)
	if err != nil || res != nil {
		return res, err
	}
	path, err := stringParam(params, "path")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	content := optionalString(params, "content", "")

	if err := h.WriteFile(ctx, path, []byte(content)); err != nil {
		return errorResult(fmt.Sprintf("write %s: %v", path, err)), nil
	}
	return &ToolResult{
		Text: fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
		Metadata: map[string]interface{}{
			"sandbox_id": h.SandboxID(),
			"path":       path,
			"bytes":      len(content),
		},
	}, nil
}

// ReadFileTool reads a file from the tenant's sandbox.
type ReadFileTool struct {
	mgr Manager
}

func NewReadFileTool(mgr Manager) *ReadFileTool { return &ReadFileTool{mgr: mgr} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file inside the project sandbox"
}

func (t *ReadFileTool) Schema() map[string]interface{} {
	return tenantSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"minLength":   1,
			"description": "Absolute path of the file inside the sandbox",
		},
	}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	h, res, err := acquire(ctx, t.mgr, params)
	if err != nil || res != nil {
		return res, err
	}
	path, err := stringParam(params, "path")
	if err != nil {
		return errorResult(err.Error()), nil
	}

	data, err := h.ReadFile(ctx, path)
	if err != nil {
		return errorResult(fmt.Sprintf("read %s: %v", path, err)), nil
	}
	return &ToolResult{
		Text: string(data),
		Metadata: map[string]interface{}{
			"sandbox_id": h.SandboxID(),
			"path":       path,
			"bytes":      len(data),
		},
	}, nil
}

// ListFilesTool lists a directory in the tenant's sandbox.
type ListFilesTool struct {
	mgr Manager
}

func NewListFilesTool(mgr Manager) *ListFilesTool { return &ListFilesTool{mgr: mgr} }

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List the entries of a directory inside the project sandbox"
}

func (t *ListFilesTool) Schema() map[string]interface{} {
	return tenantSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Directory to list, defaults to the sandbox root",
			"default":     "/",
		},
	})
}

func (t *ListFilesTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	h, res, err := acquire(ctx, t.mgr, params)
	if err != nil || res != nil {
		return res, err
	}
	path := optionalString(params, "path", "/")

	entries, err := h.ListFiles(ctx, path)
	if err != nil {
		return errorResult(fmt.Sprintf("list %s: %v", path, err)), nil
	}

	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&sb, "%s/\n", e.Name)
		} else {
			fmt.Fprintf(&sb, "%s\n", e.Name)
		}
	}
	return &ToolResult{
		Text: sb.String(),
		Metadata: map[string]interface{}{
			"sandbox_id": h.SandboxID(),
			"path":       path,
			"count":      len(entries),
		},
	}, nil
}

// RemoveFileTool deletes a file or directory in the tenant's sandbox.
type RemoveFileTool struct {
	mgr Manager
}

func NewRemoveFileTool(mgr Manager) *RemoveFileTool { return &RemoveFileTool{mgr: mgr} }

func (t *RemoveFileTool) Name() string { return "remove_file" }

func (t *RemoveFileTool) Description() string {
	return "Remove a file or directory inside the project sandbox"
}

func (t *RemoveFileTool) Schema() map[string]interface{} {
	return tenantSchema(map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"minLength":   1,
			"description": "Path to remove",
		},
	}, "path")
}

func (t *RemoveFileTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	h, res, err := acquire(ctx, t.mgr, params)
	if err != nil || res != nil {
		return res, err
	}
	path, err := stringParam(params, "path")
	if err != nil {
		return errorResult(err.Error()), nil
	}

	if err := h.RemoveFile(ctx, path); err != nil {
		return errorResult(fmt.Sprintf("remove %s: %v", path, err)), nil
	}
	return &ToolResult{
		Text: fmt.Sprintf("Removed %s", path),
		Metadata: map[string]interface{}{
			"sandbox_id": h.SandboxID(),
			"path":       path,
		},
	}, nil
}

// RunCommandTool executes a shell command in the tenant's sandbox.
type RunCommandTool struct {
	mgr Manager
}

func NewRunCommandTool(mgr Manager) *RunCommandTool { return &RunCommandTool{mgr: mgr} }

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Run a shell command inside the project sandbox and return its output"
}

func (t *RunCommandTool) Schema() map[string]interface{} {
	return tenantSchema(map[string]interface{}{
		"command": map[string]interface{}{
			"type":        "string",
			"minLength":   1,
			"description": "Shell command to execute",
		},
		"cwd": map[string]interface{}{
			"type":        "string",
			"description": "Working directory for the command",
		},
	}, "command")
}

func (t *RunCommandTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	h, res, err := acquire(ctx, t.mgr, params)
	if err != nil || res != nil {
		return res, err
	}
	command, err := stringParam(params, "command")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	cwd := optionalString(params, "cwd", "")

	result, err := h.RunCommand(ctx, command, cwd)
	if err != nil {
		return errorResult(fmt.Sprintf("run command: %v", err)), nil
	}

	var sb strings.Builder
	if result.Stdout != "" {
		sb.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(result.Stderr)
	}
	return &ToolResult{
		Text:    sb.String(),
		IsError: result.ExitCode != 0,
		Metadata: map[string]interface{}{
			"sandbox_id":  h.SandboxID(),
			"exit_code":   result.ExitCode,
			"duration_ms": result.Duration.Milliseconds(),
		},
	}, nil
}

// PreviewURLTool returns the public URL for a port exposed by the
// tenant's sandbox.
type PreviewURLTool struct {
	mgr Manager
}

func NewPreviewURLTool(mgr Manager) *PreviewURLTool { return &PreviewURLTool{mgr: mgr} }

func (t *PreviewURLTool) Name() string { return "preview_url" }

func (t *PreviewURLTool) Description() string {
	return "Get the public HTTPS URL for a port served by the project sandbox"
}

func (t *PreviewURLTool) Schema() map[string]interface{} {
	return tenantSchema(map[string]interface{}{
		"port": map[string]interface{}{
			"type":        "integer",
			"minimum":     1,
			"maximum":     65535,
			"description": "Port the sandboxed service listens on",
			"default":     3000,
		},
	})
}

func (t *PreviewURLTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	h, res, err := acquire(ctx, t.mgr, params)
	if err != nil || res != nil {
		return res, err
	}

	port := 3000
	if raw, ok := params["port"]; ok {
		switch v := raw.(type) {
		case float64:
			port = int(v)
		case int:
			port = v
		case json.Number:
			if n, err := v.Int64(); err == nil {
				port = int(n)
			}
		}
	}

	url := fmt.Sprintf("https://%s", h.Host(port))
	return &ToolResult{
		Text: url,
		Metadata: map[string]interface{}{
			"sandbox_id": h.SandboxID(),
			"port":       port,
		},
	}, nil
}

// CloseSandboxTool terminates the tenant's sandbox and releases its
// resources.
type CloseSandboxTool struct {
	mgr Manager
}

func NewCloseSandboxTool(mgr Manager) *CloseSandboxTool { return &CloseSandboxTool{mgr: mgr} }

func (t *CloseSandboxTool) Name() string { return "close_sandbox" }

func (t *CloseSandboxTool) Description() string {
	return "Terminate the project sandbox and free its slot"
}

func (t *CloseSandboxTool) Schema() map[string]interface{} {
	return tenantSchema(nil)
}

func (t *CloseSandboxTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	userID, projectID, err := tenant(params)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := t.mgr.Release(ctx, userID, projectID); err != nil {
		return errorResult(fmt.Sprintf("close sandbox: %v", err)), nil
	}
	return &ToolResult{
		Text: fmt.Sprintf("Sandbox for %s/%s closed", userID, projectID),
	}, nil
}

// SandboxStatsTool reports lifecycle counters for the whole manager.
type SandboxStatsTool struct {
	mgr Manager
}

func NewSandboxStatsTool(mgr Manager) *SandboxStatsTool { return &SandboxStatsTool{mgr: mgr} }

func (t *SandboxStatsTool) Name() string { return "sandbox_stats" }

func (t *SandboxStatsTool) Description() string {
	return "Report sandbox pool statistics: active count, creations, cache hit rate"
}

func (t *SandboxStatsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *SandboxStatsTool) Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error) {
	snap := t.mgr.Stats()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal stats: %w", err)
	}
	return &ToolResult{Text: string(data)}, nil
}

// RegisterAll registers every sandbox tool on the registry, skipping
// names the enabled predicate rejects. A nil predicate enables all.
func RegisterAll(reg *Registry, mgr Manager, enabled func(string) bool) error {
	all := []Tool{
		NewWriteFileTool(mgr),
		NewReadFileTool(mgr),
		NewListFilesTool(mgr),
		NewRemoveFileTool(mgr),
		NewRunCommandTool(mgr),
		NewPreviewURLTool(mgr),
		NewCloseSandboxTool(mgr),
		NewSandboxStatsTool(mgr),
	}
	for _, tool := range all {
		if enabled != nil && !enabled(tool.Name()) {
			continue
		}
		if err := reg.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}
