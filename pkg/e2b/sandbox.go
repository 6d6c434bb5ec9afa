package e2b

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// Sandbox is a live handle to one remote sandbox. All data plane calls
// go to the envd agent inside the sandbox; the handle keeps the access
// token issued when the sandbox was created or connected.
type Sandbox struct {
	id          string
	domain      string
	accessToken string
	client      *Client
}

// FileInfo describes one entry returned by ListFiles.
type FileInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size,omitempty"`
}

// CommandResult is the outcome of a command run inside the sandbox.
type CommandResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"-"`
}

// SandboxID returns the service-assigned sandbox id.
func (s *Sandbox) SandboxID() string {
	return s.id
}

// Host returns the public hostname that proxies to the given port inside
// the sandbox.
func (s *Sandbox) Host(port int) string {
	return fmt.Sprintf("%d-%s.%s", port, s.id, s.domain)
}

// Ping is the cheap liveness probe: list the sandbox root. Any transport
// or envd error means the sandbox is not usable.
func (s *Sandbox) Ping(ctx context.Context) error {
	_, err := s.ListFiles(ctx, "/")
	return err
}

// Kill destroys the remote sandbox backing this handle.
func (s *Sandbox) Kill(ctx context.Context) error {
	return s.client.Kill(ctx, s.id)
}

// ListFiles lists a directory inside the sandbox.
func (s *Sandbox) ListFiles(ctx context.Context, path string) ([]FileInfo, error) {
	body, err := s.envdGet(ctx, "/files", url.Values{"path": {path}})
	if err != nil {
		return nil, fmt.Errorf("list files %s: %w", path, err)
	}

	var entries []FileInfo
	if err := json.Unmarshal(body, &entries); err != nil {
		// envd returns raw content for regular files; an unparseable
		// body for a directory listing is a protocol problem.
		return nil, fmt.Errorf("list files %s: decode: %w", path, err)
	}
	return entries, nil
}

// ReadFile reads a file's content from the sandbox.
func (s *Sandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	body, err := s.envdGet(ctx, "/files", url.Values{"path": {path}})
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return body, nil
}

// WriteFile writes content to a path inside the sandbox, creating parent
// directories as envd does.
func (s *Sandbox) WriteFile(ctx context.Context, path string, content []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", path)
	if err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}

	endpoint := fmt.Sprintf("%s/files?path=%s", s.envdBaseURL(), url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Access-Token", s.accessToken)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("write file %s: %w", path,
			&APIError{StatusCode: resp.StatusCode, Endpoint: "/files", Body: string(errBody)})
	}
	return nil
}

// RemoveFile deletes a file or directory inside the sandbox.
func (s *Sandbox) RemoveFile(ctx context.Context, path string) error {
	endpoint := fmt.Sprintf("%s/files?path=%s", s.envdBaseURL(), url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("remove file %s: %w", path, err)
	}
	req.Header.Set("X-Access-Token", s.accessToken)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remove file %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remove file %s: %w", path,
			&APIError{StatusCode: resp.StatusCode, Endpoint: "/files", Body: string(errBody)})
	}
	return nil
}

type runCommandRequest struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
	Cwd  string   `json:"cwd,omitempty"`
}

type runCommandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// RunCommand runs a shell command inside the sandbox and waits for it to
// finish. The caller bounds the duration through ctx.
func (s *Sandbox) RunCommand(ctx context.Context, command string, cwd string) (*CommandResult, error) {
	start := time.Now()

	reqBody := runCommandRequest{
		Cmd:  "/bin/bash",
		Args: []string{"-l", "-c", command},
		Cwd:  cwd,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}

	endpoint := s.envdBaseURL() + "/commands/run"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", s.accessToken)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("run command: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("run command: %w",
			&APIError{StatusCode: resp.StatusCode, Endpoint: "/commands/run", Body: string(respBody)})
	}

	var cmdResp runCommandResponse
	if err := json.Unmarshal(respBody, &cmdResp); err != nil {
		return nil, fmt.Errorf("run command: decode: %w", err)
	}

	return &CommandResult{
		Stdout:   cmdResp.Stdout,
		Stderr:   cmdResp.Stderr,
		ExitCode: cmdResp.ExitCode,
		Duration: time.Since(start),
	}, nil
}

func (s *Sandbox) envdBaseURL() string {
	if s.client.envdURL != "" {
		return s.client.envdURL
	}
	return fmt.Sprintf("https://%d-%s.%s", envdPort, s.id, s.domain)
}

func (s *Sandbox) envdGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := s.envdBaseURL() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Access-Token", s.accessToken)

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Endpoint: path, Body: string(body)}
	}
	return body, nil
}
