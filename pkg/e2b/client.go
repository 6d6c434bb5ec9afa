// Package e2b is a thin HTTP client for the E2B sandbox service: the
// control plane (create/connect/pause/kill) and the per-sandbox envd API
// (files, commands, host resolution).
package e2b

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultDomain is the public E2B domain.
	DefaultDomain = "e2b.app"

	// DefaultTemplate is the stock Ubuntu template.
	DefaultTemplate = "base"

	// envdPort is the port the envd agent listens on inside every sandbox.
	envdPort = 49983

	defaultHTTPTimeout = 60 * time.Second
)

// ClientConfig holds control plane connection settings.
type ClientConfig struct {
	// APIKey authenticates against the control plane. Required.
	APIKey string

	// Domain of the sandbox service. Defaults to DefaultDomain.
	Domain string

	// APIURL overrides the control plane URL. Defaults to https://api.{Domain}.
	APIURL string

	// EnvdURL overrides the per-sandbox data plane URL. When empty the
	// client derives https://{port}-{id}.{Domain} per sandbox. Set for
	// self-hosted deployments without wildcard DNS, and in tests.
	EnvdURL string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the sandbox control plane.
type Client struct {
	apiKey     string
	domain     string
	apiURL     string
	envdURL    string
	httpClient *http.Client
}

// NewClient validates the configuration and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sandbox API key is required")
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.APIURL == "" {
		cfg.APIURL = fmt.Sprintf("https://api.%s", cfg.Domain)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		domain:     cfg.Domain,
		apiURL:     cfg.APIURL,
		envdURL:    cfg.EnvdURL,
		httpClient: httpClient,
	}, nil
}

// CreateOptions configures a new sandbox.
type CreateOptions struct {
	TemplateID string
	// TimeoutSec is how long the service keeps the sandbox alive without
	// an explicit extension.
	TimeoutSec int
	Metadata   map[string]string
	Env        map[string]string
}

type createSandboxRequest struct {
	TemplateID          string            `json:"templateID"`
	Timeout             int               `json:"timeout,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	EnvVars             map[string]string `json:"envVars,omitempty"`
	Secure              bool              `json:"secure"`
	AllowInternetAccess bool              `json:"allow_internet_access"`
}

type sandboxResponse struct {
	SandboxID       string `json:"sandboxID"`
	Domain          string `json:"domain,omitempty"`
	EnvdAccessToken string `json:"envdAccessToken,omitempty"`
	State           string `json:"state,omitempty"`
}

// Create provisions a new sandbox from a template.
func (c *Client) Create(ctx context.Context, opts CreateOptions) (*Sandbox, error) {
	if opts.TemplateID == "" {
		opts.TemplateID = DefaultTemplate
	}

	req := createSandboxRequest{
		TemplateID:          opts.TemplateID,
		Timeout:             opts.TimeoutSec,
		Metadata:            opts.Metadata,
		EnvVars:             opts.Env,
		Secure:              true,
		AllowInternetAccess: true,
	}

	var resp sandboxResponse
	if err := c.call(ctx, http.MethodPost, "/sandboxes", req, &resp); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	log.Debug().
		Str("sandbox_id", resp.SandboxID).
		Str("template", opts.TemplateID).
		Msg("Sandbox created")

	return c.newSandbox(resp), nil
}

// Connect attaches to an existing sandbox by id. Paused sandboxes are
// resumed by the service as a side effect of the connect call.
func (c *Client) Connect(ctx context.Context, sandboxID string, timeoutSec int) (*Sandbox, error) {
	req := map[string]int{"timeout": timeoutSec}

	var resp sandboxResponse
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/sandboxes/%s/connect", sandboxID), req, &resp); err != nil {
		return nil, fmt.Errorf("connect sandbox %s: %w", sandboxID, err)
	}
	if resp.SandboxID == "" {
		resp.SandboxID = sandboxID
	}

	log.Debug().Str("sandbox_id", resp.SandboxID).Msg("Sandbox connected")
	return c.newSandbox(resp), nil
}

// Pause suspends a running sandbox.
func (c *Client) Pause(ctx context.Context, sandboxID string) error {
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/sandboxes/%s/pause", sandboxID), nil, nil); err != nil {
		return fmt.Errorf("pause sandbox %s: %w", sandboxID, err)
	}
	return nil
}

// Kill permanently destroys a sandbox. A sandbox that is already gone is
// not an error.
func (c *Client) Kill(ctx context.Context, sandboxID string) error {
	err := c.call(ctx, http.MethodDelete, fmt.Sprintf("/sandboxes/%s", sandboxID), nil, nil)
	if err != nil {
		if Classify(err) == FailureNotFound {
			return nil
		}
		return fmt.Errorf("kill sandbox %s: %w", sandboxID, err)
	}
	return nil
}

func (c *Client) newSandbox(resp sandboxResponse) *Sandbox {
	domain := resp.Domain
	if domain == "" {
		domain = c.domain
	}
	return &Sandbox{
		id:          resp.SandboxID,
		domain:      domain,
		accessToken: resp.EnvdAccessToken,
		client:      c,
	}
}

// call performs a JSON request against the control plane.
func (c *Client) call(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Endpoint: path, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
