// Package sandbox implements the multi-tenant sandbox lifecycle
// manager: an in-process pool of live remote sandboxes keyed by
// (user, project), backed by a distributed cache of sandbox ids so that
// replicas and restarted processes reattach instead of creating
// duplicates.
package sandbox

import (
	"context"
	"time"

	"github.com/appforge/sandboxd/pkg/e2b"
)

// TenantKey identifies one isolated workspace. It is the sole
// addressing key for the pool, the lock registry and the distributed
// cache. This layer assumes the tenant was authorized upstream.
type TenantKey struct {
	UserID    string
	ProjectID string
}

// Validate rejects empty components.
func (k TenantKey) Validate() error {
	if k.UserID == "" {
		return &InvalidTenantError{Field: "user_id"}
	}
	if k.ProjectID == "" {
		return &InvalidTenantError{Field: "project_id"}
	}
	return nil
}

func (k TenantKey) String() string {
	return k.UserID + "/" + k.ProjectID
}

// Handle is the surface of a live remote sandbox that the manager and
// the agent tools need. *e2b.Sandbox satisfies it; tests substitute
// fakes.
type Handle interface {
	SandboxID() string
	Host(port int) string
	Ping(ctx context.Context) error
	Kill(ctx context.Context) error
	ListFiles(ctx context.Context, path string) ([]e2b.FileInfo, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	RemoveFile(ctx context.Context, path string) error
	RunCommand(ctx context.Context, command, cwd string) (*e2b.CommandResult, error)
}

// Client creates and reattaches remote sandboxes.
type Client interface {
	Create(ctx context.Context, opts e2b.CreateOptions) (Handle, error)
	Connect(ctx context.Context, sandboxID string, timeoutSec int) (Handle, error)
}

// e2bClient adapts *e2b.Client to the Client interface.
type e2bClient struct {
	c *e2b.Client
}

// NewE2BClient wraps a configured e2b client for use by the manager.
func NewE2BClient(c *e2b.Client) Client {
	return &e2bClient{c: c}
}

func (a *e2bClient) Create(ctx context.Context, opts e2b.CreateOptions) (Handle, error) {
	return a.c.Create(ctx, opts)
}

func (a *e2bClient) Connect(ctx context.Context, sandboxID string, timeoutSec int) (Handle, error) {
	return a.c.Connect(ctx, sandboxID, timeoutSec)
}

// Entry is one pool slot: a live handle plus activity bookkeeping.
// Fields are mutated only while the owning tenant's lock or the pool
// lock is held.
type Entry struct {
	Handle       Handle
	Key          TenantKey
	CreatedAt    time.Time
	LastActivity time.Time
	RequestCount int64
}

// Touch records a successful use.
func (e *Entry) Touch() {
	e.LastActivity = time.Now()
	e.RequestCount++
}

// Idle reports whether the entry has gone unused longer than timeout.
func (e *Entry) Idle(timeout time.Duration) bool {
	return time.Since(e.LastActivity) > timeout
}

// Expired reports whether the entry has exceeded its maximum age,
// regardless of activity.
func (e *Entry) Expired(maxAge time.Duration) bool {
	return time.Since(e.CreatedAt) > maxAge
}

// AcquireOption customizes sandbox creation on a cold start.
type AcquireOption func(*acquireOptions)

type acquireOptions struct {
	metadata map[string]string
	env      map[string]string
}

// WithMetadata attaches extra metadata to a newly created sandbox.
func WithMetadata(md map[string]string) AcquireOption {
	return func(o *acquireOptions) { o.metadata = md }
}

// WithEnv sets environment variables for a newly created sandbox.
func WithEnv(env map[string]string) AcquireOption {
	return func(o *acquireOptions) { o.env = env }
}
