package sandbox

import "fmt"

// QuotaScope names which limit a rejected request hit.
type QuotaScope string

const (
	QuotaScopeGlobal  QuotaScope = "global"
	QuotaScopePerUser QuotaScope = "per_user"
)

// InvalidTenantError is a caller bug: a missing or malformed tenant
// component. Never retried.
type InvalidTenantError struct {
	Field string
}

func (e *InvalidTenantError) Error() string {
	return fmt.Sprintf("%s must be a non-empty string", e.Field)
}

// ResourceExhaustedError means a sandbox quota was hit. The caller must
// release something before retrying.
type ResourceExhaustedError struct {
	Scope  QuotaScope
	UserID string
	Limit  int
}

func (e *ResourceExhaustedError) Error() string {
	if e.Scope == QuotaScopeGlobal {
		return fmt.Sprintf("maximum total sandboxes (%d) reached", e.Limit)
	}
	return fmt.Sprintf("user %s reached max sandboxes (%d)", e.UserID, e.Limit)
}

// TransientSandboxError is surfaced only after internal retries are
// exhausted on a retryable remote failure.
type TransientSandboxError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *TransientSandboxError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *TransientSandboxError) Unwrap() error { return e.Err }

// UnexpectedSandboxError wraps a remote failure outside the known
// transient set. Not retried; surfaced immediately.
type UnexpectedSandboxError struct {
	Stage string
	Err   error
}

func (e *UnexpectedSandboxError) Error() string {
	return fmt.Sprintf("unexpected sandbox error during %s: %v", e.Stage, e.Err)
}

func (e *UnexpectedSandboxError) Unwrap() error { return e.Err }
