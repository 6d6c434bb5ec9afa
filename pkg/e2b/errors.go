package e2b

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// FailureKind is the closed set of failure categories the rest of the
// system branches on. Remote API responses and transport errors are
// translated into one of these at this boundary so callers never inspect
// HTTP status codes or net error types directly.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureTimeout
	FailureConnection
	FailureNotFound
	FailureAuth
	FailureRateLimit
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	case FailureNotFound:
		return "not_found"
	case FailureAuth:
		return "auth"
	case FailureRateLimit:
		return "rate_limit"
	default:
		return "other"
	}
}

// APIError is a non-2xx response from the sandbox control plane or the
// in-sandbox envd API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sandbox API error (status %d) on %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

// Classify maps an error from any client operation to a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureOther
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return FailureNotFound
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return FailureAuth
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return FailureRateLimit
		case apiErr.StatusCode >= 500:
			return FailureConnection
		default:
			return FailureOther
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return FailureConnection
	}

	return FailureOther
}

// IsTransient reports whether the error is worth retrying or falling
// back from: timeouts, connection failures, rate limits, auth hiccups
// and server-side errors. Not-found and everything else is permanent.
func IsTransient(err error) bool {
	switch Classify(err) {
	case FailureTimeout, FailureConnection, FailureRateLimit, FailureAuth:
		return true
	default:
		return false
	}
}
