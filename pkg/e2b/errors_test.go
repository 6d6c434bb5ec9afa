package e2b

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureOther},
		{"404", &APIError{StatusCode: 404}, FailureNotFound},
		{"401", &APIError{StatusCode: 401}, FailureAuth},
		{"403", &APIError{StatusCode: 403}, FailureAuth},
		{"429", &APIError{StatusCode: 429}, FailureRateLimit},
		{"500", &APIError{StatusCode: 500}, FailureConnection},
		{"503", &APIError{StatusCode: 503}, FailureConnection},
		{"400", &APIError{StatusCode: 400}, FailureOther},
		{"wrapped api error", fmt.Errorf("create: %w", &APIError{StatusCode: 502}), FailureConnection},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"wrapped deadline", fmt.Errorf("ping: %w", context.DeadlineExceeded), FailureTimeout},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, FailureConnection},
		{"econnrefused", syscall.ECONNREFUSED, FailureConnection},
		{"econnreset", syscall.ECONNRESET, FailureConnection},
		{"plain", errors.New("boom"), FailureOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", context.DeadlineExceeded, true},
		{"rate limit", &APIError{StatusCode: 429}, true},
		{"server error", &APIError{StatusCode: 500}, true},
		{"auth hiccup", &APIError{StatusCode: 401}, true},
		{"not found", &APIError{StatusCode: 404}, false},
		{"client error", &APIError{StatusCode: 400}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestFailureKindString(t *testing.T) {
	assert.Equal(t, "timeout", FailureTimeout.String())
	assert.Equal(t, "not_found", FailureNotFound.String())
	assert.Equal(t, "other", FailureOther.String())
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{StatusCode: 503, Endpoint: "/sandboxes", Body: "overloaded"}
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "/sandboxes")
	assert.Contains(t, err.Error(), "overloaded")
}
