package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConfigured      = errors.New("voice provider not configured")
	ErrConcurrencyLimited = errors.New("voice provider concurrency limit reached")
)

// GatewayError wraps every failure talking to the provider. StatusCode is
// zero for transport errors.
type GatewayError struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *GatewayError) Error() string {
	if e.StatusCode >= 300 {
		return fmt.Sprintf("voice %s: provider returned %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("voice %s: %v", e.Op, e.Cause)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// NotFound reports a provider 404.
func (e *GatewayError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// Retryable reports whether a read may be attempted again: timeouts, rate
// limits, 5xx and transport errors. Context cancellation never is.
func (e *GatewayError) Retryable() bool {
	if errors.Is(e.Cause, context.Canceled) || errors.Is(e.Cause, context.DeadlineExceeded) {
		return false
	}
	if e.StatusCode == 0 {
		return !errors.Is(e.Cause, ErrNotConfigured)
	}
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

func gatewayErr(op string, status int, cause error) *GatewayError {
	return &GatewayError{Op: op, StatusCode: status, Cause: cause}
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.NotFound()
}
