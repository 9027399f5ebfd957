package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrInvalidInput marks a malformed seed URL or mode.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTransientFetch marks a timeout or 5xx response; these are retried.
	ErrTransientFetch = errors.New("transient fetch failure")
	// ErrParse marks a document that could not be parsed; never retried.
	ErrParse = errors.New("parse failure")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func parseFailure(url string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrParse, url, err)
}

// FetchError describes a failed fetch attempt.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports timeouts and 5xx responses as ErrTransientFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrTransientFetch && e.Transient()
}

// Transient reports whether the failure is a timeout or server error.
func (e *FetchError) Transient() bool {
	if e.StatusCode >= http.StatusInternalServerError {
		return true
	}
	if e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// StatusError builds a FetchError for a non-success HTTP status.
func StatusError(url string, status int) *FetchError {
	return &FetchError{URL: url, StatusCode: status, Err: fmt.Errorf("unexpected status %d", status)}
}
