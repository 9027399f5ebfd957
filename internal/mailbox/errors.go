package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a missing code, organization or unknown provider.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a connection that does not exist.
	ErrNotFound = errors.New("mailbox connection not found")
	// ErrWatchRegistration marks a failed push-notification registration.
	// Nothing is persisted when it occurs.
	ErrWatchRegistration = errors.New("watch registration failed")
	// ErrStopWatch marks a failed best-effort watch teardown. It is logged,
	// never returned from Disconnect.
	ErrStopWatch = errors.New("stop watch failed")

	errEmptyWatchHandle = errors.New("provider returned an empty watch handle")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func watchFailure(provider Provider, err error) error {
	if provider == "" {
		return fmt.Errorf("%w: %w", ErrWatchRegistration, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrWatchRegistration, provider, err)
}

func stopWatchFailure(provider Provider, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStopWatch, provider, err)
}
