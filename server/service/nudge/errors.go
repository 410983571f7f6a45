package nudge

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrUserNotFound is returned when a dispatch targets an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidNudgeType is returned for an empty nudge type.
	ErrInvalidNudgeType = errors.New("invalid nudge type")
	// ErrInvalidHour is returned for a local hour outside 0-23.
	ErrInvalidHour = errors.New("local hour must be within 0-23")
)

// IsUserNotFound reports whether err wraps ErrUserNotFound.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsTransient decides whether a failed channel call is worth retrying.
// Errors may opt in or out with IsRetryable() or Temporary(); cancellation
// never retries and anything else is treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) {
		return temporary.Temporary()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
