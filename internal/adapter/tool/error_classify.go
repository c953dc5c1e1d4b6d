package tool

import (
	"errors"
	"strings"

	"canon-mcp/internal/domain"
)

// retryableSentinels lists domain errors that indicate transient failures:
// the camera is away or occupied, or the caller is going too fast.
var retryableSentinels = []error{
	domain.ErrUnreachable,
	domain.ErrDeviceBusy,
	domain.ErrRateLimit,
}

// permanentSentinels are never retryable even if the message looks transient,
// e.g. a rejected setting whose camera message mentions "unavailable".
var permanentSentinels = []error{
	domain.ErrInvalidParameter,
	domain.ErrInvalidInput,
	domain.ErrRejected,
	domain.ErrNotFound,
	domain.ErrProtocolMismatch,
}

// retryablePatterns are substrings in error messages that indicate transient failures.
// Checked case-insensitively.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
}

// classifyToolError returns true if the error is transient and the tool call
// may succeed on retry. Returns false for nil, permanent, or unknown errors.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}

	for _, sentinel := range retryableSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	for _, sentinel := range permanentSentinels {
		if errors.Is(err, sentinel) {
			return false
		}
	}

	// String-based fallback for errors without sentinel wrapping.
	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}
