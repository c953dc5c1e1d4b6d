package domain

import (
	"errors"
	"fmt"
)

// Camera error taxonomy. Every failure surfaced by the camera client wraps
// exactly one of these sentinels.
var (
	ErrUnreachable      = fmt.Errorf("camera unreachable")
	ErrProtocolMismatch = fmt.Errorf("ccapi protocol mismatch")
	ErrInvalidParameter = fmt.Errorf("invalid parameter")
	ErrDeviceBusy       = fmt.Errorf("camera busy")
	ErrDeviceError      = fmt.Errorf("camera error")
	ErrNotFound         = fmt.Errorf("not found")
	ErrRejected         = fmt.Errorf("setting rejected by camera")
)

// Sentinel errors outside the camera taxonomy.
var (
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrToolNotFound = fmt.Errorf("tool not found")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// CameraError wraps a taxonomy sentinel with the failing operation and,
// when the camera answered, the HTTP status and CCAPI message.
type CameraError struct {
	Op     Operation // operation that failed
	Kind   error     // one of the taxonomy sentinels
	Detail string    // human-readable detail (CCAPI message, transport error)
	Status int       // HTTP status from the camera, 0 if no response
}

func (e *CameraError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *CameraError) Unwrap() error { return e.Kind }

// NewCameraError creates a CameraError without an HTTP status.
func NewCameraError(op Operation, kind error, detail string) *CameraError {
	return &CameraError{Op: op, Kind: kind, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient camera condition that
// the caller may retry later.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrDeviceBusy) || errors.Is(err, ErrRateLimit)
}

// ErrorCode is a machine-parseable error category returned to tool callers.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeUnreachable      ErrorCode = "UNREACHABLE"
	CodeProtocolMismatch ErrorCode = "PROTOCOL_MISMATCH"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
	CodeDeviceBusy       ErrorCode = "DEVICE_BUSY"
	CodeDeviceError      ErrorCode = "DEVICE_ERROR"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeRejected         ErrorCode = "REJECTED"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeRateLimit        ErrorCode = "RATE_LIMIT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// errorCodes is ordered so that wrapped chains resolve to the most specific
// sentinel first.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrUnreachable, CodeUnreachable},
	{ErrProtocolMismatch, CodeProtocolMismatch},
	{ErrInvalidParameter, CodeInvalidParameter},
	{ErrDeviceBusy, CodeDeviceBusy},
	{ErrDeviceError, CodeDeviceError},
	{ErrNotFound, CodeNotFound},
	{ErrRejected, CodeRejected},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrRateLimit, CodeRateLimit},
	{ErrInvalidInput, CodeInvalidInput},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It walks the wrap chain with errors.Is. Returns CodeUnknown if no
// matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}
