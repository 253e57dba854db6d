// Package errors provides error codes and classification for the sync engine.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique, stable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
	ErrInvalid       ErrorCode = "INVALID_INPUT"
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Storage errors
	ErrStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrContractViolation ErrorCode = "CONTRACT_VIOLATION"

	// Sync errors
	ErrSyncTransient      ErrorCode = "SYNC_TRANSIENT"
	ErrSyncConflict       ErrorCode = "SYNC_CONFLICT"
	ErrSyncFatal          ErrorCode = "SYNC_FATAL"
	ErrSyncInProgress     ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncOffline        ErrorCode = "SYNC_OFFLINE"
	ErrSyncNotInitialized ErrorCode = "SYNC_NOT_INITIALIZED"
	ErrSyncStopped        ErrorCode = "SYNC_STOPPED"
)

// reasons maps codes to the classified strings surfaced to callers.
var reasons = map[ErrorCode]string{
	ErrInternal:           "internal",
	ErrInvalid:            "invalid_input",
	ErrNotFound:           "not_found",
	ErrConfigInvalid:      "config_invalid",
	ErrStoreUnavailable:   "store_unavailable",
	ErrContractViolation:  "contract_violation",
	ErrSyncTransient:      "transient",
	ErrSyncConflict:       "conflict_unresolved",
	ErrSyncFatal:          "fatal",
	ErrSyncInProgress:     "sync_in_progress",
	ErrSyncOffline:        "offline",
	ErrSyncNotInitialized: "not_initialized",
	ErrSyncStopped:        "shutting_down",
}

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the outermost code carried by err, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Reason returns the classified reason string for err. Raw error text is
// never part of the result.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if r, ok := reasons[CodeOf(err)]; ok {
		return r
	}
	return reasons[ErrInternal]
}
