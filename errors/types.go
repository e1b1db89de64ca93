package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// Session errors
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"

	// Thread errors
	ErrCodeThreadNotFound ErrorCode = "THREAD_NOT_FOUND"

	// Remote store errors
	ErrCodeRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrCodeRemoteRequest     ErrorCode = "REMOTE_REQUEST"

	// Filesystem errors
	ErrCodeLockTimeout   ErrorCode = "LOCK_TIMEOUT"
	ErrCodeSchemaInvalid ErrorCode = "SCHEMA_INVALID"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// MemoryError represents a structured error with context.
// It is the only error shape that reaches tool-call results.
type MemoryError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *MemoryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *MemoryError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *MemoryError) WithDetail(key string, value interface{}) *MemoryError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *MemoryError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new MemoryError
func New(code ErrorCode, message string) *MemoryError {
	return &MemoryError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a MemoryError
func Wrap(err error, code ErrorCode, message string) *MemoryError {
	return &MemoryError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific MemoryError code
func Is(err error, code ErrorCode) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	memErr, ok := err.(*MemoryError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return memErr.Code
}

// As returns the first MemoryError in err's chain.
func As(err error) (*MemoryError, bool) {
	for err != nil {
		if memErr, ok := err.(*MemoryError); ok {
			return memErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
