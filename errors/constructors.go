package errors

import (
	"fmt"
	"time"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *MemoryError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *MemoryError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// SessionNotFound reports a session id that is neither registered nor on disk.
func SessionNotFound(sessionID string) *MemoryError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session '%s' not found", sessionID)).
		WithDetail("session_id", sessionID)
}

// NoActiveSession is returned by session-scoped calls made before session_start.
func NoActiveSession(hostname string, pid int) *MemoryError {
	return New(ErrCodeNoActiveSession, "no active session for this process; call session_start first").
		WithDetail("hostname", hostname).
		WithDetail("pid", pid)
}

// ThreadNotFound describes what a resolve attempt searched before giving up.
func ThreadNotFound(threadID, textMatch string, searched int) *MemoryError {
	target := threadID
	if target == "" {
		target = fmt.Sprintf("text containing %q", textMatch)
	}
	err := New(ErrCodeThreadNotFound, fmt.Sprintf("no thread matches %s", target)).
		WithDetail("searched", searched)
	if threadID != "" {
		err = err.WithDetail("thread_id", threadID)
	}
	if textMatch != "" {
		err = err.WithDetail("text_match", textMatch)
	}
	return err
}

// RemoteUnavailable marks a call that was skipped because the remote store is in cooldown.
func RemoteUnavailable(operation string, retryAt time.Time) *MemoryError {
	return New(ErrCodeRemoteUnavailable, fmt.Sprintf("remote store unavailable for %s", operation)).
		WithDetail("operation", operation).
		WithDetail("retry_at", retryAt.Format(time.RFC3339))
}

// RemoteRequest wraps a failed REST call.
func RemoteRequest(method, path string, status int, err error) *MemoryError {
	memErr := Wrap(err, ErrCodeRemoteRequest, fmt.Sprintf("remote request failed: %s %s", method, path)).
		WithDetail("method", method).
		WithDetail("path", path)
	if status != 0 {
		memErr = memErr.WithDetail("status", status)
	}
	return memErr
}

// LockTimeout reports a lock that could not be acquired within the deadline.
func LockTimeout(lockPath string, waited time.Duration) *MemoryError {
	return New(ErrCodeLockTimeout, fmt.Sprintf("timed out after %s waiting for lock %s", waited, lockPath)).
		WithDetail("lock", lockPath).
		WithDetail("waited", waited.String())
}

// SchemaInvalid reports an on-disk document that failed schema validation.
func SchemaInvalid(kind, path string, err error) *MemoryError {
	return Wrap(err, ErrCodeSchemaInvalid, fmt.Sprintf("%s failed schema validation", kind)).
		WithDetail("kind", kind).
		WithDetail("path", path)
}

// InvalidInput creates an input validation error.
func InvalidInput(field, reason string) *MemoryError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason)).
		WithDetail("field", field)
}
