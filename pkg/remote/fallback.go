package remote

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/logging"
	"github.com/sirupsen/logrus"
)

// Source tells where a Query answer came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Fallback is the single degrade-to-local strategy shared by every component
// that talks to the remote store. After a transport failure it stays in
// local-only mode for the cooldown; an unconfigured remote is local-only forever.
type Fallback struct {
	enabled  bool
	cooldown time.Duration
	logger   *logrus.Entry
	now      func() time.Time

	mu        sync.Mutex
	downUntil time.Time
	lastErr   error
	failures  int
}

// FallbackStatus is a snapshot of the fallback state for health reporting.
type FallbackStatus struct {
	Enabled   bool       `json:"enabled"`
	Reachable bool       `json:"reachable"`
	DownUntil *time.Time `json:"down_until,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Failures  int        `json:"failures"`
}

// NewFallback creates the strategy. enabled is false when no remote is configured.
func NewFallback(enabled bool, cooldown time.Duration) *Fallback {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Fallback{
		enabled:  enabled,
		cooldown: cooldown,
		logger:   logging.NewLogger("remote"),
		now:      time.Now,
	}
}

// Reachable reports whether remote calls should be attempted now.
func (f *Fallback) Reachable() bool {
	if f == nil || !f.enabled {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.now().Before(f.downUntil)
}

// Status returns the current state.
func (f *Fallback) Status() FallbackStatus {
	if f == nil {
		return FallbackStatus{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	status := FallbackStatus{
		Enabled:   f.enabled,
		Reachable: f.enabled && !f.now().Before(f.downUntil),
		Failures:  f.failures,
	}
	if f.now().Before(f.downUntil) {
		until := f.downUntil
		status.DownUntil = &until
	}
	if f.lastErr != nil {
		status.LastError = f.lastErr.Error()
	}
	return status
}

// Do runs a remote-only call. It fails fast with REMOTE_UNAVAILABLE while the
// remote is unconfigured or cooling down.
func (f *Fallback) Do(ctx context.Context, op string, remoteFn func(ctx context.Context) error) error {
	if !f.Reachable() {
		return errors.RemoteUnavailable(op, f.retryAt())
	}
	err := remoteFn(ctx)
	f.observe(op, err)
	return err
}

// Run tries remoteFn and falls back to localFn when the remote is unavailable
// or the call fails. Only localFn's error is returned on the fallback path.
func (f *Fallback) Run(ctx context.Context, op string, remoteFn, localFn func(ctx context.Context) error) (Source, error) {
	if f.Reachable() {
		err := remoteFn(ctx)
		f.observe(op, err)
		if err == nil {
			return SourceRemote, nil
		}
		if ctx.Err() != nil {
			return SourceRemote, ctx.Err()
		}
	}
	return SourceLocal, localFn(ctx)
}

// Query is Run for calls that produce a value.
func Query[T any](ctx context.Context, f *Fallback, op string, remoteFn, localFn func(ctx context.Context) (T, error)) (T, Source, error) {
	var result T
	source, err := f.Run(ctx, op,
		func(ctx context.Context) error {
			v, err := remoteFn(ctx)
			if err == nil {
				result = v
			}
			return err
		},
		func(ctx context.Context) error {
			v, err := localFn(ctx)
			result = v
			return err
		})
	return result, source, err
}

func (f *Fallback) observe(op string, err error) {
	if err == nil {
		f.mu.Lock()
		recovered := f.failures > 0
		f.failures = 0
		f.lastErr = nil
		f.mu.Unlock()
		if recovered {
			f.logger.WithField("operation", op).Info("Remote store reachable again")
		}
		return
	}
	if !IsUnavailable(err) {
		f.logger.WithError(err).WithField("operation", op).Warn("Remote request failed")
		return
	}

	f.mu.Lock()
	f.failures++
	f.lastErr = err
	f.downUntil = f.now().Add(f.cooldown)
	until := f.downUntil
	f.mu.Unlock()

	f.logger.WithError(err).WithFields(logrus.Fields{
		"operation":  op,
		"retry_at":   until.Format(time.RFC3339),
		"cooldown_s": f.cooldown.Seconds(),
	}).Warn("Remote store unreachable, switching to local-only mode")
}

func (f *Fallback) retryAt() time.Time {
	if f == nil || !f.enabled {
		return time.Time{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downUntil
}

// IsUnavailable reports whether err means the remote store cannot be reached:
// transport failures, timeouts, 5xx and 429 answers.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	memErr, ok := errors.As(err)
	if !ok {
		return true
	}
	switch memErr.Code {
	case errors.ErrCodeRemoteUnavailable:
		return true
	case errors.ErrCodeRemoteRequest:
		status, _ := memErr.Details["status"].(int)
		return status == 0 || status >= 500 || status == 429
	}
	return false
}
