package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/process"
	"github.com/sirupsen/logrus"
)

// LockInfo is the content of a lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
	Token      string    `json:"token"`
}

// LockOptions bounds lock acquisition.
type LockOptions struct {
	// Timeout is how long one holder may keep the lock before it is forcibly
	// reclaimed. A holder that is a live process on this host is never
	// reclaimed; the wait fails with LOCK_TIMEOUT instead.
	Timeout time.Duration
	// StaleAfter is the age after which any lock is reclaimed immediately.
	StaleAfter time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

// DefaultLockOptions returns the stock lock policy.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Timeout:       5 * time.Second,
		StaleAfter:    30 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

// Locker serializes critical sections across processes sharing a filesystem.
type Locker struct {
	opts   LockOptions
	self   process.Identity
	prober process.Prober
	logger *logrus.Entry
	now    func() time.Time
}

// NewLocker creates a Locker for the given identity.
func NewLocker(opts LockOptions, self process.Identity, prober process.Prober) *Locker {
	def := DefaultLockOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if prober == nil {
		prober = process.SignalProber{}
	}
	return &Locker{
		opts:   opts,
		self:   self,
		prober: prober,
		logger: log,
		now:    time.Now,
	}
}

// WithLock runs fn while holding the lock file at lockPath.
//
// A lock held by a dead local process or older than StaleAfter is taken over at once.
// Once the same holder has kept the lock for Timeout it is presumed crashed and
// the lock is taken over as well, unless it is a live process on this host, in
// which case WithLock returns a LOCK_TIMEOUT error.
// When the lock file cannot be created at all (for example a read-only directory)
// fn still runs, without mutual exclusion.
func (l *Locker) WithLock(ctx context.Context, lockPath string, fn func() error) error {
	token, err := l.acquire(ctx, lockPath)
	if err != nil {
		return err
	}
	if token == "" {
		return fn()
	}
	defer l.release(lockPath, token)
	return fn()
}

// acquire returns the token written to the lock, or "" when running unlocked.
func (l *Locker) acquire(ctx context.Context, lockPath string) (string, error) {
	info := LockInfo{
		PID:      l.self.PID,
		Hostname: l.self.Hostname,
		Token:    uuid.NewString(),
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		l.logger.WithError(err).WithField("lock", lockPath).Warn("Cannot create lock directory, proceeding unlocked")
		return "", nil
	}

	start := l.now()
	seen, seenAt := "", start
	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for {
		info.AcquiredAt = l.now().UTC()
		created, err := tryCreate(lockPath, info)
		if created {
			return info.Token, nil
		}
		if err != nil {
			l.logger.WithError(err).WithField("lock", lockPath).Warn("Cannot create lock file, proceeding unlocked")
			return "", nil
		}

		holder, readErr := ReadLock(lockPath)
		token := ""
		if readErr == nil {
			token = holder.Token
		}

		if reason := l.reclaimable(lockPath); reason != "" && l.forceReclaim(lockPath, token) {
			l.logger.WithFields(logrus.Fields{"lock": lockPath, "reason": reason}).Debug("Reclaimed lock")
			continue
		}

		// The timeout runs per holder: a new holder restarts the clock.
		if token != seen {
			seen, seenAt = token, l.now()
		}
		if held := l.now().Sub(seenAt); held >= l.opts.Timeout {
			if readErr == nil && l.holderAlive(holder) {
				return "", errors.LockTimeout(lockPath, l.now().Sub(start)).WithDetail("holder_pid", holder.PID)
			}
			if l.forceReclaim(lockPath, seen) {
				l.logger.WithFields(logrus.Fields{
					"lock": lockPath,
					"held": held.String(),
				}).Warn("Lock wait timed out, reclaiming from presumed crashed holder")
				continue
			}
		}

		select {
		case <-ctx.Done():
			timeout := errors.LockTimeout(lockPath, l.now().Sub(start))
			timeout.Cause = ctx.Err()
			return "", timeout
		case <-ticker.C:
		}
	}
}

// tryCreate reports created=true on success, err=nil with created=false on contention,
// and a non-nil error when the file cannot be created for any other reason.
func tryCreate(lockPath string, info LockInfo) (bool, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	data, _ := json.Marshal(info)
	_, writeErr := f.Write(data)
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(lockPath)
		if writeErr != nil {
			return false, fmt.Errorf("write lock: %w", writeErr)
		}
		return false, fmt.Errorf("close lock: %w", closeErr)
	}
	return true, nil
}

// reclaimable returns a non-empty reason when the current lock may be taken over.
func (l *Locker) reclaimable(lockPath string) string {
	holder, err := ReadLock(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		// A half-written lock is judged by its mtime.
		stat, statErr := os.Stat(lockPath)
		if statErr == nil && l.now().Sub(stat.ModTime()) > l.opts.StaleAfter {
			return "unreadable and stale"
		}
		return ""
	}

	if holder.Hostname == l.self.Hostname && holder.PID != l.self.PID && !l.prober.Alive(holder.PID) {
		return fmt.Sprintf("holder pid %d is dead", holder.PID)
	}
	if !holder.AcquiredAt.IsZero() && l.now().Sub(holder.AcquiredAt) > l.opts.StaleAfter {
		return "stale"
	}
	return ""
}

// holderAlive reports whether holder is a process on this host that is still running.
func (l *Locker) holderAlive(holder *LockInfo) bool {
	if holder.Hostname != l.self.Hostname {
		return false
	}
	return holder.PID == l.self.PID || l.prober.Alive(holder.PID)
}

// forceReclaim removes the lock if it still carries token, the holder the
// caller judged. A guard file keeps concurrent waiters from removing a lock
// another waiter just took.
func (l *Locker) forceReclaim(lockPath, token string) bool {
	guard := lockPath + ".reclaim"
	f, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if stat, statErr := os.Stat(guard); statErr == nil && l.now().Sub(stat.ModTime()) > l.opts.StaleAfter {
			_ = os.Remove(guard)
		}
		return false
	}
	_ = f.Close()
	defer os.Remove(guard)

	holder, err := ReadLock(lockPath)
	switch {
	case os.IsNotExist(err):
		return false
	case err == nil && holder.Token != token:
		return false
	}
	return os.Remove(lockPath) == nil
}

func (l *Locker) release(lockPath, token string) {
	holder, err := ReadLock(lockPath)
	if err != nil {
		return
	}
	if holder.Token != token {
		l.logger.WithField("lock", lockPath).Debug("Lock was taken over, leaving it in place")
		return
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		l.logger.WithError(err).WithField("lock", lockPath).Warn("Failed to release lock")
	}
}

// ReadLock returns the holder recorded in a lock file.
func ReadLock(lockPath string) (*LockInfo, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
