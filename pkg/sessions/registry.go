// Package sessions tracks which process owns which logical session.
//
// The registry (active-sessions.json) maps (hostname, pid) to a session id and
// is shared by every server process using the same memory root. Each session
// also owns a state file under sessions/<id>/ that only its process writes.
package sessions

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/fsstore"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/pkg/process"
	"github.com/grovetools/memory/schema"
	"github.com/sirupsen/logrus"
)

// Registry defines the interface for managing live session tracking.
type Registry interface {
	Register(ctx context.Context, entry models.RegistryEntry) error
	Unregister(ctx context.Context, sessionID string) (bool, error)
	FindByHostPid(hostname string, pid int) (*models.RegistryEntry, bool)
	FindByID(sessionID string) (*models.RegistryEntry, bool)
	List() []models.RegistryEntry
	PruneStale(ctx context.Context, self process.Identity) (PruneReport, error)
	MigrateFromLegacy(ctx context.Context, self process.Identity) (bool, error)
}

// Policy holds the pruning and adoption thresholds.
type Policy struct {
	// AdoptThreshold is the maximum age of a dead-PID entry that the current process takes over.
	AdoptThreshold time.Duration
	// StaleThreshold is the age after which any entry is removed.
	StaleThreshold time.Duration
	// MissingStateGrace protects fresh entries whose state file is not written yet.
	MissingStateGrace time.Duration
	// OrphanGrace protects fresh session directories that are not registered yet.
	OrphanGrace time.Duration
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		AdoptThreshold:    2 * time.Hour,
		StaleThreshold:    24 * time.Hour,
		MissingStateGrace: 5 * time.Minute,
		OrphanGrace:       5 * time.Minute,
	}
}

// Option configures a FileSystemRegistry.
type Option func(*FileSystemRegistry)

// WithPolicy overrides the pruning thresholds.
func WithPolicy(p Policy) Option {
	return func(r *FileSystemRegistry) { r.policy = p }
}

// WithProber overrides the PID liveness probe.
func WithProber(p process.Prober) Option {
	return func(r *FileSystemRegistry) { r.prober = p }
}

// WithLocker overrides the lock used around registry mutations.
func WithLocker(l *fsstore.Locker) Option {
	return func(r *FileSystemRegistry) { r.locker = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *FileSystemRegistry) { r.now = now }
}

// FileSystemRegistry implements Registry on top of a memory root directory.
type FileSystemRegistry struct {
	layout    paths.Layout
	policyMu  sync.RWMutex
	policy    Policy
	prober    process.Prober
	locker    *fsstore.Locker
	validator *schema.Validator
	logger    *logrus.Entry
	now       func() time.Time

	// mu serializes mutations from goroutines of this process; the lock file
	// serializes them across processes.
	mu sync.Mutex

	migrateOnce sync.Once
	migrated    bool
	migrateErr  error
}

// NewFileSystemRegistry creates a registry rooted at layout.
func NewFileSystemRegistry(layout paths.Layout, opts ...Option) *FileSystemRegistry {
	r := &FileSystemRegistry{
		layout: layout,
		policy: DefaultPolicy(),
		logger: logging.NewLogger("sessions"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.prober == nil {
		r.prober = process.SignalProber{Timeout: time.Second}
	}
	if r.locker == nil {
		r.locker = fsstore.NewLocker(fsstore.DefaultLockOptions(), process.Current(), r.prober)
	}
	if v, err := schema.Default(); err == nil {
		r.validator = v
	} else {
		r.logger.WithError(err).Warn("Schema validation disabled")
	}
	return r
}

// NewSessionID returns a fresh globally unique session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Policy returns the thresholds in effect.
func (r *FileSystemRegistry) Policy() Policy {
	r.policyMu.RLock()
	defer r.policyMu.RUnlock()
	return r.policy
}

// SetPolicy replaces the thresholds used by later prune passes.
func (r *FileSystemRegistry) SetPolicy(p Policy) {
	r.policyMu.Lock()
	defer r.policyMu.Unlock()
	r.policy = p
}

// Layout returns the directory layout the registry works in.
func (r *FileSystemRegistry) Layout() paths.Layout {
	return r.layout
}

// Register adds or replaces the entry. An existing entry with the same session id
// or the same (hostname, pid) is replaced, so registering twice is a no-op.
func (r *FileSystemRegistry) Register(ctx context.Context, entry models.RegistryEntry) error {
	if entry.StartedAt.IsZero() {
		entry.StartedAt = r.now().UTC()
	}
	return r.mutate(ctx, func(doc *models.RegistryDocument) (bool, error) {
		kept := doc.Sessions[:0]
		placed := false
		for _, existing := range doc.Sessions {
			if existing.SessionID == entry.SessionID ||
				(existing.Hostname == entry.Hostname && existing.PID == entry.PID) {
				if !placed {
					kept = append(kept, entry)
					placed = true
				}
				continue
			}
			kept = append(kept, existing)
		}
		if !placed {
			kept = append(kept, entry)
		}
		doc.Sessions = kept
		r.logger.WithFields(logrus.Fields{
			"session_id": entry.SessionID,
			"hostname":   entry.Hostname,
			"pid":        entry.PID,
		}).Debug("Registered session")
		return true, nil
	})
}

// Unregister removes the entry for sessionID and reports whether one existed.
func (r *FileSystemRegistry) Unregister(ctx context.Context, sessionID string) (bool, error) {
	removed := false
	err := r.mutate(ctx, func(doc *models.RegistryDocument) (bool, error) {
		kept := doc.Sessions[:0]
		for _, existing := range doc.Sessions {
			if existing.SessionID == sessionID {
				removed = true
				continue
			}
			kept = append(kept, existing)
		}
		doc.Sessions = kept
		return removed, nil
	})
	return removed, err
}

// FindByHostPid returns the entry owned by the given process.
func (r *FileSystemRegistry) FindByHostPid(hostname string, pid int) (*models.RegistryEntry, bool) {
	for _, entry := range r.load().Sessions {
		if entry.Hostname == hostname && entry.PID == pid {
			e := entry
			return &e, true
		}
	}
	return nil, false
}

// FindByID returns the entry with the given session id.
func (r *FileSystemRegistry) FindByID(sessionID string) (*models.RegistryEntry, bool) {
	for _, entry := range r.load().Sessions {
		if entry.SessionID == sessionID {
			e := entry
			return &e, true
		}
	}
	return nil, false
}

// List returns all entries, oldest first.
func (r *FileSystemRegistry) List() []models.RegistryEntry {
	entries := r.load().Sessions
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
	return entries
}

// load reads the registry. Missing, corrupt or schema-invalid files read as empty.
func (r *FileSystemRegistry) load() models.RegistryDocument {
	doc := models.RegistryDocument{Sessions: []models.RegistryEntry{}}
	path := r.layout.Registry()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.WithError(err).WithField("path", path).Warn("Cannot read session registry, treating as empty")
		}
		return doc
	}

	if r.validator != nil {
		if err := r.validator.ValidateBytes(schema.KindRegistry, data); err != nil {
			r.logger.WithError(err).WithField("path", path).Warn("Session registry failed validation, treating as empty")
			return doc
		}
	}

	var parsed models.RegistryDocument
	if err := json.Unmarshal(data, &parsed); err != nil {
		r.logger.WithError(err).WithField("path", path).Warn("Session registry is corrupt, treating as empty")
		return doc
	}
	if parsed.Sessions != nil {
		doc.Sessions = parsed.Sessions
	}
	return doc
}

func (r *FileSystemRegistry) save(doc models.RegistryDocument) error {
	if doc.Sessions == nil {
		doc.Sessions = []models.RegistryEntry{}
	}
	return fsstore.WriteJSON(r.layout.Registry(), doc)
}

// mutate runs a read-modify-write cycle under the registry lock.
// fn reports whether it changed the document.
func (r *FileSystemRegistry) mutate(ctx context.Context, fn func(doc *models.RegistryDocument) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.locker.WithLock(ctx, r.layout.RegistryLock(), func() error {
		doc := r.load()
		changed, err := fn(&doc)
		if err != nil || !changed {
			return err
		}
		return r.save(doc)
	})
}
