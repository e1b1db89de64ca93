// Package cache keeps a per-project, in-memory snapshot of the scar corpus so
// recall can be answered locally. Snapshots are swapped atomically; readers
// always see one complete snapshot.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/embedding"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/remote"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Source names where a snapshot or a search result came from.
type Source string

const (
	SourceLocal    Source = "local"
	SourceRemote   Source = "remote"
	SourceSnapshot Source = "snapshot"
	SourceNone     Source = "none"
)

// DefaultMaxAge is how long a snapshot counts as fresh.
const DefaultMaxAge = 15 * time.Minute

// LaunchFunc runs fn off the caller's goroutine. label identifies the work.
type LaunchFunc func(label string, fn func(ctx context.Context) error)

// Options wires a Cache. Every field is optional.
type Options struct {
	Remote    remote.Store
	Fallback  *remote.Fallback
	Embedder  embedding.Embedder
	Snapshots *SnapshotStore
	MaxAge    time.Duration
	// Launch runs background warm-ups. Defaults to a bare goroutine.
	Launch LaunchFunc
	Now    func() time.Time
}

type entry struct {
	snap    atomic.Pointer[Snapshot]
	warming atomic.Bool
}

// Cache holds one snapshot per project.
type Cache struct {
	remote    remote.Store
	fallback  *remote.Fallback
	embedder  embedding.Embedder
	snapshots *SnapshotStore
	maxAge    time.Duration
	launch    LaunchFunc
	now       func() time.Time
	logger    *logrus.Entry

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Cache.
func New(opts Options) *Cache {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fallback == nil {
		opts.Fallback = remote.NewFallback(opts.Remote != nil, 0)
	}
	logger := logging.NewLogger("cache")
	if opts.Launch == nil {
		opts.Launch = func(label string, fn func(ctx context.Context) error) {
			go func() {
				if err := fn(context.Background()); err != nil {
					logger.WithError(err).WithField("task", label).Debug("Background cache task failed")
				}
			}()
		}
	}
	return &Cache{
		remote:    opts.Remote,
		fallback:  opts.Fallback,
		embedder:  opts.Embedder,
		snapshots: opts.Snapshots,
		maxAge:    opts.MaxAge,
		launch:    opts.Launch,
		now:       opts.Now,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

func (c *Cache) entry(project string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[project]
	if !ok {
		e = &entry{}
		c.entries[project] = e
	}
	return e
}

// Snapshot returns the current snapshot of project, or nil.
func (c *Cache) Snapshot(project string) *Snapshot {
	return c.entry(project).snap.Load()
}

// IsAvailable reports whether project has a snapshot to search.
func (c *Cache) IsAvailable(project string) bool {
	return c.Snapshot(project) != nil
}

func (c *Cache) stale(s *Snapshot) bool {
	return s.Age(c.now()) > c.maxAge
}

// EnsureInitialized starts a background load of project unless a fresh
// snapshot exists or a load is already running. It never blocks.
func (c *Cache) EnsureInitialized(project string) {
	e := c.entry(project)
	if s := e.snap.Load(); s != nil && !c.stale(s) {
		return
	}
	if !e.warming.CompareAndSwap(false, true) {
		return
	}
	c.launch("cache_warm "+project, func(ctx context.Context) error {
		defer e.warming.Store(false)
		return c.Flush(ctx, project)
	})
}

// Flush reloads project from the remote store and waits for it. Concurrent
// calls for the same project share one load.
func (c *Cache) Flush(ctx context.Context, project string) error {
	_, err, _ := c.group.Do(project, func() (interface{}, error) {
		return nil, c.load(ctx, project)
	})
	return err
}

func (c *Cache) load(ctx context.Context, project string) error {
	e := c.entry(project)
	if e.snap.Load() == nil {
		c.seed(ctx, e, project)
	}

	if c.remote == nil {
		// Local-only mode: the persisted snapshot is all there is.
		return nil
	}

	var scars []models.Scar
	err := c.fallback.Do(ctx, "cache.load", func(ctx context.Context) error {
		var err error
		scars, err = c.remote.ListScars(ctx, project)
		return err
	})
	if err != nil {
		return err
	}

	snap := newSnapshot(project, scars, c.now(), SourceRemote)
	e.snap.Store(snap)
	c.logger.WithFields(logrus.Fields{"project": project, "count": snap.Count}).Debug("Cache loaded")

	if c.snapshots != nil {
		if err := c.snapshots.Save(ctx, snap); err != nil {
			c.logger.WithError(err).Warn("Failed to persist search snapshot")
		}
	}
	return nil
}

// seed installs the persisted snapshot when it is still fresh.
func (c *Cache) seed(ctx context.Context, e *entry, project string) {
	snap := c.persisted(ctx, project)
	if snap == nil || c.stale(snap) {
		return
	}
	if e.snap.CompareAndSwap(nil, snap) {
		c.logger.WithFields(logrus.Fields{"project": project, "count": snap.Count}).Debug("Cache seeded from snapshot")
	}
}

func (c *Cache) persisted(ctx context.Context, project string) *Snapshot {
	if c.snapshots == nil {
		return nil
	}
	snap, err := c.snapshots.Load(ctx, project)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read search snapshot")
		return nil
	}
	return snap
}

// Status describes a project's cache.
type Status struct {
	Project    string     `json:"project"`
	Available  bool       `json:"available"`
	Warming    bool       `json:"warming"`
	Count      int        `json:"count"`
	AsOf       *time.Time `json:"as_of,omitempty"`
	AgeSeconds float64    `json:"age_seconds"`
	Origin     Source     `json:"origin"`
}

// Status returns the current state of project's cache.
func (c *Cache) Status(project string) Status {
	e := c.entry(project)
	st := Status{Project: project, Warming: e.warming.Load(), Origin: SourceNone}
	if s := e.snap.Load(); s != nil {
		asOf := s.AsOf
		st.Available = true
		st.Count = s.Count
		st.AsOf = &asOf
		st.AgeSeconds = s.Age(c.now()).Seconds()
		st.Origin = s.Origin
	}
	return st
}

// Health compares the local snapshot with the remote store.
type Health struct {
	Status
	RemoteCount *int   `json:"remote_count,omitempty"`
	Stale       bool   `json:"stale"`
	Drift       bool   `json:"drift"`
	RemoteError string `json:"remote_error,omitempty"`
}

// CheckHealth reports staleness and count drift for project.
func (c *Cache) CheckHealth(ctx context.Context, project string) Health {
	h := Health{Status: c.Status(project)}
	h.Stale = !h.Available || time.Duration(h.AgeSeconds*float64(time.Second)) > c.maxAge

	if c.remote == nil {
		return h
	}
	var count int
	err := c.fallback.Do(ctx, "cache.count", func(ctx context.Context) error {
		var err error
		count, err = c.remote.CountScars(ctx, project)
		return err
	})
	if err != nil {
		h.RemoteError = err.Error()
		return h
	}
	h.RemoteCount = &count
	if h.Available && count != h.Count {
		h.Drift = true
		h.Stale = true
	}
	return h
}
