// Package memory is the service facade the front ends call: it owns the
// session registry, the thread manager, the search cache and the effect
// tracker of one project and threads a SessionContext through every call.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/memory/config"
	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/cache"
	"github.com/grovetools/memory/pkg/effects"
	"github.com/grovetools/memory/pkg/embedding"
	"github.com/grovetools/memory/pkg/fsstore"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/pkg/process"
	"github.com/grovetools/memory/pkg/remote"
	"github.com/grovetools/memory/pkg/sessions"
	"github.com/grovetools/memory/pkg/threads"
	"github.com/sirupsen/logrus"
)

// Options wires a Service. Only Config is required; the rest default to what
// the configuration describes.
type Options struct {
	Config   *config.Config
	Self     process.Identity
	Prober   process.Prober
	Remote   remote.Store
	Embedder embedding.Embedder
	Now      func() time.Time
}

// Service is the memory service of one project.
type Service struct {
	cfg      *config.Config
	project  string
	layout   paths.Layout
	self     process.Identity
	registry *sessions.FileSystemRegistry
	threads  *threads.Manager
	cache    *cache.Cache
	effects  *effects.Tracker

	remote    remote.Store
	fallback  *remote.Fallback
	snapshots *cache.SnapshotStore

	logger *logrus.Entry
	now    func() time.Time
}

// New builds a Service and creates the memory root if needed.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("memory root is not set")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Self == (process.Identity{}) {
		opts.Self = process.Current()
	}
	if opts.Prober == nil {
		opts.Prober = process.SignalProber{Timeout: cfg.Sessions.ProbeTimeout.Std()}
	}

	logger := logging.NewLogger("memory")
	layout := paths.NewLayout(cfg.Root)
	if err := layout.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("prepare memory root: %w", err)
	}

	store := opts.Remote
	if store == nil && cfg.Remote.Enabled() {
		store = remote.NewRESTClient(cfg.Remote.URL, cfg.Remote.APIKey, Tables(cfg), cfg.Remote.Timeout.Std())
	}
	fallback := remote.NewFallback(store != nil, cfg.Remote.Cooldown.Std())

	embedder := opts.Embedder
	if embedder == nil {
		var err error
		embedder, err = embedding.New(embedding.Options{
			Provider:   cfg.Embedding.Provider,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Remote.Timeout.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("configure embeddings: %w", err)
		}
	}

	var snapshots *cache.SnapshotStore
	if !cfg.Cache.SnapshotDisabled {
		s, err := cache.OpenSnapshotStore(layout.SearchSnapshot())
		if err != nil {
			logger.WithError(err).Warn("Search snapshot unavailable, cold starts will wait for the remote")
		} else {
			snapshots = s
		}
	}

	locker := fsstore.NewLocker(LockOptions(cfg), opts.Self, opts.Prober)
	svc := &Service{
		cfg:       cfg,
		project:   cfg.Project,
		layout:    layout,
		self:      opts.Self,
		remote:    store,
		fallback:  fallback,
		snapshots: snapshots,
		effects:   effects.NewTracker(cfg.Effects.History),
		logger:    logger,
		now:       opts.Now,
	}
	svc.registry = sessions.NewFileSystemRegistry(layout,
		sessions.WithPolicy(SessionPolicy(cfg)),
		sessions.WithProber(opts.Prober),
		sessions.WithLocker(locker),
		sessions.WithClock(opts.Now),
	)
	svc.threads = threads.NewManager(threads.NewStore(layout, locker), threads.ManagerOptions{
		Project:  cfg.Project,
		Policy:   ThreadPolicy(cfg),
		Remote:   store,
		Fallback: fallback,
		Embedder: embedder,
		Now:      opts.Now,
	})
	svc.cache = cache.New(cache.Options{
		Remote:    store,
		Fallback:  fallback,
		Embedder:  embedder,
		Snapshots: snapshots,
		MaxAge:    cfg.Cache.MaxAge.Std(),
		Launch: func(label string, fn func(ctx context.Context) error) {
			svc.effects.Track(context.Background(), effects.CategoryCacheWarm, label, fn)
		},
		Now: opts.Now,
	})
	return svc, nil
}

// Close waits for in-flight effects until ctx is done and releases the snapshot database.
func (s *Service) Close(ctx context.Context) error {
	waitErr := s.effects.Wait(ctx)
	if s.snapshots != nil {
		if err := s.snapshots.Close(); err != nil {
			return err
		}
	}
	return waitErr
}

// Reload applies the policy values of cfg to the running service.
func (s *Service) Reload(cfg *config.Config) {
	s.registry.SetPolicy(SessionPolicy(cfg))
	s.threads.SetPolicy(ThreadPolicy(cfg))
	s.logger.Info("Applied reloaded configuration")
}

func (s *Service) Config() *config.Config                 { return s.cfg }
func (s *Service) Project() string                        { return s.project }
func (s *Service) Layout() paths.Layout                   { return s.layout }
func (s *Service) Self() process.Identity                 { return s.self }
func (s *Service) Registry() *sessions.FileSystemRegistry { return s.registry }
func (s *Service) Threads() *threads.Manager              { return s.threads }
func (s *Service) Cache() *cache.Cache                    { return s.cache }
func (s *Service) Effects() *effects.Tracker              { return s.effects }

// SessionPolicy converts the sessions section of cfg.
func SessionPolicy(cfg *config.Config) sessions.Policy {
	return sessions.Policy{
		AdoptThreshold:    cfg.Sessions.AdoptThreshold.Std(),
		StaleThreshold:    cfg.Sessions.StaleThreshold.Std(),
		MissingStateGrace: cfg.Sessions.MissingStateGrace.Std(),
		OrphanGrace:       cfg.Sessions.OrphanGrace.Std(),
	}
}

// ThreadPolicy converts the threads section of cfg.
func ThreadPolicy(cfg *config.Config) threads.Policy {
	return threads.Policy{
		DedupSimilarity:      cfg.Threads.DedupSimilarity,
		AggregateMaxSessions: cfg.Threads.AggregateMaxSessions,
		AggregateMaxAgeDays:  cfg.Threads.AggregateMaxAgeDays,
		HalfLife:             time.Duration(cfg.Threads.HalfLifeDays * float64(24*time.Hour)),
		ArchiveAfter:         time.Duration(cfg.Threads.ArchiveAfterDays) * 24 * time.Hour,
	}
}

// LockOptions converts the lock section of cfg.
func LockOptions(cfg *config.Config) fsstore.LockOptions {
	return fsstore.LockOptions{
		Timeout:       cfg.Lock.Timeout.Std(),
		StaleAfter:    cfg.Lock.StaleAfter.Std(),
		RetryInterval: cfg.Lock.RetryInterval.Std(),
	}
}

// Tables converts the remote table names of cfg.
func Tables(cfg *config.Config) remote.Tables {
	return remote.Tables{
		Scars:          cfg.Remote.ScarsTable,
		Threads:        cfg.Remote.ThreadsTable,
		Sessions:       cfg.Remote.SessionsTable,
		Usage:          cfg.Remote.UsageTable,
		SearchFunction: cfg.Remote.SearchFunction,
	}
}
