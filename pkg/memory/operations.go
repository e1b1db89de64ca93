package memory

import (
	"context"
	"strings"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/cache"
	"github.com/grovetools/memory/pkg/effects"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/remote"
	"github.com/grovetools/memory/pkg/threads"
)

// RecallResult is the answer to a recall query.
type RecallResult struct {
	Matches       []models.ScarMatch `json:"matches"`
	Source        cache.Source       `json:"source"`
	Degraded      bool               `json:"degraded"`
	NewlySurfaced int                `json:"newly_surfaced"`
}

// Recall searches the scar corpus and records what was surfaced in the
// session state. Usage analytics are uploaded in the background.
func (s *Service) Recall(ctx context.Context, sc SessionContext, query string, k int) (*RecallResult, error) {
	sc, err := s.resolve(ctx, sc)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.InvalidInput("query", "query is empty")
	}

	res := s.cache.Search(ctx, query, k, s.project)
	result := &RecallResult{Matches: res.Matches, Source: res.Source, Degraded: res.Degraded}

	now := s.now().UTC()
	var usage []models.ScarUsage
	_, err = s.registry.UpdateState(sc.SessionID, func(st *models.SessionState) error {
		for _, m := range res.Matches {
			if st.HasSurfaced(m.ID) {
				continue
			}
			st.SurfacedScars = append(st.SurfacedScars, models.SurfacedScar{
				ScarID:     m.ID,
				Title:      m.Title,
				SurfacedAt: now,
				Source:     string(res.Source),
			})
			usage = append(usage, models.ScarUsage{
				ScarID:     m.ID,
				SessionID:  sc.SessionID,
				Project:    s.project,
				Query:      query,
				SurfacedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sc.SessionID).Warn("Failed to record surfaced scars")
	}
	result.NewlySurfaced = len(usage)

	if s.remote != nil && len(usage) > 0 {
		s.effects.Track(effects.WithSession(ctx, sc.SessionID), effects.CategoryScarUsage, "record scar usage", func(ctx context.Context) error {
			return s.fallback.Do(ctx, "scar_usage", func(ctx context.Context) error {
				return s.remote.RecordScarUsage(ctx, usage)
			})
		})
	}
	return result, nil
}

// CreateThread opens a thread, or touches the open thread it duplicates.
func (s *Service) CreateThread(ctx context.Context, sc SessionContext, text string) (*threads.CreateResult, error) {
	sc, err := s.resolve(ctx, sc)
	if err != nil {
		return nil, err
	}
	result, err := s.threads.Create(ctx, text, sc.SessionID)
	if err != nil {
		return nil, err
	}
	s.recordThreads(sc, result.Thread)
	s.pushThreads(ctx, sc)
	return &result, nil
}

// ResolveThread resolves a thread by id or text.
func (s *Service) ResolveThread(ctx context.Context, sc SessionContext, req threads.ResolveRequest) (*threads.ResolveResult, error) {
	sc, err := s.resolve(ctx, sc)
	if err != nil {
		return nil, err
	}
	if req.ThreadID == "" && req.TextMatch == "" {
		return nil, errors.InvalidInput("thread_id", "either thread_id or text_match is required")
	}
	req.SessionID = sc.SessionID
	result, err := s.threads.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Changed() {
		changed := []models.Thread{result.Resolved}
		if result.Cascaded != nil {
			changed = append(changed, *result.Cascaded)
		}
		s.recordThreads(sc, changed...)
		s.pushThreads(ctx, sc)
	}
	return &result, nil
}

// ListThreads returns local threads, optionally filtered by status.
func (s *Service) ListThreads(ctx context.Context, statuses ...models.ThreadStatus) ([]models.Thread, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, errors.InvalidInput("status", "unknown thread status "+string(st))
		}
	}
	return s.threads.List(statuses...), nil
}

// CleanupThreads triages open threads, demoting stale ones to dormant and,
// with autoArchive, archiving long-dormant ones.
func (s *Service) CleanupThreads(ctx context.Context, sc SessionContext, autoArchive bool) (*threads.TriageReport, error) {
	report, err := s.threads.Cleanup(ctx, autoArchive)
	if err != nil {
		return nil, err
	}
	if report.Demoted > 0 || len(report.Archived) > 0 {
		if resolved, err := s.resolve(ctx, sc); err == nil {
			sc = resolved
		}
		s.pushThreads(ctx, sc)
	}
	return &report, nil
}

// recordThreads mirrors changed threads into the session state.
func (s *Service) recordThreads(sc SessionContext, changed ...models.Thread) {
	_, err := s.registry.UpdateState(sc.SessionID, func(st *models.SessionState) error {
		for _, t := range changed {
			replaced := false
			for i := range st.Threads {
				if st.Threads[i].ID == t.ID {
					st.Threads[i] = t
					replaced = true
					break
				}
			}
			if !replaced {
				st.Threads = append(st.Threads, t)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sc.SessionID).Debug("Session state not updated with thread change")
	}
}

func (s *Service) pushThreads(ctx context.Context, sc SessionContext) {
	if s.remote == nil {
		return
	}
	s.effects.Track(effects.WithSession(ctx, sc.SessionID), effects.CategoryThreadSync, "push threads", s.threads.Push)
}

// HealthReport combines effect, cache and remote health.
type HealthReport struct {
	Healthy  bool                  `json:"healthy"`
	Project  string                `json:"project"`
	Session  *SessionContext       `json:"session,omitempty"`
	Sessions int                   `json:"registered_sessions"`
	Effects  effects.Report        `json:"effects"`
	Cache    cache.Health          `json:"cache"`
	Remote   remote.FallbackStatus `json:"remote"`
}

// Health reports on background effects, the search cache and the remote
// store. limit bounds the number of failures listed.
func (s *Service) Health(ctx context.Context, limit int) *HealthReport {
	report := &HealthReport{
		Project:  s.project,
		Sessions: len(s.registry.List()),
		Effects:  s.effects.HealthReport(limit),
		Cache:    s.cache.CheckHealth(ctx, s.project),
		Remote:   s.fallback.Status(),
	}
	if sc, err := s.Current(ctx); err == nil {
		report.Session = &sc
	}
	report.Healthy = report.Effects.Healthy && !report.Cache.Drift &&
		(!report.Remote.Enabled || report.Remote.Reachable)
	return report
}
