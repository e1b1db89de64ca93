package memory

import (
	"context"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/cache"
	"github.com/grovetools/memory/pkg/effects"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/remote"
	"github.com/grovetools/memory/pkg/sessions"
	"github.com/sirupsen/logrus"
)

// SessionContext identifies the session a call acts for. Front ends keep it
// between calls; Current rebuilds it after a restart.
type SessionContext struct {
	SessionID string    `json:"session_id"`
	Agent     string    `json:"agent"`
	Project   string    `json:"project"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
}

// Valid reports whether sc names a session.
func (sc SessionContext) Valid() bool { return sc.SessionID != "" }

func contextFromState(state *models.SessionState) SessionContext {
	return SessionContext{
		SessionID: state.SessionID,
		Agent:     state.Agent,
		Project:   state.Project,
		StartedAt: state.StartedAt,
		Hostname:  state.Hostname,
		PID:       state.PID,
	}
}

// StartOptions describes the session being started.
type StartOptions struct {
	Agent   string
	Project string
}

// StartResult is returned by StartSession.
type StartResult struct {
	Session      SessionContext  `json:"session"`
	Resumed      bool            `json:"resumed"`
	Adopted      bool            `json:"adopted"`
	Pruned       int             `json:"pruned"`
	OpenThreads  []models.Thread `json:"open_threads"`
	ProjectState *models.Thread  `json:"project_state,omitempty"`
	ThreadSource remote.Source   `json:"thread_source"`
	Cache        cache.Status    `json:"cache"`
}

// StartSession resumes the session this process owns, adopts a recently
// crashed one or creates a new one. Pruning always runs before a session is
// created. Open threads are synced from the remote store when it answers.
func (s *Service) StartSession(ctx context.Context, opts StartOptions) (*StartResult, error) {
	if opts.Project != "" && opts.Project != s.project {
		return nil, errors.InvalidInput("project", "this server is bound to project "+s.project)
	}
	if opts.Agent == "" {
		opts.Agent = s.cfg.Agent
	}

	if migrated, err := s.registry.MigrateFromLegacy(ctx, s.self); err != nil {
		s.logger.WithError(err).Warn("Legacy session migration failed")
	} else if migrated {
		s.logger.Info("Migrated legacy single-session file")
	}

	result := &StartResult{}
	state := s.ownedState(ctx)
	if state != nil {
		result.Resumed = true
	} else {
		report, err := s.registry.PruneStale(ctx, s.self)
		if err != nil {
			return nil, err
		}
		result.Pruned = len(report.Removed)
		if report.Adopted != nil {
			if adopted, err := s.registry.LoadState(report.Adopted.SessionID); err == nil {
				state = adopted
				result.Resumed = true
				result.Adopted = true
			}
		}
	}

	if state == nil {
		var err error
		state, err = s.createSession(ctx, opts.Agent)
		if err != nil {
			return nil, err
		}
	}

	report, err := s.threads.Sync(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Thread sync failed, using local threads")
	}
	result.ThreadSource = report.Source
	result.ProjectState = report.ProjectState
	result.OpenThreads = s.threads.Open()

	now := s.now().UTC()
	updated, err := s.registry.UpdateState(state.SessionID, func(st *models.SessionState) error {
		st.Threads = result.OpenThreads
		st.LastRefreshed = &now
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to record open threads in session state")
	} else {
		state = updated
	}

	s.cache.EnsureInitialized(s.project)
	result.Cache = s.cache.Status(s.project)
	result.Session = contextFromState(state)

	s.logger.WithFields(logrus.Fields{
		"session_id": state.SessionID,
		"resumed":    result.Resumed,
		"adopted":    result.Adopted,
		"threads":    len(result.OpenThreads),
	}).Info("Session started")
	return result, nil
}

// ownedState returns the state of the session registered to this process.
// An entry whose state cannot be read is dropped.
func (s *Service) ownedState(ctx context.Context) *models.SessionState {
	entry, ok := s.registry.FindByHostPid(s.self.Hostname, s.self.PID)
	if !ok {
		return nil
	}
	state, err := s.registry.LoadState(entry.SessionID)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", entry.SessionID).Warn("Registered session has no usable state, starting over")
		if _, err := s.registry.Unregister(ctx, entry.SessionID); err != nil {
			s.logger.WithError(err).Warn("Failed to drop unusable session entry")
		}
		return nil
	}
	return state
}

func (s *Service) createSession(ctx context.Context, agent string) (*models.SessionState, error) {
	state := &models.SessionState{
		SessionID: sessions.NewSessionID(),
		Agent:     agent,
		StartedAt: s.now().UTC(),
		Project:   s.project,
		Hostname:  s.self.Hostname,
		PID:       s.self.PID,
	}
	if err := s.registry.SaveState(state); err != nil {
		return nil, err
	}
	if err := s.registry.Register(ctx, state.Entry()); err != nil {
		_ = s.registry.DeleteState(state.SessionID)
		return nil, err
	}
	return state, nil
}

// Current rebuilds the SessionContext of the session this process owns.
func (s *Service) Current(ctx context.Context) (SessionContext, error) {
	entry, ok := s.registry.FindByHostPid(s.self.Hostname, s.self.PID)
	if !ok {
		return SessionContext{}, errors.NoActiveSession(s.self.Hostname, s.self.PID)
	}
	state, err := s.registry.LoadState(entry.SessionID)
	if err != nil {
		return SessionContext{}, err
	}
	return contextFromState(state), nil
}

// resolve fills in sc from the registry when the caller did not carry one.
func (s *Service) resolve(ctx context.Context, sc SessionContext) (SessionContext, error) {
	if sc.Valid() {
		return sc, nil
	}
	return s.Current(ctx)
}

// CloseOptions describes how a session ends.
type CloseOptions struct {
	Summary string
}

// CloseResult is returned by CloseSession.
type CloseResult struct {
	SessionID    string `json:"session_id"`
	OpenThreads  int    `json:"open_threads"`
	Unregistered bool   `json:"unregistered"`
	Uploading    bool   `json:"uploading"`
}

// CloseSession uploads the session summary in the background, unregisters
// the session and deletes its state.
func (s *Service) CloseSession(ctx context.Context, sc SessionContext, opts CloseOptions) (*CloseResult, error) {
	sc, err := s.resolve(ctx, sc)
	if err != nil {
		return nil, err
	}

	state, stateErr := s.registry.LoadState(sc.SessionID)
	if stateErr == nil {
		sc = contextFromState(state)
	} else if _, registered := s.registry.FindByID(sc.SessionID); !registered {
		return nil, errors.SessionNotFound(sc.SessionID)
	}

	open := s.threads.Open()
	result := &CloseResult{SessionID: sc.SessionID, OpenThreads: len(open)}

	if s.remote != nil {
		closed := models.ClosedSession{
			SessionID:   sc.SessionID,
			Project:     s.project,
			Agent:       sc.Agent,
			StartedAt:   sc.StartedAt,
			ClosedAt:    s.now().UTC(),
			Summary:     opts.Summary,
			OpenThreads: open,
		}
		ectx := effects.WithSession(ctx, sc.SessionID)
		s.effects.Track(ectx, effects.CategorySessionSync, "upload closed session", func(ctx context.Context) error {
			return s.fallback.Do(ctx, "session.close", func(ctx context.Context) error {
				return s.remote.UpsertSession(ctx, closed)
			})
		})
		s.effects.Track(ectx, effects.CategoryThreadSync, "push threads on close", s.threads.Push)
		result.Uploading = true
	}

	removed, err := s.registry.Unregister(ctx, sc.SessionID)
	if err != nil {
		return nil, err
	}
	result.Unregistered = removed
	if err := s.registry.DeleteState(sc.SessionID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":   sc.SessionID,
		"open_threads": result.OpenThreads,
	}).Info("Session closed")
	return result, nil
}
