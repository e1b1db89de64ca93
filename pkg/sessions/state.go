package sessions

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/fsstore"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/schema"
)

// LoadState reads the state file of a session.
// A missing, corrupt or schema-invalid file yields a SESSION_NOT_FOUND error.
func (r *FileSystemRegistry) LoadState(sessionID string) (*models.SessionState, error) {
	path := r.layout.SessionState(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.SessionNotFound(sessionID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeSessionNotFound, "cannot read session state").
			WithDetail("session_id", sessionID)
	}

	if r.validator != nil {
		if err := r.validator.ValidateBytes(schema.KindSession, data); err != nil {
			r.logger.WithError(err).WithField("path", path).Warn("Session state failed validation, ignoring it")
			return nil, errors.Wrap(errors.SchemaInvalid("session", path, err), errors.ErrCodeSessionNotFound, "session state is invalid").
				WithDetail("session_id", sessionID)
		}
	}

	var state models.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		r.logger.WithError(err).WithField("path", path).Warn("Session state is corrupt, ignoring it")
		return nil, errors.Wrap(err, errors.ErrCodeSessionNotFound, "session state is corrupt").
			WithDetail("session_id", sessionID)
	}
	normalizeState(&state)
	return &state, nil
}

// SaveState writes the state file of a session.
func (r *FileSystemRegistry) SaveState(state *models.SessionState) error {
	if state.SessionID == "" {
		return errors.InvalidInput("session_id", "required")
	}
	normalizeState(state)
	if err := fsstore.WriteJSON(r.layout.SessionState(state.SessionID), state); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}

// UpdateState applies fn to the stored state and saves the result.
// State files are written only by their owning process, so no lock file is taken.
func (r *FileSystemRegistry) UpdateState(sessionID string, fn func(state *models.SessionState) error) (*models.SessionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.LoadState(sessionID)
	if err != nil {
		return nil, err
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	if err := r.SaveState(state); err != nil {
		return nil, err
	}
	return state, nil
}

// DeleteState removes the session directory.
func (r *FileSystemRegistry) DeleteState(sessionID string) error {
	if sessionID == "" {
		return errors.InvalidInput("session_id", "required")
	}
	if err := os.RemoveAll(r.layout.SessionDir(sessionID)); err != nil {
		return fmt.Errorf("delete session state: %w", err)
	}
	return nil
}

func normalizeState(state *models.SessionState) {
	if state.SurfacedScars == nil {
		state.SurfacedScars = []models.SurfacedScar{}
	}
	if state.Threads == nil {
		state.Threads = []models.Thread{}
	}
}
