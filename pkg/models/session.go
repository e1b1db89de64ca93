package models

import "time"

// RegistryEntry records which process owns a session.
// At most one entry exists per (Hostname, PID); SessionID is unique.
type RegistryEntry struct {
	SessionID string    `json:"session_id" jsonschema:"required"`
	Agent     string    `json:"agent"`
	StartedAt time.Time `json:"started_at"`
	Hostname  string    `json:"hostname" jsonschema:"required"`
	PID       int       `json:"pid" jsonschema:"required"`
	Project   string    `json:"project,omitempty"`
}

// Age returns how long ago the session started.
func (e RegistryEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StartedAt)
}

// RegistryDocument is the on-disk shape of active-sessions.json.
type RegistryDocument struct {
	Sessions []RegistryEntry `json:"sessions" jsonschema:"required"`
}

// SurfacedScar records a scar shown to the assistant during a session.
type SurfacedScar struct {
	ScarID     string    `json:"scar_id"`
	Title      string    `json:"title"`
	SurfacedAt time.Time `json:"surfaced_at"`
	Source     string    `json:"source,omitempty"`
}

// SessionState is the per-session file owned by the registering process.
type SessionState struct {
	SessionID     string         `json:"session_id" jsonschema:"required"`
	Agent         string         `json:"agent"`
	StartedAt     time.Time      `json:"started_at"`
	Project       string         `json:"project,omitempty"`
	Hostname      string         `json:"hostname"`
	PID           int            `json:"pid"`
	SurfacedScars []SurfacedScar `json:"surfaced_scars"`
	Threads       []Thread       `json:"threads"`
	LastRefreshed *time.Time     `json:"last_refreshed,omitempty"`
}

// HasSurfaced reports whether the scar was already shown in this session.
func (s *SessionState) HasSurfaced(scarID string) bool {
	for _, scar := range s.SurfacedScars {
		if scar.ScarID == scarID {
			return true
		}
	}
	return false
}

// Entry derives the registry entry describing this state.
func (s *SessionState) Entry() RegistryEntry {
	return RegistryEntry{
		SessionID: s.SessionID,
		Agent:     s.Agent,
		StartedAt: s.StartedAt,
		Hostname:  s.Hostname,
		PID:       s.PID,
		Project:   s.Project,
	}
}

// ClosedSession is a finished session as stored remotely, used for thread aggregation.
type ClosedSession struct {
	SessionID   string    `json:"session_id"`
	Project     string    `json:"project,omitempty"`
	Agent       string    `json:"agent,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ClosedAt    time.Time `json:"closed_at"`
	Summary     string    `json:"summary,omitempty"`
	OpenThreads []Thread  `json:"open_threads"`
}
