package models

import "time"

// Scar is a recorded lesson surfaced to discourage repeating a past mistake.
type Scar struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Project     string    `json:"project,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Embedding   []float64 `json:"embedding,omitempty"`
}

// ScarMatch is a search hit.
type ScarMatch struct {
	Scar
	Score float64 `json:"score"`
}

// ScarUsage records that a scar was surfaced, for remote analytics.
type ScarUsage struct {
	ScarID     string    `json:"scar_id"`
	SessionID  string    `json:"session_id"`
	Project    string    `json:"project,omitempty"`
	Query      string    `json:"query,omitempty"`
	SurfacedAt time.Time `json:"surfaced_at"`
}
