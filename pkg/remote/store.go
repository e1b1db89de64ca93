// Package remote talks to the hosted source-of-truth store and decides when to
// stop talking to it.
package remote

import (
	"context"
	"time"

	"github.com/grovetools/memory/pkg/models"
)

// Store is the remote backing store for scars, threads and closed sessions.
type Store interface {
	// ListScars returns every scar of a project.
	ListScars(ctx context.Context, project string) ([]models.Scar, error)

	// CountScars returns the number of scars of a project.
	CountScars(ctx context.Context, project string) (int, error)

	// SearchScars runs the server-side similarity search.
	// embedding may be nil, in which case the store matches on query text.
	SearchScars(ctx context.Context, project, query string, embedding []float64, k int) ([]models.ScarMatch, error)

	// UpsertThreads writes threads keyed by id.
	UpsertThreads(ctx context.Context, project string, threads []models.Thread) error

	// ListThreads returns the project's threads.
	ListThreads(ctx context.Context, project string) ([]models.Thread, error)

	// ClosedSessions returns up to limit sessions closed after since, newest first.
	ClosedSessions(ctx context.Context, project string, limit int, since time.Time) ([]models.ClosedSession, error)

	// UpsertSession records a closed session.
	UpsertSession(ctx context.Context, session models.ClosedSession) error

	// RecordScarUsage appends usage analytics rows.
	RecordScarUsage(ctx context.Context, usage []models.ScarUsage) error
}
