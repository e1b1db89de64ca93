package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/memory/pkg/models"

	_ "modernc.org/sqlite"
)

// Snapshot is an immutable view of a project's scar corpus.
type Snapshot struct {
	Project string        `json:"project"`
	Records []models.Scar `json:"-"`
	Count   int           `json:"count"`
	AsOf    time.Time     `json:"as_of"`
	Origin  Source        `json:"origin"`
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.AsOf)
}

func newSnapshot(project string, records []models.Scar, asOf time.Time, origin Source) *Snapshot {
	if records == nil {
		records = []models.Scar{}
	}
	return &Snapshot{
		Project: project,
		Records: records,
		Count:   len(records),
		AsOf:    asOf.UTC(),
		Origin:  origin,
	}
}

// SnapshotStore persists the last good snapshot of each project in SQLite so a
// cold process can search before the remote answers.
type SnapshotStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenSnapshotStore opens (creating if needed) the snapshot database at path.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot pragma %q: %w", p, err)
		}
	}

	s := &SnapshotStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot migration: %w", err)
	}
	return s, nil
}

func (s *SnapshotStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			project    TEXT PRIMARY KEY,
			count      INTEGER NOT NULL,
			as_of      TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scars (
			project     TEXT NOT NULL,
			id          TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			severity    TEXT NOT NULL DEFAULT '',
			keywords    TEXT,
			created_at  TEXT NOT NULL,
			embedding   TEXT,
			PRIMARY KEY (project, id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file location.
func (s *SnapshotStore) Path() string { return s.path }

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot of snap.Project. When records repeat an
// id, the last one is kept.
func (s *SnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scars WHERE project = ?`, snap.Project); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scars (project, id, title, description, severity, keywords, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, id) DO UPDATE SET
			title = excluded.title, description = excluded.description, severity = excluded.severity,
			keywords = excluded.keywords, created_at = excluded.created_at, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, scar := range snap.Records {
		_, err := stmt.ExecContext(ctx,
			snap.Project,
			scar.ID,
			scar.Title,
			scar.Description,
			scar.Severity,
			jsonColumn[string]{Data: scar.Keywords},
			scar.CreatedAt.UTC().Format(time.RFC3339Nano),
			jsonColumn[float64]{Data: scar.Embedding},
		)
		if err != nil {
			return fmt.Errorf("insert scar %s: %w", scar.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (project, count, as_of) VALUES (?, ?, ?)
		ON CONFLICT(project) DO UPDATE SET count = excluded.count, as_of = excluded.as_of`,
		snap.Project, snap.Count, snap.AsOf.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}

	return tx.Commit()
}

// Load returns the stored snapshot of project, or nil when there is none.
func (s *SnapshotStore) Load(ctx context.Context, project string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var asOf string
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count, as_of FROM snapshots WHERE project = ?`, project).Scan(&count, &asOf)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	asOfTime, err := time.Parse(time.RFC3339Nano, asOf)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, severity, keywords, created_at, embedding
		FROM scars WHERE project = ? ORDER BY id`, project)
	if err != nil {
		return nil, fmt.Errorf("read snapshot scars: %w", err)
	}
	defer rows.Close()

	var records []models.Scar
	for rows.Next() {
		var (
			scar      models.Scar
			createdAt string
			keywords  jsonColumn[string]
			embedding jsonColumn[float64]
		)
		if err := rows.Scan(&scar.ID, &scar.Title, &scar.Description, &scar.Severity, &keywords, &createdAt, &embedding); err != nil {
			return nil, fmt.Errorf("scan snapshot scar: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			scar.CreatedAt = t
		}
		scar.Project = project
		scar.Keywords = keywords.Data
		scar.Embedding = embedding.Data
		records = append(records, scar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot scars: %w", err)
	}

	snap := newSnapshot(project, records, asOfTime, SourceSnapshot)
	return snap, nil
}
