package threads

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/fsstore"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/schema"
	"github.com/sirupsen/logrus"
)

// Store is the project-scoped threads.json file.
type Store struct {
	layout    paths.Layout
	locker    *fsstore.Locker
	validator *schema.Validator
	logger    *logrus.Entry
	now       func() time.Time

	mu sync.Mutex
}

// NewStore creates a Store in layout. locker guards read-modify-write cycles.
func NewStore(layout paths.Layout, locker *fsstore.Locker) *Store {
	s := &Store{
		layout: layout,
		locker: locker,
		logger: logging.NewLogger("threads"),
		now:    time.Now,
	}
	if v, err := schema.Default(); err == nil {
		s.validator = v
	}
	return s
}

// Load returns the stored threads. A missing, corrupt or schema-invalid file reads as empty.
func (s *Store) Load() []models.Thread {
	path := s.layout.Threads()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("path", path).Warn("Cannot read threads file, treating as empty")
		}
		return []models.Thread{}
	}

	if s.validator != nil {
		if err := s.validator.ValidateBytes(schema.KindThreads, data); err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Threads file failed validation, treating as empty")
			return []models.Thread{}
		}
	}

	var doc models.ThreadsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Threads file is corrupt, treating as empty")
		return []models.Thread{}
	}
	return NormalizeAll(doc.Threads, "", s.now())
}

// Update runs fn on the current threads under the threads lock and persists
// its result, deduplicated, with an atomic rename.
func (s *Store) Update(ctx context.Context, fn func(current []models.Thread) ([]models.Thread, error)) ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var saved []models.Thread
	err := s.locker.WithLock(ctx, s.layout.ThreadsLock(), func() error {
		next, err := fn(s.Load())
		if err != nil {
			return err
		}
		saved = Deduplicate(next)
		return s.save(saved)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Store) save(list []models.Thread) error {
	if list == nil {
		list = []models.Thread{}
	}
	return fsstore.WriteJSON(s.layout.Threads(), models.ThreadsDocument{
		Threads:   list,
		UpdatedAt: s.now().UTC(),
	})
}
