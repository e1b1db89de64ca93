package threads

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/embedding"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/remote"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Policy holds the thread thresholds.
type Policy struct {
	DedupSimilarity      float64
	AggregateMaxSessions int
	AggregateMaxAgeDays  int
	HalfLife             time.Duration
	ArchiveAfter         time.Duration
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		DedupSimilarity:      DefaultDedupThreshold,
		AggregateMaxSessions: 5,
		AggregateMaxAgeDays:  30,
		HalfLife:             7 * 24 * time.Hour,
		ArchiveAfter:         30 * 24 * time.Hour,
	}
}

// ManagerOptions wires a Manager's collaborators. Remote, Fallback and
// Embedder may be nil.
type ManagerOptions struct {
	Project  string
	Policy   Policy
	Remote   remote.Store
	Fallback *remote.Fallback
	Embedder embedding.Embedder
	Now      func() time.Time
}

// Manager combines the local threads file with the remote store.
type Manager struct {
	store    *Store
	project  string
	policyMu sync.RWMutex
	policy   Policy
	pushMu   sync.Mutex
	remote   remote.Store
	fallback *remote.Fallback
	embedder embedding.Embedder
	logger   *logrus.Entry
	now      func() time.Time
}

// NewManager creates a Manager over store.
func NewManager(store *Store, opts ManagerOptions) *Manager {
	if opts.Policy.DedupSimilarity <= 0 {
		opts.Policy = DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Fallback == nil {
		opts.Fallback = remote.NewFallback(opts.Remote != nil, 0)
	}
	return &Manager{
		store:    store,
		project:  opts.Project,
		policy:   opts.Policy,
		remote:   opts.Remote,
		fallback: opts.Fallback,
		embedder: opts.Embedder,
		logger:   logging.NewLogger("threads"),
		now:      opts.Now,
	}
}

// Policy returns the thresholds in effect.
func (m *Manager) Policy() Policy {
	m.policyMu.RLock()
	defer m.policyMu.RUnlock()
	return m.policy
}

// SetPolicy replaces the thresholds used by later calls.
func (m *Manager) SetPolicy(p Policy) {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()
	m.policy = p
}

// CreateResult reports the thread a create call produced or matched.
type CreateResult struct {
	Thread     models.Thread `json:"thread"`
	Duplicate  bool          `json:"duplicate"`
	Similarity float64       `json:"similarity,omitempty"`
}

// Create adds an open thread unless an open thread with similar text exists,
// in which case that thread is touched and returned with Duplicate set.
func (m *Manager) Create(ctx context.Context, text, sessionID string) (CreateResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return CreateResult{}, errors.InvalidInput("text", "thread text is empty")
	}

	// Embedding calls are slow, so the semantic check runs before taking the lock.
	semantic, hasSemantic := m.semanticDuplicate(ctx, m.store.Load(), text)

	var result CreateResult
	_, err := m.store.Update(ctx, func(current []models.Thread) ([]models.Thread, error) {
		match, found := FindSimilar(current, m.Policy().DedupSimilarity, TextScorer(text))
		if hasSemantic && (!found || semantic.Similarity > match.Similarity) {
			for _, t := range current {
				if t.ID == semantic.Thread.ID && t.Status == models.ThreadOpen {
					match, found = Match{Thread: t, Similarity: semantic.Similarity}, true
					break
				}
			}
		}

		now := m.now().UTC()
		if found {
			for i := range current {
				if current[i].ID == match.Thread.ID {
					current[i].LastTouchedAt = &now
					current[i].TouchCount++
					result = CreateResult{Thread: current[i], Duplicate: true, Similarity: match.Similarity}
					break
				}
			}
			return current, nil
		}

		thread, err := Normalize(models.Thread{
			ID:            NewID(),
			Text:          text,
			Status:        models.ThreadOpen,
			CreatedAt:     now,
			LastTouchedAt: &now,
			TouchCount:    1,
		}, sessionID, now)
		if err != nil {
			return nil, err
		}
		result = CreateResult{Thread: thread}
		return append(current, thread), nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	m.logger.WithFields(logrus.Fields{
		"thread_id": result.Thread.ID,
		"duplicate": result.Duplicate,
	}).Debug("Thread created")
	return result, nil
}

// semanticDuplicate compares text with open threads using embeddings.
func (m *Manager) semanticDuplicate(ctx context.Context, list []models.Thread, text string) (Match, bool) {
	if m.embedder == nil {
		return Match{}, false
	}
	var open []models.Thread
	for _, t := range list {
		if t.Status == models.ThreadOpen {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return Match{}, false
	}

	inputs := make([]string, 0, len(open)+1)
	inputs = append(inputs, text)
	for _, t := range open {
		inputs = append(inputs, t.Text)
	}
	vectors, err := m.embedder.Embed(ctx, inputs)
	if err != nil || len(vectors) != len(inputs) {
		m.logger.WithError(err).Debug("Embedding dedup unavailable, using term similarity")
		return Match{}, false
	}

	byID := make(map[string][]float64, len(open))
	for i, t := range open {
		byID[t.ID] = vectors[i+1]
	}
	return FindSimilar(open, m.Policy().DedupSimilarity, func(candidate models.Thread) float64 {
		return embedding.Cosine(vectors[0], byID[candidate.ID])
	})
}

// Resolve resolves a thread in the local file.
func (m *Manager) Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	var result ResolveResult
	_, err := m.store.Update(ctx, func(current []models.Thread) ([]models.Thread, error) {
		next, res, err := Resolve(current, req, m.now())
		if err != nil {
			return nil, err
		}
		result = res
		return next, nil
	})
	return result, err
}

// List returns local threads, filtered to the given statuses when any are passed.
func (m *Manager) List(statuses ...models.ThreadStatus) []models.Thread {
	all := m.store.Load()
	if len(statuses) == 0 {
		return all
	}
	want := make(map[models.ThreadStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := make([]models.Thread, 0, len(all))
	for _, t := range all {
		if want[t.Status] {
			out = append(out, t)
		}
	}
	return out
}

// Open returns the open threads.
func (m *Manager) Open() []models.Thread {
	return m.List(models.ThreadOpen)
}

// SyncReport describes a Sync call.
type SyncReport struct {
	Source       remote.Source  `json:"source"`
	Remote       int            `json:"remote_threads"`
	Aggregated   int            `json:"aggregated_threads"`
	Total        int            `json:"total_threads"`
	ProjectState *models.Thread `json:"project_state,omitempty"`
}

type remoteView struct {
	threads   []models.Thread
	aggregate AggregateResult
}

// Sync merges the remote thread list and the open threads of recently closed
// sessions into the local file. When the remote is unavailable the local file
// is left as it is.
func (m *Manager) Sync(ctx context.Context) (SyncReport, error) {
	now := m.now()
	policy := m.Policy()
	view, source, err := remote.Query(ctx, m.fallback, "threads.sync",
		func(ctx context.Context) (remoteView, error) {
			var v remoteView
			if m.remote == nil {
				return v, errors.RemoteUnavailable("threads.sync", time.Time{})
			}
			var closed []models.ClosedSession
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				var err error
				v.threads, err = m.remote.ListThreads(gctx, m.project)
				return err
			})
			g.Go(func() error {
				var err error
				since := now.Add(-time.Duration(policy.AggregateMaxAgeDays) * 24 * time.Hour)
				closed, err = m.remote.ClosedSessions(gctx, m.project, policy.AggregateMaxSessions, since)
				return err
			})
			if err := g.Wait(); err != nil {
				return v, err
			}
			v.aggregate = Aggregate(closed, policy.AggregateMaxSessions, policy.AggregateMaxAgeDays, now)
			return v, nil
		},
		func(ctx context.Context) (remoteView, error) {
			return remoteView{}, nil
		})
	if err != nil {
		return SyncReport{Source: source}, err
	}

	report := SyncReport{Source: source}
	if source != remote.SourceRemote {
		report.Total = len(m.store.Load())
		return report, nil
	}

	remoteThreads := NormalizeAll(view.threads, "", now)
	saved, err := m.store.Update(ctx, func(current []models.Thread) ([]models.Thread, error) {
		merged := Merge(current, remoteThreads)
		return Merge(merged, withoutClosedTexts(view.aggregate.Threads, merged)), nil
	})
	if err != nil {
		return report, err
	}
	report.Remote = len(view.threads)
	report.Aggregated = len(view.aggregate.Threads)
	report.Total = len(saved)
	report.ProjectState = view.aggregate.ProjectState
	return report, nil
}

// withoutClosedTexts drops carried-over threads whose text already belongs to
// a closed thread under another id.
func withoutClosedTexts(carried, known []models.Thread) []models.Thread {
	closed := make(map[string]string)
	for _, t := range known {
		if t.Status.Closed() {
			closed[NormalizeText(t.Text)] = t.ID
		}
	}
	out := make([]models.Thread, 0, len(carried))
	for _, t := range carried {
		if id, ok := closed[NormalizeText(t.Text)]; ok && id != t.ID {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Push uploads every local thread to the remote store.
func (m *Manager) Push(ctx context.Context) error {
	if m.remote == nil {
		return errors.RemoteUnavailable("threads.push", time.Time{})
	}
	// Pushes are serialized so a slow upload of an older list never lands
	// after a newer one.
	m.pushMu.Lock()
	defer m.pushMu.Unlock()
	list := m.store.Load()
	return m.fallback.Do(ctx, "threads.push", func(ctx context.Context) error {
		return m.remote.UpsertThreads(ctx, m.project, list)
	})
}

// Preview triages the local threads without persisting anything.
func (m *Manager) Preview(autoArchive bool) TriageReport {
	policy := m.Policy()
	_, report := Triage(m.store.Load(), TriageOptions{
		Now:          m.now(),
		HalfLife:     policy.HalfLife,
		ArchiveAfter: policy.ArchiveAfter,
		AutoArchive:  autoArchive,
	})
	return report
}

// Cleanup triages the local threads and persists status changes.
func (m *Manager) Cleanup(ctx context.Context, autoArchive bool) (TriageReport, error) {
	var report TriageReport
	policy := m.Policy()
	_, err := m.store.Update(ctx, func(current []models.Thread) ([]models.Thread, error) {
		next, r := Triage(current, TriageOptions{
			Now:          m.now(),
			HalfLife:     policy.HalfLife,
			ArchiveAfter: policy.ArchiveAfter,
			AutoArchive:  autoArchive,
		})
		report = r
		return next, nil
	})
	return report, err
}
