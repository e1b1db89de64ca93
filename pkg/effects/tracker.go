// Package effects runs fire-and-forget writes off the request path and keeps
// enough history to tell whether they are working.
package effects

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/grovetools/memory/logging"
	"github.com/sirupsen/logrus"
)

// Category groups effects for health reporting.
type Category string

const (
	CategoryEmbedding   Category = "embedding"
	CategoryThreadSync  Category = "thread_sync"
	CategorySessionSync Category = "session_sync"
	CategoryScarUsage   Category = "scar_usage"
	CategoryCacheWarm   Category = "cache_warm"
)

// DefaultHistory is the number of finished effects kept for reporting.
const DefaultHistory = 100

// State is the lifecycle position of an effect.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Record describes one tracked effect. Records live in memory only.
type Record struct {
	ID         uint64    `json:"id"`
	Category   Category  `json:"category"`
	Label      string    `json:"label"`
	SessionID  string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
}

// Succeeded reports whether the effect finished without error.
func (r Record) Succeeded() bool { return r.State == StateSucceeded }

type sessionKey struct{}

// WithSession attaches a session id to ctx; Track records it on the effect.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

type counts struct {
	succeeded, failed, pending int
}

// Tracker runs effects in detached goroutines and records their outcome in a
// bounded ring. Failures and panics never reach the caller.
type Tracker struct {
	logger *logrus.Entry
	now    func() time.Time

	wg sync.WaitGroup

	mu      sync.Mutex
	nextID  uint64
	ring    []Record
	head    int
	size    int
	pending map[uint64]Record
	counts  map[Category]*counts
}

// NewTracker creates a Tracker keeping the last history finished effects.
func NewTracker(history int) *Tracker {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Tracker{
		logger:  logging.NewLogger("effects"),
		now:     time.Now,
		ring:    make([]Record, history),
		pending: make(map[uint64]Record),
		counts:  make(map[Category]*counts),
	}
}

// Track runs fn in the background and returns immediately. fn receives a
// context that keeps ctx's values but not its cancellation.
func (t *Tracker) Track(ctx context.Context, category Category, label string, fn func(ctx context.Context) error) {
	rec := t.begin(category, label, sessionFrom(ctx))
	detached := context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		err := run(detached, fn)
		t.finish(rec, err)
	}()
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

func (t *Tracker) begin(category Category, label, sessionID string) Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	rec := Record{
		ID:        t.nextID,
		Category:  category,
		Label:     label,
		SessionID: sessionID,
		StartedAt: t.now(),
		State:     StatePending,
	}
	t.pending[rec.ID] = rec
	t.countsFor(category).pending++
	return rec
}

func (t *Tracker) finish(rec Record, err error) {
	rec.DurationMS = t.now().Sub(rec.StartedAt).Milliseconds()
	rec.State = StateSucceeded
	if err != nil {
		rec.State = StateFailed
		rec.Error = err.Error()
	}

	t.mu.Lock()
	delete(t.pending, rec.ID)
	c := t.countsFor(rec.Category)
	c.pending--
	if err != nil {
		c.failed++
	} else {
		c.succeeded++
	}
	t.ring[t.head] = rec
	t.head = (t.head + 1) % len(t.ring)
	if t.size < len(t.ring) {
		t.size++
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"category": rec.Category,
			"label":    rec.Label,
		}).WithError(err).Warn("Background effect failed")
	}
}

func (t *Tracker) countsFor(category Category) *counts {
	c, ok := t.counts[category]
	if !ok {
		c = &counts{}
		t.counts[category] = c
	}
	return c
}

// Wait blocks until every tracked effect has finished or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns finished effects, newest first.
func (t *Tracker) Recent() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recentLocked()
}

func (t *Tracker) recentLocked() []Record {
	out := make([]Record, 0, t.size)
	for i := 1; i <= t.size; i++ {
		idx := (t.head - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}

// CategoryStats counts effects of one category since the tracker started.
type CategoryStats struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Report summarizes effect health.
type Report struct {
	Healthy        bool                       `json:"healthy"`
	Categories     map[Category]CategoryStats `json:"categories"`
	Pending        []Record                   `json:"pending"`
	RecentFailures []Record                   `json:"recent_failures"`
}

// HealthReport returns per-category counts plus the most recent limit
// failures, newest first. A tracker is healthy when none of its retained
// history failed.
func (t *Tracker) HealthReport(limit int) Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := Report{
		Healthy:        true,
		Categories:     make(map[Category]CategoryStats, len(t.counts)),
		Pending:        make([]Record, 0, len(t.pending)),
		RecentFailures: []Record{},
	}
	for category, c := range t.counts {
		report.Categories[category] = CategoryStats{Succeeded: c.succeeded, Failed: c.failed, Pending: c.pending}
	}
	for _, rec := range t.pending {
		report.Pending = append(report.Pending, rec)
	}
	sort.Slice(report.Pending, func(i, j int) bool { return report.Pending[i].ID < report.Pending[j].ID })

	for _, rec := range t.recentLocked() {
		if rec.State != StateFailed {
			continue
		}
		report.Healthy = false
		if limit > 0 && len(report.RecentFailures) >= limit {
			continue
		}
		report.RecentFailures = append(report.RecentFailures, rec)
	}
	return report
}
