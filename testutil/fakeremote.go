package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/memory/pkg/models"
)

// FakeAPIKey is the key FakeRemote accepts.
const FakeAPIKey = "test-key"

// FakeRemote is an in-memory PostgREST-style store served over httptest.
type FakeRemote struct {
	Server *httptest.Server

	mu       sync.Mutex
	down     bool
	requests map[string]int
	scars    []models.Scar
	threads  map[string]fakeThread
	sessions []models.ClosedSession
	usage    []models.ScarUsage
}

type fakeThread struct {
	Project string
	Thread  models.Thread
}

// NewFakeRemote starts a fake remote store; it is closed when the test ends.
func NewFakeRemote(t *testing.T) *FakeRemote {
	t.Helper()
	f := &FakeRemote{
		requests: make(map[string]int),
		threads:  make(map[string]fakeThread),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL to configure clients with.
func (f *FakeRemote) URL() string { return f.Server.URL }

// SetDown makes every request fail with 503.
func (f *FakeRemote) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// AddScars seeds the scar table.
func (f *FakeRemote) AddScars(scars ...models.Scar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scars = append(f.scars, scars...)
}

// AddClosedSessions seeds the sessions table.
func (f *FakeRemote) AddClosedSessions(sessions ...models.ClosedSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessions...)
}

// Threads returns the stored threads of a project ordered by id.
func (f *FakeRemote) Threads(project string) []models.Thread {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Thread
	for _, ft := range f.threads {
		if ft.Project == project {
			out = append(out, ft.Thread)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sessions returns the stored closed sessions.
func (f *FakeRemote) Sessions() []models.ClosedSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ClosedSession(nil), f.sessions...)
}

// Usage returns the recorded scar usage rows.
func (f *FakeRemote) Usage() []models.ScarUsage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ScarUsage(nil), f.usage...)
}

// Requests returns how many requests hit "METHOD path".
func (f *FakeRemote) Requests(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[key]
}

func (f *FakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	f.requests[r.Method+" "+path]++

	if f.down {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("apikey") != FakeAPIKey || r.Header.Get("Authorization") != "Bearer "+FakeAPIKey {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	project := strings.TrimPrefix(r.URL.Query().Get("project"), "eq.")

	switch {
	case r.Method == http.MethodGet && path == "scars":
		f.listScars(w, r, project)
	case r.Method == http.MethodPost && path == "rpc/match_scars":
		f.searchScars(w, r)
	case r.Method == http.MethodGet && path == "threads":
		var out []models.Thread
		for _, ft := range f.threads {
			if ft.Project == project {
				out = append(out, ft.Thread)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		writeJSON(w, nonNil(out))
	case r.Method == http.MethodPost && path == "threads":
		var rows []json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, raw := range rows {
			var thread models.Thread
			var meta struct {
				Project string `json:"project"`
			}
			if json.Unmarshal(raw, &thread) != nil || json.Unmarshal(raw, &meta) != nil || thread.ID == "" {
				http.Error(w, "bad thread row", http.StatusBadRequest)
				return
			}
			f.threads[thread.ID] = fakeThread{Project: meta.Project, Thread: thread}
		}
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodGet && path == "sessions":
		f.listSessions(w, r, project)
	case r.Method == http.MethodPost && path == "sessions":
		var rows []models.ClosedSession
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, row := range rows {
			replaced := false
			for i := range f.sessions {
				if f.sessions[i].SessionID == row.SessionID {
					f.sessions[i] = row
					replaced = true
				}
			}
			if !replaced {
				f.sessions = append(f.sessions, row)
			}
		}
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPost && path == "scar_usage":
		var rows []models.ScarUsage
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.usage = append(f.usage, rows...)
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (f *FakeRemote) listScars(w http.ResponseWriter, r *http.Request, project string) {
	var matching []models.Scar
	for _, scar := range f.scars {
		if scar.Project == project {
			matching = append(matching, scar)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].ID < matching[j].ID })

	if r.Header.Get("Prefer") == "count=exact" {
		w.Header().Set("Content-Range", fmt.Sprintf("0-0/%d", len(matching)))
		writeJSON(w, []models.Scar{})
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = len(matching)
	}
	if offset > len(matching) {
		offset = len(matching)
	}
	end := offset + limit
	if end > len(matching) {
		end = len(matching)
	}
	writeJSON(w, nonNil(matching[offset:end]))
}

func (f *FakeRemote) searchScars(w http.ResponseWriter, r *http.Request) {
	var body struct {
		QueryText  string `json:"query_text"`
		MatchCount int    `json:"match_count"`
		Project    string `json:"project"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	terms := strings.Fields(strings.ToLower(body.QueryText))
	var matches []models.ScarMatch
	for _, scar := range f.scars {
		if scar.Project != body.Project {
			continue
		}
		text := strings.ToLower(scar.Title + " " + scar.Description)
		hits := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, models.ScarMatch{Scar: scar, Score: float64(hits) / float64(len(terms))})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if body.MatchCount > 0 && len(matches) > body.MatchCount {
		matches = matches[:body.MatchCount]
	}
	writeJSON(w, nonNil(matches))
}

func (f *FakeRemote) listSessions(w http.ResponseWriter, r *http.Request, project string) {
	since := time.Time{}
	if v := strings.TrimPrefix(r.URL.Query().Get("closed_at"), "gte."); v != "" {
		since, _ = time.Parse(time.RFC3339, v)
	}
	var out []models.ClosedSession
	for _, s := range f.sessions {
		if s.Project == project && !s.ClosedAt.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.After(out[j].ClosedAt) })
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit < len(out) {
		out = out[:limit]
	}
	writeJSON(w, nonNil(out))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
