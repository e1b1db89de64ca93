package sessions

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHost = "devbox"

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

// fakeProber reports the listed PIDs alive.
type fakeProber map[int]bool

func (p fakeProber) Alive(pid int) bool { return p[pid] }

func newTestRegistry(t *testing.T, alive fakeProber) *FileSystemRegistry {
	t.Helper()
	layout := paths.NewLayout(filepath.Join(t.TempDir(), ".gitmem"))
	require.NoError(t, layout.EnsureDirs())
	return NewFileSystemRegistry(layout,
		WithProber(alive),
		WithClock(func() time.Time { return testNow }),
	)
}

func entry(id string, pid int, age time.Duration) models.RegistryEntry {
	return models.RegistryEntry{
		SessionID: id,
		Agent:     "cli",
		StartedAt: testNow.Add(-age),
		Hostname:  testHost,
		PID:       pid,
		Project:   "demo",
	}
}

func writeState(t *testing.T, r *FileSystemRegistry, e models.RegistryEntry) {
	t.Helper()
	require.NoError(t, r.SaveState(&models.SessionState{
		SessionID: e.SessionID,
		Agent:     e.Agent,
		StartedAt: e.StartedAt,
		Project:   e.Project,
		Hostname:  e.Hostname,
		PID:       e.PID,
	}))
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})

	e := entry("s-1", 100, time.Minute)
	require.NoError(t, r.Register(ctx, e))
	require.NoError(t, r.Register(ctx, e))
	assert.Len(t, r.List(), 1)

	// Same process registering a new session replaces its old entry.
	replacement := entry("s-2", 100, 0)
	require.NoError(t, r.Register(ctx, replacement))
	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "s-2", list[0].SessionID)

	// Same session id from another pid moves the entry.
	moved := entry("s-2", 200, 0)
	require.NoError(t, r.Register(ctx, moved))
	list = r.List()
	require.Len(t, list, 1)
	assert.Equal(t, 200, list[0].PID)
}

func TestRegisterConcurrent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			assert.NoError(t, r.Register(ctx, entry(NewSessionID(), pid, 0)))
		}(1000 + i)
	}
	wg.Wait()
	assert.Len(t, r.List(), 10)
}

func TestFindAndUnregister(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})
	require.NoError(t, r.Register(ctx, entry("s-1", 100, time.Minute)))

	found, ok := r.FindByHostPid(testHost, 100)
	require.True(t, ok)
	assert.Equal(t, "s-1", found.SessionID)

	_, ok = r.FindByHostPid("other-host", 100)
	assert.False(t, ok)

	found, ok = r.FindByID("s-1")
	require.True(t, ok)
	assert.Equal(t, 100, found.PID)

	removed, err := r.Unregister(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Unregister(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Empty(t, r.List())
}

func TestCorruptRegistryReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})

	require.NoError(t, os.WriteFile(r.layout.Registry(), []byte("{garbage"), 0644))
	assert.Empty(t, r.List())

	require.NoError(t, os.WriteFile(r.layout.Registry(), []byte(`{"sessions": [{"session_id": 5}]}`), 0644))
	assert.Empty(t, r.List())

	// The next write starts over from an empty registry.
	require.NoError(t, r.Register(ctx, entry("s-1", 100, 0)))
	assert.Len(t, r.List(), 1)
}

func TestPruneDeadPIDOlderThanAdoptThreshold(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})

	dead := entry("s-dead", 4321, 3*time.Hour)
	require.NoError(t, r.Register(ctx, dead))
	writeState(t, r, dead)

	report, err := r.PruneStale(ctx, process.Identity{Hostname: testHost, PID: 999})
	require.NoError(t, err)

	require.Len(t, report.Removed, 1)
	assert.Equal(t, ReasonDeadPID, report.Removed[0].Reason)
	assert.Nil(t, report.Adopted)
	assert.Empty(t, r.List())

	_, err = os.Stat(r.layout.SessionDir("s-dead"))
	assert.True(t, os.IsNotExist(err), "session directory must be removed")
}

func TestPruneAdoptsRecentDeadSession(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})
	self := process.Identity{Hostname: testHost, PID: 999}

	older := entry("s-older", 10, 90*time.Minute)
	younger := entry("s-younger", 11, 30*time.Minute)
	for _, e := range []models.RegistryEntry{older, younger} {
		require.NoError(t, r.Register(ctx, e))
		writeState(t, r, e)
	}

	report, err := r.PruneStale(ctx, self)
	require.NoError(t, err)
	require.NotNil(t, report.Adopted)
	assert.Equal(t, "s-younger", report.Adopted.SessionID)
	assert.Empty(t, report.Removed)

	owned, ok := r.FindByHostPid(testHost, self.PID)
	require.True(t, ok)
	assert.Equal(t, "s-younger", owned.SessionID)

	state, err := r.LoadState("s-younger")
	require.NoError(t, err)
	assert.Equal(t, self.PID, state.PID, "state file pid is rebound")

	// A second pass converges: nothing else is adopted or removed.
	report, err = r.PruneStale(ctx, self)
	require.NoError(t, err)
	assert.Nil(t, report.Adopted)
	assert.Empty(t, report.Removed)
	assert.Len(t, r.List(), 2)
}

func TestPruneRules(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{500: true})
	self := process.Identity{Hostname: testHost, PID: 999}

	missingFresh := entry("s-missing-fresh", 500, time.Minute)
	missingOld := entry("s-missing-old", 500, 10*time.Minute)
	stale := entry("s-stale", 500, 25*time.Hour)
	alive := entry("s-alive", 500, 3*time.Hour)
	remote := entry("s-remote", 4321, 3*time.Hour)
	remote.Hostname = "other-host"

	// Several entries share pid 500, which Register would collapse; write them directly.
	require.NoError(t, r.save(models.RegistryDocument{Sessions: []models.RegistryEntry{missingFresh, missingOld, stale, alive, remote}}))
	writeState(t, r, stale)
	writeState(t, r, alive)
	writeState(t, r, remote)

	report, err := r.PruneStale(ctx, self)
	require.NoError(t, err)

	reasons := map[string]string{}
	for _, removed := range report.Removed {
		reasons[removed.Entry.SessionID] = removed.Reason
	}
	assert.Equal(t, map[string]string{
		"s-missing-old": ReasonMissingState,
		"s-stale":       ReasonStale,
	}, reasons)

	var ids []string
	for _, e := range r.List() {
		ids = append(ids, e.SessionID)
	}
	assert.ElementsMatch(t, []string{"s-missing-fresh", "s-alive", "s-remote"}, ids)
}

func TestPruneSweepsOrphanDirectories(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})

	orphan := r.layout.SessionDir("s-orphan")
	fresh := r.layout.SessionDir("s-fresh")
	require.NoError(t, os.MkdirAll(orphan, 0755))
	require.NoError(t, os.MkdirAll(fresh, 0755))
	old := testNow.Add(-time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))
	require.NoError(t, os.Chtimes(fresh, testNow, testNow))

	report, err := r.PruneStale(ctx, process.Identity{Hostname: testHost, PID: 999})
	require.NoError(t, err)
	assert.Equal(t, []string{"s-orphan"}, report.OrphansRemoved)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestStateRoundTripAndErrors(t *testing.T) {
	r := newTestRegistry(t, fakeProber{})

	_, err := r.LoadState("missing")
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))

	e := entry("s-1", 100, 0)
	writeState(t, r, e)

	updated, err := r.UpdateState("s-1", func(state *models.SessionState) error {
		state.SurfacedScars = append(state.SurfacedScars, models.SurfacedScar{ScarID: "scar-1", Title: "t"})
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.HasSurfaced("scar-1"))

	loaded, err := r.LoadState("s-1")
	require.NoError(t, err)
	assert.True(t, loaded.HasSurfaced("scar-1"))
	assert.NotNil(t, loaded.Threads)

	require.NoError(t, os.WriteFile(r.layout.SessionState("s-1"), []byte("{oops"), 0644))
	_, err = r.LoadState("s-1")
	assert.True(t, errors.Is(err, errors.ErrCodeSessionNotFound))

	require.NoError(t, r.DeleteState("s-1"))
	_, err = os.Stat(r.layout.SessionDir("s-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestMigrateFromLegacy(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})
	self := process.Identity{Hostname: testHost, PID: 999}

	legacy := `{"session_id": "legacy-1", "agent": "cli", "started_at": "2026-05-10T11:00:00Z",
		"project": "demo", "surfaced_scars": [], "threads": ["carry this over"]}`
	require.NoError(t, os.WriteFile(r.layout.LegacySession(), []byte(legacy), 0644))

	migrated, err := r.MigrateFromLegacy(ctx, self)
	require.NoError(t, err)
	assert.True(t, migrated)

	owned, ok := r.FindByHostPid(testHost, 999)
	require.True(t, ok)
	assert.Equal(t, "legacy-1", owned.SessionID)

	state, err := r.LoadState("legacy-1")
	require.NoError(t, err)
	require.Len(t, state.Threads, 1)
	assert.Equal(t, "carry this over", state.Threads[0].Text)

	_, err = os.Stat(r.layout.LegacySession())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(r.layout.LegacySession() + paths.MigratedSuffix)
	assert.NoError(t, err)

	// Once per process.
	migrated, err = r.MigrateFromLegacy(ctx, self)
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Len(t, r.List(), 1)
}

func TestMigrateSkipsWhenRegistryExists(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})
	live := entry("s-live", 10, time.Minute)
	require.NoError(t, r.Register(ctx, live))
	writeState(t, r, live)

	legacy := `{"session_id": "s-legacy", "agent": "cli", "project": "demo"}`
	require.NoError(t, os.WriteFile(r.layout.LegacySession(), []byte(legacy), 0644))

	migrated, err := r.MigrateFromLegacy(ctx, process.Identity{Hostname: testHost, PID: 999})
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Len(t, r.List(), 1)

	_, owned := r.FindByHostPid(testHost, 999)
	assert.False(t, owned, "a leftover legacy file is never attributed to this process")
	_, err = os.Stat(r.layout.LegacySession())
	assert.NoError(t, err)
}

func TestMigrateWithoutLegacyFile(t *testing.T) {
	r := newTestRegistry(t, fakeProber{})
	migrated, err := r.MigrateFromLegacy(context.Background(), process.Identity{Hostname: testHost, PID: 1})
	require.NoError(t, err)
	assert.False(t, migrated)
}

func TestSweepNeverAdopts(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, fakeProber{})

	recent := entry("s-recent", 10, 30*time.Minute)
	old := entry("s-old", 11, 3*time.Hour)
	for _, e := range []models.RegistryEntry{recent, old} {
		require.NoError(t, r.Register(ctx, e))
		writeState(t, r, e)
	}

	report, err := r.Sweep(ctx, testHost)
	require.NoError(t, err)
	assert.Nil(t, report.Adopted)
	require.Len(t, report.Removed, 1)
	assert.Equal(t, "s-old", report.Removed[0].Entry.SessionID)
	assert.Equal(t, ReasonDeadPID, report.Removed[0].Reason)

	kept, ok := r.FindByID("s-recent")
	require.True(t, ok)
	assert.Equal(t, 10, kept.PID, "the crashed session stays adoptable")
}
