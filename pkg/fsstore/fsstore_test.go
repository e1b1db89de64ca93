package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicWriteReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	require.NoError(t, AtomicWrite(path, []byte("first"), 0644))
	require.NoError(t, AtomicWrite(path, []byte("second"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestAtomicWriteFallsBackWhenRenameFails(t *testing.T) {
	// A directory at the destination makes the rename fail; the direct write fails too.
	dir := t.TempDir()
	path := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(path, 0755))

	err := AtomicWrite(path, []byte("data"), 0644)
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")

	var missing map[string]int
	found, err := ReadJSON(path, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, WriteJSON(path, map[string]int{"a": 1}))

	var got map[string]int
	found, err = ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"a": 1}, got)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	found, err = ReadJSON(path, &got)
	assert.True(t, found)
	assert.Error(t, err)
}

func testLocker(self process.Identity, alive func(int) bool) *Locker {
	return NewLocker(LockOptions{
		Timeout:       500 * time.Millisecond,
		StaleAfter:    time.Minute,
		RetryInterval: 5 * time.Millisecond,
	}, self, process.ProberFunc(alive))
}

func TestWithLockSerializes(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "counter.lock")
	counterPath := filepath.Join(filepath.Dir(lockPath), "counter")
	require.NoError(t, os.WriteFile(counterPath, []byte("0"), 0644))

	self := process.Identity{Hostname: "host", PID: os.Getpid()}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := testLocker(self, func(int) bool { return true })
			l.opts.Timeout = 10 * time.Second
			err := l.WithLock(context.Background(), lockPath, func() error {
				var n int
				_, err := ReadJSON(counterPath, &n)
				if err != nil {
					return err
				}
				return WriteJSON(counterPath, n+1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var n int
	_, err := ReadJSON(counterPath, &n)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lock file must be removed after release")
}

func writeLock(t *testing.T, path string, info LockInfo) {
	t.Helper()
	data, err := json.Marshal(info)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestWithLockReclaimsDeadHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "registry.lock")
	writeLock(t, lockPath, LockInfo{PID: 4242, Hostname: "host", AcquiredAt: time.Now(), Token: "other"})

	l := testLocker(process.Identity{Hostname: "host", PID: 1}, func(pid int) bool { return pid != 4242 })

	start := time.Now()
	ran := false
	require.NoError(t, l.WithLock(context.Background(), lockPath, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	assert.Less(t, time.Since(start), 400*time.Millisecond, "dead holder is reclaimed without waiting for the timeout")
}

func TestWithLockReclaimsStaleLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "registry.lock")
	writeLock(t, lockPath, LockInfo{PID: 7, Hostname: "other-host", AcquiredAt: time.Now().Add(-time.Hour), Token: "other"})

	l := testLocker(process.Identity{Hostname: "host", PID: 1}, func(int) bool { return true })
	require.NoError(t, l.WithLock(context.Background(), lockPath, func() error { return nil }))
}

func TestWithLockForcesAfterTimeout(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "registry.lock")
	writeLock(t, lockPath, LockInfo{PID: 7, Hostname: "other-host", AcquiredAt: time.Now(), Token: "other"})

	l := testLocker(process.Identity{Hostname: "host", PID: 1}, func(int) bool { return true })
	l.opts.Timeout = 50 * time.Millisecond

	ran := false
	require.NoError(t, l.WithLock(context.Background(), lockPath, func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestTimedOutWaitersStayExclusive(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "threads.lock")
	writeLock(t, lockPath, LockInfo{PID: 7, Hostname: "other-host", AcquiredAt: time.Now(), Token: "held"})

	var (
		mu        sync.Mutex
		active    int
		maxActive int
		wg        sync.WaitGroup
	)
	for pid := 1; pid <= 4; pid++ {
		l := testLocker(process.Identity{Hostname: "host", PID: pid}, func(int) bool { return true })
		l.opts.Timeout = 200 * time.Millisecond
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), lockPath, func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	_, err := os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWithLockKeepsLiveLocalHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "registry.lock")
	writeLock(t, lockPath, LockInfo{PID: 42, Hostname: "host", AcquiredAt: time.Now(), Token: "held"})

	l := testLocker(process.Identity{Hostname: "host", PID: 1}, func(int) bool { return true })
	l.opts.Timeout = 50 * time.Millisecond

	ran := false
	err := l.WithLock(context.Background(), lockPath, func() error {
		ran = true
		return nil
	})
	assert.True(t, errors.Is(err, errors.ErrCodeLockTimeout))
	assert.False(t, ran)

	holder, err := ReadLock(lockPath)
	require.NoError(t, err)
	assert.Equal(t, "held", holder.Token)
}

func TestWithLockHonorsContext(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "registry.lock")
	writeLock(t, lockPath, LockInfo{PID: 7, Hostname: "other-host", AcquiredAt: time.Now(), Token: "other"})

	l := testLocker(process.Identity{Hostname: "host", PID: 1}, func(int) bool { return true })
	l.opts.Timeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, lockPath, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.Is(err, errors.ErrCodeLockTimeout))
}

func TestWithLockRunsUnlockedWhenUncreatable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	l := testLocker(process.Identity{Hostname: "host", PID: 1}, func(int) bool { return true })
	ran := false
	require.NoError(t, l.WithLock(context.Background(), filepath.Join(blocker, "x.lock"), func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestReleaseKeepsForeignLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "registry.lock")
	l := testLocker(process.Identity{Hostname: "host", PID: 1}, func(int) bool { return true })

	require.NoError(t, l.WithLock(context.Background(), lockPath, func() error {
		// Another process takes the lock over mid-section.
		writeLock(t, lockPath, LockInfo{PID: 2, Hostname: "host", AcquiredAt: time.Now(), Token: "foreign"})
		return nil
	}))

	info, err := ReadLock(lockPath)
	require.NoError(t, err)
	assert.Equal(t, "foreign", info.Token)
}
