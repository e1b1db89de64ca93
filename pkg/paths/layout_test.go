package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	t.Setenv("GROVE_MEMORY_ROOT", "")
	assert.Equal(t, filepath.Join("/work/proj", ".gitmem"), Root("/work/proj"))

	t.Setenv("GROVE_MEMORY_ROOT", "/elsewhere")
	assert.Equal(t, "/elsewhere", Root("/work/proj"))
}

func TestLayout(t *testing.T) {
	l := NewLayout("/r")
	assert.Equal(t, "/r/active-sessions.json", l.Registry())
	assert.Equal(t, "/r/active-sessions.lock", l.RegistryLock())
	assert.Equal(t, "/r/sessions/abc/session.json", l.SessionState("abc"))
	assert.Equal(t, "/r/threads.json", l.Threads())
	assert.Equal(t, "/r/cache/search.db", l.SearchSnapshot())
}

func TestEnsureDirs(t *testing.T) {
	l := NewLayout(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, l.EnsureDirs())
	assert.DirExists(t, l.Sessions())
	assert.DirExists(t, filepath.Join(l.Root, CacheDir))
}

func TestSocketPathUsesGroveHome(t *testing.T) {
	t.Setenv("GROVE_HOME", "/gh")
	assert.Equal(t, "/gh/run/memory/memory-42.sock", SocketPath(42))
	assert.Equal(t, "/gh/config/grove/memory.yml", GlobalConfigFile())
}
