// Package testutil provides shared fixtures for grove-memory tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/grovetools/memory/pkg/paths"
	"github.com/stretchr/testify/require"
)

// NewLayout creates an empty memory root in a temporary project directory.
func NewLayout(t *testing.T) paths.Layout {
	t.Helper()
	layout := paths.NewLayout(filepath.Join(t.TempDir(), paths.DefaultRootName))
	require.NoError(t, layout.EnsureDirs())
	return layout
}

// Isolate points every global location grove-memory reads at temporary
// directories and clears GROVE_MEMORY_* overrides.
func Isolate(t *testing.T) {
	t.Helper()
	t.Setenv("GROVE_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("XDG_RUNTIME_DIR", "")
	for _, name := range []string{
		"GROVE_MEMORY_ROOT", "GROVE_MEMORY_PROJECT", "GROVE_MEMORY_AGENT",
		"GROVE_MEMORY_REMOTE_URL", "GROVE_MEMORY_REMOTE_KEY",
		"GROVE_MEMORY_EMBEDDING_KEY", "GROVE_MEMORY_EMBEDDING_URL", "GROVE_MEMORY_EMBEDDING_TYPE",
		"GROVE_MEMORY_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}
