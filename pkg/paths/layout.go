package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRootName is the directory created inside a project to hold memory state.
// The name is shared with existing installations and must not change.
const DefaultRootName = ".gitmem"

// File names inside the memory root.
const (
	RegistryFile       = "active-sessions.json"
	RegistryLockFile   = "active-sessions.lock"
	LegacySessionFile  = "active-session.json"
	MigratedSuffix     = ".migrated"
	SessionsDir        = "sessions"
	SessionStateFile   = "session.json"
	ThreadsFile        = "threads.json"
	ThreadsLockFile    = "threads.lock"
	CacheDir           = "cache"
	SearchSnapshotFile = "search.db"
	LogsDir            = "logs"
	ProjectConfigFile  = "config.yml"
)

// Layout resolves every path under a memory root directory.
type Layout struct {
	Root string
}

// Root determines the memory root for a project directory.
// GROVE_MEMORY_ROOT wins over the project-relative default.
func Root(projectDir string) string {
	if root := os.Getenv("GROVE_MEMORY_ROOT"); root != "" {
		return root
	}
	return filepath.Join(projectDir, DefaultRootName)
}

// NewLayout returns a Layout rooted at dir.
func NewLayout(dir string) Layout {
	return Layout{Root: dir}
}

func (l Layout) Registry() string     { return filepath.Join(l.Root, RegistryFile) }
func (l Layout) RegistryLock() string { return filepath.Join(l.Root, RegistryLockFile) }
func (l Layout) LegacySession() string {
	return filepath.Join(l.Root, LegacySessionFile)
}
func (l Layout) Sessions() string    { return filepath.Join(l.Root, SessionsDir) }
func (l Layout) Threads() string     { return filepath.Join(l.Root, ThreadsFile) }
func (l Layout) ThreadsLock() string { return filepath.Join(l.Root, ThreadsLockFile) }
func (l Layout) SearchSnapshot() string {
	return filepath.Join(l.Root, CacheDir, SearchSnapshotFile)
}
func (l Layout) Logs() string          { return filepath.Join(l.Root, LogsDir) }
func (l Layout) ProjectConfig() string { return filepath.Join(l.Root, ProjectConfigFile) }

// SessionDir returns the directory owned by one session.
func (l Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.Sessions(), sessionID)
}

// SessionState returns the state file of one session.
func (l Layout) SessionState(sessionID string) string {
	return filepath.Join(l.SessionDir(sessionID), SessionStateFile)
}

// EnsureDirs creates the root and its fixed subdirectories.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{l.Root, l.Sessions(), filepath.Join(l.Root, CacheDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func socketName(pid int) string {
	return fmt.Sprintf("memory-%d.sock", pid)
}

// SocketPID extracts the pid from a diagnostics socket file name.
func SocketPID(name string) (int, bool) {
	var pid int
	if _, err := fmt.Sscanf(name, "memory-%d.sock", &pid); err != nil || pid <= 0 {
		return 0, false
	}
	return pid, socketName(pid) == name
}
