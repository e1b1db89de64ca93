// Package paths provides XDG-compliant path resolution for grove-memory.
//
// Resolution order for the global directories:
// 1. GROVE_HOME (portable root) → $GROVE_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/grove
// 3. Platform defaults → ~/.config/grove, ~/.local/state/grove
//
// The memory root (registry, sessions, threads) is project-scoped and
// resolved separately by Root.
package paths

import (
	"os"
	"path/filepath"
)

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if groveHome := os.Getenv("GROVE_HOME"); groveHome != "" {
		return filepath.Join(groveHome, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if groveHome := os.Getenv("GROVE_HOME"); groveHome != "" {
		return filepath.Join(groveHome, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the Grove configuration directory.
// The global memory.yml lives here.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "grove")
}

// StateDir returns the Grove state directory.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, "grove")
}

// RuntimeDir returns the Grove runtime directory for sockets.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if groveHome := os.Getenv("GROVE_HOME"); groveHome != "" {
		return filepath.Join(groveHome, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "grove")
	}
	return StateDir()
}

// SocketPath returns the default diagnostics socket for the process with the given pid.
// Every serving process owns its own socket because each assistant spawns its own server.
func SocketPath(pid int) string {
	return filepath.Join(SocketDir(), socketName(pid))
}

// SocketDir holds the diagnostics sockets of every serving process.
func SocketDir() string {
	return filepath.Join(RuntimeDir(), "memory")
}

// GlobalConfigFile returns the path of the user-wide memory configuration.
func GlobalConfigFile() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "memory.yml")
}
