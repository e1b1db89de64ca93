// Package process identifies the current process and probes the liveness of others.
package process

import (
	"os"
	"syscall"
	"time"
)

// Identity is the (hostname, pid) tuple that owns a registry entry.
type Identity struct {
	Hostname string `json:"hostname"`
	PID      int    `json:"pid"`
}

// Current returns the identity of the running process.
// An unresolvable hostname degrades to "localhost" so identity is always usable.
func Current() Identity {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Identity{Hostname: host, PID: os.Getpid()}
}

// IsProcessAlive checks if a process with the given PID is still running.
// It uses a signal-sending method that is cross-platform for Unix-like systems (macOS, Linux).
func IsProcessAlive(pid int) bool {
	// PID 0 or less is invalid.
	if pid <= 0 {
		return false
	}

	// Find the process. This doesn't fail on Unix if the process doesn't exist.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence without delivering anything.
	// EPERM means the process exists but belongs to someone else.
	err = process.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}

// Prober answers liveness questions for PIDs on the local host.
type Prober interface {
	Alive(pid int) bool
}

// SignalProber probes with signal 0, giving up after Timeout.
// A probe that does not answer in time is reported alive so nothing is pruned on a guess.
type SignalProber struct {
	Timeout time.Duration
}

// Alive implements Prober.
func (p SignalProber) Alive(pid int) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	result := make(chan bool, 1)
	go func() { result <- IsProcessAlive(pid) }()

	select {
	case alive := <-result:
		return alive
	case <-time.After(timeout):
		return true
	}
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(pid int) bool

// Alive implements Prober.
func (f ProberFunc) Alive(pid int) bool { return f(pid) }
