package process

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, IsProcessAlive(os.Getpid()), "own process must be alive")
	assert.False(t, IsProcessAlive(0))
	assert.False(t, IsProcessAlive(-5))
}

func TestCurrent(t *testing.T) {
	id := Current()
	assert.Equal(t, os.Getpid(), id.PID)
	assert.NotEmpty(t, id.Hostname)
}

func TestSignalProber(t *testing.T) {
	p := SignalProber{Timeout: time.Second}
	assert.True(t, p.Alive(os.Getpid()))
	assert.False(t, p.Alive(0))
}

func TestProberFunc(t *testing.T) {
	dead := ProberFunc(func(pid int) bool { return pid != 111 })
	assert.False(t, dead.Alive(111))
	assert.True(t, dead.Alive(222))
}
