package remote

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outage() error {
	return errors.RemoteRequest("GET", "threads", 0, fmt.Errorf("connection refused"))
}

func TestFallbackDisabledIsLocalOnly(t *testing.T) {
	f := NewFallback(false, time.Minute)
	remoteCalled := false

	source, err := f.Run(context.Background(), "list",
		func(context.Context) error { remoteCalled = true; return nil },
		func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, source)
	assert.False(t, remoteCalled)

	err = f.Do(context.Background(), "upload", func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, errors.ErrCodeRemoteUnavailable))
}

func TestFallbackCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFallback(true, 30*time.Second)
	f.now = func() time.Time { return now }

	remoteCalls := 0
	remote := func(context.Context) (int, error) { remoteCalls++; return 0, outage() }
	local := func(context.Context) (int, error) { return 7, nil }

	v, source, err := Query(context.Background(), f, "count", remote, local)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, SourceLocal, source)
	assert.Equal(t, 1, remoteCalls)
	assert.False(t, f.Reachable())

	// During the cooldown the remote is not even tried.
	_, _, _ = Query(context.Background(), f, "count", remote, local)
	assert.Equal(t, 1, remoteCalls)

	status := f.Status()
	assert.True(t, status.Enabled)
	assert.False(t, status.Reachable)
	assert.Equal(t, 1, status.Failures)
	require.NotNil(t, status.DownUntil)

	now = now.Add(31 * time.Second)
	assert.True(t, f.Reachable())

	v, source, err = Query(context.Background(), f, "count",
		func(context.Context) (int, error) { return 3, nil }, local)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, SourceRemote, source)
	assert.Equal(t, 0, f.Status().Failures)
}

func TestFallbackRequestErrorDoesNotCoolDown(t *testing.T) {
	f := NewFallback(true, time.Minute)

	source, err := f.Run(context.Background(), "search",
		func(context.Context) error {
			return errors.RemoteRequest("POST", "rpc/match_scars", 400, fmt.Errorf("bad"))
		},
		func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, source)
	assert.True(t, f.Reachable())
}

func TestIsUnavailable(t *testing.T) {
	assert.False(t, IsUnavailable(nil))
	assert.False(t, IsUnavailable(context.Canceled))
	assert.True(t, IsUnavailable(context.DeadlineExceeded))
	assert.True(t, IsUnavailable(outage()))
	assert.True(t, IsUnavailable(errors.RemoteRequest("GET", "x", 502, fmt.Errorf("bad gateway"))))
	assert.True(t, IsUnavailable(errors.RemoteRequest("GET", "x", 429, fmt.Errorf("slow down"))))
	assert.False(t, IsUnavailable(errors.RemoteRequest("GET", "x", 404, fmt.Errorf("missing"))))
	assert.False(t, IsUnavailable(errors.ThreadNotFound("t-1", "", 0)))
}
