package remote

import (
	"context"
	"testing"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(f *testutil.FakeRemote) *RESTClient {
	return NewRESTClient(f.URL(), testutil.FakeAPIKey, DefaultTables(), 2*time.Second)
}

func TestRESTClientScars(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)
	fake.AddScars(
		models.Scar{ID: "scar-1", Title: "Never force push main", Project: "demo"},
		models.Scar{ID: "scar-2", Title: "Migrations need locks", Project: "demo"},
		models.Scar{ID: "scar-3", Title: "Other project", Project: "other"},
	)
	client := newClient(fake)

	scars, err := client.ListScars(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, scars, 2)
	assert.Equal(t, "scar-1", scars[0].ID)

	count, err := client.CountScars(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := client.SearchScars(ctx, "demo", "force push", nil, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "scar-1", matches[0].ID)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestRESTClientThreadsAndSessions(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)
	client := newClient(fake)

	created := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, client.UpsertThreads(ctx, "demo", []models.Thread{
		{ID: "t-00000001", Text: "first", Status: models.ThreadOpen, CreatedAt: created},
	}))
	require.NoError(t, client.UpsertThreads(ctx, "demo", []models.Thread{
		{ID: "t-00000001", Text: "first", Status: models.ThreadResolved, CreatedAt: created},
	}))

	threads, err := client.ListThreads(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, models.ThreadResolved, threads[0].Status)

	closed := models.ClosedSession{
		SessionID: "s-1",
		Project:   "demo",
		ClosedAt:  time.Now().UTC().Add(-time.Hour),
		OpenThreads: []models.Thread{
			{ID: "t-00000002", Text: "carry", Status: models.ThreadOpen},
		},
	}
	require.NoError(t, client.UpsertSession(ctx, closed))

	sessions, err := client.ClosedSessions(ctx, "demo", 5, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "carry", sessions[0].OpenThreads[0].Text)

	sessions, err = client.ClosedSessions(ctx, "demo", 5, time.Now())
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, client.RecordScarUsage(ctx, []models.ScarUsage{{ScarID: "scar-1", SessionID: "s-1"}}))
	assert.Len(t, fake.Usage(), 1)
}

func TestRESTClientErrors(t *testing.T) {
	ctx := context.Background()
	fake := testutil.NewFakeRemote(t)

	unauthorized := NewRESTClient(fake.URL(), "wrong", DefaultTables(), time.Second)
	_, err := unauthorized.ListThreads(ctx, "demo")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeRemoteRequest))
	assert.False(t, IsUnavailable(err), "4xx is a request error, not an outage")

	fake.SetDown(true)
	_, err = newClient(fake).ListThreads(ctx, "demo")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	unreachable := NewRESTClient("http://127.0.0.1:1", testutil.FakeAPIKey, DefaultTables(), time.Second)
	_, err = unreachable.CountScars(ctx, "demo")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestParseContentRangeTotal(t *testing.T) {
	total, err := parseContentRangeTotal("0-0/42")
	require.NoError(t, err)
	assert.Equal(t, 42, total)

	total, err = parseContentRangeTotal("*/0")
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	_, err = parseContentRangeTotal("0-0/*")
	assert.Error(t, err)
	_, err = parseContentRangeTotal("")
	assert.Error(t, err)
}
