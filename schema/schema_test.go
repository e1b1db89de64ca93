package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/grovetools/memory/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEveryKind(t *testing.T) {
	for _, kind := range Kinds() {
		data, err := Generate(kind)
		require.NoError(t, err, kind)

		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &doc))
		assert.NotEmpty(t, doc["title"], kind)
	}

	_, err := Generate("nope")
	assert.Error(t, err)
}

func TestValidateRegistry(t *testing.T) {
	v, err := Default()
	require.NoError(t, err)

	valid := models.RegistryDocument{Sessions: []models.RegistryEntry{{
		SessionID: "abc",
		Agent:     "cli",
		StartedAt: time.Now().UTC(),
		Hostname:  "host",
		PID:       12,
	}}}
	assert.NoError(t, v.Validate(KindRegistry, valid))

	assert.Error(t, v.ValidateBytes(KindRegistry, []byte(`{"sessions": [{"session_id": "abc", "pid": "twelve", "hostname": "h"}]}`)))
	assert.Error(t, v.ValidateBytes(KindRegistry, []byte(`{"sessions": {}}`)))
	assert.Error(t, v.ValidateBytes(KindRegistry, []byte(`{}`)))
	assert.Error(t, v.ValidateBytes(KindRegistry, []byte(`{not json`)))
}

func TestValidateThreadsAcceptsLegacyStrings(t *testing.T) {
	v, err := Default()
	require.NoError(t, err)

	doc := []byte(`{"threads": [
		"bare legacy thread",
		{"id": "t-0011aabb", "text": "structured", "status": "open", "created_at": "2026-03-01T10:00:00Z"}
	], "updated_at": "2026-03-01T10:00:00Z"}`)
	assert.NoError(t, v.ValidateBytes(KindThreads, doc))

	assert.Error(t, v.ValidateBytes(KindThreads, []byte(`{"threads": [42]}`)))
	assert.Error(t, v.ValidateBytes(KindThreads, []byte(`{"threads": [{"id": "t-1"}]}`)), "text is required")
}

func TestValidateSessionState(t *testing.T) {
	v, err := Default()
	require.NoError(t, err)

	state := models.SessionState{
		SessionID:     "abc",
		Hostname:      "host",
		PID:           1,
		SurfacedScars: []models.SurfacedScar{},
		Threads:       []models.Thread{{ID: "t-00000001", Text: "x", Status: models.ThreadOpen}},
	}
	assert.NoError(t, v.Validate(KindSession, state))
	assert.Error(t, v.ValidateBytes(KindSession, []byte(`{"hostname": "h"}`)))

	state.SurfacedScars = nil
	assert.Error(t, v.Validate(KindSession, state), "null arrays are rejected")
}
