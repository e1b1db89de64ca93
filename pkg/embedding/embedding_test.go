package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = New(Options{Provider: "word2vec"})
	assert.Error(t, err)

	_, err = New(Options{Provider: "openai"})
	assert.Error(t, err, "api key is required")
}

func TestOpenAIEmbedder(t *testing.T) {
	var gotModel string
	var gotInputs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel = body.Model
		gotInputs = body.Input

		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	e, err := New(Options{Provider: "openai", APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", e.Model())

	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, "text-embedding-3-small", gotModel)
	assert.Equal(t, []string{"first", "second"}, gotInputs)
}

func TestOpenAIEmbedderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	e, err := New(Options{Provider: "openai", APIKey: "sk-bad", BaseURL: server.URL})
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float64{1}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
}
