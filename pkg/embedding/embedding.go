// Package embedding turns text into vectors for similarity search and thread dedup.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/grovetools/memory/logging"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// Options selects and configures a provider.
type Options struct {
	// Provider is "" (disabled) or "openai".
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// New returns the configured Embedder, or nil when embeddings are disabled.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case "":
		return nil, nil
	case "openai":
		e, err := NewOpenAI(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider '%s'", opts.Provider)
	}
}

// OpenAIEmbedder calls any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAI creates an OpenAI-compatible embedder.
func NewOpenAI(opts Options) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("embedding api_key is required for provider 'openai'")
	}
	if opts.Model == "" {
		opts.Model = "text-embedding-3-small"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(opts.Timeout),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	logging.NewLogger("embedding").WithField("model", opts.Model).Debug("Embedding provider configured")

	return &OpenAIEmbedder{
		client:     openai.NewClient(reqOpts...),
		model:      opts.Model,
		dimensions: opts.Dimensions,
	}, nil
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed returns vectors in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vectors := make([][]float64, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is empty
// or their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
