package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/localrag/pkg/types"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func ollamaServer(t *testing.T, calls *atomic.Int32, failFirst int, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "/api/embed", r.URL.Path)
		if int(n) <= failFirst {
			http.Error(w, "busy", status)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{float32(i), 1, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
}

func newTestOllama(t *testing.T, url string, cache *Cache) *OllamaProvider {
	t.Helper()
	p, err := NewOllamaProvider(Config{BaseURL: url, Dimension: 4, Timeout: 5 * time.Second, Logger: zerolog.Nop()}, cache)
	require.NoError(t, err)
	p.retry = fastRetry()
	return p
}

func TestOllamaProvider_GenerateBatch(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, &calls, 0, 0)
	defer srv.Close()

	p := newTestOllama(t, srv.URL, nil)
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b", "c"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 3)
	assert.Equal(t, ProviderOllama, resp.Provider)
	assert.Equal(t, DefaultOllamaModel, resp.Model)
	assert.Equal(t, float32(2), resp.Embeddings[2].Vector[0])
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, &calls, 2, http.StatusInternalServerError)
	defer srv.Close()

	p := newTestOllama(t, srv.URL, nil)
	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a"}})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaProvider_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, &calls, 10, http.StatusBadRequest)
	defer srv.Close()

	p := newTestOllama(t, srv.URL, nil)
	_, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaProvider_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestOllama(t, url, nil)
	_, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionRefused)
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
	assert.True(t, types.IsFatal(err))
	assert.Contains(t, err.Error(), "ollama serve")

	err = p.Ping(context.Background())
	assert.ErrorIs(t, err, ErrConnectionRefused)
}

func TestOllamaProvider_CacheHit(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, &calls, 0, 0)
	defer srv.Close()

	p := newTestOllama(t, srv.URL, NewCache(10))
	ctx := context.Background()

	first, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hello"})
	require.NoError(t, err)
	second, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hello"})
	require.NoError(t, err)

	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, int32(1), calls.Load())

	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "hello", Model: "other"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "model is part of the cache key")
}

func TestOllamaProvider_Ping(t *testing.T) {
	var calls atomic.Int32
	srv := ollamaServer(t, &calls, 0, 0)
	defer srv.Close()

	p := newTestOllama(t, srv.URL, nil)
	assert.NoError(t, p.Ping(context.Background()))
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := retryWithBackoff(ctx, fastRetry(), func() (int, error) {
		attempts++
		cancel()
		return 0, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

type countingEmbedder struct {
	*HashProvider
	batches []int
}

func (c *countingEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	c.batches = append(c.batches, len(req.Texts))
	return c.HashProvider.GenerateBatch(ctx, req)
}

func TestEmbedTexts_Batches(t *testing.T) {
	e := &countingEmbedder{HashProvider: NewHashProvider(8, nil)}
	texts := []string{"a", "b", "c", "d", "e", "f", "g"}

	vecs, err := EmbedTexts(context.Background(), e, texts, 3, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, vecs, 7)
	assert.Equal(t, []int{3, 3, 1}, e.batches)

	vecs, err = EmbedTexts(context.Background(), e, nil, 3, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestNew_Providers(t *testing.T) {
	e, err := New(Config{Provider: "hash", Dimension: 16})
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dimension())

	e, err = New(Config{Provider: "local", Dimension: 16})
	require.NoError(t, err)
	assert.Equal(t, ProviderHash, e.Provider())

	e, err = New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaModel, e.Model())
	assert.Equal(t, DefaultDimension, e.Dimension())

	_, err = New(Config{Provider: "jina"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}
