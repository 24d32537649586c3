package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Provider configuration
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"

	// Defaults
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "bge-m3"
	DefaultOpenAIModel   = "text-embedding-3-small"
	DefaultDimension     = 1024
	DefaultOllamaTimeout = 300 * time.Second

	// Batch limits
	DefaultBatchSize = 32
	MaxBatchSize     = 256

	// DefaultMaxContextTokens is the bge-m3 context window
	DefaultMaxContextTokens = 8192
	// ContextFill is the share of the context window a single text may use
	ContextFill = 0.9

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 500
	MaxBackoffMs      = 10000
	BackoffMultiplier = 2.0
)

// connectionHint is appended to connection-refused errors from Ollama
const connectionHint = "Cannot connect to Ollama. Is it running? Start with: ollama serve"

// OllamaProvider implements Embedder against a local Ollama server
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	maxWords   int
	limiter    *rate.Limiter
	retry      RetryConfig
	logger     zerolog.Logger
}

// NewOllamaProvider creates an embedder that calls {baseURL}/api/embed
func NewOllamaProvider(cfg Config, cache *Cache) (*OllamaProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultOllamaTimeout
	}

	return &OllamaProvider{
		baseURL:   baseURL,
		model:     model,
		dimension: dim,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    cache,
		maxWords: inputWordLimit(cfg.MaxContextTokens),
		limiter:  newLimiter(cfg.RequestsPerSecond),
		retry:    DefaultRetryConfig(),
		logger:   cfg.Logger,
	}, nil
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds texts with one /api/embed call for the texts the
// cache does not hold
func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := validateTexts(req.Texts, o.maxWords); err != nil {
		return nil, err
	}
	model := o.modelFor(req.Model)

	vectors, err := embedCached(o.cache, model, req.Texts, func(texts []string) ([][]float32, error) {
		return retryWithBackoff(ctx, o.retry, func() ([][]float32, error) {
			if err := wait(ctx, o.limiter); err != nil {
				return nil, err
			}
			return o.callAPI(ctx, texts, model)
		})
	})
	if err != nil {
		if errors.Is(err, ErrConnectionRefused) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	return &BatchEmbeddingResponse{
		Embeddings: wrapVectors(vectors, ProviderOllama, model),
		Provider:   ProviderOllama,
		Model:      model,
	}, nil
}

func (o *OllamaProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model": model,
		"input": texts,
	})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		if isConnectionRefused(err) {
			return nil, fmt.Errorf("%w: %s (%v)", ErrConnectionRefused, connectionHint, err)
		}
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp struct {
		Model      string      `json:"model"`
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Embeddings) != len(texts) {
		return nil, permanent(fmt.Errorf("got %d embeddings for %d texts", len(apiResp.Embeddings), len(texts)))
	}

	o.logger.Debug().
		Str("model", model).
		Int("texts", len(texts)).
		Dur("elapsed", time.Since(start)).
		Msg("ollama embed")

	return apiResp.Embeddings, nil
}

// Ping checks that the Ollama server answers
func (o *OllamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		if isConnectionRefused(err) {
			return fmt.Errorf("%w: %s", ErrConnectionRefused, connectionHint)
		}
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}

func (o *OllamaProvider) modelFor(override string) string {
	if override != "" {
		return override
	}
	return o.model
}

func (o *OllamaProvider) Dimension() int {
	return o.dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// isConnectionRefused separates "nothing is listening" from slow-but-alive
// failures such as timeouts
func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}
