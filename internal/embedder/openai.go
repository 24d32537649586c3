package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// EnvOpenAIAPIKey is consulted when no API key is configured
const EnvOpenAIAPIKey = "OPENAI_API_KEY"

// OpenAIProvider implements Embedder using any OpenAI-compatible embeddings endpoint
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
	cache     *Cache
	maxWords  int
	limiter   *rate.Limiter
	retry     RetryConfig
	logger    zerolog.Logger
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg Config, cache *Cache) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}

	// Retries are handled by retryWithBackoff so connection refused stays distinct
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dim,
		cache:     cache,
		maxWords:  inputWordLimit(cfg.MaxContextTokens),
		limiter:   newLimiter(cfg.RequestsPerSecond),
		retry:     DefaultRetryConfig(),
		logger:    cfg.Logger,
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
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
		Embeddings: wrapVectors(vectors, ProviderOpenAI, model),
		Provider:   ProviderOpenAI,
		Model:      model,
	}, nil
}

// callAPI returns vectors ordered by the response index field, which the
// API does not promise to match the order of data
func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		if isConnectionRefused(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionRefused, err)
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(err)
		}
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, permanent(fmt.Errorf("got %d embeddings for %d texts", len(resp.Data), len(texts)))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (o *OpenAIProvider) modelFor(override string) string {
	if override != "" {
		return override
	}
	return o.model
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}
