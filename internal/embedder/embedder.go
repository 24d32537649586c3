package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/localrag/pkg/types"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrInputTooLong      = errors.New("text exceeds the model context")

	// ErrConnectionRefused is returned when the embedding service is not
	// listening. It matches types.ErrEmbeddingUnavailable and is never retried.
	ErrConnectionRefused = fmt.Errorf("%w: connection refused", types.ErrEmbeddingUnavailable)
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts in one call
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Pinger is implemented by providers that can check service reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// EmbedTexts embeds texts in sub-batches of batchSize and returns one vector
// per text, in order.
func EmbedTexts(ctx context.Context, e Embedder, texts []string, batchSize int, logger zerolog.Logger) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		if len(texts) > batchSize {
			logger.Debug().Int("from", start+1).Int("to", end).Int("total", len(texts)).Msg("embedding batch")
		}
		resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts[start:end]})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(resp.Embeddings), end-start)
		}
		for _, emb := range resp.Embeddings {
			vectors = append(vectors, emb.Vector)
		}
	}
	return vectors, nil
}

func wrapVectors(vectors [][]float32, provider, model string) []*Embedding {
	out := make([]*Embedding, len(vectors))
	for i, vec := range vectors {
		out[i] = &Embedding{Vector: vec, Dimension: len(vec), Provider: provider, Model: model}
	}
	return out
}

// validateTexts rejects empty batches, empty texts, batches over
// MaxBatchSize and texts longer than maxWords. maxWords <= 0 disables the
// length check.
func validateTexts(texts []string, maxWords int) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if len(texts) > MaxBatchSize {
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text %d", ErrEmptyText, i)
		}
		if maxWords > 0 {
			if n := len(strings.Fields(text)); n > maxWords {
				return fmt.Errorf("%w: text %d has %d words, limit %d", ErrInputTooLong, i, n, maxWords)
			}
		}
	}
	return nil
}

// inputWordLimit is the largest text a model with the given context window
// accepts. Words stand in for tokens, as in the chunker, and a tenth of the
// window is held back for tokenizer expansion.
func inputWordLimit(maxContextTokens int) int {
	if maxContextTokens <= 0 {
		return 0
	}
	return int(float64(maxContextTokens) * ContextFill)
}
