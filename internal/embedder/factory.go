package embedder

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	Dimension         int
	Timeout           time.Duration
	RequestsPerSecond float64
	CacheSize         int

	// MaxContextTokens bounds single texts at ContextFill of the window.
	// Zero disables the check.
	MaxContextTokens int
	Logger           zerolog.Logger
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return NewOllamaProvider(cfg, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, cache)
	case ProviderHash, "local":
		return NewHashProvider(cfg.Dimension, cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// SupportedProviders lists the provider names New accepts
func SupportedProviders() []string {
	return []string{ProviderOllama, ProviderOpenAI, ProviderHash}
}
