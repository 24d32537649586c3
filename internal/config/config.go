// Package config loads localrag settings from ~/.localrag/config.toml,
// LOCALRAG_* environment variables and built-in defaults, in that order of
// precedence after explicit overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/dshills/localrag/internal/embedder"
	"github.com/dshills/localrag/internal/indexer"
	"github.com/dshills/localrag/internal/logger"
	"github.com/dshills/localrag/pkg/types"
)

const (
	// DirName is the per-user directory below $HOME
	DirName = ".localrag"
	// FileName is the default config file inside DirName
	FileName = "config.toml"
	// EnvPrefix prefixes environment overrides, e.g. LOCALRAG_EMBEDDING_MODEL
	EnvPrefix = "LOCALRAG"
)

// Config is the full application configuration
type Config struct {
	DBPath                    string              `mapstructure:"db_path"`
	Embedding                 EmbeddingConfig     `mapstructure:"embedding"`
	ChunkSizeTokens           int                 `mapstructure:"chunk_size_tokens"`
	ChunkOverlapTokens        int                 `mapstructure:"chunk_overlap_tokens"`
	ObsidianVaults            []string            `mapstructure:"obsidian_vaults"`
	ObsidianExcludeFolders    []string            `mapstructure:"obsidian_exclude_folders"`
	CodeGroups                map[string][]string `mapstructure:"code_groups"`
	CodeExclude               []string            `mapstructure:"code_exclude"`
	GitHistoryInMonths        int                 `mapstructure:"git_history_in_months"`
	GitCommitSubjectBlacklist []string            `mapstructure:"git_commit_subject_blacklist"`
	DisabledCollections       []string            `mapstructure:"disabled_collections"`
	Search                    SearchConfig        `mapstructure:"search"`
	Workers                   int                 `mapstructure:"workers"`
	Schedule                  string              `mapstructure:"schedule"`
	WatchDebounce             time.Duration       `mapstructure:"watch_debounce"`
	Log                       LogConfig           `mapstructure:"log"`
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	Dimensions        int           `mapstructure:"dimensions"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	BatchSize         int           `mapstructure:"batch_size"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CacheSize         int           `mapstructure:"cache_size"`
	MaxContextTokens  int           `mapstructure:"max_context_tokens"`
}

// SearchConfig holds hybrid search defaults
type SearchConfig struct {
	TopK         int           `mapstructure:"top_k"`
	RRFK         int           `mapstructure:"rrf_k"`
	VectorWeight float64       `mapstructure:"vector_weight"`
	FTSWeight    float64       `mapstructure:"fts_weight"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Dir returns ~/.localrag
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// DefaultPath returns ~/.localrag/config.toml
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// defaults is the nested default document. It seeds viper and is what
// WriteDefault renders, so the file and the built-in values cannot drift.
func defaults() map[string]any {
	return map[string]any{
		"db_path": "~/" + DirName + "/rag.db",
		"embedding": map[string]any{
			"provider":            embedder.ProviderOllama,
			"model":               embedder.DefaultOllamaModel,
			"dimensions":          embedder.DefaultDimension,
			"base_url":            embedder.DefaultOllamaURL,
			"api_key":             "",
			"batch_size":          embedder.DefaultBatchSize,
			"timeout":             embedder.DefaultOllamaTimeout.String(),
			"requests_per_second": 0.0,
			"cache_size":          10000,
			"max_context_tokens":  embedder.DefaultMaxContextTokens,
		},
		"chunk_size_tokens":            500,
		"chunk_overlap_tokens":         50,
		"obsidian_vaults":              []string{},
		"obsidian_exclude_folders":     []string{},
		"code_groups":                  map[string]any{},
		"code_exclude":                 []string{},
		"git_history_in_months":        6,
		"git_commit_subject_blacklist": []string{},
		"disabled_collections":         []string{},
		"search": map[string]any{
			"top_k":         10,
			"rrf_k":         60,
			"vector_weight": 0.7,
			"fts_weight":    0.3,
			"cache_ttl":     (5 * time.Minute).String(),
		},
		"workers":        2,
		"schedule":       "",
		"watch_debounce": (2 * time.Second).String(),
		"log": map[string]any{
			"level":  "info",
			"format": logger.FormatConsole,
			"file":   "",
		},
	}
}

// setDefaults registers every leaf key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok && len(sub) > 0 {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Load reads the config file at path. An empty path means the default
// location, which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, "", defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file %s: %v", types.ErrConfig, path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: config file %s: %v", types.ErrConfig, path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", types.ErrConfig, err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	v := viper.New()
	setDefaults(v, "", defaults())
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	cfg.expandPaths()
	return cfg
}

func (c *Config) expandPaths() {
	c.DBPath = ExpandHome(c.DBPath)
	c.Log.File = ExpandHome(c.Log.File)
	for i, p := range c.ObsidianVaults {
		c.ObsidianVaults[i] = ExpandHome(p)
	}
	for name, repos := range c.CodeGroups {
		for i, p := range repos {
			repos[i] = ExpandHome(p)
		}
		c.CodeGroups[name] = repos
	}
}

// ExpandHome replaces a leading ~ with the home directory
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.DBPath == "" {
		fail("db_path is required")
	}
	if !slices.Contains(embedder.SupportedProviders(), strings.ToLower(c.Embedding.Provider)) {
		fail("embedding.provider %q is not one of %s", c.Embedding.Provider, strings.Join(embedder.SupportedProviders(), ", "))
	}
	if c.Embedding.Dimensions <= 0 {
		fail("embedding.dimensions must be positive")
	}
	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > embedder.MaxBatchSize {
		fail("embedding.batch_size must be between 1 and %d", embedder.MaxBatchSize)
	}
	if c.Embedding.Timeout <= 0 {
		fail("embedding.timeout must be positive")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		fail("embedding.requests_per_second must not be negative")
	}
	if c.Embedding.MaxContextTokens <= 0 {
		fail("embedding.max_context_tokens must be positive")
	}
	if c.ChunkSizeTokens <= 0 {
		fail("chunk_size_tokens must be positive")
	} else if limit := int(float64(c.Embedding.MaxContextTokens) * embedder.ContextFill); c.Embedding.MaxContextTokens > 0 && c.ChunkSizeTokens > limit {
		fail("chunk_size_tokens %d exceeds %d (90%% of embedding.max_context_tokens)", c.ChunkSizeTokens, limit)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkSizeTokens {
		fail("chunk_overlap_tokens must be at least 0 and below chunk_size_tokens")
	}
	if c.GitHistoryInMonths < 0 {
		fail("git_history_in_months must not be negative")
	}
	if c.Search.TopK <= 0 {
		fail("search.top_k must be positive")
	}
	if c.Search.RRFK <= 0 {
		fail("search.rrf_k must be positive")
	}
	if c.Search.VectorWeight < 0 || c.Search.FTSWeight < 0 {
		fail("search weights must not be negative")
	}
	if c.Search.VectorWeight+c.Search.FTSWeight == 0 {
		fail("search weights must not both be zero")
	}
	if c.Workers < 1 {
		fail("workers must be at least 1")
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			fail("schedule %q: %v", c.Schedule, err)
		}
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		fail("log.level: %v", err)
	}
	if c.Log.Format != logger.FormatConsole && c.Log.Format != logger.FormatJSON {
		fail("log.format must be %s or %s", logger.FormatConsole, logger.FormatJSON)
	}
	for _, name := range c.CodeGroupNames() {
		if name == indexer.ObsidianCollection {
			fail("code group name %q is reserved", name)
		}
		if len(c.CodeGroups[name]) == 0 {
			fail("code group %q has no repositories", name)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", types.ErrConfig, errors.Join(errs...))
	}
	return nil
}

// CodeGroupNames returns the configured code groups in sorted order
func (c *Config) CodeGroupNames() []string {
	names := make([]string, 0, len(c.CodeGroups))
	for name := range c.CodeGroups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled reports whether a collection is not listed in disabled_collections
func (c *Config) Enabled(name string) bool {
	return !slices.Contains(c.DisabledCollections, name)
}

// EmbedderConfig maps the embedding section onto the embedder factory config
func (c *Config) EmbedderConfig(logger zerolog.Logger) embedder.Config {
	return embedder.Config{
		Provider:          c.Embedding.Provider,
		Model:             c.Embedding.Model,
		BaseURL:           c.Embedding.BaseURL,
		APIKey:            c.Embedding.APIKey,
		Dimension:         c.Embedding.Dimensions,
		Timeout:           c.Embedding.Timeout,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		CacheSize:         c.Embedding.CacheSize,
		MaxContextTokens:  c.Embedding.MaxContextTokens,
		Logger:            logger,
	}
}

// Redacted returns a copy safe to print
func (c *Config) Redacted() *Config {
	out := *c
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = "[REDACTED]"
	}
	return &out
}

// WriteDefault writes the default configuration as TOML to path. An
// existing file is only replaced when overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(defaults())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Encode renders c as TOML, as shown by `localrag config show`
func (c *Config) Encode() ([]byte, error) {
	doc := map[string]any{
		"db_path": c.DBPath,
		"embedding": map[string]any{
			"provider":            c.Embedding.Provider,
			"model":               c.Embedding.Model,
			"dimensions":          c.Embedding.Dimensions,
			"base_url":            c.Embedding.BaseURL,
			"api_key":             c.Embedding.APIKey,
			"batch_size":          c.Embedding.BatchSize,
			"timeout":             c.Embedding.Timeout.String(),
			"requests_per_second": c.Embedding.RequestsPerSecond,
			"cache_size":          c.Embedding.CacheSize,
			"max_context_tokens":  c.Embedding.MaxContextTokens,
		},
		"chunk_size_tokens":            c.ChunkSizeTokens,
		"chunk_overlap_tokens":         c.ChunkOverlapTokens,
		"obsidian_vaults":              nonNil(c.ObsidianVaults),
		"obsidian_exclude_folders":     nonNil(c.ObsidianExcludeFolders),
		"code_groups":                  c.CodeGroups,
		"code_exclude":                 nonNil(c.CodeExclude),
		"git_history_in_months":        c.GitHistoryInMonths,
		"git_commit_subject_blacklist": nonNil(c.GitCommitSubjectBlacklist),
		"disabled_collections":         nonNil(c.DisabledCollections),
		"search": map[string]any{
			"top_k":         c.Search.TopK,
			"rrf_k":         c.Search.RRFK,
			"vector_weight": c.Search.VectorWeight,
			"fts_weight":    c.Search.FTSWeight,
			"cache_ttl":     c.Search.CacheTTL.String(),
		},
		"workers":        c.Workers,
		"schedule":       c.Schedule,
		"watch_debounce": c.WatchDebounce.String(),
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
			"file":   c.Log.File,
		},
	}
	if c.CodeGroups == nil {
		doc["code_groups"] = map[string]any{}
	}
	return toml.Marshal(doc)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
