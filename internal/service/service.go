// Package service exposes the user-facing operations of localrag: index one
// collection, index a project, index everything, search, and collection
// management. The CLI, the MCP server, the scheduler and the watcher all go
// through it.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/localrag/internal/chunker"
	"github.com/dshills/localrag/internal/config"
	"github.com/dshills/localrag/internal/embedder"
	"github.com/dshills/localrag/internal/indexer"
	"github.com/dshills/localrag/internal/searcher"
	"github.com/dshills/localrag/internal/storage"
	"github.com/dshills/localrag/pkg/types"
)

var (
	// ErrIndexInProgress is returned when a collection is already being indexed
	ErrIndexInProgress = errors.New("indexing already in progress")
	// ErrEmptyQuery is returned for a blank search query
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Service owns the storage, embedder, indexer and searcher of one process
type Service struct {
	cfg      *config.Config
	store    storage.Storage
	embedder embedder.Embedder
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	chunker  *chunker.Chunker
	locks    indexer.Locks
	openRepo indexer.RepoOpener
	logger   zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRepoOpener replaces how code group repositories are opened
func WithRepoOpener(open indexer.RepoOpener) Option {
	return func(s *Service) { s.openRepo = open }
}

// New assembles a Service around an open store and embedder
func New(cfg *config.Config, store storage.Storage, emb embedder.Embedder, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    store,
		embedder: emb,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.chunker = chunker.New(
		chunker.WithChunkSize(cfg.ChunkSizeTokens),
		chunker.WithOverlap(cfg.ChunkOverlapTokens),
	)
	s.indexer = indexer.New(store, emb,
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithLogger(s.logger),
	)
	s.searcher = searcher.New(store, searcher.Config{
		RRFK:         float64(cfg.Search.RRFK),
		VectorWeight: cfg.Search.VectorWeight,
		FTSWeight:    cfg.Search.FTSWeight,
		CacheTTL:     cfg.Search.CacheTTL,
	}, s.logger)
	return s
}

// Open creates the database directory, opens storage and builds the
// configured embedder
func Open(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath,
		storage.WithDimension(cfg.Embedding.Dimensions),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := embedder.New(cfg.EmbedderConfig(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: failed to initialize embedder: %v", types.ErrConfig, err)
	}

	return New(cfg, store, emb, append([]Option{WithLogger(logger)}, opts...)...), nil
}

// Close releases the embedder and the store
func (s *Service) Close() error {
	return errors.Join(s.embedder.Close(), s.store.Close())
}

// Config returns the configuration the service was built with
func (s *Service) Config() *config.Config {
	return s.cfg
}

// driverFor resolves a collection name: obsidian, a configured code group,
// or a project collection created earlier by IndexProject
func (s *Service) driverFor(ctx context.Context, name string) (indexer.Driver, error) {
	if name == indexer.ObsidianCollection {
		if len(s.cfg.ObsidianVaults) == 0 {
			return nil, fmt.Errorf("%w: obsidian_vaults is not configured", types.ErrConfig)
		}
		return indexer.NewObsidianDriver(s.cfg.ObsidianVaults, s.cfg.ObsidianExcludeFolders, s.chunker, s.logger), nil
	}

	if repos, ok := s.cfg.CodeGroups[name]; ok {
		d, err := indexer.NewGitDriver(name, repos, s.chunker, indexer.GitOptions{
			HistoryMonths:    s.cfg.GitHistoryInMonths,
			SubjectBlacklist: s.cfg.GitCommitSubjectBlacklist,
			Exclude:          s.cfg.CodeExclude,
			Open:             s.openRepo,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: code group %s: %v", types.ErrConfig, name, err)
		}
		return d, nil
	}

	coll, err := s.store.GetCollection(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if coll.Type != types.CollectionProject {
		return nil, fmt.Errorf("%w: collection %s (%s) is no longer configured", types.ErrConfig, name, coll.Type)
	}
	if len(coll.Paths) == 0 {
		return nil, fmt.Errorf("%w: project %s has no stored paths", types.ErrConfig, name)
	}
	return indexer.NewProjectDriver(name, coll.Paths, s.chunker, s.logger), nil
}

// run executes one driver under its collection lock
func (s *Service) run(ctx context.Context, d indexer.Driver, opts indexer.RunOptions) (*indexer.RunSummary, error) {
	if !s.locks.TryAcquire(d.Name()) {
		return nil, fmt.Errorf("%s: %w", d.Name(), ErrIndexInProgress)
	}
	defer s.locks.Release(d.Name())

	summary, err := s.indexer.Run(ctx, d, opts)
	s.searcher.InvalidateCache()
	return summary, err
}

// IndexCollection indexes one named collection
func (s *Service) IndexCollection(ctx context.Context, name string, opts indexer.RunOptions) (*indexer.RunSummary, error) {
	d, err := s.driverFor(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, d, opts)
}

// IndexProject indexes files and folders into the project collection name.
// The paths are stored with the collection so later runs need only the name.
func (s *Service) IndexProject(ctx context.Context, name string, paths []string, opts indexer.RunOptions) (*indexer.RunSummary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: project name is required", types.ErrConfig)
	}
	if name == indexer.ObsidianCollection || s.cfg.CodeGroups[name] != nil {
		return nil, fmt.Errorf("%w: %s is a configured collection, not a project", types.ErrConfig, name)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: at least one path is required", types.ErrConfig)
	}

	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		p = config.ExpandHome(p)
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: path %s: %v", types.ErrConfig, p, err)
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("%w: path %s: %v", types.ErrConfig, p, err)
		}
		abs = append(abs, a)
	}

	if coll, err := s.store.GetCollection(ctx, name); err == nil && coll.Type != types.CollectionProject {
		return nil, fmt.Errorf("%w: collection %s exists with type %s", types.ErrConfig, name, coll.Type)
	}

	return s.run(ctx, indexer.NewProjectDriver(name, abs, s.chunker, s.logger), opts)
}

// IndexAllResult is the outcome of IndexAll
type IndexAllResult struct {
	// Collections holds one summary per collection that ran, by name
	Collections []*indexer.RunSummary `json:"collections"`
	// Total merges every collection summary
	Total *indexer.RunSummary `json:"total"`
	// Failed maps collections that could not run to the reason
	Failed map[string]string `json:"failed,omitempty"`
}

// Targets lists the collections IndexAll covers: obsidian when vaults are
// configured, every code group, and stored project collections, minus
// disabled_collections
func (s *Service) Targets(ctx context.Context) ([]string, error) {
	var names []string
	if len(s.cfg.ObsidianVaults) > 0 {
		names = append(names, indexer.ObsidianCollection)
	}
	names = append(names, s.cfg.CodeGroupNames()...)

	projects, err := s.store.ListCollectionsByType(ctx, types.CollectionProject)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if !slices.Contains(names, p.Name) {
			names = append(names, p.Name)
		}
	}

	names = slices.DeleteFunc(names, func(n string) bool { return !s.cfg.Enabled(n) })
	sort.Strings(names)
	return names, nil
}

// IndexAll indexes every target collection. Collections run concurrently
// up to the configured worker count. A fatal error cancels the remaining
// collections and is returned; other per-collection failures are reported
// in the result.
func (s *Service) IndexAll(ctx context.Context, opts indexer.RunOptions) (*IndexAllResult, error) {
	names, err := s.Targets(ctx)
	if err != nil {
		return nil, err
	}

	result := &IndexAllResult{
		Total:  &indexer.RunSummary{Collection: "all"},
		Failed: make(map[string]string),
	}
	if len(names) == 0 {
		s.logger.Warn().Msg("no collections configured")
		return result, nil
	}

	var mu sync.Mutex
	summaries := make(map[string]*indexer.RunSummary, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Workers, 1))
	for _, name := range names {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			runOpts := opts
			if opts.Progress != nil {
				runOpts.Progress = func(current, total int, label string) {
					opts.Progress(current, total, name+": "+label)
				}
			}

			summary, err := s.IndexCollection(gctx, name, runOpts)

			mu.Lock()
			defer mu.Unlock()
			if summary != nil {
				summaries[name] = summary
			}
			switch {
			case err == nil:
			case types.IsFatal(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				result.Failed[name] = err.Error()
				s.logger.Error().Err(err).Str("collection", name).Msg("collection failed")
			}
			return nil
		})
	}
	err = g.Wait()

	for _, name := range names {
		if sum, ok := summaries[name]; ok {
			result.Collections = append(result.Collections, sum)
			result.Total.Merge(sum)
		}
	}
	return result, err
}

// SearchOptions narrows a search
type SearchOptions struct {
	TopK    int
	Mode    searcher.SearchMode
	Filters types.SearchFilters
}

// Search embeds the query and runs a hybrid search. An unreachable embedding
// service is returned as a fatal error.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) (*searcher.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if opts.TopK <= 0 {
		opts.TopK = s.cfg.Search.TopK
	}
	if opts.Mode == "" {
		opts.Mode = searcher.SearchModeHybrid
	}

	req := searcher.Request{
		Text:    query,
		TopK:    opts.TopK,
		Mode:    opts.Mode,
		Filters: opts.Filters,
	}
	if opts.Mode != searcher.SearchModeKeyword {
		emb, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: query})
		if err != nil {
			if errors.Is(err, types.ErrEmbeddingUnavailable) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		req.Embedding = emb.Vector
	}

	return s.searcher.Search(ctx, req)
}

// ListCollections returns every stored collection with counts
func (s *Service) ListCollections(ctx context.Context) ([]storage.CollectionSummary, error) {
	return s.store.ListCollections(ctx)
}

// CollectionInfo describes one stored collection
func (s *Service) CollectionInfo(ctx context.Context, name string) (*storage.CollectionDetail, error) {
	info, err := s.store.CollectionInfo(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	return info, err
}

// DeleteCollection removes a collection with its sources, documents and
// vectors. It fails while the collection is being indexed.
func (s *Service) DeleteCollection(ctx context.Context, name string) error {
	if !s.locks.TryAcquire(name) {
		return fmt.Errorf("%s: %w", name, ErrIndexInProgress)
	}
	defer s.locks.Release(name)

	err := s.store.DeleteCollection(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	if err != nil {
		return err
	}
	s.searcher.InvalidateCache()
	s.logger.Info().Str("collection", name).Msg("collection deleted")
	return nil
}

// EmbeddingStatus reports the embedding provider and whether it answers
type EmbeddingStatus struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Status is the overview printed by `localrag status`
type Status struct {
	Index      *storage.Status `json:"index"`
	Embedding  EmbeddingStatus `json:"embedding"`
	Configured []string        `json:"configured_collections"`
	DBPath     string          `json:"db_path"`
}

// Status gathers index statistics and checks the embedding service
func (s *Service) Status(ctx context.Context) (*Status, error) {
	idx, err := s.store.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := s.Targets(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Index:      idx,
		Configured: targets,
		DBPath:     s.cfg.DBPath,
		Embedding: EmbeddingStatus{
			Provider:  s.embedder.Provider(),
			Model:     s.embedder.Model(),
			Dimension: s.embedder.Dimension(),
			Reachable: true,
		},
	}
	if p, ok := s.embedder.(embedder.Pinger); ok {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.Ping(pingCtx); err != nil {
			st.Embedding.Reachable = false
			st.Embedding.Error = err.Error()
		}
	}
	return st, nil
}

// WatchPaths returns the directories whose changes should re-index name
func (s *Service) WatchPaths(ctx context.Context, name string) ([]string, error) {
	if name == indexer.ObsidianCollection {
		if len(s.cfg.ObsidianVaults) == 0 {
			return nil, fmt.Errorf("%w: obsidian_vaults is not configured", types.ErrConfig)
		}
		return slices.Clone(s.cfg.ObsidianVaults), nil
	}
	if repos, ok := s.cfg.CodeGroups[name]; ok {
		return slices.Clone(repos), nil
	}
	coll, err := s.store.GetCollection(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return slices.Clone(coll.Paths), nil
}
