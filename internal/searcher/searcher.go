package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/localrag/internal/storage"
	"github.com/dshills/localrag/pkg/types"
)

const (
	DefaultTopK         = 10
	MaxTopK             = 100
	DefaultRRFK         = 60
	DefaultVectorWeight = 0.7
	DefaultFTSWeight    = 0.3
	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheSize    = 1000

	// overFetch candidates are read per list so filtering can still fill topK
	overFetch = 3
)

// SearchMode defines how search is performed
type SearchMode string

const (
	SearchModeHybrid  SearchMode = "hybrid"  // Vector + FTS with weighted RRF
	SearchModeVector  SearchMode = "vector"  // Vector similarity only
	SearchModeKeyword SearchMode = "keyword" // FTS only
)

// Config holds the fusion parameters and cache policy
type Config struct {
	RRFK         float64
	VectorWeight float64
	FTSWeight    float64
	// CacheTTL is how long responses stay cached; negative disables caching
	CacheTTL  time.Duration
	CacheSize int
}

// DefaultConfig returns the standard fusion parameters
func DefaultConfig() Config {
	return Config{
		RRFK:         DefaultRRFK,
		VectorWeight: DefaultVectorWeight,
		FTSWeight:    DefaultFTSWeight,
		CacheTTL:     DefaultCacheTTL,
		CacheSize:    DefaultCacheSize,
	}
}

// Request contains parameters for a search operation
type Request struct {
	// Embedding is the query vector; required unless Mode is keyword
	Embedding []float32
	// Text feeds the lexical list; empty text means no lexical candidates
	Text    string
	TopK    int
	Mode    SearchMode
	Filters types.SearchFilters
}

// Response contains search results and metadata
type Response struct {
	Results []types.SearchResult
	Mode    SearchMode
	// VectorResults and TextResults count the candidates that passed filtering
	VectorResults int
	TextResults   int
	Duration      time.Duration
	CacheHit      bool
}

// cacheEntry represents a cached search response with expiration time.
// version is the storage data version the response was read at.
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
	version   int64
}

// Searcher runs hybrid retrieval over the document store
type Searcher struct {
	storage storage.Storage
	cfg     Config
	logger  zerolog.Logger
	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// New creates a new Searcher instance. Zero config fields take defaults.
func New(store storage.Storage, cfg Config, logger zerolog.Logger) *Searcher {
	def := DefaultConfig()
	if cfg.RRFK <= 0 {
		cfg.RRFK = def.RRFK
	}
	if cfg.VectorWeight == 0 && cfg.FTSWeight == 0 {
		cfg.VectorWeight, cfg.FTSWeight = def.VectorWeight, def.FTSWeight
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		storage: store,
		cfg:     cfg,
		logger:  logger,
		cache:   cache,
	}
}

// Config returns the effective configuration
func (s *Searcher) Config() Config {
	return s.cfg
}

// Search gathers vector and lexical candidates, filters them, fuses the two
// rankings with weighted RRF and returns the hydrated top results.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	key := computeQueryHash(req)
	version, cacheable := s.dataVersion(ctx)
	if cacheable {
		if cached := s.checkCache(key, version); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	vectorIDs, textIDs, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(vectorIDs)+len(textIDs))
	ids = append(ids, vectorIDs...)
	ids = append(ids, textIDs...)
	records, err := s.storage.GetDocumentRecords(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate candidates: %w", err)
	}

	vectorIDs = filterCandidates(vectorIDs, records, req.Filters, req.TopK)
	textIDs = filterCandidates(textIDs, records, req.Filters, req.TopK)

	ranked := applyRRF(vectorIDs, textIDs, s.cfg)
	if len(ranked) > req.TopK {
		ranked = ranked[:req.TopK]
	}

	results := make([]types.SearchResult, 0, len(ranked))
	for _, rr := range ranked {
		rec, ok := records[rr.documentID]
		if !ok {
			continue
		}
		results = append(results, types.SearchResult{
			DocumentID: rec.ID,
			Rank:       len(results) + 1,
			Score:      rr.score,
			Title:      rec.Title,
			Content:    rec.Content,
			Metadata:   rec.Metadata,
			Collection: rec.Collection,
			SourcePath: rec.SourcePath,
			SourceType: rec.SourceType,
		})
	}

	response := &Response{
		Results:       results,
		Mode:          req.Mode,
		VectorResults: len(vectorIDs),
		TextResults:   len(textIDs),
		Duration:      time.Since(startTime),
	}

	s.logger.Debug().
		Str("mode", string(req.Mode)).
		Str("filters", req.Filters.String()).
		Int("vector", response.VectorResults).
		Int("text", response.TextResults).
		Int("results", len(results)).
		Dur("elapsed", response.Duration).
		Msg("search")

	if cacheable && len(results) > 0 {
		s.storeInCache(key, version, response)
	}
	return response, nil
}

// candidates reads both candidate lists concurrently. A lexical query the
// FTS engine rejects yields no lexical candidates instead of an error.
func (s *Searcher) candidates(ctx context.Context, req Request) ([]int64, []int64, error) {
	limit := req.TopK * overFetch
	var vectorIDs, textIDs []int64

	g, gctx := errgroup.WithContext(ctx)
	if req.Mode != SearchModeKeyword {
		g.Go(func() error {
			res, err := s.storage.SearchVector(gctx, req.Embedding, limit)
			if err != nil {
				return fmt.Errorf("vector search failed: %w", err)
			}
			vectorIDs = make([]int64, len(res))
			for i, r := range res {
				vectorIDs[i] = r.DocumentID
			}
			return nil
		})
	}
	if query := EscapeFTSQuery(req.Text); query != "" && req.Mode != SearchModeVector {
		g.Go(func() error {
			res, err := s.storage.SearchText(gctx, query, limit)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn().Err(err).Str("query", query).Msg("full-text query failed")
				return nil
			}
			textIDs = make([]int64, len(res))
			for i, r := range res {
				textIDs[i] = r.DocumentID
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vectorIDs, textIDs, nil
}

// EscapeFTSQuery turns free text into an FTS5 query where every whitespace
// separated token is a quoted literal, so operators and punctuation in the
// input cannot form query syntax
func EscapeFTSQuery(text string) string {
	tokens := strings.Fields(text)
	for i, t := range tokens {
		tokens[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(tokens, " ")
}

// filterCandidates keeps ids whose records satisfy f, in order, stopping at
// limit survivors
func filterCandidates(ids []int64, records map[int64]*storage.DocumentRecord, f types.SearchFilters, limit int) []int64 {
	out := make([]int64, 0, min(len(ids), limit))
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		rec, ok := records[id]
		if !ok || !Matches(rec, f) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Matches reports whether a document satisfies every set filter
func Matches(rec *storage.DocumentRecord, f types.SearchFilters) bool {
	if f.Collection != "" && rec.Collection != f.Collection {
		return false
	}
	if f.SourceType != "" && rec.SourceType != f.SourceType {
		return false
	}
	if f.Sender != "" && !containsFold(metaString(rec.Metadata, "sender"), f.Sender) {
		return false
	}
	if f.Author != "" && !matchesAuthor(rec.Metadata, f.Author) {
		return false
	}
	if f.DateFrom != "" || f.DateTo != "" {
		date := metaString(rec.Metadata, "date")
		if date == "" {
			date = metaString(rec.Metadata, "author_date")
		}
		if date != "" {
			if f.DateFrom != "" && truncate(date, len(f.DateFrom)) < f.DateFrom {
				return false
			}
			if f.DateTo != "" && truncate(date, len(f.DateTo)) > f.DateTo {
				return false
			}
		}
	}
	return true
}

func matchesAuthor(meta map[string]any, author string) bool {
	switch list := meta["authors"].(type) {
	case []any:
		for _, a := range list {
			if s, ok := a.(string); ok && containsFold(s, author) {
				return true
			}
		}
	case []string:
		for _, a := range list {
			if containsFold(a, author) {
				return true
			}
		}
	}
	for _, key := range []string{"author", "author_name"} {
		if containsFold(metaString(meta, key), author) {
			return true
		}
	}
	return false
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func containsFold(s, substr string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// truncate cuts an ISO timestamp to the precision of the bound it is
// compared with, so a YYYY-MM-DD bound includes the whole day
func truncate(date string, n int) string {
	if len(date) > n {
		return date[:n]
	}
	return date
}

// rankedResult represents a document with its fused score
type rankedResult struct {
	documentID int64
	score      float64
}

// applyRRF fuses two rankings. The item at 0-based rank r of a list adds
// weight/(k+r+1) to its document's score.
func applyRRF(vectorIDs, textIDs []int64, cfg Config) []rankedResult {
	scores := make(map[int64]float64, len(vectorIDs)+len(textIDs))
	for r, id := range vectorIDs {
		scores[id] += cfg.VectorWeight / (cfg.RRFK + float64(r) + 1)
	}
	for r, id := range textIDs {
		scores[id] += cfg.FTSWeight / (cfg.RRFK + float64(r) + 1)
	}

	results := make([]rankedResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, rankedResult{documentID: id, score: score})
	}
	sortRankedResults(results)
	return results
}

// sortRankedResults sorts by score descending, then by document id
func sortRankedResults(results []rankedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].documentID < results[j].documentID
	})
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *Request) error {
	if req.Mode == "" {
		req.Mode = SearchModeHybrid // Default mode
	}
	switch req.Mode {
	case SearchModeHybrid, SearchModeVector:
		if len(req.Embedding) == 0 {
			return errors.New("query embedding is required")
		}
	case SearchModeKeyword:
		if strings.TrimSpace(req.Text) == "" {
			return errors.New("query cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported search mode: %s", req.Mode)
	}

	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}
	return req.Filters.Validate()
}

// dataVersion reads the storage data version. The cache is skipped when it
// is disabled or the version cannot be read, since another process may have
// written to the database.
func (s *Searcher) dataVersion(ctx context.Context) (int64, bool) {
	if s.cfg.CacheTTL < 0 {
		return 0, false
	}
	v, err := s.storage.DataVersion(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bypassing search cache")
		return 0, false
	}
	return v, true
}

// checkCache returns a copy of a live cached response read at version, or nil
func (s *Searcher) checkCache(key [32]byte, version int64) *Response {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}

	if now.After(entry.expiresAt) || entry.version != version {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil
	}

	response := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

// storeInCache saves a copy of response
func (s *Searcher) storeInCache(key [32]byte, version int64, response *Response) {
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(s.cfg.CacheTTL),
		version:   version,
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// copyResponse copies the result slice and each result's metadata map
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, r := range src.Results {
		r.Metadata = maps.Clone(r.Metadata)
		dst.Results[i] = r
	}
	return &dst
}

// computeQueryHash hashes everything that determines a response
func computeQueryHash(req Request) [32]byte {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, v := range req.Embedding {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		h.Write(buf)
	}
	fmt.Fprintf(h, "|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		req.Text, req.TopK, req.Mode,
		req.Filters.Collection, req.Filters.SourceType, req.Filters.Sender,
		req.Filters.Author, req.Filters.DateFrom, req.Filters.DateTo)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// InvalidateCache drops every cached response. Index runs call it since
// any change can alter rankings.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
