package searcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/localrag/internal/storage"
	"github.com/dshills/localrag/pkg/types"
)

const testDim = 4

// setupTestSearcher creates a searcher over an in-memory store
func setupTestSearcher(t *testing.T) (*Searcher, storage.Storage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", storage.WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return New(store, DefaultConfig(), zerolog.Nop()), store
}

// addDocument stores a one-chunk source and returns the document id
func addDocument(t *testing.T, store storage.Storage, collection, sourceType, title, content string, meta map[string]any, vec []float32) int64 {
	t.Helper()
	ctx := context.Background()

	coll, err := store.GetOrCreateCollection(ctx, collection, types.CollectionSystem, nil)
	require.NoError(t, err)

	src := &storage.Source{CollectionID: coll.ID, SourceType: sourceType, SourcePath: "/" + collection + "/" + title}
	require.NoError(t, store.UpsertSource(ctx, src))

	doc := &storage.Document{
		SourceID:     src.ID,
		CollectionID: coll.ID,
		Title:        title,
		Content:      content,
		Metadata:     meta,
	}
	require.NoError(t, store.InsertDocument(ctx, doc, vec))
	return doc.ID
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, Config{}, zerolog.Nop())
	cfg := s.Config()

	assert.Equal(t, float64(DefaultRRFK), cfg.RRFK)
	assert.Equal(t, DefaultVectorWeight, cfg.VectorWeight)
	assert.Equal(t, DefaultFTSWeight, cfg.FTSWeight)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Equal(t, DefaultCacheSize, cfg.CacheSize)
}

func TestEscapeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"hello world", `"hello" "world"`},
		{"C++ AND (x OR y)", `"C++" "AND" "(x" "OR" "y)"`},
		{`say "hi"`, `"say" """hi"""`},
		{"col:value*", `"col:value*"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeFTSQuery(tt.in))
		})
	}
}

func TestApplyRRF_WeightedArithmetic(t *testing.T) {
	const a, b, c = 1, 2, 3
	cfg := DefaultConfig()

	results := applyRRF([]int64{a, b, c}, []int64{b, a}, cfg)
	require.Len(t, results, 3)

	scores := map[int64]float64{}
	for _, r := range results {
		scores[r.documentID] = r.score
	}
	assert.InDelta(t, 0.7/61+0.3/62, scores[a], 1e-12)
	assert.InDelta(t, 0.7/62+0.3/61, scores[b], 1e-12)
	assert.InDelta(t, 0.7/63, scores[c], 1e-12)

	// 0.7/61 + 0.3/62 > 0.3/61 + 0.7/62, so A stays ahead of B
	assert.Equal(t, int64(a), results[0].documentID)
	assert.Equal(t, int64(b), results[1].documentID)
	assert.Equal(t, int64(c), results[2].documentID)
}

func TestApplyRRF_LexicalWeightDominates(t *testing.T) {
	cfg := Config{RRFK: 60, VectorWeight: 0.3, FTSWeight: 0.7}

	results := applyRRF([]int64{1, 2}, []int64{2, 1}, cfg)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].documentID)
}

func TestApplyRRF_TieBreakByID(t *testing.T) {
	cfg := Config{RRFK: 60, VectorWeight: 0.5, FTSWeight: 0.5}

	results := applyRRF([]int64{9}, []int64{4}, cfg)
	require.Len(t, results, 2)
	assert.Equal(t, results[0].score, results[1].score)
	assert.Equal(t, int64(4), results[0].documentID)
}

func TestApplyRRF_Empty(t *testing.T) {
	assert.Empty(t, applyRRF(nil, nil, DefaultConfig()))
}

func TestMatches(t *testing.T) {
	email := &storage.DocumentRecord{
		Collection: "email",
		SourceType: "email",
		Metadata:   map[string]any{"sender": "Alice@x.com", "date": "2024-03-05"},
	}
	book := &storage.DocumentRecord{
		Collection: "calibre",
		SourceType: "calibre",
		Metadata:   map[string]any{"authors": []any{"Ursula K. Le Guin"}},
	}
	commit := &storage.DocumentRecord{
		Collection: "work",
		SourceType: types.SourceCommit,
		Metadata:   map[string]any{"author_name": "Ada Lovelace", "author_date": "2024-05-01T10:00:00+02:00"},
	}
	undated := &storage.DocumentRecord{Collection: "notes", SourceType: "markdown", Metadata: map[string]any{}}

	tests := []struct {
		name    string
		rec     *storage.DocumentRecord
		filters types.SearchFilters
		want    bool
	}{
		{"no filters", email, types.SearchFilters{}, true},
		{"collection match", email, types.SearchFilters{Collection: "email"}, true},
		{"collection mismatch", email, types.SearchFilters{Collection: "emails"}, false},
		{"source type mismatch", email, types.SearchFilters{SourceType: "rss"}, false},
		{"sender case-insensitive", email, types.SearchFilters{Sender: "alice"}, true},
		{"sender excluded", email, types.SearchFilters{Sender: "bob"}, false},
		{"sender missing", book, types.SearchFilters{Sender: "alice"}, false},
		{"author list", book, types.SearchFilters{Author: "le guin"}, true},
		{"author list mismatch", book, types.SearchFilters{Author: "tolkien"}, false},
		{"author name", commit, types.SearchFilters{Author: "ada"}, true},
		{"date inside", email, types.SearchFilters{DateFrom: "2024-03-01", DateTo: "2024-03-31"}, true},
		{"date bounds inclusive", email, types.SearchFilters{DateFrom: "2024-03-05", DateTo: "2024-03-05"}, true},
		{"date before range", email, types.SearchFilters{DateFrom: "2024-04-01"}, false},
		{"date after range", email, types.SearchFilters{DateTo: "2024-03-04"}, false},
		{"author date same day", commit, types.SearchFilters{DateTo: "2024-05-01"}, true},
		{"author date excluded", commit, types.SearchFilters{DateFrom: "2024-05-02"}, false},
		{"undated passes", undated, types.SearchFilters{DateFrom: "2030-01-01"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.rec, tt.filters))
		})
	}
}

func TestFilterCandidates_StopsAtLimit(t *testing.T) {
	records := map[int64]*storage.DocumentRecord{}
	for id := int64(1); id <= 6; id++ {
		coll := "a"
		if id%2 == 0 {
			coll = "b"
		}
		records[id] = &storage.DocumentRecord{ID: id, Collection: coll}
	}

	got := filterCandidates([]int64{1, 2, 3, 4, 5, 6, 99}, records, types.SearchFilters{Collection: "b"}, 2)
	assert.Equal(t, []int64{2, 4}, got)

	got = filterCandidates([]int64{1, 2, 3}, records, types.SearchFilters{}, 10)
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestValidateRequest(t *testing.T) {
	s := New(nil, DefaultConfig(), zerolog.Nop())
	vec := []float32{1, 0, 0, 0}

	tests := []struct {
		name    string
		req     Request
		wantErr bool
		check   func(t *testing.T, req Request)
	}{
		{
			name: "defaults applied",
			req:  Request{Embedding: vec},
			check: func(t *testing.T, req Request) {
				assert.Equal(t, SearchModeHybrid, req.Mode)
				assert.Equal(t, DefaultTopK, req.TopK)
			},
		},
		{
			name: "top k capped",
			req:  Request{Embedding: vec, TopK: 1000},
			check: func(t *testing.T, req Request) {
				assert.Equal(t, MaxTopK, req.TopK)
			},
		},
		{name: "hybrid needs embedding", req: Request{Text: "x"}, wantErr: true},
		{name: "keyword needs text", req: Request{Mode: SearchModeKeyword}, wantErr: true},
		{name: "keyword without embedding", req: Request{Mode: SearchModeKeyword, Text: "x"}},
		{name: "unknown mode", req: Request{Embedding: vec, Mode: "fuzzy"}, wantErr: true},
		{name: "bad date", req: Request{Embedding: vec, Filters: types.SearchFilters{DateFrom: "March"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := s.validateRequest(&req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, req)
			}
		})
	}
}

func TestComputeQueryHash(t *testing.T) {
	base := Request{Embedding: []float32{1, 2}, Text: "q", TopK: 5, Mode: SearchModeHybrid}

	same := base
	assert.Equal(t, computeQueryHash(base), computeQueryHash(same))

	variants := []Request{
		{Embedding: []float32{1, 3}, Text: "q", TopK: 5, Mode: SearchModeHybrid},
		{Embedding: []float32{1, 2}, Text: "r", TopK: 5, Mode: SearchModeHybrid},
		{Embedding: []float32{1, 2}, Text: "q", TopK: 6, Mode: SearchModeHybrid},
		{Embedding: []float32{1, 2}, Text: "q", TopK: 5, Mode: SearchModeVector},
		{Embedding: []float32{1, 2}, Text: "q", TopK: 5, Mode: SearchModeHybrid, Filters: types.SearchFilters{Sender: "x"}},
	}
	for i, v := range variants {
		assert.NotEqual(t, computeQueryHash(base), computeQueryHash(v), "variant %d", i)
	}
}

func TestSearch_Hybrid(t *testing.T) {
	s, store := setupTestSearcher(t)
	ctx := context.Background()

	golang := addDocument(t, store, "notes", "markdown", "go", "goroutines and channels", nil, []float32{1, 0, 0, 0})
	python := addDocument(t, store, "notes", "markdown", "py", "asyncio event loop", nil, []float32{0, 1, 0, 0})
	addDocument(t, store, "notes", "markdown", "rust", "ownership and borrowing", nil, []float32{0, 0, 1, 0})

	resp, err := s.Search(ctx, Request{Embedding: []float32{0.9, 0.1, 0, 0}, Text: "asyncio", TopK: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, 2, resp.VectorResults, "vector list is cut at topK")
	assert.Equal(t, 1, resp.TextResults)

	ids := []int64{resp.Results[0].DocumentID, resp.Results[1].DocumentID}
	assert.ElementsMatch(t, []int64{golang, python}, ids)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, "notes", r.Collection)
		assert.Equal(t, "markdown", r.SourceType)
		assert.NotEmpty(t, r.Content)
		assert.NoError(t, r.Validate())
	}
	// python is first in the lexical list and second in the vector list
	assert.Equal(t, python, resp.Results[0].DocumentID)
}

func TestSearch_FiltersAndEmptyText(t *testing.T) {
	s, store := setupTestSearcher(t)
	ctx := context.Background()

	addDocument(t, store, "notes", "markdown", "a", "alpha", nil, []float32{1, 0, 0, 0})
	mail := addDocument(t, store, "email", "email", "b", "beta", map[string]any{"sender": "Alice@x.com"}, []float32{0.8, 0.2, 0, 0})

	resp, err := s.Search(ctx, Request{
		Embedding: []float32{1, 0, 0, 0},
		TopK:      5,
		Filters:   types.SearchFilters{Sender: "alice"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, mail, resp.Results[0].DocumentID)
	assert.Equal(t, 0, resp.TextResults, "no text means no lexical list")

	resp, err = s.Search(ctx, Request{
		Embedding: []float32{1, 0, 0, 0},
		Filters:   types.SearchFilters{Sender: "bob"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_KeywordMode(t *testing.T) {
	s, store := setupTestSearcher(t)

	id := addDocument(t, store, "notes", "markdown", "cfg", "viper reads toml files", nil, []float32{0, 0, 0, 1})
	addDocument(t, store, "notes", "markdown", "other", "unrelated", nil, []float32{1, 0, 0, 0})

	resp, err := s.Search(context.Background(), Request{Mode: SearchModeKeyword, Text: "toml"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, id, resp.Results[0].DocumentID)
	assert.Equal(t, 0, resp.VectorResults)
}

func TestSearch_SpecialCharactersAreLiteral(t *testing.T) {
	s, store := setupTestSearcher(t)
	addDocument(t, store, "notes", "markdown", "a", "alpha", nil, []float32{1, 0, 0, 0})

	for _, q := range []string{`"unbalanced`, "AND OR NOT", "col:x*", "(a", "-minus"} {
		resp, err := s.Search(context.Background(), Request{Embedding: []float32{1, 0, 0, 0}, Text: q})
		require.NoError(t, err, q)
		assert.Len(t, resp.Results, 1, q)
	}
}

func TestSearch_Cache(t *testing.T) {
	s, store := setupTestSearcher(t)
	ctx := context.Background()
	addDocument(t, store, "notes", "markdown", "a", "alpha", map[string]any{"k": "v"}, []float32{1, 0, 0, 0})

	req := Request{Embedding: []float32{1, 0, 0, 0}, Text: "alpha"}
	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())

	first.Results[0].Metadata["k"] = "mutated"

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "v", second.Results[0].Metadata["k"], "cached copy is isolated")

	s.InvalidateCache()
	assert.Equal(t, 0, s.CacheLen())

	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
}

func TestSearch_CacheSeesOtherProcessWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.db")
	ctx := context.Background()

	reader, err := storage.NewSQLiteStorage(path, storage.WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })
	writer, err := storage.NewSQLiteStorage(path, storage.WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })

	s := New(reader, DefaultConfig(), zerolog.Nop())
	addDocument(t, writer, "notes", "markdown", "a", "alpha release", nil, []float32{1, 0, 0, 0})

	req := Request{Embedding: []float32{1, 0, 0, 0}, Text: "alpha", Mode: SearchModeKeyword}
	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	cached, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)

	addDocument(t, writer, "notes", "markdown", "b", "alpha planning", nil, []float32{0, 1, 0, 0})

	fresh, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, fresh.CacheHit)
	assert.Len(t, fresh.Results, 2)
}

func TestSearch_CacheExpiry(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:", storage.WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	addDocument(t, store, "notes", "markdown", "a", "alpha", nil, []float32{1, 0, 0, 0})

	cfg := DefaultConfig()
	cfg.CacheTTL = time.Millisecond
	s := New(store, cfg, zerolog.Nop())

	req := Request{Embedding: []float32{1, 0, 0, 0}}
	_, err = s.Search(context.Background(), req)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	resp, err := s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
}

func TestSearch_CacheDisabled(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:", storage.WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	addDocument(t, store, "notes", "markdown", "a", "alpha", nil, []float32{1, 0, 0, 0})

	cfg := DefaultConfig()
	cfg.CacheTTL = -1
	s := New(store, cfg, zerolog.Nop())

	req := Request{Embedding: []float32{1, 0, 0, 0}}
	_, err = s.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, s.CacheLen())
}

func TestSearch_ContextCancelled(t *testing.T) {
	s, store := setupTestSearcher(t)
	addDocument(t, store, "notes", "markdown", "a", "alpha", nil, []float32{1, 0, 0, 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Search(ctx, Request{Embedding: []float32{1, 0, 0, 0}, Text: "alpha"})
	assert.Error(t, err)
}
