package searcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dshills/localrag/internal/embedder"
	"github.com/dshills/localrag/internal/storage"
	"github.com/dshills/localrag/pkg/types"
)

const benchDim = 64

var benchTopics = []string{
	"order service business logic",
	"user repository interface",
	"weekly planning review notes",
	"invoice email from accounting",
	"goroutine leak in the scheduler",
}

// setupSearchBenchmark stores n documents embedded with the hashing embedder
func setupSearchBenchmark(b *testing.B, n int) (*Searcher, *embedder.HashProvider) {
	b.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", storage.WithDimension(benchDim))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })

	emb := embedder.NewHashProvider(benchDim, nil)
	ctx := context.Background()
	coll, err := store.GetOrCreateCollection(ctx, "bench", types.CollectionProject, nil)
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < n; i++ {
		text := fmt.Sprintf("%s document %d", benchTopics[i%len(benchTopics)], i)
		src := &storage.Source{CollectionID: coll.ID, SourceType: types.SourceMarkdown, SourcePath: fmt.Sprintf("/bench/%d.md", i)}
		if err := store.UpsertSource(ctx, src); err != nil {
			b.Fatal(err)
		}
		e, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			b.Fatal(err)
		}
		doc := &storage.Document{SourceID: src.ID, CollectionID: coll.ID, Title: src.SourcePath, Content: text}
		if err := store.InsertDocument(ctx, doc, e.Vector); err != nil {
			b.Fatal(err)
		}
	}

	cfg := DefaultConfig()
	cfg.CacheTTL = -1
	return New(store, cfg, zerolog.Nop()), emb
}

func benchmarkMode(b *testing.B, mode SearchMode) {
	s, emb := setupSearchBenchmark(b, 500)
	query := "scheduler goroutine leak"
	e, err := emb.GenerateEmbedding(context.Background(), embedder.EmbeddingRequest{Text: query})
	if err != nil {
		b.Fatal(err)
	}
	req := Request{Embedding: e.Vector, Text: query, TopK: 10, Mode: mode}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkHybridSearch benchmarks full hybrid search (vector + FTS + RRF)
func BenchmarkHybridSearch(b *testing.B) { benchmarkMode(b, SearchModeHybrid) }

// BenchmarkVectorSearch benchmarks vector similarity search only
func BenchmarkVectorSearch(b *testing.B) { benchmarkMode(b, SearchModeVector) }

// BenchmarkKeywordSearch benchmarks FTS search only
func BenchmarkKeywordSearch(b *testing.B) { benchmarkMode(b, SearchModeKeyword) }

// BenchmarkApplyRRF benchmarks fusion of two full candidate lists
func BenchmarkApplyRRF(b *testing.B) {
	vec := make([]int64, 300)
	txt := make([]int64, 300)
	for i := range vec {
		vec[i] = int64(i)
		txt[i] = int64(300 - i)
	}
	cfg := DefaultConfig()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = applyRRF(vec, txt, cfg)
	}
}
