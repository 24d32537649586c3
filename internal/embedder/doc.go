// Package embedder turns text into dense vectors.
//
// Three providers are available through New:
//
//   - ollama: POST {base_url}/api/embed against a local Ollama server (default, bge-m3)
//   - openai: any OpenAI-compatible embeddings endpoint via openai-go
//   - hash: deterministic feature hashing, for offline use and tests
//
// Batch calls are rate limited and retried with exponential backoff. A
// refused connection is not retried; it is reported as ErrConnectionRefused,
// which matches types.ErrEmbeddingUnavailable so callers can abort a run
// instead of counting the failure against a single unit.
//
// Vectors are cached in an LRU keyed by model and text. A batch call sends
// only the cache misses to the provider. Texts longer than 90% of the
// model context window, counted in words, are rejected with ErrInputTooLong
// before any request is made.
//
//	emb, err := embedder.New(embedder.Config{Provider: "ollama", Dimension: 1024})
//	if err != nil {
//	    return err
//	}
//	vectors, err := embedder.EmbedTexts(ctx, emb, texts, 32, logger)
package embedder
