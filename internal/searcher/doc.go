// Package searcher implements hybrid retrieval over indexed documents,
// combining vector similarity and full-text matching.
//
// The searcher provides three search modes:
//   - Hybrid: vector + FTS5 lists fused with weighted RRF (default)
//   - Vector: embedding similarity only
//   - Keyword: FTS5 only, no embedding required
//
// # Basic Usage
//
//	s := searcher.New(store, searcher.DefaultConfig(), logger)
//
//	resp, err := s.Search(ctx, searcher.Request{
//	    Embedding: queryVector,
//	    Text:      "quarterly planning",
//	    TopK:      10,
//	    Filters:   types.SearchFilters{Collection: "obsidian"},
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.4f %s (%s)\n", r.Rank, r.Score, r.Title, r.SourcePath)
//	}
//
// # Candidates
//
// Both lists over-fetch TopK*3 candidates so filtering can still fill TopK.
// The lexical query quotes every whitespace token (see EscapeFTSQuery), and
// a query the FTS engine still rejects yields an empty lexical list rather
// than an error. Empty text skips the lexical list.
//
// # Filtering
//
// A candidate survives when it satisfies every set filter:
//   - Collection, SourceType: exact match
//   - Sender: case-insensitive substring of metadata "sender"
//   - Author: case-insensitive substring of metadata "authors", "author" or "author_name"
//   - DateFrom, DateTo: inclusive, compared as strings against metadata
//     "date" (or "author_date"); undated documents pass
//
// Each list stops at TopK survivors.
//
// # Reciprocal Rank Fusion
//
// The item at 0-based rank r of a list adds weight/(k+r+1) to its score:
//
//	score[d] = 0.7/(60+rv+1) + 0.3/(60+rt+1)
//
// Results are sorted by score, ties broken by document id, and cut to TopK.
//
// # Caching
//
// Responses are cached in an LRU keyed by the embedding, text, TopK, mode
// and filters, and expire after Config.CacheTTL. Index runs call
// InvalidateCache.
package searcher
