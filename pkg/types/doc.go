// Package types provides shared type definitions for localrag.
//
// The types here cross package boundaries: search results returned by the
// searcher and the service layer, the filters a caller can apply to a query,
// the collection kinds stored in the database, and the error taxonomy used to
// tell fatal failures apart from per-unit indexing errors.
//
// # Search Results
//
// SearchResult carries a hydrated document chunk together with its fused
// score:
//
//	result := types.SearchResult{
//	    DocumentID: 42,
//	    Title:      "notes/standup.md",
//	    Content:    chunkText,
//	    Collection: "obsidian",
//	    SourceType: "markdown",
//	    Score:      0.0115,
//	}
//
// Scores are Reciprocal Rank Fusion sums and are only comparable within a
// single result set.
//
// # Errors
//
// IsFatal reports whether an error should stop an operation outright
// (configuration problems, embedding service unreachable) rather than being
// counted against a single unit:
//
//	if types.IsFatal(err) {
//	    return err
//	}
package types
