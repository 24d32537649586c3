package types

import "errors"

var (
	// ErrConfig marks missing or invalid configuration. Fatal, reported before work starts.
	ErrConfig = errors.New("configuration error")

	// ErrEmbeddingUnavailable marks an embedding service that refused the connection.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrSourceBusy marks an external store or database that stayed locked after retries.
	ErrSourceBusy = errors.New("source busy")

	// ErrCollectionNotFound is returned when a named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// Search result errors
	ErrInvalidDocumentID = errors.New("invalid document ID")
	ErrInvalidRank       = errors.New("rank must be >= 1")
	ErrInvalidScore      = errors.New("score must be >= 0")
	ErrEmptyContent      = errors.New("content cannot be empty")

	// Filter errors
	ErrInvalidDate  = errors.New("date must be YYYY-MM-DD")
	ErrInvalidRange = errors.New("date_from is after date_to")
)

// IsFatal reports whether err aborts the whole operation rather than a single unit.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrEmbeddingUnavailable)
}
