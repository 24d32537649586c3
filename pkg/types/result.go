package types

// SearchResult represents a single hydrated search hit
type SearchResult struct {
	// Identification
	DocumentID int64 `json:"document_id"`
	Rank       int   `json:"rank"` // Position in result set (1-based)

	// Scoring
	Score float64 `json:"score"` // Weighted RRF sum

	// Content
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Provenance
	Collection string `json:"collection"`
	SourcePath string `json:"source_path"`
	SourceType string `json:"source_type"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.DocumentID == 0 {
		return ErrInvalidDocumentID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < 0 {
		return ErrInvalidScore
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
