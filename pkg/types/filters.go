package types

import (
	"fmt"
	"strings"
	"time"
)

// SearchFilters narrows a hybrid search. Zero values mean "no constraint".
type SearchFilters struct {
	Collection string `json:"collection,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	Sender     string `json:"sender,omitempty"`    // case-insensitive substring of metadata "sender"
	Author     string `json:"author,omitempty"`    // case-insensitive substring of any author
	DateFrom   string `json:"date_from,omitempty"` // YYYY-MM-DD, inclusive
	DateTo     string `json:"date_to,omitempty"`   // YYYY-MM-DD, inclusive
}

// IsEmpty reports whether no filter is set.
func (f SearchFilters) IsEmpty() bool {
	return f == SearchFilters{}
}

// Validate checks date formats and range ordering.
func (f SearchFilters) Validate() error {
	for _, d := range []string{f.DateFrom, f.DateTo} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDate, d)
		}
	}
	if f.DateFrom != "" && f.DateTo != "" && f.DateFrom > f.DateTo {
		return ErrInvalidRange
	}
	return nil
}

// String renders the active filters for logs.
func (f SearchFilters) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("collection", f.Collection)
	add("type", f.SourceType)
	add("sender", f.Sender)
	add("author", f.Author)
	add("from", f.DateFrom)
	add("to", f.DateTo)
	return strings.Join(parts, " ")
}
