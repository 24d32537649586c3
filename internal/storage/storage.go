package storage

import (
	"context"
	"time"

	"github.com/dshills/localrag/pkg/types"
)

// Storage defines the interface for persisting and querying indexed documents
type Storage interface {
	// Collection operations
	GetOrCreateCollection(ctx context.Context, name string, ctype types.CollectionType, paths []string, opts ...CollectionOption) (*Collection, error)
	GetCollection(ctx context.Context, name string) (*Collection, error)
	ListCollections(ctx context.Context) ([]CollectionSummary, error)
	ListCollectionsByType(ctx context.Context, ctype types.CollectionType) ([]*Collection, error)
	CollectionInfo(ctx context.Context, name string) (*CollectionDetail, error)
	DeleteCollection(ctx context.Context, name string) error
	SetWatermarks(ctx context.Context, collectionID int64, marks Watermarks) error

	// Source operations
	GetSource(ctx context.Context, collectionID int64, sourcePath string) (*Source, error)
	UpsertSource(ctx context.Context, source *Source) error
	DeleteSource(ctx context.Context, sourceID int64) error
	DeleteSourcesByPrefix(ctx context.Context, collectionID int64, sourceType, prefix string) (int, error)
	ListSourcePaths(ctx context.Context, collectionID int64, sourceType string) ([]string, error)

	// Document operations
	InsertDocument(ctx context.Context, doc *Document, vector []float32) error
	DeleteDocumentsBySource(ctx context.Context, sourceID int64) error
	GetDocumentRecords(ctx context.Context, ids []int64) (map[int64]*DocumentRecord, error)

	// Search operations
	SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorResult, error)
	SearchText(ctx context.Context, ftsQuery string, limit int) ([]TextResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// DataVersion changes whenever another connection commits to the
	// database. Writes made through this handle do not change it.
	DataVersion(ctx context.Context) (int64, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Collection is a named grouping of sources
type Collection struct {
	ID          int64
	Name        string
	Type        types.CollectionType
	Description *string // Nullable; may hold a legacy watermark
	Paths       []string
	Watermarks  Watermarks
	CreatedAt   string
}

// Source is one indexable unit: a file, a commit, an email, a feed item
type Source struct {
	ID             int64
	CollectionID   int64
	SourceType     string
	SourcePath     string
	FileHash       *string // Nullable; change-detection fingerprint
	FileModifiedAt *string // Nullable; ISO timestamp
	LastIndexedAt  *string // Nullable; ISO timestamp
}

// Document is one retrievable chunk of a source
type Document struct {
	ID           int64
	SourceID     int64
	CollectionID int64
	ChunkIndex   int
	Title        string
	Content      string
	Metadata     map[string]any
	CreatedAt    string
}

// DocumentRecord is a document joined with its source and collection
type DocumentRecord struct {
	ID         int64
	Title      string
	Content    string
	Metadata   map[string]any
	Collection string
	SourcePath string
	SourceType string
}

// CollectionSummary is a collection row with aggregate counts
type CollectionSummary struct {
	Name          string `json:"name"`
	Type          string `json:"collection_type"`
	SourceCount   int    `json:"source_count"`
	ChunkCount    int    `json:"chunk_count"`
	LastIndexedAt string `json:"last_indexed,omitempty"`
}

// CollectionDetail is the full description of one collection
type CollectionDetail struct {
	Name          string         `json:"name"`
	Type          string         `json:"collection_type"`
	Description   string         `json:"description,omitempty"`
	Paths         []string       `json:"paths,omitempty"`
	CreatedAt     string         `json:"created_at"`
	SourceCount   int            `json:"source_count"`
	ChunkCount    int            `json:"chunk_count"`
	LastIndexedAt string         `json:"last_indexed,omitempty"`
	SourceTypes   map[string]int `json:"source_types"`
	SampleTitles  []string       `json:"sample_titles"`
	Watermarks    Watermarks     `json:"watermarks,omitempty"`
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	DocumentID int64
	Distance   float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	DocumentID int64
	Rank       float64 // FTS5 rank, lower is better
}

// Status contains statistics about the whole index
type Status struct {
	CollectionCount int       `json:"collection_count"`
	SourceCount     int       `json:"source_count"`
	ChunkCount      int       `json:"chunk_count"`
	VectorCount     int       `json:"vector_count"`
	DBSizeMB        float64   `json:"db_size_mb"`
	LastIndexedAt   string    `json:"last_indexed,omitempty"`
	SchemaVersion   string    `json:"schema_version"`
	BuildMode       string    `json:"build_mode"`
	CheckedAt       time.Time `json:"checked_at"`
}

// CollectionOption adjusts GetOrCreateCollection
type CollectionOption func(*collectionOptions)

type collectionOptions struct {
	description *string
}

// WithDescription stores a free-text description on the collection, both
// when it is created and when it already exists.
func WithDescription(description string) CollectionOption {
	return func(o *collectionOptions) { o.description = &description }
}
