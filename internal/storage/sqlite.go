package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/localrag/pkg/types"
)

// DefaultDimension is the embedding width of the default model (bge-m3).
const DefaultDimension = 1024

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector does not match the table width
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db        *sql.DB
	path      string
	dimension int
	retry     RetryConfig
	logger    zerolog.Logger
}

// Option configures a SQLiteStorage
type Option func(*SQLiteStorage)

// WithDimension sets the vector width used when the vector table is created.
func WithDimension(dim int) Option {
	return func(s *SQLiteStorage) {
		if dim > 0 {
			s.dimension = dim
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *SQLiteStorage) { s.logger = logger }
}

// WithBusyRetry sets the busy-retry policy for reads
func WithBusyRetry(cfg RetryConfig) Option {
	return func(s *SQLiteStorage) { s.retry = cfg }
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Single writer; every caller shares one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// NewSQLiteStorage opens (or creates) the database and brings its schema up to date
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	s := &SQLiteStorage{
		path:      dbPath,
		dimension: DefaultDimension,
		retry:     DefaultRetryConfig(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if err := s.Init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Init applies pending migrations and creates the vector table. It never
// drops existing data.
func (s *SQLiteStorage) Init(ctx context.Context) error {
	if err := ApplyMigrations(ctx, s.db); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := ensureVectorTable(ctx, s.db, s.dimension); err != nil {
		return err
	}
	s.logger.Debug().
		Str("path", s.path).
		Str("schema_version", CurrentSchemaVersion).
		Int("dimension", s.dimension).
		Str("build_mode", BuildMode).
		Msg("database initialized")
	return nil
}

// Dimension returns the configured vector width
func (s *SQLiteStorage) Dimension() int {
	return s.dimension
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// withTx runs fn inside a transaction that commits only if fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// read wraps a non-transactional read in the busy-retry policy
func read[T any](ctx context.Context, s *SQLiteStorage, fn func() (T, error)) (T, error) {
	return retryBusy(ctx, s.retry, fn)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Collection operations

const collectionColumns = `id, name, collection_type, description, paths, watermark, created_at`

func (s *SQLiteStorage) scanCollection(row interface{ Scan(...any) error }) (*Collection, error) {
	var c Collection
	var ctype string
	var description, paths, watermark, createdAt sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &ctype, &description, &paths, &watermark, &createdAt); err != nil {
		return nil, err
	}
	c.Type = types.CollectionType(ctype)
	if description.Valid {
		d := description.String
		c.Description = &d
	}
	if paths.Valid && paths.String != "" {
		if err := json.Unmarshal([]byte(paths.String), &c.Paths); err != nil {
			return nil, fmt.Errorf("invalid paths for collection %s: %w", c.Name, err)
		}
	}
	var origin watermarkOrigin
	c.Watermarks, origin = decodeWatermarks(watermark, description)
	switch origin {
	case originLegacy:
		s.logger.Warn().Str("collection", c.Name).
			Msg("watermark read from legacy description; it moves to the watermark column on the next index run")
	case originCorrupt:
		s.logger.Warn().Str("collection", c.Name).Str("watermark", watermark.String).
			Msg("watermark column is not a JSON object; incremental sources will re-index from scratch")
	}
	c.CreatedAt = createdAt.String
	return &c, nil
}

func encodePaths(paths []string) interface{} {
	if len(paths) == 0 {
		return nil
	}
	data, _ := json.Marshal(paths)
	return string(data)
}

// getOrCreateCollectionWithQuerier inserts the collection if missing and
// refreshes its stored paths when new ones are given
func (s *SQLiteStorage) getOrCreateCollectionWithQuerier(ctx context.Context, q querier, name string, ctype types.CollectionType, paths []string, opts ...CollectionOption) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: collection name is required", types.ErrConfig)
	}
	if !ctype.Valid() {
		return nil, fmt.Errorf("%w: invalid collection type %q", types.ErrConfig, ctype)
	}

	var o collectionOptions
	for _, opt := range opts {
		opt(&o)
	}
	var description interface{}
	if o.description != nil {
		description = *o.description
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO collections (name, collection_type, description, paths) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, string(ctype), description, encodePaths(paths))
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info().Str("collection", name).Str("type", string(ctype)).Msg("created collection")
	} else if len(paths) > 0 {
		if _, err := q.ExecContext(ctx, "UPDATE collections SET paths = ? WHERE name = ?", encodePaths(paths), name); err != nil {
			return nil, fmt.Errorf("failed to update collection paths: %w", err)
		}
	}
	if n, _ := res.RowsAffected(); n == 0 && o.description != nil {
		if err := s.setDescriptionWithQuerier(ctx, q, name, *o.description); err != nil {
			return nil, err
		}
	}

	return s.getCollectionWithQuerier(ctx, q, name)
}

// setDescriptionWithQuerier replaces the description. A legacy watermark
// held in the old description is moved to the watermark column first so it
// is not lost.
func (s *SQLiteStorage) setDescriptionWithQuerier(ctx context.Context, q querier, name, description string) error {
	var current, watermark sql.NullString
	err := q.QueryRowContext(ctx, "SELECT description, watermark FROM collections WHERE name = ?", name).
		Scan(&current, &watermark)
	if err != nil {
		return fmt.Errorf("failed to read collection description: %w", err)
	}
	if marks, origin := decodeWatermarks(watermark, current); origin == originLegacy {
		data, err := json.Marshal(marks)
		if err != nil {
			return fmt.Errorf("failed to encode watermarks: %w", err)
		}
		if _, err := q.ExecContext(ctx, "UPDATE collections SET watermark = ? WHERE name = ?", string(data), name); err != nil {
			return fmt.Errorf("failed to migrate watermark: %w", err)
		}
	}
	if _, err := q.ExecContext(ctx, "UPDATE collections SET description = ? WHERE name = ?", description, name); err != nil {
		return fmt.Errorf("failed to update collection description: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetOrCreateCollection(ctx context.Context, name string, ctype types.CollectionType, paths []string, opts ...CollectionOption) (*Collection, error) {
	var c *Collection
	err := s.withTx(ctx, func(q querier) error {
		var err error
		c, err = s.getOrCreateCollectionWithQuerier(ctx, q, name, ctype, paths, opts...)
		return err
	})
	return c, err
}

// getCollectionWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getCollectionWithQuerier(ctx context.Context, q querier, name string) (*Collection, error) {
	row := q.QueryRowContext(ctx, "SELECT "+collectionColumns+" FROM collections WHERE name = ?", name)
	c, err := s.scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

func (s *SQLiteStorage) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return read(ctx, s, func() (*Collection, error) {
		return s.getCollectionWithQuerier(ctx, s.querier(), name)
	})
}

func (s *SQLiteStorage) listCollectionsWithQuerier(ctx context.Context, q querier) ([]CollectionSummary, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT c.name, c.collection_type,
		       (SELECT COUNT(*) FROM sources s WHERE s.collection_id = c.id),
		       (SELECT COUNT(*) FROM documents d WHERE d.collection_id = c.id),
		       (SELECT MAX(s.last_indexed_at) FROM sources s WHERE s.collection_id = c.id)
		FROM collections c
		ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CollectionSummary
	for rows.Next() {
		var cs CollectionSummary
		var last sql.NullString
		if err := rows.Scan(&cs.Name, &cs.Type, &cs.SourceCount, &cs.ChunkCount, &last); err != nil {
			return nil, err
		}
		cs.LastIndexedAt = last.String
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListCollections(ctx context.Context) ([]CollectionSummary, error) {
	return read(ctx, s, func() ([]CollectionSummary, error) {
		return s.listCollectionsWithQuerier(ctx, s.querier())
	})
}

func (s *SQLiteStorage) listCollectionsByTypeWithQuerier(ctx context.Context, q querier, ctype types.CollectionType) ([]*Collection, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+collectionColumns+" FROM collections WHERE collection_type = ? ORDER BY name",
		string(ctype))
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Collection
	for rows.Next() {
		c, err := s.scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListCollectionsByType(ctx context.Context, ctype types.CollectionType) ([]*Collection, error) {
	return read(ctx, s, func() ([]*Collection, error) {
		return s.listCollectionsByTypeWithQuerier(ctx, s.querier(), ctype)
	})
}

// sampleTitleLimit bounds the titles returned by CollectionInfo
const sampleTitleLimit = 10

func (s *SQLiteStorage) collectionInfoWithQuerier(ctx context.Context, q querier, name string) (*CollectionDetail, error) {
	c, err := s.getCollectionWithQuerier(ctx, q, name)
	if err != nil {
		return nil, err
	}

	detail := &CollectionDetail{
		Name:         c.Name,
		Type:         string(c.Type),
		Paths:        c.Paths,
		CreatedAt:    c.CreatedAt,
		SourceTypes:  map[string]int{},
		SampleTitles: []string{},
		Watermarks:   c.Watermarks,
	}
	if c.Description != nil && ParseLegacyWatermarks(*c.Description) == nil {
		detail.Description = *c.Description
	}

	var last sql.NullString
	err = q.QueryRowContext(ctx,
		"SELECT COUNT(*), MAX(last_indexed_at) FROM sources WHERE collection_id = ?", c.ID,
	).Scan(&detail.SourceCount, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	detail.LastIndexedAt = last.String

	if err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection_id = ?", c.ID,
	).Scan(&detail.ChunkCount); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT source_type, COUNT(*) FROM sources WHERE collection_id = ? GROUP BY source_type", c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to group sources: %w", err)
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		detail.SourceTypes[st] = n
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT DISTINCT title FROM documents
		WHERE collection_id = ? AND title IS NOT NULL AND title != ''
		LIMIT ?`, c.ID, sampleTitleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample titles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		detail.SampleTitles = append(detail.SampleTitles, title)
	}
	return detail, rows.Err()
}

func (s *SQLiteStorage) CollectionInfo(ctx context.Context, name string) (*CollectionDetail, error) {
	return read(ctx, s, func() (*CollectionDetail, error) {
		return s.collectionInfoWithQuerier(ctx, s.querier(), name)
	})
}

// deleteCollectionWithQuerier removes vectors first, then documents, sources
// and the collection row
func (s *SQLiteStorage) deleteCollectionWithQuerier(ctx context.Context, q querier, name string) error {
	c, err := s.getCollectionWithQuerier(ctx, q, name)
	if err != nil {
		return err
	}

	docIDs, err := queryIDs(ctx, q, "SELECT id FROM documents WHERE collection_id = ?", c.ID)
	if err != nil {
		return err
	}
	if err := deleteVectors(ctx, q, docIDs); err != nil {
		return err
	}

	stmts := []string{
		"DELETE FROM documents WHERE collection_id = ?",
		"DELETE FROM sources WHERE collection_id = ?",
		"DELETE FROM collections WHERE id = ?",
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, c.ID); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", name, err)
		}
	}

	s.logger.Info().Str("collection", name).Int("documents", len(docIDs)).Msg("deleted collection")
	return nil
}

func (s *SQLiteStorage) DeleteCollection(ctx context.Context, name string) error {
	return s.withTx(ctx, func(q querier) error {
		return s.deleteCollectionWithQuerier(ctx, q, name)
	})
}

// setWatermarksWithQuerier writes the JSON watermark column and clears a
// legacy marker held in the description
func (s *SQLiteStorage) setWatermarksWithQuerier(ctx context.Context, q querier, collectionID int64, marks Watermarks) error {
	encoded, err := marks.encode()
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE collections
		SET watermark = ?,
		    description = CASE
		        WHEN description LIKE 'git:%' OR description LIKE '{%' THEN NULL
		        ELSE description
		    END
		WHERE id = ?`, encoded, collectionID)
	if err != nil {
		return fmt.Errorf("failed to update watermarks: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("collection %d: %w", collectionID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) SetWatermarks(ctx context.Context, collectionID int64, marks Watermarks) error {
	return s.setWatermarksWithQuerier(ctx, s.querier(), collectionID, marks)
}

// Source operations

func (s *SQLiteStorage) getSourceWithQuerier(ctx context.Context, q querier, collectionID int64, sourcePath string) (*Source, error) {
	var src Source
	var hash, modified, indexed sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, collection_id, source_type, source_path, file_hash, file_modified_at, last_indexed_at
		FROM sources
		WHERE collection_id = ? AND source_path = ?`,
		collectionID, sourcePath,
	).Scan(&src.ID, &src.CollectionID, &src.SourceType, &src.SourcePath, &hash, &modified, &indexed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	src.FileHash = nullableString(hash)
	src.FileModifiedAt = nullableString(modified)
	src.LastIndexedAt = nullableString(indexed)
	return &src, nil
}

func (s *SQLiteStorage) GetSource(ctx context.Context, collectionID int64, sourcePath string) (*Source, error) {
	return read(ctx, s, func() (*Source, error) {
		return s.getSourceWithQuerier(ctx, s.querier(), collectionID, sourcePath)
	})
}

// upsertSourceWithQuerier inserts or updates the source keyed by
// (collection, path) and stamps last_indexed_at
func (s *SQLiteStorage) upsertSourceWithQuerier(ctx context.Context, q querier, src *Source) error {
	indexedAt := now()
	err := q.QueryRowContext(ctx, `
		INSERT INTO sources (collection_id, source_type, source_path, file_hash, file_modified_at, last_indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, source_path) DO UPDATE SET
			source_type = excluded.source_type,
			file_hash = excluded.file_hash,
			file_modified_at = excluded.file_modified_at,
			last_indexed_at = excluded.last_indexed_at
		RETURNING id`,
		src.CollectionID, src.SourceType, src.SourcePath,
		src.FileHash, src.FileModifiedAt, indexedAt,
	).Scan(&src.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}
	src.LastIndexedAt = &indexedAt
	return nil
}

func (s *SQLiteStorage) UpsertSource(ctx context.Context, src *Source) error {
	return s.upsertSourceWithQuerier(ctx, s.querier(), src)
}

// deleteSourceWithQuerier removes the source, its documents and their vectors
func (s *SQLiteStorage) deleteSourceWithQuerier(ctx context.Context, q querier, sourceID int64) error {
	if err := s.deleteDocumentsBySourceWithQuerier(ctx, q, sourceID); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteSource(ctx context.Context, sourceID int64) error {
	return s.withTx(ctx, func(q querier) error {
		return s.deleteSourceWithQuerier(ctx, q, sourceID)
	})
}

func (s *SQLiteStorage) deleteSourcesByPrefixWithQuerier(ctx context.Context, q querier, collectionID int64, sourceType, prefix string) (int, error) {
	ids, err := queryIDs(ctx, q, `
		SELECT id FROM sources
		WHERE collection_id = ? AND source_type = ? AND substr(source_path, 1, ?) = ?`,
		collectionID, sourceType, len(prefix), prefix)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.deleteSourceWithQuerier(ctx, q, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *SQLiteStorage) DeleteSourcesByPrefix(ctx context.Context, collectionID int64, sourceType, prefix string) (int, error) {
	var n int
	err := s.withTx(ctx, func(q querier) error {
		var err error
		n, err = s.deleteSourcesByPrefixWithQuerier(ctx, q, collectionID, sourceType, prefix)
		return err
	})
	return n, err
}

func (s *SQLiteStorage) listSourcePathsWithQuerier(ctx context.Context, q querier, collectionID int64, sourceType string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT source_path FROM sources WHERE collection_id = ? AND source_type = ? ORDER BY source_path",
		collectionID, sourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListSourcePaths(ctx context.Context, collectionID int64, sourceType string) ([]string, error) {
	return read(ctx, s, func() ([]string, error) {
		return s.listSourcePathsWithQuerier(ctx, s.querier(), collectionID, sourceType)
	})
}

// Document operations

// insertDocumentWithQuerier inserts the document row and its vector
func (s *SQLiteStorage) insertDocumentWithQuerier(ctx context.Context, q querier, doc *Document, vector []float32) error {
	if vector != nil && len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	var metadata interface{}
	if len(doc.Metadata) > 0 {
		data, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(data)
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO documents (source_id, collection_id, chunk_index, title, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.SourceID, doc.CollectionID, doc.ChunkIndex, doc.Title, doc.Content, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	doc.ID = id

	if vector != nil {
		return insertVector(ctx, q, id, vector)
	}
	return nil
}

func (s *SQLiteStorage) InsertDocument(ctx context.Context, doc *Document, vector []float32) error {
	return s.withTx(ctx, func(q querier) error {
		return s.insertDocumentWithQuerier(ctx, q, doc, vector)
	})
}

// deleteDocumentsBySourceWithQuerier removes vectors before their documents
func (s *SQLiteStorage) deleteDocumentsBySourceWithQuerier(ctx context.Context, q querier, sourceID int64) error {
	docIDs, err := queryIDs(ctx, q, "SELECT id FROM documents WHERE source_id = ?", sourceID)
	if err != nil {
		return err
	}
	if err := deleteVectors(ctx, q, docIDs); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM documents WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteDocumentsBySource(ctx context.Context, sourceID int64) error {
	return s.withTx(ctx, func(q querier) error {
		return s.deleteDocumentsBySourceWithQuerier(ctx, q, sourceID)
	})
}

// getDocumentRecordsWithQuerier hydrates documents with their source and collection
func (s *SQLiteStorage) getDocumentRecordsWithQuerier(ctx context.Context, q querier, ids []int64) (map[int64]*DocumentRecord, error) {
	out := make(map[int64]*DocumentRecord, len(ids))
	const batch = 500
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		args := make([]interface{}, 0, end-start)
		for _, id := range ids[start:end] {
			args = append(args, id)
		}
		rows, err := q.QueryContext(ctx, `
			SELECT d.id, d.title, d.content, d.metadata, c.name, s.source_path, s.source_type
			FROM documents d
			JOIN sources s ON s.id = d.source_id
			JOIN collections c ON c.id = d.collection_id
			WHERE d.id IN (`+placeholders(len(args))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to hydrate documents: %w", err)
		}
		for rows.Next() {
			var rec DocumentRecord
			var title, metadata sql.NullString
			if err := rows.Scan(&rec.ID, &title, &rec.Content, &metadata, &rec.Collection, &rec.SourcePath, &rec.SourceType); err != nil {
				_ = rows.Close()
				return nil, err
			}
			rec.Title = title.String
			rec.Metadata = decodeMetadata(metadata)
			out[rec.ID] = &rec
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

func (s *SQLiteStorage) GetDocumentRecords(ctx context.Context, ids []int64) (map[int64]*DocumentRecord, error) {
	return read(ctx, s, func() (map[int64]*DocumentRecord, error) {
		return s.getDocumentRecordsWithQuerier(ctx, s.querier(), ids)
	})
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorResult, error) {
	return read(ctx, s, func() ([]VectorResult, error) {
		return searchVector(ctx, s.querier(), vector, limit)
	})
}

func (s *SQLiteStorage) SearchText(ctx context.Context, ftsQuery string, limit int) ([]TextResult, error) {
	return read(ctx, s, func() ([]TextResult, error) {
		return searchText(ctx, s.querier(), ftsQuery, limit)
	})
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*Status, error) {
	st := &Status{BuildMode: BuildMode, CheckedAt: time.Now()}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM collections", &st.CollectionCount},
		{"SELECT COUNT(*) FROM sources", &st.SourceCount},
		{"SELECT COUNT(*) FROM documents", &st.ChunkCount},
		{"SELECT COUNT(*) FROM vec_documents", &st.VectorCount},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to get status: %w", err)
		}
	}

	var last sql.NullString
	if err := q.QueryRowContext(ctx, "SELECT MAX(last_indexed_at) FROM sources").Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	st.LastIndexedAt = last.String

	var pageCount, pageSize int64
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			st.DBSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
		}
	}

	v, err := SchemaVersion(ctx, q)
	if err != nil {
		return nil, err
	}
	st.SchemaVersion = v.Original()
	return st, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	return read(ctx, s, func() (*Status, error) {
		return s.getStatusWithQuerier(ctx, s.querier())
	})
}

func (s *SQLiteStorage) dataVersionWithQuerier(ctx context.Context, q querier) (int64, error) {
	var v int64
	if err := q.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read data version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStorage) DataVersion(ctx context.Context) (int64, error) {
	return read(ctx, s, func() (int64, error) {
		return s.dataVersionWithQuerier(ctx, s.querier())
	})
}

// Helper functions

func queryIDs(ctx context.Context, q querier, query string, args ...interface{}) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func decodeMetadata(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Transaction implementations - delegate to querier-based methods

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

func (t *sqliteTx) GetOrCreateCollection(ctx context.Context, name string, ctype types.CollectionType, paths []string, opts ...CollectionOption) (*Collection, error) {
	return t.storage.getOrCreateCollectionWithQuerier(ctx, t.querier(), name, ctype, paths, opts...)
}

func (t *sqliteTx) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return t.storage.getCollectionWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) ListCollections(ctx context.Context) ([]CollectionSummary, error) {
	return t.storage.listCollectionsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) ListCollectionsByType(ctx context.Context, ctype types.CollectionType) ([]*Collection, error) {
	return t.storage.listCollectionsByTypeWithQuerier(ctx, t.querier(), ctype)
}

func (t *sqliteTx) CollectionInfo(ctx context.Context, name string) (*CollectionDetail, error) {
	return t.storage.collectionInfoWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) DeleteCollection(ctx context.Context, name string) error {
	return t.storage.deleteCollectionWithQuerier(ctx, t.querier(), name)
}

func (t *sqliteTx) SetWatermarks(ctx context.Context, collectionID int64, marks Watermarks) error {
	return t.storage.setWatermarksWithQuerier(ctx, t.querier(), collectionID, marks)
}

func (t *sqliteTx) GetSource(ctx context.Context, collectionID int64, sourcePath string) (*Source, error) {
	return t.storage.getSourceWithQuerier(ctx, t.querier(), collectionID, sourcePath)
}

func (t *sqliteTx) UpsertSource(ctx context.Context, src *Source) error {
	return t.storage.upsertSourceWithQuerier(ctx, t.querier(), src)
}

func (t *sqliteTx) DeleteSource(ctx context.Context, sourceID int64) error {
	return t.storage.deleteSourceWithQuerier(ctx, t.querier(), sourceID)
}

func (t *sqliteTx) DeleteSourcesByPrefix(ctx context.Context, collectionID int64, sourceType, prefix string) (int, error) {
	return t.storage.deleteSourcesByPrefixWithQuerier(ctx, t.querier(), collectionID, sourceType, prefix)
}

func (t *sqliteTx) ListSourcePaths(ctx context.Context, collectionID int64, sourceType string) ([]string, error) {
	return t.storage.listSourcePathsWithQuerier(ctx, t.querier(), collectionID, sourceType)
}

func (t *sqliteTx) InsertDocument(ctx context.Context, doc *Document, vector []float32) error {
	return t.storage.insertDocumentWithQuerier(ctx, t.querier(), doc, vector)
}

func (t *sqliteTx) DeleteDocumentsBySource(ctx context.Context, sourceID int64) error {
	return t.storage.deleteDocumentsBySourceWithQuerier(ctx, t.querier(), sourceID)
}

func (t *sqliteTx) GetDocumentRecords(ctx context.Context, ids []int64) (map[int64]*DocumentRecord, error) {
	return t.storage.getDocumentRecordsWithQuerier(ctx, t.querier(), ids)
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, limit int) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, limit)
}

func (t *sqliteTx) SearchText(ctx context.Context, ftsQuery string, limit int) ([]TextResult, error) {
	return searchText(ctx, t.querier(), ftsQuery, limit)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*Status, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) DataVersion(ctx context.Context) (int64, error) {
	return t.storage.dataVersionWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
