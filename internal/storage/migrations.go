package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version. Versions are
	// stored as plain integers in meta.schema_version and compared as semver.
	CurrentSchemaVersion = "4"

	schemaVersionKey = "schema_version"
)

// ErrMigration is returned when a schema migration step fails. The version
// marker is left at the last step that committed.
var ErrMigration = errors.New("migration failed")

// Migration represents a database schema migration
type Migration struct {
	Version     string
	Description string
	Up          string
	// Applied reports whether the change is already present, e.g. a column
	// created by a release that never recorded the step.
	Applied func(ctx context.Context, q querier) (bool, error)
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version:     "1",
		Description: "base schema",
		Up:          migrationV1Up,
	},
	{
		Version:     "2",
		Description: "reclassify git collections as code",
		Up: `UPDATE collections SET collection_type = 'code'
			WHERE collection_type = 'project' AND description LIKE 'git-%'`,
	},
	{
		Version:     "3",
		Description: "add collections.paths",
		Up:          `ALTER TABLE collections ADD COLUMN paths TEXT`,
		Applied:     columnExists("collections", "paths"),
	},
	{
		Version:     "4",
		Description: "add collections.watermark",
		Up:          `ALTER TABLE collections ADD COLUMN watermark TEXT`,
		Applied:     columnExists("collections", "watermark"),
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS collections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    collection_type TEXT NOT NULL DEFAULT 'project',
    description TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    source_type TEXT NOT NULL,
    source_path TEXT NOT NULL,
    file_hash TEXT,
    file_modified_at TEXT,
    last_indexed_at TEXT,
    UNIQUE(collection_id, source_path)
);

CREATE INDEX IF NOT EXISTS idx_sources_collection ON sources(collection_id, source_type);

CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    title TEXT,
    content TEXT NOT NULL,
    metadata TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE(source_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    title,
    content,
    content='documents',
    content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
    INSERT INTO documents_fts(rowid, title, content)
    VALUES (new.id, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, title, content)
    VALUES('delete', old.id, old.title, old.content);
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
    INSERT INTO documents_fts(documents_fts, rowid, title, content)
    VALUES('delete', old.id, old.title, old.content);
    INSERT INTO documents_fts(rowid, title, content)
    VALUES (new.id, new.title, new.content);
END;
`

// ApplyMigrations applies all pending migrations. Each step runs in its own
// transaction together with the version marker update.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return fmt.Errorf("%w: failed to create meta table: %v", ErrMigration, err)
	}

	currentVersion, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("%w: invalid migration version %s: %v", ErrMigration, migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if err := applyMigration(ctx, db, migration); err != nil {
			return fmt.Errorf("%w: version %s (%s): %v", ErrMigration, migration.Version, migration.Description, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	skip := false
	if m.Applied != nil {
		if skip, err = m.Applied(ctx, tx); err != nil {
			return err
		}
	}
	if !skip {
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		schemaVersionKey, m.Version)
	if err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}

	return tx.Commit()
}

// SchemaVersion reads the recorded schema version; a database without one is 0.
func SchemaVersion(ctx context.Context, q querier) (*semver.Version, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", schemaVersionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && raw == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid current schema version %s: %v", ErrMigration, raw, err)
	}
	return v, nil
}

func columnExists(table, column string) func(ctx context.Context, q querier) (bool, error) {
	return func(ctx context.Context, q querier) (bool, error) {
		rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
		if err != nil {
			return false, err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return false, err
			}
			if name == column {
				return true, nil
			}
		}
		return false, rows.Err()
	}
}
