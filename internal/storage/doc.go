// Package storage persists collections, sources, document chunks and their
// embeddings in a single SQLite database.
//
// # Schema
//
//	collections    named buckets (system | project | code) with stored paths
//	               and a JSON watermark map for incremental indexers
//	sources        one row per indexable unit, unique per (collection, path),
//	               carrying the change-detection fingerprint
//	documents      chunks of a source, unique per (source, chunk_index)
//	documents_fts  FTS5 external-content index over title and content,
//	               kept in sync by the documents_ai/ad/au triggers
//	vec_documents  one embedding per document, keyed by document id
//	meta           schema_version
//
// vec_documents is outside the relational cascade. Every path that deletes
// documents (DeleteSource, DeleteDocumentsBySource, DeleteCollection) removes
// the vector rows first, inside the same transaction.
//
// # Migrations
//
// Migrations are numbered steps ordered with semver. Each step commits
// together with its meta.schema_version update, so a failed step leaves the
// marker on the last good version. The vector table is created after
// migrations with the configured dimension and is never recreated.
//
// # Build Modes
//
// CGO Build (sqlite_vec tag):
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...
//
// Uses github.com/mattn/go-sqlite3 with the sqlite-vec vec0 virtual table;
// K-NN runs inside SQLite.
//
// Pure Go Build (default):
//
//	CGO_ENABLED=0 go build ./...
//
// Uses modernc.org/sqlite; embeddings are blobs and K-NN is a cosine scan.
//
// # Concurrency
//
// The pool holds a single connection in WAL mode with busy_timeout set, so
// writes are serialized. Reads outside a transaction are retried on
// SQLITE_BUSY with backoff; exhaustion surfaces types.ErrSourceBusy. Code
// holding a Tx must use the Tx methods only: calling the SQLiteStorage
// methods while a transaction is open would wait on the same connection.
package storage
