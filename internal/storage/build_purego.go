//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// Vectors are stored as little-endian float32 blobs in a plain table and
// K-NN is a cosine scan in Go.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// Driver used: modernc.org/sqlite

import (
	"context"
	"fmt"

	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

func ensureVectorTable(ctx context.Context, q querier, _ int) error {
	_, err := q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS vec_documents (
		document_id INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	return nil
}
