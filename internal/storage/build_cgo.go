//go:build sqlite_vec
// +build sqlite_vec

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// Vectors live in a sqlite-vec vec0 virtual table and K-NN runs inside SQLite.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	"context"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

// ensureVectorTable creates the vec0 table. The declared dimension is fixed at
// creation; an existing table is never recreated.
func ensureVectorTable(ctx context.Context, q querier, dim int) error {
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_documents USING vec0(
		embedding float[%d],
		document_id INTEGER
	)`, dim)
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}
	return nil
}
