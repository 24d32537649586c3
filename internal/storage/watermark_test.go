package storage

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/localrag/pkg/types"
)

func TestParseLegacyWatermarks(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Watermarks
	}{
		{"empty", "", nil},
		{"free text", "my notes", nil},
		{"single repo", "git:/home/me/repo:abc123", Watermarks{"/home/me/repo": "abc123"}},
		{"colon in path", "git:C:/src/repo:abc123", Watermarks{"C:/src/repo": "abc123"}},
		{"missing sha", "git:/repo:", nil},
		{"json", `{"/a": "1", "/a:history": "2"}`, Watermarks{"/a": "1", "/a:history": "2"}},
		{"json non-string values dropped", `{"/a": "1", "n": 5}`, Watermarks{"/a": "1"}},
		{"broken json", `{"/a": `, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLegacyWatermarks(tt.in))
		})
	}
}

func TestDecodeWatermarks(t *testing.T) {
	column := sql.NullString{String: `{"/a": "new"}`, Valid: true}
	broken := sql.NullString{String: `{"/a": `, Valid: true}
	desc := sql.NullString{String: "git:/a:old", Valid: true}

	tests := []struct {
		name        string
		column      sql.NullString
		description sql.NullString
		want        Watermarks
		origin      watermarkOrigin
	}{
		{"column wins", column, desc, Watermarks{"/a": "new"}, originColumn},
		{"legacy description", sql.NullString{}, desc, Watermarks{"/a": "old"}, originLegacy},
		{"nothing stored", sql.NullString{}, sql.NullString{}, Watermarks{}, originNone},
		{"corrupt column", broken, sql.NullString{}, Watermarks{}, originCorrupt},
		{"corrupt column falls back to legacy", broken, desc, Watermarks{"/a": "old"}, originLegacy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marks, origin := decodeWatermarks(tt.column, tt.description)
			assert.Equal(t, tt.want, marks)
			assert.Equal(t, tt.origin, origin)
		})
	}
}

func TestScanCollection_LogsUnusableWatermark(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewSQLiteStorage(":memory:", WithDimension(testDim), WithLogger(zerolog.New(&buf)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	coll, err := s.GetOrCreateCollection(ctx, "work", types.CollectionCode, nil)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE collections SET watermark = ? WHERE id = ?", "not json", coll.ID)
	require.NoError(t, err)

	buf.Reset()
	got, err := s.GetCollection(ctx, "work")
	require.NoError(t, err)
	assert.Empty(t, got.Watermarks)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "not a JSON object")

	_, err = s.db.Exec("UPDATE collections SET watermark = NULL, description = ? WHERE id = ?", "git:/repo:abc", coll.ID)
	require.NoError(t, err)

	buf.Reset()
	got, err = s.GetCollection(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, Watermarks{"/repo": "abc"}, got.Watermarks)
	assert.Contains(t, buf.String(), "legacy description")
}

func TestWatermarks_CloneAndKeys(t *testing.T) {
	w := Watermarks{"b": "2", "a": "1"}
	c := w.Clone()
	c["a"] = "changed"
	assert.Equal(t, "1", w["a"])
	assert.Equal(t, []string{"a", "b"}, w.Keys())

	_, ok := Watermarks{"x": ""}.Get("x")
	assert.False(t, ok)
}
