package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/localrag/pkg/types"
)

const testDim = 4

func setupTestDB(t testing.TB) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:", WithDimension(testDim))
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

// seedSource creates a source with one document per content string
func seedSource(t testing.TB, s *SQLiteStorage, coll *Collection, path string, contents ...string) *Source {
	t.Helper()
	ctx := context.Background()
	hash := "h-" + path
	src := &Source{CollectionID: coll.ID, SourceType: "markdown", SourcePath: path, FileHash: &hash}
	require.NoError(t, s.UpsertSource(ctx, src))
	for i, c := range contents {
		doc := &Document{
			SourceID:     src.ID,
			CollectionID: coll.ID,
			ChunkIndex:   i,
			Title:        filepath.Base(path),
			Content:      c,
			Metadata:     map[string]any{"sender": "alice@example.com"},
		}
		require.NoError(t, s.InsertDocument(ctx, doc, []float32{1, float32(i), 0, 0}))
	}
	return src
}

func countRows(t testing.TB, s *SQLiteStorage, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)

	assert.NotNil(t, storage.db)
	assert.Equal(t, testDim, storage.Dimension())

	v, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.Original())
}

func TestClose(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	assert.NoError(t, storage.Close())
}

func TestGetOrCreateCollection(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	c1, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, []string{"/a"})
	require.NoError(t, err)
	assert.Greater(t, c1.ID, int64(0))
	assert.Equal(t, types.CollectionProject, c1.Type)
	assert.Equal(t, []string{"/a"}, c1.Paths)

	// Re-entry returns the same row and refreshes paths
	c2, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, []string{"/a", "/b"})
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, []string{"/a", "/b"}, c2.Paths)

	// Empty paths leave stored paths alone
	c3, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, c3.Paths)

	assert.Equal(t, 1, countRows(t, s, "collections"))
}

func TestGetOrCreateCollection_Invalid(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.GetOrCreateCollection(ctx, "", types.CollectionProject, nil)
	assert.ErrorIs(t, err, types.ErrConfig)

	_, err = s.GetOrCreateCollection(ctx, "x", types.CollectionType("bogus"), nil)
	assert.ErrorIs(t, err, types.ErrConfig)
}

func TestGetOrCreateCollection_Description(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	c, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil, WithDescription("team meeting notes"))
	require.NoError(t, err)
	require.NotNil(t, c.Description)
	assert.Equal(t, "team meeting notes", *c.Description)

	// Omitting the option keeps the stored description
	c, err = s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	require.NotNil(t, c.Description)
	assert.Equal(t, "team meeting notes", *c.Description)

	c, err = s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil, WithDescription("1:1 notes"))
	require.NoError(t, err)
	assert.Equal(t, "1:1 notes", *c.Description)

	detail, err := s.CollectionInfo(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "1:1 notes", detail.Description)
}

func TestGetOrCreateCollection_DescriptionKeepsLegacyWatermark(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	c, err := s.GetOrCreateCollection(ctx, "repo", types.CollectionCode, nil)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE collections SET description = ? WHERE id = ?", "git:/src/repo:abc123", c.ID)
	require.NoError(t, err)

	c, err = s.GetOrCreateCollection(ctx, "repo", types.CollectionCode, nil, WithDescription("main service"))
	require.NoError(t, err)
	assert.Equal(t, "main service", *c.Description)
	assert.Equal(t, Watermarks{"/src/repo": "abc123"}, c.Watermarks)
}

func TestDataVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.db")
	ctx := context.Background()

	first, err := NewSQLiteStorage(path, WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	second, err := NewSQLiteStorage(path, WithDimension(testDim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	before, err := first.DataVersion(ctx)
	require.NoError(t, err)

	// Own writes leave the version alone
	_, err = first.GetOrCreateCollection(ctx, "mine", types.CollectionProject, nil)
	require.NoError(t, err)
	own, err := first.DataVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, own)

	_, err = second.GetOrCreateCollection(ctx, "theirs", types.CollectionProject, nil)
	require.NoError(t, err)
	after, err := first.DataVersion(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestGetCollection_NotFound(t *testing.T) {
	s := setupTestDB(t)
	_, err := s.GetCollection(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertSource(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)

	h1 := "aaa"
	src := &Source{CollectionID: coll.ID, SourceType: "markdown", SourcePath: "/n/a.md", FileHash: &h1}
	require.NoError(t, s.UpsertSource(ctx, src))
	firstID := src.ID
	require.NotNil(t, src.LastIndexedAt)

	h2 := "bbb"
	again := &Source{CollectionID: coll.ID, SourceType: "markdown", SourcePath: "/n/a.md", FileHash: &h2}
	require.NoError(t, s.UpsertSource(ctx, again))
	assert.Equal(t, firstID, again.ID)

	got, err := s.GetSource(ctx, coll.ID, "/n/a.md")
	require.NoError(t, err)
	require.NotNil(t, got.FileHash)
	assert.Equal(t, "bbb", *got.FileHash)

	_, err = s.GetSource(ctx, coll.ID, "/n/missing.md")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDocument_DimensionMismatch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	src := seedSource(t, s, coll, "/n/a.md")

	doc := &Document{SourceID: src.ID, CollectionID: coll.ID, Content: "x"}
	err = s.InsertDocument(ctx, doc, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, countRows(t, s, "documents"))
}

func TestDeleteDocumentsBySource(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	a := seedSource(t, s, coll, "/n/a.md", "alpha one", "alpha two")
	seedSource(t, s, coll, "/n/b.md", "beta")

	require.NoError(t, s.DeleteDocumentsBySource(ctx, a.ID))

	assert.Equal(t, 1, countRows(t, s, "documents"))
	assert.Equal(t, 1, countRows(t, s, "vec_documents"))
	assert.Equal(t, 2, countRows(t, s, "sources"))

	res, err := s.SearchText(ctx, `"alpha"`, 10)
	require.NoError(t, err)
	assert.Empty(t, res, "FTS rows must follow document deletes")
}

func TestDeleteSource(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	a := seedSource(t, s, coll, "/n/a.md", "alpha")

	require.NoError(t, s.DeleteSource(ctx, a.ID))
	assert.Equal(t, 0, countRows(t, s, "sources"))
	assert.Equal(t, 0, countRows(t, s, "documents"))
	assert.Equal(t, 0, countRows(t, s, "vec_documents"))
}

func TestDeleteSourcesByPrefix(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "code", types.CollectionCode, nil)
	require.NoError(t, err)

	for _, p := range []string{"git://repo#a1", "git://repo#b2", "git://other#c3"} {
		src := &Source{CollectionID: coll.ID, SourceType: types.SourceCommit, SourcePath: p}
		require.NoError(t, s.UpsertSource(ctx, src))
	}
	file := &Source{CollectionID: coll.ID, SourceType: types.SourceCode, SourcePath: "git://repo#file"}
	require.NoError(t, s.UpsertSource(ctx, file))

	n, err := s.DeleteSourcesByPrefix(ctx, coll.ID, types.SourceCommit, "git://repo#")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	paths, err := s.ListSourcePaths(ctx, coll.ID, types.SourceCommit)
	require.NoError(t, err)
	assert.Equal(t, []string{"git://other#c3"}, paths)

	codePaths, err := s.ListSourcePaths(ctx, coll.ID, types.SourceCode)
	require.NoError(t, err)
	assert.Len(t, codePaths, 1)
}

func TestDeleteCollection_RemovesVectors(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	seedSource(t, s, coll, "/n/a.md", "one", "two")
	seedSource(t, s, coll, "/n/b.md", "three")

	other, err := s.GetOrCreateCollection(ctx, "keep", types.CollectionProject, nil)
	require.NoError(t, err)
	seedSource(t, s, other, "/k/a.md", "kept")

	require.NoError(t, s.DeleteCollection(ctx, "notes"))

	_, err = s.GetCollection(ctx, "notes")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, countRows(t, s, "sources"))
	assert.Equal(t, 1, countRows(t, s, "documents"))
	assert.Equal(t, 1, countRows(t, s, "vec_documents"))

	assert.ErrorIs(t, s.DeleteCollection(ctx, "notes"), ErrNotFound)
}

func TestGetDocumentRecords(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	seedSource(t, s, coll, "/n/a.md", "hello world")

	res, err := s.SearchText(ctx, `"hello"`, 5)
	require.NoError(t, err)
	require.Len(t, res, 1)

	recs, err := s.GetDocumentRecords(ctx, []int64{res[0].DocumentID, 9999})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[res[0].DocumentID]
	assert.Equal(t, "hello world", rec.Content)
	assert.Equal(t, "a.md", rec.Title)
	assert.Equal(t, "notes", rec.Collection)
	assert.Equal(t, "/n/a.md", rec.SourcePath)
	assert.Equal(t, "markdown", rec.SourceType)
	assert.Equal(t, "alice@example.com", rec.Metadata["sender"])
}

func TestSearchText_SyntaxError(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	seedSource(t, s, coll, "/n/a.md", "hello")

	_, err = s.SearchText(ctx, `"unterminated`, 5)
	assert.Error(t, err)

	res, err := s.SearchText(ctx, "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestCollectionInfo(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, []string{"/n"})
	require.NoError(t, err)
	seedSource(t, s, coll, "/n/a.md", "one", "two")
	seedSource(t, s, coll, "/n/b.md", "three")

	info, err := s.CollectionInfo(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, "project", info.Type)
	assert.Equal(t, 2, info.SourceCount)
	assert.Equal(t, 3, info.ChunkCount)
	assert.Equal(t, map[string]int{"markdown": 2}, info.SourceTypes)
	assert.ElementsMatch(t, []string{"a.md", "b.md"}, info.SampleTitles)
	assert.NotEmpty(t, info.LastIndexedAt)
	assert.Equal(t, []string{"/n"}, info.Paths)

	list, err := s.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].SourceCount)
	assert.Equal(t, 3, list[0].ChunkCount)
}

func TestListCollectionsByType(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, err := s.GetOrCreateCollection(ctx, "p1", types.CollectionProject, []string{"/p1"})
	require.NoError(t, err)
	_, err = s.GetOrCreateCollection(ctx, "obsidian", types.CollectionSystem, nil)
	require.NoError(t, err)

	projects, err := s.ListCollectionsByType(ctx, types.CollectionProject)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "p1", projects[0].Name)
}

func TestGetStatus(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	seedSource(t, s, coll, "/n/a.md", "one", "two")

	st, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.CollectionCount)
	assert.Equal(t, 1, st.SourceCount)
	assert.Equal(t, 2, st.ChunkCount)
	assert.Equal(t, 2, st.VectorCount)
	assert.Equal(t, CurrentSchemaVersion, st.SchemaVersion)
	assert.Equal(t, BuildMode, st.BuildMode)
}

func TestTransaction_Rollback(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	src := &Source{CollectionID: coll.ID, SourceType: "markdown", SourcePath: "/n/a.md"}
	require.NoError(t, tx.UpsertSource(ctx, src))
	require.NoError(t, tx.InsertDocument(ctx, &Document{SourceID: src.ID, CollectionID: coll.ID, Content: "x"}, []float32{1, 0, 0, 0}))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 0, countRows(t, s, "sources"))
	assert.Equal(t, 0, countRows(t, s, "documents"))
	assert.Equal(t, 0, countRows(t, s, "vec_documents"))

	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
}

func TestWatermarks_RoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "code", types.CollectionCode, nil)
	require.NoError(t, err)
	assert.Empty(t, coll.Watermarks)

	marks := Watermarks{"/repo/a": "abc", "/repo/a" + HistorySuffix: "def"}
	require.NoError(t, s.SetWatermarks(ctx, coll.ID, marks))

	got, err := s.GetCollection(ctx, "code")
	require.NoError(t, err)
	assert.Equal(t, marks, got.Watermarks)

	assert.ErrorIs(t, s.SetWatermarks(ctx, 9999, marks), ErrNotFound)
}

// legacySchema is the layout written by releases that kept watermarks in
// the description column
const legacySchema = `
CREATE TABLE collections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    collection_type TEXT NOT NULL DEFAULT 'project',
    description TEXT,
    paths TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);
CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT);
INSERT INTO meta (key, value) VALUES ('schema_version', '3');
`

func TestMigrations_LegacyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	db, err := sql.Open(DriverName, path)
	require.NoError(t, err)
	_, err = db.Exec(legacySchema)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO collections (name, collection_type, description) VALUES
		('single', 'code', 'git:/home/me/repo:0123abcd'),
		('multi', 'code', '{"/r1": "aaa", "/r1:history": "bbb"}'),
		('plain', 'project', 'my notes')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewSQLiteStorage(path, WithDimension(testDim))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	v, err := SchemaVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.Original())

	single, err := s.GetCollection(ctx, "single")
	require.NoError(t, err)
	assert.Equal(t, Watermarks{"/home/me/repo": "0123abcd"}, single.Watermarks)

	multi, err := s.GetCollection(ctx, "multi")
	require.NoError(t, err)
	assert.Equal(t, Watermarks{"/r1": "aaa", "/r1:history": "bbb"}, multi.Watermarks)

	plain, err := s.GetCollection(ctx, "plain")
	require.NoError(t, err)
	assert.Empty(t, plain.Watermarks)

	// First write upgrades to the explicit column and clears the legacy marker
	marks := single.Watermarks.Clone()
	marks["/home/me/repo"] = "fedc"
	require.NoError(t, s.SetWatermarks(ctx, single.ID, marks))

	upgraded, err := s.GetCollection(ctx, "single")
	require.NoError(t, err)
	assert.Nil(t, upgraded.Description)
	assert.Equal(t, Watermarks{"/home/me/repo": "fedc"}, upgraded.Watermarks)

	// A free-form description survives watermark writes
	require.NoError(t, s.SetWatermarks(ctx, plain.ID, Watermarks{"since": "2024-01-01"}))
	plain, err = s.GetCollection(ctx, "plain")
	require.NoError(t, err)
	require.NotNil(t, plain.Description)
	assert.Equal(t, "my notes", *plain.Description)
}

func TestMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.db")
	s, err := NewSQLiteStorage(path, WithDimension(testDim))
	require.NoError(t, err)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)
	seedSource(t, s, coll, "/n/a.md", "persisted")
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStorage(path, WithDimension(testDim))
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 1, countRows(t, s2, "documents"))
	assert.Equal(t, 1, countRows(t, s2, "vec_documents"))
}

func TestMigrations_ReclassifyGitCollections(t *testing.T) {
	db, err := sql.Open(DriverName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	ctx := context.Background()

	_, err = db.Exec(`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT);
		INSERT INTO meta VALUES ('schema_version', '1');`)
	require.NoError(t, err)
	_, err = db.Exec(migrationV1Up)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO collections (name, collection_type, description) VALUES ('repo', 'project', 'git-abc')`)
	require.NoError(t, err)

	require.NoError(t, ApplyMigrations(ctx, db))

	var ctype string
	require.NoError(t, db.QueryRow("SELECT collection_type FROM collections WHERE name = 'repo'").Scan(&ctype))
	assert.Equal(t, "code", ctype)
}
