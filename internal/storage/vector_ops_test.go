package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/localrag/pkg/types"
)

func TestSerializeVector(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.125}
	blob := SerializeVector(in)
	assert.Len(t, blob, len(in)*4)
	assert.Equal(t, in, DeserializeVector(blob))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSearchVector_Ordering(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	coll, err := s.GetOrCreateCollection(ctx, "notes", types.CollectionProject, nil)
	require.NoError(t, err)

	src := &Source{CollectionID: coll.ID, SourceType: "markdown", SourcePath: "/n/a.md"}
	require.NoError(t, s.UpsertSource(ctx, src))

	vectors := [][]float32{
		{0, 1, 0, 0},
		{1, 0, 0, 0},
		{0.7, 0.7, 0, 0},
	}
	ids := make([]int64, len(vectors))
	for i, v := range vectors {
		doc := &Document{SourceID: src.ID, CollectionID: coll.ID, ChunkIndex: i, Content: "c"}
		require.NoError(t, s.InsertDocument(ctx, doc, v))
		ids[i] = doc.ID
	}

	res, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, ids[1], res[0].DocumentID)
	assert.Equal(t, ids[2], res[1].DocumentID)
	assert.LessOrEqual(t, res[0].Distance, res[1].Distance)

	empty, err := s.SearchVector(ctx, []float32{1, 0, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSortCandidates_TieBreak(t *testing.T) {
	c := []candidate{{docID: 3, score: 0.5}, {docID: 1, score: 0.5}, {docID: 2, score: 0.9}}
	sortCandidates(c)
	assert.Equal(t, []int64{2, 1, 3}, []int64{c[0].docID, c[1].docID, c[2].docID})
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?,?,?", placeholders(3))
}
