package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// searchVector returns the nearest documents to queryVector, closest first.
func searchVector(ctx context.Context, q querier, queryVector []float32, limit int) ([]VectorResult, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []VectorResult{}, nil
	}
	// Use the vec0 K-NN operator when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, q, queryVector, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, q, queryVector, limit)
}

// searchVectorOptimized uses the sqlite-vec K-NN query
func searchVectorOptimized(ctx context.Context, q querier, queryVector []float32, limit int) ([]VectorResult, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT document_id, distance
		FROM vec_documents
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`,
		serializeVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.DocumentID, &result.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// searchVectorFallback scans every stored vector and ranks by cosine distance
func searchVectorFallback(ctx context.Context, q querier, queryVector []float32, limit int) ([]VectorResult, error) {
	rows, err := q.QueryContext(ctx, `SELECT document_id, embedding FROM vec_documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 1000)
	for rows.Next() {
		var docID int64
		var blob []byte
		if err := rows.Scan(&docID, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		candidates = append(candidates, candidate{docID: docID, score: cosineSimilarity(queryVector, vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if limit > len(candidates) {
		limit = len(candidates)
	}
	results := make([]VectorResult, limit)
	for i := 0; i < limit; i++ {
		results[i] = VectorResult{DocumentID: candidates[i].docID, Distance: 1 - candidates[i].score}
	}
	return results, nil
}

// searchText runs a raw FTS5 MATCH. The expression is passed through untouched
// and engine errors (syntax errors included) are returned to the caller.
func searchText(ctx context.Context, q querier, ftsQuery string, limit int) ([]TextResult, error) {
	if strings.TrimSpace(ftsQuery) == "" || limit <= 0 {
		return []TextResult{}, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT rowid, rank
		FROM documents_fts
		WHERE documents_fts MATCH ?
		ORDER BY rank
		LIMIT ?`,
		ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var result TextResult
		if err := rows.Scan(&result.DocumentID, &result.Rank); err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	return results, nil
}

// insertVector stores the embedding for a document
func insertVector(ctx context.Context, q querier, docID int64, vector []float32) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO vec_documents (document_id, embedding) VALUES (?, ?)",
		docID, serializeVector(vector))
	if err != nil {
		return fmt.Errorf("failed to insert vector for document %d: %w", docID, err)
	}
	return nil
}

// deleteVectors removes vector rows for the given documents. Relational
// cascades never reach vec_documents, so every document delete calls this first.
func deleteVectors(ctx context.Context, q querier, docIDs []int64) error {
	const batch = 500
	for start := 0; start < len(docIDs); start += batch {
		end := min(start+batch, len(docIDs))
		ids := docIDs[start:end]
		args := make([]interface{}, len(ids))
		for i, id := range ids {
			args[i] = id
		}
		query := "DELETE FROM vec_documents WHERE document_id IN (" + placeholders(len(ids)) + ")"
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate represents a document with its similarity score
type candidate struct {
	docID int64
	score float64
}

// sortCandidates sorts by score descending, ties broken by document id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].docID < candidates[j].docID
	})
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
