// Package vector defines the similarity index seam used for semantic
// recall and near-duplicate detection.
//
// Two implementations ship: an embedded chromem index for single-process
// deployments and a pgvector index for shared PostgreSQL deployments. The
// engine never touches either directly — it talks to Index and falls back
// to keyword search when the index is empty or unavailable.
package vector

import (
	"context"
	"math"
)

// Hit is one nearest-neighbor match from the index.
type Hit struct {
	// ID is the memory ID the embedding was stored under.
	ID string

	// Similarity is cosine similarity in [-1, 1]; higher is closer.
	Similarity float64
}

// Index stores embeddings per user and answers nearest-neighbor queries.
type Index interface {
	// Add stores or replaces the embedding for a memory.
	Add(ctx context.Context, userID, memoryID string, embedding []float32) error

	// Search returns up to limit nearest neighbors of the embedding within
	// the user's space, most similar first. An empty index yields an empty
	// result, not an error.
	Search(ctx context.Context, userID string, embedding []float32, limit int) ([]Hit, error)

	// Remove drops a memory's embedding. Removing an absent ID is a no-op.
	Remove(ctx context.Context, userID, memoryID string) error

	// Count reports how many embeddings the user has indexed.
	Count(ctx context.Context, userID string) (int, error)
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
