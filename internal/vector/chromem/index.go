// Package chromem provides an embedded vector index backed by chromem-go,
// a pure Go vector database. It is the default index for single-process
// deployments: no extra service, optional on-disk persistence.
package chromem

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/engramlabs/engram/internal/vector"
)

// Index implements vector.Index on per-user chromem collections.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

var _ vector.Index = (*Index)(nil)

// New creates an index. With an empty persistPath everything lives in
// memory; otherwise collections are persisted under the given directory
// and reloaded on restart.
func New(persistPath string) (*Index, error) {
	var db *chromem.DB
	var err error

	if persistPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("chromem: failed to open persistent db: %w", err)
		}
	}

	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collection returns the user's collection, creating it on first use.
// Each user gets their own collection for namespace isolation.
func (x *Index) collection(userID string) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[userID]
	x.mu.RUnlock()
	if ok {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Double-check after acquiring the write lock.
	if col, ok := x.collections[userID]; ok {
		return col, nil
	}

	col, err := x.db.GetOrCreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: failed to create collection for %s: %w", userID, err)
	}
	x.collections[userID] = col
	return col, nil
}

// Add stores or replaces the embedding for a memory.
func (x *Index) Add(ctx context.Context, userID, memoryID string, embedding []float32) error {
	if memoryID == "" || len(embedding) == 0 {
		return fmt.Errorf("chromem: memory ID and embedding are required")
	}

	col, err := x.collection(userID)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        memoryID,
		Embedding: embedding,
		Metadata:  map[string]string{"user_id": userID},
		// chromem requires non-empty content even when the embedding is
		// precomputed; the row store holds the real text.
		Content: memoryID,
	})
	if err != nil {
		return fmt.Errorf("chromem: failed to add document: %w", err)
	}
	return nil
}

// Search returns up to limit nearest neighbors, most similar first.
func (x *Index) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]vector.Hit, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}

	col, err := x.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection, so clamp first.
	n := limit
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		// Concurrent removals can still shrink the collection under us;
		// treat that as an empty result rather than a failure.
		if isInsufficientDocsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chromem: query failed: %w", err)
	}

	hits := make([]vector.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, vector.Hit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Remove drops a memory's embedding; absent IDs are a no-op.
func (x *Index) Remove(ctx context.Context, userID, memoryID string) error {
	col, err := x.collection(userID)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
		return fmt.Errorf("chromem: failed to delete document: %w", err)
	}
	return nil
}

// Count reports how many embeddings the user has indexed.
func (x *Index) Count(ctx context.Context, userID string) (int, error) {
	col, err := x.collection(userID)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// isInsufficientDocsError matches chromem's error for nResults exceeding
// the collection size.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
