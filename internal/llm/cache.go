package llm

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder wraps an Embedder with an in-process ristretto cache.
// Dedup checks and recall both embed recently-stored text, so the hit
// rate is high and every hit saves a provider round trip.
type CachingEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

var _ Embedder = (*CachingEmbedder)(nil)

// NewCachingEmbedder wraps inner with a cache of roughly maxBytes of
// vectors. A maxBytes of 0 defaults to 64 MiB.
func NewCachingEmbedder(inner Embedder, maxBytes int64) (*CachingEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

// EmbedOne embeds a single text, serving repeats from the cache.
func (c *CachingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		return vec, nil
	}

	vec, err := c.inner.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(text, vec)
	return vec, nil
}

// Embed embeds a batch, fetching only the cache misses from the provider.
func (c *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIndexes []int

	for i, text := range texts {
		if vec, ok := c.lookup(text); ok {
			vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIndexes = append(missIndexes, i)
	}

	if len(missTexts) > 0 {
		fetched, err := c.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range fetched {
			vectors[missIndexes[j]] = vec
			c.store(missTexts[j], vec)
		}
	}

	return vectors, nil
}

// GetModel returns the wrapped provider's model name.
func (c *CachingEmbedder) GetModel() string {
	return c.inner.GetModel()
}

// Degraded forwards the wrapped provider's breaker state when it has one.
func (c *CachingEmbedder) Degraded() bool {
	if d, ok := c.inner.(interface{ Degraded() bool }); ok {
		return d.Degraded()
	}
	return false
}

// Wait blocks until buffered cache writes have been applied. Ristretto
// admits entries asynchronously, so a vector stored by one call may not
// be visible to the next without this.
func (c *CachingEmbedder) Wait() {
	c.cache.Wait()
}

// Close releases the cache's internal goroutines.
func (c *CachingEmbedder) Close() {
	c.cache.Close()
}

func (c *CachingEmbedder) key(text string) string {
	// Model name is part of the key so a model switch never serves stale
	// vectors of the wrong dimension.
	return c.inner.GetModel() + "\x00" + text
}

func (c *CachingEmbedder) lookup(text string) ([]float32, bool) {
	value, ok := c.cache.Get(c.key(text))
	if !ok {
		return nil, false
	}
	vec, ok := value.([]float32)
	return vec, ok
}

func (c *CachingEmbedder) store(text string, vec []float32) {
	c.cache.Set(c.key(text), vec, int64(len(vec)*4))
}
