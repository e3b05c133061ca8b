package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := New("")
	require.NoError(t, err)
	return idx
}

func TestAddAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "u1", "mem:1", []float32{1, 0, 0}))
	require.NoError(t, idx.Add(ctx, "u1", "mem:2", []float32{0, 1, 0}))
	require.NoError(t, idx.Add(ctx, "u1", "mem:3", []float32{0.9, 0.1, 0}))

	hits, err := idx.Search(ctx, "u1", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mem:1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "mem:3", hits[1].ID)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	hits, err := idx.Search(context.Background(), "u1", []float32{1, 0}, 5)
	require.NoError(t, err, "empty index must not error")
	assert.Empty(t, hits)
}

func TestSearchClampsLimit(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "u1", "mem:1", []float32{1, 0}))

	// Asking for more neighbors than documents must not error.
	hits, err := idx.Search(ctx, "u1", []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestUserIsolation(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "u1", "mem:1", []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, "u2", "mem:2", []float32{1, 0}))

	hits, err := idx.Search(ctx, "u1", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mem:1", hits[0].ID)

	n, err := idx.Count(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemove(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "u1", "mem:1", []float32{1, 0}))
	require.NoError(t, idx.Remove(ctx, "u1", "mem:1"))

	n, err := idx.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	hits, err := idx.Search(ctx, "u1", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAddReplacesEmbedding(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "u1", "mem:1", []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, "u1", "mem:1", []float32{0, 1}))

	n, err := idx.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := idx.Search(ctx, "u1", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}
