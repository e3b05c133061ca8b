package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a deterministic vector per text and counts how
// often the provider is actually hit.
type fakeEmbedder struct {
	singleCalls int
	batchCalls  int
	lastBatch   []string
	err         error
	degraded    bool
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	f.singleCalls++
	if f.err != nil {
		return nil, f.err
	}
	return fakeVector(text), nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	f.lastBatch = append([]string(nil), texts...)
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = fakeVector(text)
	}
	return vectors, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

func (f *fakeEmbedder) Degraded() bool { return f.degraded }

func fakeVector(text string) []float32 {
	return []float32{float32(len(text)), 1}
}

func newTestCachingEmbedder(t *testing.T, inner Embedder) *CachingEmbedder {
	t.Helper()
	cached, err := NewCachingEmbedder(inner, 1<<20)
	require.NoError(t, err)
	t.Cleanup(cached.Close)
	return cached
}

func TestCachingEmbedderServesRepeats(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := newTestCachingEmbedder(t, fake)

	first, err := cached.EmbedOne(context.Background(), "my dog is named biscuit")
	require.NoError(t, err)
	cached.Wait()

	second, err := cached.EmbedOne(context.Background(), "my dog is named biscuit")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.singleCalls, "repeat should be served from cache")
}

func TestCachingEmbedderBatchFetchesOnlyMisses(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := newTestCachingEmbedder(t, fake)

	_, err := cached.EmbedOne(context.Background(), "alpha")
	require.NoError(t, err)
	cached.Wait()

	vectors, err := cached.Embed(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	// Only the two misses reach the provider, and results land back in
	// caller order.
	assert.Equal(t, []string{"beta", "gamma"}, fake.lastBatch)
	assert.Equal(t, fakeVector("alpha"), vectors[0])
	assert.Equal(t, fakeVector("beta"), vectors[1])
	assert.Equal(t, fakeVector("gamma"), vectors[2])
}

func TestCachingEmbedderAllHitsSkipProvider(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := newTestCachingEmbedder(t, fake)

	_, err := cached.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	cached.Wait()
	require.Equal(t, 1, fake.batchCalls)

	_, err = cached.Embed(context.Background(), []string{"two", "one"})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.batchCalls, "fully cached batch should not reach the provider")
}

func TestCachingEmbedderEmptyBatch(t *testing.T) {
	fake := &fakeEmbedder{}
	cached := newTestCachingEmbedder(t, fake)

	vectors, err := cached.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Equal(t, 0, fake.batchCalls)
}

func TestCachingEmbedderPropagatesErrors(t *testing.T) {
	boom := errors.New("embedding service unavailable")
	fake := &fakeEmbedder{err: boom}
	cached := newTestCachingEmbedder(t, fake)

	_, err := cached.EmbedOne(context.Background(), "text")
	require.ErrorIs(t, err, boom)

	_, err = cached.Embed(context.Background(), []string{"text"})
	require.ErrorIs(t, err, boom)
}

func TestCachingEmbedderForwardsDegraded(t *testing.T) {
	fake := &fakeEmbedder{degraded: true}
	cached := newTestCachingEmbedder(t, fake)
	assert.True(t, cached.Degraded())

	fake.degraded = false
	assert.False(t, cached.Degraded())
}
