package engine_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/internal/session"
	"github.com/engramlabs/engram/internal/storage/sqlite"
	"github.com/engramlabs/engram/internal/vector"
	"github.com/engramlabs/engram/pkg/types"
)

// fakeEmbedder returns registered vectors for known texts and a unit
// vector derived from an FNV hash otherwise, so unrelated texts land far
// apart and tests can engineer exact similarities where they need them.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failing bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) register(text string, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vec
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, fmt.Errorf("embedder offline")
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return hashVector(text), nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := f.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

// hashVector buckets a hash into an 8-dim one-hot vector: different
// buckets are orthogonal, identical texts identical.
func hashVector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	vec := make([]float32, 8)
	vec[h.Sum32()%8] = 1
	return vec
}

// fakeIndex is an exact-scan in-memory vector index with a switch that
// simulates a degraded backend.
type fakeIndex struct {
	mu      sync.Mutex
	vecs    map[string]map[string][]float32 // user → memory → embedding
	failing bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vecs: make(map[string]map[string][]float32)}
}

func (f *fakeIndex) setDegraded(degraded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = degraded
}

func (f *fakeIndex) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing
}

func (f *fakeIndex) Add(ctx context.Context, userID, memoryID string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return vector.ErrDegraded
	}
	if f.vecs[userID] == nil {
		f.vecs[userID] = make(map[string][]float32)
	}
	f.vecs[userID][memoryID] = embedding
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, userID string, embedding []float32, limit int) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, vector.ErrDegraded
	}
	var hits []vector.Hit
	for id, vec := range f.vecs[userID] {
		hits = append(hits, vector.Hit{ID: id, Similarity: vector.Cosine(embedding, vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeIndex) Remove(ctx context.Context, userID, memoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.vecs[userID], memoryID)
	return nil
}

func (f *fakeIndex) Count(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vecs[userID]), nil
}

// fakeExtractor returns the mentions registered for exact content strings.
type fakeExtractor struct {
	mu       sync.Mutex
	mentions map[string][]types.EntityMention
	calls    int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{mentions: make(map[string][]types.EntityMention)}
}

func (f *fakeExtractor) register(content string, mentions ...types.EntityMention) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mentions[content] = mentions
}

func (f *fakeExtractor) Extract(ctx context.Context, content string) ([]types.EntityMention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.mentions[content], nil
}

// fakeReflector completes every prompt with a fixed summary.
type fakeReflector struct {
	mu      sync.Mutex
	summary string
	prompts []string
}

func (f *fakeReflector) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.summary, nil
}

func (f *fakeReflector) GetModel() string { return "fake-reflect" }

// testEnv bundles a started engine with its fakes and a controllable
// clock.
type testEnv struct {
	svc       *engine.Service
	store     *sqlite.Store
	index     *fakeIndex
	embedder  *fakeEmbedder
	extractor *fakeExtractor
	reflector *fakeReflector
	sessions  *session.MemoryBuffer
	now       time.Time
}

func newTestEnv(t *testing.T, mutate ...func(*engine.Config)) *testEnv {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:     store,
		index:     newFakeIndex(),
		embedder:  newFakeEmbedder(),
		extractor: newFakeExtractor(),
		reflector: &fakeReflector{summary: "compressed insight"},
		sessions:  session.NewMemoryBuffer(50, time.Hour),
		now:       time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local),
	}

	cfg := engine.DefaultConfig()
	cfg.SyncEnrichment = true
	for _, fn := range mutate {
		fn(&cfg)
	}

	svc, err := engine.New(engine.Deps{
		Store:     store,
		Index:     env.index,
		Embedder:  env.embedder,
		Extractor: env.extractor,
		Reflector: env.reflector,
		Sessions:  env.sessions,
	}, cfg)
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return env.now })
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	env.svc = svc
	return env
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

// vectorsAtSimilarity builds two unit vectors whose cosine similarity is
// exactly the given value.
func vectorsAtSimilarity(sim float64) (a, b []float32) {
	angle := math.Acos(sim)
	a = []float32{1, 0, 0, 0, 0, 0, 0, 0}
	b = []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0, 0, 0, 0, 0, 0}
	return a, b
}
