package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// seedStaleEpisodic stores n old, weak episodic memories eligible for
// reflection.
func seedStaleEpisodic(t *testing.T, env *testEnv, n int) []string {
	t.Helper()
	ctx := context.Background()

	contents := []string{
		"chatted about trying the new ramen place",
		"mentioned the commute was slow again",
		"talked about switching to a standing desk",
		"complained the office coffee got worse",
		"said the weekend trip might be postponed",
	}

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := env.svc.StoreRich(ctx, "u1", contents[i%len(contents)], engine.StoreOptions{
			Sector:  types.SectorEpisodic,
			EventAt: env.now.Add(-20 * 24 * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, env.store.SetStrength(ctx, id, 0.3))
		ids = append(ids, id)
	}
	return ids
}

func TestReflectionCompressesStaleEpisodic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ids := seedStaleEpisodic(t, env, 3)

	report, err := env.svc.Reflect(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Reflected, "all three sources were consumed")
	assert.Equal(t, 1, report.Compressed, "one reflective memory replaces them")

	for _, id := range ids {
		row, err := env.store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, row.Archived, "consumed sources are archived, not deleted")
	}

	reflective, err := env.store.ListByUser(ctx, "u1", storage.Filters{
		Sectors: []types.Sector{types.SectorReflective},
	})
	require.NoError(t, err)
	require.Len(t, reflective, 1)
	assert.Equal(t, "compressed insight", reflective[0].Content)
	assert.NotEmpty(t, env.reflector.prompts, "the reflection model was consulted")
}

func TestReflectionSkipsSmallBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedStaleEpisodic(t, env, 2) // below the default minimum of 3

	report, err := env.svc.Reflect(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, report.Compressed, "too little material for a model call")
	assert.Empty(t, env.reflector.prompts)
}

func TestReflectionIgnoresFreshAndStrongMemories(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Fresh episodic, strong episodic, and durable factual content must
	// all survive a reflection pass untouched.
	freshID, err := env.svc.StoreRich(ctx, "u1", "just mentioned a new podcast", engine.StoreOptions{Sector: types.SectorEpisodic})
	require.NoError(t, err)

	strongID, err := env.svc.StoreRich(ctx, "u1", "retold the favorite story about the marathon", engine.StoreOptions{
		Sector:  types.SectorEpisodic,
		EventAt: env.now.Add(-20 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, env.store.SetStrength(ctx, strongID, 0.9))

	factID, err := env.svc.StoreRich(ctx, "u1", "user's sister is named Clara", engine.StoreOptions{Sector: types.SectorFactual})
	require.NoError(t, err)

	report, err := env.svc.Reflect(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, report.Reflected)

	for _, id := range []string{freshID, strongID, factID} {
		row, err := env.store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, row.Archived)
	}
}

func TestReflectionThrottlesPerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seedStaleEpisodic(t, env, 3)

	report, err := env.svc.Reflect(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Compressed)

	// More stale material appears, but the schedule gate holds.
	seedStaleEpisodic(t, env, 3)
	env.advance(time.Hour)

	report, err = env.svc.Reflect(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, report.Compressed, "reflection runs at most once per schedule")
}

func TestReflectionRespectsTokenBudget(t *testing.T) {
	env := newTestEnv(t, func(cfg *engine.Config) {
		cfg.ReflectionTokenBudget = 100
		cfg.ReflectionMinBatch = 2
	})
	ctx := context.Background()

	// Each source runs well past a third of the budget, so no batch can
	// hold more than two of them.
	long := "talked at length about the apartment search, the two open houses visited over the weekend, " +
		"what the rental agent said about asking prices nearby, and the plan to widen the search radius"
	for i := 0; i < 4; i++ {
		id, err := env.svc.StoreRich(ctx, "u1", long, engine.StoreOptions{
			Sector:  types.SectorEpisodic,
			EventAt: env.now.Add(-20 * 24 * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, env.store.SetStrength(ctx, id, 0.3))
	}

	report, err := env.svc.Reflect(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Compressed, "a tight budget splits the sources into two-item batches")
	assert.Equal(t, 4, report.Reflected)
}
