package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/pkg/types"
)

func TestDuplicateCollapsesIntoReinforcement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	content := "the user's birthday is March 3rd"
	opts := engine.StoreOptions{Sector: types.SectorFactual}

	first, err := env.svc.StoreRich(ctx, "u1", content, opts)
	require.NoError(t, err)

	firstRow, err := env.store.GetByID(ctx, first)
	require.NoError(t, err)

	second, err := env.svc.StoreRich(ctx, "u1", content, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical factual content must resolve to the same memory")

	row, err := env.store.GetByID(ctx, first)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, row.Strength, firstRow.Strength, "a duplicate store reinforces")
	assert.Equal(t, firstRow.RecallCount+1, row.RecallCount)

	stats, err := env.store.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total, "no second row was created")
}

func TestEpisodicContentAlwaysInserts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	content := "talked about the weekend hiking plan"
	opts := engine.StoreOptions{Sector: types.SectorEpisodic}

	first, err := env.svc.StoreRich(ctx, "u1", content, opts)
	require.NoError(t, err)
	second, err := env.svc.StoreRich(ctx, "u1", content, opts)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "episodic memories may repeat")

	stats, err := env.store.GetStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
}

func TestContradictionBanding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldContent := "user's favorite language is Rust"
	newContent := "user's favorite language is Go"
	vecOld, vecNew := vectorsAtSimilarity(0.80)
	env.embedder.register(oldContent, vecOld)
	env.embedder.register(newContent, vecNew)
	env.extractor.register(oldContent, types.EntityMention{Type: types.EntityTopic, Name: "language"})

	oldID, err := env.svc.StoreRich(ctx, "u1", oldContent, engine.StoreOptions{Sector: types.SectorFactual})
	require.NoError(t, err)

	oldBefore, err := env.store.GetByID(ctx, oldID)
	require.NoError(t, err)

	newID, err := env.svc.StoreRich(ctx, "u1", newContent, engine.StoreOptions{Sector: types.SectorFactual})
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID, "a contradiction produces a fresh row")

	oldAfter, err := env.store.GetByID(ctx, oldID)
	require.NoError(t, err)
	assert.InDelta(t, oldBefore.Strength/2, oldAfter.Strength, 1e-9, "the contradicted memory is halved")
	assert.LessOrEqual(t, oldAfter.Strength, 0.5)

	relations, err := env.store.ListRelationsByUser(ctx, "u1")
	require.NoError(t, err)

	var contradicts, updated bool
	for _, rel := range relations {
		if rel.Kind == types.RelContradicts && rel.ToMemory == oldID {
			contradicts = true
		}
		if rel.Kind == types.RelUpdatedFrom && rel.ToMemory == newID {
			updated = true
		}
	}
	assert.True(t, contradicts, "expected a contradicts edge to the old memory")
	assert.True(t, updated, "expected an updated_from edge to the new memory")
}

func TestCrossSectorCandidatesIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	content := "the standup moved to 9am"
	first, err := env.svc.StoreRich(ctx, "u1", content, engine.StoreOptions{Sector: types.SectorProcedural})
	require.NoError(t, err)

	// Same content, different durable sector: no dedup across sectors.
	second, err := env.svc.StoreRich(ctx, "u1", content, engine.StoreOptions{Sector: types.SectorFactual})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDegradedIndexStillStores(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.index.setDegraded(true)

	id, err := env.svc.StoreRich(ctx, "u1", "user lives in Lisbon", engine.StoreOptions{Sector: types.SectorFactual})
	require.NoError(t, err, "store never fails because the index is down")

	row, err := env.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "user lives in Lisbon", row.Content)
}

func TestDedupScopedToUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	content := "prefers tea over coffee"
	first, err := env.svc.StoreRich(ctx, "u1", content, engine.StoreOptions{Sector: types.SectorFactual})
	require.NoError(t, err)
	second, err := env.svc.StoreRich(ctx, "u2", content, engine.StoreOptions{Sector: types.SectorFactual})
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "memories never dedup across users")
}
