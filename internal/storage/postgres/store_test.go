package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/internal/storage/postgres"
	"github.com/engramlabs/engram/pkg/types"
)

// newTestStore connects to the test database named by POSTGRES_TEST_DSN,
// truncating all tables first. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}

	store, err := postgres.New(dsn)
	require.NoError(t, err, "failed to open test store")

	require.NoError(t, store.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func newTestMemory(id, userID string, content string) *types.Memory {
	return &types.Memory{
		ID:       id,
		UserID:   userID,
		Sector:   types.SectorFactual,
		Content:  content,
		Strength: types.DefaultStrength,
	}
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	until := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mem := newTestMemory("mem:pg1", "u1", "lives in Lisbon")
	mem.Summary = "home city"
	mem.Tags = []string{"location"}
	mem.ValidUntil = &until
	require.NoError(t, store.Insert(ctx, mem))

	got, err := store.GetByID(ctx, "mem:pg1")
	require.NoError(t, err)
	assert.Equal(t, "lives in Lisbon", got.Content)
	assert.Equal(t, "home city", got.Summary)
	assert.Equal(t, []string{"location"}, got.Tags)
	require.NotNil(t, got.ValidUntil)
	assert.True(t, got.ValidUntil.Equal(until))

	_, err = store.GetByID(ctx, "mem:absent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListByUserOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	weak := newTestMemory("mem:weak", "u1", "weak")
	weak.Strength = 0.2
	strong := newTestMemory("mem:strong", "u1", "strong")
	strong.Strength = 0.9
	require.NoError(t, store.Insert(ctx, weak))
	require.NoError(t, store.Insert(ctx, strong))

	got, err := store.ListByUser(ctx, "u1", storage.Filters{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mem:strong", got[0].ID)
}

func TestRecallCountersAndArchive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestMemory("mem:r", "u1", "recallable")))
	require.NoError(t, store.UpdateStrength(ctx, "mem:r", 0.9))

	got, err := store.GetByID(ctx, "mem:r")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RecallCount)
	require.NotNil(t, got.LastRecalledAt)

	n, err := store.ArchiveBatch(ctx, []string{"mem:r", "mem:gone"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	live, err := store.ListByUser(ctx, "u1", storage.Filters{})
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestKeywordSearchTSV(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestMemory("mem:dog", "u1", "the dog is called Biscuit")))
	require.NoError(t, store.Insert(ctx, newTestMemory("mem:cat", "u1", "allergic to cats")))

	got, err := store.KeywordSearch(ctx, "u1", "dog name", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "mem:dog", got[0].ID)

	// Pure stop words fall back to the strength scan instead of erroring.
	got, err = store.KeywordSearch(ctx, "u1", "what is it", 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestUpsertEntityCanonical(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertEntity(ctx, &types.Entity{
		UserID: "u1", Type: types.EntityPerson, Name: "Alice",
	})
	require.NoError(t, err)

	second, err := store.UpsertEntity(ctx, &types.Entity{
		UserID: "u1", Type: types.EntityPerson, Name: "Alice",
		Attributes: map[string]string{"city": "Oslo"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Oslo", second.Attributes["city"])
}

func TestRelationIdempotence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice, err := store.UpsertEntity(ctx, &types.Entity{UserID: "u1", Type: types.EntityPerson, Name: "Alice"})
	require.NoError(t, err)
	bob, err := store.UpsertEntity(ctx, &types.Entity{UserID: "u1", Type: types.EntityPerson, Name: "Bob"})
	require.NoError(t, err)

	rel := types.NewRelation("u1", alice.ID, bob.ID, types.RelKnows)
	require.NoError(t, store.InsertRelation(ctx, &rel))
	again := types.NewRelation("u1", alice.ID, bob.ID, types.RelKnows)
	require.NoError(t, store.InsertRelation(ctx, &again))

	edges, err := store.RelationsFrom(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestSettingsAndJobRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	settings, err := store.GetUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, settings.ArchiveThreshold)

	settings.ArchiveThreshold = 0.2
	settings.DecayInterval = 4 * time.Hour
	require.NoError(t, store.PutUserSettings(ctx, settings))

	got, err := store.GetUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.ArchiveThreshold)
	assert.Equal(t, 4*time.Hour, got.DecayInterval)

	at := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetJobRun(ctx, "u1", storage.JobDecay, at))
	last, err := store.LastJobRun(ctx, "u1", storage.JobDecay)
	require.NoError(t, err)
	assert.True(t, last.Equal(at))
}
