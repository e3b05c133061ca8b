package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

func TestUserSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A user with no stored row gets the zero value, not an error.
	got, err := store.GetUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Zero(t, got.ArchiveThreshold)

	settings := types.UserSettings{
		UserID:              "u1",
		ArchiveThreshold:    0.15,
		DecayAggressiveness: 1.5,
		DecayInterval:       6 * time.Hour,
		ReflectionInterval:  24 * time.Hour,
		ReflectionMinAge:    72 * time.Hour,
	}
	require.NoError(t, store.PutUserSettings(ctx, settings))

	got, err = store.GetUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.15, got.ArchiveThreshold)
	assert.Equal(t, 1.5, got.DecayAggressiveness)
	assert.Equal(t, 6*time.Hour, got.DecayInterval)
	assert.Equal(t, 24*time.Hour, got.ReflectionInterval)
	assert.Equal(t, 72*time.Hour, got.ReflectionMinAge)
	assert.False(t, got.UpdatedAt.IsZero())

	// Re-put overwrites in place.
	settings.ArchiveThreshold = 0.3
	require.NoError(t, store.PutUserSettings(ctx, settings))
	got, err = store.GetUserSettings(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.ArchiveThreshold)
}

func TestJobRunStamps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	last, err := store.LastJobRun(ctx, "u1", storage.JobDecay)
	require.NoError(t, err)
	assert.True(t, last.IsZero(), "never-run job reports the zero time")

	first := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetJobRun(ctx, "u1", storage.JobDecay, first))

	last, err = store.LastJobRun(ctx, "u1", storage.JobDecay)
	require.NoError(t, err)
	assert.True(t, last.Equal(first))

	// Jobs are stamped independently per (user, job).
	last, err = store.LastJobRun(ctx, "u1", storage.JobReflection)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	later := first.Add(12 * time.Hour)
	require.NoError(t, store.SetJobRun(ctx, "u1", storage.JobDecay, later))
	last, err = store.LastJobRun(ctx, "u1", storage.JobDecay)
	require.NoError(t, err)
	assert.True(t, last.Equal(later))
}
