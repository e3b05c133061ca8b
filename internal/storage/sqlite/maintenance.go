package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// GetUserSettings returns the user's stored overrides, or the zero value
// when none exist.
func (s *Store) GetUserSettings(ctx context.Context, userID string) (types.UserSettings, error) {
	if userID == "" {
		return types.UserSettings{}, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	var settings types.UserSettings
	var decaySecs, reflectSecs, minAgeSecs int64

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, archive_threshold, decay_aggressiveness,
			decay_interval_secs, reflection_interval_secs, reflection_min_age_secs,
			updated_at
		FROM user_settings WHERE user_id = ?`, userID).Scan(
		&settings.UserID,
		&settings.ArchiveThreshold,
		&settings.DecayAggressiveness,
		&decaySecs,
		&reflectSecs,
		&minAgeSecs,
		&settings.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return types.UserSettings{UserID: userID}, nil
	}
	if err != nil {
		return types.UserSettings{}, fmt.Errorf("failed to get user settings: %w", err)
	}

	settings.DecayInterval = time.Duration(decaySecs) * time.Second
	settings.ReflectionInterval = time.Duration(reflectSecs) * time.Second
	settings.ReflectionMinAge = time.Duration(minAgeSecs) * time.Second
	return settings, nil
}

// PutUserSettings upserts the user's overrides.
func (s *Store) PutUserSettings(ctx context.Context, settings types.UserSettings) error {
	if settings.UserID == "" {
		return fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (
			user_id, archive_threshold, decay_aggressiveness,
			decay_interval_secs, reflection_interval_secs, reflection_min_age_secs,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			archive_threshold = excluded.archive_threshold,
			decay_aggressiveness = excluded.decay_aggressiveness,
			decay_interval_secs = excluded.decay_interval_secs,
			reflection_interval_secs = excluded.reflection_interval_secs,
			reflection_min_age_secs = excluded.reflection_min_age_secs,
			updated_at = excluded.updated_at`,
		settings.UserID,
		settings.ArchiveThreshold,
		settings.DecayAggressiveness,
		int64(settings.DecayInterval/time.Second),
		int64(settings.ReflectionInterval/time.Second),
		int64(settings.ReflectionMinAge/time.Second),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put user settings: %w", err)
	}
	return nil
}

// LastJobRun returns when the named job last ran for the user, or the zero
// time if it never has.
func (s *Store) LastJobRun(ctx context.Context, userID, job string) (time.Time, error) {
	if userID == "" || job == "" {
		return time.Time{}, fmt.Errorf("%w: user ID and job are required", storage.ErrInvalidInput)
	}

	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM job_runs WHERE user_id = ? AND job = ?`,
		userID, job).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get job run: %w", err)
	}
	return at, nil
}

// SetJobRun stamps the named job's last run for the user.
func (s *Store) SetJobRun(ctx context.Context, userID, job string, at time.Time) error {
	if userID == "" || job == "" {
		return fmt.Errorf("%w: user ID and job are required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs (user_id, job, last_run) VALUES (?, ?, ?)
		ON CONFLICT(user_id, job) DO UPDATE SET last_run = excluded.last_run`,
		userID, job, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to set job run: %w", err)
	}
	return nil
}
