package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/engine"
)

func TestResolveTimeframe(t *testing.T) {
	// Sunday noon, the anchor the engine contract is specified against.
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)
	day := func(d int) time.Time { return time.Date(2025, 6, d, 0, 0, 0, 0, time.Local) }

	tests := []struct {
		token  string
		after  time.Time
		before time.Time
	}{
		{engine.TimeframeToday, day(15), day(16)},
		{engine.TimeframeYesterday, day(14), day(15)},
		// June 15 2025 is a Sunday; its Monday-start week began June 9.
		{engine.TimeframeThisWeek, day(9), day(16)},
		{engine.TimeframeLastWeek, day(2), day(9)},
		{engine.TimeframeThisMonth, day(1), time.Date(2025, 7, 1, 0, 0, 0, 0, time.Local)},
		{engine.TimeframeLastMonth, time.Date(2025, 5, 1, 0, 0, 0, 0, time.Local), day(1)},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			after, before, err := engine.ResolveTimeframe(tt.token, now)
			require.NoError(t, err)
			assert.True(t, after.Equal(tt.after), "after = %v, want %v", after, tt.after)
			assert.True(t, before.Equal(tt.before), "before = %v, want %v", before, tt.before)
		})
	}
}

func TestResolveTimeframeRejectsUnknownToken(t *testing.T) {
	_, _, err := engine.ResolveTimeframe("fortnight", time.Now())
	assert.Error(t, err)
	assert.False(t, engine.IsValidTimeframe("fortnight"))
	assert.True(t, engine.IsValidTimeframe(engine.TimeframeLastWeek))
}

func TestResolveTimeframeMondayAnchor(t *testing.T) {
	// On a Monday, this_week starts that same day.
	monday := time.Date(2025, 6, 9, 8, 30, 0, 0, time.Local)
	after, before, err := engine.ResolveTimeframe(engine.TimeframeThisWeek, monday)
	require.NoError(t, err)
	assert.True(t, after.Equal(time.Date(2025, 6, 9, 0, 0, 0, 0, time.Local)))
	assert.True(t, before.Equal(time.Date(2025, 6, 16, 0, 0, 0, 0, time.Local)))
}
