package engine

import (
	"fmt"
	"time"

	"github.com/engramlabs/engram/internal/storage"
)

// Timeframe tokens accepted by the recall ranker.
const (
	TimeframeToday     = "today"
	TimeframeYesterday = "yesterday"
	TimeframeThisWeek  = "this_week"
	TimeframeLastWeek  = "last_week"
	TimeframeThisMonth = "this_month"
	TimeframeLastMonth = "last_month"
)

// IsValidTimeframe reports whether token names a supported range.
func IsValidTimeframe(token string) bool {
	switch token {
	case TimeframeToday, TimeframeYesterday, TimeframeThisWeek,
		TimeframeLastWeek, TimeframeThisMonth, TimeframeLastMonth:
		return true
	}
	return false
}

// ResolveTimeframe turns a named timeframe into a half-open [after,
// before) instant range anchored on now, in now's location. Weeks start
// on Monday.
func ResolveTimeframe(token string, now time.Time) (after, before time.Time, err error) {
	day := startOfDay(now)

	switch token {
	case TimeframeToday:
		return day, day.AddDate(0, 0, 1), nil
	case TimeframeYesterday:
		return day.AddDate(0, 0, -1), day, nil
	case TimeframeThisWeek:
		start := startOfWeek(now)
		return start, start.AddDate(0, 0, 7), nil
	case TimeframeLastWeek:
		start := startOfWeek(now).AddDate(0, 0, -7)
		return start, start.AddDate(0, 0, 7), nil
	case TimeframeThisMonth:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return start, start.AddDate(0, 1, 0), nil
	case TimeframeLastMonth:
		end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return end.AddDate(0, -1, 0), end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown timeframe %q", storage.ErrInvalidInput, token)
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns midnight of the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -offset)
}
