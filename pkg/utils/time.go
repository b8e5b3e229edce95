package utils

import (
	"math"
	"time"
)

// DateOnly truncates a timestamp to midnight in the given location.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DaysBetween returns the number of calendar-day boundaries between two
// timestamps in the given location. Negative when b is before a.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	da := DateOnly(a, loc)
	db := DateOnly(b, loc)
	// Rounding absorbs the 23h/25h days around DST transitions.
	return int(math.Round(db.Sub(da).Hours() / 24))
}

// IsExpired checks if a timestamp is expired
func IsExpired(timestamp time.Time, ttl time.Duration) bool {
	return time.Since(timestamp) > ttl
}

// Now returns current time (useful for mocking in tests)
var Now = time.Now
