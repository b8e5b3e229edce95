package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOnly(t *testing.T) {
	loc := time.UTC
	at := time.Date(2024, 3, 10, 23, 59, 59, 0, loc)

	got := DateOnly(at, loc)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc), got)
}

func TestDaysBetween(t *testing.T) {
	loc := time.UTC

	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{
			"same day",
			time.Date(2024, 3, 10, 1, 0, 0, 0, loc),
			time.Date(2024, 3, 10, 23, 0, 0, 0, loc),
			0,
		},
		{
			"adjacent days under 24h apart",
			time.Date(2024, 3, 10, 23, 30, 0, 0, loc),
			time.Date(2024, 3, 11, 0, 30, 0, 0, loc),
			1,
		},
		{
			"week apart",
			time.Date(2024, 3, 10, 12, 0, 0, 0, loc),
			time.Date(2024, 3, 17, 12, 0, 0, 0, loc),
			7,
		},
		{
			"negative when b precedes a",
			time.Date(2024, 3, 10, 12, 0, 0, 0, loc),
			time.Date(2024, 3, 8, 12, 0, 0, 0, loc),
			-2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysBetween(tt.a, tt.b, loc))
		})
	}
}

func TestDaysBetween_DSTTransition(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// The spring-forward day is only 23 hours long; it still counts as one day.
	a := time.Date(2024, 3, 9, 12, 0, 0, 0, loc)
	b := time.Date(2024, 3, 10, 12, 0, 0, 0, loc)
	assert.Equal(t, 1, DaysBetween(a, b, loc))

	// Fall-back day is 25 hours long.
	a = time.Date(2024, 11, 2, 12, 0, 0, 0, loc)
	b = time.Date(2024, 11, 3, 12, 0, 0, 0, loc)
	assert.Equal(t, 1, DaysBetween(a, b, loc))
}

func TestIsExpired(t *testing.T) {
	assert.True(t, IsExpired(time.Now().Add(-time.Hour), time.Minute))
	assert.False(t, IsExpired(time.Now(), time.Minute))
}
