package domain

import "time"

// StreakState tracks consecutive calendar days with at least one study-session
// start. Invariant: Current <= Longest.
type StreakState struct {
	UserID      UserID
	Current     int
	Longest     int
	LastStudyAt time.Time
}
