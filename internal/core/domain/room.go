package domain

import (
	"time"
)

type RoomID string
type UserID string

type Room struct {
	ID          RoomID
	Name        string
	Description string
	IsPublic    bool
	Capacity    int
	Occupancy   int
	Active      bool
	CreatedAt   time.Time

	// EmptySince is the zero value while the room has participants.
	EmptySince time.Time
}

// HasSpace reports whether another participant fits under the capacity limit.
func (r *Room) HasSpace() bool {
	return r.Occupancy < r.Capacity
}
