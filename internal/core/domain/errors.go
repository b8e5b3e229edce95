package domain

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyMember  = errors.New("already a member of room")
	ErrNotMember      = errors.New("not a member of room")
	ErrStreakNotFound = errors.New("streak state not found")

	// ErrConflict is returned by the gateway when an optimistic
	// compare-and-set loses a race and should be re-evaluated.
	ErrConflict = errors.New("concurrent modification")
)
