package domain

import "time"

// Membership is the per-(room, user) presence record. A user holds at most one
// membership per room; exactly one membership per non-empty room is the host.
type Membership struct {
	RoomID   RoomID
	UserID   UserID
	VideoOn  bool
	AudioOn  bool
	IsHost   bool
	X        float64
	Y        float64
	JoinedAt time.Time
}

// MediaFlag names a toggleable membership flag.
type MediaFlag string

const (
	FlagVideo MediaFlag = "video"
	FlagAudio MediaFlag = "audio"
)

// MembershipFlags carries the initial toggles supplied on join.
type MembershipFlags struct {
	VideoOn bool
	AudioOn bool
}
