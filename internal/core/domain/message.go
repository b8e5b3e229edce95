package domain

import "encoding/json"

// SignalKind tags a connection-negotiation message. The payload is never
// inspected; the relay only routes it.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// SignalMessage is an ephemeral negotiation message relayed between
// participants. Target empty means broadcast to every other participant.
type SignalMessage struct {
	Kind    SignalKind      `json:"kind"`
	From    UserID          `json:"from"`
	Target  UserID          `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventType names a membership-change notification fanned out to room members.
type EventType string

const (
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventFlagChanged       EventType = "flag-changed"
	EventPositionChanged   EventType = "position-changed"
)

// RoomEvent is a membership or position notification delivered to all room
// members except the originator.
type RoomEvent struct {
	Type    EventType       `json:"type"`
	RoomID  RoomID          `json:"room_id"`
	UserID  UserID          `json:"user_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
