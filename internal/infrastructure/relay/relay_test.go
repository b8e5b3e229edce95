package relay

import (
	"encoding/json"
	"testing"

	"studyroom/internal/core/domain"
	"studyroom/internal/infrastructure/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// One collector for the whole package: prometheus collectors register
// globally and must not be created twice.
var testMetrics = monitoring.NewPrometheusCollector()

func newTestRelay() *Relay {
	return NewRelay(testMetrics, zap.NewNop().Sugar())
}

func decode(t *testing.T, frame []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestRelay_TargetedSignal(t *testing.T) {
	r := newTestRelay()

	alice := make(chan []byte, 4)
	bob := make(chan []byte, 4)
	carol := make(chan []byte, 4)
	r.Subscribe("room-1", "alice", alice)
	r.Subscribe("room-1", "bob", bob)
	r.Subscribe("room-1", "carol", carol)

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	r.Publish("room-1", &domain.SignalMessage{
		Kind:    domain.SignalOffer,
		From:    "alice",
		Target:  "bob",
		Payload: payload,
	})

	require.Len(t, bob, 1)
	assert.Empty(t, alice)
	assert.Empty(t, carol)

	env := decode(t, <-bob)
	assert.Equal(t, "offer", env.Type)
	assert.Equal(t, domain.UserID("alice"), env.From)
	assert.JSONEq(t, string(payload), string(env.Payload))
}

func TestRelay_BroadcastExcludesSender(t *testing.T) {
	r := newTestRelay()

	alice := make(chan []byte, 4)
	bob := make(chan []byte, 4)
	carol := make(chan []byte, 4)
	r.Subscribe("room-1", "alice", alice)
	r.Subscribe("room-1", "bob", bob)
	r.Subscribe("room-1", "carol", carol)

	r.Publish("room-1", &domain.SignalMessage{
		Kind: domain.SignalCandidate,
		From: "alice",
	})

	assert.Empty(t, alice, "sender must not receive its own broadcast")
	assert.Len(t, bob, 1)
	assert.Len(t, carol, 1)
}

func TestRelay_EventsExcludeOriginator(t *testing.T) {
	r := newTestRelay()

	alice := make(chan []byte, 4)
	bob := make(chan []byte, 4)
	carol := make(chan []byte, 4)
	r.Subscribe("room-1", "alice", alice)
	r.Subscribe("room-1", "bob", bob)
	r.Subscribe("room-1", "carol", carol)

	r.PublishEvent("room-1", &domain.RoomEvent{
		Type:    domain.EventPositionChanged,
		RoomID:  "room-1",
		UserID:  "alice",
		Payload: json.RawMessage(`{"x":1,"y":2,"seq":1}`),
	})

	assert.Empty(t, alice, "originator must not receive its own event")
	require.Len(t, bob, 1)
	require.Len(t, carol, 1)

	env := decode(t, <-bob)
	assert.Equal(t, "position-changed", env.Type)
	assert.Equal(t, domain.UserID("alice"), env.UserID)
}

func TestRelay_DropsOnFullQueue(t *testing.T) {
	r := newTestRelay()

	bob := make(chan []byte, 1)
	r.Subscribe("room-1", "alice", make(chan []byte, 4))
	r.Subscribe("room-1", "bob", bob)

	// The second frame finds bob's queue full and must be dropped, not
	// block the publisher.
	for i := 0; i < 3; i++ {
		r.Publish("room-1", &domain.SignalMessage{
			Kind: domain.SignalCandidate,
			From: "alice",
		})
	}

	assert.Len(t, bob, 1)
}

func TestRelay_RoomsAreIsolated(t *testing.T) {
	r := newTestRelay()

	bob := make(chan []byte, 4)
	carol := make(chan []byte, 4)
	r.Subscribe("room-1", "bob", bob)
	r.Subscribe("room-2", "carol", carol)

	r.Publish("room-1", &domain.SignalMessage{
		Kind: domain.SignalOffer,
		From: "alice",
	})

	assert.Len(t, bob, 1)
	assert.Empty(t, carol)
}

func TestRelay_Unsubscribe(t *testing.T) {
	r := newTestRelay()

	bob := make(chan []byte, 4)
	r.Subscribe("room-1", "bob", bob)
	assert.Equal(t, 1, r.SubscriberCount("room-1"))

	r.Unsubscribe("room-1", "bob")
	assert.Equal(t, 0, r.SubscriberCount("room-1"))

	r.Publish("room-1", &domain.SignalMessage{
		Kind: domain.SignalOffer,
		From: "alice",
	})
	assert.Empty(t, bob)

	// Unsubscribing twice is harmless.
	r.Unsubscribe("room-1", "bob")
}

func TestRelay_MissingTargetIsBestEffort(t *testing.T) {
	r := newTestRelay()

	alice := make(chan []byte, 4)
	r.Subscribe("room-1", "alice", alice)

	r.Publish("room-1", &domain.SignalMessage{
		Kind:   domain.SignalAnswer,
		From:   "alice",
		Target: "gone",
	})

	assert.Empty(t, alice)
}
