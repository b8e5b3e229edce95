package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"studyroom/internal/core/domain"
	rlog "studyroom/pkg/logger"
	"studyroom/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type sessionState int

const (
	stateConnecting sessionState = iota
	stateJoined
	stateActive
	stateLeaving
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateJoined:
		return "joined"
	case stateActive:
		return "active"
	case stateLeaving:
		return "leaving"
	default:
		return "closed"
	}
}

// leaveTimeout bounds the membership release during cleanup, which runs on a
// background context because the request context is already gone.
const leaveTimeout = 5 * time.Second

type clientMessage struct {
	Type    string          `json:"type"`
	Target  domain.UserID   `json:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type positionPayload struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Seq uint64  `json:"seq"`
}

type togglePayload struct {
	Flag  string `json:"flag"`
	Value bool   `json:"value"`
}

type participantInfo struct {
	UserID  domain.UserID `json:"user_id"`
	VideoOn bool          `json:"video_on"`
	AudioOn bool          `json:"audio_on"`
	IsHost  bool          `json:"is_host"`
	X       float64       `json:"x"`
	Y       float64       `json:"y"`
}

// session is one participant's live connection. All socket writes happen on
// the run loop goroutine; the relay and other sessions only ever touch the
// outbound queue.
type session struct {
	server *WebSocketServer
	conn   *websocket.Conn
	id     string
	room   domain.RoomID
	user   domain.UserID
	flags  domain.MembershipFlags
	logger *zap.SugaredLogger

	state    sessionState
	joined   bool
	outbound chan []byte

	closeOnce   sync.Once
	closing     chan struct{}
	cleanupOnce sync.Once
	done        chan struct{}
}

func newSession(server *WebSocketServer, conn *websocket.Conn, room domain.RoomID, user domain.UserID, flags domain.MembershipFlags) *session {
	id := utils.GenerateSessionID()
	return &session{
		server: server,
		conn:   conn,
		id:     id,
		room:   room,
		user:   user,
		flags:  flags,
		logger: server.logger.With("session_id", id, "room_id", room, "user_id", user),

		state:    stateConnecting,
		outbound: make(chan []byte, server.cfg.SendBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// shutdown asks the run loop to stop. Safe to call from any goroutine, any
// number of times; waiters block on done for the cleanup to finish.
func (s *session) shutdown(reason string) {
	s.closeOnce.Do(func() {
		s.logger.Infow("session shutdown requested", "reason", reason)
		close(s.closing)
	})
}

func (s *session) run(ctx context.Context) {
	defer s.cleanup()

	ctx = rlog.ContextWithParticipant(ctx, string(s.room), string(s.user))
	start := time.Now()

	membership, err := s.server.registry.Join(ctx, s.room, s.user, s.flags)
	if err != nil {
		s.server.metrics.RecordJoinRejected(rejectReason(err))
		s.logger.Infow("join rejected", "error", err)
		s.writeFrame(errorFrame(err))
		return
	}
	s.joined = true
	s.state = stateJoined

	// The streak is advanced on every successful join. Losing the update
	// is not worth failing the session over.
	if _, err := s.server.streaks.Touch(ctx, s.user); err != nil {
		s.logger.Warnw("streak update failed", "error", err)
	} else {
		s.server.metrics.RecordStreakUpdate()
	}

	s.server.relay.Subscribe(s.room, s.user, s.outbound)

	joinedPayload, _ := json.Marshal(participantInfo{
		UserID:  membership.UserID,
		VideoOn: membership.VideoOn,
		AudioOn: membership.AudioOn,
		IsHost:  membership.IsHost,
		X:       membership.X,
		Y:       membership.Y,
	})
	s.server.relay.PublishEvent(s.room, &domain.RoomEvent{
		Type:    domain.EventParticipantJoined,
		RoomID:  s.room,
		UserID:  s.user,
		Payload: joinedPayload,
	})

	participants, err := s.server.registry.Participants(ctx, s.room)
	if err != nil {
		s.logger.Warnw("participant snapshot failed", "error", err)
	}
	s.writeFrame(ackFrame(s.room, membership, participants))

	s.server.metrics.RecordJoin(s.room, len(participants), time.Since(start))
	s.state = stateActive
	s.logger.Infow("participant joined", "is_host", membership.IsHost)

	s.loop(ctx)
}

func (s *session) loop(ctx context.Context) {
	s.conn.SetReadDeadline(time.Now().Add(s.server.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.server.cfg.PongTimeout))
		return nil
	})

	messages := make(chan clientMessage, 10)
	readErr := make(chan error, 1)

	go func() {
		for {
			var msg clientMessage
			if err := s.conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			s.conn.SetReadDeadline(time.Now().Add(s.server.cfg.PongTimeout))
			select {
			case messages <- msg:
			case <-s.closing:
				return
			}
		}
	}()

	pingTicker := time.NewTicker(s.server.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg := <-messages:
			if err := s.handleMessage(ctx, msg); err != nil {
				if errors.Is(err, errLeaveRequested) {
					return
				}
				s.logger.Infow("message rejected", "type", msg.Type, "error", err)
				s.writeFrame(errorFrame(err))
			}

		case frame := <-s.outbound:
			if !s.writeFrame(frame) {
				return
			}

		case <-pingTicker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("ping failed", "error", err)
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("connection read failed", "error", err)
			}
			return

		case <-s.closing:
			return

		case <-ctx.Done():
			return
		}
	}
}

// errLeaveRequested is an internal sentinel for a client-initiated leave.
var errLeaveRequested = errors.New("leave requested")

func (s *session) handleMessage(ctx context.Context, msg clientMessage) error {
	if s.state != stateActive {
		return fmt.Errorf("session is %s, not accepting messages", s.state)
	}

	switch msg.Type {
	case string(domain.SignalOffer), string(domain.SignalAnswer), string(domain.SignalCandidate):
		s.server.relay.Publish(s.room, &domain.SignalMessage{
			Kind:    domain.SignalKind(msg.Type),
			From:    s.user,
			Target:  msg.Target,
			Payload: msg.Payload,
		})
		return nil

	case "position":
		var pos positionPayload
		if err := json.Unmarshal(msg.Payload, &pos); err != nil {
			return fmt.Errorf("invalid position payload: %w", err)
		}
		if err := s.server.positions.UpdatePosition(ctx, s.room, s.user, pos.X, pos.Y, pos.Seq); err != nil {
			return err
		}
		s.server.metrics.RecordPositionUpdate()
		return nil

	case "toggle":
		var toggle togglePayload
		if err := json.Unmarshal(msg.Payload, &toggle); err != nil {
			return fmt.Errorf("invalid toggle payload: %w", err)
		}
		flag := domain.MediaFlag(toggle.Flag)
		if flag != domain.FlagVideo && flag != domain.FlagAudio {
			return fmt.Errorf("unknown flag: %s", toggle.Flag)
		}
		if err := s.server.registry.SetFlag(ctx, s.room, s.user, flag, toggle.Value); err != nil {
			return err
		}
		s.server.relay.PublishEvent(s.room, &domain.RoomEvent{
			Type:    domain.EventFlagChanged,
			RoomID:  s.room,
			UserID:  s.user,
			Payload: msg.Payload,
		})
		return nil

	case "leave":
		return errLeaveRequested

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// cleanup releases everything the session holds. Runs exactly once, covering
// graceful leaves, dropped connections, and server shutdown alike.
func (s *session) cleanup() {
	s.cleanupOnce.Do(func() {
		s.state = stateLeaving
		s.shutdown("cleanup")

		s.server.relay.Unsubscribe(s.room, s.user)
		s.server.positions.Forget(s.room, s.user)

		if s.joined {
			ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
			if err := s.server.registry.Leave(ctx, s.room, s.user); err != nil {
				s.logger.Errorw("membership release failed", "error", err)
			}
			cancel()

			s.server.relay.PublishEvent(s.room, &domain.RoomEvent{
				Type:   domain.EventParticipantLeft,
				RoomID: s.room,
				UserID: s.user,
			})
			s.server.metrics.RecordLeave(s.room, s.server.relay.SubscriberCount(s.room))
			s.logger.Infow("participant left")
		}

		s.server.removeSession(s)
		s.conn.Close()
		s.state = stateClosed
		close(s.done)
	})
}

func (s *session) writeFrame(frame []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.logger.Infow("write failed", "error", err)
		return false
	}
	return true
}

func ackFrame(room domain.RoomID, membership *domain.Membership, participants []*domain.Membership) []byte {
	roster := make([]participantInfo, 0, len(participants))
	for _, p := range participants {
		roster = append(roster, participantInfo{
			UserID:  p.UserID,
			VideoOn: p.VideoOn,
			AudioOn: p.AudioOn,
			IsHost:  p.IsHost,
			X:       p.X,
			Y:       p.Y,
		})
	}

	frame, _ := json.Marshal(map[string]interface{}{
		"type":         "joined",
		"room_id":      room,
		"is_host":      membership.IsHost,
		"participants": roster,
	})
	return frame
}

func errorFrame(err error) []byte {
	frame, _ := json.Marshal(map[string]interface{}{
		"type":    "error",
		"message": err.Error(),
	})
	return frame
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, domain.ErrRoomFull):
		return "room_full"
	case errors.Is(err, domain.ErrAlreadyMember):
		return "already_member"
	default:
		return "internal"
	}
}
