package signal

import (
	"net/http"
	"sync"
	"time"

	"studyroom/internal/core/domain"
	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/monitoring"
	"studyroom/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Config carries the keepalive and queueing policy for live connections.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

type sessionKey struct {
	Room domain.RoomID
	User domain.UserID
}

// WebSocketServer owns the live connections. Each accepted socket becomes a
// session that walks join -> active -> leaving and is guaranteed to release
// its membership exactly once no matter how the connection dies.
type WebSocketServer struct {
	registry  ports.RoomRegistry
	streaks   ports.StreakEngine
	positions ports.PositionSynchronizer
	relay     ports.Relay

	metrics *monitoring.PrometheusCollector
	cfg     Config
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

func NewWebSocketServer(
	registry ports.RoomRegistry,
	streaks ports.StreakEngine,
	positions ports.PositionSynchronizer,
	relay ports.Relay,
	metrics *monitoring.PrometheusCollector,
	cfg Config,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		registry:  registry,
		streaks:   streaks,
		positions: positions,
		relay:     relay,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		sessions:  make(map[sessionKey]*session),
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	userID := r.URL.Query().Get("user_id")

	if err := validation.ValidateRoomID(roomID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateUserID(userID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flags := domain.MembershipFlags{
		VideoOn: r.URL.Query().Get("video") == "true",
		AudioOn: r.URL.Query().Get("audio") == "true",
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	key := sessionKey{Room: domain.RoomID(roomID), User: domain.UserID(userID)}
	sess := newSession(s, conn, key.Room, key.User, flags)

	// A reconnecting user supersedes their previous session, which must
	// finish leaving before the new join or the membership records would
	// interleave. Lookup and insert share one critical section so two
	// racing connections cannot both claim the slot; the loser retries
	// after the evicted session has drained.
	for {
		s.mu.Lock()
		old := s.sessions[key]
		if old == nil {
			s.sessions[key] = sess
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		s.logger.Infow("superseding previous session",
			"room_id", key.Room,
			"user_id", key.User,
		)
		old.shutdown("superseded by new connection")
		<-old.done
	}

	sess.run(r.Context())
}

func (s *WebSocketServer) removeSession(sess *session) {
	key := sessionKey{Room: sess.room, User: sess.user}
	s.mu.Lock()
	if s.sessions[key] == sess {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
}

// SessionCount reports the number of live sessions, for health reporting.
func (s *WebSocketServer) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseAll tears down every live session, used on shutdown.
func (s *WebSocketServer) CloseAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.shutdown("server shutting down")
		<-sess.done
	}
}
