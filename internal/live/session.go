package live

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	DefaultSendQueueSize = 128
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = (pongWait * 9) / 10
	maxFrameSize         = 16 << 10
)

// Session is one websocket connection of a user. A user may hold several
// (tabs, devices); each joins the user's channel independently.
type Session struct {
	ID     string
	UserID string

	Conn      *websocket.Conn
	SendQueue chan []byte
	done      chan struct{}
	closed    atomic.Int32
	logger    logrus.FieldLogger
}

func NewSession(id, userID string, conn *websocket.Conn, queueSize int, logger logrus.FieldLogger) *Session {
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		Conn:      conn,
		SendQueue: make(chan []byte, queueSize),
		done:      make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{
			"session_id": id,
			"user_id":    userID,
		}),
	}
}

func (s *Session) Start() {
	go s.writeLoop()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// TrySend queues msg without blocking. A full queue means the client is not
// keeping up; the session is dropped and the client re-syncs from history.
func (s *Session) TrySend(msg []byte) bool {
	if s.closed.Load() == 1 {
		return false
	}
	select {
	case s.SendQueue <- msg:
		return true
	default:
		s.logger.Warn("Send queue overflow, dropping session")
		s.CloseWithReason(websocket.CloseTryAgainLater, "backpressure overflow")
		return false
	}
}

func (s *Session) Close() {
	s.CloseWithReason(websocket.CloseNormalClosure, "server closing")
}

func (s *Session) CloseWithReason(code int, reason string) {
	if !s.closed.CompareAndSwap(0, 1) {
		return
	}

	s.logger.WithFields(logrus.Fields{"code": code, "reason": reason}).Debug("Closing session")
	close(s.done)

	if s.Conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = s.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.Conn.Close()
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg := <-s.SendQueue:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.WithError(err).Debug("Write failed")
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.WithError(err).Debug("Ping failed")
				return
			}
		case <-s.done:
			return
		}
	}
}
