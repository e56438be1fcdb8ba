package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/auth"
	"campuscart/chat-service/internal/metrics"
	"campuscart/chat-service/internal/models"
)

// Authenticator resolves the identity of an incoming upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// ProfileSource looks up the display fields attached to relayed events.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

type HandlerConfig struct {
	SendQueueSize    int
	AllowedOrigins   []string
	MaxContentLength int
	// Profiles is optional; without it relayed events carry only the sender id.
	Profiles ProfileSource
}

// Handler upgrades authenticated requests to websocket sessions joined to
// the caller's own channel.
type Handler struct {
	registry  *Registry
	publisher Publisher
	auth      Authenticator
	upgrader  websocket.Upgrader
	cfg       HandlerConfig
	logger    *logrus.Logger
}

func NewHandler(registry *Registry, publisher Publisher, auth Authenticator, cfg HandlerConfig, logger *logrus.Logger) *Handler {
	return &Handler{
		registry:  registry,
		publisher: publisher,
		auth:      auth,
		cfg:       cfg,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, apperr.MessageOf(err), auth.HTTPStatus(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameSize)

	session := NewSession(uuid.NewString(), userID, conn, h.cfg.SendQueueSize, h.logger)
	h.registry.Add(session)
	metrics.WebSocketConnections.Inc()
	session.Start()

	h.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"session_id": session.ID,
	}).Info("Live session connected")

	session.TrySend(encodeFrame(Frame{Type: FrameJoined, UserID: userID}))

	go h.readLoop(session)
}

func (h *Handler) readLoop(s *Session) {
	defer func() {
		h.registry.Remove(s)
		s.Close()
		metrics.WebSocketConnections.Dec()
		h.logger.WithFields(logrus.Fields{
			"user_id":    s.UserID,
			"session_id": s.ID,
		}).Info("Live session disconnected")
	}()

	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).WithField("user_id", s.UserID).Debug("Read loop ended")
			}
			return
		}
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleFrame(s, data)
	}
}

func (h *Handler) handleFrame(s *Session, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.TrySend(encodeFrame(Frame{Type: FrameError, Error: "malformed frame"}))
		return
	}

	switch f.Type {
	case FrameJoin:
		// The session joined its own channel on connect; joining another
		// user's channel is not allowed.
		s.TrySend(encodeFrame(Frame{Type: FrameJoined, UserID: s.UserID}))
	case FrameMessage:
		ev, err := h.relayEvent(s.UserID, f.Message)
		if err != nil {
			s.TrySend(encodeFrame(Frame{Type: FrameError, Error: apperr.MessageOf(err)}))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		ev.SenderInfo = h.senderInfo(ctx, s.UserID)
		if err := h.publisher.Publish(ctx, ev); err != nil {
			h.logger.WithError(err).WithField("user_id", s.UserID).Warn("Relay publish failed")
			s.TrySend(encodeFrame(Frame{Type: FrameError, Error: "live delivery unavailable"}))
		}
	default:
		s.TrySend(encodeFrame(Frame{Type: FrameError, Error: "unknown frame type"}))
	}
}

func (h *Handler) senderInfo(ctx context.Context, userID string) *models.UserProfile {
	if h.cfg.Profiles == nil {
		return nil
	}
	p, err := h.cfg.Profiles.GetProfile(ctx, userID)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Debug("Relaying without sender profile")
		return nil
	}
	return p
}

// relayEvent turns a client-synthesized message into a live event. Relayed
// events are not persisted and carry no durable id.
func (h *Handler) relayEvent(userID string, msg *models.LiveEvent) (models.LiveEvent, error) {
	if msg == nil {
		return models.LiveEvent{}, apperr.Validation("message is required")
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return models.LiveEvent{}, apperr.Validation("content must not be empty")
	}
	if h.cfg.MaxContentLength > 0 && len(content) > h.cfg.MaxContentLength {
		return models.LiveEvent{}, apperr.Validation("content too long")
	}
	if msg.Receiver == "" || msg.Receiver == userID {
		return models.LiveEvent{}, apperr.Validation("invalid receiver")
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return models.LiveEvent{
		ClientID:  msg.ClientID,
		Sender:    userID,
		Receiver:  msg.Receiver,
		Content:   content,
		CreatedAt: createdAt,
	}, nil
}
