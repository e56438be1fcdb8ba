package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the REST surface of the chat core. Conversations are
// addressed by the partner's user id.
type Handler struct {
	chatService service.ChatService
	pinger      Pinger
	logger      *logrus.Logger
}

func NewHandler(chatService service.ChatService, pinger Pinger, logger *logrus.Logger) *Handler {
	return &Handler{
		chatService: chatService,
		pinger:      pinger,
		logger:      logger,
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid json")
	}
	return nil
}

// ListChats GET /api/chats
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.chatService.ListConversations(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// AccessChat POST /api/chats
func (h *Handler) AccessChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	summary, err := h.chatService.AccessConversation(r.Context(), UserID(r.Context()), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// OpenChat GET /api/chats/{partnerId}
func (h *Handler) OpenChat(w http.ResponseWriter, r *http.Request) {
	view, err := h.chatService.OpenConversation(r.Context(), UserID(r.Context()), chi.URLParam(r, "partnerId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ChatMessages GET /api/chats/{partnerId}/messages?before=&limit=
func (h *Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, apperr.Validation("invalid limit"))
			return
		}
		limit = n
	}

	messages, err := h.chatService.HistoryPage(
		r.Context(),
		UserID(r.Context()),
		chi.URLParam(r, "partnerId"),
		r.URL.Query().Get("before"),
		limit,
	)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// ClearChat DELETE /api/chats/{partnerId}/messages
func (h *Handler) ClearChat(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.chatService.ClearConversation(r.Context(), UserID(r.Context()), chi.URLParam(r, "partnerId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// SendMessage POST /api/chats/message
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Receiver string `json:"receiver"`
		Content  string `json:"content"`
		ClientID string `json:"clientId"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	msg, err := h.chatService.SendMessage(r.Context(), UserID(r.Context()), req.Receiver, req.Content, req.ClientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// SearchUsers GET /api/users?search=
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.chatService.SearchUsers(r.Context(), UserID(r.Context()), r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.chatService.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.logger.WithError(err).Warn("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
