package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the REST routes, the websocket endpoint and the
// operational endpoints. live may be nil when the process serves REST only.
func NewRouter(h *Handler, authenticator Authenticator, live http.Handler, logger *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Metrics)
	r.Use(Recovery(logger))

	r.Get("/ping", h.Ping)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if live != nil {
		// The websocket handler authenticates the upgrade itself, accepting
		// the token as a query parameter.
		r.Method(http.MethodGet, "/ws", live)
	}

	r.Group(func(p chi.Router) {
		p.Use(Identity(authenticator))

		p.Get("/api/chats", h.ListChats)
		p.Post("/api/chats", h.AccessChat)
		p.Post("/api/chats/message", h.SendMessage)
		p.Get("/api/chats/{partnerId}", h.OpenChat)
		p.Get("/api/chats/{partnerId}/messages", h.ChatMessages)
		p.Delete("/api/chats/{partnerId}/messages", h.ClearChat)

		p.Get("/api/users", h.SearchUsers)
		p.Get("/api/users/{id}", h.GetUser)
	})

	return r
}
