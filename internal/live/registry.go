package live

import (
	"sync"

	"campuscart/chat-service/internal/metrics"
)

// Registry maps a user id (the private channel key) to the sessions
// currently joined to it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.UserID] == nil {
		r.sessions[s.UserID] = make(map[string]*Session)
	}
	r.sessions[s.UserID][s.ID] = s
}

// Remove is safe to call more than once and never touches other sessions of
// the same user.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessions, ok := r.sessions[s.UserID]; ok {
		if current, ok := sessions[s.ID]; ok && current == s {
			delete(sessions, s.ID)
			if len(sessions) == 0 {
				delete(r.sessions, s.UserID)
			}
		}
	}
}

func (r *Registry) UserSessions(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Session, 0, len(r.sessions[userID]))
	for _, s := range r.sessions[userID] {
		result = append(result, s)
	}
	return result
}

// Deliver queues payload on every session of userID and returns how many
// accepted it.
func (r *Registry) Deliver(userID string, payload []byte) int {
	delivered := 0
	for _, s := range r.UserSessions(userID) {
		if s.TrySend(payload) {
			delivered++
		}
	}
	metrics.LiveEventsDeliveredTotal.Add(float64(delivered))
	return delivered
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sessions := range r.sessions {
		n += len(sessions)
	}
	return n
}

func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*Session
	for _, sessions := range r.sessions {
		for _, s := range sessions {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.CloseWithReason(1001, "server shutting down")
	}
}
