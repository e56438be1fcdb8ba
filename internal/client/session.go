package client

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

type SessionState int

const (
	StateLoading SessionState = iota
	StateReady
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusPending DeliveryStatus = "pending"
	StatusFailed  DeliveryStatus = "failed"
)

// Entry is one line of an open conversation. Pending and failed entries are
// local only and carry the send time of this client.
type Entry struct {
	models.Message
	ClientID string
	Status   DeliveryStatus
}

// ChatAPI is the part of the REST client a session needs.
type ChatAPI interface {
	OpenConversation(ctx context.Context, partnerID string) (*models.ConversationView, error)
	SendMessage(ctx context.Context, partnerID, content, clientID string) (*models.Message, error)
}

// EventSource delivers live events until the returned func is called.
type EventSource interface {
	Subscribe(fn func(models.LiveEvent)) func()
}

type SeenRecorder interface {
	RecordSeen(partnerID string, at time.Time) error
}

type SessionOptions struct {
	// OnEntry is called, outside the session lock, for every entry added
	// from the live channel.
	OnEntry func(Entry)
	Now     func() time.Time
}

// ChatSession coordinates one open conversation: history, live events and
// sends, merged into a single ordered list.
type ChatSession struct {
	api     ChatAPI
	tracker SeenRecorder
	self    string
	partner string
	opts    SessionOptions
	logger  *logrus.Logger

	mu          sync.Mutex
	state       SessionState
	profile     models.UserProfile
	entries     []*Entry
	buffered    []models.LiveEvent
	unsubscribe func()

	// refreshing counts Refresh calls in flight; events merged meanwhile are
	// kept in sinceFetch and replayed over the re-fetched history.
	refreshing int
	sinceFetch []models.LiveEvent
}

// OpenSession subscribes to the live channel, loads the partner profile and
// history, and records the conversation as seen. Events that arrive while
// loading are merged once history is in.
func OpenSession(
	ctx context.Context,
	api ChatAPI,
	events EventSource,
	tracker SeenRecorder,
	selfID, partnerID string,
	opts SessionOptions,
	logger *logrus.Logger,
) (*ChatSession, error) {
	if partnerID == "" || partnerID == selfID {
		return nil, apperr.Validation("invalid partner")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &ChatSession{
		api:     api,
		tracker: tracker,
		self:    selfID,
		partner: partnerID,
		opts:    opts,
		logger:  logger,
		state:   StateLoading,
	}

	if events != nil {
		s.unsubscribe = events.Subscribe(s.receive)
	}

	view, err := api.OpenConversation(ctx, partnerID)
	if err != nil {
		s.Close()
		return nil, err
	}

	if tracker != nil {
		if err := tracker.RecordSeen(partnerID, opts.Now()); err != nil {
			logger.WithError(err).Warn("Failed to record conversation as seen")
		}
	}

	s.mu.Lock()
	s.profile = view.Receiver
	for _, msg := range view.Messages {
		s.entries = append(s.entries, &Entry{Message: *msg, Status: StatusSent})
	}
	buffered := s.buffered
	s.buffered = nil
	var added []Entry
	for _, ev := range buffered {
		if e := s.mergeLocked(ev); e != nil {
			added = append(added, *e)
		}
	}
	s.sortLocked()
	s.state = StateReady
	s.mu.Unlock()

	s.notify(added)
	return s, nil
}

func (s *ChatSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ChatSession) Partner() models.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Entries returns a snapshot of the conversation in display order.
func (s *ChatSession) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// Close stops live updates. Sends still in flight complete on the server but
// no longer change the session.
func (s *ChatSession) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.state = StateClosed
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (s *ChatSession) notify(added []Entry) {
	if s.opts.OnEntry == nil {
		return
	}
	for _, e := range added {
		s.opts.OnEntry(e)
	}
}

func (s *ChatSession) belongs(ev models.LiveEvent) bool {
	return (ev.Sender == s.self && ev.Receiver == s.partner) ||
		(ev.Sender == s.partner && ev.Receiver == s.self)
}

func (s *ChatSession) receive(ev models.LiveEvent) {
	if !s.belongs(ev) {
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateLoading:
		s.buffered = append(s.buffered, ev)
		s.mu.Unlock()
		return
	}

	if s.refreshing > 0 {
		s.sinceFetch = append(s.sinceFetch, ev)
	}
	added := s.mergeLocked(ev)
	s.sortLocked()
	s.mu.Unlock()

	if added != nil {
		s.notify([]Entry{*added})
	}
}

// mergeLocked folds a live event into the list. Matching goes by durable
// id, then by client nonce, then by sender, content and time for events
// relayed without an id. It returns the entry only when one was added.
func (s *ChatSession) mergeLocked(ev models.LiveEvent) *Entry {
	for _, e := range s.entries {
		if ev.ID != "" && e.ID == ev.ID {
			return nil
		}
	}

	if ev.ClientID != "" {
		for _, e := range s.entries {
			if e.ClientID == ev.ClientID {
				if ev.ID != "" {
					e.ID = ev.ID
					e.CreatedAt = ev.CreatedAt
					e.Status = StatusSent
				}
				return nil
			}
		}
	}

	for _, e := range s.entries {
		if e.Sender == ev.Sender && e.Content == ev.Content && e.CreatedAt.Equal(ev.CreatedAt) {
			return nil
		}
	}

	e := &Entry{
		Message: models.Message{
			ID:        ev.ID,
			Sender:    ev.Sender,
			Receiver:  ev.Receiver,
			Content:   ev.Content,
			CreatedAt: ev.CreatedAt,
		},
		ClientID: ev.ClientID,
		Status:   StatusSent,
	}
	s.entries = append(s.entries, e)
	return e
}

func (s *ChatSession) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].CreatedAt.Before(s.entries[j].CreatedAt)
	})
}

// Send appends the message optimistically as pending and persists it. On
// failure the entry stays visible as failed and can be retried.
func (s *ChatSession) Send(ctx context.Context, content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, apperr.Validation("content must not be empty")
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return Entry{}, apperr.Validation("conversation is not open")
	}
	e := &Entry{
		Message: models.Message{
			Sender:    s.self,
			Receiver:  s.partner,
			Content:   content,
			CreatedAt: s.opts.Now(),
		},
		ClientID: uuid.NewString(),
		Status:   StatusPending,
	}
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	return s.persist(ctx, e.ClientID, content)
}

// Retry re-issues the persistence call of a failed entry.
func (s *ChatSession) Retry(ctx context.Context, clientID string) (Entry, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return Entry{}, apperr.Validation("conversation is not open")
	}
	e := s.findByClientIDLocked(clientID)
	if e == nil || e.Status != StatusFailed {
		s.mu.Unlock()
		return Entry{}, apperr.NotFound("no failed message to retry")
	}
	e.Status = StatusPending
	content := e.Content
	s.mu.Unlock()

	return s.persist(ctx, clientID, content)
}

func (s *ChatSession) findByClientIDLocked(clientID string) *Entry {
	for _, e := range s.entries {
		if e.ClientID == clientID {
			return e
		}
	}
	return nil
}

func (s *ChatSession) persist(ctx context.Context, clientID, content string) (Entry, error) {
	msg, err := s.api.SendMessage(ctx, s.partner, content, clientID)

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.findByClientIDLocked(clientID)
	if s.state == StateClosed || e == nil {
		if err != nil {
			return Entry{}, err
		}
		return Entry{Message: *msg, ClientID: clientID, Status: StatusSent}, nil
	}

	if err != nil {
		e.Status = StatusFailed
		s.logger.WithError(err).WithField("client_id", clientID).Warn("Message send failed")
		return *e, err
	}

	// The live echo may already have reconciled this entry; drop any second
	// copy that arrived under the durable id.
	for i, other := range s.entries {
		if other != e && other.ID == msg.ID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}

	e.Message = *msg
	e.Status = StatusSent
	s.sortLocked()
	return *e, nil
}

// Refresh re-fetches history and replaces the local list with it, keeping
// pending and failed sends. Live events received while the fetch was in
// flight are merged back, since the snapshot may predate them. Every
// persisted message appears exactly once.
func (s *ChatSession) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.refreshing++
	s.mu.Unlock()

	view, err := s.api.OpenConversation(ctx, s.partner)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing--
	replay := s.sinceFetch
	if s.refreshing == 0 {
		s.sinceFetch = nil
	}
	if err != nil {
		return err
	}
	if s.state == StateClosed {
		return nil
	}

	clientIDs := make(map[string]string)
	var local []*Entry
	for _, e := range s.entries {
		if e.ID != "" && e.ClientID != "" {
			clientIDs[e.ID] = e.ClientID
		}
		if e.Status != StatusSent {
			local = append(local, e)
		}
	}

	merged := make([]*Entry, 0, len(view.Messages)+len(local))
	for _, msg := range view.Messages {
		merged = append(merged, &Entry{Message: *msg, ClientID: clientIDs[msg.ID], Status: StatusSent})
	}
	merged = append(merged, local...)

	s.profile = view.Receiver
	s.entries = merged
	for _, ev := range replay {
		s.mergeLocked(ev)
	}
	s.sortLocked()
	return nil
}
