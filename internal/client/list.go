package client

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/models"
)

type ListAPI interface {
	ListConversations(ctx context.Context) ([]*models.ConversationSummary, error)
	AccessConversation(ctx context.Context, partnerID string) (*models.ConversationSummary, error)
	SearchUsers(ctx context.Context, query string) ([]*models.UserProfile, error)
}

type UnreadTracker interface {
	SeenRecorder
	IsUnread(partnerID string, lastActivityAt time.Time) bool
}

// ReconnectingSource is an EventSource that also reports reconnects.
type ReconnectingSource interface {
	EventSource
	OnReconnect(fn func()) func()
}

// ConversationList is the inbox view: every conversation of the user, most
// recent first, with unread flags derived from the local tracker.
type ConversationList struct {
	api     ListAPI
	tracker UnreadTracker
	self    string
	now     func() time.Time
	logger  *logrus.Logger

	mu       sync.Mutex
	items    []*models.ConversationSummary
	onChange func()
	detach   []func()

	// loading counts Load calls in flight; events applied meanwhile are
	// replayed onto the fetched snapshot before it replaces the list.
	loading    int
	sinceFetch []models.LiveEvent
}

func NewConversationList(api ListAPI, tracker UnreadTracker, selfID string, logger *logrus.Logger) *ConversationList {
	return &ConversationList{
		api:     api,
		tracker: tracker,
		self:    selfID,
		now:     time.Now,
		logger:  logger,
	}
}

// OnChange registers a callback run after every change to the list.
func (l *ConversationList) OnChange(fn func()) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *ConversationList) changed() {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Load replaces the list with the server's view. Live events applied while
// the fetch was in flight are replayed onto the new snapshot.
func (l *ConversationList) Load(ctx context.Context) error {
	l.mu.Lock()
	l.loading++
	l.mu.Unlock()

	summaries, err := l.api.ListConversations(ctx)

	l.mu.Lock()
	l.loading--
	replay := l.sinceFetch
	if l.loading == 0 {
		l.sinceFetch = nil
	}
	if err != nil {
		l.mu.Unlock()
		return err
	}
	for _, s := range summaries {
		s.Unread = l.tracker.IsUnread(s.OtherUser.ID, s.LastActivityAt)
	}
	l.items = summaries
	for _, ev := range replay {
		l.applyLocked(ev)
	}
	l.mu.Unlock()

	l.changed()
	return nil
}

// Attach follows live events and re-fetches the list after every reconnect,
// since events sent while disconnected are lost.
func (l *ConversationList) Attach(source ReconnectingSource) {
	unsubscribe := source.Subscribe(l.HandleEvent)
	cancel := source.OnReconnect(func() {
		ctx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := l.Load(ctx); err != nil {
			l.logger.WithError(err).Warn("Failed to refresh conversations after reconnect")
		}
	})

	l.mu.Lock()
	l.detach = append(l.detach, unsubscribe, cancel)
	l.mu.Unlock()
}

func (l *ConversationList) Close() {
	l.mu.Lock()
	detach := l.detach
	l.detach = nil
	l.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
}

func (l *ConversationList) indexLocked(partnerID string) int {
	for i, s := range l.items {
		if s.OtherUser.ID == partnerID {
			return i
		}
	}
	return -1
}

func (l *ConversationList) moveToFrontLocked(i int) {
	item := l.items[i]
	copy(l.items[1:i+1], l.items[:i])
	l.items[0] = item
}

// HandleEvent moves the sender's conversation to the front, creating it from
// the event when it is not listed yet, and marks it unread. The user's own
// outgoing messages are ignored here.
func (l *ConversationList) HandleEvent(ev models.LiveEvent) {
	if ev.Sender == l.self || ev.Receiver != l.self {
		return
	}

	l.mu.Lock()
	if l.loading > 0 {
		l.sinceFetch = append(l.sinceFetch, ev)
	}
	l.applyLocked(ev)
	l.mu.Unlock()

	l.changed()
}

func (l *ConversationList) applyLocked(ev models.LiveEvent) {
	i := l.indexLocked(ev.Sender)
	if i < 0 {
		other := models.UserProfile{ID: ev.Sender}
		if ev.SenderInfo != nil {
			other = *ev.SenderInfo
		}
		l.items = append([]*models.ConversationSummary{{OtherUser: other}}, l.items...)
	} else {
		l.moveToFrontLocked(i)
	}

	item := l.items[0]
	if !ev.CreatedAt.Before(item.LastActivityAt) {
		item.LastMessageText = ev.Content
		item.LastSender = ev.Sender
		item.LastActivityAt = ev.CreatedAt
	}
	item.Unread = true
}

func (l *ConversationList) Search(ctx context.Context, query string) ([]*models.UserProfile, error) {
	return l.api.SearchUsers(ctx, query)
}

// Open creates the conversation if needed and marks it seen.
func (l *ConversationList) Open(ctx context.Context, partnerID string) (*models.ConversationSummary, error) {
	summary, err := l.api.AccessConversation(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if err := l.tracker.RecordSeen(partnerID, l.now()); err != nil {
		l.logger.WithError(err).Warn("Failed to record conversation as seen")
	}
	summary.Unread = false

	l.mu.Lock()
	if i := l.indexLocked(partnerID); i >= 0 {
		l.items[i].Unread = false
	} else {
		cp := *summary
		l.items = append([]*models.ConversationSummary{&cp}, l.items...)
	}
	l.mu.Unlock()

	l.changed()
	return summary, nil
}

// Items returns a snapshot of the list in display order.
func (l *ConversationList) Items() []models.ConversationSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ConversationSummary, len(l.items))
	for i, s := range l.items {
		out[i] = *s
	}
	return out
}
