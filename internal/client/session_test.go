package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
	"campuscart/chat-service/internal/tracker"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeEvents struct {
	mu   sync.Mutex
	subs map[int]func(models.LiveEvent)
	next int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{subs: map[int]func(models.LiveEvent){}}
}

func (f *fakeEvents) Subscribe(fn func(models.LiveEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeEvents) emit(ev models.LiveEvent) {
	f.mu.Lock()
	var fns []func(models.LiveEvent)
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeChatAPI struct {
	mu       sync.Mutex
	profile  models.UserProfile
	history  []*models.Message
	sendErr  error
	sent     []string
	onOpen   func()
	sendHook func(msg *models.Message)
}

func (f *fakeChatAPI) OpenConversation(ctx context.Context, partnerID string) (*models.ConversationView, error) {
	if f.onOpen != nil {
		f.onOpen()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]*models.Message, len(f.history))
	for i, m := range f.history {
		cp := *m
		msgs[i] = &cp
	}
	return &models.ConversationView{Receiver: f.profile, Messages: msgs}, nil
}

func (f *fakeChatAPI) SendMessage(ctx context.Context, partnerID, content, clientID string) (*models.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, clientID)
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return nil, err
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		Sender:    "u1",
		Receiver:  partnerID,
		Content:   content,
		CreatedAt: base.Add(time.Duration(len(f.history)+1) * time.Minute),
	}
	f.history = append(f.history, msg)
	hook := f.sendHook
	f.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	cp := *msg
	return &cp, nil
}

func newSessionFixture(t *testing.T) (*fakeChatAPI, *fakeEvents, *tracker.Tracker) {
	t.Helper()
	tr, err := tracker.New(tracker.NewMemoryStore())
	require.NoError(t, err)
	api := &fakeChatAPI{
		profile: models.UserProfile{ID: "u2", Name: "Bilal"},
		history: []*models.Message{
			{ID: "m1", Sender: "u2", Receiver: "u1", Content: "Is it still available?", CreatedAt: base},
		},
	}
	return api, newFakeEvents(), tr
}

func openSession(t *testing.T, api ChatAPI, events EventSource, tr SeenRecorder, opts SessionOptions) *ChatSession {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := OpenSession(context.Background(), api, events, tr, "u1", "u2", opts, logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestOpenSession_LoadsAndRecordsSeen(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	openedAt := base.Add(time.Hour)

	s := openSession(t, api, events, tr, SessionOptions{Now: func() time.Time { return openedAt }})

	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "Bilal", s.Partner().Name)
	require.Len(t, s.Entries(), 1)
	assert.True(t, tr.SeenAt("u2").Equal(openedAt))
	assert.False(t, tr.IsUnread("u2", base))
}

func TestOpenSession_RejectsSelf(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := OpenSession(context.Background(), &fakeChatAPI{}, nil, nil, "u1", "u1", SessionOptions{}, logger)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestChatSession_SendReconciles(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	s := openSession(t, api, events, tr, SessionOptions{Now: func() time.Time { return base.Add(30 * time.Second) }})

	entry, err := s.Send(context.Background(), "  Yes, come by at 5  ")
	require.NoError(t, err)
	assert.Equal(t, StatusSent, entry.Status)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "Yes, come by at 5", entry.Content)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, entry.ID, entries[1].ID)
	assert.Equal(t, entry.ClientID, entries[1].ClientID)

	_, err = s.Send(context.Background(), "   ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestChatSession_LiveEchoBeforeResponse(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	s := openSession(t, api, events, tr, SessionOptions{})

	var sendClientID string
	api.sendHook = func(msg *models.Message) {
		api.mu.Lock()
		sendClientID = api.sent[len(api.sent)-1]
		api.mu.Unlock()
		events.emit(models.EventFromMessage(msg, sendClientID, nil))
	}

	entry, err := s.Send(context.Background(), "echo first")
	require.NoError(t, err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, entry.ID, entries[1].ID)
	assert.Equal(t, sendClientID, entries[1].ClientID)
}

func TestChatSession_SendFailureAndRetry(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	s := openSession(t, api, events, tr, SessionOptions{})

	api.sendErr = apperr.Storage("storage failure", errors.New("db down"))
	failed, err := s.Send(context.Background(), "will fail")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, failed.Status)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, StatusFailed, entries[1].Status)
	assert.Empty(t, entries[1].ID)

	api.sendErr = nil
	retried, err := s.Retry(context.Background(), failed.ClientID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, retried.Status)
	assert.Equal(t, failed.ClientID, retried.ClientID)

	entries = s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, StatusSent, entries[1].Status)

	_, err = s.Retry(context.Background(), failed.ClientID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestChatSession_ReceiveDedupes(t *testing.T) {
	api, events, tr := newSessionFixture(t)

	var added []Entry
	s := openSession(t, api, events, tr, SessionOptions{OnEntry: func(e Entry) { added = append(added, e) }})

	ev := models.LiveEvent{ID: "m2", Sender: "u2", Receiver: "u1", Content: "Can you do 20?", CreatedAt: base.Add(time.Minute)}
	events.emit(ev)
	events.emit(ev)

	relayed := models.LiveEvent{Sender: "u2", Receiver: "u1", Content: "typo fix", CreatedAt: base.Add(2 * time.Minute)}
	events.emit(relayed)
	events.emit(relayed)

	events.emit(models.LiveEvent{ID: "x", Sender: "u3", Receiver: "u1", Content: "other chat", CreatedAt: base})

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, "m2", entries[1].ID)
	assert.Equal(t, "typo fix", entries[2].Content)
	assert.Len(t, added, 2)
}

func TestChatSession_RefreshAfterLiveEventKeepsOneCopy(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	s := openSession(t, api, events, tr, SessionOptions{})

	m2 := &models.Message{ID: "m2", Sender: "u2", Receiver: "u1", Content: "Deal", CreatedAt: base.Add(time.Minute)}
	events.emit(models.EventFromMessage(m2, "", nil))

	api.mu.Lock()
	api.history = append(api.history, m2)
	api.mu.Unlock()

	api.sendErr = errors.New("offline")
	_, err := s.Send(context.Background(), "pending forever")
	require.Error(t, err)

	require.NoError(t, s.Refresh(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 3)
	count := 0
	for _, e := range entries {
		if e.ID == "m2" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, StatusFailed, entries[2].Status)
}

func TestOpenSession_BuffersEventsWhileLoading(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	api.onOpen = func() {
		events.emit(models.LiveEvent{ID: "early", Sender: "u2", Receiver: "u1", Content: "early bird", CreatedAt: base.Add(time.Second)})
		events.emit(models.LiveEvent{ID: "m1", Sender: "u2", Receiver: "u1", Content: "Is it still available?", CreatedAt: base})
	}

	s := openSession(t, api, events, tr, SessionOptions{})

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, "early", entries[1].ID)
}

func TestChatSession_CloseUnsubscribes(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	s := openSession(t, api, events, tr, SessionOptions{})
	require.Equal(t, 1, events.count())

	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, events.count())

	_, err := s.Send(context.Background(), "after close")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestChatSession_RefreshKeepsEventsFromDuringTheFetch(t *testing.T) {
	api, events, tr := newSessionFixture(t)
	s := openSession(t, api, events, tr, SessionOptions{})

	// The snapshot is already taken when m2 arrives, so only the live
	// channel knows about it.
	api.onOpen = func() {
		events.emit(models.LiveEvent{ID: "m2", Sender: "u2", Receiver: "u1", Content: "Can you do 20?", CreatedAt: base.Add(time.Minute)})
	}
	require.NoError(t, s.Refresh(context.Background()))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "m1", entries[0].ID)
	assert.Equal(t, "m2", entries[1].ID)

	api.mu.Lock()
	api.history = append(api.history, &models.Message{ID: "m2", Sender: "u2", Receiver: "u1", Content: "Can you do 20?", CreatedAt: base.Add(time.Minute)})
	api.mu.Unlock()

	// When the snapshot does include the event it still shows once.
	m3 := &models.Message{ID: "m3", Sender: "u2", Receiver: "u1", Content: "Deal?", CreatedAt: base.Add(2 * time.Minute)}
	api.onOpen = func() {
		events.emit(models.EventFromMessage(m3, "", nil))
		api.mu.Lock()
		api.history = append(api.history, m3)
		api.mu.Unlock()
	}
	require.NoError(t, s.Refresh(context.Background()))

	entries = s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "m2", entries[1].ID)
	assert.Equal(t, "m3", entries[2].ID)

	api.onOpen = nil
	require.NoError(t, s.Refresh(context.Background()))
	assert.Len(t, s.Entries(), 3)
}
