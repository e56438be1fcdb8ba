package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

func newMemoryStoreWithClock() (*MemoryStore, *time.Time) {
	m := NewMemoryStore()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMemoryStore_GetOrCreateConversation_Concurrent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			conv, err := m.GetOrCreateConversation(ctx, a, b)
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	convs, err := m.GetUserConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
	assert.Equal(t, "alice", convs[0].UserLow)
	assert.Equal(t, "bob", convs[0].UserHigh)
}

func TestMemoryStore_SelfConversationRejected(t *testing.T) {
	_, err := NewMemoryStore().GetOrCreateConversation(context.Background(), "alice", "alice")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMemoryStore_HistoryTieBreak(t *testing.T) {
	m, _ := newMemoryStoreWithClock()
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	// All three share one timestamp, so insertion order decides.
	for _, content := range []string{"one", "two", "three"} {
		msg := &models.Message{ConversationID: conv.ID, Sender: "alice", Receiver: "bob", Content: content}
		require.NoError(t, m.CreateMessage(ctx, msg))
	}

	history, err := m.GetHistory(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "two", history[1].Content)
	assert.Equal(t, "three", history[2].Content)
}

func TestMemoryStore_HistoryPage(t *testing.T) {
	m, now := newMemoryStoreWithClock()
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	var msgs []*models.Message
	for i := 0; i < 5; i++ {
		*now = now.Add(time.Second)
		msg := &models.Message{ConversationID: conv.ID, Sender: "alice", Receiver: "bob", Content: string(rune('a' + i))}
		require.NoError(t, m.CreateMessage(ctx, msg))
		msgs = append(msgs, msg)
	}

	latest, err := m.GetHistoryPage(ctx, "alice", "bob", "", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, msgs[3].ID, latest[0].ID)
	assert.Equal(t, msgs[4].ID, latest[1].ID)

	older, err := m.GetHistoryPage(ctx, "alice", "bob", latest[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, msgs[0].ID, older[0].ID)
	assert.Equal(t, msgs[2].ID, older[2].ID)

	unknown, err := m.GetHistoryPage(ctx, "alice", "bob", "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestMemoryStore_TouchIsMonotonic(t *testing.T) {
	m, now := newMemoryStoreWithClock()
	ctx := context.Background()

	conv, err := m.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	*now = now.Add(time.Second)
	first := &models.Message{ConversationID: conv.ID, Sender: "alice", Receiver: "bob", Content: "first"}
	require.NoError(t, m.CreateMessage(ctx, first))

	*now = now.Add(time.Second)
	second := &models.Message{ConversationID: conv.ID, Sender: "bob", Receiver: "alice", Content: "second"}
	require.NoError(t, m.CreateMessage(ctx, second))

	require.NoError(t, m.TouchConversation(ctx, conv.ID, second))
	require.NoError(t, m.TouchConversation(ctx, conv.ID, first))

	got, err := m.GetConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, second.ID, *got.LastMessageID)
	assert.Equal(t, second.CreatedAt, got.UpdatedAt)

	err = m.TouchConversation(ctx, "missing", second)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMemoryStore_SummariesAndClear(t *testing.T) {
	m, now := newMemoryStoreWithClock()
	ctx := context.Background()
	m.PutUser(models.UserProfile{ID: "bob", Name: "Bob"})
	m.PutUser(models.UserProfile{ID: "carol", Name: "Carol"})

	for _, partner := range []string{"bob", "carol"} {
		conv, err := m.GetOrCreateConversation(ctx, "alice", partner)
		require.NoError(t, err)
		*now = now.Add(time.Minute)
		msg := &models.Message{ConversationID: conv.ID, Sender: partner, Receiver: "alice", Content: "hi from " + partner}
		require.NoError(t, m.CreateMessage(ctx, msg))
		require.NoError(t, m.TouchConversation(ctx, conv.ID, msg))
	}

	summaries, err := m.ListConversationSummaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "Carol", summaries[0].OtherUser.Name)
	assert.Equal(t, "hi from carol", summaries[0].LastMessageText)
	assert.Equal(t, "bob", summaries[1].OtherUser.ID)

	deleted, err := m.DeleteMessagesBetween(ctx, "carol", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	summaries, err = m.ListConversationSummaries(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "carol", summaries[0].OtherUser.ID)
	assert.Empty(t, summaries[0].LastMessageText)

	deleted, err = m.DeleteMessagesBetween(ctx, "alice", "nobody")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestMemoryStore_SearchUsers(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	m.PutUser(models.UserProfile{ID: "1", Name: "Priya Nair", Email: "priya@campus.edu"})
	m.PutUser(models.UserProfile{ID: "2", Name: "Pranav", Email: "pranav@campus.edu"})
	m.PutUser(models.UserProfile{ID: "3", Name: "Zed", Email: "zed@campus.edu"})

	users, err := m.SearchUsers(ctx, "PR", "2", 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "1", users[0].ID)

	users, err = m.SearchUsers(ctx, "campus", "", 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	_, err = m.GetProfile(ctx, "404")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
