package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

// MemoryStore keeps conversations, messages and user profiles in process.
// It backs the "memory" storage driver for local development and follows
// the same rules as the Postgres store.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	pairs         map[[2]string]string
	messages      map[string]*models.Message
	users         map[string]*models.UserProfile
	seq           int64
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		pairs:         make(map[[2]string]string),
		messages:      make(map[string]*models.Message),
		users:         make(map[string]*models.UserProfile),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutUser adds or replaces a directory entry.
func (m *MemoryStore) PutUser(p models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[p.ID] = &p
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) InitializeTables(ctx context.Context) error { return nil }

func copyConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		cp.LastMessageID = &id
	}
	return &cp
}

func copyMessage(msg *models.Message) *models.Message {
	cp := *msg
	return &cp
}

func (m *MemoryStore) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	low, high := models.PairKey(userA, userB)
	if low == high {
		return nil, apperr.Validation("cannot chat with yourself")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.pairs[[2]string{low, high}]; ok {
		return copyConversation(m.conversations[id]), nil
	}

	now := m.now()
	conv := &models.Conversation{
		ID:        newID(),
		UserLow:   low,
		UserHigh:  high,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.conversations[conv.ID] = conv
	m.pairs[[2]string{low, high}] = conv.ID
	return copyConversation(conv), nil
}

func (m *MemoryStore) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, apperr.NotFound("chat not found")
	}
	return copyConversation(conv), nil
}

func (m *MemoryStore) GetConversationByUsers(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	low, high := models.PairKey(userA, userB)

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairs[[2]string{low, high}]
	if !ok {
		return nil, apperr.NotFound("chat not found")
	}
	return copyConversation(m.conversations[id]), nil
}

func (m *MemoryStore) userConversations(userID string) []*models.Conversation {
	var convs []*models.Conversation
	for _, c := range m.conversations {
		if c.Has(userID) {
			convs = append(convs, c)
		}
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].ID < convs[j].ID
		}
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs
}

func (m *MemoryStore) GetUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Conversation
	for _, c := range m.userConversations(userID) {
		result = append(result, copyConversation(c))
	}
	return result, nil
}

func (m *MemoryStore) ListConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := []*models.ConversationSummary{}
	for _, c := range m.userConversations(userID) {
		other := c.Other(userID)
		s := &models.ConversationSummary{
			ConversationID: c.ID,
			OtherUser:      models.UserProfile{ID: other},
			LastActivityAt: c.UpdatedAt,
		}
		if p, ok := m.users[other]; ok {
			s.OtherUser = *p
		}
		if c.LastMessageID != nil {
			if msg, ok := m.messages[*c.LastMessageID]; ok {
				s.LastMessageText = msg.Content
				s.LastSender = msg.Sender
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

func (m *MemoryStore) TouchConversation(ctx context.Context, conversationID string, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return apperr.NotFound("chat not found")
	}
	if !msg.CreatedAt.Before(conv.UpdatedAt) {
		id := msg.ID
		conv.LastMessageID = &id
		conv.UpdatedAt = msg.CreatedAt
	}
	return nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return apperr.Storage("storage failure", apperr.NotFound("chat not found"))
	}
	if msg.Sender == msg.Receiver || !conv.Has(msg.Sender) || !conv.Has(msg.Receiver) {
		return apperr.Validation("message does not belong to this chat")
	}
	if strings.TrimSpace(msg.Content) == "" {
		return apperr.Validation("content must not be empty")
	}

	if msg.ID == "" {
		msg.ID = newID()
	}
	m.seq++
	msg.Seq = m.seq
	msg.CreatedAt = m.now()

	m.messages[msg.ID] = copyMessage(msg)
	return nil
}

func (m *MemoryStore) pairMessages(userA, userB string) []*models.Message {
	low, high := models.PairKey(userA, userB)
	id, ok := m.pairs[[2]string{low, high}]
	if !ok {
		return nil
	}

	var msgs []*models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == id {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return messageLess(msgs[i], msgs[j]) })
	return msgs
}

func messageLess(a, b *models.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.Seq < b.Seq
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *MemoryStore) GetHistory(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*models.Message{}
	for _, msg := range m.pairMessages(userA, userB) {
		result = append(result, copyMessage(msg))
	}
	return result, nil
}

func (m *MemoryStore) GetHistoryPage(ctx context.Context, userA, userB string, beforeMessageID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.pairMessages(userA, userB)
	end := len(msgs)
	if beforeMessageID != "" {
		end = 0
		before, ok := m.messages[beforeMessageID]
		if ok {
			for i, msg := range msgs {
				if !messageLess(msg, before) {
					break
				}
				end = i + 1
			}
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}

	result := []*models.Message{}
	for _, msg := range msgs[start:end] {
		result = append(result, copyMessage(msg))
	}
	return result, nil
}

func (m *MemoryStore) DeleteMessagesBetween(ctx context.Context, userA, userB string) (int, error) {
	low, high := models.PairKey(userA, userB)

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.pairs[[2]string{low, high}]
	if !ok {
		return 0, nil
	}

	deleted := 0
	for msgID, msg := range m.messages {
		if msg.ConversationID == id {
			delete(m.messages, msgID)
			deleted++
		}
	}
	m.conversations[id].LastMessageID = nil
	return deleted, nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.users[userID]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*models.UserProfile, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	m.mu.RLock()
	defer m.mu.RUnlock()

	users := []*models.UserProfile{}
	for _, p := range m.users {
		if p.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Email), q) {
			cp := *p
			users = append(users, &cp)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name == users[j].Name {
			return users[i].ID < users[j].ID
		}
		return users[i].Name < users[j].Name
	})
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}
