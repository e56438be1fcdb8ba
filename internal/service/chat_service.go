package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/events"
	"campuscart/chat-service/internal/live"
	"campuscart/chat-service/internal/metrics"
	"campuscart/chat-service/internal/models"
	"campuscart/chat-service/internal/repository"
)

const maxHistoryPageSize = 100

type Config struct {
	TouchRetries     int
	TouchBackoff     time.Duration
	RepairAttempts   int
	RepairBackoff    time.Duration
	MaxContentLength int
	HistoryPageSize  int
	SearchLimit      int
	PublishTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.TouchRetries <= 0 {
		c.TouchRetries = 3
	}
	if c.TouchBackoff <= 0 {
		c.TouchBackoff = 50 * time.Millisecond
	}
	if c.RepairAttempts <= 0 {
		c.RepairAttempts = 10
	}
	if c.RepairBackoff <= 0 {
		c.RepairBackoff = time.Second
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = 4000
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = 50
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = 20
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
}

// ChatService is the server side of the chat core. Conversations are
// addressed by the partner's user id; the conversation id is only used by the
// internal RPC surface.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, receiverID, content, clientID string) (*models.Message, error)
	OpenConversation(ctx context.Context, selfID, partnerID string) (*models.ConversationView, error)
	AccessConversation(ctx context.Context, selfID, partnerID string) (*models.ConversationSummary, error)
	ListConversations(ctx context.Context, selfID string) ([]*models.ConversationSummary, error)
	History(ctx context.Context, userA, userB string) ([]*models.Message, error)
	HistoryPage(ctx context.Context, userA, userB, beforeMessageID string, limit int) ([]*models.Message, error)
	ClearConversation(ctx context.Context, selfID, partnerID string) (int, error)
	SearchUsers(ctx context.Context, selfID, query string) ([]*models.UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)

	CreateChat(ctx context.Context, userID1, userID2 string) (*models.Conversation, error)
	GetChat(ctx context.Context, chatID string) (*models.Conversation, error)
	GetUserChats(ctx context.Context, userID string) ([]*models.Conversation, error)
	SendToChat(ctx context.Context, chatID, senderID, content string) (*models.Message, error)
	GetChatMessages(ctx context.Context, chatID string, limit int, beforeMessageID string) ([]*models.Message, error)

	// Wait blocks until background index repairs have finished.
	Wait()
}

type chatService struct {
	repository repository.ChatRepository
	directory  repository.UserDirectory
	publisher  live.Publisher
	sink       events.Sink
	cfg        Config
	logger     *logrus.Logger

	repairs sync.WaitGroup
}

func NewChatService(
	repo repository.ChatRepository,
	directory repository.UserDirectory,
	publisher live.Publisher,
	sink events.Sink,
	cfg Config,
	logger *logrus.Logger,
) ChatService {
	cfg.applyDefaults()
	if sink == nil {
		sink = events.NopSink{}
	}
	return &chatService{
		repository: repo,
		directory:  directory,
		publisher:  publisher,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *chatService) Wait() {
	s.repairs.Wait()
}

func validatePair(selfID, partnerID string) error {
	if partnerID == "" {
		return apperr.Validation("user ID required")
	}
	if selfID == partnerID {
		return apperr.Validation("cannot chat with yourself")
	}
	return nil
}

func (s *chatService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation("content must not be empty")
	}
	if len(content) > s.cfg.MaxContentLength {
		return "", apperr.Validation("content too long")
	}
	return content, nil
}

// SendMessage persists the message, updates the conversation index and then
// publishes the live event. Only persistence decides the outcome: index and
// live failures are retried or logged, never returned once the message is
// stored.
func (s *chatService) SendMessage(ctx context.Context, senderID, receiverID, content, clientID string) (*models.Message, error) {
	if err := validatePair(senderID, receiverID); err != nil {
		return nil, err
	}
	content, err := s.validateContent(content)
	if err != nil {
		return nil, err
	}

	if _, err := s.directory.GetProfile(ctx, receiverID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("receiver not found")
		}
		return nil, err
	}

	conv, err := s.repository.GetOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get or create chat")
		return nil, err
	}

	return s.deliver(ctx, conv, senderID, receiverID, content, clientID)
}

func (s *chatService) deliver(ctx context.Context, conv *models.Conversation, senderID, receiverID, content, clientID string) (*models.Message, error) {
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Sender:         senderID,
		Receiver:       receiverID,
		Content:        content,
	}

	if err := s.repository.CreateMessage(ctx, msg); err != nil {
		s.logger.WithError(err).Error("Failed to send message")
		return nil, err
	}
	metrics.MessagesSentTotal.Inc()

	s.logger.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"conversation_id": conv.ID,
		"sender_id":       senderID,
		"receiver_id":     receiverID,
	}).Info("Message sent")

	if err := s.touch(ctx, conv.ID, msg); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"message_id":      msg.ID,
			"conversation_id": conv.ID,
		}).Error("Conversation index is stale, scheduling repair")
		s.scheduleRepair(conv.ID, msg)
	}

	s.publish(ctx, msg, clientID)

	if err := s.sink.MessageSent(ctx, msg); err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Failed to emit message event")
	}

	return msg, nil
}

func (s *chatService) touch(ctx context.Context, conversationID string, msg *models.Message) error {
	var err error
	for attempt := 0; attempt <= s.cfg.TouchRetries; attempt++ {
		if attempt > 0 {
			metrics.IndexTouchRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.cfg.TouchBackoff):
			}
		}
		if err = s.repository.TouchConversation(ctx, conversationID, msg); err == nil {
			return nil
		}
		s.logger.WithError(err).WithField("attempt", attempt+1).Warn("Failed to touch chat")
	}
	return err
}

// scheduleRepair keeps retrying the index update outside the request. The
// touch is monotonic, so a late repair cannot regress a newer message.
func (s *chatService) scheduleRepair(conversationID string, msg *models.Message) {
	s.repairs.Add(1)
	go func() {
		defer s.repairs.Done()

		for attempt := 1; attempt <= s.cfg.RepairAttempts; attempt++ {
			time.Sleep(time.Duration(attempt) * s.cfg.RepairBackoff)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.repository.TouchConversation(ctx, conversationID, msg)
			cancel()
			if err == nil {
				s.logger.WithField("message_id", msg.ID).Info("Conversation index repaired")
				return
			}
		}
		s.logger.WithFields(logrus.Fields{
			"message_id":      msg.ID,
			"conversation_id": conversationID,
		}).Error("Giving up on conversation index repair")
	}()
}

func (s *chatService) publish(ctx context.Context, msg *models.Message, clientID string) {
	if s.publisher == nil {
		return
	}

	var senderInfo *models.UserProfile
	if p, err := s.directory.GetProfile(ctx, msg.Sender); err == nil {
		senderInfo = p
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()

	ev := models.EventFromMessage(msg, clientID, senderInfo)
	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		s.logger.WithError(err).WithField("message_id", msg.ID).Warn("Live delivery failed")
	}
}

func (s *chatService) OpenConversation(ctx context.Context, selfID, partnerID string) (*models.ConversationView, error) {
	if err := validatePair(selfID, partnerID); err != nil {
		return nil, err
	}

	var (
		wg         sync.WaitGroup
		profile    *models.UserProfile
		messages   []*models.Message
		profileErr error
		historyErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		profile, profileErr = s.directory.GetProfile(ctx, partnerID)
	}()
	go func() {
		defer wg.Done()
		messages, historyErr = s.repository.GetHistory(ctx, selfID, partnerID)
	}()
	wg.Wait()

	if profileErr != nil {
		return nil, profileErr
	}
	if historyErr != nil {
		s.logger.WithError(historyErr).Error("Failed to load chat history")
		return nil, historyErr
	}

	if _, err := s.repository.GetOrCreateConversation(ctx, selfID, partnerID); err != nil {
		s.logger.WithError(err).Error("Failed to get or create chat")
		return nil, err
	}

	return &models.ConversationView{Receiver: *profile, Messages: messages}, nil
}

func (s *chatService) AccessConversation(ctx context.Context, selfID, partnerID string) (*models.ConversationSummary, error) {
	if err := validatePair(selfID, partnerID); err != nil {
		return nil, err
	}

	profile, err := s.directory.GetProfile(ctx, partnerID)
	if err != nil {
		return nil, err
	}

	conv, err := s.repository.GetOrCreateConversation(ctx, selfID, partnerID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get or create chat")
		return nil, err
	}

	summary := &models.ConversationSummary{
		ConversationID: conv.ID,
		OtherUser:      *profile,
		LastActivityAt: conv.UpdatedAt,
	}
	if conv.LastMessageID != nil {
		last, err := s.repository.GetHistoryPage(ctx, selfID, partnerID, "", 1)
		if err != nil {
			return nil, err
		}
		if len(last) == 1 {
			summary.LastMessageText = last[0].Content
			summary.LastSender = last[0].Sender
		}
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"user_id":         selfID,
		"partner_id":      partnerID,
	}).Debug("Chat accessed")

	return summary, nil
}

func (s *chatService) ListConversations(ctx context.Context, selfID string) ([]*models.ConversationSummary, error) {
	summaries, err := s.repository.ListConversationSummaries(ctx, selfID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chats")
		return nil, err
	}
	return summaries, nil
}

func (s *chatService) History(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	if err := validatePair(userA, userB); err != nil {
		return nil, err
	}
	messages, err := s.repository.GetHistory(ctx, userA, userB)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get chat messages")
		return nil, err
	}
	return messages, nil
}

func (s *chatService) pageLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}
	return limit
}

func (s *chatService) HistoryPage(ctx context.Context, userA, userB, beforeMessageID string, limit int) ([]*models.Message, error) {
	if err := validatePair(userA, userB); err != nil {
		return nil, err
	}
	if beforeMessageID != "" {
		if _, err := uuid.Parse(beforeMessageID); err != nil {
			return nil, apperr.Validation("invalid before message id")
		}
	}

	messages, err := s.repository.GetHistoryPage(ctx, userA, userB, beforeMessageID, s.pageLimit(limit))
	if err != nil {
		s.logger.WithError(err).Error("Failed to get chat messages")
		return nil, err
	}
	return messages, nil
}

func (s *chatService) ClearConversation(ctx context.Context, selfID, partnerID string) (int, error) {
	if err := validatePair(selfID, partnerID); err != nil {
		return 0, err
	}

	deleted, err := s.repository.DeleteMessagesBetween(ctx, selfID, partnerID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to clear chat")
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    selfID,
		"partner_id": partnerID,
		"deleted":    deleted,
	}).Info("Chat cleared")

	return deleted, nil
}

func (s *chatService) SearchUsers(ctx context.Context, selfID, query string) ([]*models.UserProfile, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("search query is required")
	}
	return s.directory.SearchUsers(ctx, query, selfID, s.cfg.SearchLimit)
}

func (s *chatService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, apperr.Validation("user ID required")
	}
	return s.directory.GetProfile(ctx, userID)
}

func (s *chatService) CreateChat(ctx context.Context, userID1, userID2 string) (*models.Conversation, error) {
	if err := validatePair(userID1, userID2); err != nil {
		return nil, err
	}

	conv, err := s.repository.GetOrCreateConversation(ctx, userID1, userID2)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create chat")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"chat_id":  conv.ID,
		"user_id1": userID1,
		"user_id2": userID2,
	}).Info("Chat created")

	return conv, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID string) (*models.Conversation, error) {
	if _, err := uuid.Parse(chatID); err != nil {
		return nil, apperr.Validation("invalid chat id")
	}
	return s.repository.GetConversationByID(ctx, chatID)
}

func (s *chatService) GetUserChats(ctx context.Context, userID string) ([]*models.Conversation, error) {
	chats, err := s.repository.GetUserConversations(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chats")
		return nil, err
	}
	return chats, nil
}

func (s *chatService) SendToChat(ctx context.Context, chatID, senderID, content string) (*models.Message, error) {
	conv, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(senderID) {
		return nil, apperr.Forbidden("user is not a participant in this chat")
	}
	content, err = s.validateContent(content)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, conv, senderID, conv.Other(senderID), content, "")
}

func (s *chatService) GetChatMessages(ctx context.Context, chatID string, limit int, beforeMessageID string) ([]*models.Message, error) {
	conv, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.HistoryPage(ctx, conv.UserLow, conv.UserHigh, beforeMessageID, limit)
}
