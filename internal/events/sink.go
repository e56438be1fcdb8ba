package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"campuscart/chat-service/internal/models"
)

// Sink receives every persisted message for downstream consumers such as a
// notification worker. It plays no part in chat correctness.
type Sink interface {
	MessageSent(ctx context.Context, msg *models.Message) error
	Close() error
}

type NopSink struct{}

func (NopSink) MessageSent(ctx context.Context, msg *models.Message) error { return nil }
func (NopSink) Close() error                                               { return nil }

// MessageSentEvent is the JSON value written to the topic.
type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewMessageSentEvent(msg *models.Message) MessageSentEvent {
	return MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.Sender,
		ReceiverID:     msg.Receiver,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

// messageWriter is the subset of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink creates a writer keyed by conversation id, so events of one
// conversation stay ordered within a partition.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) MessageSent(ctx context.Context, msg *models.Message) error {
	value, err := json.Marshal(NewMessageSentEvent(msg))
	if err != nil {
		return err
	}
	return s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ConversationID),
		Value: value,
	})
}

func (s *KafkaSink) Close() error { return s.w.Close() }
