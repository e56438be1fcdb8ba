package models

import (
	"time"
)

// Conversation is the storage-layer record for an unordered pair of users.
// UserLow < UserHigh always holds.
type Conversation struct {
	ID            string
	UserLow       string
	UserHigh      string
	LastMessageID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.UserLow == userID {
		return c.UserHigh
	}
	return c.UserLow
}

// Has reports whether userID takes part in the conversation.
func (c *Conversation) Has(userID string) bool {
	return c.UserLow == userID || c.UserHigh == userID
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"-"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Seq            int64     `json:"-"`
}

// UserProfile holds the public fields of a marketplace user.
type UserProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Stream string `json:"stream,omitempty"`
}

// ConversationSummary is one row of a user's conversation list, addressed by
// the other participant. Unread is filled in client side.
type ConversationSummary struct {
	ConversationID  string      `json:"conversationId,omitempty"`
	OtherUser       UserProfile `json:"otherUser"`
	LastMessageText string      `json:"lastMessageText"`
	LastSender      string      `json:"lastSender,omitempty"`
	LastActivityAt  time.Time   `json:"lastActivityAt"`
	Unread          bool        `json:"unread"`
}

// ConversationView is what opening a conversation returns.
type ConversationView struct {
	Receiver UserProfile `json:"receiver"`
	Messages []*Message  `json:"messages"`
}

// LiveEvent is the ephemeral payload pushed over the live channel. ID is
// empty when the event was synthesized by a client and relayed unpersisted.
type LiveEvent struct {
	ID         string       `json:"id,omitempty"`
	ClientID   string       `json:"clientId,omitempty"`
	Sender     string       `json:"sender"`
	Receiver   string       `json:"receiver"`
	Content    string       `json:"content"`
	CreatedAt  time.Time    `json:"createdAt"`
	SenderInfo *UserProfile `json:"senderInfo,omitempty"`
}

// EventFromMessage builds the live event for a persisted message.
func EventFromMessage(msg *Message, clientID string, sender *UserProfile) LiveEvent {
	return LiveEvent{
		ID:         msg.ID,
		ClientID:   clientID,
		Sender:     msg.Sender,
		Receiver:   msg.Receiver,
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
		SenderInfo: sender,
	}
}

// PairKey orders two user ids so that the first is the smaller one.
func PairKey(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
