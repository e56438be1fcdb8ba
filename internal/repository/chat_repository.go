package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

type ChatRepository interface {
	GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	GetConversationByID(ctx context.Context, id string) (*models.Conversation, error)
	GetConversationByUsers(ctx context.Context, userA, userB string) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	ListConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
	TouchConversation(ctx context.Context, conversationID string, msg *models.Message) error
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetHistory(ctx context.Context, userA, userB string) ([]*models.Message, error)
	GetHistoryPage(ctx context.Context, userA, userB string, beforeMessageID string, limit int) ([]*models.Message, error)
	DeleteMessagesBetween(ctx context.Context, userA, userB string) (int, error)
	Ping(ctx context.Context) error
	InitializeTables(ctx context.Context) error
}

type chatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

func storageErr(op string, err error) error {
	return apperr.Storage("storage failure", errors.Wrap(err, op))
}

func (r *chatRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (r *chatRepository) InitializeTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		stream TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS chat_conversations (
		id UUID PRIMARY KEY,
		user_low TEXT NOT NULL,
		user_high TEXT NOT NULL,
		last_message_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(user_low, user_high),
		CHECK (user_low < user_high)
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id UUID PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		conversation_id UUID NOT NULL REFERENCES chat_conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		CHECK (sender_id <> receiver_id),
		CHECK (length(btrim(content)) > 0)
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_conversation ON chat_messages(conversation_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_chat_conversations_low ON chat_conversations(user_low, updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_chat_conversations_high ON chat_conversations(user_high, updated_at DESC);
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return storageErr("initialize tables", err)
	}
	return nil
}

const conversationColumns = `id, user_low, user_high, last_message_id, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var conv models.Conversation
	var lastMessageID sql.NullString
	if err := row.Scan(
		&conv.ID, &conv.UserLow, &conv.UserHigh, &lastMessageID, &conv.CreatedAt, &conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastMessageID.Valid {
		conv.LastMessageID = &lastMessageID.String
	}
	return &conv, nil
}

// GetOrCreateConversation is idempotent under concurrency: the insert is a
// no-op when the pair already exists and every caller then reads the single
// surviving row.
func (r *chatRepository) GetOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	low, high := models.PairKey(userA, userB)

	_, err := r.db.ExecContext(ctx, `
	INSERT INTO chat_conversations (id, user_low, user_high)
	VALUES ($1, $2, $3)
	ON CONFLICT (user_low, user_high) DO NOTHING
	`, newID(), low, high)
	if err != nil {
		return nil, storageErr("insert conversation", err)
	}

	return r.GetConversationByUsers(ctx, low, high)
}

func (r *chatRepository) GetConversationByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM chat_conversations WHERE id = $1`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("chat not found")
		}
		return nil, storageErr("get conversation", err)
	}
	return conv, nil
}

func (r *chatRepository) GetConversationByUsers(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	low, high := models.PairKey(userA, userB)
	query := `SELECT ` + conversationColumns + ` FROM chat_conversations WHERE user_low = $1 AND user_high = $2`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, low, high))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("chat not found")
		}
		return nil, storageErr("get conversation by users", err)
	}
	return conv, nil
}

func (r *chatRepository) GetUserConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
	SELECT ` + conversationColumns + `
	FROM chat_conversations
	WHERE user_low = $1 OR user_high = $1
	ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("scan conversation", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", err)
	}
	return convs, nil
}

func (r *chatRepository) ListConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	query := `
	SELECT
		c.id,
		CASE WHEN c.user_low = $1 THEN c.user_high ELSE c.user_low END AS other_id,
		u.name, u.email, u.avatar, u.stream,
		m.content, m.sender_id,
		c.updated_at
	FROM chat_conversations c
	LEFT JOIN chat_messages m ON m.id = c.last_message_id
	LEFT JOIN chat_users u ON u.id = CASE WHEN c.user_low = $1 THEN c.user_high ELSE c.user_low END
	WHERE c.user_low = $1 OR c.user_high = $1
	ORDER BY c.updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storageErr("list conversation summaries", err)
	}
	defer rows.Close()

	summaries := []*models.ConversationSummary{}
	for rows.Next() {
		var s models.ConversationSummary
		var name, email, avatar, stream, content, sender sql.NullString
		if err := rows.Scan(
			&s.ConversationID, &s.OtherUser.ID, &name, &email, &avatar, &stream, &content, &sender, &s.LastActivityAt,
		); err != nil {
			return nil, storageErr("scan conversation summary", err)
		}
		s.OtherUser.Name = name.String
		s.OtherUser.Email = email.String
		s.OtherUser.Avatar = avatar.String
		s.OtherUser.Stream = stream.String
		s.LastMessageText = content.String
		s.LastSender = sender.String
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversation summaries", err)
	}
	return summaries, nil
}

// TouchConversation never moves updated_at backwards. When two sends race,
// the message with the later created_at ends up as last_message_id.
func (r *chatRepository) TouchConversation(ctx context.Context, conversationID string, msg *models.Message) error {
	query := `
	UPDATE chat_conversations
	SET last_message_id = CASE WHEN $3 >= updated_at THEN $2::uuid ELSE last_message_id END,
		updated_at = GREATEST(updated_at, $3)
	WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, msg.ID, msg.CreatedAt)
	if err != nil {
		return storageErr("touch conversation", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("touch conversation", err)
	}
	if rowsAffected == 0 {
		return apperr.NotFound("chat not found")
	}
	return nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
	INSERT INTO chat_messages (id, conversation_id, sender_id, receiver_id, content)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING seq, created_at
	`

	if msg.ID == "" {
		msg.ID = newID()
	}

	var seq int64
	var createdAt time.Time
	err := r.db.QueryRowContext(ctx, query,
		msg.ID, msg.ConversationID, msg.Sender, msg.Receiver, msg.Content,
	).Scan(&seq, &createdAt)
	if err != nil {
		return storageErr("insert message", err)
	}

	msg.Seq = seq
	msg.CreatedAt = createdAt
	return nil
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.created_at, m.seq`

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	messages := []*models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.CreatedAt, &msg.Seq,
		); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

func (r *chatRepository) GetHistory(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	low, high := models.PairKey(userA, userB)
	query := `
	SELECT ` + messageColumns + `
	FROM chat_messages m
	JOIN chat_conversations c ON c.id = m.conversation_id
	WHERE c.user_low = $1 AND c.user_high = $2
	ORDER BY m.created_at ASC, m.seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query, low, high)
	if err != nil {
		return nil, storageErr("get history", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, storageErr("scan history", err)
	}
	return messages, nil
}

// GetHistoryPage returns up to limit messages strictly older than
// beforeMessageID (the newest ones when it is empty), in ascending order.
func (r *chatRepository) GetHistoryPage(ctx context.Context, userA, userB string, beforeMessageID string, limit int) ([]*models.Message, error) {
	low, high := models.PairKey(userA, userB)

	var query string
	var args []interface{}

	if beforeMessageID != "" {
		query = `
		SELECT ` + messageColumns + `
		FROM chat_messages m
		JOIN chat_conversations c ON c.id = m.conversation_id
		JOIN chat_messages b ON b.id = $3 AND b.conversation_id = c.id
		WHERE c.user_low = $1 AND c.user_high = $2
		  AND (m.created_at, m.seq) < (b.created_at, b.seq)
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT $4
		`
		args = []interface{}{low, high, beforeMessageID, limit}
	} else {
		query = `
		SELECT ` + messageColumns + `
		FROM chat_messages m
		JOIN chat_conversations c ON c.id = m.conversation_id
		WHERE c.user_low = $1 AND c.user_high = $2
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT $3
		`
		args = []interface{}{low, high, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get history page", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, storageErr("scan history page", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// DeleteMessagesBetween removes the whole history of the pair. The
// conversation row stays, with no last message.
func (r *chatRepository) DeleteMessagesBetween(ctx context.Context, userA, userB string) (int, error) {
	low, high := models.PairKey(userA, userB)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin clear", err)
	}
	defer tx.Rollback()

	var conversationID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM chat_conversations WHERE user_low = $1 AND user_high = $2 FOR UPDATE`,
		low, high,
	).Scan(&conversationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, storageErr("lock conversation", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, storageErr("delete messages", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, storageErr("delete messages", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chat_conversations SET last_message_id = NULL WHERE id = $1`, conversationID,
	); err != nil {
		return 0, storageErr("reset last message", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit clear", err)
	}
	return int(deleted), nil
}
