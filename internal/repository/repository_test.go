package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

var (
	dbOnce      sync.Once
	testDB      *sql.DB
	dbErr       error
	pgContainer *postgres.PostgresContainer
)

func TestMain(m *testing.M) {
	code := m.Run()

	if pgContainer != nil {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			log.Printf("failed to terminate container: %s", err)
		}
	}
	os.Exit(code)
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	dbOnce.Do(func() {
		ctx := context.Background()

		pgContainer, dbErr = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("campuscart"),
			postgres.WithUsername("chat"),
			postgres.WithPassword("password"),
			postgres.BasicWaitStrategies(),
		)
		if dbErr != nil {
			return
		}

		var connStr string
		connStr, dbErr = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if dbErr != nil {
			return
		}

		testDB, dbErr = sql.Open("postgres", connStr)
		if dbErr != nil {
			return
		}
		dbErr = NewChatRepository(testDB).InitializeTables(ctx)
	})
	require.NoError(t, dbErr)
	return testDB
}

func seedUser(t *testing.T, db *sql.DB, name, email string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO chat_users (id, name, email, avatar, stream) VALUES ($1, $2, $3, '', 'CSE')`,
		id, name, email,
	)
	require.NoError(t, err)
	return id
}

func send(t *testing.T, repo ChatRepository, from, to, content string) *models.Message {
	t.Helper()
	ctx := context.Background()

	conv, err := repo.GetOrCreateConversation(ctx, from, to)
	require.NoError(t, err)

	msg := &models.Message{ConversationID: conv.ID, Sender: from, Receiver: to, Content: content}
	require.NoError(t, repo.CreateMessage(ctx, msg))
	require.NoError(t, repo.TouchConversation(ctx, conv.ID, msg))
	return msg
}

func TestGetOrCreateConversation_Concurrent(t *testing.T) {
	db := setupDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	a, b := uuid.NewString(), uuid.NewString()

	var wg sync.WaitGroup
	ids := make([]string, 16)
	errs := make([]error, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userA, userB := a, b
			if i%2 == 1 {
				userA, userB = b, a
			}
			conv, err := repo.GetOrCreateConversation(ctx, userA, userB)
			errs[i] = err
			if err == nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int
	low, high := models.PairKey(a, b)
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM chat_conversations WHERE user_low = $1 AND user_high = $2`, low, high,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestHistory_OrderedAndBidirectional(t *testing.T) {
	db := setupDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()

	send(t, repo, a, b, "Is this available?")
	send(t, repo, b, a, "Yes")
	send(t, repo, a, c, "unrelated")
	send(t, repo, a, b, "Great")

	history, err := repo.GetHistory(ctx, b, a)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, "Is this available?", history[0].Content)
	assert.Equal(t, a, history[0].Sender)
	assert.Equal(t, b, history[0].Receiver)
	assert.Equal(t, "Yes", history[1].Content)
	assert.Equal(t, "Great", history[2].Content)

	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
}

func TestHistoryPage(t *testing.T) {
	db := setupDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	a, b := uuid.NewString(), uuid.NewString()
	var sent []*models.Message
	for i := 0; i < 5; i++ {
		sent = append(sent, send(t, repo, a, b, fmt.Sprintf("m%d", i)))
	}

	latest, err := repo.GetHistoryPage(ctx, a, b, "", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "m3", latest[0].Content)
	assert.Equal(t, "m4", latest[1].Content)

	older, err := repo.GetHistoryPage(ctx, a, b, latest[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, sent[0].ID, older[0].ID)
	assert.Equal(t, "m2", older[2].Content)
}

func TestListConversationSummaries(t *testing.T) {
	db := setupDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	a := seedUser(t, db, "Asha", "asha@campus.edu")
	b := seedUser(t, db, "Bilal", "bilal@campus.edu")
	c := seedUser(t, db, "Chen", "chen@campus.edu")

	send(t, repo, a, b, "hi")
	send(t, repo, c, a, "hello there")

	forA, err := repo.ListConversationSummaries(ctx, a)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, c, forA[0].OtherUser.ID)
	assert.Equal(t, "Chen", forA[0].OtherUser.Name)
	assert.Equal(t, "hello there", forA[0].LastMessageText)
	assert.Equal(t, b, forA[1].OtherUser.ID)
	assert.Equal(t, "hi", forA[1].LastMessageText)

	forB, err := repo.ListConversationSummaries(ctx, b)
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, a, forB[0].OtherUser.ID)
	assert.Equal(t, "hi", forB[0].LastMessageText)
	assert.Equal(t, a, forB[0].LastSender)
}

func TestDeleteMessagesBetween_KeepsShell(t *testing.T) {
	db := setupDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	a, b := uuid.NewString(), uuid.NewString()
	send(t, repo, a, b, "one")
	send(t, repo, b, a, "two")

	deleted, err := repo.DeleteMessagesBetween(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	history, err := repo.GetHistory(ctx, a, b)
	require.NoError(t, err)
	assert.Empty(t, history)

	for _, user := range []string{a, b} {
		summaries, err := repo.ListConversationSummaries(ctx, user)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Empty(t, summaries[0].LastMessageText)
	}

	deleted, err = repo.DeleteMessagesBetween(ctx, a, uuid.NewString())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestTouchConversation_Monotonic(t *testing.T) {
	db := setupDB(t)
	repo := NewChatRepository(db)
	ctx := context.Background()

	a, b := uuid.NewString(), uuid.NewString()
	conv, err := repo.GetOrCreateConversation(ctx, a, b)
	require.NoError(t, err)

	first := &models.Message{ConversationID: conv.ID, Sender: a, Receiver: b, Content: "from a"}
	require.NoError(t, repo.CreateMessage(ctx, first))
	second := &models.Message{ConversationID: conv.ID, Sender: b, Receiver: a, Content: "from b"}
	require.NoError(t, repo.CreateMessage(ctx, second))
	require.True(t, second.CreatedAt.After(first.CreatedAt))

	// touches arrive out of order
	require.NoError(t, repo.TouchConversation(ctx, conv.ID, second))
	require.NoError(t, repo.TouchConversation(ctx, conv.ID, first))

	got, err := repo.GetConversationByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageID)
	assert.Equal(t, second.ID, *got.LastMessageID)
	assert.WithinDuration(t, second.CreatedAt, got.UpdatedAt, time.Microsecond)
}

func TestTouchConversation_Missing(t *testing.T) {
	db := setupDB(t)
	repo := NewChatRepository(db)

	err := repo.TouchConversation(context.Background(), uuid.NewString(), &models.Message{
		ID: uuid.NewString(), CreatedAt: time.Now(),
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUserDirectory(t *testing.T) {
	db := setupDB(t)
	dir := NewUserDirectory(db)
	ctx := context.Background()

	suffix := uuid.NewString()[:8]
	me := seedUser(t, db, "Zed "+suffix, "zed"+suffix+"@campus.edu")
	other := seedUser(t, db, "Zara "+suffix, "zara"+suffix+"@campus.edu")

	profile, err := dir.GetProfile(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "Zara "+suffix, profile.Name)
	assert.Equal(t, "CSE", profile.Stream)

	found, err := dir.SearchUsers(ctx, suffix, me, 20)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, other, found[0].ID)

	found, err = dir.SearchUsers(ctx, "ZARA"+suffix+"@", me, 20)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = dir.GetProfile(ctx, uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
