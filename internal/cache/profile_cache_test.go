package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

// These tests need a running Redis on localhost:6379 and are skipped otherwise.
func getTestRedisClient(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: redis unavailable: %v", err)
	}
	client.FlushDB(ctx)
	return client
}

type countingDirectory struct {
	profiles map[string]*models.UserProfile
	lookups  int
}

func (d *countingDirectory) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	d.lookups++
	p, ok := d.profiles[userID]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return p, nil
}

func (d *countingDirectory) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*models.UserProfile, error) {
	return nil, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCachedDirectory_ReadThrough(t *testing.T) {
	client := getTestRedisClient(t)
	defer client.Close()

	next := &countingDirectory{profiles: map[string]*models.UserProfile{
		"u1": {ID: "u1", Name: "Asha", Stream: "ECE"},
	}}
	dir := NewCachedDirectory(next, &ProfileCache{R: client, TTL: time.Minute}, quietLogger())
	ctx := context.Background()

	p, err := dir.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", p.Name)

	p, err = dir.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ECE", p.Stream)
	assert.Equal(t, 1, next.lookups)

	_, err = dir.GetProfile(ctx, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCachedDirectory_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	next := &countingDirectory{profiles: map[string]*models.UserProfile{
		"u1": {ID: "u1", Name: "Asha"},
	}}
	dir := NewCachedDirectory(next, &ProfileCache{R: client, TTL: time.Minute}, quietLogger())

	p, err := dir.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", p.Name)
}
