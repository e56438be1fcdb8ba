package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"campuscart/chat-service/internal/models"
	"campuscart/chat-service/internal/repository"
)

type ProfileCache struct {
	R   redis.UniversalClient
	TTL time.Duration
}

func key(id string) string { return "chat:profile:" + id }

func (c *ProfileCache) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	b, err := c.R.Get(ctx, key(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var p models.UserProfile
	return &p, json.Unmarshal(b, &p)
}

func (c *ProfileCache) Set(ctx context.Context, p *models.UserProfile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, key(p.ID), b, c.TTL).Err()
}

func (c *ProfileCache) Delete(ctx context.Context, id string) error {
	return c.R.Del(ctx, key(id)).Err()
}

// CachedDirectory serves profile lookups from Redis and falls back to the
// wrapped directory. Cache failures only cost a database round trip.
type CachedDirectory struct {
	next   repository.UserDirectory
	cache  *ProfileCache
	logger *logrus.Logger
}

func NewCachedDirectory(next repository.UserDirectory, cache *ProfileCache, logger *logrus.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, cache: cache, logger: logger}
}

func (d *CachedDirectory) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	p, err := d.cache.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if err != redis.Nil {
		d.logger.WithError(err).WithField("user_id", userID).Warn("Profile cache read failed")
	}

	p, err = d.next.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := d.cache.Set(ctx, p); err != nil {
		d.logger.WithError(err).WithField("user_id", userID).Warn("Profile cache write failed")
	}
	return p, nil
}

// SearchUsers always goes to the directory; results depend on the query.
func (d *CachedDirectory) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*models.UserProfile, error) {
	return d.next.SearchUsers(ctx, query, excludeID, limit)
}
