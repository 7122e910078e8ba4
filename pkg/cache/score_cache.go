// Package cache keeps recently computed live scores in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/metrics"
	"github.com/openeduhub/metaqs/pkg/models"
)

const keyPrefix = "metaqs:score:"

// ScoreCache stores score results per node and modulator. Cache failures
// are never surfaced: a broken cache degrades to recomputing.
type ScoreCache interface {
	Get(ctx context.Context, nodeRefID uuid.UUID, modulator string) (*models.ScoreResult, bool)
	Set(ctx context.Context, nodeRefID uuid.UUID, modulator string, result *models.ScoreResult)
}

type redisScoreCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewScoreCache returns a Redis-backed cache, or a no-op cache when client is nil
// or ttl is not positive.
func NewScoreCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) ScoreCache {
	if client == nil || ttl <= 0 {
		return noopCache{}
	}
	return &redisScoreCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("score-cache"),
	}
}

var _ ScoreCache = (*redisScoreCache)(nil)

func key(nodeRefID uuid.UUID, modulator string) string {
	return keyPrefix + nodeRefID.String() + ":" + modulator
}

func (c *redisScoreCache) Get(ctx context.Context, nodeRefID uuid.UUID, modulator string) (*models.ScoreResult, bool) {
	raw, err := c.client.Get(ctx, key(nodeRefID, modulator)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ScoreCacheLookup(false)
		return nil, false
	}
	if err != nil {
		c.logger.Debug("Score cache read failed", zap.String("noderef_id", nodeRefID.String()), zap.Error(err))
		metrics.ScoreCacheLookup(false)
		return nil, false
	}

	var result models.ScoreResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("Discarding unreadable score cache entry", zap.String("noderef_id", nodeRefID.String()), zap.Error(err))
		metrics.ScoreCacheLookup(false)
		return nil, false
	}
	metrics.ScoreCacheLookup(true)
	return &result, true
}

func (c *redisScoreCache) Set(ctx context.Context, nodeRefID uuid.UUID, modulator string, result *models.ScoreResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("Failed to encode score for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key(nodeRefID, modulator), raw, c.ttl).Err(); err != nil {
		c.logger.Debug("Score cache write failed", zap.String("noderef_id", nodeRefID.String()), zap.Error(err))
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, uuid.UUID, string) (*models.ScoreResult, bool) { return nil, false }
func (noopCache) Set(context.Context, uuid.UUID, string, *models.ScoreResult)        {}
