// Package cache keeps committed transaction records in Redis. Records are
// immutable once committed, so entries never need invalidation. Balances
// are never cached.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/models"
)

const keyPrefix = "ledger:tx:"

const DefaultTTL = 24 * time.Hour

type RecordCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRecordCache returns nil when client is nil; a nil *RecordCache is a
// valid, always-missing cache.
func NewRecordCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RecordCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "record_cache")),
	}
}

func key(id string) string { return keyPrefix + id }

// Get reports a miss on any Redis or decoding failure.
func (c *RecordCache) Get(ctx context.Context, id string) (*models.Transaction, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("transaction_id", id), zap.Error(err))
		return nil, false
	}

	var t models.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("transaction_id", id), zap.Error(err))
		return nil, false
	}
	return &t, true
}

func (c *RecordCache) Put(ctx context.Context, t *models.Transaction) {
	if c == nil || t == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("transaction_id", t.ID), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key(t.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("transaction_id", t.ID), zap.Error(err))
	}
}
