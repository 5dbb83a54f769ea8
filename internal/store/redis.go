package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oddsedge/ev-engine/internal/model"
)

// RedisCache implements OfferCache and ResultCache on Redis. Every Redis
// error is swallowed: reads degrade to misses, writes to no-ops, logged
// at Warn so an outage is visible without failing calculations.
//
// Result keys are tracked in a per-(offer, participant) index set so that
// an offer content change can delete exactly the dependent results.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed cache with one TTL for offers,
// results, and index sets.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) GetOffer(ctx context.Context, offerID, participantID string) (*model.Offer, bool) {
	data, err := c.rdb.Get(ctx, offerKey(offerID, participantID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("offer cache read failed", "offer", offerID, "err", err)
		}
		return nil, false
	}
	var off model.Offer
	if err := json.Unmarshal(data, &off); err != nil {
		return nil, false
	}
	return &off, true
}

// SetOffer stores the offer and compares its content hash against the
// previously stored one. On a change, every EV result cached for this
// offer+participant is stale and gets deleted. A rewrite with identical
// content leaves cached results alone.
func (c *RedisCache) SetOffer(ctx context.Context, offerID, participantID string, offer *model.Offer) {
	data, err := json.Marshal(offer)
	if err != nil {
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	prev, err := c.rdb.Get(ctx, offerHashKey(offerID, participantID)).Result()
	if err == nil && prev != hash {
		c.invalidateResults(ctx, offerID, participantID)
	}

	if err := c.rdb.Set(ctx, offerKey(offerID, participantID), data, c.ttl).Err(); err != nil {
		slog.Warn("offer cache write failed", "offer", offerID, "err", err)
		return
	}
	c.rdb.Set(ctx, offerHashKey(offerID, participantID), hash, c.ttl)
}

func (c *RedisCache) invalidateResults(ctx context.Context, offerID, participantID string) {
	idx := indexKey(offerID, participantID)
	keys, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		slog.Warn("result index read failed", "offer", offerID, "err", err)
		return
	}
	if len(keys) > 0 {
		c.rdb.Del(ctx, keys...)
	}
	c.rdb.Del(ctx, idx)
	slog.Debug("invalidated cached results after offer change",
		"offer", offerID, "participant", participantID, "results", len(keys))
}

func (c *RedisCache) GetResult(ctx context.Context, sig Signature) (*model.EVResult, bool) {
	data, err := c.rdb.Get(ctx, sig.Key()).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("result cache read failed", "key", sig.Key(), "err", err)
		}
		return nil, false
	}
	var res model.EVResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false
	}
	return &res, true
}

func (c *RedisCache) SetResult(ctx context.Context, sig Signature, res *model.EVResult) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	key := sig.Key()
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		slog.Warn("result cache write failed", "key", key, "err", err)
		return
	}
	// Register the key so an offer change can invalidate it.
	c.rdb.SAdd(ctx, sig.IndexKey(), key)
	c.rdb.Expire(ctx, sig.IndexKey(), c.ttl)
}
