// Package cache memoizes subscription lookups in Redis for a short TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"academy/internal/checkin"
	"academy/internal/metrics"
)

// kv is the slice of Redis the cache needs.
type kv interface {
	get(ctx context.Context, key string) ([]byte, error)
	set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	del(ctx context.Context, key string) error
}

var errMiss = errors.New("cache miss")

type redisKV struct{ client *redis.Client }

func (r redisKV) get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errMiss
	}
	return b, err
}

func (r redisKV) set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

func (r redisKV) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Subscriptions wraps a SubscriptionSource with a Redis read-through cache.
// Redis failures fall back to the source.
type Subscriptions struct {
	source  checkin.SubscriptionSource
	store   kv
	ttl     time.Duration
	prefix  string
	metrics *metrics.Recorder
}

// NewSubscriptions builds the cache. A non-positive ttl disables caching.
func NewSubscriptions(source checkin.SubscriptionSource, client *redis.Client, ttl time.Duration, rec *metrics.Recorder) *Subscriptions {
	var store kv
	if client != nil {
		store = redisKV{client: client}
	}
	return &Subscriptions{source: source, store: store, ttl: ttl, prefix: "academy:subs:", metrics: rec}
}

// ActiveSubscriptions returns cached subscriptions when fresh, otherwise
// loads and caches them.
func (c *Subscriptions) ActiveSubscriptions(ctx context.Context, studentID string) ([]checkin.Subscription, error) {
	if c.store == nil || c.ttl <= 0 {
		return c.source.ActiveSubscriptions(ctx, studentID)
	}
	key := c.prefix + studentID

	if raw, err := c.store.get(ctx, key); err == nil {
		var subs []checkin.Subscription
		if err := json.Unmarshal(raw, &subs); err == nil {
			c.metrics.CacheHit()
			return subs, nil
		}
	} else if !errors.Is(err, errMiss) {
		log.Printf("subscription cache get %s: %v", studentID, err)
	}
	c.metrics.CacheMiss()

	subs, err := c.source.ActiveSubscriptions(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(subs); err == nil {
		if err := c.store.set(ctx, key, raw, c.ttl); err != nil {
			log.Printf("subscription cache set %s: %v", studentID, err)
		}
	}
	return subs, nil
}

// Invalidate drops the cached entry for a student.
func (c *Subscriptions) Invalidate(ctx context.Context, studentID string) error {
	if c.store == nil {
		return nil
	}
	return c.store.del(ctx, c.prefix+studentID)
}
