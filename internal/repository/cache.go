package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"chat-order/internal/entity"
)

// ScheduleCache keeps price schedules in Redis.
type ScheduleCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewScheduleCache(rdb *redis.Client, ttl time.Duration) *ScheduleCache {
	return &ScheduleCache{rdb: rdb, ttl: ttl}
}

func scheduleKey(code string) string {
	return fmt.Sprintf("schedule:%s", code)
}

// Get returns the cached schedule of code. A miss is not an error.
func (c *ScheduleCache) Get(ctx context.Context, code string) (*entity.PriceSchedule, bool, error) {
	val, err := c.rdb.Get(ctx, scheduleKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var s entity.PriceSchedule
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

func (c *ScheduleCache) Set(ctx context.Context, s *entity.PriceSchedule) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, scheduleKey(s.Code), payload, c.ttl).Err()
}

const claimPending = "pending"

// IdempotencyKeys remembers which order a submit key produced.
type IdempotencyKeys struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyKeys(rdb *redis.Client, ttl time.Duration) *IdempotencyKeys {
	return &IdempotencyKeys{rdb: rdb, ttl: ttl}
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotent-key:%s", key)
}

// Claim reserves key. When key was already used it returns the order id
// stored for it, or "" while the first submit is still running.
func (k *IdempotencyKeys) Claim(ctx context.Context, key string) (claimed bool, orderID string, err error) {
	redisKey := idempotencyKey(key)
	ok, err := k.rdb.SetNX(ctx, redisKey, claimPending, k.ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}

	val, err := k.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return k.Claim(ctx, key)
	}
	if err != nil {
		return false, "", err
	}
	if val == claimPending {
		return false, "", nil
	}
	return false, val, nil
}

// Complete records the order produced for key.
func (k *IdempotencyKeys) Complete(ctx context.Context, key, orderID string) error {
	return k.rdb.Set(ctx, idempotencyKey(key), orderID, k.ttl).Err()
}

// Release forgets key so a failed submit can be retried.
func (k *IdempotencyKeys) Release(ctx context.Context, key string) error {
	return k.rdb.Del(ctx, idempotencyKey(key)).Err()
}
