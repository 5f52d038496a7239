package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/lokatix/checkout/internal/adapters/redis"
)

// Idempotency replays stored responses for repeated Idempotency-Key values,
// so a retried checkout POST cannot create a second transaction.
type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status int
	Result []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.redis.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result}, i.ttl)
}

// Claim reserves a key while its first request is in flight; concurrent
// duplicates are told to back off instead of double-processing.
func (i *Idempotency) Claim(ctx context.Context, key string) (bool, error) {
	return i.redis.Claim(ctx, key, i.ttl)
}

func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.redis.Release(ctx, key)
}
