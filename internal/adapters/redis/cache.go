package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lokatix/checkout/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetCoupon returns the cached coupon for a normalized code, or nil on a
// cache miss.
func (c *Cache) GetCoupon(ctx context.Context, code string) (*domain.DiscountCoupon, error) {
	val, err := c.client.Get(ctx, "coupon:"+code).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var coupon domain.DiscountCoupon
	if err := json.Unmarshal(val, &coupon); err != nil {
		return nil, err
	}
	return &coupon, nil
}

// SetCoupon caches a coupon under its normalized code. The TTL is kept short
// so a stale used_count cannot linger; the authoritative usage-limit check is
// the conditional increment at redemption time.
func (c *Cache) SetCoupon(ctx context.Context, coupon domain.DiscountCoupon, ttl time.Duration) error {
	data, err := json.Marshal(coupon)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "coupon:"+coupon.Code, data, ttl).Err()
}
