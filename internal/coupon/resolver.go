// Package coupon validates discount-coupon codes against their temporal and
// usage constraints. Validation never consumes the coupon: the used_count
// increment happens atomically when the transaction is created, so repeated
// validation calls cannot double-count.
package coupon

import (
	"context"
	"strings"
	"time"

	redisadapter "github.com/lokatix/checkout/internal/adapters/redis"
	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
)

const cacheTTL = 30 * time.Second

type Store interface {
	GetCouponByCode(ctx context.Context, code string) (domain.DiscountCoupon, error)
}

type Resolver struct {
	store  Store
	cache  *redisadapter.Cache
	logger observability.Logger
}

// NewResolver builds a Resolver. cache may be nil to skip lookup caching.
func NewResolver(store Store, cache *redisadapter.Cache, logger observability.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, logger: logger}
}

// Normalize maps a user-entered code to its canonical form; lookups are
// case-insensitive.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve looks up a coupon by code and checks it against cartAmount at the
// given instant. On success the coupon is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, code string, cartAmount int64, now time.Time) (domain.DiscountCoupon, error) {
	code = Normalize(code)
	if code == "" {
		return domain.DiscountCoupon{}, domain.ErrCouponNotFound
	}

	coupon, err := r.lookup(ctx, code)
	if err != nil {
		return domain.DiscountCoupon{}, err
	}

	if now.Before(coupon.ValidFrom) || now.After(coupon.ValidUntil) {
		return domain.DiscountCoupon{}, domain.ErrCouponExpired
	}
	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return domain.DiscountCoupon{}, domain.ErrCouponLimitReached
	}
	if coupon.MinPurchase > 0 && cartAmount < coupon.MinPurchase {
		return domain.DiscountCoupon{}, domain.ErrMinPurchaseNotMet
	}

	return coupon, nil
}

func (r *Resolver) lookup(ctx context.Context, code string) (domain.DiscountCoupon, error) {
	if r.cache != nil {
		cached, err := r.cache.GetCoupon(ctx, code)
		if err != nil {
			r.logger.WithField("code", code).Warn("coupon cache read failed: ", err)
		} else if cached != nil {
			return *cached, nil
		}
	}

	coupon, err := r.store.GetCouponByCode(ctx, code)
	if err != nil {
		return domain.DiscountCoupon{}, err
	}

	if r.cache != nil {
		if err := r.cache.SetCoupon(ctx, coupon, cacheTTL); err != nil {
			r.logger.WithField("code", code).Warn("coupon cache write failed: ", err)
		}
	}
	return coupon, nil
}
