package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
)

type stubStore struct {
	coupons map[string]domain.DiscountCoupon
}

func (s *stubStore) GetCouponByCode(_ context.Context, code string) (domain.DiscountCoupon, error) {
	coupon, ok := s.coupons[code]
	if !ok {
		return domain.DiscountCoupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

func newResolver(coupons ...domain.DiscountCoupon) *Resolver {
	store := &stubStore{coupons: map[string]domain.DiscountCoupon{}}
	for _, c := range coupons {
		store.coupons[c.Code] = c
	}
	return NewResolver(store, nil, observability.NewLogger())
}

func TestResolve(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	valid := domain.DiscountCoupon{
		ID:            uuid.New(),
		Code:          "SAVE10",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: 10,
		MinPurchase:   100000,
		UsageLimit:    100,
		UsedCount:     10,
		ValidFrom:     now.AddDate(0, -1, 0),
		ValidUntil:    now.AddDate(0, 1, 0),
	}

	r := newResolver(valid)
	ctx := context.Background()

	t.Run("success returns coupon unchanged", func(t *testing.T) {
		got, err := r.Resolve(ctx, "save10", 150000, now)
		require.NoError(t, err)
		assert.Equal(t, valid, got)
	})

	t.Run("lookup is case-insensitive and trims whitespace", func(t *testing.T) {
		_, err := r.Resolve(ctx, "  Save10 ", 150000, now)
		assert.NoError(t, err)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := r.Resolve(ctx, "NOPE", 150000, now)
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)
	})

	t.Run("empty code", func(t *testing.T) {
		_, err := r.Resolve(ctx, "   ", 150000, now)
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)
	})

	t.Run("not yet valid", func(t *testing.T) {
		_, err := r.Resolve(ctx, "SAVE10", 150000, valid.ValidFrom.Add(-time.Hour))
		assert.ErrorIs(t, err, domain.ErrCouponExpired)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := r.Resolve(ctx, "SAVE10", 150000, valid.ValidUntil.Add(time.Hour))
		assert.ErrorIs(t, err, domain.ErrCouponExpired)
	})

	t.Run("below minimum purchase", func(t *testing.T) {
		_, err := r.Resolve(ctx, "SAVE10", 99999, now)
		assert.ErrorIs(t, err, domain.ErrMinPurchaseNotMet)
	})
}

func TestResolveUsageLimit(t *testing.T) {
	now := time.Now()
	exhausted := domain.DiscountCoupon{
		Code:       "FLAT25K",
		UsageLimit: 100,
		UsedCount:  100,
		ValidFrom:  now.AddDate(0, -1, 0),
		ValidUntil: now.AddDate(0, 1, 0),
	}
	unlimited := domain.DiscountCoupon{
		Code:       "FOREVER",
		UsageLimit: 0,
		UsedCount:  1000000,
		ValidFrom:  now.AddDate(0, -1, 0),
		ValidUntil: now.AddDate(0, 1, 0),
	}

	r := newResolver(exhausted, unlimited)

	_, err := r.Resolve(context.Background(), "FLAT25K", 500000, now)
	assert.ErrorIs(t, err, domain.ErrCouponLimitReached)

	_, err = r.Resolve(context.Background(), "FOREVER", 500000, now)
	assert.NoError(t, err, "zero usage_limit means unlimited")
}

func TestResolveDoesNotMutateUsedCount(t *testing.T) {
	now := time.Now()
	store := &stubStore{coupons: map[string]domain.DiscountCoupon{
		"SAVE10": {
			Code:       "SAVE10",
			UsedCount:  5,
			ValidFrom:  now.AddDate(0, -1, 0),
			ValidUntil: now.AddDate(0, 1, 0),
		},
	}}
	r := NewResolver(store, nil, observability.NewLogger())

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), "SAVE10", 100000, now)
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.UsedCount)
	}
	assert.Equal(t, int64(5), store.coupons["SAVE10"].UsedCount)
}
