package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokatix/checkout/internal/adapters/crdb"
	"github.com/lokatix/checkout/internal/coupon"
	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
	"github.com/lokatix/checkout/internal/points"
)

// fakeStore keeps the whole state in memory and mirrors the conditional
// writes the SQL repository performs, including transactional rollback on
// error.
type fakeStore struct {
	tiers   map[uuid.UUID]domain.TicketTier
	coupons map[uuid.UUID]domain.DiscountCoupon
	entries []domain.PointsEntry
	txns    map[uuid.UUID]domain.Transaction
	outbox  []crdb.OutboxRecord

	now func() time.Time
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		tiers:   map[uuid.UUID]domain.TicketTier{},
		coupons: map[uuid.UUID]domain.DiscountCoupon{},
		txns:    map[uuid.UUID]domain.Transaction{},
		now:     now,
	}
}

func (f *fakeStore) snapshot() *fakeStore {
	snap := newFakeStore(f.now)
	for k, v := range f.tiers {
		snap.tiers[k] = v
	}
	for k, v := range f.coupons {
		snap.coupons[k] = v
	}
	for k, v := range f.txns {
		snap.txns[k] = v
	}
	snap.entries = append([]domain.PointsEntry(nil), f.entries...)
	snap.outbox = append([]crdb.OutboxRecord(nil), f.outbox...)
	return snap
}

func (f *fakeStore) restore(snap *fakeStore) {
	f.tiers = snap.tiers
	f.coupons = snap.coupons
	f.txns = snap.txns
	f.entries = snap.entries
	f.outbox = snap.outbox
}

func (f *fakeStore) WithTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	snap := f.snapshot()
	if err := fn(nil); err != nil {
		f.restore(snap)
		return err
	}
	return nil
}

func (f *fakeStore) GetTicketTier(_ context.Context, tierID uuid.UUID) (domain.TicketTier, error) {
	tier, ok := f.tiers[tierID]
	if !ok {
		return domain.TicketTier{}, domain.ErrNotFound
	}
	return tier, nil
}

func (f *fakeStore) ReserveSeats(_ context.Context, _ pgx.Tx, tierID uuid.UUID, qty int64) error {
	tier, ok := f.tiers[tierID]
	if !ok {
		return domain.ErrNotFound
	}
	if tier.Sold+qty > tier.Quantity {
		return domain.ErrSoldOut
	}
	tier.Sold += qty
	f.tiers[tierID] = tier
	return nil
}

func (f *fakeStore) ReleaseSeats(_ context.Context, _ pgx.Tx, tierID uuid.UUID, qty int64) (bool, error) {
	tier := f.tiers[tierID]
	if tier.Sold < qty {
		tier.Sold = 0
		f.tiers[tierID] = tier
		return true, nil
	}
	tier.Sold -= qty
	f.tiers[tierID] = tier
	return false, nil
}

func (f *fakeStore) GetCouponByCode(_ context.Context, code string) (domain.DiscountCoupon, error) {
	for _, c := range f.coupons {
		if c.Code == code {
			return c, nil
		}
	}
	return domain.DiscountCoupon{}, domain.ErrCouponNotFound
}

func (f *fakeStore) RedeemCoupon(_ context.Context, _ pgx.Tx, couponID uuid.UUID) error {
	c, ok := f.coupons[couponID]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return domain.ErrCouponLimitReached
	}
	c.UsedCount++
	f.coupons[couponID] = c
	return nil
}

func (f *fakeStore) PointsBalance(_ context.Context, userID uuid.UUID) (int64, error) {
	now := f.now()
	var balance int64
	for _, e := range f.entries {
		if e.UserID == userID && (e.Amount < 0 || e.ExpiresAt.After(now)) {
			balance += e.Amount
		}
	}
	if balance < 0 {
		balance = 0
	}
	return balance, nil
}

func (f *fakeStore) SpendPoints(ctx context.Context, _ pgx.Tx, userID uuid.UUID, amount int64) error {
	balance, _ := f.PointsBalance(ctx, userID)
	if balance < amount {
		return domain.ErrInsufficientPoints
	}
	f.entries = append(f.entries, domain.PointsEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    -amount,
		Source:    domain.SourcePurchase,
		ExpiresAt: f.now().Add(points.DefaultTTL),
	})
	return nil
}

func (f *fakeStore) InsertPointsEntry(_ context.Context, _ pgx.Tx, entry domain.PointsEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStore) InsertTransaction(_ context.Context, _ pgx.Tx, txn domain.Transaction) error {
	f.txns[txn.ID] = txn
	return nil
}

func (f *fakeStore) GetTransaction(_ context.Context, id uuid.UUID) (domain.Transaction, error) {
	txn, ok := f.txns[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return txn, nil
}

func (f *fakeStore) GetTransactionForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (domain.Transaction, error) {
	return f.GetTransaction(ctx, id)
}

func (f *fakeStore) UpdateTransactionStatus(_ context.Context, _ pgx.Tx, txn domain.Transaction, prev domain.TransactionStatus) error {
	current, ok := f.txns[txn.ID]
	if !ok || current.Status != prev {
		return domain.ErrInvalidTransition
	}
	f.txns[txn.ID] = txn
	return nil
}

func (f *fakeStore) ListTransactions(_ context.Context, filter crdb.TransactionFilter) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, txn := range f.txns {
		if filter.UserID.Valid && txn.UserID != filter.UserID.UUID {
			continue
		}
		if filter.EventID.Valid && txn.EventID != filter.EventID.UUID {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

func (f *fakeStore) GetOverdueTransactions(_ context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, txn := range f.txns {
		if txn.Status == domain.StatusWaitingPayment && !txn.ExpiresAt.After(now) && len(out) < limit {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertOutbox(_ context.Context, _ pgx.Tx, record crdb.OutboxRecord) error {
	f.outbox = append(f.outbox, record)
	return nil
}

type fakeCatalog struct{ events map[uuid.UUID]bool }

func (c *fakeCatalog) EventExists(_ context.Context, eventID uuid.UUID) (bool, error) {
	return c.events[eventID], nil
}

type fakeAudit struct{ logged int }

func (a *fakeAudit) LogTransaction(context.Context, domain.Transaction) error { a.logged++; return nil }
func (a *fakeAudit) LogStatusChange(context.Context, domain.Transaction, domain.TransactionStatus) error {
	a.logged++
	return nil
}

type fixture struct {
	svc     *Service
	store   *fakeStore
	userID  uuid.UUID
	eventID uuid.UUID
	tier    domain.TicketTier
	coupon  domain.DiscountCoupon
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		userID:  uuid.New(),
		eventID: uuid.New(),
		now:     now,
	}
	f.store = newFakeStore(func() time.Time { return f.now })

	f.tier = domain.TicketTier{
		ID:       uuid.New(),
		EventID:  f.eventID,
		Name:     "Regular",
		Price:    100000,
		Quantity: 100,
	}
	f.store.tiers[f.tier.ID] = f.tier

	f.coupon = domain.DiscountCoupon{
		ID:            uuid.New(),
		Code:          "SAVE10",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: 10,
		UsageLimit:    100,
		ValidFrom:     now.AddDate(0, -1, 0),
		ValidUntil:    now.AddDate(0, 1, 0),
	}
	f.store.coupons[f.coupon.ID] = f.coupon

	logger := observability.NewLogger()
	resolver := coupon.NewResolver(f.store, nil, logger)
	ledger := points.NewLedger(f.store, logger, 0)
	catalog := &fakeCatalog{events: map[uuid.UUID]bool{f.eventID: true}}

	f.svc = NewService(f.store, resolver, ledger, catalog, &fakeAudit{}, logger)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) earn(t *testing.T, amount int64) {
	t.Helper()
	f.store.entries = append(f.store.entries, domain.PointsEntry{
		ID:        uuid.New(),
		UserID:    f.userID,
		Amount:    amount,
		Source:    domain.SourceBonus,
		ExpiresAt: f.now.Add(points.DefaultTTL),
	})
}

func (f *fixture) request() CreateRequest {
	return CreateRequest{
		UserID:       f.userID,
		EventID:      f.eventID,
		TicketTierID: f.tier.ID,
		Quantity:     2,
		Attendee: AttendeeInfo{
			FullName:    "Ari Wibowo",
			Email:       "ari@example.com",
			PhoneNumber: "+62 812-3456-7890",
		},
	}
}

func TestCreateCheckout(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 50000)
	ctx := context.Background()

	req := f.request()
	req.CouponCode = "save10"
	req.RequestedPoints = 30000

	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	// 2 x 100000 base, 10% coupon, 30000 points.
	assert.Equal(t, int64(200000), res.Breakdown.BasePrice)
	assert.Equal(t, int64(20000), res.Breakdown.CouponDiscount)
	assert.Equal(t, int64(30000), res.Breakdown.PointsUsed)
	assert.Equal(t, int64(150000), res.Breakdown.FinalPayable)

	txn := res.Transaction
	assert.Equal(t, domain.StatusWaitingPayment, txn.Status)
	assert.Equal(t, f.now.Add(domain.PaymentWindow), txn.ExpiresAt)
	assert.True(t, txn.CouponID.Valid)

	// Side effects all landed: seats, points, coupon, outbox.
	assert.Equal(t, int64(2), f.store.tiers[f.tier.ID].Sold)
	balance, _ := f.store.PointsBalance(ctx, f.userID)
	assert.Equal(t, int64(20000), balance)
	assert.Equal(t, int64(1), f.store.coupons[f.coupon.ID].UsedCount)
	require.Len(t, f.store.outbox, 1)
	assert.Equal(t, "transaction.created", f.store.outbox[0].EventType)
}

func TestCreateSoldOut(t *testing.T) {
	f := newFixture(t)
	tier := f.store.tiers[f.tier.ID]
	tier.Sold = 99
	f.store.tiers[f.tier.ID] = tier

	_, err := f.svc.Create(context.Background(), f.request())
	assert.ErrorIs(t, err, domain.ErrSoldOut)
	assert.Equal(t, int64(99), f.store.tiers[f.tier.ID].Sold)
	assert.Empty(t, f.store.txns)
}

func TestCreateUnknownEvent(t *testing.T) {
	f := newFixture(t)
	req := f.request()
	req.EventID = uuid.New()

	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.request()
	req.Quantity = 0
	_, err := f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	req = f.request()
	req.Attendee.Email = "not-an-email"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	req = f.request()
	req.Attendee.PhoneNumber = "abc"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateFreeOrderCompletesImmediately(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 500000)
	ctx := context.Background()

	req := f.request()
	req.RequestedPoints = 200000

	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Breakdown.FinalPayable)
	assert.Equal(t, domain.StatusDone, res.Transaction.Status)

	// No payment step for a fully redeemed order.
	_, err = f.svc.UploadPaymentProof(ctx, res.Transaction.ID, "https://proof")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCreateCashbackCreditedAfterCommit(t *testing.T) {
	f := newFixture(t)
	big := domain.DiscountCoupon{
		ID:            uuid.New(),
		Code:          "MEGA",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: 250000,
		ValidFrom:     f.now.AddDate(0, -1, 0),
		ValidUntil:    f.now.AddDate(0, 1, 0),
	}
	f.store.coupons[big.ID] = big
	ctx := context.Background()

	req := f.request()
	req.CouponCode = "MEGA"

	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Breakdown.CashbackEarned)
	assert.Equal(t, domain.StatusDone, res.Transaction.Status)

	balance, _ := f.store.PointsBalance(ctx, f.userID)
	assert.Equal(t, int64(50000), balance)

	var cashback *domain.PointsEntry
	for i := range f.store.entries {
		if f.store.entries[i].Source == domain.SourceCashback {
			cashback = &f.store.entries[i]
		}
	}
	require.NotNil(t, cashback)
	assert.Equal(t, int64(50000), cashback.Amount)
}

func TestCreatePointsSpendOutlivesEarnExpiry(t *testing.T) {
	f := newFixture(t)
	f.store.entries = append(f.store.entries, domain.PointsEntry{
		ID:        uuid.New(),
		UserID:    f.userID,
		Amount:    50000,
		Source:    domain.SourceBonus,
		ExpiresAt: f.now.Add(30 * 24 * time.Hour),
	})
	ctx := context.Background()

	req := f.request()
	req.RequestedPoints = 50000
	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), res.Breakdown.PointsUsed)

	// The earn that funded the spend lapses afterwards. The balance must
	// read zero, not negative.
	f.now = f.now.Add(31 * 24 * time.Hour)
	balance, _ := f.store.PointsBalance(ctx, f.userID)
	assert.Equal(t, int64(0), balance)

	// And the spent amount must not come back once the debit row ages
	// past its own expiry.
	f.now = f.now.Add(points.DefaultTTL)
	balance, _ = f.store.PointsBalance(ctx, f.userID)
	assert.Equal(t, int64(0), balance)
}

// staleCouponStore serves coupon reads from a fixed snapshot, standing in
// for a concurrent checkout that validated before the last slot was taken.
type staleCouponStore struct{ coupon domain.DiscountCoupon }

func (s *staleCouponStore) GetCouponByCode(context.Context, string) (domain.DiscountCoupon, error) {
	return s.coupon, nil
}

func TestCreateCouponLimitRaceLosesAtWriteTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The authoritative store says the coupon is exhausted; validation sees
	// a snapshot taken while one use was still left.
	c := f.store.coupons[f.coupon.ID]
	c.UsageLimit = 5
	c.UsedCount = 5
	f.store.coupons[f.coupon.ID] = c

	stale := c
	stale.UsedCount = 4
	logger := observability.NewLogger()
	f.svc.resolver = coupon.NewResolver(&staleCouponStore{coupon: stale}, nil, logger)

	req := f.request()
	req.CouponCode = "SAVE10"

	_, err := f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, domain.ErrCouponLimitReached,
		"the conditional increment re-checks the limit at write time")
	assert.Equal(t, int64(0), f.store.tiers[f.tier.ID].Sold, "reservation rolled back with the failed redemption")
	assert.Empty(t, f.store.txns)
	assert.Equal(t, int64(5), f.store.coupons[f.coupon.ID].UsedCount)
}

func TestQuote(t *testing.T) {
	f := newFixture(t)
	f.earn(t, 150000)
	ctx := context.Background()

	req := f.request()
	req.RequestedPoints = 300000

	calc, err := f.svc.Quote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), calc.PointsUsed)
	assert.Equal(t, int64(50000), calc.FinalPayable)

	// A quote commits nothing.
	assert.Empty(t, f.store.txns)
	assert.Equal(t, int64(0), f.store.tiers[f.tier.ID].Sold)
	balance, _ := f.store.PointsBalance(ctx, f.userID)
	assert.Equal(t, int64(150000), balance)
}
