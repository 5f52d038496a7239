// Package points tracks loyalty balances as an append-only ledger of earn
// and spend entries with expiry metadata.
package points

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
)

// DefaultTTL is how long earned points stay redeemable.
const DefaultTTL = 365 * 24 * time.Hour

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	PointsBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	SpendPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
	InsertPointsEntry(ctx context.Context, tx pgx.Tx, entry domain.PointsEntry) error
}

type Ledger struct {
	store  Store
	logger observability.Logger
	ttl    time.Duration
}

func NewLedger(store Store, logger observability.Logger, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{store: store, logger: logger, ttl: ttl}
}

// Balance sums the user's non-expired ledger entries.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return l.store.PointsBalance(ctx, userID)
}

// Spend debits the balance. The store performs a single conditional write
// guarded by the current balance, so concurrent spends by the same user
// cannot both succeed on stale reads.
func (l *Ledger) Spend(ctx context.Context, userID uuid.UUID, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidInput
	}
	if amount == 0 {
		return nil
	}
	return l.store.WithTx(ctx, func(tx pgx.Tx) error {
		return l.store.SpendPoints(ctx, tx, userID, amount)
	})
}

// Earn credits points with a source tag and the ledger's expiry window.
func (l *Ledger) Earn(ctx context.Context, userID uuid.UUID, amount int64, source domain.PointsSource) (domain.PointsEntry, error) {
	if amount <= 0 || !source.Valid() {
		return domain.PointsEntry{}, domain.ErrInvalidInput
	}
	now := time.Now()
	entry := domain.PointsEntry{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	err := l.store.WithTx(ctx, func(tx pgx.Tx) error {
		return l.store.InsertPointsEntry(ctx, tx, entry)
	})
	if err != nil {
		return domain.PointsEntry{}, err
	}
	l.logger.WithField("user_id", userID.String()).
		WithField("source", string(source)).
		Info("points credited: ", amount)
	return entry, nil
}
