package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokatix/checkout/internal/domain"
)

const (
	SerializationFailureCode = "40001"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

// --- ticket tiers ---

func (r *Repository) GetTicketTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error) {
	var tier domain.TicketTier
	err := r.pool.QueryRow(ctx, `
		SELECT id, event_id, name, price, quantity, sold
		FROM ticket_tiers WHERE id = $1
	`, tierID).Scan(&tier.ID, &tier.EventID, &tier.Name, &tier.Price, &tier.Quantity, &tier.Sold)
	if err == pgx.ErrNoRows {
		return domain.TicketTier{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TicketTier{}, err
	}
	return tier, nil
}

// ReserveSeats bumps the sold counter, serialized per tier at write time so
// concurrent checkouts cannot oversell.
func (r *Repository) ReserveSeats(ctx context.Context, tx pgx.Tx, tierID uuid.UUID, qty int64) error {
	result, err := tx.Exec(ctx, `
		UPDATE ticket_tiers SET sold = sold + $2
		WHERE id = $1 AND sold + $2 <= quantity
	`, tierID, qty)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		tag, err := tx.Exec(ctx, `SELECT 1 FROM ticket_tiers WHERE id = $1`, tierID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrSoldOut
	}
	return nil
}

// ReleaseSeats reverses a reservation. The counter is clamped at zero; a
// clamp means a duplicate release slipped past the status guard, so the
// caller should log it.
func (r *Repository) ReleaseSeats(ctx context.Context, tx pgx.Tx, tierID uuid.UUID, qty int64) (clamped bool, err error) {
	result, err := tx.Exec(ctx, `
		UPDATE ticket_tiers SET sold = sold - $2
		WHERE id = $1 AND sold >= $2
	`, tierID, qty)
	if err != nil {
		return false, err
	}
	if result.RowsAffected() > 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		UPDATE ticket_tiers SET sold = 0 WHERE id = $1
	`, tierID)
	return true, err
}

// --- coupons ---

func (r *Repository) GetCouponByCode(ctx context.Context, code string) (domain.DiscountCoupon, error) {
	var c domain.DiscountCoupon
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, discount_type, discount_value, min_purchase, max_discount,
		       usage_limit, used_count, valid_from, valid_until
		FROM coupons WHERE code = upper($1)
	`, code).Scan(&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &c.MinPurchase,
		&c.MaxDiscount, &c.UsageLimit, &c.UsedCount, &c.ValidFrom, &c.ValidUntil)
	if err == pgx.ErrNoRows {
		return domain.DiscountCoupon{}, domain.ErrCouponNotFound
	}
	if err != nil {
		return domain.DiscountCoupon{}, err
	}
	return c, nil
}

// RedeemCoupon consumes one use. The limit check is re-evaluated at write
// time so two racing redemptions cannot both take the last slot.
func (r *Repository) RedeemCoupon(ctx context.Context, tx pgx.Tx, couponID uuid.UUID) error {
	result, err := tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)
	`, couponID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrCouponLimitReached
	}
	return nil
}

// --- points ledger ---

// PointsBalance sums non-expired earns against all spends. Spend entries
// count forever: an earn that expires after being spent must not resurrect
// the spent amount, so the visible balance is clamped at zero instead.
func (r *Repository) PointsBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT GREATEST(COALESCE(SUM(amount), 0), 0) FROM point_entries
		WHERE user_id = $1 AND (amount < 0 OR expires_at > now())
	`, userID).Scan(&balance)
	return balance, err
}

// SpendPoints is a single conditional check-and-debit: the spend entry is
// only written while the non-expired balance still covers the amount.
func (r *Repository) SpendPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	result, err := tx.Exec(ctx, `
		INSERT INTO point_entries (id, user_id, amount, source, expires_at, created_at)
		SELECT $1, $2, -$3::BIGINT, 'purchase', now() + INTERVAL '365 days', now()
		WHERE (
			SELECT COALESCE(SUM(amount), 0) FROM point_entries
			WHERE user_id = $2 AND (amount < 0 OR expires_at > now())
		) >= $3
	`, uuid.New(), userID, amount)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInsufficientPoints
	}
	return nil
}

func (r *Repository) InsertPointsEntry(ctx context.Context, tx pgx.Tx, entry domain.PointsEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO point_entries (id, user_id, amount, source, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.UserID, entry.Amount, entry.Source, entry.ExpiresAt, entry.CreatedAt)
	return err
}

// --- transactions ---

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, txn domain.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (
			id, user_id, event_id, ticket_tier_id, quantity,
			total_amount, discount_amount, points_used, coupon_id,
			status, payment_proof_url, rejection_reason,
			created_at, expires_at, paid_at, confirmed_at, rejected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, txn.ID, txn.UserID, txn.EventID, txn.TicketTierID, txn.Quantity,
		txn.TotalAmount, txn.DiscountAmount, txn.PointsUsed, txn.CouponID,
		txn.Status, txn.PaymentProofURL, txn.RejectionReason,
		txn.CreatedAt, txn.ExpiresAt, txn.PaidAt, txn.ConfirmedAt, txn.RejectedAt)
	return err
}

const transactionColumns = `
	id, user_id, event_id, ticket_tier_id, quantity,
	total_amount, discount_amount, points_used, coupon_id,
	status, COALESCE(payment_proof_url, ''), COALESCE(rejection_reason, ''),
	created_at, expires_at, paid_at, confirmed_at, rejected_at`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var txn domain.Transaction
	err := row.Scan(&txn.ID, &txn.UserID, &txn.EventID, &txn.TicketTierID, &txn.Quantity,
		&txn.TotalAmount, &txn.DiscountAmount, &txn.PointsUsed, &txn.CouponID,
		&txn.Status, &txn.PaymentProofURL, &txn.RejectionReason,
		&txn.CreatedAt, &txn.ExpiresAt, &txn.PaidAt, &txn.ConfirmedAt, &txn.RejectedAt)
	if err == pgx.ErrNoRows {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return txn, err
}

func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

// GetTransactionForUpdate locks the row for the duration of the surrounding
// transaction; every status change goes through this lock.
func (r *Repository) GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Transaction, error) {
	return scanTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

// UpdateTransactionStatus writes the new status and mutable fields,
// conditioned on the status the caller validated against. Zero rows means
// the transaction moved under us, so the transition must not be considered
// committed.
func (r *Repository) UpdateTransactionStatus(ctx context.Context, tx pgx.Tx, txn domain.Transaction, prev domain.TransactionStatus) error {
	result, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = $2, payment_proof_url = $3, rejection_reason = $4,
		    paid_at = $5, confirmed_at = $6, rejected_at = $7
		WHERE id = $1 AND status = $8
	`, txn.ID, txn.Status, txn.PaymentProofURL, txn.RejectionReason,
		txn.PaidAt, txn.ConfirmedAt, txn.RejectedAt, prev)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

type TransactionFilter struct {
	UserID  uuid.NullUUID
	EventID uuid.NullUUID
}

func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE ($1::UUID IS NULL OR user_id = $1)
		  AND ($2::UUID IS NULL OR event_id = $2)
		ORDER BY created_at DESC
	`, filter.UserID, filter.EventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// GetOverdueTransactions feeds the expiry sweep: unpaid transactions whose
// payment window has closed.
func (r *Repository) GetOverdueTransactions(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC LIMIT $3
	`, domain.StatusWaitingPayment, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
