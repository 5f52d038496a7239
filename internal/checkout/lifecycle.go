package checkout

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lokatix/checkout/internal/adapters/crdb"
	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
	"github.com/lokatix/checkout/internal/points"
)

// StatusUpdate carries the optional fields of a status change.
type StatusUpdate struct {
	PaymentProofURL string
	RejectionReason string
}

// UpdateStatus moves a transaction to the next lifecycle status. Transitions
// into rejected, expired or canceled release seats and refund points in the
// same database transaction as the status write, and only while the prior
// status is non-terminal, so a duplicate trigger (expiry sweep racing a user
// cancel) rolls back at most once.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, next domain.TransactionStatus, update StatusUpdate) (domain.Transaction, error) {
	if !next.Valid() {
		return domain.Transaction{}, errors.Wrap(domain.ErrInvalidInput, "unknown status")
	}

	// Lazy expiry: an unpaid transaction past its window is expired the
	// moment anything touches it, whatever was asked for. The expiry commits
	// on its own before the requested transition is refused.
	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if current.Overdue(s.now()) {
		expired, err := s.transition(ctx, id, domain.StatusExpired, StatusUpdate{})
		if next == domain.StatusExpired {
			return expired, err
		}
		if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, domain.ErrInvalidTransition
	}

	return s.transition(ctx, id, next, update)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, next domain.TransactionStatus, update StatusUpdate) (domain.Transaction, error) {
	var result domain.Transaction
	var from domain.TransactionStatus
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		txn, err := s.store.GetTransactionForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		from = txn.Status

		// Re-check under the row lock: the window may have closed since the
		// caller's read.
		if txn.Overdue(s.now()) && next != domain.StatusExpired {
			return domain.ErrInvalidTransition
		}
		if !txn.Status.CanTransitionTo(next) {
			return domain.ErrInvalidTransition
		}
		if err := s.applyTransition(ctx, tx, &txn, next, update); err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	observability.StatusTransitionsTotal.WithLabelValues(string(from), string(result.Status)).Inc()
	if err := s.audit.LogStatusChange(ctx, result, from); err != nil {
		s.logger.WithField("transaction_id", result.ID.String()).
			Error("audit log failed: ", err)
	}
	return result, nil
}

// applyTransition writes the status change and its side effects inside the
// caller's database transaction. txn is updated in place.
func (s *Service) applyTransition(ctx context.Context, tx pgx.Tx, txn *domain.Transaction, next domain.TransactionStatus, update StatusUpdate) error {
	prev := txn.Status
	now := s.now()

	txn.Status = next
	switch next {
	case domain.StatusWaitingConfirmation:
		if update.PaymentProofURL == "" {
			return errors.Wrap(domain.ErrInvalidInput, "payment proof is required")
		}
		txn.PaymentProofURL = update.PaymentProofURL
		txn.PaidAt = &now
	case domain.StatusDone:
		txn.ConfirmedAt = &now
	case domain.StatusRejected:
		txn.RejectionReason = update.RejectionReason
		txn.RejectedAt = &now
	}

	if err := s.store.UpdateTransactionStatus(ctx, tx, *txn, prev); err != nil {
		return err
	}

	if next.RequiresRollback() {
		if err := s.rollback(ctx, tx, *txn); err != nil {
			return err
		}
	}

	return s.store.InsertOutbox(ctx, tx, crdb.NewTransactionEvent(*txn, eventType(next)))
}

// rollback reverses the side effects of creation: inventory first, then the
// point refund.
func (s *Service) rollback(ctx context.Context, tx pgx.Tx, txn domain.Transaction) error {
	clamped, err := s.store.ReleaseSeats(ctx, tx, txn.TicketTierID, txn.Quantity)
	if err != nil {
		return err
	}
	if clamped {
		s.logger.WithField("transaction_id", txn.ID.String()).
			WithField("ticket_tier_id", txn.TicketTierID.String()).
			Warn("seat release clamped at zero, sold counter was already low")
	}

	if txn.PointsUsed > 0 {
		now := s.now()
		entry := domain.PointsEntry{
			ID:        uuid.New(),
			UserID:    txn.UserID,
			Amount:    txn.PointsUsed,
			Source:    domain.SourceRefund,
			ExpiresAt: now.Add(points.DefaultTTL),
			CreatedAt: now,
		}
		if err := s.store.InsertPointsEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// UploadPaymentProof records the buyer's proof of payment and moves the
// transaction to waiting_confirmation.
func (s *Service) UploadPaymentProof(ctx context.Context, id uuid.UUID, proofURL string) (domain.Transaction, error) {
	if proofURL == "" {
		return domain.Transaction{}, errors.Wrap(domain.ErrInvalidInput, "payment proof is required")
	}
	return s.UpdateStatus(ctx, id, domain.StatusWaitingConfirmation, StatusUpdate{PaymentProofURL: proofURL})
}

// Expire is the sweep worker's entry point for one overdue transaction. A
// payment that landed after the worker listed the row wins: only a still
// unpaid, past-window transaction is expired here.
func (s *Service) Expire(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !current.Overdue(s.now()) {
		return domain.Transaction{}, domain.ErrInvalidTransition
	}
	return s.transition(ctx, id, domain.StatusExpired, StatusUpdate{})
}

// Overdue lists unpaid transactions whose payment window closed before now.
func (s *Service) Overdue(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	return s.store.GetOverdueTransactions(ctx, now, limit)
}

func eventType(status domain.TransactionStatus) string {
	switch status {
	case domain.StatusWaitingConfirmation:
		return "transaction.paid"
	case domain.StatusDone:
		return "transaction.done"
	default:
		return "transaction." + string(status)
	}
}
