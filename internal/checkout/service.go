// Package checkout owns the purchase lifecycle: pricing a cart, creating the
// transaction with its seat and points side effects, and moving it through
// the payment states with compensating rollback on failure.
package checkout

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lokatix/checkout/internal/adapters/crdb"
	"github.com/lokatix/checkout/internal/coupon"
	"github.com/lokatix/checkout/internal/domain"
	"github.com/lokatix/checkout/internal/observability"
	"github.com/lokatix/checkout/internal/points"
)

// Store is the persistence surface the service needs; *crdb.Repository
// implements it.
type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error

	GetTicketTier(ctx context.Context, tierID uuid.UUID) (domain.TicketTier, error)
	ReserveSeats(ctx context.Context, tx pgx.Tx, tierID uuid.UUID, qty int64) error
	ReleaseSeats(ctx context.Context, tx pgx.Tx, tierID uuid.UUID, qty int64) (bool, error)

	RedeemCoupon(ctx context.Context, tx pgx.Tx, couponID uuid.UUID) error

	PointsBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	SpendPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
	InsertPointsEntry(ctx context.Context, tx pgx.Tx, entry domain.PointsEntry) error

	InsertTransaction(ctx context.Context, tx pgx.Tx, txn domain.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, tx pgx.Tx, txn domain.Transaction, prev domain.TransactionStatus) error
	ListTransactions(ctx context.Context, filter crdb.TransactionFilter) ([]domain.Transaction, error)
	GetOverdueTransactions(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error)

	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

// Catalog answers whether the event being purchased exists; the event
// catalog itself is managed elsewhere.
type Catalog interface {
	EventExists(ctx context.Context, eventID uuid.UUID) (bool, error)
}

// Audit records lifecycle events for the organizer's audit trail. Failures
// are logged, never surfaced to the buyer.
type Audit interface {
	LogTransaction(ctx context.Context, txn domain.Transaction) error
	LogStatusChange(ctx context.Context, txn domain.Transaction, from domain.TransactionStatus) error
}

type Service struct {
	store    Store
	resolver *coupon.Resolver
	ledger   *points.Ledger
	catalog  Catalog
	audit    Audit
	logger   observability.Logger
	now      func() time.Time
}

func NewService(store Store, resolver *coupon.Resolver, ledger *points.Ledger, catalog Catalog, audit Audit, logger observability.Logger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		ledger:   ledger,
		catalog:  catalog,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

type AttendeeInfo struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
}

func (a AttendeeInfo) Validate() error {
	if strings.TrimSpace(a.FullName) == "" {
		return errors.Wrap(domain.ErrInvalidInput, "full name is required")
	}
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return errors.Wrap(domain.ErrInvalidInput, "invalid email address")
	}
	phone := strings.TrimSpace(a.PhoneNumber)
	if len(phone) < 7 {
		return errors.Wrap(domain.ErrInvalidInput, "invalid phone number")
	}
	for _, c := range phone {
		if (c < '0' || c > '9') && c != '+' && c != '-' && c != ' ' {
			return errors.Wrap(domain.ErrInvalidInput, "invalid phone number")
		}
	}
	return nil
}

type CreateRequest struct {
	UserID          uuid.UUID
	EventID         uuid.UUID
	TicketTierID    uuid.UUID
	Quantity        int64
	CouponCode      string
	RequestedPoints int64
	Attendee        AttendeeInfo
}

type CheckoutResult struct {
	Transaction domain.Transaction
	Breakdown   domain.PriceCalculation
}

// Quote prices a cart without committing anything. The coupon is validated
// but not consumed.
func (s *Service) Quote(ctx context.Context, req CreateRequest) (domain.PriceCalculation, error) {
	if req.Quantity < 1 {
		return domain.PriceCalculation{}, errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}

	tier, err := s.store.GetTicketTier(ctx, req.TicketTierID)
	if err != nil {
		return domain.PriceCalculation{}, err
	}
	basePrice := tier.Price * req.Quantity

	var applied *domain.DiscountCoupon
	if req.CouponCode != "" {
		c, err := s.resolver.Resolve(ctx, req.CouponCode, basePrice, s.now())
		if err != nil {
			return domain.PriceCalculation{}, err
		}
		applied = &c
	}

	available, err := s.store.PointsBalance(ctx, req.UserID)
	if err != nil {
		return domain.PriceCalculation{}, err
	}

	return domain.CalculatePrice(basePrice, applied, req.RequestedPoints, available), nil
}

// Create confirms a checkout: it prices the cart, then reserves seats,
// debits points, consumes the coupon and writes the transaction in one
// serializable database transaction. Cashback is credited only after that
// commit succeeds.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CheckoutResult, error) {
	if req.Quantity < 1 {
		return CheckoutResult{}, errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}
	if err := req.Attendee.Validate(); err != nil {
		return CheckoutResult{}, err
	}

	exists, err := s.catalog.EventExists(ctx, req.EventID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if !exists {
		return CheckoutResult{}, errors.Wrap(domain.ErrNotFound, "event not found")
	}

	tier, err := s.store.GetTicketTier(ctx, req.TicketTierID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if tier.EventID != req.EventID {
		return CheckoutResult{}, errors.Wrap(domain.ErrInvalidInput, "ticket tier does not belong to event")
	}
	if tier.Remaining() < req.Quantity {
		return CheckoutResult{}, domain.ErrSoldOut
	}
	basePrice := tier.Price * req.Quantity

	var applied *domain.DiscountCoupon
	var couponID uuid.NullUUID
	if req.CouponCode != "" {
		c, err := s.resolver.Resolve(ctx, req.CouponCode, basePrice, s.now())
		if err != nil {
			return CheckoutResult{}, err
		}
		applied = &c
		couponID = uuid.NullUUID{UUID: c.ID, Valid: true}
	}

	available, err := s.store.PointsBalance(ctx, req.UserID)
	if err != nil {
		return CheckoutResult{}, err
	}
	calc := domain.CalculatePrice(basePrice, applied, req.RequestedPoints, available)

	txn := domain.NewTransaction(req.UserID, req.EventID, req.TicketTierID, req.Quantity, calc, couponID, s.now())

	start := time.Now()
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.ReserveSeats(ctx, tx, req.TicketTierID, req.Quantity); err != nil {
			return err
		}
		if calc.PointsUsed > 0 {
			if err := s.store.SpendPoints(ctx, tx, req.UserID, calc.PointsUsed); err != nil {
				return err
			}
		}
		if applied != nil {
			if err := s.store.RedeemCoupon(ctx, tx, applied.ID); err != nil {
				return err
			}
		}
		if err := s.store.InsertTransaction(ctx, tx, txn); err != nil {
			return err
		}
		return s.store.InsertOutbox(ctx, tx, crdb.NewTransactionEvent(txn, "transaction.created"))
	})
	observability.DBTxDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return CheckoutResult{}, err
	}

	observability.CheckoutsTotal.WithLabelValues(string(txn.Status)).Inc()

	if calc.CashbackEarned > 0 {
		if _, err := s.ledger.Earn(ctx, req.UserID, calc.CashbackEarned, domain.SourceCashback); err != nil {
			s.logger.WithField("transaction_id", txn.ID.String()).
				Error("cashback credit failed: ", err)
		}
	}

	if err := s.audit.LogTransaction(ctx, txn); err != nil {
		s.logger.WithField("transaction_id", txn.ID.String()).
			Error("audit log failed: ", err)
	}

	return CheckoutResult{Transaction: txn, Breakdown: calc}, nil
}

// Get reads a transaction, expiring it on the spot when its payment window
// has already closed.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if txn.Overdue(s.now()) {
		expired, err := s.UpdateStatus(ctx, id, domain.StatusExpired, StatusUpdate{})
		if err == nil {
			return expired, nil
		}
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return domain.Transaction{}, err
		}
		// Lost the race to another expiry trigger; re-read.
		return s.store.GetTransaction(ctx, id)
	}
	return txn, nil
}

func (s *Service) List(ctx context.Context, filter crdb.TransactionFilter) ([]domain.Transaction, error) {
	return s.store.ListTransactions(ctx, filter)
}
