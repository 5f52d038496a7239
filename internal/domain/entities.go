package domain

import (
	"time"

	"github.com/google/uuid"
)

// All monetary amounts are integer rupiah. Points redeem 1:1 against rupiah.

type TicketTier struct {
	ID       uuid.UUID
	EventID  uuid.UUID
	Name     string
	Price    int64
	Quantity int64
	Sold     int64
}

// Remaining is the number of seats still sellable in this tier.
func (t TicketTier) Remaining() int64 {
	return t.Quantity - t.Sold
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type DiscountCoupon struct {
	ID            uuid.UUID
	Code          string
	DiscountType  DiscountType
	DiscountValue float64
	MinPurchase   int64 // 0 means no minimum
	MaxDiscount   int64 // 0 means uncapped
	UsageLimit    int64 // 0 means unlimited
	UsedCount     int64
	ValidFrom     time.Time
	ValidUntil    time.Time
}

type PointsSource string

const (
	SourceReferral PointsSource = "referral"
	SourcePurchase PointsSource = "purchase"
	SourceBonus    PointsSource = "bonus"
	SourceCashback PointsSource = "cashback"
	SourceRefund   PointsSource = "refund"
)

func (s PointsSource) Valid() bool {
	switch s {
	case SourceReferral, SourcePurchase, SourceBonus, SourceCashback, SourceRefund:
		return true
	}
	return false
}

// PointsEntry is one movement in a user's loyalty ledger. Earns are positive,
// spends negative. The balance is the sum of non-expired entries.
type PointsEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Amount    int64
	Source    PointsSource
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Transaction struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	EventID         uuid.UUID
	TicketTierID    uuid.UUID
	Quantity        int64
	TotalAmount     int64
	DiscountAmount  int64
	PointsUsed      int64
	CouponID        uuid.NullUUID
	Status          TransactionStatus
	PaymentProofURL string
	RejectionReason string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	PaidAt          *time.Time
	ConfirmedAt     *time.Time
	RejectedAt      *time.Time
}

// Overdue reports whether an unpaid transaction has outlived its payment
// window. Paid and terminal transactions never expire.
func (t Transaction) Overdue(now time.Time) bool {
	return t.Status == StatusWaitingPayment && now.After(t.ExpiresAt)
}
