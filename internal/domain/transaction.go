package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentWindow is how long an unpaid transaction may sit in
// waiting_payment before it is treated as expired.
const PaymentWindow = 2 * time.Hour

// NewTransaction builds the record for a confirmed checkout. A fully
// discounted order has nothing to pay, so it is created directly in done and
// never goes through the payment-proof step.
func NewTransaction(userID, eventID, tierID uuid.UUID, quantity int64, calc PriceCalculation, couponID uuid.NullUUID, now time.Time) Transaction {
	status := StatusWaitingPayment
	if calc.FinalPayable == 0 {
		status = StatusDone
	}
	return Transaction{
		ID:             uuid.New(),
		UserID:         userID,
		EventID:        eventID,
		TicketTierID:   tierID,
		Quantity:       quantity,
		TotalAmount:    calc.FinalPayable,
		DiscountAmount: calc.CouponDiscount,
		PointsUsed:     calc.PointsUsed,
		CouponID:       couponID,
		Status:         status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(PaymentWindow),
	}
}
