package domain

import "github.com/shopspring/decimal"

// PriceCalculation is the derived breakdown of a checkout quote. It is
// recomputed from its inputs on every change and is never stored.
type PriceCalculation struct {
	BasePrice      int64 `json:"base_price"`
	CouponDiscount int64 `json:"coupon_discount"`
	PointsUsed     int64 `json:"points_used"`
	FinalPayable   int64 `json:"final_payable"`
	CashbackEarned int64 `json:"cashback_earned"`
}

// CalculatePrice computes the payable amount for a cart. Pure and total:
// bad inputs are clamped, never rejected.
//
// The coupon is applied before points. Applying points first would let a
// user redeem more points than needed whenever a coupon exists, so the
// coupon-reduced price is the cap base for redemption.
func CalculatePrice(basePrice int64, coupon *DiscountCoupon, requestedPoints, availablePoints int64) PriceCalculation {
	if basePrice < 0 {
		basePrice = 0
	}
	if requestedPoints < 0 {
		requestedPoints = 0
	}
	if availablePoints < 0 {
		availablePoints = 0
	}

	calc := PriceCalculation{BasePrice: basePrice, FinalPayable: basePrice}

	if coupon != nil {
		calc.CouponDiscount = couponDiscount(basePrice, coupon)
		calc.FinalPayable = basePrice - calc.CouponDiscount
	}

	// Redemption is capped by what was asked, what the user has, and what is
	// still owed after the coupon. A fixed discount larger than the base
	// price leaves a negative payable here, so the points cap is zero.
	pointsCap := calc.FinalPayable
	if pointsCap < 0 {
		pointsCap = 0
	}
	calc.PointsUsed = min3(requestedPoints, availablePoints, pointsCap)
	calc.FinalPayable -= calc.PointsUsed

	// A fixed discount exceeding the base price comes back as cashback.
	if calc.FinalPayable < 0 {
		calc.CashbackEarned = -calc.FinalPayable
		calc.FinalPayable = 0
	}

	return calc
}

func couponDiscount(basePrice int64, coupon *DiscountCoupon) int64 {
	var discount int64
	switch coupon.DiscountType {
	case DiscountPercentage:
		// Decimal math keeps fractional percentages exact; the result is
		// floored to whole rupiah.
		discount = decimal.NewFromInt(basePrice).
			Mul(decimal.NewFromFloat(coupon.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Floor().
			IntPart()
	case DiscountFixed:
		discount = int64(coupon.DiscountValue)
	}
	if coupon.MaxDiscount > 0 && discount > coupon.MaxDiscount {
		discount = coupon.MaxDiscount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

func min3(a, b, c int64) int64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
