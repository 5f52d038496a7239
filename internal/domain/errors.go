package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrSerializationFailure = errors.New("serialization failure")

	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponExpired      = errors.New("coupon expired or not yet valid")
	ErrCouponLimitReached = errors.New("coupon usage limit reached")
	ErrMinPurchaseNotMet  = errors.New("minimum purchase not met")

	ErrSoldOut            = errors.New("ticket tier sold out")
	ErrInsufficientPoints = errors.New("insufficient points balance")
	ErrInvalidTransition  = errors.New("invalid status transition")
)
