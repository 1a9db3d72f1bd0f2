package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CouponDuration string

const (
	CouponOnce      CouponDuration = "once"
	CouponRepeating CouponDuration = "repeating"
	CouponForever   CouponDuration = "forever"
)

type CouponSource string

const (
	CouponSourceProcessor CouponSource = "processor"
	CouponSourceLocal     CouponSource = "local"
)

// Coupon is a normalized discount descriptor: exactly one of PercentOff and AmountOff is set.
type Coupon struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Code             string           `json:"code" db:"code"`
	PercentOff       *decimal.Decimal `json:"percent_off,omitempty" db:"percent_off"`
	AmountOff        *decimal.Decimal `json:"amount_off,omitempty" db:"amount_off"`
	Currency         *string          `json:"currency,omitempty" db:"currency"`
	Duration         CouponDuration   `json:"duration" db:"duration"`
	DurationInMonths *int             `json:"duration_in_months,omitempty" db:"duration_in_months"`
	Source           CouponSource     `json:"source" db:"source"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

var hundred = decimal.NewFromInt(100)

// AppliesTo reports whether the discount covers the charge with the given zero-based index.
// Repeating coupons are counted in billing periods of the subscription's cadence.
func (c *Coupon) AppliesTo(chargeIndex int, cadence BillingCadence) bool {
	switch c.Duration {
	case CouponOnce:
		return chargeIndex == 0
	case CouponRepeating:
		if c.DurationInMonths == nil {
			return chargeIndex == 0
		}
		periods := *c.DurationInMonths
		if cadence == CadenceYearly {
			periods = (periods + 11) / 12
		}
		return chargeIndex < periods
	case CouponForever:
		return true
	}
	return false
}

// Apply returns the discounted amount for the given charge, never below zero
func (c *Coupon) Apply(amount decimal.Decimal, chargeIndex int, cadence BillingCadence) decimal.Decimal {
	if !c.AppliesTo(chargeIndex, cadence) {
		return amount
	}
	var discounted decimal.Decimal
	switch {
	case c.PercentOff != nil:
		discounted = amount.Sub(amount.Mul(*c.PercentOff).Div(hundred))
	case c.AmountOff != nil:
		discounted = amount.Sub(*c.AmountOff)
	default:
		return amount
	}
	if discounted.IsNegative() {
		return decimal.Zero
	}
	return discounted.Round(2)
}
