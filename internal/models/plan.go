package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BillingCadence is how often a subscription is charged
type BillingCadence string

const (
	CadenceMonthly BillingCadence = "monthly"
	CadenceYearly  BillingCadence = "yearly"
)

// Valid reports whether c is a known cadence
func (c BillingCadence) Valid() bool {
	return c == CadenceMonthly || c == CadenceYearly
}

// Next returns t advanced by exactly one billing period
func (c BillingCadence) Next(t time.Time) time.Time {
	if c == CadenceYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

type SubscriptionPlan struct {
	ID                      uuid.UUID        `json:"id" db:"id"`
	CommunityID             uuid.UUID        `json:"community_id" db:"community_id"`
	Name                    string           `json:"name" db:"name"`
	Description             *string          `json:"description" db:"description"`
	MonthlyPrice            *decimal.Decimal `json:"monthly_price" db:"monthly_price"`
	YearlyPrice             *decimal.Decimal `json:"yearly_price" db:"yearly_price"`
	Currency                string           `json:"currency" db:"currency"`
	TrialDays               int              `json:"trial_days" db:"trial_days"`
	Features                []string         `json:"features" db:"features"`
	ProcessorProductID      *string          `json:"processor_product_id,omitempty" db:"processor_product_id"`
	ProcessorMonthlyPriceID *string          `json:"processor_monthly_price_id,omitempty" db:"processor_monthly_price_id"`
	ProcessorYearlyPriceID  *string          `json:"processor_yearly_price_id,omitempty" db:"processor_yearly_price_id"`
	IsActive                bool             `json:"is_active" db:"is_active"`
	CreatedAt               time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at" db:"updated_at"`
}

// PriceFor returns the plan price for the cadence, nil when the plan does not bill it
func (p *SubscriptionPlan) PriceFor(cadence BillingCadence) *decimal.Decimal {
	switch cadence {
	case CadenceMonthly:
		return p.MonthlyPrice
	case CadenceYearly:
		return p.YearlyPrice
	}
	return nil
}

// ProcessorPriceFor returns the mirrored processor price id for the cadence, if any
func (p *SubscriptionPlan) ProcessorPriceFor(cadence BillingCadence) *string {
	switch cadence {
	case CadenceMonthly:
		return p.ProcessorMonthlyPriceID
	case CadenceYearly:
		return p.ProcessorYearlyPriceID
	}
	return nil
}

// IsTrialOnly reports a plan with no price at all that only grants a trial
func (p *SubscriptionPlan) IsTrialOnly() bool {
	return p.MonthlyPrice == nil && p.YearlyPrice == nil && p.TrialDays > 0
}

// Validate checks the pricing rules shared by create and update
func (p *SubscriptionPlan) Validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.TrialDays < 0 {
		return errors.New("trial_days must not be negative")
	}
	for _, price := range []*decimal.Decimal{p.MonthlyPrice, p.YearlyPrice} {
		if price != nil && !price.IsPositive() {
			return errors.New("prices must be greater than zero")
		}
	}
	if p.MonthlyPrice == nil && p.YearlyPrice == nil && p.TrialDays == 0 {
		return errors.New("at least one of monthly_price or yearly_price is required unless the plan is trial-only")
	}
	if len(p.Currency) != 3 {
		return errors.New("currency must be a three-letter ISO code")
	}
	return nil
}
