package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	// StatusPending holds the member's live slot while the first charge is in flight. It never grants access.
	StatusPending   SubscriptionStatus = "pending"
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// IsTerminal reports whether no further transitions or charges are allowed
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// GrantsAccess reports whether members in this status keep access.
// past_due is soft-restricted by callers, not revoked.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == StatusTrial || s == StatusActive || s == StatusPastDue
}

type MemberSubscription struct {
	ID                     uuid.UUID          `json:"id" db:"id"`
	CommunityID            uuid.UUID          `json:"community_id" db:"community_id"`
	UserID                 uuid.UUID          `json:"user_id" db:"user_id"`
	PlanID                 uuid.UUID          `json:"plan_id" db:"plan_id"`
	Cadence                BillingCadence     `json:"cadence" db:"cadence"`
	Status                 SubscriptionStatus `json:"status" db:"status"`
	Amount                 decimal.Decimal    `json:"amount" db:"amount"`
	Currency               string             `json:"currency" db:"currency"`
	CurrentPeriodStart     time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end" db:"current_period_end"`
	TrialStart             *time.Time         `json:"trial_start,omitempty" db:"trial_start"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty" db:"trial_end"`
	ExternalSubscriptionID *string            `json:"external_subscription_id,omitempty" db:"external_subscription_id"`
	ExternalCustomerID     *string            `json:"external_customer_id,omitempty" db:"external_customer_id"`
	CouponID               *uuid.UUID         `json:"coupon_id,omitempty" db:"coupon_id"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt              time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at" db:"updated_at"`
}

// DueCursor is the last row of a due page; the next page starts strictly after it
type DueCursor struct {
	PeriodEnd time.Time
	ID        uuid.UUID
}

func (s *MemberSubscription) DueCursor() *DueCursor {
	return &DueCursor{PeriodEnd: s.CurrentPeriodEnd, ID: s.ID}
}

// IsProcessorOwned reports whether renewal billing is delegated to the processor
func (s *MemberSubscription) IsProcessorOwned() bool {
	return s.ExternalSubscriptionID != nil && *s.ExternalSubscriptionID != ""
}

// SubscriptionStatusView is the read model handed to access-control callers
type SubscriptionStatusView struct {
	SubscriptionID   uuid.UUID          `json:"subscription_id"`
	PlanID           uuid.UUID          `json:"plan_id"`
	Status           SubscriptionStatus `json:"status"`
	Cadence          BillingCadence     `json:"cadence"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	TrialEnd         *time.Time         `json:"trial_end,omitempty"`
	CancelledAt      *time.Time         `json:"cancelled_at,omitempty"`
	HasAccess        bool               `json:"has_access"`
}
