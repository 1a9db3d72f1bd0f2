package services

import (
	"context"
	"time"

	"memberbilling/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentProcessor is the external processor. Every mutating call takes an idempotency key so retries
// have at most one effect. Implementations normalise failures to ErrPaymentDeclined (as *DeclineError),
// ErrProcessorUnavailable or ErrInvalidCoupon.
type PaymentProcessor interface {
	CreateCustomer(ctx context.Context, communityID, userID uuid.UUID, idempotencyKey string) (string, error)
	CreateProduct(ctx context.Context, plan *models.SubscriptionPlan) (string, error)
	CreatePrice(ctx context.Context, productID string, amount decimal.Decimal, currency string, cadence models.BillingCadence, idempotencyKey string) (string, error)
	CreateSubscription(ctx context.Context, req ProcessorSubscriptionRequest) (*ProcessorSubscription, error)
	CancelSubscription(ctx context.Context, externalID string) error
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	ValidateCoupon(ctx context.Context, code string) (*models.Coupon, error)
}

type ProcessorSubscriptionRequest struct {
	CustomerRef    string
	PriceRef       string
	TrialEnd       *time.Time
	CouponCode     *string
	IdempotencyKey string
	Metadata       map[string]string
}

type ProcessorSubscription struct {
	ID              string
	LatestInvoiceID string
	Trialing        bool
}

type ChargeRequest struct {
	Amount         decimal.Decimal
	Currency       string
	CustomerRef    string
	IdempotencyKey string
	Description    string
}

type ChargeResult struct {
	ExternalPaymentID string
}

type ProcessorEventType string

const (
	EventInvoicePaid          ProcessorEventType = "invoice.paid"
	EventInvoicePaymentFailed ProcessorEventType = "invoice.payment_failed"
	EventSubscriptionDeleted  ProcessorEventType = "customer.subscription.deleted"
)

// ProcessorEvent is a processor-side outcome for a processor-owned subscription
type ProcessorEvent struct {
	ID                     string
	Type                   ProcessorEventType
	ExternalSubscriptionID string
	ExternalPaymentID      string
	Amount                 decimal.Decimal
	Currency               string
	Reason                 string
}
