package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one charge attempt. DueDate is the start of the billing window it pays for.
type Payment struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	SubscriptionID    uuid.UUID       `json:"subscription_id" db:"subscription_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Currency          string          `json:"currency" db:"currency"`
	Status            PaymentStatus   `json:"status" db:"status"`
	ExternalPaymentID *string         `json:"external_payment_id,omitempty" db:"external_payment_id"`
	IdempotencyKey    *string         `json:"idempotency_key,omitempty" db:"idempotency_key"`
	FailureReason     *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	DueDate           time.Time       `json:"due_date" db:"due_date"`
	PaidAt            *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}
