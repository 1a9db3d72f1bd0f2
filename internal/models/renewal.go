package models

import (
	"time"

	"github.com/google/uuid"
)

type RenewalResult string

const (
	RenewalRenewed RenewalResult = "renewed"
	RenewalSkipped RenewalResult = "skipped"
	RenewalFailed  RenewalResult = "failed"
)

// RenewalErrorKind classifies why a renewal did not succeed
type RenewalErrorKind string

const (
	ErrorKindPaymentDeclined        RenewalErrorKind = "payment_declined"
	ErrorKindProcessorUnavailable   RenewalErrorKind = "processor_unavailable"
	ErrorKindTimeout                RenewalErrorKind = "timeout"
	ErrorKindPriceUnavailable       RenewalErrorKind = "price_unavailable"
	ErrorKindConcurrentModification RenewalErrorKind = "concurrent_modification"
	ErrorKindAlreadyTerminal        RenewalErrorKind = "already_terminal"
	ErrorKindNotDue                 RenewalErrorKind = "not_due"
	ErrorKindAwaitingProcessor      RenewalErrorKind = "awaiting_processor"
	ErrorKindInternal               RenewalErrorKind = "internal"
)

type RenewalOutcome struct {
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	Result         RenewalResult    `json:"result"`
	Reason         RenewalErrorKind `json:"reason,omitempty"`
	Detail         string           `json:"detail,omitempty"`
	PaymentID      *uuid.UUID       `json:"payment_id,omitempty"`
}

func Renewed(subID uuid.UUID, paymentID *uuid.UUID) RenewalOutcome {
	return RenewalOutcome{SubscriptionID: subID, Result: RenewalRenewed, PaymentID: paymentID}
}

func Skipped(subID uuid.UUID, reason RenewalErrorKind) RenewalOutcome {
	return RenewalOutcome{SubscriptionID: subID, Result: RenewalSkipped, Reason: reason}
}

func Failed(subID uuid.UUID, reason RenewalErrorKind, detail string) RenewalOutcome {
	return RenewalOutcome{SubscriptionID: subID, Result: RenewalFailed, Reason: reason, Detail: detail}
}

type RenewalTrigger string

const (
	TriggerScheduled RenewalTrigger = "scheduled"
	TriggerManual    RenewalTrigger = "manual"
)

type RenewalError struct {
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	Kind           RenewalErrorKind `json:"kind"`
	Message        string           `json:"message,omitempty"`
}

// RenewalJobReport summarizes one scheduler run. It is written for operators and never read back into billing decisions.
type RenewalJobReport struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Trigger    RenewalTrigger `json:"trigger" db:"trigger"`
	StartedAt  time.Time      `json:"started_at" db:"started_at"`
	Duration   time.Duration  `json:"duration" db:"duration_ms"`
	Processed  int            `json:"processed" db:"processed"`
	Succeeded  int            `json:"succeeded" db:"succeeded"`
	Failed     int            `json:"failed" db:"failed"`
	Skipped    int            `json:"skipped" db:"skipped"`
	Errors     []RenewalError `json:"errors" db:"errors"`
	FatalError *string        `json:"fatal_error,omitempty" db:"fatal_error"`
}

// Add folds one outcome into the report counters
func (r *RenewalJobReport) Add(o RenewalOutcome) {
	r.Processed++
	switch o.Result {
	case RenewalRenewed:
		r.Succeeded++
	case RenewalSkipped:
		r.Skipped++
	case RenewalFailed:
		r.Failed++
		r.Errors = append(r.Errors, RenewalError{SubscriptionID: o.SubscriptionID, Kind: o.Reason, Message: o.Detail})
	}
}
