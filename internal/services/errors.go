package services

import (
	"errors"
	"fmt"
)

var (
	ErrPlanNotFound           = errors.New("plan not found")
	ErrInvalidPlan            = errors.New("invalid plan")
	ErrInvalidCadence         = errors.New("invalid billing cadence")
	ErrPriceUnavailable       = errors.New("plan has no price for the requested cadence")
	ErrInvalidCoupon          = errors.New("invalid coupon")
	ErrPaymentDeclined        = errors.New("payment declined")
	ErrProcessorUnavailable   = errors.New("payment processor unavailable")
	ErrConcurrentModification = errors.New("subscription was modified concurrently")
	ErrAlreadyTerminal        = errors.New("subscription is already cancelled or expired")
	ErrSubscriptionExists     = errors.New("member already has a live subscription")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
)

// DeclineError is returned when the processor rejected a charge. It matches ErrPaymentDeclined.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("payment declined: %s", e.Reason)
}

func (e *DeclineError) Unwrap() error {
	return ErrPaymentDeclined
}

// DeclineReason extracts the processor's reason from a decline, if err is one
func DeclineReason(err error) string {
	var decline *DeclineError
	if errors.As(err, &decline) {
		return decline.Reason
	}
	return ""
}

// Warning is a best-effort failure that did not fail the surrounding operation
type Warning struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

func newWarning(operation string, err error) Warning {
	return Warning{Operation: operation, Message: err.Error()}
}

func (w Warning) String() string {
	return w.Operation + ": " + w.Message
}
