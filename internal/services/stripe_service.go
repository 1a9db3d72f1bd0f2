package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"memberbilling/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/coupon"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// WebhookParser verifies and decodes processor webhooks
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*ProcessorEvent, error)
}

var ErrInvalidWebhook = errors.New("invalid webhook")

// StripeService implements PaymentProcessor and WebhookParser on the Stripe API
type StripeService struct {
	webhookSecret string
}

func NewStripeService(apiKey, webhookSecret string) *StripeService {
	stripe.Key = apiKey
	return &StripeService{webhookSecret: webhookSecret}
}

var zeroDecimalCurrencies = map[string]bool{"jpy": true, "krw": true, "vnd": true, "clp": true, "xof": true, "xaf": true}

func minorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func (s *StripeService) CreateCustomer(ctx context.Context, communityID, userID uuid.UUID, idempotencyKey string) (string, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"community_id": communityID.String(),
			"user_id":      userID.String(),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", normalizeStripeError(err))
	}
	return c.ID, nil
}

func (s *StripeService) CreateProduct(ctx context.Context, plan *models.SubscriptionPlan) (string, error) {
	params := &stripe.ProductParams{
		Name:        stripe.String(plan.Name),
		Description: plan.Description,
		Metadata: map[string]string{
			"plan_id":      plan.ID.String(),
			"community_id": plan.CommunityID.String(),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("product:" + plan.ID.String())

	p, err := product.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe product: %w", normalizeStripeError(err))
	}
	return p.ID, nil
}

func (s *StripeService) CreatePrice(ctx context.Context, productID string, amount decimal.Decimal, currency string, cadence models.BillingCadence, idempotencyKey string) (string, error) {
	interval := stripe.PriceRecurringIntervalMonth
	if cadence == models.CadenceYearly {
		interval = stripe.PriceRecurringIntervalYear
	}
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(minorUnits(amount, currency)),
		Currency:   stripe.String(strings.ToLower(currency)),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(interval)),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	p, err := price.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe price: %w", normalizeStripeError(err))
	}
	return p.ID, nil
}

// CreateSubscription fails with a decline when the first invoice cannot be paid
func (s *StripeService) CreateSubscription(ctx context.Context, req ProcessorSubscriptionRequest) (*ProcessorSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceRef)},
		},
		PaymentBehavior: stripe.String("error_if_incomplete"),
		Metadata:        req.Metadata,
	}
	if req.TrialEnd != nil {
		params.TrialEnd = stripe.Int64(req.TrialEnd.Unix())
	}
	if req.CouponCode != nil {
		params.Discounts = []*stripe.SubscriptionDiscountParams{{Coupon: req.CouponCode}}
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddExpand("latest_invoice")

	sub, err := subscription.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe subscription: %w", normalizeStripeError(err))
	}

	result := &ProcessorSubscription{
		ID:       sub.ID,
		Trialing: sub.Status == stripe.SubscriptionStatusTrialing,
	}
	if sub.LatestInvoice != nil {
		result.LatestInvoiceID = sub.LatestInvoice.ID
	}
	return result, nil
}

func (s *StripeService) CancelSubscription(ctx context.Context, externalID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	_, err := subscription.Cancel(externalID, params)
	if err != nil {
		var stripeErr *stripe.Error
		// already gone on the processor side
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil
		}
		return fmt.Errorf("cancel stripe subscription: %w", normalizeStripeError(err))
	}
	return nil
}

// Charge confirms an off-session payment intent against the customer's default payment method
func (s *StripeService) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	getParams := &stripe.CustomerParams{}
	getParams.Context = ctx
	getParams.AddExpand("invoice_settings.default_payment_method")

	c, err := customer.Get(req.CustomerRef, getParams)
	if err != nil {
		return nil, fmt.Errorf("load stripe customer: %w", normalizeStripeError(err))
	}
	if c.InvoiceSettings == nil || c.InvoiceSettings.DefaultPaymentMethod == nil {
		return nil, &DeclineError{Reason: "no_payment_method"}
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(minorUnits(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(c.InvoiceSettings.DefaultPaymentMethod.ID),
		Description:   stripe.String(req.Description),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("confirm stripe payment intent: %w", normalizeStripeError(err))
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, &DeclineError{Reason: string(pi.Status)}
	}
	return &ChargeResult{ExternalPaymentID: pi.ID}, nil
}

func (s *StripeService) ValidateCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	params := &stripe.CouponParams{}
	params.Context = ctx

	c, err := coupon.Get(code, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("coupon %q: %w", code, ErrInvalidCoupon)
		}
		return nil, fmt.Errorf("lookup stripe coupon: %w", normalizeStripeError(err))
	}
	if !c.Valid {
		return nil, fmt.Errorf("coupon %q is no longer redeemable: %w", code, ErrInvalidCoupon)
	}
	return couponFromStripe(c), nil
}

func couponFromStripe(c *stripe.Coupon) *models.Coupon {
	result := &models.Coupon{
		Code:     c.ID,
		Duration: models.CouponDuration(c.Duration),
		Source:   models.CouponSourceProcessor,
	}
	if c.PercentOff > 0 {
		pct := decimal.NewFromFloat(c.PercentOff)
		result.PercentOff = &pct
	} else {
		currency := strings.ToUpper(string(c.Currency))
		amount := fromMinorUnits(c.AmountOff, currency)
		result.AmountOff = &amount
		result.Currency = &currency
	}
	if c.Duration == stripe.CouponDurationRepeating {
		months := int(c.DurationInMonths)
		result.DurationInMonths = &months
	}
	return result
}

// normalizeStripeError maps Stripe failures onto the processor error kinds
func normalizeStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		reason := string(stripeErr.DeclineCode)
		if reason == "" {
			reason = string(stripeErr.Code)
		}
		if reason == "" {
			reason = stripeErr.Msg
		}
		return &DeclineError{Reason: reason}
	case stripeErr.HTTPStatusCode >= 500, stripeErr.HTTPStatusCode == 429, stripeErr.HTTPStatusCode == 0:
		return fmt.Errorf("%w: %s", ErrProcessorUnavailable, stripeErr.Msg)
	}
	return fmt.Errorf("stripe request rejected (%d %s): %s", stripeErr.HTTPStatusCode, stripeErr.Code, stripeErr.Msg)
}

// invoicePayload reads the invoice fields needed for both the pre- and post-2025 Stripe invoice shapes
type invoicePayload struct {
	ID           string `json:"id"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i invoicePayload) subscriptionID() string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription != "" {
		return i.Parent.SubscriptionDetails.Subscription
	}
	return i.Subscription
}

// ParseWebhook verifies the signature and returns nil, nil for events this engine does not track
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*ProcessorEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	switch ProcessorEventType(event.Type) {
	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: parse invoice: %v", ErrInvalidWebhook, err)
		}
		if inv.subscriptionID() == "" {
			return nil, nil
		}
		currency := strings.ToUpper(inv.Currency)
		amount := inv.AmountPaid
		reason := ""
		if ProcessorEventType(event.Type) == EventInvoicePaymentFailed {
			amount = inv.AmountDue
			reason = "invoice_payment_failed"
		}
		return &ProcessorEvent{
			ID:                     event.ID,
			Type:                   ProcessorEventType(event.Type),
			ExternalSubscriptionID: inv.subscriptionID(),
			ExternalPaymentID:      inv.ID,
			Amount:                 fromMinorUnits(amount, currency),
			Currency:               currency,
			Reason:                 reason,
		}, nil
	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: parse subscription: %v", ErrInvalidWebhook, err)
		}
		return &ProcessorEvent{
			ID:                     event.ID,
			Type:                   EventSubscriptionDeleted,
			ExternalSubscriptionID: sub.ID,
		}, nil
	}
	return nil, nil
}
