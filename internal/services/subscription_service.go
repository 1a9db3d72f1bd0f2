package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"memberbilling/internal/models"
	"memberbilling/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AccessCache caches hasActiveAccess answers per member and community
type AccessCache interface {
	GetAccess(ctx context.Context, communityID, userID uuid.UUID) (hasAccess bool, found bool, err error)
	SetAccess(ctx context.Context, communityID, userID uuid.UUID, hasAccess bool) error
	SetAccessIfAbsent(ctx context.Context, communityID, userID uuid.UUID, hasAccess bool) (stored bool, err error)
}

type CreateSubscriptionInput struct {
	CommunityID uuid.UUID             `json:"-"`
	UserID      uuid.UUID             `json:"-"`
	PlanID      uuid.UUID             `json:"plan_id"`
	Cadence     models.BillingCadence `json:"cadence"`
	CouponCode  *string               `json:"coupon_code,omitempty"`
}

// SubscriptionService owns the subscription state machine. It is the only writer of subscription status.
type SubscriptionService interface {
	Create(ctx context.Context, input CreateSubscriptionInput) (*models.MemberSubscription, error)
	Renew(ctx context.Context, subscriptionID uuid.UUID) models.RenewalOutcome
	Cancel(ctx context.Context, subscriptionID uuid.UUID) ([]Warning, error)
	Get(ctx context.Context, subscriptionID uuid.UUID) (*models.MemberSubscription, error)
	GetStatus(ctx context.Context, communityID, userID uuid.UUID) (*models.SubscriptionStatusView, error)
	HasActiveAccess(ctx context.Context, communityID, userID uuid.UUID) (bool, error)
	ListDue(ctx context.Context, after *models.DueCursor, limit int) ([]*models.MemberSubscription, error)
	ExpireOverdue(ctx context.Context, cutoff time.Time) (int, error)
	ApplyProcessorEvent(ctx context.Context, event ProcessorEvent) error
}

type subscriptionService struct {
	subscriptionRepo repositories.SubscriptionRepository
	plans            PlanService
	coupons          CouponService
	ledger           PaymentService
	processor        PaymentProcessor
	cache            AccessCache
	log              logrus.FieldLogger
	now              func() time.Time
}

type SubscriptionServiceOption func(*subscriptionService)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) SubscriptionServiceOption {
	return func(s *subscriptionService) {
		s.now = now
	}
}

// NewSubscriptionService wires the lifecycle manager. processor and cache may be nil.
func NewSubscriptionService(
	subscriptionRepo repositories.SubscriptionRepository,
	plans PlanService,
	coupons CouponService,
	ledger PaymentService,
	processor PaymentProcessor,
	cache AccessCache,
	log logrus.FieldLogger,
	opts ...SubscriptionServiceOption,
) SubscriptionService {
	s := &subscriptionService{
		subscriptionRepo: subscriptionRepo,
		plans:            plans,
		coupons:          coupons,
		ledger:           ledger,
		processor:        processor,
		cache:            cache,
		log:              log,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock is truncated to the store's timestamp precision so compare-and-set values round-trip exactly
func (s *subscriptionService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

var errUseLocalBilling = errors.New("processor subscription unavailable")

func (s *subscriptionService) Create(ctx context.Context, input CreateSubscriptionInput) (*models.MemberSubscription, error) {
	if !input.Cadence.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCadence, input.Cadence)
	}

	plan, err := s.plans.GetPlan(ctx, input.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive || plan.CommunityID != input.CommunityID {
		return nil, ErrPlanNotFound
	}
	price := plan.PriceFor(input.Cadence)
	if price == nil && !plan.IsTrialOnly() {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, input.Cadence)
	}

	var previousCustomer *string
	existing, err := s.subscriptionRepo.GetCurrentForMember(ctx, input.CommunityID, input.UserID)
	switch {
	case err == nil && !existing.Status.IsTerminal():
		return nil, ErrSubscriptionExists
	case err == nil:
		previousCustomer = existing.ExternalCustomerID
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, fmt.Errorf("failed to check existing subscription: %w", err)
	}

	var coupon *models.Coupon
	if input.CouponCode != nil && strings.TrimSpace(*input.CouponCode) != "" {
		coupon, err = s.coupons.ResolveCoupon(ctx, *input.CouponCode)
		if err != nil {
			return nil, err
		}
		if coupon.Currency != nil && !strings.EqualFold(*coupon.Currency, plan.Currency) {
			return nil, fmt.Errorf("%w: coupon is in %s, plan bills in %s", ErrInvalidCoupon, *coupon.Currency, plan.Currency)
		}
	}

	now := s.clock()
	sub := &models.MemberSubscription{
		ID:                 uuid.New(),
		CommunityID:        input.CommunityID,
		UserID:             input.UserID,
		PlanID:             plan.ID,
		Cadence:            input.Cadence,
		Status:             models.StatusActive,
		Currency:           plan.Currency,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   input.Cadence.Next(now),
		ExternalCustomerID: previousCustomer,
	}
	if price != nil {
		sub.Amount = *price
	}
	if coupon != nil {
		sub.CouponID = &coupon.ID
	}
	if plan.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.Status = models.StatusTrial
		sub.TrialStart = &now
		sub.TrialEnd = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	}

	// the pending row takes the member's live slot before any money moves, so a concurrent
	// create for the same member stops at the unique index instead of charging twice
	status := sub.Status
	sub.Status = models.StatusPending
	if err := s.reserve(ctx, sub); err != nil {
		return nil, err
	}
	sub.Status = status

	if s.processor != nil && plan.ProcessorPriceFor(input.Cadence) != nil {
		created, err := s.createWithProcessor(ctx, sub, *plan.ProcessorPriceFor(input.Cadence), coupon)
		if !errors.Is(err, errUseLocalBilling) {
			return created, err
		}
	}

	if sub.Status == models.StatusTrial {
		if err := s.settle(ctx, sub); err != nil {
			return nil, err
		}
		return sub, nil
	}
	return s.createLocallyBilled(ctx, sub, coupon)
}

func (s *subscriptionService) reserve(ctx context.Context, sub *models.MemberSubscription) error {
	if err := s.subscriptionRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return ErrSubscriptionExists
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// settle moves the pending row to the status sub now carries
func (s *subscriptionService) settle(ctx context.Context, sub *models.MemberSubscription) error {
	ok, err := s.subscriptionRepo.ResolvePending(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: subscription left pending state during create", ErrConcurrentModification)
	}
	s.publishAccess(ctx, sub, sub.Status)
	return nil
}

// release drops a pending row when the create failed without a confirmed charge
func (s *subscriptionService) release(ctx context.Context, sub *models.MemberSubscription) {
	if err := s.subscriptionRepo.DeletePending(context.WithoutCancel(ctx), sub.ID); err != nil {
		s.log.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to release pending subscription, sweeper will expire it")
	}
}

func (s *subscriptionService) ensureCustomer(ctx context.Context, sub *models.MemberSubscription) (string, error) {
	if sub.ExternalCustomerID != nil {
		return *sub.ExternalCustomerID, nil
	}
	if s.processor == nil {
		return "", fmt.Errorf("%w: no payment processor configured", ErrProcessorUnavailable)
	}
	customerID, err := s.processor.CreateCustomer(ctx, sub.CommunityID, sub.UserID, "customer:"+sub.ID.String())
	if err != nil {
		return "", err
	}
	sub.ExternalCustomerID = &customerID
	return customerID, nil
}

// createWithProcessor hands renewal billing to the processor. errUseLocalBilling means the processor
// could not be reached and the caller should bill locally instead; the pending row stays reserved.
func (s *subscriptionService) createWithProcessor(ctx context.Context, sub *models.MemberSubscription, priceRef string, coupon *models.Coupon) (*models.MemberSubscription, error) {
	log := s.log.WithFields(logrus.Fields{"subscription_id": sub.ID, "community_id": sub.CommunityID})

	customerID, err := s.ensureCustomer(ctx, sub)
	if errors.Is(err, ErrProcessorUnavailable) {
		log.WithError(err).Warn("Processor unavailable for customer, billing locally")
		return nil, errUseLocalBilling
	}
	if err != nil {
		s.release(ctx, sub)
		return nil, err
	}

	req := ProcessorSubscriptionRequest{
		CustomerRef:    customerID,
		PriceRef:       priceRef,
		TrialEnd:       sub.TrialEnd,
		IdempotencyKey: "subscription:" + sub.ID.String(),
		Metadata: map[string]string{
			"subscription_id": sub.ID.String(),
			"community_id":    sub.CommunityID.String(),
		},
	}
	if coupon != nil && coupon.Source == models.CouponSourceProcessor {
		req.CouponCode = &coupon.Code
	}

	firstCharge := discounted(sub.Amount, coupon, 0, sub.Cadence)

	ps, err := s.processor.CreateSubscription(ctx, req)
	switch {
	case errors.Is(err, ErrPaymentDeclined):
		return nil, s.declined(ctx, sub, firstCharge, req.IdempotencyKey, err)
	case errors.Is(err, ErrProcessorUnavailable):
		log.WithError(err).Warn("Processor subscription could not be created, billing locally")
		return nil, errUseLocalBilling
	case err != nil:
		s.release(ctx, sub)
		return nil, err
	}

	sub.ExternalSubscriptionID = &ps.ID
	if err := s.settle(ctx, sub); err != nil {
		log.WithError(err).WithField("external_subscription_id", ps.ID).Error("Processor subscription created but not stored")
		return nil, err
	}

	if sub.Status == models.StatusActive && ps.LatestInvoiceID != "" {
		paidAt := sub.CurrentPeriodStart
		_, err := s.ledger.Record(ctx, &models.Payment{
			SubscriptionID:    sub.ID,
			Amount:            firstCharge,
			Currency:          sub.Currency,
			Status:            models.PaymentCompleted,
			ExternalPaymentID: &ps.LatestInvoiceID,
			DueDate:           sub.CurrentPeriodStart,
			PaidAt:            &paidAt,
		})
		if err != nil {
			log.WithError(err).Warn("Failed to record first processor invoice, webhook will reconcile")
		}
	}
	return sub, nil
}

func (s *subscriptionService) createLocallyBilled(ctx context.Context, sub *models.MemberSubscription, coupon *models.Coupon) (*models.MemberSubscription, error) {
	log := s.log.WithFields(logrus.Fields{"subscription_id": sub.ID, "community_id": sub.CommunityID})
	key := "create:" + sub.ID.String()

	amount := discounted(sub.Amount, coupon, 0, sub.Cadence)

	var externalID *string
	if amount.IsPositive() {
		customerID, err := s.ensureCustomer(ctx, sub)
		if err != nil {
			s.release(ctx, sub)
			return nil, err
		}
		result, err := s.charge(ctx, ChargeRequest{
			Amount:         amount,
			Currency:       sub.Currency,
			CustomerRef:    customerID,
			IdempotencyKey: key,
			Description:    fmt.Sprintf("Subscription %s initial charge", sub.ID),
		})
		if errors.Is(err, ErrPaymentDeclined) {
			return nil, s.declined(ctx, sub, amount, key, err)
		}
		if err != nil {
			log.WithError(err).WithField("idempotency_key", key).Warn("Initial charge failed, releasing pending subscription")
			s.release(ctx, sub)
			return nil, err
		}
		externalID = &result.ExternalPaymentID
	}

	paidAt := s.clock()
	if _, err := s.ledger.Record(ctx, &models.Payment{
		SubscriptionID:    sub.ID,
		Amount:            amount,
		Currency:          sub.Currency,
		Status:            models.PaymentCompleted,
		ExternalPaymentID: externalID,
		IdempotencyKey:    &key,
		DueDate:           sub.CurrentPeriodStart,
		PaidAt:            &paidAt,
	}); err != nil {
		log.WithError(err).Error("Initial charge succeeded but payment was not recorded")
	}

	if err := s.settle(ctx, sub); err != nil {
		log.WithError(err).Error("Initial charge succeeded but subscription was not activated")
		return nil, err
	}
	return sub, nil
}

// declined closes out a subscription whose first charge was declined. It never becomes active.
func (s *subscriptionService) declined(ctx context.Context, sub *models.MemberSubscription, amount decimal.Decimal, key string, declineErr error) error {
	reason := DeclineReason(declineErr)
	sub.Status = models.StatusExpired
	sub.CurrentPeriodEnd = sub.CurrentPeriodStart

	if err := s.settle(ctx, sub); err != nil {
		s.log.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to store declined subscription")
		return declineErr
	}
	if _, err := s.ledger.Record(ctx, &models.Payment{
		SubscriptionID: sub.ID,
		Amount:         amount,
		Currency:       sub.Currency,
		Status:         models.PaymentFailed,
		IdempotencyKey: &key,
		FailureReason:  &reason,
		DueDate:        sub.CurrentPeriodStart,
	}); err != nil {
		s.log.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to record declined payment")
	}
	return fmt.Errorf("initial charge: %w", declineErr)
}

func (s *subscriptionService) charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if s.processor == nil {
		return nil, fmt.Errorf("%w: no payment processor configured", ErrProcessorUnavailable)
	}
	return s.processor.Charge(ctx, req)
}

func discounted(amount decimal.Decimal, coupon *models.Coupon, chargeIndex int, cadence models.BillingCadence) decimal.Decimal {
	if coupon == nil {
		return amount
	}
	return coupon.Apply(amount, chargeIndex, cadence)
}

// chargeAmount is the snapshot price with the subscription's coupon applied to the next charge
func (s *subscriptionService) chargeAmount(ctx context.Context, sub *models.MemberSubscription) (decimal.Decimal, error) {
	if sub.CouponID == nil {
		return sub.Amount, nil
	}
	coupon, err := s.coupons.GetCoupon(ctx, *sub.CouponID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load coupon: %w", err)
	}
	completed, err := s.ledger.CompletedCount(ctx, sub.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to count completed payments: %w", err)
	}
	return discounted(sub.Amount, coupon, completed, sub.Cadence), nil
}

func (s *subscriptionService) Renew(ctx context.Context, subscriptionID uuid.UUID) models.RenewalOutcome {
	sub, err := s.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return s.failure(ctx, subscriptionID, err)
	}
	if sub.Status.IsTerminal() {
		return models.Skipped(sub.ID, models.ErrorKindAlreadyTerminal)
	}
	if sub.Status == models.StatusPending {
		return models.Skipped(sub.ID, models.ErrorKindNotDue)
	}

	now := s.clock()
	if sub.CurrentPeriodEnd.After(now) {
		return models.Skipped(sub.ID, models.ErrorKindNotDue)
	}

	if sub.IsProcessorOwned() {
		return s.syncProcessorOwned(ctx, sub, now)
	}
	return s.renewLocally(ctx, sub, now)
}

// syncProcessorOwned trusts the processor's own charge and only moves the local window.
// A past_due processor subscription waits for the processor to report a paid invoice.
func (s *subscriptionService) syncProcessorOwned(ctx context.Context, sub *models.MemberSubscription, now time.Time) models.RenewalOutcome {
	if sub.Status == models.StatusPastDue {
		return models.Skipped(sub.ID, models.ErrorKindAwaitingProcessor)
	}

	amount, err := s.chargeAmount(ctx, sub)
	if err != nil {
		return s.failure(ctx, sub.ID, err)
	}

	windowStart := sub.CurrentPeriodEnd
	ok, err := s.subscriptionRepo.CompareAndAdvance(ctx, sub.ID, sub.CurrentPeriodEnd, windowStart, sub.Cadence.Next(windowStart), models.StatusActive)
	if err != nil {
		return s.failure(ctx, sub.ID, err)
	}
	if !ok {
		return models.Skipped(sub.ID, models.ErrorKindConcurrentModification)
	}
	s.publishAccess(ctx, sub, models.StatusActive)

	key := fmt.Sprintf("sync:%s:%d", sub.ID, windowStart.Unix())
	payment, err := s.ledger.Record(ctx, &models.Payment{
		SubscriptionID: sub.ID,
		Amount:         amount,
		Currency:       sub.Currency,
		Status:         models.PaymentCompleted,
		IdempotencyKey: &key,
		DueDate:        windowStart,
		PaidAt:         &now,
	})
	if err != nil {
		s.log.WithError(err).WithField("subscription_id", sub.ID).Warn("Window advanced but sync payment was not recorded")
		return models.Renewed(sub.ID, nil)
	}
	return models.Renewed(sub.ID, &payment.ID)
}

func (s *subscriptionService) renewLocally(ctx context.Context, sub *models.MemberSubscription, now time.Time) models.RenewalOutcome {
	dueDate := sub.CurrentPeriodEnd
	log := s.log.WithFields(logrus.Fields{"subscription_id": sub.ID, "due_date": dueDate})

	// a previous attempt charged and recorded but lost the window update
	paid, err := s.ledger.HasCompletedFor(ctx, sub.ID, dueDate)
	if err != nil {
		return s.failure(ctx, sub.ID, err)
	}
	if paid {
		return s.advance(ctx, sub, nil)
	}

	attempt, err := s.ledger.FailedAttemptCount(ctx, sub.ID, dueDate)
	if err != nil {
		return s.failure(ctx, sub.ID, err)
	}
	key := fmt.Sprintf("renew:%s:%d:%d", sub.ID, dueDate.Unix(), attempt)

	if !sub.Amount.IsPositive() {
		return s.markPastDue(ctx, sub, decimal.Zero, key, "no_price_for_cadence", models.ErrorKindPriceUnavailable)
	}

	amount, err := s.chargeAmount(ctx, sub)
	if err != nil {
		return s.failure(ctx, sub.ID, err)
	}

	var externalID *string
	if amount.IsPositive() {
		hadCustomer := sub.ExternalCustomerID != nil
		customerID, err := s.ensureCustomer(ctx, sub)
		if err != nil {
			return s.chargeFailure(ctx, sub, amount, key, err)
		}
		if !hadCustomer {
			if err := s.subscriptionRepo.SetCustomerRef(ctx, sub.ID, customerID); err != nil {
				log.WithError(err).Warn("Failed to store processor customer reference")
			}
		}
		result, err := s.charge(ctx, ChargeRequest{
			Amount:         amount,
			Currency:       sub.Currency,
			CustomerRef:    customerID,
			IdempotencyKey: key,
			Description:    fmt.Sprintf("Subscription %s renewal", sub.ID),
		})
		if err != nil {
			return s.chargeFailure(ctx, sub, amount, key, err)
		}
		externalID = &result.ExternalPaymentID
	}

	payment, err := s.ledger.Record(ctx, &models.Payment{
		SubscriptionID:    sub.ID,
		Amount:            amount,
		Currency:          sub.Currency,
		Status:            models.PaymentCompleted,
		ExternalPaymentID: externalID,
		IdempotencyKey:    &key,
		DueDate:           dueDate,
		PaidAt:            &now,
	})
	if err != nil {
		// the same key is reused next tick, so the processor replays this charge instead of taking a second one
		log.WithError(err).Error("Renewal charged but payment was not recorded")
		return models.Failed(sub.ID, models.ErrorKindInternal, err.Error())
	}
	return s.advance(ctx, sub, &payment.ID)
}

func (s *subscriptionService) advance(ctx context.Context, sub *models.MemberSubscription, paymentID *uuid.UUID) models.RenewalOutcome {
	windowStart := sub.CurrentPeriodEnd
	ok, err := s.subscriptionRepo.CompareAndAdvance(ctx, sub.ID, sub.CurrentPeriodEnd, windowStart, sub.Cadence.Next(windowStart), models.StatusActive)
	if err != nil {
		return s.failure(ctx, sub.ID, err)
	}
	if !ok {
		return models.Skipped(sub.ID, models.ErrorKindConcurrentModification)
	}
	s.publishAccess(ctx, sub, models.StatusActive)
	return models.Renewed(sub.ID, paymentID)
}

func (s *subscriptionService) chargeFailure(ctx context.Context, sub *models.MemberSubscription, amount decimal.Decimal, key string, err error) models.RenewalOutcome {
	if errors.Is(err, ErrPaymentDeclined) {
		return s.markPastDue(ctx, sub, amount, key, DeclineReason(err), models.ErrorKindPaymentDeclined)
	}
	return s.failure(ctx, sub.ID, err)
}

// markPastDue records the failed attempt and moves the subscription to past_due without touching the window
func (s *subscriptionService) markPastDue(ctx context.Context, sub *models.MemberSubscription, amount decimal.Decimal, key, reason string, kind models.RenewalErrorKind) models.RenewalOutcome {
	payment, err := s.ledger.Record(ctx, &models.Payment{
		SubscriptionID: sub.ID,
		Amount:         amount,
		Currency:       sub.Currency,
		Status:         models.PaymentFailed,
		IdempotencyKey: &key,
		FailureReason:  &reason,
		DueDate:        sub.CurrentPeriodEnd,
	})
	if err != nil {
		// the status only moves once the attempt is on the ledger; until then the next tick
		// reuses this key and the processor replays the same decline
		s.log.WithError(err).WithField("subscription_id", sub.ID).Error("Failed to record failed renewal payment")
		return models.Failed(sub.ID, models.ErrorKindInternal, err.Error())
	}

	ok, err := s.subscriptionRepo.CompareAndSetStatus(ctx, sub.ID, sub.CurrentPeriodEnd, models.StatusPastDue)
	if err != nil {
		return s.failure(ctx, sub.ID, err)
	}
	if !ok {
		return models.Skipped(sub.ID, models.ErrorKindConcurrentModification)
	}
	s.publishAccess(ctx, sub, models.StatusPastDue)

	outcome := models.Failed(sub.ID, kind, reason)
	outcome.PaymentID = &payment.ID
	return outcome
}

func (s *subscriptionService) failure(ctx context.Context, subscriptionID uuid.UUID, err error) models.RenewalOutcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		return models.Failed(subscriptionID, models.ErrorKindTimeout, err.Error())
	case errors.Is(err, ErrProcessorUnavailable):
		return models.Failed(subscriptionID, models.ErrorKindProcessorUnavailable, err.Error())
	case errors.Is(err, repositories.ErrNotFound):
		return models.Skipped(subscriptionID, models.ErrorKindAlreadyTerminal)
	}
	return models.Failed(subscriptionID, models.ErrorKindInternal, err.Error())
}

// Cancel is immediate and local-authoritative. Processor cancellation is best-effort and reported as a warning.
func (s *subscriptionService) Cancel(ctx context.Context, subscriptionID uuid.UUID) ([]Warning, error) {
	sub, err := s.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case models.StatusCancelled:
		return nil, nil
	case models.StatusExpired:
		return nil, ErrAlreadyTerminal
	}

	cancelled, err := s.subscriptionRepo.Cancel(ctx, sub.ID, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if !cancelled {
		current, err := s.Get(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.StatusCancelled {
			return nil, ErrAlreadyTerminal
		}
		return nil, nil
	}

	var warnings []Warning
	if w := s.publishAccess(ctx, sub, models.StatusCancelled); w != nil {
		warnings = append(warnings, *w)
	}

	if sub.IsProcessorOwned() && s.processor != nil {
		if err := s.processor.CancelSubscription(ctx, *sub.ExternalSubscriptionID); err != nil {
			s.log.WithError(err).WithField("subscription_id", sub.ID).Warn("Processor cancellation failed, local cancellation stands")
			warnings = append(warnings, newWarning("cancel_processor_subscription", err))
		}
	}
	return warnings, nil
}

// publishAccess writes the decision for the status a transition just committed. Reads only fill
// misses, so a reader that loaded the row before the transition cannot overwrite this value.
func (s *subscriptionService) publishAccess(ctx context.Context, sub *models.MemberSubscription, status models.SubscriptionStatus) *Warning {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.SetAccess(ctx, sub.CommunityID, sub.UserID, status.GrantsAccess()); err != nil {
		s.log.WithError(err).WithField("subscription_id", sub.ID).Warn("Failed to update access cache")
		w := newWarning("update_access_cache", err)
		return &w
	}
	return nil
}

func (s *subscriptionService) Get(ctx context.Context, subscriptionID uuid.UUID) (*models.MemberSubscription, error) {
	sub, err := s.subscriptionRepo.GetByID(ctx, subscriptionID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetStatus returns nil when the member never subscribed in this community
func (s *subscriptionService) GetStatus(ctx context.Context, communityID, userID uuid.UUID) (*models.SubscriptionStatusView, error) {
	sub, err := s.subscriptionRepo.GetCurrentForMember(ctx, communityID, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription status: %w", err)
	}
	return &models.SubscriptionStatusView{
		SubscriptionID:   sub.ID,
		PlanID:           sub.PlanID,
		Status:           sub.Status,
		Cadence:          sub.Cadence,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		TrialEnd:         sub.TrialEnd,
		CancelledAt:      sub.CancelledAt,
		HasAccess:        sub.Status.GrantsAccess(),
	}, nil
}

func (s *subscriptionService) HasActiveAccess(ctx context.Context, communityID, userID uuid.UUID) (bool, error) {
	if s.cache != nil {
		hasAccess, found, err := s.cache.GetAccess(ctx, communityID, userID)
		if err != nil {
			s.log.WithError(err).Warn("Access cache read failed, falling back to store")
		} else if found {
			return hasAccess, nil
		}
	}

	view, err := s.GetStatus(ctx, communityID, userID)
	if err != nil {
		return false, err
	}
	hasAccess := view != nil && view.HasAccess

	if s.cache != nil {
		if _, err := s.cache.SetAccessIfAbsent(ctx, communityID, userID, hasAccess); err != nil {
			s.log.WithError(err).Warn("Failed to cache access decision")
		}
	}
	return hasAccess, nil
}

func (s *subscriptionService) ListDue(ctx context.Context, after *models.DueCursor, limit int) ([]*models.MemberSubscription, error) {
	due, err := s.subscriptionRepo.ListDue(ctx, s.clock(), after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}
	return due, nil
}

// ExpireOverdue expires past_due subscriptions whose window closed before cutoff, along with
// pending rows left behind by a create that never finished
func (s *subscriptionService) ExpireOverdue(ctx context.Context, cutoff time.Time) (int, error) {
	expired, err := s.subscriptionRepo.ExpireOverdue(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue subscriptions: %w", err)
	}
	for _, sub := range expired {
		s.publishAccess(ctx, sub, sub.Status)
		s.log.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"community_id":    sub.CommunityID,
			"period_end":      sub.CurrentPeriodEnd,
		}).Info("Subscription expired after grace window")
	}
	return len(expired), nil
}

// ApplyProcessorEvent mirrors an outcome the processor reported for a processor-owned subscription
func (s *subscriptionService) ApplyProcessorEvent(ctx context.Context, event ProcessorEvent) error {
	sub, err := s.subscriptionRepo.GetByExternalID(ctx, event.ExternalSubscriptionID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.WithField("external_subscription_id", event.ExternalSubscriptionID).Debug("Ignoring event for unknown subscription")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load subscription for event: %w", err)
	}
	if sub.Status.IsTerminal() {
		return nil
	}

	now := s.clock()
	due := !sub.CurrentPeriodEnd.After(now)
	dueDate := sub.CurrentPeriodStart
	if due {
		dueDate = sub.CurrentPeriodEnd
	}
	eventKey := "event:" + event.ID

	// applied stays empty when another writer won the row, so the cache keeps that writer's value
	var applied models.SubscriptionStatus
	switch event.Type {
	case EventInvoicePaid:
		if due {
			// losing the race means a sync already advanced this same window
			ok, err := s.subscriptionRepo.CompareAndAdvance(ctx, sub.ID, sub.CurrentPeriodEnd, sub.CurrentPeriodEnd, sub.Cadence.Next(sub.CurrentPeriodEnd), models.StatusActive)
			if err != nil {
				return fmt.Errorf("failed to advance subscription: %w", err)
			}
			if ok {
				applied = models.StatusActive
			}
		} else if sub.Status != models.StatusActive && sub.Status != models.StatusTrial {
			ok, err := s.subscriptionRepo.CompareAndSetStatus(ctx, sub.ID, sub.CurrentPeriodEnd, models.StatusActive)
			if err != nil {
				return fmt.Errorf("failed to reactivate subscription: %w", err)
			}
			if ok {
				applied = models.StatusActive
			}
		}
		externalID := event.ExternalPaymentID
		if _, err := s.ledger.Record(ctx, &models.Payment{
			SubscriptionID:    sub.ID,
			Amount:            event.Amount,
			Currency:          event.Currency,
			Status:            models.PaymentCompleted,
			ExternalPaymentID: &externalID,
			IdempotencyKey:    &eventKey,
			DueDate:           dueDate,
			PaidAt:            &now,
		}); err != nil {
			return err
		}

	case EventInvoicePaymentFailed:
		reason := event.Reason
		if _, err := s.ledger.Record(ctx, &models.Payment{
			SubscriptionID: sub.ID,
			Amount:         event.Amount,
			Currency:       event.Currency,
			Status:         models.PaymentFailed,
			IdempotencyKey: &eventKey,
			FailureReason:  &reason,
			DueDate:        dueDate,
		}); err != nil {
			return err
		}
		ok, err := s.subscriptionRepo.CompareAndSetStatus(ctx, sub.ID, sub.CurrentPeriodEnd, models.StatusPastDue)
		if err != nil {
			return fmt.Errorf("failed to mark subscription past due: %w", err)
		}
		if ok {
			applied = models.StatusPastDue
		}

	case EventSubscriptionDeleted:
		ok, err := s.subscriptionRepo.Cancel(ctx, sub.ID, now)
		if err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		if ok {
			applied = models.StatusCancelled
		}

	default:
		return nil
	}

	if applied != "" {
		s.publishAccess(ctx, sub, applied)
	}
	return nil
}
