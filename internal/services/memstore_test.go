package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"memberbilling/internal/models"
	"memberbilling/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the billing tables. It enforces the same uniqueness
// and compare-and-set rules as the SQL so lifecycle properties can be exercised end to end.
type memStore struct {
	mu       sync.Mutex
	plans    map[uuid.UUID]models.SubscriptionPlan
	coupons  map[uuid.UUID]models.Coupon
	subs     map[uuid.UUID]models.MemberSubscription
	payments []models.Payment
	seq      int

	// insertErr fails every payment insert while set
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{
		plans:   map[uuid.UUID]models.SubscriptionPlan{},
		coupons: map[uuid.UUID]models.Coupon{},
		subs:    map[uuid.UUID]models.MemberSubscription{},
	}
}

func (m *memStore) tick() time.Time {
	m.seq++
	return time.Unix(int64(m.seq), 0).UTC()
}

func (m *memStore) subscriptions() repositories.SubscriptionRepository { return memSubscriptions{m} }
func (m *memStore) paymentRepo() repositories.PaymentRepository       { return memPayments{m} }
func (m *memStore) planRepo() repositories.PlanRepository             { return memPlans{m} }
func (m *memStore) couponRepo() repositories.CouponRepository         { return memCoupons{m} }

func (m *memStore) sub(id uuid.UUID) models.MemberSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[id]
}

func (m *memStore) paymentsFor(id uuid.UUID) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.SubscriptionID == id {
			out = append(out, p)
		}
	}
	return out
}

func (m *memStore) completedFor(id uuid.UUID) []models.Payment {
	var out []models.Payment
	for _, p := range m.paymentsFor(id) {
		if p.Status == models.PaymentCompleted {
			out = append(out, p)
		}
	}
	return out
}

type memSubscriptions struct{ *memStore }

func (m memSubscriptions) Create(_ context.Context, s *models.MemberSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !s.Status.IsTerminal() {
		for _, existing := range m.subs {
			if existing.CommunityID == s.CommunityID && existing.UserID == s.UserID && !existing.Status.IsTerminal() {
				return repositories.ErrDuplicate
			}
		}
	}
	s.CreatedAt = m.tick()
	s.UpdatedAt = s.CreatedAt
	m.subs[s.ID] = *s
	return nil
}

func (m memSubscriptions) GetByID(_ context.Context, id uuid.UUID) (*models.MemberSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &s, nil
}

func (m memSubscriptions) GetCurrentForMember(_ context.Context, communityID, userID uuid.UUID) (*models.MemberSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.MemberSubscription
	for _, s := range m.subs {
		if s.CommunityID != communityID || s.UserID != userID {
			continue
		}
		s := s
		switch {
		case best == nil:
			best = &s
		case best.Status.IsTerminal() && !s.Status.IsTerminal():
			best = &s
		case best.Status.IsTerminal() == s.Status.IsTerminal() && s.CreatedAt.After(best.CreatedAt):
			best = &s
		}
	}
	if best == nil {
		return nil, repositories.ErrNotFound
	}
	return best, nil
}

func (m memSubscriptions) GetByExternalID(_ context.Context, externalID string) (*models.MemberSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ExternalSubscriptionID != nil && *s.ExternalSubscriptionID == externalID {
			return &s, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func dueBefore(end time.Time, id uuid.UUID, other *models.DueCursor) bool {
	if !end.Equal(other.PeriodEnd) {
		return end.Before(other.PeriodEnd)
	}
	return strings.Compare(id.String(), other.ID.String()) < 0
}

func (m memSubscriptions) ListDue(_ context.Context, now time.Time, after *models.DueCursor, limit int) ([]*models.MemberSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.MemberSubscription
	for _, s := range m.subs {
		if !s.Status.GrantsAccess() || s.CurrentPeriodEnd.After(now) {
			continue
		}
		if after != nil && !dueBefore(after.PeriodEnd, after.ID, s.DueCursor()) {
			continue
		}
		s := s
		due = append(due, &s)
	}
	sort.Slice(due, func(i, j int) bool { return dueBefore(due[i].CurrentPeriodEnd, due[i].ID, due[j].DueCursor()) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m memSubscriptions) CompareAndAdvance(_ context.Context, id uuid.UUID, expectedEnd, newStart, newEnd time.Time, status models.SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status.IsTerminal() || !s.CurrentPeriodEnd.Equal(expectedEnd) {
		return false, nil
	}
	s.CurrentPeriodStart, s.CurrentPeriodEnd, s.Status = newStart, newEnd, status
	m.subs[id] = s
	return true, nil
}

func (m memSubscriptions) ResolvePending(_ context.Context, sub *models.MemberSubscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[sub.ID]
	if !ok || s.Status != models.StatusPending {
		return false, nil
	}
	s.Status, s.CurrentPeriodEnd = sub.Status, sub.CurrentPeriodEnd
	s.ExternalSubscriptionID, s.ExternalCustomerID = sub.ExternalSubscriptionID, sub.ExternalCustomerID
	m.subs[sub.ID] = s
	return true, nil
}

func (m memSubscriptions) DeletePending(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok && s.Status == models.StatusPending {
		delete(m.subs, id)
	}
	return nil
}

func (m memSubscriptions) CompareAndSetStatus(_ context.Context, id uuid.UUID, expectedEnd time.Time, status models.SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status.IsTerminal() || !s.CurrentPeriodEnd.Equal(expectedEnd) {
		return false, nil
	}
	s.Status = status
	m.subs[id] = s
	return true, nil
}

func (m memSubscriptions) Cancel(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.Status.IsTerminal() {
		return false, nil
	}
	s.Status = models.StatusCancelled
	s.CancelledAt = &at
	m.subs[id] = s
	return true, nil
}

func (m memSubscriptions) SetCustomerRef(_ context.Context, id uuid.UUID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return repositories.ErrNotFound
	}
	s.ExternalCustomerID = &customerID
	m.subs[id] = s
	return nil
}

func (m memSubscriptions) ExpireOverdue(_ context.Context, cutoff time.Time) ([]*models.MemberSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*models.MemberSubscription
	for id, s := range m.subs {
		stale := s.Status == models.StatusPending && s.CurrentPeriodStart.Before(cutoff)
		if stale || (s.Status == models.StatusPastDue && s.CurrentPeriodEnd.Before(cutoff)) {
			if stale {
				s.CurrentPeriodEnd = s.CurrentPeriodStart
			}
			s.Status = models.StatusExpired
			m.subs[id] = s
			s := s
			expired = append(expired, &s)
		}
	}
	return expired, nil
}

type memPayments struct{ *memStore }

func (m memPayments) Insert(_ context.Context, p *models.Payment) (*models.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return nil, false, m.insertErr
	}
	for _, existing := range m.payments {
		existing := existing
		switch {
		case p.ExternalPaymentID != nil && existing.ExternalPaymentID != nil && *p.ExternalPaymentID == *existing.ExternalPaymentID:
			return &existing, false, nil
		case p.IdempotencyKey != nil && existing.IdempotencyKey != nil && *p.IdempotencyKey == *existing.IdempotencyKey:
			return &existing, false, nil
		case p.Status == models.PaymentCompleted && existing.Status == models.PaymentCompleted &&
			p.SubscriptionID == existing.SubscriptionID && p.DueDate.Equal(existing.DueDate):
			return &existing, false, nil
		}
	}
	p.CreatedAt = m.tick()
	m.payments = append(m.payments, *p)
	stored := *p
	return &stored, true, nil
}

func (m memPayments) find(match func(models.Payment) bool) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if match(p) {
			return &p, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (m memPayments) GetByExternalID(_ context.Context, externalID string) (*models.Payment, error) {
	return m.find(func(p models.Payment) bool { return p.ExternalPaymentID != nil && *p.ExternalPaymentID == externalID })
}

func (m memPayments) GetByIdempotencyKey(_ context.Context, key string) (*models.Payment, error) {
	return m.find(func(p models.Payment) bool { return p.IdempotencyKey != nil && *p.IdempotencyKey == key })
}

func (m memPayments) GetCompletedForPeriod(_ context.Context, subscriptionID uuid.UUID, dueDate time.Time) (*models.Payment, error) {
	return m.find(func(p models.Payment) bool {
		return p.SubscriptionID == subscriptionID && p.DueDate.Equal(dueDate) && p.Status == models.PaymentCompleted
	})
}

func (m memPayments) ListBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Payment
	for i := len(m.payments) - 1; i >= 0; i-- {
		if p := m.payments[i]; p.SubscriptionID == subscriptionID {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m memPayments) CountFailedAttempts(_ context.Context, subscriptionID uuid.UUID, dueDate time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.SubscriptionID == subscriptionID && p.DueDate.Equal(dueDate) && p.Status == models.PaymentFailed {
			n++
		}
	}
	return n, nil
}

func (m memPayments) CountCompleted(_ context.Context, subscriptionID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.SubscriptionID == subscriptionID && p.Status == models.PaymentCompleted {
			n++
		}
	}
	return n, nil
}

type memPlans struct{ *memStore }

func (m memPlans) Create(_ context.Context, plan *models.SubscriptionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = *plan
	return nil
}

func (m memPlans) GetByID(_ context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (m memPlans) ListByCommunity(_ context.Context, communityID uuid.UUID) ([]*models.SubscriptionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SubscriptionPlan
	for _, p := range m.plans {
		if p.CommunityID == communityID && p.IsActive {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m memPlans) Update(_ context.Context, plan *models.SubscriptionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; !ok {
		return repositories.ErrNotFound
	}
	m.plans[plan.ID] = *plan
	return nil
}

func (m memPlans) SetProcessorRefs(_ context.Context, id uuid.UUID, productID, monthlyPriceID, yearlyPriceID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return repositories.ErrNotFound
	}
	if productID != nil {
		p.ProcessorProductID = productID
	}
	if monthlyPriceID != nil {
		p.ProcessorMonthlyPriceID = monthlyPriceID
	}
	if yearlyPriceID != nil {
		p.ProcessorYearlyPriceID = yearlyPriceID
	}
	m.plans[id] = p
	return nil
}

type memCoupons struct{ *memStore }

func (m memCoupons) Upsert(_ context.Context, c *models.Coupon) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.coupons {
		if existing.Code == c.Code {
			existing := existing
			return &existing, nil
		}
	}
	m.coupons[c.ID] = *c
	stored := *c
	return &stored, nil
}

func (m memCoupons) GetByID(_ context.Context, id uuid.UUID) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

// fakeProcessor charges locally billed subscriptions. Charges are deduplicated by idempotency key
// the way a real processor replays a retried request.
type fakeProcessor struct {
	mu          sync.Mutex
	charges     map[string]decimal.Decimal
	declineWith string
	unavailable bool
	chargeDelay time.Duration
	customers   int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{charges: map[string]decimal.Decimal{}}
}

func (f *fakeProcessor) setDecline(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declineWith = reason
}

func (f *fakeProcessor) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

func (f *fakeProcessor) CreateCustomer(_ context.Context, _, _ uuid.UUID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return "cus_" + uuid.NewString()[:8], nil
}

func (f *fakeProcessor) CreateProduct(context.Context, *models.SubscriptionPlan) (string, error) {
	return "", ErrProcessorUnavailable
}

func (f *fakeProcessor) CreatePrice(context.Context, string, decimal.Decimal, string, models.BillingCadence, string) (string, error) {
	return "", ErrProcessorUnavailable
}

func (f *fakeProcessor) CreateSubscription(context.Context, ProcessorSubscriptionRequest) (*ProcessorSubscription, error) {
	return nil, ErrProcessorUnavailable
}

func (f *fakeProcessor) CancelSubscription(context.Context, string) error {
	return nil
}

func (f *fakeProcessor) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if f.chargeDelay > 0 {
		select {
		case <-time.After(f.chargeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, ErrProcessorUnavailable
	}
	if f.declineWith != "" {
		return nil, &DeclineError{Reason: f.declineWith}
	}
	f.charges[req.IdempotencyKey] = req.Amount
	return &ChargeResult{ExternalPaymentID: "pi_" + req.IdempotencyKey}, nil
}

func (f *fakeProcessor) ValidateCoupon(context.Context, string) (*models.Coupon, error) {
	return nil, ErrProcessorUnavailable
}
