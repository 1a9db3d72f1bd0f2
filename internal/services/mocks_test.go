package services

import (
	"context"
	"sync"

	"memberbilling/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockPlanRepository struct {
	mock.Mock
}

func (m *MockPlanRepository) Create(ctx context.Context, plan *models.SubscriptionPlan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionPlan), args.Error(1)
}

func (m *MockPlanRepository) ListByCommunity(ctx context.Context, communityID uuid.UUID) ([]*models.SubscriptionPlan, error) {
	args := m.Called(ctx, communityID)
	return args.Get(0).([]*models.SubscriptionPlan), args.Error(1)
}

func (m *MockPlanRepository) Update(ctx context.Context, plan *models.SubscriptionPlan) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

func (m *MockPlanRepository) SetProcessorRefs(ctx context.Context, id uuid.UUID, productID, monthlyPriceID, yearlyPriceID *string) error {
	args := m.Called(ctx, id, productID, monthlyPriceID, yearlyPriceID)
	return args.Error(0)
}

type MockCouponRepository struct {
	mock.Mock
}

func (m *MockCouponRepository) Upsert(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error) {
	args := m.Called(ctx, coupon)
	if fn, ok := args.Get(0).(func(context.Context, *models.Coupon) *models.Coupon); ok {
		return fn(ctx, coupon), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

func (m *MockCouponRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

type MockPaymentProcessor struct {
	mock.Mock
}

func (m *MockPaymentProcessor) CreateCustomer(ctx context.Context, communityID, userID uuid.UUID, idempotencyKey string) (string, error) {
	args := m.Called(ctx, communityID, userID, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentProcessor) CreateProduct(ctx context.Context, plan *models.SubscriptionPlan) (string, error) {
	args := m.Called(ctx, plan)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentProcessor) CreatePrice(ctx context.Context, productID string, amount decimal.Decimal, currency string, cadence models.BillingCadence, idempotencyKey string) (string, error) {
	args := m.Called(ctx, productID, amount, currency, cadence, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentProcessor) CreateSubscription(ctx context.Context, req ProcessorSubscriptionRequest) (*ProcessorSubscription, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ProcessorSubscription), args.Error(1)
}

func (m *MockPaymentProcessor) CancelSubscription(ctx context.Context, externalID string) error {
	args := m.Called(ctx, externalID)
	return args.Error(0)
}

func (m *MockPaymentProcessor) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeResult), args.Error(1)
}

func (m *MockPaymentProcessor) ValidateCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Coupon), args.Error(1)
}

// fakeAccessCache is a map-backed AccessCache. beforeFill runs ahead of each read-through fill,
// letting a test land a transition between the store lookup and the cache write.
type fakeAccessCache struct {
	mu         sync.Mutex
	entries    map[string]bool
	beforeFill func()
}

func newFakeAccessCache() *fakeAccessCache {
	return &fakeAccessCache{entries: map[string]bool{}}
}

func accessKey(communityID, userID uuid.UUID) string {
	return communityID.String() + ":" + userID.String()
}

func (c *fakeAccessCache) GetAccess(_ context.Context, communityID, userID uuid.UUID) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[accessKey(communityID, userID)]
	return v, ok, nil
}

func (c *fakeAccessCache) SetAccess(_ context.Context, communityID, userID uuid.UUID, hasAccess bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[accessKey(communityID, userID)] = hasAccess
	return nil
}

func (c *fakeAccessCache) SetAccessIfAbsent(_ context.Context, communityID, userID uuid.UUID, hasAccess bool) (bool, error) {
	c.mu.Lock()
	hook := c.beforeFill
	c.beforeFill = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := accessKey(communityID, userID)
	if _, ok := c.entries[key]; ok {
		return false, nil
	}
	c.entries[key] = hasAccess
	return true, nil
}
