package handlers

import (
	"context"
	"time"

	"memberbilling/internal/jobs"
	"memberbilling/internal/models"
	"memberbilling/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockSubscriptionService struct {
	mock.Mock
}

func (m *MockSubscriptionService) Create(ctx context.Context, input services.CreateSubscriptionInput) (*models.MemberSubscription, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MemberSubscription), args.Error(1)
}

func (m *MockSubscriptionService) Renew(ctx context.Context, subscriptionID uuid.UUID) models.RenewalOutcome {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(models.RenewalOutcome)
}

func (m *MockSubscriptionService) Cancel(ctx context.Context, subscriptionID uuid.UUID) ([]services.Warning, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.Warning), args.Error(1)
}

func (m *MockSubscriptionService) Get(ctx context.Context, subscriptionID uuid.UUID) (*models.MemberSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MemberSubscription), args.Error(1)
}

func (m *MockSubscriptionService) GetStatus(ctx context.Context, communityID, userID uuid.UUID) (*models.SubscriptionStatusView, error) {
	args := m.Called(ctx, communityID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionStatusView), args.Error(1)
}

func (m *MockSubscriptionService) HasActiveAccess(ctx context.Context, communityID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, communityID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSubscriptionService) ListDue(ctx context.Context, after *models.DueCursor, limit int) ([]*models.MemberSubscription, error) {
	args := m.Called(ctx, after, limit)
	return args.Get(0).([]*models.MemberSubscription), args.Error(1)
}

func (m *MockSubscriptionService) ExpireOverdue(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func (m *MockSubscriptionService) ApplyProcessorEvent(ctx context.Context, event services.ProcessorEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) Record(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	args := m.Called(ctx, payment)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentService) History(ctx context.Context, subscriptionID uuid.UUID) ([]*models.Payment, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

func (m *MockPaymentService) FailedAttemptCount(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (int, error) {
	args := m.Called(ctx, subscriptionID, dueDate)
	return args.Int(0), args.Error(1)
}

func (m *MockPaymentService) CompletedCount(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Int(0), args.Error(1)
}

func (m *MockPaymentService) HasCompletedFor(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (bool, error) {
	args := m.Called(ctx, subscriptionID, dueDate)
	return args.Bool(0), args.Error(1)
}

type MockPlanService struct {
	mock.Mock
}

func (m *MockPlanService) CreatePlan(ctx context.Context, communityID uuid.UUID, input services.PlanInput) (*models.SubscriptionPlan, []services.Warning, error) {
	args := m.Called(ctx, communityID, input)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	warnings, _ := args.Get(1).([]services.Warning)
	return args.Get(0).(*models.SubscriptionPlan), warnings, args.Error(2)
}

func (m *MockPlanService) GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionPlan), args.Error(1)
}

func (m *MockPlanService) ListPlans(ctx context.Context, communityID uuid.UUID) ([]*models.SubscriptionPlan, error) {
	args := m.Called(ctx, communityID)
	return args.Get(0).([]*models.SubscriptionPlan), args.Error(1)
}

func (m *MockPlanService) UpdatePlan(ctx context.Context, id uuid.UUID, patch services.PlanPatch) (*models.SubscriptionPlan, []services.Warning, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	warnings, _ := args.Get(1).([]services.Warning)
	return args.Get(0).(*models.SubscriptionPlan), warnings, args.Error(2)
}

type MockRenewalRunner struct {
	mock.Mock
}

func (m *MockRenewalRunner) RunNow(ctx context.Context, trigger models.RenewalTrigger) (*models.RenewalJobReport, error) {
	args := m.Called(ctx, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RenewalJobReport), args.Error(1)
}

func (m *MockRenewalRunner) JobStats(ctx context.Context, limit int) (*jobs.JobStats, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobs.JobStats), args.Error(1)
}

func (m *MockRenewalRunner) Start() error {
	return m.Called().Error(0)
}

func (m *MockRenewalRunner) Stop() error {
	return m.Called().Error(0)
}

func (m *MockRenewalRunner) IsScheduled() bool {
	return m.Called().Bool(0)
}

type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) Sweep(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockWebhookParser struct {
	mock.Mock
}

func (m *MockWebhookParser) ParseWebhook(payload []byte, signature string) (*services.ProcessorEvent, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ProcessorEvent), args.Error(1)
}

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}
