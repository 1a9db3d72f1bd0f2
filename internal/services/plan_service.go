package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"memberbilling/internal/models"
	"memberbilling/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type PlanService interface {
	CreatePlan(ctx context.Context, communityID uuid.UUID, input PlanInput) (*models.SubscriptionPlan, []Warning, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	ListPlans(ctx context.Context, communityID uuid.UUID) ([]*models.SubscriptionPlan, error)
	UpdatePlan(ctx context.Context, id uuid.UUID, patch PlanPatch) (*models.SubscriptionPlan, []Warning, error)
}

type PlanInput struct {
	Name         string           `json:"name"`
	Description  *string          `json:"description"`
	MonthlyPrice *decimal.Decimal `json:"monthly_price"`
	YearlyPrice  *decimal.Decimal `json:"yearly_price"`
	Currency     string           `json:"currency"`
	TrialDays    int              `json:"trial_days"`
	Features     []string         `json:"features"`
}

// PlanPatch holds optional edits; nil fields are left unchanged
type PlanPatch struct {
	Name              *string          `json:"name"`
	Description       *string          `json:"description"`
	MonthlyPrice      *decimal.Decimal `json:"monthly_price"`
	YearlyPrice       *decimal.Decimal `json:"yearly_price"`
	ClearMonthlyPrice bool             `json:"clear_monthly_price"`
	ClearYearlyPrice  bool             `json:"clear_yearly_price"`
	TrialDays         *int             `json:"trial_days"`
	Features          []string         `json:"features"`
	IsActive          *bool            `json:"is_active"`
}

type planService struct {
	planRepo        repositories.PlanRepository
	processor       PaymentProcessor
	defaultCurrency string
	log             logrus.FieldLogger
}

// NewPlanService builds the plan catalog. processor may be nil, in which case plans are database-only.
func NewPlanService(planRepo repositories.PlanRepository, processor PaymentProcessor, defaultCurrency string, log logrus.FieldLogger) PlanService {
	return &planService{
		planRepo:        planRepo,
		processor:       processor,
		defaultCurrency: defaultCurrency,
		log:             log,
	}
}

func (s *planService) CreatePlan(ctx context.Context, communityID uuid.UUID, input PlanInput) (*models.SubscriptionPlan, []Warning, error) {
	currency := input.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	features := input.Features
	if features == nil {
		features = []string{}
	}

	plan := &models.SubscriptionPlan{
		ID:           uuid.New(),
		CommunityID:  communityID,
		Name:         strings.TrimSpace(input.Name),
		Description:  input.Description,
		MonthlyPrice: input.MonthlyPrice,
		YearlyPrice:  input.YearlyPrice,
		Currency:     strings.ToUpper(currency),
		TrialDays:    input.TrialDays,
		Features:     features,
		IsActive:     true,
	}
	if err := plan.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}

	if err := s.planRepo.Create(ctx, plan); err != nil {
		return nil, nil, fmt.Errorf("failed to create plan: %w", err)
	}

	warnings := s.mirrorPlan(ctx, plan, plan.MonthlyPrice != nil, plan.YearlyPrice != nil)
	return plan, warnings, nil
}

// mirrorPlan registers the product and the requested cadence prices with the processor.
// Failures come back as warnings and leave the plan billed locally for that cadence.
func (s *planService) mirrorPlan(ctx context.Context, plan *models.SubscriptionPlan, monthly, yearly bool) []Warning {
	if s.processor == nil {
		return nil
	}
	var warnings []Warning
	log := s.log.WithField("plan_id", plan.ID)

	if plan.ProcessorProductID == nil {
		productID, err := s.processor.CreateProduct(ctx, plan)
		if err != nil {
			log.WithError(err).Warn("Failed to mirror plan product, plan stays locally billed")
			return append(warnings, newWarning("mirror_product", err))
		}
		plan.ProcessorProductID = &productID
	}

	register := func(cadence models.BillingCadence) *string {
		amount := plan.PriceFor(cadence)
		key := fmt.Sprintf("price:%s:%s:%s", plan.ID, cadence, amount.StringFixed(2))
		priceID, err := s.processor.CreatePrice(ctx, *plan.ProcessorProductID, *amount, plan.Currency, cadence, key)
		if err != nil {
			log.WithError(err).WithField("cadence", cadence).Warn("Failed to mirror plan price")
			warnings = append(warnings, newWarning("mirror_price_"+string(cadence), err))
			return nil
		}
		return &priceID
	}

	var monthlyID, yearlyID *string
	if monthly && plan.MonthlyPrice != nil {
		monthlyID = register(models.CadenceMonthly)
		plan.ProcessorMonthlyPriceID = monthlyID
	}
	if yearly && plan.YearlyPrice != nil {
		yearlyID = register(models.CadenceYearly)
		plan.ProcessorYearlyPriceID = yearlyID
	}

	if err := s.planRepo.SetProcessorRefs(ctx, plan.ID, plan.ProcessorProductID, monthlyID, yearlyID); err != nil {
		log.WithError(err).Warn("Failed to store processor references")
		warnings = append(warnings, newWarning("store_processor_refs", err))
	}
	return warnings
}

func (s *planService) GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	plan, err := s.planRepo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

func (s *planService) ListPlans(ctx context.Context, communityID uuid.UUID) ([]*models.SubscriptionPlan, error) {
	plans, err := s.planRepo.ListByCommunity(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// UpdatePlan edits the plan. Live subscriptions keep the price they were created with;
// a changed price gets a fresh processor price so only new subscriptions use it.
func (s *planService) UpdatePlan(ctx context.Context, id uuid.UUID, patch PlanPatch) (*models.SubscriptionPlan, []Warning, error) {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if patch.Name != nil {
		plan.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		plan.Description = patch.Description
	}
	if patch.TrialDays != nil {
		plan.TrialDays = *patch.TrialDays
	}
	if patch.Features != nil {
		plan.Features = patch.Features
	}
	if patch.IsActive != nil {
		plan.IsActive = *patch.IsActive
	}

	monthlyChanged := applyPrice(&plan.MonthlyPrice, patch.MonthlyPrice, patch.ClearMonthlyPrice)
	yearlyChanged := applyPrice(&plan.YearlyPrice, patch.YearlyPrice, patch.ClearYearlyPrice)
	if monthlyChanged {
		plan.ProcessorMonthlyPriceID = nil
	}
	if yearlyChanged {
		plan.ProcessorYearlyPriceID = nil
	}

	if err := plan.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if err := s.planRepo.Update(ctx, plan); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, ErrPlanNotFound
		}
		return nil, nil, fmt.Errorf("failed to update plan: %w", err)
	}

	var warnings []Warning
	if monthlyChanged || yearlyChanged {
		warnings = s.mirrorPlan(ctx, plan, monthlyChanged, yearlyChanged)
	}
	return plan, warnings, nil
}

// applyPrice reports whether the stored price actually changed
func applyPrice(current **decimal.Decimal, next *decimal.Decimal, clear bool) bool {
	switch {
	case clear:
		changed := *current != nil
		*current = nil
		return changed
	case next == nil:
		return false
	case *current != nil && (*current).Equal(*next):
		return false
	}
	*current = next
	return true
}
