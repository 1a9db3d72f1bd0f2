package services

import (
	"context"
	"errors"
	"testing"

	"memberbilling/internal/models"
	"memberbilling/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type PlanServiceTestSuite struct {
	suite.Suite
	repo      *MockPlanRepository
	processor *MockPaymentProcessor
	service   PlanService
	community uuid.UUID
	ctx       context.Context
}

func (s *PlanServiceTestSuite) SetupTest() {
	s.repo = new(MockPlanRepository)
	s.processor = new(MockPaymentProcessor)
	s.service = NewPlanService(s.repo, s.processor, "usd", testLogger())
	s.community = uuid.New()
	s.ctx = context.Background()
}

func (s *PlanServiceTestSuite) TearDownTest() {
	s.repo.AssertExpectations(s.T())
	s.processor.AssertExpectations(s.T())
}

func TestPlanServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PlanServiceTestSuite))
}

func (s *PlanServiceTestSuite) TestCreatePlan_MirrorsProductAndPrices() {
	s.repo.On("Create", mock.Anything, mock.AnythingOfType("*models.SubscriptionPlan")).Return(nil).Once()
	s.processor.On("CreateProduct", mock.Anything, mock.Anything).Return("prod_1", nil).Once()
	s.processor.On("CreatePrice", mock.Anything, "prod_1", money("10.00"), "USD", models.CadenceMonthly, mock.AnythingOfType("string")).Return("price_m", nil).Once()
	s.processor.On("CreatePrice", mock.Anything, "prod_1", money("100.00"), "USD", models.CadenceYearly, mock.AnythingOfType("string")).Return("price_y", nil).Once()
	s.repo.On("SetProcessorRefs", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	plan, warnings, err := s.service.CreatePlan(s.ctx, s.community, PlanInput{
		Name:         " Members ",
		MonthlyPrice: moneyPtr("10.00"),
		YearlyPrice:  moneyPtr("100.00"),
	})

	s.Require().NoError(err)
	s.Empty(warnings)
	s.Equal("Members", plan.Name)
	s.Equal("USD", plan.Currency)
	s.True(plan.IsActive)
	s.Equal("price_m", *plan.ProcessorMonthlyPriceID)
	s.Equal("price_y", *plan.ProcessorYearlyPriceID)
}

func (s *PlanServiceTestSuite) TestCreatePlan_ProcessorFailureIsAWarning() {
	s.repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	s.processor.On("CreateProduct", mock.Anything, mock.Anything).Return("", ErrProcessorUnavailable).Once()

	plan, warnings, err := s.service.CreatePlan(s.ctx, s.community, PlanInput{
		Name:         "Members",
		MonthlyPrice: moneyPtr("10.00"),
	})

	s.Require().NoError(err)
	s.Require().Len(warnings, 1)
	s.Equal("mirror_product", warnings[0].Operation)
	s.Nil(plan.ProcessorMonthlyPriceID)
}

func (s *PlanServiceTestSuite) TestCreatePlan_Validation() {
	cases := []PlanInput{
		{Name: "", MonthlyPrice: moneyPtr("10.00")},
		{Name: "No price"},
		{Name: "Negative", MonthlyPrice: moneyPtr("-1")},
		{Name: "Bad trial", MonthlyPrice: moneyPtr("10.00"), TrialDays: -1},
		{Name: "Bad currency", MonthlyPrice: moneyPtr("10.00"), Currency: "dollars"},
	}
	for _, input := range cases {
		_, _, err := s.service.CreatePlan(s.ctx, s.community, input)
		s.ErrorIs(err, ErrInvalidPlan, input.Name)
	}
}

func (s *PlanServiceTestSuite) TestCreatePlan_TrialOnlyNeedsNoPrice() {
	s.repo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	s.processor.On("CreateProduct", mock.Anything, mock.Anything).Return("prod_1", nil).Once()
	s.repo.On("SetProcessorRefs", mock.Anything, mock.Anything, mock.Anything, (*string)(nil), (*string)(nil)).Return(nil).Once()

	plan, _, err := s.service.CreatePlan(s.ctx, s.community, PlanInput{Name: "Taster", TrialDays: 14})

	s.Require().NoError(err)
	s.True(plan.IsTrialOnly())
}

func (s *PlanServiceTestSuite) TestUpdatePlan_PriceChangeRegistersNewPrice() {
	oldPrice := "price_old"
	product := "prod_1"
	existing := &models.SubscriptionPlan{
		ID:                      uuid.New(),
		CommunityID:             s.community,
		Name:                    "Members",
		MonthlyPrice:            moneyPtr("10.00"),
		Currency:                "USD",
		ProcessorProductID:      &product,
		ProcessorMonthlyPriceID: &oldPrice,
		IsActive:                true,
	}
	s.repo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil).Once()
	s.repo.On("Update", mock.Anything, mock.MatchedBy(func(p *models.SubscriptionPlan) bool {
		return p.ProcessorMonthlyPriceID == nil && p.MonthlyPrice.Equal(money("12.00"))
	})).Return(nil).Once()
	s.processor.On("CreatePrice", mock.Anything, "prod_1", money("12.00"), "USD", models.CadenceMonthly, mock.Anything).Return("price_new", nil).Once()
	s.repo.On("SetProcessorRefs", mock.Anything, existing.ID, &product, mock.Anything, (*string)(nil)).Return(nil).Once()

	plan, warnings, err := s.service.UpdatePlan(s.ctx, existing.ID, PlanPatch{MonthlyPrice: moneyPtr("12.00")})

	s.Require().NoError(err)
	s.Empty(warnings)
	s.Equal("price_new", *plan.ProcessorMonthlyPriceID)
}

func (s *PlanServiceTestSuite) TestUpdatePlan_NameOnlyLeavesProcessorAlone() {
	existing := &models.SubscriptionPlan{
		ID:           uuid.New(),
		CommunityID:  s.community,
		Name:         "Members",
		MonthlyPrice: moneyPtr("10.00"),
		Currency:     "USD",
		IsActive:     true,
	}
	name := "Supporters"
	s.repo.On("GetByID", mock.Anything, existing.ID).Return(existing, nil).Once()
	s.repo.On("Update", mock.Anything, mock.Anything).Return(nil).Once()

	plan, warnings, err := s.service.UpdatePlan(s.ctx, existing.ID, PlanPatch{Name: &name, MonthlyPrice: moneyPtr("10.00")})

	s.Require().NoError(err)
	s.Nil(warnings)
	s.Equal("Supporters", plan.Name)
}

func (s *PlanServiceTestSuite) TestGetPlan_NotFound() {
	id := uuid.New()
	s.repo.On("GetByID", mock.Anything, id).Return(nil, repositories.ErrNotFound).Once()

	_, err := s.service.GetPlan(s.ctx, id)
	s.ErrorIs(err, ErrPlanNotFound)
}

func TestApplyPrice(t *testing.T) {
	current := moneyPtr("10.00")

	assert.False(t, applyPrice(&current, nil, false))
	assert.False(t, applyPrice(&current, moneyPtr("10.0"), false))
	assert.True(t, applyPrice(&current, moneyPtr("11.00"), false))
	assert.True(t, current.Equal(money("11.00")))
	assert.True(t, applyPrice(&current, nil, true))
	assert.Nil(t, current)
	assert.False(t, applyPrice(&current, nil, true))
}

func TestPlanService_ListPlansWrapsErrors(t *testing.T) {
	repo := new(MockPlanRepository)
	community := uuid.New()
	repo.On("ListByCommunity", mock.Anything, community).Return([]*models.SubscriptionPlan(nil), errors.New("boom")).Once()

	_, err := NewPlanService(repo, nil, "USD", testLogger()).ListPlans(context.Background(), community)

	assert.ErrorContains(t, err, "failed to list plans")
	repo.AssertExpectations(t)
}
