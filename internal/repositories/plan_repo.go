package repositories

import (
	"context"

	"memberbilling/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PlanRepository interface {
	Create(ctx context.Context, plan *models.SubscriptionPlan) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	ListByCommunity(ctx context.Context, communityID uuid.UUID) ([]*models.SubscriptionPlan, error)
	Update(ctx context.Context, plan *models.SubscriptionPlan) error
	SetProcessorRefs(ctx context.Context, id uuid.UUID, productID, monthlyPriceID, yearlyPriceID *string) error
}

type planRepo struct {
	db DB
}

func NewPlanRepo(db DB) PlanRepository {
	return &planRepo{db: db}
}

const planColumns = `id, community_id, name, description, monthly_price, yearly_price, currency, trial_days, features,
		processor_product_id, processor_monthly_price_id, processor_yearly_price_id, is_active, created_at, updated_at`

func scanPlan(row pgx.Row) (*models.SubscriptionPlan, error) {
	plan := &models.SubscriptionPlan{}
	err := row.Scan(&plan.ID, &plan.CommunityID, &plan.Name, &plan.Description, &plan.MonthlyPrice, &plan.YearlyPrice,
		&plan.Currency, &plan.TrialDays, &plan.Features, &plan.ProcessorProductID, &plan.ProcessorMonthlyPriceID,
		&plan.ProcessorYearlyPriceID, &plan.IsActive, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return plan, nil
}

func (r *planRepo) Create(ctx context.Context, plan *models.SubscriptionPlan) error {
	query := `
		INSERT INTO subscription_plans (id, community_id, name, description, monthly_price, yearly_price, currency, trial_days, features, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, plan.ID, plan.CommunityID, plan.Name, plan.Description, plan.MonthlyPrice, plan.YearlyPrice,
		plan.Currency, plan.TrialDays, plan.Features, plan.IsActive)
	return mapError(err)
}

func (r *planRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	return scanPlan(r.db.QueryRow(ctx, query, id))
}

func (r *planRepo) ListByCommunity(ctx context.Context, communityID uuid.UUID) ([]*models.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE community_id = $1 AND is_active = TRUE ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, communityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := []*models.SubscriptionPlan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (r *planRepo) Update(ctx context.Context, plan *models.SubscriptionPlan) error {
	query := `
		UPDATE subscription_plans
		SET name = $1, description = $2, monthly_price = $3, yearly_price = $4, trial_days = $5, features = $6, is_active = $7,
			processor_monthly_price_id = $8, processor_yearly_price_id = $9, updated_at = NOW()
		WHERE id = $10
	`
	tag, err := r.db.Exec(ctx, query, plan.Name, plan.Description, plan.MonthlyPrice, plan.YearlyPrice, plan.TrialDays,
		plan.Features, plan.IsActive, plan.ProcessorMonthlyPriceID, plan.ProcessorYearlyPriceID, plan.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProcessorRefs stores the mirrored product/price ids; nil arguments keep the current value
func (r *planRepo) SetProcessorRefs(ctx context.Context, id uuid.UUID, productID, monthlyPriceID, yearlyPriceID *string) error {
	query := `
		UPDATE subscription_plans
		SET processor_product_id = COALESCE($1, processor_product_id),
			processor_monthly_price_id = COALESCE($2, processor_monthly_price_id),
			processor_yearly_price_id = COALESCE($3, processor_yearly_price_id),
			updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.Exec(ctx, query, productID, monthlyPriceID, yearlyPriceID, id)
	return err
}
