package repositories

import (
	"context"

	"memberbilling/internal/models"

	"github.com/google/uuid"
)

type CouponRepository interface {
	Upsert(ctx context.Context, coupon *models.Coupon) (*models.Coupon, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
}

type couponRepo struct {
	db DB
}

func NewCouponRepo(db DB) CouponRepository {
	return &couponRepo{db: db}
}

const couponColumns = `id, code, percent_off, amount_off, currency, duration, duration_in_months, source, created_at`

// Upsert stores the latest descriptor for a code while keeping the id that subscriptions already reference
func (r *couponRepo) Upsert(ctx context.Context, c *models.Coupon) (*models.Coupon, error) {
	query := `
		INSERT INTO coupons (id, code, percent_off, amount_off, currency, duration, duration_in_months, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (code) DO UPDATE
		SET percent_off = EXCLUDED.percent_off, amount_off = EXCLUDED.amount_off, currency = EXCLUDED.currency,
			duration = EXCLUDED.duration, duration_in_months = EXCLUDED.duration_in_months, source = EXCLUDED.source
		RETURNING ` + couponColumns
	stored := &models.Coupon{}
	err := r.db.QueryRow(ctx, query, c.ID, c.Code, c.PercentOff, c.AmountOff, c.Currency, c.Duration, c.DurationInMonths, c.Source).
		Scan(&stored.ID, &stored.Code, &stored.PercentOff, &stored.AmountOff, &stored.Currency, &stored.Duration,
			&stored.DurationInMonths, &stored.Source, &stored.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return stored, nil
}

func (r *couponRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	c := &models.Coupon{}
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Code, &c.PercentOff, &c.AmountOff, &c.Currency, &c.Duration,
		&c.DurationInMonths, &c.Source, &c.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}
