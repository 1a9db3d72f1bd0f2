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

type CouponService interface {
	ResolveCoupon(ctx context.Context, code string) (*models.Coupon, error)
	GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
}

type couponService struct {
	couponRepo repositories.CouponRepository
	processor  PaymentProcessor
	local      map[string]models.Coupon
	log        logrus.FieldLogger
}

func percentCoupon(code string, pct int64, duration models.CouponDuration, months int) models.Coupon {
	off := decimal.NewFromInt(pct)
	c := models.Coupon{Code: code, PercentOff: &off, Duration: duration, Source: models.CouponSourceLocal}
	if duration == models.CouponRepeating {
		c.DurationInMonths = &months
	}
	return c
}

// DefaultLocalCoupons is the static table used when no processor is configured or it is unreachable
func DefaultLocalCoupons() map[string]models.Coupon {
	fiveOff := decimal.NewFromInt(5)
	usd := "USD"
	months := 3
	return map[string]models.Coupon{
		"WELCOME10": percentCoupon("WELCOME10", 10, models.CouponOnce, 0),
		"LAUNCH25":  percentCoupon("LAUNCH25", 25, models.CouponRepeating, 3),
		"FOUNDER50": percentCoupon("FOUNDER50", 50, models.CouponForever, 0),
		"FIVEOFF": {
			Code:             "FIVEOFF",
			AmountOff:        &fiveOff,
			Currency:         &usd,
			Duration:         models.CouponRepeating,
			DurationInMonths: &months,
			Source:           models.CouponSourceLocal,
		},
	}
}

// NewCouponService builds the resolver. processor may be nil; local codes are matched case-insensitively.
func NewCouponService(couponRepo repositories.CouponRepository, processor PaymentProcessor, local map[string]models.Coupon, log logrus.FieldLogger) CouponService {
	table := make(map[string]models.Coupon, len(local))
	for code, c := range local {
		table[strings.ToUpper(code)] = c
	}
	return &couponService{couponRepo: couponRepo, processor: processor, local: table, log: log}
}

func (s *couponService) ResolveCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidCoupon)
	}

	resolved, err := s.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := validateCoupon(resolved); err != nil {
		return nil, err
	}

	resolved.ID = uuid.New()
	stored, err := s.couponRepo.Upsert(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to store coupon: %w", err)
	}
	return stored, nil
}

func (s *couponService) lookup(ctx context.Context, code string) (*models.Coupon, error) {
	if s.processor != nil {
		c, err := s.processor.ValidateCoupon(ctx, code)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrProcessorUnavailable) {
			return nil, err
		}
		s.log.WithError(err).WithField("code", code).Warn("Coupon registry unavailable, falling back to local table")
	}

	local, ok := s.local[strings.ToUpper(code)]
	if !ok {
		if s.processor != nil {
			return nil, fmt.Errorf("coupon %q could not be verified: %w", code, ErrProcessorUnavailable)
		}
		return nil, fmt.Errorf("%w: unknown code %q", ErrInvalidCoupon, code)
	}
	return &local, nil
}

func validateCoupon(c *models.Coupon) error {
	if (c.PercentOff == nil) == (c.AmountOff == nil) {
		return fmt.Errorf("%w: coupon %q must carry exactly one of percent_off or amount_off", ErrInvalidCoupon, c.Code)
	}
	if c.PercentOff != nil && (!c.PercentOff.IsPositive() || c.PercentOff.GreaterThan(decimal.NewFromInt(100))) {
		return fmt.Errorf("%w: coupon %q has an out of range percentage", ErrInvalidCoupon, c.Code)
	}
	if c.AmountOff != nil && !c.AmountOff.IsPositive() {
		return fmt.Errorf("%w: coupon %q has a non-positive amount", ErrInvalidCoupon, c.Code)
	}
	return nil
}

func (s *couponService) GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	c, err := s.couponRepo.GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: coupon %s no longer exists", ErrInvalidCoupon, id)
	}
	return c, err
}
