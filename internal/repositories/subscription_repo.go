package repositories

import (
	"context"
	"time"

	"memberbilling/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepository is only handed to the lifecycle manager; it is the sole writer of status.
type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *models.MemberSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MemberSubscription, error)
	GetCurrentForMember(ctx context.Context, communityID, userID uuid.UUID) (*models.MemberSubscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.MemberSubscription, error)
	ListDue(ctx context.Context, now time.Time, after *models.DueCursor, limit int) ([]*models.MemberSubscription, error)
	ResolvePending(ctx context.Context, subscription *models.MemberSubscription) (bool, error)
	DeletePending(ctx context.Context, id uuid.UUID) error
	CompareAndAdvance(ctx context.Context, id uuid.UUID, expectedEnd, newStart, newEnd time.Time, status models.SubscriptionStatus) (bool, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expectedEnd time.Time, status models.SubscriptionStatus) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	SetCustomerRef(ctx context.Context, id uuid.UUID, customerID string) error
	ExpireOverdue(ctx context.Context, cutoff time.Time) ([]*models.MemberSubscription, error)
}

type subscriptionRepo struct {
	db DB
}

func NewSubscriptionRepo(db DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, community_id, user_id, plan_id, cadence, status, amount, currency, current_period_start, current_period_end,
		trial_start, trial_end, external_subscription_id, external_customer_id, coupon_id, cancelled_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.MemberSubscription, error) {
	s := &models.MemberSubscription{}
	err := row.Scan(&s.ID, &s.CommunityID, &s.UserID, &s.PlanID, &s.Cadence, &s.Status, &s.Amount, &s.Currency,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.TrialStart, &s.TrialEnd, &s.ExternalSubscriptionID,
		&s.ExternalCustomerID, &s.CouponID, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

func (r *subscriptionRepo) Create(ctx context.Context, s *models.MemberSubscription) error {
	query := `
		INSERT INTO member_subscriptions (id, community_id, user_id, plan_id, cadence, status, amount, currency, current_period_start, current_period_end,
			trial_start, trial_end, external_subscription_id, external_customer_id, coupon_id, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, s.ID, s.CommunityID, s.UserID, s.PlanID, s.Cadence, s.Status, s.Amount, s.Currency,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.TrialStart, s.TrialEnd, s.ExternalSubscriptionID, s.ExternalCustomerID,
		s.CouponID, s.CancelledAt)
	return mapError(err)
}

func (r *subscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.MemberSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM member_subscriptions WHERE id = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, id))
}

// GetCurrentForMember prefers the live subscription and otherwise returns the most recent terminal one
func (r *subscriptionRepo) GetCurrentForMember(ctx context.Context, communityID, userID uuid.UUID) (*models.MemberSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM member_subscriptions
		WHERE community_id = $1 AND user_id = $2
		ORDER BY (status IN ('cancelled', 'expired')) ASC, created_at DESC
		LIMIT 1
	`
	return scanSubscription(r.db.QueryRow(ctx, query, communityID, userID))
}

func (r *subscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (*models.MemberSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM member_subscriptions WHERE external_subscription_id = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, externalID))
}

// ListDue returns live subscriptions whose window has closed, past_due included so failed windows are retried.
// Pages are keyed on (current_period_end, id) so a run can walk every due row regardless of outcome.
func (r *subscriptionRepo) ListDue(ctx context.Context, now time.Time, after *models.DueCursor, limit int) ([]*models.MemberSubscription, error) {
	args := []any{now, limit}
	page := ""
	if after != nil {
		page = ` AND (current_period_end, id) > ($3, $4)`
		args = append(args, after.PeriodEnd, after.ID)
	}
	query := `
		SELECT ` + subscriptionColumns + `
		FROM member_subscriptions
		WHERE status IN ('trial', 'active', 'past_due') AND current_period_end <= $1` + page + `
		ORDER BY current_period_end ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subscriptions := []*models.MemberSubscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, s)
	}
	return subscriptions, rows.Err()
}

// CompareAndAdvance moves the renewal window only if current_period_end still equals expectedEnd.
// Returns false when another writer got there first or the row became terminal.
func (r *subscriptionRepo) CompareAndAdvance(ctx context.Context, id uuid.UUID, expectedEnd, newStart, newEnd time.Time, status models.SubscriptionStatus) (bool, error) {
	query := `
		UPDATE member_subscriptions
		SET current_period_start = $1, current_period_end = $2, status = $3, updated_at = NOW()
		WHERE id = $4 AND current_period_end = $5 AND status NOT IN ('cancelled', 'expired')
	`
	tag, err := r.db.Exec(ctx, query, newStart, newEnd, status, id, expectedEnd)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResolvePending moves a pending row to its first real status. Returns false when the row is no longer pending.
func (r *subscriptionRepo) ResolvePending(ctx context.Context, s *models.MemberSubscription) (bool, error) {
	query := `
		UPDATE member_subscriptions
		SET status = $1, current_period_end = $2, external_subscription_id = $3, external_customer_id = $4, updated_at = NOW()
		WHERE id = $5 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, s.Status, s.CurrentPeriodEnd, s.ExternalSubscriptionID, s.ExternalCustomerID, s.ID)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) DeletePending(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM member_subscriptions WHERE id = $1 AND status = 'pending'`, id)
	return err
}

func (r *subscriptionRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expectedEnd time.Time, status models.SubscriptionStatus) (bool, error) {
	query := `
		UPDATE member_subscriptions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND current_period_end = $3 AND status NOT IN ('cancelled', 'expired')
	`
	tag, err := r.db.Exec(ctx, query, status, id, expectedEnd)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE member_subscriptions
		SET status = 'cancelled', cancelled_at = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ('cancelled', 'expired')
	`
	tag, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) SetCustomerRef(ctx context.Context, id uuid.UUID, customerID string) error {
	query := `UPDATE member_subscriptions SET external_customer_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.Exec(ctx, query, customerID, id)
	return err
}

// ExpireOverdue expires past_due rows whose window closed before cutoff and returns them.
// Pending rows started before cutoff belong to a create that never finished and are released too.
func (r *subscriptionRepo) ExpireOverdue(ctx context.Context, cutoff time.Time) ([]*models.MemberSubscription, error) {
	query := `
		UPDATE member_subscriptions
		SET status = 'expired',
			current_period_end = CASE WHEN status = 'pending' THEN current_period_start ELSE current_period_end END,
			updated_at = NOW()
		WHERE (status = 'past_due' AND current_period_end < $1)
			OR (status = 'pending' AND current_period_start < $1)
		RETURNING ` + subscriptionColumns
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expired := []*models.MemberSubscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, s)
	}
	return expired, rows.Err()
}
