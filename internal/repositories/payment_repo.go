package repositories

import (
	"context"
	"errors"
	"time"

	"memberbilling/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type PaymentRepository interface {
	Insert(ctx context.Context, payment *models.Payment) (*models.Payment, bool, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	GetCompletedForPeriod(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (*models.Payment, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*models.Payment, error)
	CountFailedAttempts(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (int, error)
	CountCompleted(ctx context.Context, subscriptionID uuid.UUID) (int, error)
}

type paymentRepo struct {
	db DB
}

func NewPaymentRepo(db DB) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, subscription_id, amount, currency, status, external_payment_id, idempotency_key, failure_reason, due_date, paid_at, created_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(&p.ID, &p.SubscriptionID, &p.Amount, &p.Currency, &p.Status, &p.ExternalPaymentID, &p.IdempotencyKey,
		&p.FailureReason, &p.DueDate, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// Insert appends a payment. When the external id, idempotency key or completed window already exists
// the stored row is returned and the bool is false.
func (r *paymentRepo) Insert(ctx context.Context, p *models.Payment) (*models.Payment, bool, error) {
	query := `
		INSERT INTO payments (id, subscription_id, amount, currency, status, external_payment_id, idempotency_key, failure_reason, due_date, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT DO NOTHING
		RETURNING ` + paymentColumns
	stored, err := scanPayment(r.db.QueryRow(ctx, query, p.ID, p.SubscriptionID, p.Amount, p.Currency, p.Status,
		p.ExternalPaymentID, p.IdempotencyKey, p.FailureReason, p.DueDate, p.PaidAt))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	existing, err := r.findConflict(ctx, p)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *paymentRepo) findConflict(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if p.ExternalPaymentID != nil {
		existing, err := r.GetByExternalID(ctx, *p.ExternalPaymentID)
		if !errors.Is(err, ErrNotFound) {
			return existing, err
		}
	}
	if p.IdempotencyKey != nil {
		existing, err := r.GetByIdempotencyKey(ctx, *p.IdempotencyKey)
		if !errors.Is(err, ErrNotFound) {
			return existing, err
		}
	}
	if p.Status == models.PaymentCompleted {
		return r.GetCompletedForPeriod(ctx, p.SubscriptionID, p.DueDate)
	}
	return nil, ErrNotFound
}

func (r *paymentRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_payment_id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, externalID))
}

func (r *paymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`
	return scanPayment(r.db.QueryRow(ctx, query, key))
}

func (r *paymentRepo) GetCompletedForPeriod(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE subscription_id = $1 AND due_date = $2 AND status = 'completed'`
	return scanPayment(r.db.QueryRow(ctx, query, subscriptionID, dueDate))
}

// ListBySubscription returns the ledger newest-first
func (r *paymentRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE subscription_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *paymentRepo) CountFailedAttempts(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM payments WHERE subscription_id = $1 AND due_date = $2 AND status = 'failed'`
	err := r.db.QueryRow(ctx, query, subscriptionID, dueDate).Scan(&count)
	return count, err
}

func (r *paymentRepo) CountCompleted(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM payments WHERE subscription_id = $1 AND status = 'completed'`
	err := r.db.QueryRow(ctx, query, subscriptionID).Scan(&count)
	return count, err
}
