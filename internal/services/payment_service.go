package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"memberbilling/internal/models"
	"memberbilling/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentService is the append-only payment ledger
type PaymentService interface {
	Record(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	History(ctx context.Context, subscriptionID uuid.UUID) ([]*models.Payment, error)
	FailedAttemptCount(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (int, error)
	CompletedCount(ctx context.Context, subscriptionID uuid.UUID) (int, error)
	HasCompletedFor(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (bool, error)
}

type paymentService struct {
	paymentRepo repositories.PaymentRepository
	log         logrus.FieldLogger
}

func NewPaymentService(paymentRepo repositories.PaymentRepository, log logrus.FieldLogger) PaymentService {
	return &paymentService{paymentRepo: paymentRepo, log: log}
}

// Record appends a payment; re-recording the same external id, idempotency key or completed window returns the stored row
func (s *paymentService) Record(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}

	stored, created, err := s.paymentRepo.Insert(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	if !created {
		s.log.WithFields(logrus.Fields{
			"subscription_id": payment.SubscriptionID,
			"payment_id":      stored.ID,
		}).Debug("Payment already recorded, returning existing row")
	}
	return stored, nil
}

func (s *paymentService) History(ctx context.Context, subscriptionID uuid.UUID) ([]*models.Payment, error) {
	payments, err := s.paymentRepo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func (s *paymentService) FailedAttemptCount(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (int, error) {
	return s.paymentRepo.CountFailedAttempts(ctx, subscriptionID, dueDate)
}

func (s *paymentService) CompletedCount(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	return s.paymentRepo.CountCompleted(ctx, subscriptionID)
}

func (s *paymentService) HasCompletedFor(ctx context.Context, subscriptionID uuid.UUID, dueDate time.Time) (bool, error) {
	_, err := s.paymentRepo.GetCompletedForPeriod(ctx, subscriptionID, dueDate)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
