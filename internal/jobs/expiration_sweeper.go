package jobs

import (
	"context"
	"sync"
	"time"

	"memberbilling/internal/metrics"

	"github.com/sirupsen/logrus"
)

// ExpiryService performs the status write for expired subscriptions
type ExpiryService interface {
	ExpireOverdue(ctx context.Context, cutoff time.Time) (int, error)
}

// ExpirationSweeper expires past_due subscriptions whose grace window has run out.
// It never touches the payment ledger.
type ExpirationSweeper struct {
	subscriptions ExpiryService
	grace         time.Duration
	metrics       *metrics.Metrics
	log           logrus.FieldLogger
	now           func() time.Time
	mu            sync.Mutex
}

func NewExpirationSweeper(subscriptions ExpiryService, grace time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *ExpirationSweeper {
	return &ExpirationSweeper{
		subscriptions: subscriptions,
		grace:         grace,
		metrics:       m,
		log:           log,
		now:           time.Now,
	}
}

// Sweep expires every past_due subscription whose period ended before now minus the grace window
func (s *ExpirationSweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now()
	cutoff := started.UTC().Add(-s.grace)

	expired, err := s.subscriptions.ExpireOverdue(ctx, cutoff)
	if err != nil {
		s.log.WithError(err).WithField("cutoff", cutoff).Error("Expiration sweep failed")
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.ObserveSweep(expired, s.now().Sub(started))
	}
	if expired > 0 {
		s.log.WithFields(logrus.Fields{"expired": expired, "cutoff": cutoff}).Info("Expiration sweep completed")
	}
	return expired, nil
}

func (s *ExpirationSweeper) tick() {
	if _, err := s.Sweep(context.Background()); err != nil {
		s.log.WithError(err).Warn("Scheduled expiration sweep failed")
	}
}
