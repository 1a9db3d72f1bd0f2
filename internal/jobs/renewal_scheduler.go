package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"memberbilling/internal/metrics"
	"memberbilling/internal/models"
	"memberbilling/internal/repositories"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrRunInProgress = errors.New("renewal run already in progress")

const renewalLockName = "renewal-run"

// RenewalService is the part of the lifecycle manager the scheduler drives
type RenewalService interface {
	ListDue(ctx context.Context, after *models.DueCursor, limit int) ([]*models.MemberSubscription, error)
	Renew(ctx context.Context, subscriptionID uuid.UUID) models.RenewalOutcome
}

// RunLock guards renewal runs across processes. The per-subscription conditional update
// stays the correctness boundary; the lock only avoids wasted overlapping batches.
type RunLock interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// ReportArchiver stores a copy of finished run reports
type ReportArchiver interface {
	Archive(ctx context.Context, report *models.RenewalJobReport) error
}

type SchedulerConfig struct {
	Interval      time.Duration
	InitialDelay  time.Duration
	SweepInterval time.Duration
	Concurrency   int
	Timeout       time.Duration
	BatchSize     int
	LockTTL       time.Duration
}

// runState is the scheduler's single-flight guard plus the most recent report
type runState struct {
	running atomic.Bool
	mu      sync.RWMutex
	last    *models.RenewalJobReport
}

func (r *runState) setLast(report *models.RenewalJobReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = report
}

func (r *runState) lastReport() *models.RenewalJobReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// JobStats is the operator view of the scheduler
type JobStats struct {
	Running   bool                       `json:"running"`
	Scheduled bool                       `json:"scheduled"`
	LastRun   *models.RenewalJobReport   `json:"last_run,omitempty"`
	Recent    []*models.RenewalJobReport `json:"recent"`
}

// RenewalScheduler drives periodic renewal batches and the expiration sweep
type RenewalScheduler struct {
	scheduler gocron.Scheduler
	cfg       SchedulerConfig
	renewals  RenewalService
	reports   repositories.JobReportRepository
	archive   ReportArchiver
	lock      RunLock
	sweeper   *ExpirationSweeper
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time

	state   runState
	mu      sync.Mutex
	jobs    map[string]gocron.Job
	started bool
}

// NewRenewalScheduler builds the scheduler. archive, lock, sweeper and m may be nil.
func NewRenewalScheduler(
	cfg SchedulerConfig,
	renewals RenewalService,
	reports repositories.JobReportRepository,
	archive ReportArchiver,
	lock RunLock,
	sweeper *ExpirationSweeper,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) (*RenewalScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}

	return &RenewalScheduler{
		scheduler: scheduler,
		cfg:       cfg,
		renewals:  renewals,
		reports:   reports,
		archive:   archive,
		lock:      lock,
		sweeper:   sweeper,
		metrics:   m,
		log:       log,
		now:       time.Now,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// Start registers the periodic jobs. The first renewal tick fires after the initial delay.
func (s *RenewalScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.jobs) > 0 {
		return nil
	}
	if err := s.registerJobs(); err != nil {
		_ = s.removeJobsLocked()
		return err
	}
	if !s.started {
		s.scheduler.Start()
		s.started = true
	}
	s.log.WithFields(logrus.Fields{
		"interval":      s.cfg.Interval,
		"initial_delay": s.cfg.InitialDelay,
		"jobs":          len(s.jobs),
	}).Info("Renewal scheduler started")
	return nil
}

// Stop removes the periodic jobs. A run already in flight finishes normally.
func (s *RenewalScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.removeJobsLocked()
	s.log.Info("Renewal scheduler stopped")
	return err
}

// Shutdown stops the scheduler for good and waits for running jobs
func (s *RenewalScheduler) Shutdown() error {
	s.mu.Lock()
	s.jobs = make(map[string]gocron.Job)
	s.mu.Unlock()
	return s.scheduler.Shutdown()
}

// IsScheduled reports whether periodic ticks are registered
func (s *RenewalScheduler) IsScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs) > 0
}

// IsRunning reports whether a renewal batch is in flight in this process
func (s *RenewalScheduler) IsRunning() bool {
	return s.state.running.Load()
}

func (s *RenewalScheduler) registerJobs() error {
	start := gocron.WithStartImmediately()
	if s.cfg.InitialDelay > 0 {
		start = gocron.WithStartDateTime(s.now().Add(s.cfg.InitialDelay))
	}

	renewalJob, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(s.tick),
		gocron.WithName("subscription-renewals"),
		gocron.WithStartAt(start),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create renewal job: %w", err)
	}
	s.jobs["renewals"] = renewalJob

	if s.sweeper != nil && s.cfg.SweepInterval > 0 {
		sweepJob, err := s.scheduler.NewJob(
			gocron.DurationJob(s.cfg.SweepInterval),
			gocron.NewTask(s.sweeper.tick),
			gocron.WithName("expiration-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create sweep job: %w", err)
		}
		s.jobs["sweep"] = sweepJob
	}
	return nil
}

func (s *RenewalScheduler) removeJobsLocked() error {
	var errs []error
	for name, job := range s.jobs {
		if err := s.scheduler.RemoveJob(job.ID()); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
		delete(s.jobs, name)
	}
	return errors.Join(errs...)
}

func (s *RenewalScheduler) tick() {
	_, err := s.RunNow(context.Background(), models.TriggerScheduled)
	if errors.Is(err, ErrRunInProgress) {
		s.log.Info("Skipping renewal tick, previous run still in progress")
	}
}

// RunNow runs one renewal batch. Manual and scheduled runs share the same guard.
func (s *RenewalScheduler) RunNow(ctx context.Context, trigger models.RenewalTrigger) (*models.RenewalJobReport, error) {
	if !s.state.running.CompareAndSwap(false, true) {
		s.rejected("process")
		return nil, ErrRunInProgress
	}
	defer s.state.running.Store(false)

	if s.lock != nil {
		token, acquired, err := s.lock.AcquireLock(ctx, renewalLockName, s.cfg.LockTTL)
		switch {
		case err != nil:
			s.log.WithError(err).Warn("Run lock unavailable, relying on conditional updates")
		case !acquired:
			s.rejected("cluster")
			return nil, ErrRunInProgress
		default:
			defer func() {
				if err := s.lock.ReleaseLock(context.WithoutCancel(ctx), renewalLockName, token); err != nil {
					s.log.WithError(err).Warn("Failed to release run lock")
				}
			}()
		}
	}

	report := s.run(ctx, trigger)
	s.finish(ctx, report)
	return report, nil
}

func (s *RenewalScheduler) rejected(guard string) {
	if s.metrics != nil {
		s.metrics.RenewalRunRejected.WithLabelValues(guard).Inc()
	}
}

func (s *RenewalScheduler) run(ctx context.Context, trigger models.RenewalTrigger) *models.RenewalJobReport {
	report := &models.RenewalJobReport{
		ID:        uuid.New(),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
		Errors:    []models.RenewalError{},
	}
	log := s.log.WithFields(logrus.Fields{"run_id": report.ID, "trigger": trigger})

	// walk every due row page by page; failing rows keep their place in the order,
	// so a page full of past_due retries never hides rows due after them
	var outcomes []models.RenewalOutcome
	var after *models.DueCursor
	for {
		due, err := s.renewals.ListDue(ctx, after, s.cfg.BatchSize)
		if err != nil {
			log.WithError(err).Error("Failed to list due subscriptions")
			msg := err.Error()
			report.FatalError = &msg
			break
		}
		outcomes = append(outcomes, s.renewPage(ctx, due)...)
		if len(due) < s.cfg.BatchSize || ctx.Err() != nil {
			break
		}
		after = due[len(due)-1].DueCursor()
	}

	for _, outcome := range outcomes {
		report.Add(outcome)
		if s.metrics != nil {
			s.metrics.ObserveOutcome(outcome)
		}
		if outcome.Result == models.RenewalFailed {
			log.WithFields(logrus.Fields{
				"subscription_id": outcome.SubscriptionID,
				"reason":          outcome.Reason,
				"detail":          outcome.Detail,
			}).Warn("Renewal failed")
		}
	}
	return report
}

func (s *RenewalScheduler) renewPage(ctx context.Context, due []*models.MemberSubscription) []models.RenewalOutcome {
	outcomes := make([]models.RenewalOutcome, len(due))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, sub := range due {
		if ctx.Err() != nil {
			outcomes[i] = models.Failed(sub.ID, models.ErrorKindTimeout, "run cancelled before dispatch")
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.renewOne(ctx, sub.ID)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// renewOne bounds a single renewal by the configured timeout; a renewal that overruns is
// reported as a timeout for this tick and picked up again on the next one
func (s *RenewalScheduler) renewOne(ctx context.Context, id uuid.UUID) models.RenewalOutcome {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	done := make(chan models.RenewalOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- models.Failed(id, models.ErrorKindInternal, fmt.Sprintf("panic: %v", r))
			}
		}()
		done <- s.renewals.Renew(ctx, id)
	}()

	select {
	case outcome := <-done:
		return outcome
	case <-ctx.Done():
		return models.Failed(id, models.ErrorKindTimeout, ctx.Err().Error())
	}
}

func (s *RenewalScheduler) finish(ctx context.Context, report *models.RenewalJobReport) {
	report.Duration = s.now().UTC().Sub(report.StartedAt)
	s.state.setLast(report)

	storeCtx := context.WithoutCancel(ctx)
	if err := s.reports.Create(storeCtx, report); err != nil {
		s.log.WithError(err).WithField("run_id", report.ID).Error("Failed to store renewal report")
	}
	if s.archive != nil {
		if err := s.archive.Archive(storeCtx, report); err != nil {
			s.log.WithError(err).WithField("run_id", report.ID).Warn("Failed to archive renewal report")
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveReport(report)
	}

	s.log.WithFields(logrus.Fields{
		"run_id":    report.ID,
		"trigger":   report.Trigger,
		"processed": report.Processed,
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"duration":  report.Duration,
	}).Info("Renewal run completed")

	if s.sweeper != nil {
		if _, err := s.sweeper.Sweep(storeCtx); err != nil {
			s.log.WithError(err).Warn("Post-run expiration sweep failed")
		}
	}
}

// JobStats returns the in-process state and up to limit stored reports, newest first
func (s *RenewalScheduler) JobStats(ctx context.Context, limit int) (*JobStats, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	recent, err := s.reports.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list renewal reports: %w", err)
	}
	if recent == nil {
		recent = []*models.RenewalJobReport{}
	}
	return &JobStats{
		Running:   s.IsRunning(),
		Scheduled: s.IsScheduled(),
		LastRun:   s.state.lastReport(),
		Recent:    recent,
	}, nil
}
