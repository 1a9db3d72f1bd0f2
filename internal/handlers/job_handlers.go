package handlers

import (
	"context"
	"net/http"

	"memberbilling/internal/jobs"
	"memberbilling/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RenewalRunner is the scheduler surface exposed to operators
type RenewalRunner interface {
	RunNow(ctx context.Context, trigger models.RenewalTrigger) (*models.RenewalJobReport, error)
	JobStats(ctx context.Context, limit int) (*jobs.JobStats, error)
	Start() error
	Stop() error
	IsScheduled() bool
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type JobHandlers struct {
	scheduler RenewalRunner
	sweeper   Sweeper
	log       logrus.FieldLogger
}

func NewJobHandlers(scheduler RenewalRunner, sweeper Sweeper, log logrus.FieldLogger) *JobHandlers {
	return &JobHandlers{
		scheduler: scheduler,
		sweeper:   sweeper,
		log:       log,
	}
}

// RunRenewals handler
// @Summary Run a renewal batch now
// @Tags admin
// @Success 200 {object} models.RenewalJobReport
// @Failure 409 {object} common.ErrorResponse
// @Router /v1/admin/renewals/run [post]
func (h *JobHandlers) RunRenewals(c echo.Context) error {
	report, err := h.scheduler.RunNow(c.Request().Context(), models.TriggerManual)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// GetJobStats handler
func (h *JobHandlers) GetJobStats(c echo.Context) error {
	stats, err := h.scheduler.JobStats(c.Request().Context(), queryLimit(c, 20, 100))
	if err != nil {
		h.log.WithError(err).Error("Failed to load renewal job stats")
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// StartScheduler handler
func (h *JobHandlers) StartScheduler(c echo.Context) error {
	if err := h.scheduler.Start(); err != nil {
		h.log.WithError(err).Error("Failed to start renewal scheduler")
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":   "Renewal scheduler started",
		"scheduled": h.scheduler.IsScheduled(),
	})
}

// StopScheduler handler
func (h *JobHandlers) StopScheduler(c echo.Context) error {
	if err := h.scheduler.Stop(); err != nil {
		h.log.WithError(err).Error("Failed to stop renewal scheduler")
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":   "Renewal scheduler stopped",
		"scheduled": h.scheduler.IsScheduled(),
	})
}

// RunSweep handler
func (h *JobHandlers) RunSweep(c echo.Context) error {
	expired, err := h.sweeper.Sweep(c.Request().Context())
	if err != nil {
		h.log.WithError(err).Error("Manual expiration sweep failed")
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": expired})
}
