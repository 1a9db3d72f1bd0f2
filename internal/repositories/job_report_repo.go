package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"memberbilling/internal/models"
)

type JobReportRepository interface {
	Create(ctx context.Context, report *models.RenewalJobReport) error
	List(ctx context.Context, limit int) ([]*models.RenewalJobReport, error)
}

type jobReportRepo struct {
	db DB
}

func NewJobReportRepo(db DB) JobReportRepository {
	return &jobReportRepo{db: db}
}

func (r *jobReportRepo) Create(ctx context.Context, report *models.RenewalJobReport) error {
	errs := report.Errors
	if errs == nil {
		errs = []models.RenewalError{}
	}
	payload, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode report errors: %w", err)
	}

	query := `
		INSERT INTO renewal_job_reports (id, trigger, started_at, duration_ms, processed, succeeded, failed, skipped, errors, fatal_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query, report.ID, report.Trigger, report.StartedAt, report.Duration.Milliseconds(), report.Processed,
		report.Succeeded, report.Failed, report.Skipped, payload, report.FatalError)
	return err
}

// List returns the most recent reports first
func (r *jobReportRepo) List(ctx context.Context, limit int) ([]*models.RenewalJobReport, error) {
	query := `
		SELECT id, trigger, started_at, duration_ms, processed, succeeded, failed, skipped, errors, fatal_error
		FROM renewal_job_reports
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []*models.RenewalJobReport{}
	for rows.Next() {
		report := &models.RenewalJobReport{}
		var durationMs int64
		var payload []byte
		if err := rows.Scan(&report.ID, &report.Trigger, &report.StartedAt, &durationMs, &report.Processed, &report.Succeeded,
			&report.Failed, &report.Skipped, &payload, &report.FatalError); err != nil {
			return nil, err
		}
		report.Duration = time.Duration(durationMs) * time.Millisecond
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &report.Errors); err != nil {
				return nil, fmt.Errorf("failed to decode report errors: %w", err)
			}
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
