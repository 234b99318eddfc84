package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

// CreateJob inserts a new job row in its initial state.
func (s *Store) CreateJob(ctx context.Context, job studio.ScrapeJob) error {
	query := `
		INSERT INTO scrape_jobs (
			id, project_id, user_id, status, trigger, progress, max_results,
			targets_total, targets_done, targets_failed, results_scraped,
			cancel_requested, submitted_at, started_at, finished_at, error_text
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);
	`
	_, err := s.pool.Exec(ctx, query,
		job.ID, job.ProjectID, job.UserID, string(job.Status), string(job.Trigger),
		job.Progress, job.Options.MaxResults,
		job.Counters.TargetsTotal, job.Counters.TargetsDone,
		job.Counters.TargetsFailed, job.Counters.ResultsScraped,
		job.CancelRequested, job.Submitted, job.Started, job.Finished, job.ErrorText,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `
	id, project_id, user_id, status, trigger, progress, max_results,
	targets_total, targets_done, targets_failed, results_scraped,
	cancel_requested, submitted_at, started_at, finished_at, error_text
`

func scanJob(row pgx.Row) (studio.ScrapeJob, error) {
	var (
		job             studio.ScrapeJob
		status, trigger string
	)
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.UserID, &status, &trigger,
		&job.Progress, &job.Options.MaxResults,
		&job.Counters.TargetsTotal, &job.Counters.TargetsDone,
		&job.Counters.TargetsFailed, &job.Counters.ResultsScraped,
		&job.CancelRequested, &job.Submitted, &job.Started, &job.Finished, &job.ErrorText,
	)
	if err != nil {
		return studio.ScrapeJob{}, err
	}
	job.Status = studio.JobStatus(status)
	job.Trigger = studio.JobTrigger(trigger)
	return job, nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (studio.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE id = $1;`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return studio.ScrapeJob{}, studio.ErrNotFound
		}
		return studio.ScrapeJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// TransitionJob conditionally moves a job between states. The WHERE clause
// matches only the allowed prior states, so terminal rows reject every write.
func (s *Store) TransitionJob(
	ctx context.Context,
	jobID string,
	from []studio.JobStatus,
	to studio.JobStatus,
	errText string,
	counters studio.JobCounters,
) (bool, error) {
	fromStates := make([]string, len(from))
	for i, st := range from {
		fromStates[i] = string(st)
	}
	var progress *int
	if to.Terminal() && counters.TargetsTotal > 0 {
		p := counters.TargetsDone * 100 / counters.TargetsTotal
		progress = &p
	}
	query := `
		UPDATE scrape_jobs
		SET status = $1,
			error_text = $2,
			targets_total = $3,
			targets_done = $4,
			targets_failed = $5,
			results_scraped = $6,
			progress = COALESCE($7, progress),
			started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			finished_at = CASE WHEN $1 IN ('completed','failed','cancelled') THEN NOW() ELSE finished_at END
		WHERE id = $8 AND status = ANY($9);
	`
	tag, err := s.pool.Exec(ctx, query,
		string(to), errText,
		counters.TargetsTotal, counters.TargetsDone, counters.TargetsFailed, counters.ResultsScraped,
		progress, jobID, fromStates,
	)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateJobProgress persists progress for a running job only.
func (s *Store) UpdateJobProgress(
	ctx context.Context,
	jobID string,
	progress int,
	counters studio.JobCounters,
) (bool, error) {
	query := `
		UPDATE scrape_jobs
		SET progress = $1,
			targets_total = $2,
			targets_done = $3,
			targets_failed = $4,
			results_scraped = $5
		WHERE id = $6 AND status = $7;
	`
	tag, err := s.pool.Exec(ctx, query,
		progress,
		counters.TargetsTotal, counters.TargetsDone, counters.TargetsFailed, counters.ResultsScraped,
		jobID, string(studio.JobStatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("update job progress: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RequestCancel flags a pending or running job for cancellation.
func (s *Store) RequestCancel(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE scrape_jobs
		SET cancel_requested = TRUE
		WHERE id = $1 AND status = ANY($2);
	`
	tag, err := s.pool.Exec(ctx, query, jobID, []string{
		string(studio.JobStatusPending), string(studio.JobStatusRunning),
	})
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStaleRunning returns running jobs that started before the cutoff.
func (s *Store) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]studio.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE status = $1 AND started_at < $2;`
	rows, err := s.pool.Query(ctx, query, string(studio.JobStatusRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale running jobs: %w", err)
	}
	defer rows.Close()

	var jobs []studio.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

// CreateResult appends an analyzed result row.
func (s *Store) CreateResult(ctx context.Context, result studio.Result) error {
	analysisJSON, err := json.Marshal(result.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	query := `
		INSERT INTO results (
			id, project_id, target_id, job_id, user_id, platform,
			text, title, rating, content_date, analysis, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12);
	`
	_, err = s.pool.Exec(ctx, query,
		result.ID, result.ProjectID, result.TargetID, result.JobID, result.UserID, result.Platform,
		result.Content.Text, result.Content.Title, result.Content.Rating, result.Content.Date,
		analysisJSON, result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}
