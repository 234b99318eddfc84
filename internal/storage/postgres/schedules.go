package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

const scheduleColumns = `
	id, project_id, user_id, enabled, kind, anchor_time, day_of_week, day_of_month,
	timezone, max_failures, consecutive_failures, next_run, last_run, disabled_reason
`

func scanSchedule(row pgx.Row) (studio.Schedule, error) {
	var (
		sched studio.Schedule
		kind  string
	)
	err := row.Scan(
		&sched.ID, &sched.ProjectID, &sched.UserID, &sched.Enabled, &kind,
		&sched.AnchorTime, &sched.DayOfWeek, &sched.DayOfMonth,
		&sched.Timezone, &sched.MaxFailures, &sched.ConsecutiveFailures,
		&sched.NextRun, &sched.LastRun, &sched.DisabledReason,
	)
	if err != nil {
		return studio.Schedule{}, err
	}
	sched.Kind = studio.ScheduleKind(kind)
	return sched, nil
}

// GetSchedule fetches the schedule for a project.
func (s *Store) GetSchedule(ctx context.Context, projectID string) (studio.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE project_id = $1;`
	sched, err := scanSchedule(s.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return studio.Schedule{}, studio.ErrNotFound
		}
		return studio.Schedule{}, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// UpsertSchedule creates or replaces the single schedule for a project. The
// unique constraint on project_id enforces one schedule per project.
func (s *Store) UpsertSchedule(ctx context.Context, schedule studio.Schedule) (studio.Schedule, error) {
	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (project_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			kind = EXCLUDED.kind,
			anchor_time = EXCLUDED.anchor_time,
			day_of_week = EXCLUDED.day_of_week,
			day_of_month = EXCLUDED.day_of_month,
			timezone = EXCLUDED.timezone,
			max_failures = EXCLUDED.max_failures,
			consecutive_failures = EXCLUDED.consecutive_failures,
			next_run = EXCLUDED.next_run,
			disabled_reason = EXCLUDED.disabled_reason
		RETURNING ` + scheduleColumns + `;
	`
	stored, err := scanSchedule(s.pool.QueryRow(ctx, query,
		schedule.ID, schedule.ProjectID, schedule.UserID, schedule.Enabled, string(schedule.Kind),
		schedule.AnchorTime, schedule.DayOfWeek, schedule.DayOfMonth,
		schedule.Timezone, schedule.MaxFailures, schedule.ConsecutiveFailures,
		schedule.NextRun, schedule.LastRun, schedule.DisabledReason,
	))
	if err != nil {
		return studio.Schedule{}, fmt.Errorf("upsert schedule: %w", err)
	}
	return stored, nil
}

// ListDueSchedules returns enabled schedules with next_run at or before now.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]studio.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE enabled AND next_run IS NOT NULL AND next_run <= $1
		ORDER BY next_run
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var due []studio.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		due = append(due, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule rows: %w", err)
	}
	return due, nil
}

// MarkScheduleRun stamps last_run and persists the recomputed next_run.
func (s *Store) MarkScheduleRun(ctx context.Context, scheduleID string, lastRun, nextRun time.Time) error {
	query := `UPDATE schedules SET last_run = $1, next_run = $2 WHERE id = $3;`
	tag, err := s.pool.Exec(ctx, query, lastRun, nextRun, scheduleID)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return studio.ErrNotFound
	}
	return nil
}

// RecordScheduleFailure increments the consecutive failure counter.
func (s *Store) RecordScheduleFailure(ctx context.Context, scheduleID string) (int, error) {
	query := `
		UPDATE schedules
		SET consecutive_failures = consecutive_failures + 1
		WHERE id = $1
		RETURNING consecutive_failures;
	`
	var count int
	if err := s.pool.QueryRow(ctx, query, scheduleID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, studio.ErrNotFound
		}
		return 0, fmt.Errorf("record schedule failure: %w", err)
	}
	return count, nil
}

// ResetScheduleFailures zeroes the consecutive failure counter.
func (s *Store) ResetScheduleFailures(ctx context.Context, scheduleID string) error {
	query := `UPDATE schedules SET consecutive_failures = 0 WHERE id = $1;`
	tag, err := s.pool.Exec(ctx, query, scheduleID)
	if err != nil {
		return fmt.Errorf("reset schedule failures: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return studio.ErrNotFound
	}
	return nil
}

// DisableSchedule turns a schedule off and records why.
func (s *Store) DisableSchedule(ctx context.Context, scheduleID string, reason string) error {
	query := `
		UPDATE schedules
		SET enabled = FALSE, next_run = NULL, disabled_reason = $1
		WHERE id = $2;
	`
	tag, err := s.pool.Exec(ctx, query, reason, scheduleID)
	if err != nil {
		return fmt.Errorf("disable schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return studio.ErrNotFound
	}
	return nil
}
