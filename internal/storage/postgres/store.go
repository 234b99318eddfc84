// Package postgres provides the Postgres-backed document store. Every
// conditional update (project lock, job transitions) is a single UPDATE whose
// WHERE clause carries the expected prior state; RowsAffected distinguishes
// "applied" from "lost the race".
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

// db is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements studio.Store on Postgres.
type Store struct {
	pool db
}

// NewStore connects a pool and returns a Store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool db) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, projectID string) (studio.Project, error) {
	query := `
		SELECT id, user_id, name, status, lock_state, last_scraped_at, created_at
		FROM projects
		WHERE id = $1;
	`
	var (
		p                 studio.Project
		status, lockState string
	)
	err := s.pool.QueryRow(ctx, query, projectID).Scan(
		&p.ID, &p.UserID, &p.Name, &status, &lockState, &p.LastScrapedAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return studio.Project{}, studio.ErrNotFound
		}
		return studio.Project{}, fmt.Errorf("get project: %w", err)
	}
	p.Status = studio.ProjectStatus(status)
	p.LockState = studio.LockState(lockState)
	return p, nil
}

// AcquireProjectLock flips the lock field from unlocked to running-lock in
// one conditional update.
func (s *Store) AcquireProjectLock(ctx context.Context, projectID string) (bool, error) {
	query := `
		UPDATE projects
		SET lock_state = $1
		WHERE id = $2 AND lock_state = $3;
	`
	tag, err := s.pool.Exec(ctx, query, string(studio.LockStateRunning), projectID, string(studio.LockStateUnlocked))
	if err != nil {
		return false, fmt.Errorf("acquire project lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseProjectLock unconditionally unlocks the project and stamps the
// last-scrape time when provided.
func (s *Store) ReleaseProjectLock(ctx context.Context, projectID string, lastScraped *time.Time) error {
	query := `
		UPDATE projects
		SET lock_state = $1, last_scraped_at = COALESCE($2, last_scraped_at)
		WHERE id = $3;
	`
	tag, err := s.pool.Exec(ctx, query, string(studio.LockStateUnlocked), lastScraped, projectID)
	if err != nil {
		return fmt.Errorf("release project lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return studio.ErrNotFound
	}
	return nil
}

// ListActiveTargets returns the project's non-errored targets in insertion order.
func (s *Store) ListActiveTargets(ctx context.Context, projectID string) ([]studio.Target, error) {
	query := `
		SELECT id, project_id, url, platform, status, error_text, last_scraped_at, created_at
		FROM targets
		WHERE project_id = $1 AND status <> $2
		ORDER BY created_at, id;
	`
	rows, err := s.pool.Query(ctx, query, projectID, string(studio.TargetStatusError))
	if err != nil {
		return nil, fmt.Errorf("list active targets: %w", err)
	}
	defer rows.Close()

	var targets []studio.Target
	for rows.Next() {
		var (
			t      studio.Target
			status string
		)
		if err := rows.Scan(
			&t.ID, &t.ProjectID, &t.URL, &t.Platform, &status, &t.ErrorText, &t.LastScrapedAt, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		t.Status = studio.TargetStatus(status)
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target rows: %w", err)
	}
	return targets, nil
}

// UpdateTargetStatus updates a target's status, error text and scrape stamp.
func (s *Store) UpdateTargetStatus(
	ctx context.Context,
	targetID string,
	status studio.TargetStatus,
	errText string,
	scrapedAt *time.Time,
) error {
	query := `
		UPDATE targets
		SET status = $1, error_text = $2, last_scraped_at = COALESCE($3, last_scraped_at)
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, string(status), errText, scrapedAt, targetID)
	if err != nil {
		return fmt.Errorf("update target status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return studio.ErrNotFound
	}
	return nil
}
