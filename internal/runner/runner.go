// Package runner executes one scrape-and-analyze job end to end.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/metrics"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

const defaultMaxResults = 100

// EventDispatcher delivers job lifecycle events to subscribers.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event studio.Event)
}

// Store is the persistence surface the runner needs.
type Store interface {
	studio.ProjectStore
	studio.TargetStore
	studio.JobStore
	studio.ResultStore
}

// Config controls Runner behavior.
type Config struct {
	// TargetTimeout bounds each target's resolve+analyze work. Exceeding it
	// counts as a target error, not a job error.
	TargetTimeout time.Duration
	// Topic, when set, mirrors lifecycle events onto the publisher.
	Topic string
}

// Runner owns the full lifecycle of one scrape job: the sequential target
// loop, progress updates, partial-failure tallying, the terminal transition,
// lock release and event emission.
type Runner struct {
	store      Store
	resolver   studio.Resolver
	analyzer   studio.Analyzer
	dispatcher EventDispatcher
	publisher  studio.Publisher
	clock      studio.Clock
	idGen      studio.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Runner.
func New(
	store Store,
	resolver studio.Resolver,
	analyzer studio.Analyzer,
	dispatcher EventDispatcher,
	publisher studio.Publisher,
	clock studio.Clock,
	idGen studio.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if cfg.TargetTimeout <= 0 {
		cfg.TargetTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:      store,
		resolver:   resolver,
		analyzer:   analyzer,
		dispatcher: dispatcher,
		publisher:  publisher,
		clock:      clock,
		idGen:      idGen,
		cfg:        cfg,
		logger:     logger,
	}
}

// Execute runs one job to a terminal state. The project lock is expected to
// be held by the caller (the scheduler acquired it before creating the job);
// Execute releases it on every terminal path.
func (r *Runner) Execute(ctx context.Context, req studio.JobRequest) {
	job, err := r.store.GetJob(ctx, req.JobID)
	if err != nil {
		r.logger.Error("load job failed", zap.String("job_id", req.JobID), zap.Error(err))
		r.releaseLock(ctx, req.ProjectID, nil)
		return
	}

	targets, err := r.store.ListActiveTargets(ctx, job.ProjectID)
	if err != nil {
		r.finalize(ctx, job, studio.JobStatusFailed, fmt.Sprintf("list targets: %v", err), studio.JobCounters{})
		return
	}

	counters := studio.JobCounters{TargetsTotal: len(targets)}
	started, err := r.store.TransitionJob(
		ctx, job.ID,
		[]studio.JobStatus{studio.JobStatusPending},
		studio.JobStatusRunning, "", counters,
	)
	if err != nil {
		r.logger.Error("start job failed", zap.String("job_id", job.ID), zap.Error(err))
		r.releaseLock(ctx, job.ProjectID, nil)
		return
	}
	if !started {
		// Already terminal (e.g. cancelled before pickup); nothing to run.
		r.logger.Info("job no longer pending, skipping", zap.String("job_id", job.ID))
		r.releaseLock(ctx, job.ProjectID, nil)
		return
	}

	metrics.JobStarted()
	defer metrics.JobEnded()
	startedAt := r.clock.Now()
	r.logger.Info("job started",
		zap.String("job_id", job.ID),
		zap.String("project_id", job.ProjectID),
		zap.Int("targets", counters.TargetsTotal),
	)
	r.emit(ctx, job, studio.EventScrapeStarted, map[string]any{
		"targets_total": counters.TargetsTotal,
	})

	for _, target := range targets {
		// Cancellation is honored between targets only; a target in flight
		// always completes and keeps its persisted results.
		if r.cancelled(ctx, job.ID) {
			r.finalize(ctx, job, studio.JobStatusCancelled, "cancelled by request", counters)
			return
		}

		stored, targetErr := r.processTarget(ctx, job, target)
		counters.TargetsDone++
		counters.ResultsScraped += stored
		now := r.clock.Now()
		if targetErr != nil {
			counters.TargetsFailed++
			metrics.TargetProcessed("error")
			r.logger.Warn("target failed",
				zap.String("job_id", job.ID),
				zap.String("target_id", target.ID),
				zap.Error(targetErr),
			)
			if err := r.store.UpdateTargetStatus(ctx, target.ID, studio.TargetStatusError, targetErr.Error(), nil); err != nil {
				r.logger.Error("update target status failed", zap.String("target_id", target.ID), zap.Error(err))
			}
		} else {
			metrics.TargetProcessed("ok")
			if err := r.store.UpdateTargetStatus(ctx, target.ID, studio.TargetStatusActive, "", &now); err != nil {
				r.logger.Error("update target status failed", zap.String("target_id", target.ID), zap.Error(err))
			}
		}

		progress := counters.TargetsDone * 100 / counters.TargetsTotal
		if _, err := r.store.UpdateJobProgress(ctx, job.ID, progress, counters); err != nil {
			r.logger.Error("update progress failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	status, errText := deriveFinalStatus(counters)
	r.finalize(ctx, job, status, errText, counters)
	r.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("results", counters.ResultsScraped),
		zap.Duration("duration", r.clock.Now().Sub(startedAt)),
	)
}

// FailTimedOut force-fails jobs that have been running longer than maxAge and
// releases their project locks. It is the entry point for the external reaper.
func (r *Runner) FailTimedOut(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-maxAge)
	stale, err := r.store.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	reaped := 0
	for _, job := range stale {
		ok, err := r.store.TransitionJob(
			ctx, job.ID,
			[]studio.JobStatus{studio.JobStatusRunning},
			studio.JobStatusFailed,
			"timeout: job exceeded maximum duration",
			job.Counters,
		)
		if err != nil {
			r.logger.Error("reap job failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		reaped++
		metrics.JobFinished(string(studio.JobStatusFailed), maxAge.Seconds())
		r.releaseLock(ctx, job.ProjectID, nil)
		r.emit(ctx, job, studio.EventScrapeFailed, map[string]any{
			"error": "timeout: job exceeded maximum duration",
		})
		r.logger.Warn("job reaped after timeout", zap.String("job_id", job.ID))
	}
	return reaped, nil
}

// RunReaper blocks, periodically reaping timed-out jobs until the context
// finishes.
func (r *Runner) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.FailTimedOut(ctx, maxAge); err != nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Runner) cancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.CancelRequested
}

// processTarget resolves one target and persists an analyzed result per item.
// Already-persisted results survive a mid-target failure; the returned count
// reflects what actually reached the store.
func (r *Runner) processTarget(ctx context.Context, job studio.ScrapeJob, target studio.Target) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, r.cfg.TargetTimeout)
	defer cancel()

	resolution, err := r.resolver.Resolve(tctx, target.URL)
	if err != nil {
		return 0, fmt.Errorf("resolve target: %w", err)
	}

	platform := target.Platform
	if platform == "" {
		platform = resolution.Platform
	}

	maxResults := job.Options.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	items := resolution.Items
	if len(items) > maxResults {
		items = items[:maxResults]
	}

	stored := 0
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		analysis, err := r.analyzer.Analyze(tctx, item.Text)
		if err != nil {
			return stored, fmt.Errorf("analyze item: %w", err)
		}
		id, err := r.idGen.NewID()
		if err != nil {
			return stored, fmt.Errorf("generate result id: %w", err)
		}
		result := studio.Result{
			ID:        id,
			ProjectID: job.ProjectID,
			TargetID:  target.ID,
			JobID:     job.ID,
			UserID:    job.UserID,
			Content: studio.ResultContent{
				Text:   item.Text,
				Title:  item.Title,
				Rating: item.Rating,
				Date:   item.Date,
			},
			Analysis:  analysis,
			Platform:  platform,
			CreatedAt: r.clock.Now(),
		}
		if err := r.store.CreateResult(tctx, result); err != nil {
			return stored, fmt.Errorf("persist result: %w", err)
		}
		stored++
		metrics.ResultStored()
	}
	return stored, nil
}

// finalize moves the job to a terminal state, releases the project lock and
// emits the terminal webhook event. Delivery failures never revert the job.
func (r *Runner) finalize(
	ctx context.Context,
	job studio.ScrapeJob,
	status studio.JobStatus,
	errText string,
	counters studio.JobCounters,
) {
	ok, err := r.store.TransitionJob(
		ctx, job.ID,
		[]studio.JobStatus{studio.JobStatusPending, studio.JobStatusRunning},
		status, errText, counters,
	)
	if err != nil {
		r.logger.Error("terminal transition failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if ok {
		metrics.JobFinished(string(status), 0)
	}

	now := r.clock.Now()
	r.releaseLock(ctx, job.ProjectID, &now)

	switch status {
	case studio.JobStatusCompleted:
		r.emit(ctx, job, studio.EventScrapeCompleted, map[string]any{
			"targets_total":   counters.TargetsTotal,
			"targets_done":    counters.TargetsDone,
			"targets_failed":  counters.TargetsFailed,
			"results_scraped": counters.ResultsScraped,
		})
	case studio.JobStatusFailed:
		r.emit(ctx, job, studio.EventScrapeFailed, map[string]any{
			"targets_total":  counters.TargetsTotal,
			"targets_failed": counters.TargetsFailed,
			"error":          errText,
		})
	}
}

func (r *Runner) releaseLock(ctx context.Context, projectID string, lastScraped *time.Time) {
	if err := r.store.ReleaseProjectLock(ctx, projectID, lastScraped); err != nil {
		r.logger.Error("release project lock failed", zap.String("project_id", projectID), zap.Error(err))
	}
}

// emit hands the event to the webhook dispatcher and, when configured, the
// publisher. Both paths are fire-and-forget with respect to job state.
func (r *Runner) emit(ctx context.Context, job studio.ScrapeJob, kind studio.EventKind, data map[string]any) {
	eventID, err := r.idGen.NewID()
	if err != nil {
		r.logger.Error("generate event id failed", zap.Error(err))
		return
	}
	event := studio.Event{
		ID:         eventID,
		Kind:       kind,
		UserID:     job.UserID,
		ProjectID:  job.ProjectID,
		JobID:      job.ID,
		Data:       data,
		OccurredAt: r.clock.Now(),
	}
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(ctx, event)
	}
	if r.publisher != nil && r.cfg.Topic != "" {
		if _, err := r.publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
			r.logger.Warn("publish event failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}
}

func deriveFinalStatus(counters studio.JobCounters) (studio.JobStatus, string) {
	succeeded := counters.TargetsDone - counters.TargetsFailed
	switch {
	case counters.TargetsTotal == 0:
		return studio.JobStatusFailed, "project has no active targets"
	case succeeded == 0:
		return studio.JobStatusFailed, "no targets succeeded"
	default:
		return studio.JobStatusCompleted, ""
	}
}
