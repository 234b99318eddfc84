// Package scheduler turns recurring schedules into one job execution at a
// time and accepts ad-hoc run requests from the API layer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/metrics"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/schedule"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

// ErrJobFinished is returned when cancelling a job that already reached a
// terminal state.
var ErrJobFinished = errors.New("job already finished")

// Enqueuer hands accepted jobs to the runner pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, req studio.JobRequest) error
}

// Store is the persistence surface the scheduler needs.
type Store interface {
	studio.ProjectStore
	studio.JobStore
	studio.ScheduleStore
}

// Config controls Scheduler behavior.
type Config struct {
	// Tick is the scan interval for due schedules.
	Tick time.Duration
	// DueLimit caps how many due schedules one tick processes.
	DueLimit int
	// MaxFailures disables a schedule after this many consecutive
	// scheduling failures (project gone, store errors). Job-level failures
	// do not count; those are the runner's concern.
	MaxFailures int
}

// Scheduler is the coordinating loop. Multiple process instances may run it
// concurrently: exclusivity comes entirely from the store's conditional
// update on the project lock, never from in-process state.
type Scheduler struct {
	store    Store
	enqueuer Enqueuer
	clock    studio.Clock
	idGen    studio.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(
	store Store,
	enqueuer Enqueuer,
	clock studio.Clock,
	idGen studio.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.DueLimit <= 0 {
		cfg.DueLimit = 100
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		enqueuer: enqueuer,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, scanning for due schedules every tick until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SchedulerTick()
			s.Scan(ctx)
		}
	}
}

// Scan processes every currently due schedule once. Failures are isolated
// per schedule; one broken project never stops the loop.
func (s *Scheduler) Scan(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.store.ListDueSchedules(ctx, now, s.cfg.DueLimit)
	if err != nil {
		s.logger.Error("list due schedules failed", zap.Error(err))
		return
	}
	for _, sched := range due {
		s.runSchedule(ctx, sched, now)
	}
}

func (s *Scheduler) runSchedule(ctx context.Context, sched studio.Schedule, now time.Time) {
	project, err := s.store.GetProject(ctx, sched.ProjectID)
	if err != nil {
		s.recordFailure(ctx, sched, fmt.Errorf("load project: %w", err))
		return
	}

	// A paused project keeps its schedule and resumes when reactivated;
	// archived and completed projects have theirs disabled.
	if project.Status != studio.ProjectStatusActive {
		if project.Status != studio.ProjectStatusPaused {
			if err := s.store.DisableSchedule(ctx, sched.ID, "project is "+string(project.Status)); err != nil {
				s.logger.Error("disable schedule failed", zap.String("schedule_id", sched.ID), zap.Error(err))
			}
		}
		return
	}

	acquired, err := s.store.AcquireProjectLock(ctx, sched.ProjectID)
	if err != nil {
		s.recordFailure(ctx, sched, fmt.Errorf("acquire lock: %w", err))
		return
	}
	if !acquired {
		// Expected contention: a job is already in flight. Skip this tick;
		// the schedule stays due and is retried once the lock frees up.
		metrics.LockContention()
		s.logger.Debug("project locked, skipping scheduled run",
			zap.String("project_id", sched.ProjectID),
		)
		return
	}

	// next_run is recomputed from now and persisted before the job starts,
	// so a run longer than the period cannot produce a catch-up storm, and
	// downtime yields exactly one run per missed schedule.
	next, err := schedule.NextRun(sched, now)
	if err != nil {
		s.logger.Error("schedule config invalid, disabling",
			zap.String("schedule_id", sched.ID),
			zap.Error(err),
		)
		if derr := s.store.DisableSchedule(ctx, sched.ID, err.Error()); derr != nil {
			s.logger.Error("disable schedule failed", zap.String("schedule_id", sched.ID), zap.Error(derr))
		}
		s.release(ctx, sched.ProjectID)
		return
	}
	if err := s.store.MarkScheduleRun(ctx, sched.ID, now, next); err != nil {
		s.recordFailure(ctx, sched, fmt.Errorf("mark schedule run: %w", err))
		s.release(ctx, sched.ProjectID)
		return
	}

	jobID, err := s.createAndEnqueue(ctx, project, studio.TriggerScheduled, studio.JobOptions{})
	if err != nil {
		s.recordFailure(ctx, sched, err)
		s.release(ctx, sched.ProjectID)
		return
	}

	if err := s.store.ResetScheduleFailures(ctx, sched.ID); err != nil {
		s.logger.Warn("reset schedule failures failed", zap.String("schedule_id", sched.ID), zap.Error(err))
	}
	s.logger.Info("scheduled job created",
		zap.String("schedule_id", sched.ID),
		zap.String("project_id", sched.ProjectID),
		zap.String("job_id", jobID),
		zap.Time("next_run", next),
	)
}

// TriggerRun starts a job outside the schedule. It goes through the same
// lock-acquire step, so manual and scheduled runs never race.
func (s *Scheduler) TriggerRun(
	ctx context.Context,
	projectID string,
	trigger studio.JobTrigger,
	opts studio.JobOptions,
) (string, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project: %w", err)
	}
	acquired, err := s.store.AcquireProjectLock(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		metrics.LockContention()
		return "", studio.ErrProjectBusy
	}
	if trigger == "" {
		trigger = studio.TriggerManual
	}
	jobID, err := s.createAndEnqueue(ctx, project, trigger, opts)
	if err != nil {
		s.release(ctx, projectID)
		return "", err
	}
	return jobID, nil
}

// CancelJob flags a pending or running job for cancellation. The runner
// honors the flag between target iterations.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) error {
	ok, err := s.store.RequestCancel(ctx, jobID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if !ok {
		return ErrJobFinished
	}
	return nil
}

// GetJob returns the current job document.
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (studio.ScrapeJob, error) {
	return s.store.GetJob(ctx, jobID)
}

// UpsertSchedule validates and persists a project's schedule, computing its
// initial next_run. Invalid specs are rejected with a *studio.ConfigError.
func (s *Scheduler) UpsertSchedule(ctx context.Context, sched studio.Schedule) (studio.Schedule, error) {
	now := s.clock.Now()
	next, err := schedule.NextRun(sched, now)
	if err != nil {
		return studio.Schedule{}, err
	}
	if sched.ID == "" {
		id, err := s.idGen.NewID()
		if err != nil {
			return studio.Schedule{}, fmt.Errorf("generate schedule id: %w", err)
		}
		sched.ID = id
	}
	if sched.Enabled {
		sched.NextRun = &next
	} else {
		sched.NextRun = nil
	}
	sched.DisabledReason = ""
	stored, err := s.store.UpsertSchedule(ctx, sched)
	if err != nil {
		return studio.Schedule{}, fmt.Errorf("upsert schedule: %w", err)
	}
	return stored, nil
}

func (s *Scheduler) createAndEnqueue(
	ctx context.Context,
	project studio.Project,
	trigger studio.JobTrigger,
	opts studio.JobOptions,
) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := studio.ScrapeJob{
		ID:        jobID,
		ProjectID: project.ID,
		UserID:    project.UserID,
		Status:    studio.JobStatusPending,
		Trigger:   trigger,
		Options:   opts,
		Submitted: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	req := studio.JobRequest{
		JobID:     jobID,
		ProjectID: project.ID,
		UserID:    project.UserID,
		Submitted: now.Unix(),
	}
	if err := s.enqueuer.Enqueue(ctx, req); err != nil {
		// The job never reached the pool; fail it so the lock does not
		// appear owned by a phantom run.
		if _, terr := s.store.TransitionJob(
			ctx, jobID,
			[]studio.JobStatus{studio.JobStatusPending},
			studio.JobStatusFailed,
			fmt.Sprintf("enqueue: %v", err),
			studio.JobCounters{},
		); terr != nil {
			s.logger.Error("fail unenqueued job failed", zap.String("job_id", jobID), zap.Error(terr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Scheduler) release(ctx context.Context, projectID string) {
	if err := s.store.ReleaseProjectLock(ctx, projectID, nil); err != nil {
		s.logger.Error("release project lock failed", zap.String("project_id", projectID), zap.Error(err))
	}
}

func (s *Scheduler) recordFailure(ctx context.Context, sched studio.Schedule, cause error) {
	s.logger.Error("schedule execution failed",
		zap.String("schedule_id", sched.ID),
		zap.String("project_id", sched.ProjectID),
		zap.Error(cause),
	)
	count, err := s.store.RecordScheduleFailure(ctx, sched.ID)
	if err != nil {
		s.logger.Error("record schedule failure failed", zap.String("schedule_id", sched.ID), zap.Error(err))
		return
	}
	if count >= s.cfg.MaxFailures {
		reason := fmt.Sprintf("disabled after %d consecutive failures: %v", count, cause)
		if err := s.store.DisableSchedule(ctx, sched.ID, reason); err != nil {
			s.logger.Error("disable schedule failed", zap.String("schedule_id", sched.ID), zap.Error(err))
		}
	}
}
