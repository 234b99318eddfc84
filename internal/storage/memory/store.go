// Package memory provides an in-memory document store for development and
// testing. Conditional updates use the same compare-and-swap semantics as the
// Postgres implementation, so concurrency invariants can be exercised without
// a database.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

// Store implements studio.Store with map-backed collections.
type Store struct {
	mu         sync.RWMutex
	projects   map[string]studio.Project
	targets    map[string]studio.Target
	jobs       map[string]studio.ScrapeJob
	results    map[string][]studio.Result // keyed by job ID
	schedules  map[string]studio.Schedule // keyed by schedule ID
	webhooks   map[string]studio.Webhook
	deliveries map[string]studio.WebhookDelivery
	seq        int64
	targetSeq  map[string]int64 // insertion order per target ID
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		projects:   make(map[string]studio.Project),
		targets:    make(map[string]studio.Target),
		jobs:       make(map[string]studio.ScrapeJob),
		results:    make(map[string][]studio.Result),
		schedules:  make(map[string]studio.Schedule),
		webhooks:   make(map[string]studio.Webhook),
		deliveries: make(map[string]studio.WebhookDelivery),
		targetSeq:  make(map[string]int64),
	}
}

// PutProject seeds or replaces a project. Used by tests and the dev CRUD layer.
func (s *Store) PutProject(project studio.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.LockState == "" {
		project.LockState = studio.LockStateUnlocked
	}
	s.projects[project.ID] = project
}

// PutTarget seeds or replaces a target, preserving insertion order.
func (s *Store) PutTarget(target studio.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.targetSeq[target.ID]; !seen {
		s.seq++
		s.targetSeq[target.ID] = s.seq
	}
	s.targets[target.ID] = target
}

// PutWebhook seeds or replaces a webhook subscription.
func (s *Store) PutWebhook(webhook studio.Webhook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[webhook.ID] = webhook
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(_ context.Context, projectID string) (studio.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[projectID]
	if !ok {
		return studio.Project{}, studio.ErrNotFound
	}
	return project, nil
}

// AcquireProjectLock flips the lock field from unlocked to running-lock.
func (s *Store) AcquireProjectLock(_ context.Context, projectID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		return false, studio.ErrNotFound
	}
	if project.LockState != studio.LockStateUnlocked {
		return false, nil
	}
	project.LockState = studio.LockStateRunning
	s.projects[projectID] = project
	return true, nil
}

// ReleaseProjectLock unlocks the project and stamps the last-scrape time.
func (s *Store) ReleaseProjectLock(_ context.Context, projectID string, lastScraped *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.projects[projectID]
	if !ok {
		return studio.ErrNotFound
	}
	project.LockState = studio.LockStateUnlocked
	if lastScraped != nil {
		ts := lastScraped.UTC()
		project.LastScrapedAt = &ts
	}
	s.projects[projectID] = project
	return nil
}

// ListActiveTargets returns the project's non-errored targets in insertion order.
func (s *Store) ListActiveTargets(_ context.Context, projectID string) ([]studio.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var targets []studio.Target
	for _, target := range s.targets {
		if target.ProjectID == projectID && target.Status != studio.TargetStatusError {
			targets = append(targets, target)
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		return s.targetSeq[targets[i].ID] < s.targetSeq[targets[j].ID]
	})
	return targets, nil
}

// UpdateTargetStatus updates a target's status, error text and scrape stamp.
func (s *Store) UpdateTargetStatus(
	_ context.Context,
	targetID string,
	status studio.TargetStatus,
	errText string,
	scrapedAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[targetID]
	if !ok {
		return studio.ErrNotFound
	}
	target.Status = status
	target.ErrorText = errText
	if scrapedAt != nil {
		ts := scrapedAt.UTC()
		target.LastScrapedAt = &ts
	}
	s.targets[targetID] = target
	return nil
}

// GetTarget fetches a target by ID. Used by tests.
func (s *Store) GetTarget(targetID string) (studio.Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.targets[targetID]
	return target, ok
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job studio.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (studio.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return studio.ScrapeJob{}, studio.ErrNotFound
	}
	return job, nil
}

// TransitionJob conditionally moves a job between states. Terminal states
// never match from, so they reject all further writes.
func (s *Store) TransitionJob(
	_ context.Context,
	jobID string,
	from []studio.JobStatus,
	to studio.JobStatus,
	errText string,
	counters studio.JobCounters,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, studio.ErrNotFound
	}
	matched := false
	for _, status := range from {
		if job.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = to
	job.ErrorText = errText
	job.Counters = counters
	if to == studio.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if to.Terminal() {
		job.Finished = pointerTime(now)
		if counters.TargetsTotal > 0 {
			job.Progress = counters.TargetsDone * 100 / counters.TargetsTotal
		}
	}
	s.jobs[jobID] = job
	return true, nil
}

// UpdateJobProgress persists progress for a running job only.
func (s *Store) UpdateJobProgress(
	_ context.Context,
	jobID string,
	progress int,
	counters studio.JobCounters,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, studio.ErrNotFound
	}
	if job.Status != studio.JobStatusRunning {
		return false, nil
	}
	job.Progress = progress
	job.Counters = counters
	s.jobs[jobID] = job
	return true, nil
}

// RequestCancel flags a pending or running job for cancellation.
func (s *Store) RequestCancel(_ context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, studio.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job.CancelRequested = true
	s.jobs[jobID] = job
	return true, nil
}

// ListStaleRunning returns running jobs that started before the cutoff.
func (s *Store) ListStaleRunning(_ context.Context, cutoff time.Time) ([]studio.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []studio.ScrapeJob
	for _, job := range s.jobs {
		if job.Status == studio.JobStatusRunning && job.Started != nil && job.Started.Before(cutoff) {
			stale = append(stale, job)
		}
	}
	return stale, nil
}

// CreateResult appends an analyzed result for a job.
func (s *Store) CreateResult(_ context.Context, result studio.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.JobID] = append(s.results[result.JobID], result)
	return nil
}

// ListResults returns all results recorded for a job. Used by tests.
func (s *Store) ListResults(jobID string) []studio.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := s.results[jobID]
	out := make([]studio.Result, len(results))
	copy(out, results)
	return out
}

// GetSchedule fetches the schedule for a project.
func (s *Store) GetSchedule(_ context.Context, projectID string) (studio.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sched := range s.schedules {
		if sched.ProjectID == projectID {
			return sched, nil
		}
	}
	return studio.Schedule{}, studio.ErrNotFound
}

// UpsertSchedule creates or replaces the single schedule for a project.
func (s *Store) UpsertSchedule(_ context.Context, schedule studio.Schedule) (studio.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.schedules {
		if existing.ProjectID == schedule.ProjectID {
			schedule.ID = id
			s.schedules[id] = schedule
			return schedule, nil
		}
	}
	s.schedules[schedule.ID] = schedule
	return schedule, nil
}

// ListDueSchedules returns enabled schedules with next_run at or before now.
func (s *Store) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]studio.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []studio.Schedule
	for _, sched := range s.schedules {
		if !sched.Enabled || sched.NextRun == nil {
			continue
		}
		if !sched.NextRun.After(now) {
			due = append(due, sched)
		}
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

// MarkScheduleRun stamps last_run and persists the recomputed next_run.
func (s *Store) MarkScheduleRun(_ context.Context, scheduleID string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return studio.ErrNotFound
	}
	last := lastRun.UTC()
	next := nextRun.UTC()
	sched.LastRun = &last
	sched.NextRun = &next
	s.schedules[scheduleID] = sched
	return nil
}

// RecordScheduleFailure increments the consecutive failure counter.
func (s *Store) RecordScheduleFailure(_ context.Context, scheduleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return 0, studio.ErrNotFound
	}
	sched.ConsecutiveFailures++
	s.schedules[scheduleID] = sched
	return sched.ConsecutiveFailures, nil
}

// ResetScheduleFailures zeroes the consecutive failure counter.
func (s *Store) ResetScheduleFailures(_ context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return studio.ErrNotFound
	}
	sched.ConsecutiveFailures = 0
	s.schedules[scheduleID] = sched
	return nil
}

// DisableSchedule turns a schedule off and records why.
func (s *Store) DisableSchedule(_ context.Context, scheduleID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[scheduleID]
	if !ok {
		return studio.ErrNotFound
	}
	sched.Enabled = false
	sched.NextRun = nil
	sched.DisabledReason = reason
	s.schedules[scheduleID] = sched
	return nil
}

// GetWebhook fetches a webhook subscription by ID.
func (s *Store) GetWebhook(_ context.Context, webhookID string) (studio.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	webhook, ok := s.webhooks[webhookID]
	if !ok {
		return studio.Webhook{}, studio.ErrNotFound
	}
	return webhook, nil
}

// ListWebhooksForEvent returns enabled webhooks subscribed to the event kind.
func (s *Store) ListWebhooksForEvent(_ context.Context, userID string, kind studio.EventKind) ([]studio.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []studio.Webhook
	for _, webhook := range s.webhooks {
		if webhook.UserID == userID && webhook.Enabled && webhook.Subscribed(kind) {
			matched = append(matched, webhook)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

// RecordWebhookStatus updates delivery bookkeeping on the subscription.
func (s *Store) RecordWebhookStatus(_ context.Context, webhookID string, statusCode int, ok bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, exists := s.webhooks[webhookID]
	if !exists {
		return studio.ErrNotFound
	}
	webhook.LastStatus = statusCode
	if ok {
		webhook.ConsecutiveFailures = 0
	} else {
		webhook.ConsecutiveFailures++
	}
	s.webhooks[webhookID] = webhook
	return nil
}

// CreateDelivery appends a new ledger entry.
func (s *Store) CreateDelivery(_ context.Context, delivery studio.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[delivery.ID] = delivery
	return nil
}

// GetDelivery fetches a ledger entry by ID.
func (s *Store) GetDelivery(_ context.Context, deliveryID string) (studio.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	delivery, ok := s.deliveries[deliveryID]
	if !ok {
		return studio.WebhookDelivery{}, studio.ErrNotFound
	}
	return delivery, nil
}

// ListDueDeliveries returns retryable deliveries whose next retry is due.
func (s *Store) ListDueDeliveries(_ context.Context, now time.Time, limit int) ([]studio.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []studio.WebhookDelivery
	for _, delivery := range s.deliveries {
		if delivery.Status != studio.DeliveryStatusPending && delivery.Status != studio.DeliveryStatusFailed {
			continue
		}
		if delivery.NextRetry == nil || delivery.NextRetry.After(now) {
			continue
		}
		due = append(due, delivery)
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

// MarkDelivered finalizes a successful delivery.
func (s *Store) MarkDelivered(_ context.Context, deliveryID string, statusCode int) error {
	return s.updateDelivery(deliveryID, func(d *studio.WebhookDelivery) {
		d.Status = studio.DeliveryStatusDelivered
		d.Attempts++
		d.ResponseCode = statusCode
		d.NextRetry = nil
		d.ErrorText = ""
	})
}

// ScheduleRetry records a failed attempt and when to try again.
func (s *Store) ScheduleRetry(
	_ context.Context,
	deliveryID string,
	attempts int,
	nextRetry time.Time,
	statusCode int,
	errText string,
) error {
	return s.updateDelivery(deliveryID, func(d *studio.WebhookDelivery) {
		d.Status = studio.DeliveryStatusFailed
		d.Attempts = attempts
		retry := nextRetry.UTC()
		d.NextRetry = &retry
		d.ResponseCode = statusCode
		d.ErrorText = errText
	})
}

// MarkExhausted finalizes a delivery after the attempt cap is reached.
func (s *Store) MarkExhausted(_ context.Context, deliveryID string, attempts int, statusCode int, errText string) error {
	return s.updateDelivery(deliveryID, func(d *studio.WebhookDelivery) {
		d.Status = studio.DeliveryStatusExhausted
		d.Attempts = attempts
		d.NextRetry = nil
		d.ResponseCode = statusCode
		d.ErrorText = errText
	})
}

func (s *Store) updateDelivery(deliveryID string, apply func(*studio.WebhookDelivery)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delivery, ok := s.deliveries[deliveryID]
	if !ok {
		return studio.ErrNotFound
	}
	// Exhausted and delivered entries are final.
	if delivery.Status == studio.DeliveryStatusExhausted || delivery.Status == studio.DeliveryStatusDelivered {
		return nil
	}
	apply(&delivery)
	s.deliveries[deliveryID] = delivery
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
