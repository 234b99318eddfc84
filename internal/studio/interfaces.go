package studio

import (
	"context"
	"net/http"
	"time"
)

// ProjectStore persists projects and owns the per-project execution lock.
// Lock ownership is proven only by a successful conditional update, never
// assumed from a prior read.
type ProjectStore interface {
	GetProject(ctx context.Context, projectID string) (Project, error)
	// AcquireProjectLock atomically flips the lock field from unlocked to
	// running-lock. It returns false without error when the project is
	// already locked.
	AcquireProjectLock(ctx context.Context, projectID string) (bool, error)
	// ReleaseProjectLock unconditionally unlocks the project and stamps the
	// last-scrape time when lastScraped is non-nil.
	ReleaseProjectLock(ctx context.Context, projectID string, lastScraped *time.Time) error
}

// TargetStore persists targets.
type TargetStore interface {
	// ListActiveTargets returns the project's non-errored targets in
	// insertion order.
	ListActiveTargets(ctx context.Context, projectID string) ([]Target, error)
	UpdateTargetStatus(ctx context.Context, targetID string, status TargetStatus, errText string, scrapedAt *time.Time) error
}

// JobStore persists scrape jobs. All status mutations go through TransitionJob
// so that terminal states reject further writes.
type JobStore interface {
	CreateJob(ctx context.Context, job ScrapeJob) error
	GetJob(ctx context.Context, jobID string) (ScrapeJob, error)
	// TransitionJob conditionally moves the job from one of the given states
	// to the target state, persisting counters and error text. It returns
	// false without error when the current status is not in from.
	TransitionJob(ctx context.Context, jobID string, from []JobStatus, to JobStatus, errText string, counters JobCounters) (bool, error)
	// UpdateJobProgress persists progress and counters for a running job.
	// It returns false when the job is no longer running.
	UpdateJobProgress(ctx context.Context, jobID string, progress int, counters JobCounters) (bool, error)
	// RequestCancel flags a pending or running job for cancellation. The
	// runner honors the flag between target iterations.
	RequestCancel(ctx context.Context, jobID string) (bool, error)
	// ListStaleRunning returns running jobs that started before the cutoff.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]ScrapeJob, error)
}

// ResultStore appends analyzed results. Results are never updated.
type ResultStore interface {
	CreateResult(ctx context.Context, result Result) error
}

// ScheduleStore persists schedules.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, projectID string) (Schedule, error)
	UpsertSchedule(ctx context.Context, schedule Schedule) (Schedule, error)
	// ListDueSchedules returns enabled schedules with next_run <= now.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]Schedule, error)
	// MarkScheduleRun stamps last_run and persists the recomputed next_run.
	MarkScheduleRun(ctx context.Context, scheduleID string, lastRun, nextRun time.Time) error
	// RecordScheduleFailure increments the consecutive failure counter and
	// returns the new count.
	RecordScheduleFailure(ctx context.Context, scheduleID string) (int, error)
	ResetScheduleFailures(ctx context.Context, scheduleID string) error
	DisableSchedule(ctx context.Context, scheduleID string, reason string) error
}

// WebhookStore persists webhook subscriptions.
type WebhookStore interface {
	GetWebhook(ctx context.Context, webhookID string) (Webhook, error)
	// ListWebhooksForEvent returns the user's enabled webhooks subscribed to
	// the given event kind.
	ListWebhooksForEvent(ctx context.Context, userID string, kind EventKind) ([]Webhook, error)
	// RecordWebhookStatus updates delivery bookkeeping on the subscription.
	RecordWebhookStatus(ctx context.Context, webhookID string, statusCode int, ok bool, at time.Time) error
}

// DeliveryStore is the durable webhook delivery ledger.
type DeliveryStore interface {
	CreateDelivery(ctx context.Context, delivery WebhookDelivery) error
	GetDelivery(ctx context.Context, deliveryID string) (WebhookDelivery, error)
	// ListDueDeliveries returns pending/failed deliveries whose next retry
	// is at or before now.
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error)
	MarkDelivered(ctx context.Context, deliveryID string, statusCode int) error
	// ScheduleRetry records a failed attempt and its next retry time.
	ScheduleRetry(ctx context.Context, deliveryID string, attempts int, nextRetry time.Time, statusCode int, errText string) error
	// MarkExhausted finalizes a delivery after the attempt cap is reached.
	MarkExhausted(ctx context.Context, deliveryID string, attempts int, statusCode int, errText string) error
}

// Store aggregates every persistence concern backed by the document store.
type Store interface {
	ProjectStore
	TargetStore
	JobStore
	ResultStore
	ScheduleStore
	WebhookStore
	DeliveryStore
}

// Resolver turns a target URL into a platform identifier plus raw content
// items. Platform-specific scraping lives behind this boundary.
type Resolver interface {
	Resolve(ctx context.Context, url string) (Resolution, error)
}

// Analyzer returns sentiment and emotion output for raw text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// Sink posts a webhook body and returns the response status code.
type Sink interface {
	Post(ctx context.Context, url string, body []byte, headers http.Header) (int, error)
}

// Queue provides enqueue/dequeue semantics for job hand-off.
type Queue interface {
	Enqueue(ctx context.Context, req JobRequest) error
	Dequeue(ctx context.Context) (JobRequest, error)
}

// Publisher mirrors job lifecycle events onto a message topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
