// Package studio defines core types shared across subsystems.
package studio

import (
	"time"
)

// ProjectStatus represents the user-facing lifecycle state of a project.
type ProjectStatus string

// Project status values persisted in the document store.
const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusPaused    ProjectStatus = "paused"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusArchived  ProjectStatus = "archived"
)

// LockState marks whether a project currently owns a running job.
// Transitions happen only through conditional updates at the store level.
type LockState string

// Lock state values.
const (
	LockStateUnlocked LockState = "unlocked"
	LockStateRunning  LockState = "running-lock"
)

// Project is the root aggregate owning targets, schedule, jobs and results.
type Project struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Name          string        `json:"name"`
	Status        ProjectStatus `json:"status"`
	LockState     LockState     `json:"lock_state"`
	LastScrapedAt *time.Time    `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// TargetStatus represents the state of a single scrape target.
type TargetStatus string

// Target status values.
const (
	TargetStatusPending TargetStatus = "pending"
	TargetStatusActive  TargetStatus = "active"
	TargetStatusError   TargetStatus = "error"
)

// Target is one URL to be scraped, resolved to a platform.
type Target struct {
	ID            string       `json:"id"`
	ProjectID     string       `json:"project_id"`
	URL           string       `json:"url"`
	Platform      string       `json:"platform"`
	Status        TargetStatus `json:"status"`
	ErrorText     string       `json:"error_text,omitempty"`
	LastScrapedAt *time.Time   `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobTrigger records what started a job.
type JobTrigger string

// Job trigger values.
const (
	TriggerManual    JobTrigger = "manual"
	TriggerScheduled JobTrigger = "scheduled"
	TriggerAPI       JobTrigger = "api"
)

// JobCounters tracks per-job progress statistics.
type JobCounters struct {
	TargetsTotal   int `json:"targets_total"`
	TargetsDone    int `json:"targets_done"`
	TargetsFailed  int `json:"targets_failed"`
	ResultsScraped int `json:"results_scraped"`
}

// JobOptions captures per-job knobs requested by the caller.
type JobOptions struct {
	MaxResults int `json:"max_results"`
}

// ScrapeJob represents one execution of a project's scrape-and-analyze pipeline.
type ScrapeJob struct {
	ID              string      `json:"id"`
	ProjectID       string      `json:"project_id"`
	UserID          string      `json:"user_id"`
	Status          JobStatus   `json:"status"`
	Trigger         JobTrigger  `json:"trigger"`
	Progress        int         `json:"progress"`
	Options         JobOptions  `json:"options"`
	Counters        JobCounters `json:"counters"`
	CancelRequested bool        `json:"cancel_requested"`
	Submitted       time.Time   `json:"submitted_at"`
	Started         *time.Time  `json:"started_at,omitempty"`
	Finished        *time.Time  `json:"finished_at,omitempty"`
	ErrorText       string      `json:"error_text,omitempty"`
}

// ResultContent holds the raw scraped content of one item.
type ResultContent struct {
	Text   string     `json:"text"`
	Title  string     `json:"title,omitempty"`
	Rating float64    `json:"rating,omitempty"`
	Date   *time.Time `json:"date,omitempty"`
}

// Analysis holds the sentiment and emotion output for one item.
type Analysis struct {
	Sentiment  string             `json:"sentiment"`
	Confidence float64            `json:"confidence"`
	Emotions   map[string]float64 `json:"emotions,omitempty"`
}

// Result is one analyzed content item. Results are append-only: they are
// created by the job runner and never mutated afterwards.
type Result struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	TargetID  string        `json:"target_id"`
	JobID     string        `json:"job_id"`
	UserID    string        `json:"user_id"`
	Content   ResultContent `json:"content"`
	Analysis  Analysis      `json:"analysis"`
	Platform  string        `json:"platform"`
	CreatedAt time.Time     `json:"created_at"`
}

// ScheduleKind is the recurrence period of a schedule.
type ScheduleKind string

// Schedule kinds.
const (
	ScheduleHourly  ScheduleKind = "hourly"
	ScheduleDaily   ScheduleKind = "daily"
	ScheduleWeekly  ScheduleKind = "weekly"
	ScheduleMonthly ScheduleKind = "monthly"
)

// Schedule is the recurrence definition for a project. At most one schedule
// exists per project. NextRun is the only field the scheduler loop reads to
// decide eligibility; it is always stored in UTC.
type Schedule struct {
	ID                  string       `json:"id"`
	ProjectID           string       `json:"project_id"`
	UserID              string       `json:"user_id"`
	Enabled             bool         `json:"enabled"`
	Kind                ScheduleKind `json:"kind"`
	AnchorTime          string       `json:"anchor_time"` // "HH:MM" in the schedule's time zone
	DayOfWeek           *int         `json:"day_of_week,omitempty"`
	DayOfMonth          *int         `json:"day_of_month,omitempty"`
	Timezone            string       `json:"timezone"`
	MaxFailures         int          `json:"max_failures"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	NextRun             *time.Time   `json:"next_run,omitempty"`
	LastRun             *time.Time   `json:"last_run,omitempty"`
	DisabledReason      string       `json:"disabled_reason,omitempty"`
}

// EventKind identifies a webhook event type.
type EventKind string

// Event kinds emitted by the job runner.
const (
	EventScrapeStarted   EventKind = "scrape.started"
	EventScrapeCompleted EventKind = "scrape.completed"
	EventScrapeFailed    EventKind = "scrape.failed"
)

// Event is one job lifecycle occurrence delivered to subscribers. ID doubles
// as the dedupe key receivers are expected to use (delivery is at-least-once).
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	UserID     string         `json:"user_id"`
	ProjectID  string         `json:"project_id"`
	JobID      string         `json:"job_id"`
	Data       map[string]any `json:"data"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Webhook is one subscriber endpoint.
type Webhook struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id"`
	URL                 string            `json:"url"`
	Secret              string            `json:"-"`
	Events              []EventKind       `json:"events"`
	Enabled             bool              `json:"enabled"`
	Headers             map[string]string `json:"headers,omitempty"`
	LastStatus          int               `json:"last_status,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	CreatedAt           time.Time         `json:"created_at"`
}

// Subscribed reports whether the webhook wants the given event kind.
func (w Webhook) Subscribed(kind EventKind) bool {
	for _, e := range w.Events {
		if e == kind {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of one webhook delivery ledger entry.
type DeliveryStatus string

// Delivery status values.
const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// WebhookDelivery is one ledger entry recording a delivery and its retries.
// The payload is snapshotted at creation so later mutation of the source
// entities cannot change what subscribers receive.
type WebhookDelivery struct {
	ID           string         `json:"id"`
	WebhookID    string         `json:"webhook_id"`
	Event        EventKind      `json:"event"`
	Payload      []byte         `json:"payload"`
	Status       DeliveryStatus `json:"status"`
	Attempts     int            `json:"attempts"`
	NextRetry    *time.Time     `json:"next_retry,omitempty"`
	ResponseCode int            `json:"response_code,omitempty"`
	ErrorText    string         `json:"error_text,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// JobRequest is the unit of work handed from the scheduler to the runner pool.
type JobRequest struct {
	JobID     string
	ProjectID string
	UserID    string
	Submitted int64
}

// ContentItem is one raw item returned by a target resolver.
type ContentItem struct {
	Text   string
	Title  string
	Rating float64
	Date   *time.Time
}

// Resolution is the outcome of resolving a target URL.
type Resolution struct {
	Platform string
	Items    []ContentItem
}
