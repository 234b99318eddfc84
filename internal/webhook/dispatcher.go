// Package webhook delivers job lifecycle events to subscriber endpoints with
// signed payloads, a durable delivery ledger, and bounded retry.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/metrics"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

const userAgent = "SentimatrixStudio/1.0"

// Store is the persistence surface the dispatcher needs.
type Store interface {
	studio.WebhookStore
	studio.DeliveryStore
}

// Dispatcher fans one event out to all matching webhooks and owns the retry
// sweep over the delivery ledger.
type Dispatcher struct {
	store   Store
	sink    studio.Sink
	clock   studio.Clock
	idGen   studio.IDGenerator
	backoff *BackoffPolicy
	logger  *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(
	store Store,
	sink studio.Sink,
	clock studio.Clock,
	idGen studio.IDGenerator,
	backoff *BackoffPolicy,
	logger *zap.Logger,
) *Dispatcher {
	if backoff == nil {
		backoff = NewBackoffPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		sink:    sink,
		clock:   clock,
		idGen:   idGen,
		backoff: backoff,
		logger:  logger,
	}
}

// envelope is the wire shape delivered to subscribers. The event ID is the
// dedupe key for at-least-once delivery.
type envelope struct {
	Event     string         `json:"event"`
	EventID   string         `json:"event_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Dispatch creates a ledger entry per matching webhook and attempts delivery
// once. Failed attempts are left for the retry sweep. Errors are absorbed and
// logged; dispatch never affects the caller's own state.
func (d *Dispatcher) Dispatch(ctx context.Context, event studio.Event) {
	webhooks, err := d.store.ListWebhooksForEvent(ctx, event.UserID, event.Kind)
	if err != nil {
		d.logger.Error("list webhooks failed",
			zap.String("event", string(event.Kind)),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	body, err := d.snapshot(event)
	if err != nil {
		d.logger.Error("snapshot event payload failed", zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	for _, hook := range webhooks {
		deliveryID, err := d.idGen.NewID()
		if err != nil {
			d.logger.Error("generate delivery id failed", zap.Error(err))
			continue
		}
		now := d.clock.Now()
		delivery := studio.WebhookDelivery{
			ID:        deliveryID,
			WebhookID: hook.ID,
			Event:     event.Kind,
			Payload:   body,
			Status:    studio.DeliveryStatusPending,
			NextRetry: &now,
			CreatedAt: now,
		}
		if err := d.store.CreateDelivery(ctx, delivery); err != nil {
			d.logger.Error("create delivery failed",
				zap.String("webhook_id", hook.ID),
				zap.Error(err),
			)
			continue
		}
		d.attempt(ctx, hook, delivery)
	}
}

// SweepDue retries deliveries whose next-retry time has arrived. A separate
// loop calls this periodically; attempts for the same delivery are safe to
// repeat.
func (d *Dispatcher) SweepDue(ctx context.Context, limit int) {
	due, err := d.store.ListDueDeliveries(ctx, d.clock.Now(), limit)
	if err != nil {
		d.logger.Error("list due deliveries failed", zap.Error(err))
		return
	}
	for _, delivery := range due {
		hook, err := d.store.GetWebhook(ctx, delivery.WebhookID)
		if err != nil {
			d.logger.Warn("webhook gone, exhausting delivery",
				zap.String("delivery_id", delivery.ID),
				zap.Error(err),
			)
			if err := d.store.MarkExhausted(ctx, delivery.ID, delivery.Attempts, 0, "webhook deleted"); err != nil {
				d.logger.Error("exhaust delivery failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
			}
			continue
		}
		if !hook.Enabled {
			continue
		}
		d.attempt(ctx, hook, delivery)
	}
}

// RunSweeper blocks, sweeping due deliveries on the given interval until the
// context finishes.
func (d *Dispatcher) RunSweeper(ctx context.Context, interval time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepDue(ctx, limit)
		}
	}
}

// TestResult reports the outcome of a manual webhook test.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Test posts a synthetic payload to the webhook without touching the ledger.
func (d *Dispatcher) Test(ctx context.Context, hook studio.Webhook) TestResult {
	body, err := json.Marshal(envelope{
		Event:     "test",
		EventID:   "test",
		Timestamp: d.clock.Now().Format(time.RFC3339),
		Data:      map[string]any{"test": true},
	})
	if err != nil {
		return TestResult{Error: err.Error()}
	}
	start := d.clock.Now()
	code, err := d.sink.Post(ctx, hook.URL, body, d.headers(hook, "test", "test"))
	result := TestResult{
		StatusCode: code,
		DurationMs: d.clock.Now().Sub(start).Milliseconds(),
		Success:    code >= 200 && code < 300,
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func (d *Dispatcher) snapshot(event studio.Event) ([]byte, error) {
	data := make(map[string]any, len(event.Data)+2)
	for k, v := range event.Data {
		data[k] = v
	}
	data["project_id"] = event.ProjectID
	data["job_id"] = event.JobID
	env := envelope{
		Event:     string(event.Kind),
		EventID:   event.ID,
		Timestamp: event.OccurredAt.UTC().Format(time.RFC3339),
		Data:      data,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event envelope: %w", err)
	}
	return body, nil
}

func (d *Dispatcher) headers(hook studio.Webhook, event, deliveryID string) http.Header {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", userAgent)
	headers.Set("X-Webhook-Event", event)
	headers.Set("X-Webhook-Delivery", deliveryID)
	for key, value := range hook.Headers {
		headers.Set(key, value)
	}
	return headers
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) attempt(ctx context.Context, hook studio.Webhook, delivery studio.WebhookDelivery) {
	headers := d.headers(hook, string(delivery.Event), delivery.ID)
	if hook.Secret != "" {
		headers.Set("X-Webhook-Signature", sign(delivery.Payload, hook.Secret))
	}

	code, postErr := d.sink.Post(ctx, hook.URL, delivery.Payload, headers)
	now := d.clock.Now()
	ok := postErr == nil && code >= 200 && code < 300

	if recErr := d.store.RecordWebhookStatus(ctx, hook.ID, code, ok, now); recErr != nil {
		d.logger.Error("record webhook status failed", zap.String("webhook_id", hook.ID), zap.Error(recErr))
	}

	if ok {
		metrics.DeliveryFinished("delivered")
		if err := d.store.MarkDelivered(ctx, delivery.ID, code); err != nil {
			d.logger.Error("mark delivered failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
		}
		d.logger.Info("webhook delivered",
			zap.String("delivery_id", delivery.ID),
			zap.String("url", hook.URL),
			zap.Int("status", code),
		)
		return
	}

	errText := fmt.Sprintf("status %d", code)
	if postErr != nil {
		errText = postErr.Error()
	}
	attempts := delivery.Attempts + 1
	if attempts >= d.backoff.MaxAttempts() {
		metrics.DeliveryFinished("exhausted")
		if err := d.store.MarkExhausted(ctx, delivery.ID, attempts, code, errText); err != nil {
			d.logger.Error("mark exhausted failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
		}
		d.logger.Warn("webhook delivery exhausted",
			zap.String("delivery_id", delivery.ID),
			zap.String("url", hook.URL),
			zap.Int("attempts", attempts),
		)
		return
	}

	metrics.DeliveryFinished("retried")
	nextRetry := now.Add(d.backoff.Next(attempts))
	if err := d.store.ScheduleRetry(ctx, delivery.ID, attempts, nextRetry, code, errText); err != nil {
		d.logger.Error("schedule retry failed", zap.String("delivery_id", delivery.ID), zap.Error(err))
	}
	d.logger.Warn("webhook delivery failed, retry scheduled",
		zap.String("delivery_id", delivery.ID),
		zap.String("url", hook.URL),
		zap.Int("attempt", attempts),
		zap.Time("next_retry", nextRetry),
	)
}
