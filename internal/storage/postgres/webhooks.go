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

const webhookColumns = `
	id, user_id, url, secret, events, enabled, headers,
	last_status, consecutive_failures, created_at
`

func scanWebhook(row pgx.Row) (studio.Webhook, error) {
	var (
		hook        studio.Webhook
		eventsJSON  []byte
		headersJSON []byte
	)
	err := row.Scan(
		&hook.ID, &hook.UserID, &hook.URL, &hook.Secret, &eventsJSON, &hook.Enabled,
		&headersJSON, &hook.LastStatus, &hook.ConsecutiveFailures, &hook.CreatedAt,
	)
	if err != nil {
		return studio.Webhook{}, err
	}
	if len(eventsJSON) > 0 {
		if err := json.Unmarshal(eventsJSON, &hook.Events); err != nil {
			return studio.Webhook{}, fmt.Errorf("decode webhook events: %w", err)
		}
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &hook.Headers); err != nil {
			return studio.Webhook{}, fmt.Errorf("decode webhook headers: %w", err)
		}
	}
	return hook, nil
}

// GetWebhook fetches a webhook subscription by ID.
func (s *Store) GetWebhook(ctx context.Context, webhookID string) (studio.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = $1;`
	hook, err := scanWebhook(s.pool.QueryRow(ctx, query, webhookID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return studio.Webhook{}, studio.ErrNotFound
		}
		return studio.Webhook{}, fmt.Errorf("get webhook: %w", err)
	}
	return hook, nil
}

// ListWebhooksForEvent returns the user's enabled webhooks subscribed to the
// event kind. Events are stored as a JSONB array of kind strings.
func (s *Store) ListWebhooksForEvent(
	ctx context.Context,
	userID string,
	kind studio.EventKind,
) ([]studio.Webhook, error) {
	query := `
		SELECT ` + webhookColumns + `
		FROM webhooks
		WHERE user_id = $1 AND enabled AND events @> $2
		ORDER BY id;
	`
	kindJSON, err := json.Marshal([]studio.EventKind{kind})
	if err != nil {
		return nil, fmt.Errorf("marshal event kind: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, userID, kindJSON)
	if err != nil {
		return nil, fmt.Errorf("list webhooks for event: %w", err)
	}
	defer rows.Close()

	var hooks []studio.Webhook
	for rows.Next() {
		hook, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook row: %w", err)
		}
		hooks = append(hooks, hook)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook rows: %w", err)
	}
	return hooks, nil
}

// RecordWebhookStatus updates delivery bookkeeping on the subscription.
func (s *Store) RecordWebhookStatus(ctx context.Context, webhookID string, statusCode int, ok bool, at time.Time) error {
	query := `
		UPDATE webhooks
		SET last_status = $1,
			consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures + 1 END,
			last_attempt_at = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, statusCode, ok, at, webhookID)
	if err != nil {
		return fmt.Errorf("record webhook status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return studio.ErrNotFound
	}
	return nil
}

const deliveryColumns = `
	id, webhook_id, event, payload, status, attempts,
	next_retry, response_code, error_text, created_at
`

func scanDelivery(row pgx.Row) (studio.WebhookDelivery, error) {
	var (
		d             studio.WebhookDelivery
		event, status string
	)
	err := row.Scan(
		&d.ID, &d.WebhookID, &event, &d.Payload, &status, &d.Attempts,
		&d.NextRetry, &d.ResponseCode, &d.ErrorText, &d.CreatedAt,
	)
	if err != nil {
		return studio.WebhookDelivery{}, err
	}
	d.Event = studio.EventKind(event)
	d.Status = studio.DeliveryStatus(status)
	return d, nil
}

// CreateDelivery appends a new ledger entry.
func (s *Store) CreateDelivery(ctx context.Context, delivery studio.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);
	`
	_, err := s.pool.Exec(ctx, query,
		delivery.ID, delivery.WebhookID, string(delivery.Event), delivery.Payload,
		string(delivery.Status), delivery.Attempts,
		delivery.NextRetry, delivery.ResponseCode, delivery.ErrorText, delivery.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// GetDelivery fetches a ledger entry by ID.
func (s *Store) GetDelivery(ctx context.Context, deliveryID string) (studio.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1;`
	delivery, err := scanDelivery(s.pool.QueryRow(ctx, query, deliveryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return studio.WebhookDelivery{}, studio.ErrNotFound
		}
		return studio.WebhookDelivery{}, fmt.Errorf("get delivery: %w", err)
	}
	return delivery, nil
}

// ListDueDeliveries returns retryable deliveries whose next retry is due.
func (s *Store) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]studio.WebhookDelivery, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status = ANY($1) AND next_retry IS NOT NULL AND next_retry <= $2
		ORDER BY next_retry
		LIMIT $3;
	`
	rows, err := s.pool.Query(ctx, query, []string{
		string(studio.DeliveryStatusPending), string(studio.DeliveryStatusFailed),
	}, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	defer rows.Close()

	var due []studio.WebhookDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		due = append(due, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return due, nil
}

// retryableStates guard every delivery update: delivered and exhausted
// entries are final.
var retryableStates = []string{
	string(studio.DeliveryStatusPending),
	string(studio.DeliveryStatusFailed),
}

// MarkDelivered finalizes a successful delivery.
func (s *Store) MarkDelivered(ctx context.Context, deliveryID string, statusCode int) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $1, attempts = attempts + 1, response_code = $2,
			next_retry = NULL, error_text = ''
		WHERE id = $3 AND status = ANY($4);
	`
	_, err := s.pool.Exec(ctx, query, string(studio.DeliveryStatusDelivered), statusCode, deliveryID, retryableStates)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// ScheduleRetry records a failed attempt and when to try again.
func (s *Store) ScheduleRetry(
	ctx context.Context,
	deliveryID string,
	attempts int,
	nextRetry time.Time,
	statusCode int,
	errText string,
) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $1, attempts = $2, next_retry = $3, response_code = $4, error_text = $5
		WHERE id = $6 AND status = ANY($7);
	`
	_, err := s.pool.Exec(ctx, query,
		string(studio.DeliveryStatusFailed), attempts, nextRetry, statusCode, errText,
		deliveryID, retryableStates,
	)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// MarkExhausted finalizes a delivery after the attempt cap is reached.
func (s *Store) MarkExhausted(ctx context.Context, deliveryID string, attempts int, statusCode int, errText string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = $1, attempts = $2, next_retry = NULL, response_code = $3, error_text = $4
		WHERE id = $5 AND status = ANY($6);
	`
	_, err := s.pool.Exec(ctx, query,
		string(studio.DeliveryStatusExhausted), attempts, statusCode, errText,
		deliveryID, retryableStates,
	)
	if err != nil {
		return fmt.Errorf("mark exhausted: %w", err)
	}
	return nil
}
