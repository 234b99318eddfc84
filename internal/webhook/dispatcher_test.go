package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	storagememory "github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/storage/memory"
	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

type movingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

func newDispatcher(t *testing.T, store Store) (*Dispatcher, *movingClock) {
	t.Helper()
	clock := &movingClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	d := NewDispatcher(
		store,
		NewHTTPSink(5*time.Second),
		clock,
		&seqIDGen{},
		NewBackoffPolicy(5, 30*time.Second, 30*time.Minute),
		zap.NewNop(),
	)
	return d, clock
}

func sampleEvent() studio.Event {
	return studio.Event{
		ID:        "evt-1",
		Kind:      studio.EventScrapeCompleted,
		UserID:    "user-1",
		ProjectID: "proj-1",
		JobID:     "job-1",
		Data: map[string]any{
			"targets_total":   3,
			"results_scraped": 9,
		},
		OccurredAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatchSignsAndDelivers(t *testing.T) {
	t.Parallel()
	store := storagememory.NewStore()

	type received struct {
		body    []byte
		headers http.Header
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, headers: r.Header.Clone()}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store.PutWebhook(studio.Webhook{
		ID:      "hook-1",
		UserID:  "user-1",
		URL:     srv.URL,
		Secret:  "topsecret",
		Events:  []studio.EventKind{studio.EventScrapeCompleted},
		Enabled: true,
		Headers: map[string]string{"X-Custom": "yes"},
	})

	d, _ := newDispatcher(t, store)
	d.Dispatch(context.Background(), sampleEvent())

	rec := <-got
	require.Equal(t, "application/json", rec.headers.Get("Content-Type"))
	require.Equal(t, "SentimatrixStudio/1.0", rec.headers.Get("User-Agent"))
	require.Equal(t, "scrape.completed", rec.headers.Get("X-Webhook-Event"))
	require.Equal(t, "yes", rec.headers.Get("X-Custom"))
	require.NotEmpty(t, rec.headers.Get("X-Webhook-Delivery"))

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(rec.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	require.Equal(t, want, rec.headers.Get("X-Webhook-Signature"))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.body, &env))
	require.Equal(t, "scrape.completed", env.Event)
	require.Equal(t, "evt-1", env.EventID)
	require.Equal(t, "proj-1", env.Data["project_id"])
	require.Equal(t, "job-1", env.Data["job_id"])

	deliveryID := rec.headers.Get("X-Webhook-Delivery")
	delivery, err := store.GetDelivery(context.Background(), deliveryID)
	require.NoError(t, err)
	require.Equal(t, studio.DeliveryStatusDelivered, delivery.Status)
	require.Equal(t, 1, delivery.Attempts)
	require.Equal(t, http.StatusOK, delivery.ResponseCode)
}

func TestDispatchSkipsUnsubscribedWebhooks(t *testing.T) {
	t.Parallel()
	store := storagememory.NewStore()
	store.PutWebhook(studio.Webhook{
		ID:      "hook-1",
		UserID:  "user-1",
		URL:     "http://127.0.0.1:1", // would fail if contacted
		Events:  []studio.EventKind{studio.EventScrapeFailed},
		Enabled: true,
	})

	d, clock := newDispatcher(t, store)
	d.Dispatch(context.Background(), sampleEvent())

	due, err := store.ListDueDeliveries(context.Background(), clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestRetriesStopAtAttemptCap(t *testing.T) {
	t.Parallel()
	store := storagememory.NewStore()

	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store.PutWebhook(studio.Webhook{
		ID:      "hook-1",
		UserID:  "user-1",
		URL:     srv.URL,
		Events:  []studio.EventKind{studio.EventScrapeCompleted},
		Enabled: true,
	})

	d, clock := newDispatcher(t, store)
	d.Dispatch(context.Background(), sampleEvent())

	// Sweep well past every possible backoff until nothing is due.
	for i := 0; i < 10; i++ {
		clock.Advance(time.Hour)
		d.SweepDue(context.Background(), 10)
	}

	mu.Lock()
	total := attempts
	mu.Unlock()
	require.Equal(t, 5, total)

	due, err := store.ListDueDeliveries(context.Background(), clock.Now(), 10)
	require.NoError(t, err)
	require.Empty(t, due)

	delivery, err := store.GetDelivery(context.Background(), "id-1")
	require.NoError(t, err)
	require.Equal(t, studio.DeliveryStatusExhausted, delivery.Status)
	require.Equal(t, 5, delivery.Attempts)
	require.Nil(t, delivery.NextRetry)

	hook, err := store.GetWebhook(context.Background(), "hook-1")
	require.NoError(t, err)
	require.Equal(t, 5, hook.ConsecutiveFailures)
	require.Equal(t, http.StatusInternalServerError, hook.LastStatus)
}

func TestSweepRecoversAfterEndpointHeals(t *testing.T) {
	t.Parallel()
	store := storagememory.NewStore()

	var mu sync.Mutex
	failFirst := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		fail := failFirst
		failFirst = false
		mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store.PutWebhook(studio.Webhook{
		ID:      "hook-1",
		UserID:  "user-1",
		URL:     srv.URL,
		Events:  []studio.EventKind{studio.EventScrapeCompleted},
		Enabled: true,
	})

	d, clock := newDispatcher(t, store)
	d.Dispatch(context.Background(), sampleEvent())

	delivery, err := store.GetDelivery(context.Background(), "id-1")
	require.NoError(t, err)
	require.Equal(t, studio.DeliveryStatusFailed, delivery.Status)
	require.Equal(t, 1, delivery.Attempts)
	require.NotNil(t, delivery.NextRetry)

	clock.Advance(time.Hour)
	d.SweepDue(context.Background(), 10)

	delivery, err = store.GetDelivery(context.Background(), "id-1")
	require.NoError(t, err)
	require.Equal(t, studio.DeliveryStatusDelivered, delivery.Status)
	require.Equal(t, 2, delivery.Attempts)

	hook, err := store.GetWebhook(context.Background(), "hook-1")
	require.NoError(t, err)
	require.Zero(t, hook.ConsecutiveFailures)
}

func TestSweepExhaustsDeletedWebhook(t *testing.T) {
	t.Parallel()
	store := storagememory.NewStore()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateDelivery(context.Background(), studio.WebhookDelivery{
		ID:        "del-1",
		WebhookID: "gone",
		Event:     studio.EventScrapeCompleted,
		Payload:   []byte("{}"),
		Status:    studio.DeliveryStatusFailed,
		Attempts:  2,
		NextRetry: &now,
		CreatedAt: now,
	}))

	d, clock := newDispatcher(t, store)
	clock.Advance(time.Minute)
	d.SweepDue(context.Background(), 10)

	delivery, err := store.GetDelivery(context.Background(), "del-1")
	require.NoError(t, err)
	require.Equal(t, studio.DeliveryStatusExhausted, delivery.Status)
	require.Equal(t, "webhook deleted", delivery.ErrorText)
}

func TestTestPostsWithoutLedgerEntry(t *testing.T) {
	t.Parallel()
	store := storagememory.NewStore()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test", r.Header.Get("X-Webhook-Event"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := studio.Webhook{ID: "hook-1", UserID: "user-1", URL: srv.URL, Enabled: true}
	d, clock := newDispatcher(t, store)
	result := d.Test(context.Background(), hook)

	require.True(t, result.Success)
	require.Equal(t, http.StatusNoContent, result.StatusCode)

	due, err := store.ListDueDeliveries(context.Background(), clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()
	p := NewBackoffPolicy(5, 30*time.Second, 30*time.Minute)
	prevMin := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Next(attempt)
		expected := time.Duration(float64(30*time.Second) * float64(int(1)<<(attempt-1)))
		if expected > 30*time.Minute {
			expected = 30 * time.Minute
		}
		require.GreaterOrEqual(t, d, expected/2, "attempt %d", attempt)
		require.LessOrEqual(t, d, expected, "attempt %d", attempt)
		require.GreaterOrEqual(t, d, prevMin, "attempt %d", attempt)
		prevMin = expected / 2
	}
}
