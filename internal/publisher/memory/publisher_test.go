package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Siddharth-magesh/Sentimatrix-Studio-sub002/internal/studio"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	evt := studio.Event{
		ID:         "evt-1",
		Kind:       studio.EventScrapeCompleted,
		ProjectID:  "proj-1",
		JobID:      "job-1",
		OccurredAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	id1, err := pub.Publish(context.Background(), "studio-events", evt)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "studio-audit", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "studio-events", msgs[0].Topic)
	require.Equal(t, "studio-audit", msgs[1].Topic)
	require.Equal(t, evt, msgs[0].Payload)

	// Messages() hands back a copy; mutating it must not leak into the publisher.
	msgs[0].Topic = "modified"
	require.Equal(t, "studio-events", pub.Messages()[0].Topic)
}
