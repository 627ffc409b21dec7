package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "jobs", crawler.JobEvent{JobID: "a", Status: crawler.JobStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "jobs", msgs[0].Topic)
	assert.Equal(t, "audit", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "jobs", pub.Messages()[0].Topic, "Messages returns a copy")

	jobs := pub.Topic("jobs")
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].(crawler.JobEvent).JobID)
}

func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "jobs", "x")
	require.ErrorIs(t, err, context.Canceled)
}
