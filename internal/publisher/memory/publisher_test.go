package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nested-link-crawler/internal/crawler"
)

func TestPublisherRecordsByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	event := crawler.CompletionEvent{JobID: "job-1", Status: crawler.JobStatusDone}

	id1, err := pub.Publish(ctx, "crawl-complete", event)
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	all := pub.Messages()
	require.Len(t, all, 2)
	require.Equal(t, "crawl-complete", all[0].Topic)
	require.Equal(t, event, all[0].Payload)

	completed := pub.Topic("crawl-complete")
	require.Len(t, completed, 1)
	require.Equal(t, id1, completed[0].ID)
	require.Empty(t, pub.Topic("unknown"))

	all[0].Topic = "modified"
	require.Equal(t, "crawl-complete", pub.Messages()[0].Topic)
}

func TestPublisherRejectsEmptyTopicAndCanceledContext(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "x")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "t", "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, pub.Messages())
}
