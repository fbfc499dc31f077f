package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsInOrder(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "fetch-results", map[string]string{"request_id": "r1"})
	require.NoError(t, err)
	id2, err := pub.Publish(ctx, "audit", "r2")
	require.NoError(t, err)
	id3, err := pub.Publish(ctx, "fetch-results", "r3")
	require.NoError(t, err)

	require.Equal(t, "fetch-results-1", id1)
	require.Equal(t, "audit-2", id2)
	require.Equal(t, "fetch-results-3", id3)
	require.Len(t, pub.Messages(), 3)
	require.Equal(t, []any{map[string]string{"request_id": "r1"}, "r3"}, pub.Topic("fetch-results"))
	require.Empty(t, pub.Topic("unknown"))
}

func TestPublisherMessagesIsACopy(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "fetch-results", "r1")
	require.NoError(t, err)

	msgs := pub.Messages()
	msgs[0].Topic = "changed"
	require.Equal(t, "fetch-results", pub.Messages()[0].Topic)
}

func TestPublisherRejects(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "r1")
	require.ErrorIs(t, err, ErrEmptyTopic)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "fetch-results", "r1")
	require.ErrorIs(t, err, context.Canceled)

	unavailable := errors.New("unavailable")
	pub.FailWith(unavailable)
	_, err = pub.Publish(context.Background(), "fetch-results", "r1")
	require.ErrorIs(t, err, unavailable)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "fetch-results", "r1")
	require.NoError(t, err)
}
