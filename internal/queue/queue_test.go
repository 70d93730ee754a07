package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/reach-backend/internal/queue"
)

func TestInMemoryQueueRetriesUntilSuccess(t *testing.T) {
	q := queue.NewInMemoryQueue(zaptest.NewLogger(t)).WithRetry(3, time.Millisecond)

	var calls atomic.Int32
	var body atomic.Value
	require.NoError(t, q.Subscribe("jobs", func(_ context.Context, b []byte) error {
		if calls.Add(1) < 3 {
			return errors.New("not yet")
		}
		body.Store(string(b))
		return nil
	}))

	require.NoError(t, q.Publish(context.Background(), "jobs", []byte("payload")))
	q.Wait()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "payload", body.Load())
}

func TestInMemoryQueueGivesUp(t *testing.T) {
	q := queue.NewInMemoryQueue(zaptest.NewLogger(t)).WithRetry(2, time.Millisecond)

	var calls atomic.Int32
	require.NoError(t, q.Subscribe("jobs", func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("always")
	}))

	require.NoError(t, q.Publish(context.Background(), "jobs", nil))
	q.Wait()
	assert.Equal(t, int32(3), calls.Load())
}

func TestInMemoryQueueFansOut(t *testing.T) {
	q := queue.NewInMemoryQueue(zaptest.NewLogger(t))

	var calls atomic.Int32
	handler := func(context.Context, []byte) error {
		calls.Add(1)
		return nil
	}
	require.NoError(t, q.Subscribe("jobs", handler))
	require.NoError(t, q.Subscribe("jobs", handler))

	require.NoError(t, q.Publish(context.Background(), "jobs", nil))
	q.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestInMemoryQueueWithoutSubscribers(t *testing.T) {
	q := queue.NewInMemoryQueue(zaptest.NewLogger(t))
	assert.Error(t, q.Publish(context.Background(), queue.TopicCampaignNotifications, []byte("{}")))
}
