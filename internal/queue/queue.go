package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// TopicCampaignNotifications carries JSON encoded notification intents.
const TopicCampaignNotifications = "campaign_notifications"

// Handler processes one message body. Returning an error asks the queue to
// redeliver, where the implementation supports it.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Subscribe(topic string, handler Handler) error
}

// InMemoryQueue delivers each message to every subscriber on its own
// goroutine and retries failed handlers with exponential backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	jobs       sync.WaitGroup
	log        *zap.Logger
	maxRetries uint64
	retryDelay time.Duration
}

func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		log:        log,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
}

// WithRetry overrides the redelivery policy.
func (q *InMemoryQueue) WithRetry(maxRetries uint64, delay time.Duration) *InMemoryQueue {
	q.maxRetries = maxRetries
	q.retryDelay = delay
	return q
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(_ context.Context, topic string, body []byte) error {
	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.jobs.Add(1)
		go q.processJob(topic, handler, body)
	}
	return nil
}

// processJob handles retries and errors. Messages outlive the publishing
// request, so the handler gets a fresh context.
func (q *InMemoryQueue) processJob(topic string, handler Handler, body []byte) {
	defer q.jobs.Done()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = q.retryDelay
	policy := backoff.WithMaxRetries(eb, q.maxRetries)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := handler(context.Background(), body)
		if err != nil {
			q.log.Warn("job failed",
				zap.String("topic", topic),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, policy)
	if err != nil {
		q.log.Error("job permanently failed", zap.String("topic", topic), zap.Int("attempts", attempt), zap.Error(err))
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published message has been handled.
func (q *InMemoryQueue) Wait() {
	q.jobs.Wait()
}
