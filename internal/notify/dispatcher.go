// Package notify delivers new-campaign notifications. Delivery is at most once:
// nothing here retries a send.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/reach-backend/internal/metrics"
	"github.com/unclebandit/reach-backend/internal/model"
	"github.com/unclebandit/reach-backend/internal/queue"
)

type RecipientLookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.Recipient, error)
}

type DeliveryLedger interface {
	MarkNotified(ctx context.Context, campaignID int64, recipientID string, at time.Time) error
}

// Dispatcher publishes notification intents to a queue and, as that queue's
// subscriber, fans deliveries out over a bounded pool. A nil channel sender
// disables the channel.
type Dispatcher struct {
	Queue       queue.Queue
	Directory   RecipientLookup
	Ledger      DeliveryLedger
	Email       Sender
	WhatsApp    Sender
	Workers     int
	SendTimeout time.Duration
	Log         *zap.Logger
}

// DeliveryReport lists recipients by outcome, each sorted.
type DeliveryReport struct {
	Notified []string
	Failed   []string
	Unknown  []string
}

// Dispatch enqueues intent. It does not wait for delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, intent model.NotificationIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	return d.Queue.Publish(ctx, queue.TopicCampaignNotifications, body)
}

// Start subscribes the dispatcher to the notification topic.
func (d *Dispatcher) Start() error {
	return d.Queue.Subscribe(queue.TopicCampaignNotifications, d.Handle)
}

// Handle is the queue handler. It only returns an error before any send has
// happened, so a redelivery cannot notify anyone twice.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var intent model.NotificationIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		d.Log.Error("dropping undecodable notification intent", zap.Error(err))
		return nil
	}
	_, err := d.Deliver(ctx, intent)
	return err
}

func (d *Dispatcher) Deliver(ctx context.Context, intent model.NotificationIntent) (*DeliveryReport, error) {
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	recipients, err := d.Directory.GetByIDs(ctx, intent.RecipientIDs)
	if err != nil {
		return nil, fmt.Errorf("load recipients for batch %s: %w", intent.BatchID, err)
	}

	report := &DeliveryReport{Notified: []string{}, Failed: []string{}, Unknown: []string{}}
	found := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		found[r.ID] = struct{}{}
	}
	for _, id := range intent.RecipientIDs {
		if _, ok := found[id]; !ok {
			report.Unknown = append(report.Unknown, id)
		}
	}

	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(workers)
	for _, r := range recipients {
		r := r
		g.Go(func() error {
			ok := d.deliverOne(ctx, intent, r)
			mu.Lock()
			if ok {
				report.Notified = append(report.Notified, r.ID)
			} else {
				report.Failed = append(report.Failed, r.ID)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Notified)
	sort.Strings(report.Failed)
	sort.Strings(report.Unknown)

	d.Log.Info("notification batch delivered",
		zap.String("batch_id", intent.BatchID),
		zap.Int64("campaign_id", intent.CampaignID),
		zap.Int("notified", len(report.Notified)),
		zap.Int("failed", len(report.Failed)),
		zap.Strings("unknown", report.Unknown),
		zap.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

// deliverOne tries every channel the recipient has an address for. Channel
// failures are independent; the result is true when any channel succeeded.
func (d *Dispatcher) deliverOne(ctx context.Context, intent model.NotificationIntent, r model.Recipient) bool {
	sendCtx := ctx
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.SendTimeout)
		defer cancel()
	}

	params := map[string]string{
		ParamSubject:  intent.Content.Subject,
		ParamBody:     intent.Content.Body,
		"name":        r.Name,
		"campaign_id": strconv.FormatInt(intent.CampaignID, 10),
	}

	// channels run in parallel; a stalled provider must not eat the other's deadline
	var emailOK, whatsAppOK bool
	var wg sync.WaitGroup
	if d.Email != nil && r.Email != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emailOK = d.send(sendCtx, d.Email, model.ChannelEmail, r, r.Email, intent, params)
		}()
	}
	if d.WhatsApp != nil && r.Phone != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			whatsAppOK = d.send(sendCtx, d.WhatsApp, model.ChannelWhatsApp, r, r.Phone, intent, params)
		}()
	}
	wg.Wait()
	if !emailOK && !whatsAppOK {
		return false
	}

	if err := d.Ledger.MarkNotified(ctx, intent.CampaignID, r.ID, time.Now()); err != nil {
		d.Log.Error("failed to mark recipient notified",
			zap.Int64("campaign_id", intent.CampaignID),
			zap.String("recipient_id", r.ID),
			zap.Error(err),
		)
	}
	return true
}

func (d *Dispatcher) send(ctx context.Context, s Sender, channel model.Channel, r model.Recipient, to string, intent model.NotificationIntent, params map[string]string) bool {
	err := s.Send(ctx, channel, to, intent.Content.TemplateID, params)
	if err != nil {
		metrics.NotificationDeliveries.WithLabelValues(string(channel), "failed").Inc()
		metrics.NotificationDeliveryFailures.WithLabelValues(string(channel)).Inc()
		d.Log.Warn("notification send failed",
			zap.String("channel", string(channel)),
			zap.Int64("campaign_id", intent.CampaignID),
			zap.String("recipient_id", r.ID),
			zap.String("batch_id", intent.BatchID),
			zap.Error(err),
		)
		return false
	}
	metrics.NotificationDeliveries.WithLabelValues(string(channel), "sent").Inc()
	return true
}
