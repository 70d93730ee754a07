package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_reconcile_total",
			Help: "Reconciliations by outcome (committed, conflict, error)",
		},
		[]string{"outcome"},
	)

	ReconcileRecipients = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_reconcile_recipients_total",
			Help: "Recipients per reconciliation bucket (inserted, preserved, dropped)",
		},
		[]string{"bucket"},
	)

	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_notification_deliveries_total",
			Help: "Notification sends by channel and result",
		},
		[]string{"channel", "result"},
	)

	NotificationDeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reach_notification_delivery_failures_total",
			Help: "Failed notification sends by channel",
		},
		[]string{"channel"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reach_dispatch_duration_seconds",
			Help:    "Time to deliver one notification batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	UnnotifiedPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reach_unnotified_pending_records",
			Help: "Pending response records without a notification-sent marker",
		},
	)

	ProofRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reach_proof_repairs_total",
			Help: "Response records seeded from the proof store",
		},
	)
)
