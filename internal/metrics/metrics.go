package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	IngestRuns           prometheus.Counter
	MessagesProcessed    prometheus.Counter
	DuplicatesSkipped    prometheus.Counter
	SubscriptionsCreated prometheus.Counter
	ClassificationErrors prometheus.Counter
	AccountsSkipped      prometheus.Counter
	WatchRenewals        prometheus.Counter
	WatchRenewalFailures prometheus.Counter
	WebhooksReceived     prometheus.Counter
	WebhooksRejected     prometheus.Counter
	IngestDuration       prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		IngestRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_ingest_runs_total",
			Help: "Total number of ingestion runs across all trigger modes",
		}),
		MessagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_messages_processed_total",
			Help: "Total number of messages classified and recorded in the ledger",
		}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_duplicates_skipped_total",
			Help: "Total number of messages skipped because they were already processed",
		}),
		SubscriptionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_subscriptions_created_total",
			Help: "Total number of subscription records materialized",
		}),
		ClassificationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_classification_errors_total",
			Help: "Total number of failed classification calls",
		}),
		AccountsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_accounts_skipped_total",
			Help: "Total number of runs skipped because no usable token was available",
		}),
		WatchRenewals: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_watch_renewals_total",
			Help: "Total number of successful inbox watch renewals",
		}),
		WatchRenewalFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_watch_renewal_failures_total",
			Help: "Total number of failed inbox watch renewals",
		}),
		WebhooksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_webhooks_received_total",
			Help: "Total number of notification callbacks accepted",
		}),
		WebhooksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "subscout_webhooks_rejected_total",
			Help: "Total number of notification callbacks rejected for a bad token",
		}),
		IngestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "subscout_ingest_duration_seconds",
			Help:    "Time spent on a single ingestion run",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
