// Package metrics registers the service's Prometheus collectors. Collectors
// are package-level and auto-registered on the default registry, which is
// what the /metrics endpoint serves.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_messages_posted_total",
		Help: "Messages accepted by POST, after conflict filtering.",
	})
	MessageConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_message_conflicts_total",
		Help: "Posted messages rejected as duplicates of a live message.",
	})
	MessagesClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_messages_claimed_total",
		Help: "Messages handed out under a claim.",
	})
	MessagesAcked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_messages_acked_total",
		Help: "Messages deleted by their claim holder.",
	})
	ClaimsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_claims_created_total",
		Help: "Claims successfully created with at least one message.",
	})
	ClaimsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_claims_released_total",
		Help: "Claims released before expiry.",
	})
	MessagesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_messages_reclaimed_total",
		Help: "Expired claim holds cleared by the reclaim pass.",
	})
	MessagesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marconi_messages_purged_total",
		Help: "End-of-life messages removed by the reclaim pass.",
	})

	ReclaimPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marconi_reclaim_pass_duration_seconds",
		Help:    "Wall time of one full reclaim pass across all projects.",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marconi_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	storageReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marconi_storage_read_duration_seconds",
		Help:    "Embedded store point-read latency.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
	})
	storageCommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marconi_storage_commit_duration_seconds",
		Help:    "Embedded store batch commit latency.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
	})
)

// StorageHook adapts the Prometheus collectors to the embedded store's
// observation interface.
type StorageHook struct{}

func (StorageHook) ObserveRead(elapsed time.Duration, _ int) {
	storageReadDuration.Observe(elapsed.Seconds())
}

func (StorageHook) ObserveBatchCommit(elapsed time.Duration, _ int) {
	storageCommitDuration.Observe(elapsed.Seconds())
}
