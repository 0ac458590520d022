// Package metrics provides Prometheus metrics for the Yarrow service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchJobsTotal tracks total match jobs by status
	MatchJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "matching",
			Name:      "jobs_total",
			Help:      "Total number of match jobs by status",
		},
		[]string{"account_id", "status"},
	)

	// MatchJobDuration tracks match job duration in seconds
	MatchJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yarrow",
			Subsystem: "matching",
			Name:      "job_duration_seconds",
			Help:      "Duration of match jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"account_id"},
	)

	// EventsMatchedTotal tracks events resolved per pass and outcome
	EventsMatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "matching",
			Name:      "events_total",
			Help:      "Total number of events resolved by pass and outcome",
		},
		[]string{"account_id", "pass", "outcome"},
	)

	// LeadsCreatedTotal tracks new leads minted by the ledger
	LeadsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "ledger",
			Name:      "leads_created_total",
			Help:      "Total number of leads created",
		},
		[]string{"account_id"},
	)

	// UsageLimitRejections tracks events rejected by the plan usage gate
	UsageLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "ledger",
			Name:      "usage_limit_rejections_total",
			Help:      "Total number of lead creations rejected by the usage limit",
		},
		[]string{"account_id"},
	)

	// AttributionRecomputes tracks attribution recomputations by mode
	AttributionRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "attribution",
			Name:      "recomputes_total",
			Help:      "Total number of attribution recomputations by mode and status",
		},
		[]string{"mode", "status"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "yarrow",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"account_id", "reason"},
	)

	// RateLimitHits tracks rate limit hits
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "ratelimit",
			Name:      "hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"account_id", "limit_name"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "yarrow",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// KafkaMessagesConsumed tracks Kafka messages consumed
	KafkaMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed from Kafka",
		},
		[]string{"topic", "status"},
	)

	// GraphSyncTotal tracks journey graph projections
	GraphSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yarrow",
			Subsystem: "graph",
			Name:      "syncs_total",
			Help:      "Total number of journey graph projections by status",
		},
		[]string{"status"},
	)

	// DatabaseQueryDuration tracks database query duration
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yarrow",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// RecordMatchJob records a match job completion metric
func RecordMatchJob(accountID, status string, durationSeconds float64) {
	MatchJobsTotal.WithLabelValues(accountID, status).Inc()
	MatchJobDuration.WithLabelValues(accountID).Observe(durationSeconds)
}

// RecordEventMatch records the resolution of a single event
func RecordEventMatch(accountID, pass, outcome string) {
	EventsMatchedTotal.WithLabelValues(accountID, pass, outcome).Inc()
}

// RecordLeadCreated records a new lead minted by the ledger
func RecordLeadCreated(accountID string) {
	LeadsCreatedTotal.WithLabelValues(accountID).Inc()
}

// RecordUsageLimitRejection records a lead creation rejected by the usage gate
func RecordUsageLimitRejection(accountID string) {
	UsageLimitRejections.WithLabelValues(accountID).Inc()
}

// RecordAttributionRecompute records an attribution recomputation
func RecordAttributionRecompute(mode, status string) {
	AttributionRecomputes.WithLabelValues(mode, status).Inc()
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(accountID, reason string) {
	DLQJobsTotal.WithLabelValues(accountID, reason).Inc()
}

// RecordRateLimitHit records a rate limit rejection
func RecordRateLimitHit(accountID, limitName string) {
	RateLimitHits.WithLabelValues(accountID, limitName).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}

// RecordKafkaConsume records a Kafka consume operation
func RecordKafkaConsume(topic, status string) {
	KafkaMessagesConsumed.WithLabelValues(topic, status).Inc()
}

// RecordGraphSync records a journey graph projection
func RecordGraphSync(status string) {
	GraphSyncTotal.WithLabelValues(status).Inc()
}
