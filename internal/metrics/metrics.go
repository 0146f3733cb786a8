package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Rabbit consumer
	rabbitProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbit_messages_processed_total",
			Help: "Total number of acknowledged messages by queue and outcome class.",
		},
		[]string{"queue", "outcome"},
	)
	rabbitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbit_messages_rejected_total",
			Help: "Total number of rejected (dead-lettered) messages by queue.",
		},
		[]string{"queue"},
	)
	rabbitErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbit_errors_total",
			Help: "Total number of broker-related errors.",
		},
		[]string{"component", "operation"},
	)
	handleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rabbit_handle_duration_seconds",
			Help:    "Time spent handling a single message.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// Dedup / reconciler
	dedupDuplicates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_dedup_duplicates_total",
			Help: "Total number of redelivered events suppressed by the dedup store.",
		},
		[]string{"consumer"},
	)
	cacheRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_rows_written_total",
			Help: "Total number of cache row mutations by entity and action.",
		},
		[]string{"entity", "action"},
	)

	// Business
	reviewsModerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviews_moderated_total",
			Help: "Total number of moderation verdicts by label.",
		},
		[]string{"label"},
	)
	reviewStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reviews_status_count",
			Help: "Current count of reviews rows by status.",
		},
		[]string{"status"},
	)

	// Outbox
	outboxStatusCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_events_count",
			Help: "Current count of outbox events by status.",
		},
		[]string{"status"},
	)
	outboxSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_events_sent_total",
			Help: "Total number of outbox events marked as sent.",
		},
	)
	outboxRetryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_retries_total",
			Help: "Total number of outbox delivery retries (failed attempts).",
		},
	)
	outboxProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_processing_duration_seconds",
			Help:    "Time spent delivering a single outbox event (seconds).",
			Buckets: prometheus.DefBuckets,
		},
	)
	outboxLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_lag_seconds",
			Help:    "Lag between outbox event creation and delivery attempt (seconds).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	outboxPendingCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_count",
			Help: "Current number of pending outbox events.",
		},
	)

	// Redis
	redisRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Total number of redis operations.",
		},
		[]string{"operation"},
	)
	redisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of redis operation errors.",
		},
		[]string{"operation"},
	)
	redisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			rabbitProcessed,
			rabbitRejected,
			rabbitErrors,
			handleDuration,

			dedupDuplicates,
			cacheRows,

			reviewsModerated,
			reviewStatus,

			outboxStatusCount,
			outboxSentTotal,
			outboxRetryTotal,
			outboxProcessingDuration,
			outboxLagSeconds,
			outboxPendingCount,

			redisRequests,
			redisErrors,
			redisDuration,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// --- Rabbit ---
func IncRabbitProcessed(queue, outcome string) {
	rabbitProcessed.WithLabelValues(queue, outcome).Inc()
}
func IncRabbitRejected(queue string) { rabbitRejected.WithLabelValues(queue).Inc() }
func IncRabbitError(component, operation string) {
	rabbitErrors.WithLabelValues(component, operation).Inc()
}
func ObserveHandleDuration(queue string, d time.Duration) {
	handleDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// --- Dedup / reconciler ---
func IncDedupDuplicate(consumer string) { dedupDuplicates.WithLabelValues(consumer).Inc() }
func IncCacheRow(entity, action string) { cacheRows.WithLabelValues(entity, action).Inc() }

// --- Business ---
func IncReviewModerated(label string) { reviewsModerated.WithLabelValues(label).Inc() }

// --- Outbox ---
func IncOutboxSent()  { outboxSentTotal.Inc() }
func IncOutboxRetry() { outboxRetryTotal.Inc() }
func ObserveOutboxProcessing(d time.Duration) {
	outboxProcessingDuration.Observe(d.Seconds())
}
func ObserveOutboxLagSeconds(sec float64) {
	if sec < 0 {
		sec = 0
	}
	outboxLagSeconds.Observe(sec)
}

// --- Redis ---
func IncRedisRequest(op string) { redisRequests.WithLabelValues(op).Inc() }
func IncRedisError(op string)   { redisErrors.WithLabelValues(op).Inc() }
func ObserveRedisDuration(op string, d time.Duration) {
	redisDuration.WithLabelValues(op).Observe(d.Seconds())
}

// --- Gauges (DB collectors) ---
func SetReviewStatusCount(status string, count int64) {
	if count < 0 {
		count = 0
	}
	reviewStatus.WithLabelValues(status).Set(float64(count))
}
func SetOutboxStatusCount(status string, count int64) {
	if count < 0 {
		count = 0
	}
	outboxStatusCount.WithLabelValues(status).Set(float64(count))
}
func SetOutboxPendingCount(count int64) {
	if count < 0 {
		count = 0
	}
	outboxPendingCount.Set(float64(count))
}

func fmtInt(v int64) string { return strconv.FormatInt(v, 10) }
