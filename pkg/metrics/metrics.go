package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_resolutions_total",
			Help: "Total number of cost lines resolved, by terminal status (count)",
		},
		[]string{"status", "source"},
	)

	ResolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_resolution_duration_ms",
			Help:    "Duration of resolving one shipment's cost lines in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"mode"},
	)

	LaneMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_lane_matches_total",
			Help: "Total number of lane match attempts, by outcome (count)",
		},
		[]string{"status"},
	)

	InvoiceDeltaTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_invoice_delta_total",
			Help: "Sum of the absolute delta between invoiced and expected amounts over resolved lines (currency units)",
		},
		[]string{"agreement_id"},
	)

	CatalogLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_loads_total",
			Help: "Total number of catalog loads from a backing store (count)",
		},
		[]string{"catalog", "status"},
	)

	CatalogLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_load_duration_ms",
			Help:    "Duration of catalog loads in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"catalog"},
	)

	CatalogCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_cache_agreements",
			Help: "Number of agreements held by the current run cache (count)",
		},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Total number of reconciliation runs (count)",
		},
		[]string{"mode"},
	)

	DedupMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_messages_total",
			Help: "Total number of cost lines checked for duplicates (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. Safe to
// call from each subcommand.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ResolutionsTotal,
			ResolutionDuration,
			LaneMatchesTotal,
			InvoiceDeltaTotal,
			CatalogLoadsTotal,
			CatalogLoadDuration,
			CatalogCacheSize,
			RunsTotal,
			DedupMessagesTotal,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
			FallbackUsageTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaMessageSizeBytes,
			KafkaConsumerLag,
			KafkaWriteDuration,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
		)
	})
}

func IncResolution(status, source string) {
	ResolutionsTotal.WithLabelValues(status, source).Inc()
}

func ObserveResolutionDuration(mode string, duration time.Duration) {
	ResolutionDuration.WithLabelValues(mode).Observe(float64(duration.Milliseconds()))
}

func IncLaneMatch(status string) {
	LaneMatchesTotal.WithLabelValues(status).Inc()
}

// AddInvoiceDelta records the delta of one resolved line. Counters only go
// up, so the absolute value is added.
func AddInvoiceDelta(agreementID string, delta float64) {
	if delta < 0 {
		delta = -delta
	}
	InvoiceDeltaTotal.WithLabelValues(agreementID).Add(delta)
}

func ObserveCatalogLoad(catalog, status string, duration time.Duration) {
	CatalogLoadsTotal.WithLabelValues(catalog, status).Inc()
	CatalogLoadDuration.WithLabelValues(catalog).Observe(float64(duration.Milliseconds()))
}

func SetCatalogCacheSize(size int) {
	CatalogCacheSize.Set(float64(size))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveDatabaseQuery(service, database, operation, status string, duration time.Duration) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
