package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_writes_total",
			Help: "Total number of single-record writes by store, operation and status (count)",
		},
		[]string{"store", "operation", "status"},
	)

	StoreWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_write_duration_ms",
			Help:    "Duration of single-record writes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"store", "operation"},
	)

	StoreLookupMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_lookup_misses_total",
			Help: "Total number of updates that found no record and fell back to create (count)",
		},
		[]string{"store"},
	)

	ExtractionIssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_issues_total",
			Help: "Total number of payloads whose field extraction reported problems (count)",
		},
		[]string{"store"},
	)

	BatchItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_items_total",
			Help: "Total number of batch items processed by target, mode and result (count)",
		},
		[]string{"target", "mode", "result"},
	)

	BatchOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_outcomes_total",
			Help: "Total number of batches by target, mode and overall status (count)",
		},
		[]string{"target", "mode", "status"},
	)

	BatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_duration_ms",
			Help:    "Duration of batch writes in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"target", "mode"},
	)

	IdempotencyLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotency_lookups_total",
			Help: "Total number of idempotency key lookups by result (count)",
		},
		[]string{"result"},
	)

	AuditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Total number of batch audit records written (count)",
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

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections (count)",
		},
		[]string{"service", "database"},
	)
)

var (
	persistenceOnce    sync.Once
	brokerOnce         sync.Once
	circuitBreakerOnce sync.Once
	httpOnce           sync.Once
)

func RegisterPersistenceMetrics() {
	persistenceOnce.Do(func() {
		prometheus.MustRegister(StoreWritesTotal)
		prometheus.MustRegister(StoreWriteDuration)
		prometheus.MustRegister(StoreLookupMissesTotal)
		prometheus.MustRegister(ExtractionIssuesTotal)
		prometheus.MustRegister(BatchItemsTotal)
		prometheus.MustRegister(BatchOutcomesTotal)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(IdempotencyLookupsTotal)
		prometheus.MustRegister(AuditRecordsTotal)
		prometheus.MustRegister(FallbackUsageTotal)
		prometheus.MustRegister(DatabaseConnectionsActive)
	})
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(KafkaMessagesReadTotal)
		prometheus.MustRegister(KafkaMessagesWrittenTotal)
		prometheus.MustRegister(KafkaMessageSizeBytes)
		prometheus.MustRegister(KafkaWriteDuration)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterHTTPMetrics() {
	httpOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func ObserveStoreWrite(store, operation, status string, duration time.Duration) {
	StoreWritesTotal.WithLabelValues(store, operation, status).Inc()
	StoreWriteDuration.WithLabelValues(store, operation).Observe(float64(duration.Milliseconds()))
}

func IncLookupMiss(store string) {
	StoreLookupMissesTotal.WithLabelValues(store).Inc()
}

func IncExtractionIssue(store string) {
	ExtractionIssuesTotal.WithLabelValues(store).Inc()
}

func AddBatchItems(target, mode string, succeeded, failed int) {
	BatchItemsTotal.WithLabelValues(target, mode, "success").Add(float64(succeeded))
	BatchItemsTotal.WithLabelValues(target, mode, "failure").Add(float64(failed))
}

func ObserveBatch(target, mode, status string, duration time.Duration) {
	BatchOutcomesTotal.WithLabelValues(target, mode, status).Inc()
	BatchDuration.WithLabelValues(target, mode).Observe(float64(duration.Milliseconds()))
}

func IncIdempotencyLookup(result string) {
	IdempotencyLookupsTotal.WithLabelValues(result).Inc()
}

func IncAuditRecord(status string) {
	AuditRecordsTotal.WithLabelValues(status).Inc()
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

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func SetDatabaseConnectionsActive(service, database string, count int) {
	DatabaseConnectionsActive.WithLabelValues(service, database).Set(float64(count))
}
