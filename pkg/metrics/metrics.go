package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simwatch_messages_consumed_total",
			Help: "Total number of deliveries processed by an agent (count)",
		},
		[]string{"agent", "type", "status"},
	)

	MessageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simwatch_message_processing_duration_ms",
			Help:    "Processing duration of one delivery, decode to ack, in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"agent", "type"},
	)

	MessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simwatch_messages_published_total",
			Help: "Total number of messages published (count)",
		},
		[]string{"exchange", "type", "status"},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simwatch_publish_duration_ms",
			Help:    "Duration of a confirmed publish in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"exchange"},
	)

	ConsumerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "simwatch_consumer_state",
			Help: "Current consumer state code (0=disconnected ... 9=reconnecting)",
		},
		[]string{"agent"},
	)

	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simwatch_consumer_reconnects_total",
			Help: "Total number of consumer reconnect attempts (count)",
		},
		[]string{"agent"},
	)

	DuplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simwatch_duplicates_total",
			Help: "Total number of duplicate deliveries skipped (count)",
		},
		[]string{"agent", "source"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simwatch_dlq_messages_total",
			Help: "Total number of messages sent to the dead-letter destination (count)",
		},
		[]string{"agent", "reason"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simwatch_retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	AlertsRaisedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simwatch_alerts_raised_total",
			Help: "Total number of operator alerts raised (count)",
		},
		[]string{"trigger"},
	)

	SpoolPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "simwatch_spool_pending",
			Help: "Number of publishes waiting in the local spool (count)",
		},
	)

	VocabularyTerms = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "simwatch_vocabulary_terms",
			Help: "Number of controlled-vocabulary terms loaded (count)",
		},
		[]string{"term_type"},
	)

	FeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "simwatch_feed_clients",
			Help: "Number of connected websocket feed clients (count)",
		},
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

var (
	agentOnce sync.Once
	apiOnce   sync.Once
	cbOnce    sync.Once
)

func RegisterAgentMetrics() {
	agentOnce.Do(func() {
		prometheus.MustRegister(MessagesConsumedTotal)
		prometheus.MustRegister(MessageProcessingDuration)
		prometheus.MustRegister(MessagesPublishedTotal)
		prometheus.MustRegister(PublishDuration)
		prometheus.MustRegister(ConsumerState)
		prometheus.MustRegister(ReconnectsTotal)
		prometheus.MustRegister(DuplicatesTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(AlertsRaisedTotal)
		prometheus.MustRegister(SpoolPending)
		prometheus.MustRegister(VocabularyTerms)
		prometheus.MustRegister(FallbackUsageTotal)
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func RegisterAPIMetrics() {
	apiOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(FeedClients)
	})
}

func RegisterCircuitBreakerMetrics() {
	cbOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func ObserveProcessing(agent, typ, status string, duration time.Duration) {
	MessagesConsumedTotal.WithLabelValues(agent, typ, status).Inc()
	MessageProcessingDuration.WithLabelValues(agent, typ).Observe(float64(duration.Milliseconds()))
}

func IncPublished(exchange, typ, status string) {
	MessagesPublishedTotal.WithLabelValues(exchange, typ, status).Inc()
}

func ObservePublishDuration(exchange string, duration time.Duration) {
	PublishDuration.WithLabelValues(exchange).Observe(float64(duration.Milliseconds()))
}

func SetConsumerState(agent string, code int) {
	ConsumerState.WithLabelValues(agent).Set(float64(code))
}

func IncReconnect(agent string) {
	ReconnectsTotal.WithLabelValues(agent).Inc()
}

func IncDuplicate(agent, source string) {
	DuplicatesTotal.WithLabelValues(agent, source).Inc()
}

func IncDLQ(agent, reason string) {
	DLQMessagesTotal.WithLabelValues(agent, reason).Inc()
}

func IncAlert(trigger string) {
	AlertsRaisedTotal.WithLabelValues(trigger).Inc()
}

func SetSpoolPending(n int) {
	SpoolPending.Set(float64(n))
}

func SetFeedClients(n int) {
	FeedClients.Set(float64(n))
}

func SetVocabularyTerms(termType string, n int) {
	VocabularyTerms.WithLabelValues(termType).Set(float64(n))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
