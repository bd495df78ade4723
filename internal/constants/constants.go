package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup = "simwatch:dedup:"
)

const (
	DefaultMongoDBName = "simwatch"
)

const (
	ShutdownTimeout = 5 * time.Second
	// ConsumerStopTimeout bounds how long Stop waits for the in-flight
	// delivery to finish before the channel is torn down.
	ConsumerStopTimeout = 30 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultTTLSeconds = 86400
)

const (
	FallbackAllow  = "allow"
	FallbackReject = "reject"
)

const (
	VocabularySourceNone    = "none"
	VocabularySourceFile    = "file"
	VocabularySourceMongoDB = "mongodb"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
)

const (
	AgentMonitoring  = "monitoring"
	AgentConso       = "conso"
	AgentSupervision = "supervision"
	AgentAlert       = "alert"
	AgentCV          = "cv"
	AgentFrontEnd    = "fe"
)

const (
	AlertJobError          = "job-error"
	AlertJobLate           = "job-late"
	AlertConsoNewAlloc     = "conso-new-allocation"
	AlertConsoThreshold    = "conso-threshold"
	AlertPostProcessingErr = "post-processing-error"
)

const (
	FeedSimulationStart = "simulation_start"
	FeedSimulationEnd   = "simulation_end"
	FeedJobStart        = "job_start"
	FeedJobEnd          = "job_end"
	FeedJobError        = "job_error"
	FeedJobLate         = "job_late"
)
