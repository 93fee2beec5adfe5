package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixIdempotency = "idem:"
)

const (
	DefaultRawTopic    = "payments.raw"
	DefaultCdmTopic    = "payments.cdm"
	DefaultBatchTopic  = "payments.batch"
	DefaultResultTopic = "payments.persistence.results"
)

const (
	DefaultMongoDBName     = "paypersist"
	BatchAuditCollection   = "batch_audit"
	ServiceNamePersistence = "persistence-service"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultTTLSeconds    = 86400
	DefaultMaxBatchItems = 1000
)

const (
	BatchModePerItem = "per_item"
	BatchModeBulk    = "bulk"
)

const (
	StoreReceived = "received"
	StoreCDM      = "cdm"
)
