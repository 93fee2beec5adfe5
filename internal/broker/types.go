package broker

import (
	"context"
	"time"
)

// Message is a consumed record with its Kafka coordinates and string headers.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

type Producer interface {
	// Publish JSON-encodes value and writes it to topic under key.
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	// Consume blocks reading topic until ctx is done.
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg Message) error

// DeadLetter is what lands on the DLQ topic when a message exhausts its retries.
type DeadLetter struct {
	SourceTopic string            `json:"source_topic"`
	Partition   int               `json:"partition"`
	Offset      int64             `json:"offset"`
	Key         string            `json:"key,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Value       string            `json:"value"`
	Reason      string            `json:"reason"`
	FailedAt    time.Time         `json:"failed_at"`
}
