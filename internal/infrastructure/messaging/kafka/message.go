// Package kafka carries annotation jobs: a group consumer for job requests
// with retry and dead-lettering, and a producer for results.
package kafka

import (
	"context"
	"time"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerMessage is a record to publish.  Partition is left to the hash
// balancer unless the writer is configured otherwise.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one message.  A non-nil error triggers retries.
type MessageHandler func(ctx context.Context, msg *Message) error

// Header keys attached to dead-lettered messages.
const (
	HeaderOriginalTopic = "original_topic"
	HeaderErrorMessage  = "error_message"
	HeaderErrorCode     = "error_code"
	HeaderAttempts      = "attempts"
)
