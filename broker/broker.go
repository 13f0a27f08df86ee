// Package broker carries notification jobs from the API process to the worker.
// Delivery is at-least-once: a message that is not acknowledged is redelivered.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when a consumer or broker is used after Close
var ErrClosed = errors.New("broker: closed")

// Message is one delivery of a queued payload
type Message struct {
	ID    string
	Queue string
	Body  []byte

	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

// Ack confirms the message was handled; it will not be delivered again
func (m *Message) Ack(ctx context.Context) error {
	return m.ack(ctx)
}

// Nack hands the message back to the broker for redelivery
func (m *Message) Nack(ctx context.Context) error {
	return m.nack(ctx)
}

// Consumer is an open subscription to one or more queues
type Consumer interface {
	Messages() <-chan *Message
	Close() error
}

// Broker publishes to and consumes from durable named queues
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, queues ...string) (Consumer, error)
	Close() error
}

// New builds the broker selected by cfg.Broker.Driver. rdb is only used by the
// redis driver and may be nil otherwise.
func New(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (Broker, error) {
	switch cfg.Broker.Driver {
	case "redis":
		if rdb == nil {
			return nil, errors.New("broker: redis driver needs a redis client")
		}
		return NewRedisStreams(rdb, RedisStreamsOptions{
			Group:        cfg.Broker.Group,
			ConsumerName: cfg.Broker.ConsumerName,
			ClaimMinIdle: cfg.Broker.ClaimMinIdle,
			BlockTimeout: cfg.Broker.BlockTimeout,
		}, log), nil
	case "kafka":
		return NewKafka(cfg.Kafka, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("broker: unsupported driver %q", cfg.Broker.Driver)
	}
}
