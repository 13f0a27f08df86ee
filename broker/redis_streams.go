package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const bodyField = "body"

// RedisStreamsOptions tunes the consumer group used by RedisStreams
type RedisStreamsOptions struct {
	Group        string
	ConsumerName string
	ClaimMinIdle time.Duration // pending entries idle this long are claimed and redelivered
	BlockTimeout time.Duration // how long one XREADGROUP blocks while the queues are empty
}

// RedisStreams is a Broker backed by Redis Streams and a consumer group.
// Every queue is one stream. Unacknowledged entries stay in the group's pending list
// and are reclaimed with XAUTOCLAIM once idle for ClaimMinIdle, so a nack, a crash or a
// consumer restart all lead to redelivery.
type RedisStreams struct {
	rdb  *redis.Client
	opts RedisStreamsOptions
	log  zerolog.Logger
}

// NewRedisStreams creates a broker on rdb. The client is owned by the caller.
func NewRedisStreams(rdb *redis.Client, opts RedisStreamsOptions, log zerolog.Logger) *RedisStreams {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = time.Minute
	}
	return &RedisStreams{
		rdb:  rdb,
		opts: opts,
		log:  log.With().Str("component", "redis_streams").Logger(),
	}
}

// Publish appends body to the queue's stream
func (r *RedisStreams) Publish(ctx context.Context, queue string, body []byte) error {
	err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: map[string]interface{}{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", queue, err)
	}
	return nil
}

// Consume declares the consumer group on every queue and starts reading
func (r *RedisStreams) Consume(ctx context.Context, queues ...string) (Consumer, error) {
	if err := r.ensureGroups(ctx, queues); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &redisConsumer{
		broker: r,
		queues: queues,
		out:    make(chan *Message),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(cctx)

	r.log.Info().
		Strs("queues", queues).
		Str("group", r.opts.Group).
		Str("consumer", r.opts.ConsumerName).
		Msg("Redis streams consumer started")
	return c, nil
}

// Close is a no-op; the redis client is closed by its owner
func (r *RedisStreams) Close() error {
	return nil
}

func (r *RedisStreams) ensureGroups(ctx context.Context, queues []string) error {
	for _, q := range queues {
		err := r.rdb.XGroupCreateMkStream(ctx, q, r.opts.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group on %s: %w", q, err)
		}
	}
	return nil
}

func (r *RedisStreams) message(queue string, xm redis.XMessage) (*Message, bool) {
	body, ok := xm.Values[bodyField].(string)
	if !ok {
		return nil, false
	}
	id := xm.ID
	return &Message{
		ID:    id,
		Queue: queue,
		Body:  []byte(body),
		ack: func(ctx context.Context) error {
			return r.rdb.XAck(ctx, queue, r.opts.Group, id).Err()
		},
		nack: func(ctx context.Context) error {
			// Left in the pending list; XAUTOCLAIM hands it out again once idle.
			return nil
		},
	}, true
}

type redisConsumer struct {
	broker *RedisStreams
	queues []string
	out    chan *Message
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (c *redisConsumer) Messages() <-chan *Message {
	return c.out
}

func (c *redisConsumer) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

func (c *redisConsumer) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)

	log := c.broker.log
	for ctx.Err() == nil {
		if err := c.claimIdle(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to claim idle entries")
			c.backoff(ctx)
			continue
		}
		if err := c.readNew(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Failed to read from streams")
			c.backoff(ctx)
		}
	}
}

func (c *redisConsumer) claimIdle(ctx context.Context) error {
	r := c.broker
	for _, q := range c.queues {
		start := "0-0"
		for {
			messages, next, err := r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
				Stream:   q,
				Group:    r.opts.Group,
				Consumer: r.opts.ConsumerName,
				MinIdle:  r.opts.ClaimMinIdle,
				Start:    start,
				Count:    100,
			}).Result()
			if err != nil {
				return fmt.Errorf("xautoclaim %s: %w", q, err)
			}
			for _, xm := range messages {
				if !c.deliver(ctx, q, xm) {
					return nil
				}
			}
			if next == "0-0" || next == "" {
				break
			}
			start = next
		}
	}
	return nil
}

func (c *redisConsumer) readNew(ctx context.Context) error {
	r := c.broker
	streams := make([]string, 0, len(c.queues)*2)
	streams = append(streams, c.queues...)
	for range c.queues {
		streams = append(streams, ">")
	}

	res, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.opts.Group,
		Consumer: r.opts.ConsumerName,
		Streams:  streams,
		Count:    100,
		Block:    r.opts.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("xreadgroup: %w", err)
	}

	for _, stream := range res {
		for _, xm := range stream.Messages {
			if !c.deliver(ctx, stream.Stream, xm) {
				return nil
			}
		}
	}
	return nil
}

func (c *redisConsumer) deliver(ctx context.Context, queue string, xm redis.XMessage) bool {
	msg, ok := c.broker.message(queue, xm)
	if !ok {
		c.broker.log.Warn().Str("queue", queue).Str("id", xm.ID).Msg("Dropping stream entry without body")
		_ = c.broker.rdb.XAck(ctx, queue, c.broker.opts.Group, xm.ID).Err()
		return true
	}
	select {
	case c.out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *redisConsumer) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
}
