package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/rs/zerolog"
)

// Kafka is a Broker backed by Kafka topics, one topic per queue.
// A partition's offset is committed only up to its lowest message that is not yet
// acked. Nack rewinds the partition to its lowest nacked message, which also replays
// the later messages of that partition already handed out.
type Kafka struct {
	cfg      config.KafkaConfig
	producer *kafka.Producer
	log      zerolog.Logger
	doneCh   chan struct{}
}

// NewKafka creates the producer side of the broker
func NewKafka(cfg config.KafkaConfig, log zerolog.Logger) (*Kafka, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "all",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &Kafka{
		cfg:      cfg,
		producer: p,
		log:      log.With().Str("component", "kafka_broker").Logger(),
		doneCh:   make(chan struct{}),
	}
	go k.eventHandler()
	return k, nil
}

func (k *Kafka) eventHandler() {
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				k.log.Warn().Err(ev.TopicPartition.Error).Msg("Kafka delivery failed")
			}
		case kafka.Error:
			k.log.Warn().Err(ev).Int("code", int(ev.Code())).Msg("Kafka producer error")
		}
	}
	close(k.doneCh)
}

// Publish produces body to the queue's topic and waits for the delivery report
func (k *Kafka) Publish(ctx context.Context, queue string, body []byte) error {
	deliveries := make(chan kafka.Event, 1)
	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &queue, Partition: kafka.PartitionAny},
		Value:          body,
	}, deliveries)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-deliveries:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume creates the topics if needed and subscribes a consumer in the configured group
func (k *Kafka) Consume(ctx context.Context, queues ...string) (Consumer, error) {
	if err := k.ensureTopics(ctx, queues); err != nil {
		return nil, err
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.cfg.Brokers,
		"group.id":           k.cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	kc := newKafkaConsumer(c, k.log)
	if err := c.SubscribeTopics(queues, kc.rebalance); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", queues, err)
	}
	kc.start(ctx)

	k.log.Info().Strs("topics", queues).Str("group", k.cfg.GroupID).Msg("Kafka consumer started")
	return kc, nil
}

func (k *Kafka) ensureTopics(ctx context.Context, topics []string) error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	specs := make([]kafka.TopicSpecification, 0, len(topics))
	for _, t := range topics {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             t,
			NumPartitions:     k.cfg.Partitions,
			ReplicationFactor: 1,
		})
	}
	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}
	return nil
}

// Close flushes pending deliveries and closes the producer
func (k *Kafka) Close() error {
	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}

// kafkaClient is the part of *kafka.Consumer the consume loop uses
type kafkaClient interface {
	Poll(timeoutMs int) kafka.Event
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
	Close() error
}

type kafkaConsumer struct {
	client   kafkaClient
	offsets  *offsetTracker
	log      zerolog.Logger
	out      chan *Message
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	closeErr error
}

func newKafkaConsumer(client kafkaClient, log zerolog.Logger) *kafkaConsumer {
	return &kafkaConsumer{
		client:  client,
		offsets: newOffsetTracker(),
		log:     log,
		out:     make(chan *Message),
		done:    make(chan struct{}),
	}
}

func (c *kafkaConsumer) start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(cctx)
}

func (c *kafkaConsumer) Messages() <-chan *Message {
	return c.out
}

func (c *kafkaConsumer) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)

	for ctx.Err() == nil {
		ev := c.client.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			c.offsets.delivered(e.TopicPartition)
			select {
			case c.out <- c.message(e):
			case <-ctx.Done():
				return
			}
		case kafka.AssignedPartitions, kafka.RevokedPartitions:
			_ = c.rebalance(nil, e)
		case kafka.Error:
			c.log.Warn().Err(e).Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msg("Kafka consumer error")
			if e.IsFatal() {
				return
			}
		}
	}
}

// rebalance drops the bookkeeping of partitions that change hands. Their next
// owner resumes from the committed offset. Assignment itself is left to the client.
func (c *kafkaConsumer) rebalance(_ *kafka.Consumer, ev kafka.Event) error {
	switch e := ev.(type) {
	case kafka.AssignedPartitions:
		c.offsets.forget(e.Partitions)
	case kafka.RevokedPartitions:
		c.offsets.forget(e.Partitions)
	}
	return nil
}

func (c *kafkaConsumer) message(m *kafka.Message) *Message {
	tp := m.TopicPartition
	return &Message{
		ID:    fmt.Sprintf("%d/%s", tp.Partition, strconv.FormatInt(int64(tp.Offset), 10)),
		Queue: *tp.Topic,
		Body:  m.Value,
		ack: func(ctx context.Context) error {
			commit, ok := c.offsets.acked(tp)
			if !ok {
				return nil
			}
			if _, err := c.client.CommitOffsets([]kafka.TopicPartition{commit}); err != nil {
				return fmt.Errorf("commit offset %d: %w", commit.Offset, err)
			}
			c.offsets.committed(commit)
			return nil
		},
		nack: func(ctx context.Context) error {
			seek, ok := c.offsets.nacked(tp)
			if !ok {
				return nil
			}
			if err := c.client.Seek(seek, 0); err != nil {
				c.offsets.seekFailed(seek)
				return fmt.Errorf("seek to offset %d: %w", seek.Offset, err)
			}
			return nil
		},
	}
}

// Close stops polling and leaves the consumer group
func (c *kafkaConsumer) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}

type partitionKey struct {
	topic     string
	partition int32
}

func keyOf(tp kafka.TopicPartition) partitionKey {
	k := partitionKey{partition: tp.Partition}
	if tp.Topic != nil {
		k.topic = *tp.Topic
	}
	return k
}

// partitionOffsets is the delivery state of one partition
type partitionOffsets struct {
	inFlight  map[kafka.Offset]int  // handed out and not yet acked or nacked
	nacked    map[kafka.Offset]bool // waiting to be polled again
	next      kafka.Offset          // one past the highest offset handed out
	committed kafka.Offset
	rewind    kafka.Offset // target of a seek that has not landed yet
}

// watermark is the lowest offset that is neither acked nor behind an acked one
func (p *partitionOffsets) watermark() kafka.Offset {
	low := p.next
	for o := range p.inFlight {
		if o < low {
			low = o
		}
	}
	for o := range p.nacked {
		if o < low {
			low = o
		}
	}
	return low
}

func (p *partitionOffsets) settle(o kafka.Offset) {
	if p.inFlight[o] > 1 {
		p.inFlight[o]--
		return
	}
	delete(p.inFlight, o)
}

// offsetTracker keeps commits from passing an unacked message and collapses the
// nacks of one partition into a single rewind to the lowest of them.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey]*partitionOffsets)}
}

func (t *offsetTracker) partition(tp kafka.TopicPartition) *partitionOffsets {
	k := keyOf(tp)
	p, ok := t.partitions[k]
	if !ok {
		p = &partitionOffsets{
			inFlight:  make(map[kafka.Offset]int),
			nacked:    make(map[kafka.Offset]bool),
			next:      tp.Offset,
			committed: tp.Offset,
			rewind:    kafka.OffsetInvalid,
		}
		t.partitions[k] = p
	}
	return p
}

func (t *offsetTracker) delivered(tp kafka.TopicPartition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.partition(tp)
	o := tp.Offset
	p.inFlight[o]++
	delete(p.nacked, o)
	if o >= p.next {
		p.next = o + 1
	}
	if p.rewind != kafka.OffsetInvalid && o <= p.rewind {
		p.rewind = kafka.OffsetInvalid
	}
}

// acked returns the position to commit, if the ack moved the watermark
func (t *offsetTracker) acked(tp kafka.TopicPartition) (kafka.TopicPartition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[keyOf(tp)]
	if !ok {
		return kafka.TopicPartition{}, false
	}
	p.settle(tp.Offset)
	wm := p.watermark()
	if wm <= p.committed {
		return kafka.TopicPartition{}, false
	}
	return kafka.TopicPartition{Topic: tp.Topic, Partition: tp.Partition, Offset: wm}, true
}

func (t *offsetTracker) committed(tp kafka.TopicPartition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.partitions[keyOf(tp)]; ok && tp.Offset > p.committed {
		p.committed = tp.Offset
	}
}

// nacked returns the offset to seek to, the lowest one still waiting for
// redelivery. A pending rewind to that offset or below already replays it, so no
// new seek is needed then.
func (t *offsetTracker) nacked(tp kafka.TopicPartition) (kafka.TopicPartition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[keyOf(tp)]
	if !ok {
		return kafka.TopicPartition{}, false
	}
	p.settle(tp.Offset)
	p.nacked[tp.Offset] = true

	target := tp.Offset
	for o := range p.nacked {
		if o < target {
			target = o
		}
	}
	if p.rewind != kafka.OffsetInvalid && p.rewind <= target {
		return kafka.TopicPartition{}, false
	}
	p.rewind = target
	return kafka.TopicPartition{Topic: tp.Topic, Partition: tp.Partition, Offset: target}, true
}

func (t *offsetTracker) seekFailed(tp kafka.TopicPartition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.partitions[keyOf(tp)]; ok && p.rewind == tp.Offset {
		p.rewind = kafka.OffsetInvalid
	}
}

func (t *offsetTracker) forget(partitions []kafka.TopicPartition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tp := range partitions {
		delete(t.partitions, keyOf(tp))
	}
}
