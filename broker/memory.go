package broker

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
)

type memoryEntry struct {
	seq   uint64
	queue string
	body  []byte
}

// Memory is an in-process broker. Queues outlive consumers: closing a consumer puts
// its unacknowledged messages back at the head of their queues, and a nacked message
// is redelivered immediately.
type Memory struct {
	mu       sync.Mutex
	queues   map[string][]memoryEntry
	inflight map[uint64]memoryEntry
	seq      uint64
	wake     chan struct{}
	consumer *memoryConsumer
}

// NewMemory creates an empty in-memory broker
func NewMemory() *Memory {
	return &Memory{
		queues:   make(map[string][]memoryEntry),
		inflight: make(map[uint64]memoryEntry),
		wake:     make(chan struct{}, 1),
	}
}

// Publish appends body to queue
func (m *Memory) Publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.seq++
	m.queues[queue] = append(m.queues[queue], memoryEntry{seq: m.seq, queue: queue, body: body})
	m.mu.Unlock()

	m.signal()
	return nil
}

// Consume opens the single consumer of this broker
func (m *Memory) Consume(ctx context.Context, queues ...string) (Consumer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.consumer != nil {
		return nil, errors.New("broker: memory consumer already open")
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &memoryConsumer{
		broker: m,
		out:    make(chan *Message),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.consumer = c
	go c.run(cctx, queues)
	return c, nil
}

// Pending reports how many messages of queue are queued or awaiting acknowledgement
func (m *Memory) Pending(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.queues[queue])
	for _, e := range m.inflight {
		if e.queue == queue {
			n++
		}
	}
	return n
}

// Close closes the open consumer, if any
func (m *Memory) Close() error {
	m.mu.Lock()
	c := m.consumer
	m.mu.Unlock()

	if c != nil {
		return c.Close()
	}
	return nil
}

func (m *Memory) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Memory) next(queues []string) (memoryEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range queues {
		pending := m.queues[q]
		if len(pending) == 0 {
			continue
		}
		e := pending[0]
		m.queues[q] = pending[1:]
		m.inflight[e.seq] = e
		return e, true
	}
	return memoryEntry{}, false
}

// requeue moves in-flight entries back to the head of their queues, oldest first
func (m *Memory) requeue(seqs ...uint64) {
	m.mu.Lock()
	var entries []memoryEntry
	for _, seq := range seqs {
		if e, ok := m.inflight[seq]; ok {
			entries = append(entries, e)
			delete(m.inflight, seq)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	for _, e := range entries {
		m.queues[e.queue] = append([]memoryEntry{e}, m.queues[e.queue]...)
	}
	m.mu.Unlock()

	if len(entries) > 0 {
		m.signal()
	}
}

func (m *Memory) message(e memoryEntry) *Message {
	return &Message{
		ID:    strconv.FormatUint(e.seq, 10),
		Queue: e.queue,
		Body:  e.body,
		ack: func(ctx context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.inflight[e.seq]; !ok {
				return errors.New("broker: message is no longer in flight")
			}
			delete(m.inflight, e.seq)
			return nil
		},
		nack: func(ctx context.Context) error {
			m.requeue(e.seq)
			return nil
		},
	}
}

type memoryConsumer struct {
	broker *Memory
	out    chan *Message
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (c *memoryConsumer) Messages() <-chan *Message {
	return c.out
}

func (c *memoryConsumer) run(ctx context.Context, queues []string) {
	defer close(c.done)
	defer close(c.out)

	for {
		e, ok := c.broker.next(queues)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-c.broker.wake:
				continue
			}
		}

		select {
		case c.out <- c.broker.message(e):
		case <-ctx.Done():
			c.broker.requeue(e.seq)
			return
		}
	}
}

// Close stops delivery and returns every unacknowledged message to its queue
func (c *memoryConsumer) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done

		m := c.broker
		m.mu.Lock()
		seqs := make([]uint64, 0, len(m.inflight))
		for seq := range m.inflight {
			seqs = append(seqs, seq)
		}
		m.consumer = nil
		m.mu.Unlock()

		m.requeue(seqs...)
	})
	return nil
}
