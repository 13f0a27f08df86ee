package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kendall-kelly/support-chat-api/broker"
	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/rs/zerolog"
)

// NotificationRecorder persists in-app notifications and their boxes idempotently
type NotificationRecorder interface {
	CreateNotification(ctx context.Context, n *models.Notification, recipientIDs []uint) error
}

// WorkerConfig tunes a NotificationWorker
type WorkerConfig struct {
	EmailQueue      string
	PushQueue       string
	BatchSize       int
	BatchWindow     time.Duration
	DispatchTimeout time.Duration
	// RetryDelay is how long the worker waits after a failed dispatch before
	// handing its jobs back to the broker.
	RetryDelay time.Duration
}

// WorkerConfigFrom extracts the worker settings from the application config
func WorkerConfigFrom(cfg *config.Config) WorkerConfig {
	return WorkerConfig{
		EmailQueue:      cfg.Broker.EmailQueue,
		PushQueue:       cfg.Broker.PushQueue,
		BatchSize:       cfg.Notification.PushBatchSize,
		BatchWindow:     cfg.Notification.PushBatchWindow,
		DispatchTimeout: cfg.Notification.DispatchTimeout,
		RetryDelay:      cfg.Notification.RetryDelay,
	}
}

// NotificationWorker drains the notification queues. Each job is first recorded as an
// in-app notification, then dispatched to its external channel; the broker message is
// acknowledged only when both succeed.
type NotificationWorker struct {
	broker    broker.Broker
	store     NotificationRecorder
	directory AccountDirectory
	email     EmailTransport
	push      PushTransport
	cfg       WorkerConfig
	log       zerolog.Logger
	running   atomic.Bool
}

// NewNotificationWorker creates a worker. It does nothing until Run is called.
func NewNotificationWorker(
	b broker.Broker,
	store NotificationRecorder,
	directory AccountDirectory,
	email EmailTransport,
	push PushTransport,
	cfg WorkerConfig,
	log zerolog.Logger,
) *NotificationWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 15 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &NotificationWorker{
		broker:    b,
		store:     store,
		directory: directory,
		email:     email,
		push:      push,
		cfg:       cfg,
		log:       log.With().Str("component", "notification_worker").Logger(),
	}
}

type pendingPush struct {
	msg *broker.Message
	job models.NotificationJob
}

// Run consumes until ctx is cancelled. It returns an error if the consumer cannot be
// opened or closes on its own; the caller is expected to stop the process then.
// On every exit path the in-flight push batch is dispatched and the consumer closed.
func (w *NotificationWorker) Run(ctx context.Context) (err error) {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("notification worker is already running")
	}
	defer w.running.Store(false)

	consumer, err := w.broker.Consume(ctx, w.cfg.EmailQueue, w.cfg.PushQueue)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to open broker consumer")
		return fmt.Errorf("open broker consumer: %w", err)
	}
	w.log.Info().
		Str("email_queue", w.cfg.EmailQueue).
		Str("push_queue", w.cfg.PushQueue).
		Int("batch_size", w.cfg.BatchSize).
		Dur("batch_window", w.cfg.BatchWindow).
		Msg("Notification worker started")

	var (
		batch  []pendingPush
		timer  *time.Timer
		timerC <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timerC = nil
	}
	flush := func() {
		stopTimer()
		if len(batch) == 0 {
			return
		}
		pending := batch
		batch = nil
		w.dispatchPushBatch(ctx, pending)
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Msg("Notification worker panicked")
			err = fmt.Errorf("notification worker panic: %v", r)
		}
		stopTimer()
		if cerr := consumer.Close(); cerr != nil {
			w.log.Warn().Err(cerr).Msg("Failed to close broker consumer")
		}
		w.log.Info().Msg("Notification worker stopped")
	}()

	messages := consumer.Messages()
	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case <-timerC:
			flush()

		case msg, ok := <-messages:
			if !ok {
				flush()
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("broker consumer closed unexpectedly")
			}

			job, decodeErr := decodeJob(msg)
			if decodeErr != nil {
				// Redelivering a malformed payload can never succeed.
				w.log.Error().Err(decodeErr).Str("message_id", msg.ID).Str("queue", msg.Queue).Msg("Dropping malformed notification job")
				w.ack(ctx, msg)
				continue
			}

			switch w.channelOf(msg, job) {
			case models.ChannelEmail:
				w.dispatchEmail(ctx, msg, job)
			case models.ChannelPush:
				batch = append(batch, pendingPush{msg: msg, job: job})
				if len(batch) >= w.cfg.BatchSize {
					flush()
				} else if timerC == nil {
					timer = time.NewTimer(w.cfg.BatchWindow)
					timerC = timer.C
				}
			default:
				w.log.Error().Str("channel", job.Channel).Str("message_id", msg.ID).Msg("Dropping notification job for unknown channel")
				w.ack(ctx, msg)
			}
		}
	}
}

func decodeJob(msg *broker.Message) (models.NotificationJob, error) {
	var job models.NotificationJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return job, fmt.Errorf("decode notification job: %w", err)
	}
	if job.NotificationID == "" {
		return job, errors.New("notification job has no id")
	}
	return job, nil
}

func (w *NotificationWorker) channelOf(msg *broker.Message, job models.NotificationJob) string {
	switch msg.Queue {
	case w.cfg.EmailQueue:
		return models.ChannelEmail
	case w.cfg.PushQueue:
		return models.ChannelPush
	}
	return job.Channel
}

// dispatchContext bounds one dispatch. It ignores cancellation of ctx so a stop
// request never interrupts a dispatch that already started.
func (w *NotificationWorker) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), w.cfg.DispatchTimeout)
}

func (w *NotificationWorker) record(ctx context.Context, job models.NotificationJob) error {
	n := job.ToNotification()
	return w.store.CreateNotification(ctx, &n, job.RecipientIDs)
}

func (w *NotificationWorker) dispatchEmail(ctx context.Context, msg *broker.Message, job models.NotificationJob) {
	dctx, cancel := w.dispatchContext(ctx)
	defer cancel()

	log := w.log.With().Str("notification_id", job.NotificationID).Str("channel", models.ChannelEmail).Logger()

	if err := w.record(dctx, job); err != nil {
		log.Warn().Err(err).Msg("Failed to record notification, requeueing")
		w.requeue(ctx, msg)
		return
	}

	to, err := w.directory.EmailsFor(dctx, job.RecipientIDs)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to resolve email recipients, requeueing")
		w.requeue(ctx, msg)
		return
	}
	if len(to) == 0 {
		log.Debug().Msg("No email addresses for recipients")
		w.ack(ctx, msg)
		return
	}

	if err := w.email.Send(dctx, to, job.Title, job.Body); err != nil {
		log.Warn().Err(err).Msg("Email dispatch failed, requeueing")
		w.requeue(ctx, msg)
		return
	}

	w.ack(ctx, msg)
	log.Debug().Int("recipients", len(to)).Msg("Email dispatched")
}

func (w *NotificationWorker) dispatchPushBatch(ctx context.Context, batch []pendingPush) {
	dctx, cancel := w.dispatchContext(ctx)
	defer cancel()

	var failed []*broker.Message
	defer func() { w.requeue(ctx, failed...) }()

	ready := make([]pendingPush, 0, len(batch))
	var messages []PushMessage
	for _, p := range batch {
		if err := w.record(dctx, p.job); err != nil {
			w.log.Warn().Err(err).Str("notification_id", p.job.NotificationID).Msg("Failed to record notification, requeueing")
			failed = append(failed, p.msg)
			continue
		}
		ready = append(ready, p)
		for _, recipientID := range p.job.RecipientIDs {
			messages = append(messages, PushMessage{
				NotificationID: p.job.NotificationID,
				RecipientID:    recipientID,
				Title:          p.job.Title,
				Body:           p.job.Body,
				Data:           p.job.Payload,
			})
		}
	}
	if len(ready) == 0 {
		return
	}

	if err := w.push.SendBatch(dctx, messages); err != nil {
		w.log.Warn().Err(err).Int("jobs", len(ready)).Msg("Push batch dispatch failed, requeueing")
		for _, p := range ready {
			failed = append(failed, p.msg)
		}
		return
	}

	for _, p := range ready {
		w.ack(ctx, p.msg)
	}
	w.log.Debug().Int("jobs", len(ready)).Int("messages", len(messages)).Msg("Push batch dispatched")
}

// requeue hands failed jobs back to the broker after RetryDelay, so a transport
// that keeps failing is retried at that pace instead of in a tight loop. The wait
// blocks consumption and ends early when ctx is cancelled.
func (w *NotificationWorker) requeue(ctx context.Context, msgs ...*broker.Message) {
	if len(msgs) == 0 {
		return
	}
	t := time.NewTimer(w.cfg.RetryDelay)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
	}
	for _, msg := range msgs {
		w.nack(ctx, msg)
	}
}

func (w *NotificationWorker) ack(ctx context.Context, msg *broker.Message) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := msg.Ack(actx); err != nil {
		w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message")
	}
}

func (w *NotificationWorker) nack(ctx context.Context, msg *broker.Message) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := msg.Nack(actx); err != nil {
		w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to nack message")
	}
}
