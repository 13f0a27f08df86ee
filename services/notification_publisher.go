package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kendall-kelly/support-chat-api/broker"
	"github.com/kendall-kelly/support-chat-api/config"
	"github.com/kendall-kelly/support-chat-api/models"
)

// NotificationSender enqueues notification deliveries
type NotificationSender interface {
	SendEmailNotificationMessage(ctx context.Context, job models.NotificationJob) (string, error)
	BatchingPushNotification(ctx context.Context, job models.NotificationJob) (string, error)
}

// NotificationPublisher serializes notification jobs onto the broker queues.
// Publishing is fire-and-forget for callers: an error means the job was not enqueued
// and should be logged, never turned into a failure of the business operation.
type NotificationPublisher struct {
	broker     broker.Broker
	emailQueue string
	pushQueue  string
}

// NewNotificationPublisher creates a publisher for the queues named in cfg
func NewNotificationPublisher(b broker.Broker, cfg config.BrokerConfig) *NotificationPublisher {
	return &NotificationPublisher{
		broker:     b,
		emailQueue: cfg.EmailQueue,
		pushQueue:  cfg.PushQueue,
	}
}

// SendEmailNotificationMessage enqueues job for individual email delivery and returns
// the notification id
func (p *NotificationPublisher) SendEmailNotificationMessage(ctx context.Context, job models.NotificationJob) (string, error) {
	job.Channel = models.ChannelEmail
	return p.publish(ctx, p.emailQueue, job)
}

// BatchingPushNotification enqueues job for batched push delivery and returns the
// notification id
func (p *NotificationPublisher) BatchingPushNotification(ctx context.Context, job models.NotificationJob) (string, error) {
	job.Channel = models.ChannelPush
	return p.publish(ctx, p.pushQueue, job)
}

func (p *NotificationPublisher) publish(ctx context.Context, queue string, job models.NotificationJob) (string, error) {
	if len(job.RecipientIDs) == 0 {
		return "", errors.New("notification job has no recipients")
	}
	if job.NotificationID == "" {
		job.NotificationID = uuid.NewString()
	}
	if job.Type == "" {
		job.Type = models.NotificationCommon
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal notification job: %w", err)
	}
	if err := p.broker.Publish(ctx, queue, body); err != nil {
		return "", fmt.Errorf("failed to enqueue notification %s: %w", job.NotificationID, err)
	}
	return job.NotificationID, nil
}
