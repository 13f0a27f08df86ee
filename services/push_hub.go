package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Push hub event names
const (
	EventSupportPending        = "support.pending"
	EventNewSupporterRequested = "support.new_supporter_requested"
	EventSupportAssigned       = "support.assigned"
	EventSupportClosed         = "support.closed"
	EventRoomMessage           = "room.message"
	EventChatListChanged       = "chat_list.changed"
)

// PushHub delivers real-time events to connected clients. Delivery is best effort.
type PushHub interface {
	EmitToUsers(ctx context.Context, event string, payload interface{}, userIDs []uint) error
	EmitToRoom(ctx context.Context, event string, payload interface{}, roomID uint) error
}

// HubEvent is the envelope published on hub channels
type HubEvent struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// RedisPushHub publishes hub events on Redis Pub/Sub channels that the socket
// gateway subscribes to: <prefix>:user:<id> and <prefix>:room:<id>.
type RedisPushHub struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisPushHub creates a hub publishing on rdb under prefix
func NewRedisPushHub(rdb *redis.Client, prefix string) *RedisPushHub {
	if prefix == "" {
		prefix = "hub"
	}
	return &RedisPushHub{rdb: rdb, prefix: prefix}
}

// UserChannel is the channel a user's sockets listen on
func (h *RedisPushHub) UserChannel(userID uint) string {
	return fmt.Sprintf("%s:user:%d", h.prefix, userID)
}

// RoomChannel is the channel a room's sockets listen on
func (h *RedisPushHub) RoomChannel(roomID uint) string {
	return fmt.Sprintf("%s:room:%d", h.prefix, roomID)
}

// EmitToUsers publishes event to every user channel in one pipeline
func (h *RedisPushHub) EmitToUsers(ctx context.Context, event string, payload interface{}, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	data, err := encodeHubEvent(event, payload)
	if err != nil {
		return err
	}

	pipe := h.rdb.Pipeline()
	for _, id := range userIDs {
		pipe.Publish(ctx, h.UserChannel(id), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s to users: %w", event, err)
	}
	return nil
}

// EmitToRoom publishes event to the room channel
func (h *RedisPushHub) EmitToRoom(ctx context.Context, event string, payload interface{}, roomID uint) error {
	data, err := encodeHubEvent(event, payload)
	if err != nil {
		return err
	}
	if err := h.rdb.Publish(ctx, h.RoomChannel(roomID), data).Err(); err != nil {
		return fmt.Errorf("publish %s to room %d: %w", event, roomID, err)
	}
	return nil
}

func encodeHubEvent(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	data, err := json.Marshal(HubEvent{Type: event, Payload: raw, Timestamp: time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", event, err)
	}
	return data, nil
}
