package services

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPushHubChannels(t *testing.T) {
	hub := NewRedisPushHub(nil, "")
	assert.Equal(t, "hub:user:7", hub.UserChannel(7))
	assert.Equal(t, "hub:room:12", hub.RoomChannel(12))

	custom := NewRedisPushHub(nil, "chat")
	assert.Equal(t, "chat:user:7", custom.UserChannel(7))
}

func TestEncodeHubEvent(t *testing.T) {
	data, err := encodeHubEvent(EventSupportPending, SupportRoomEvent{RoomID: 4, CustomerID: 9, Status: "PendingSupport"})
	require.NoError(t, err)

	var evt HubEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, EventSupportPending, evt.Type)
	assert.JSONEq(t, `{"room_id":4,"customer_id":9,"status":"PendingSupport"}`, string(evt.Payload))
	assert.False(t, evt.Timestamp.IsZero())

	_, err = encodeHubEvent("bad", make(chan int))
	assert.Error(t, err)
}

// TestRedisPushHubPublish needs a live Redis; set REDIS_TEST_ADDRESS to run it
func TestRedisPushHubPublish(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDRESS not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hub := NewRedisPushHub(rdb, "hubtest")
	sub := rdb.Subscribe(ctx, hub.UserChannel(1), hub.RoomChannel(2))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, hub.EmitToUsers(ctx, EventChatListChanged, map[string]int{"room_id": 2}, []uint{1}))
	require.NoError(t, hub.EmitToRoom(ctx, EventRoomMessage, map[string]int{"room_id": 2}, 2))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		var evt HubEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
		got[msg.Channel] = evt.Type
	}
	assert.Equal(t, EventChatListChanged, got[hub.UserChannel(1)])
	assert.Equal(t, EventRoomMessage, got[hub.RoomChannel(2)])
}
