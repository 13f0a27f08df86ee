package services

import (
	"context"
	"testing"

	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.openAssigned(t)

	msg, err := f.chat.SendMessage(ctx, room.ID, f.customer.ID, "  my appointment was moved  ", "")
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	require.NotNil(t, msg.Text)
	assert.Equal(t, "my appointment was moved", *msg.Text)
	assert.Nil(t, msg.ImageKey)
	f.chat.Wait()

	roomEvents := f.hub.Events(EventRoomMessage)
	require.Len(t, roomEvents, 1)
	assert.Equal(t, room.ID, roomEvents[0].RoomID)

	listEvents := f.hub.Events(EventChatListChanged)
	require.Len(t, listEvents, 1)
	assert.Equal(t, []uint{f.staff.ID}, listEvents[0].UserIDs)

	jobs := f.pushJobs(t)
	require.Len(t, jobs, 3, "initiate, assign and the message")
	assert.Equal(t, []uint{f.staff.ID}, jobs[2].RecipientIDs)
	assert.Equal(t, "my appointment was moved", jobs[2].Body)

	current, err := f.store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, current.LastActivityAt.Equal(msg.CreatedAt))
}

func TestSendMessageFailures(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.openAssigned(t)
	outsider := testutil.CreateAccount(t, f.db, "olga", models.RoleCustomer)

	direct, err := f.manager.CreateChatRoom(ctx, f.staff2.ID, outsider.ID)
	require.NoError(t, err)

	tests := []struct {
		name     string
		roomID   uint
		senderID uint
		text     string
		kind     ResultKind
	}{
		{"empty message", room.ID, f.customer.ID, "   ", KindValidation},
		{"unknown room", 9999, f.customer.ID, "hi", KindNotFound},
		{"not a participant", room.ID, outsider.ID, "hi", KindForbidden},
		{"not a participant of direct room", direct.ID, f.customer.ID, "hi", KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.chat.SendMessage(ctx, tt.roomID, tt.senderID, tt.text, "")
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}

	messages, err := f.store.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, messages, "rejected messages are never persisted")

	t.Run("closed room", func(t *testing.T) {
		_, err := f.manager.CloseChatRoom(ctx, room.ID, f.customer.ID)
		require.NoError(t, err)
		_, err = f.chat.SendMessage(ctx, room.ID, f.customer.ID, "still there?", "")
		assert.True(t, IsKind(err, KindConflict), "got %v", err)
	})

	t.Run("staff who left", func(t *testing.T) {
		again, err := f.manager.InitiateSupportChatRoom(ctx, f.customer.ID)
		require.NoError(t, err)
		_, err = f.manager.AssignStaffToChatRoom(ctx, again.ID, f.staff.ID, f.customer.ID)
		require.NoError(t, err)
		_, err = f.manager.RemoveStaffFromChatRoom(ctx, again.ID, f.staff.ID)
		require.NoError(t, err)

		_, err = f.chat.SendMessage(ctx, again.ID, f.staff.ID, "one more thing", "")
		assert.True(t, IsKind(err, KindForbidden), "got %v", err)
	})
}

func TestSendMessageWithImage(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	room, err := f.manager.CreateChatRoom(ctx, f.customer.ID, f.staff.ID)
	require.NoError(t, err)

	fileHeader := testutil.CreateMultipartFileHeader(t, "nails.png", testutil.PNGBytes())
	key, err := f.images.UploadImage(ctx, fileHeader)
	require.NoError(t, err)

	msg, err := f.chat.SendMessage(ctx, room.ID, f.customer.ID, "", key)
	require.NoError(t, err)
	assert.Nil(t, msg.Text)
	require.NotNil(t, msg.ImageKey)
	assert.Equal(t, key, *msg.ImageKey)
	require.NotNil(t, msg.ImageURL)
	assert.Contains(t, *msg.ImageURL, key)

	// Direct rooms get hub events but no push jobs
	assert.Zero(t, len(f.pushJobs(t)))
	assert.Len(t, f.hub.Events(EventRoomMessage), 1)
}

func TestSendMessageInAbandonedRoomRemindsStaff(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.openAssigned(t)

	_, err := f.manager.RemoveStaffFromChatRoom(ctx, room.ID, f.staff.ID)
	require.NoError(t, err)
	require.Len(t, f.hub.Events(EventNewSupporterRequested), 1)

	_, err = f.chat.SendMessage(ctx, room.ID, f.customer.ID, "is anyone there?", "")
	require.NoError(t, err)
	f.chat.Wait()

	assert.Len(t, f.hub.Events(EventNewSupporterRequested), 2)
	assert.Empty(t, f.hub.Events(EventChatListChanged), "nobody else is active in the room")
}

func TestGetChatMessages(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.openAssigned(t)
	outsider := testutil.CreateAccount(t, f.db, "olga", models.RoleCustomer)

	texts := []string{"first", "second", "third"}
	for i, text := range texts {
		sender := f.customer.ID
		if i == 1 {
			sender = f.staff.ID
		}
		_, err := f.chat.SendMessage(ctx, room.ID, sender, text, "")
		require.NoError(t, err)
	}

	messages, err := f.chat.GetChatMessages(ctx, room.ID, f.customer.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	for i, msg := range messages {
		require.NotNil(t, msg.Text)
		assert.Equal(t, texts[i], *msg.Text)
	}

	// Former participants can still read the history
	_, err = f.manager.RemoveStaffFromChatRoom(ctx, room.ID, f.staff.ID)
	require.NoError(t, err)
	messages, err = f.chat.GetChatMessages(ctx, room.ID, f.staff.ID)
	require.NoError(t, err)
	assert.Len(t, messages, 3)

	p, err := f.store.FindParticipant(ctx, room.ID, f.staff.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastSeenAt)

	_, err = f.chat.GetChatMessages(ctx, room.ID, outsider.ID)
	assert.True(t, IsKind(err, KindForbidden), "got %v", err)

	_, err = f.chat.GetChatMessages(ctx, 9999, f.customer.ID)
	assert.True(t, IsKind(err, KindNotFound), "got %v", err)
}

func TestGetUserChatRooms(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	friend := testutil.CreateAccount(t, f.db, "fern", models.RoleCustomer)

	support := f.openAssigned(t)
	direct, err := f.manager.CreateChatRoom(ctx, f.customer.ID, friend.ID)
	require.NoError(t, err)

	// The support room becomes the most recently active one
	_, err = f.chat.SendMessage(ctx, direct.ID, friend.ID, "hey", "")
	require.NoError(t, err)
	_, err = f.chat.SendMessage(ctx, support.ID, f.customer.ID, "help", "")
	require.NoError(t, err)

	rooms, err := f.chat.GetUserChatRooms(ctx, f.customer.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 2)

	assert.Equal(t, support.ID, rooms[0].ID)
	require.NotNil(t, rooms[0].Counterpart)
	assert.Equal(t, f.staff.ID, rooms[0].Counterpart.AccountID)
	assert.Equal(t, f.staff.Name, rooms[0].Counterpart.Name)

	assert.Equal(t, direct.ID, rooms[1].ID)
	require.NotNil(t, rooms[1].Counterpart)
	assert.Equal(t, friend.Name, rooms[1].Counterpart.Name)

	staffRooms, err := f.chat.GetUserChatRooms(ctx, f.staff.ID)
	require.NoError(t, err)
	require.Len(t, staffRooms, 1)
	require.NotNil(t, staffRooms[0].Counterpart)
	assert.Equal(t, f.customer.ID, staffRooms[0].Counterpart.AccountID)

	none, err := f.chat.GetUserChatRooms(ctx, f.staff2.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetChatRoomParticipants(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()
	room := f.openAssigned(t)

	ids, err := f.chat.GetChatRoomParticipants(ctx, room.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{f.customer.ID, f.staff.ID}, ids)

	_, err = f.chat.GetChatRoomParticipants(ctx, 9999)
	assert.True(t, IsKind(err, KindNotFound), "got %v", err)
}
