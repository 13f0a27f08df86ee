package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSupportRoom(customerID uint) (*models.ChatRoom, []models.RoomParticipant) {
	key := models.SupportRoomKey(customerID)
	now := time.Now().UTC()
	room := &models.ChatRoom{
		Kind:           models.RoomKindSupport,
		Status:         models.StatusPendingSupport,
		SupportKey:     &key,
		CustomerID:     &customerID,
		LastActivityAt: now,
	}
	participants := []models.RoomParticipant{
		{AccountID: customerID, Role: models.RoleCustomer, JoinedAt: now},
	}
	return room, participants
}

func TestInsertRoomIfAbsent(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	room, participants := newSupportRoom(7)
	created, err := store.InsertRoomIfAbsent(ctx, room, participants)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, room.ID)

	// Same support key while open is ignored
	dup, dupParticipants := newSupportRoom(7)
	created, err = store.InsertRoomIfAbsent(ctx, dup, dupParticipants)
	require.NoError(t, err)
	assert.False(t, created)

	found, err := store.FindOpenSupportRoom(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)

	active, err := store.Participants(ctx, room.ID, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, uint(7), active[0].AccountID)
}

func TestCompareAndSwapStatus(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	room, participants := newSupportRoom(3)
	_, err := store.InsertRoomIfAbsent(ctx, room, participants)
	require.NoError(t, err)

	t.Run("transition from allowed status", func(t *testing.T) {
		ok, err := store.CompareAndSwapStatus(ctx, room.ID, models.ClaimableStatuses, models.StatusAssigned)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("transition from wrong status is rejected", func(t *testing.T) {
		ok, err := store.CompareAndSwapStatus(ctx, room.ID, models.ClaimableStatuses, models.StatusAssigned)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("closing releases the support key", func(t *testing.T) {
		ok, err := store.CompareAndSwapStatus(ctx, room.ID, models.OpenSupportStatuses, models.StatusClosed)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = store.FindOpenSupportRoom(ctx, 3)
		assert.ErrorIs(t, err, ErrNotFound)

		next, nextParticipants := newSupportRoom(3)
		created, err := store.InsertRoomIfAbsent(ctx, next, nextParticipants)
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestCompareAndSwapStatusConcurrent(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	room, participants := newSupportRoom(11)
	_, err := store.InsertRoomIfAbsent(ctx, room, participants)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CompareAndSwapStatus(ctx, room.ID, models.ClaimableStatuses, models.StatusAssigned)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestListRoomsByStatus(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	var ids []uint
	for _, customerID := range []uint{1, 2, 3} {
		room, participants := newSupportRoom(customerID)
		_, err := store.InsertRoomIfAbsent(ctx, room, participants)
		require.NoError(t, err)
		ids = append(ids, room.ID)
	}
	_, err := store.CompareAndSwapStatus(ctx, ids[1], models.ClaimableStatuses, models.StatusAssigned)
	require.NoError(t, err)

	rooms, err := store.ListRoomsByStatus(ctx, models.ClaimableStatuses)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, ids[0], rooms[0].ID)
	assert.Equal(t, ids[2], rooms[1].ID)
}

func TestParticipantMembership(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	room, participants := newSupportRoom(5)
	_, err := store.InsertRoomIfAbsent(ctx, room, participants)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.AddParticipant(ctx, &models.RoomParticipant{
		RoomID: room.ID, AccountID: 9, Role: models.RoleStaff, JoinedAt: now,
	}))

	count, err := store.CountActiveParticipants(ctx, room.ID, models.RoleStaff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	left, err := store.MarkParticipantLeft(ctx, room.ID, 9, now)
	require.NoError(t, err)
	assert.True(t, left)

	left, err = store.MarkParticipantLeft(ctx, room.ID, 9, now)
	require.NoError(t, err)
	assert.False(t, left)

	count, err = store.CountActiveParticipants(ctx, room.ID, models.RoleStaff)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Historical membership is still found
	p, err := store.FindParticipant(ctx, room.ID, 9)
	require.NoError(t, err)
	assert.False(t, p.IsActive())

	all, err := store.Participants(ctx, room.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.MarkAllParticipantsLeft(ctx, room.ID, now))
	active, err := store.Participants(ctx, room.ID, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMessagesAndActivity(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	first, firstParticipants := newSupportRoom(1)
	_, err := store.InsertRoomIfAbsent(ctx, first, firstParticipants)
	require.NoError(t, err)

	key := models.DirectRoomKey(1, 2)
	base := time.Now().UTC()
	second := &models.ChatRoom{
		Kind:           models.RoomKindDirect,
		Status:         models.StatusDirect,
		DirectKey:      &key,
		LastActivityAt: base,
	}
	_, err = store.InsertRoomIfAbsent(ctx, second, []models.RoomParticipant{
		{AccountID: 1, Role: models.RoleCustomer, JoinedAt: base},
		{AccountID: 2, Role: models.RoleCustomer, JoinedAt: base},
	})
	require.NoError(t, err)

	text := "hello"
	sentAt := base.Add(time.Minute)
	for i := 0; i < 3; i++ {
		msg := &models.ChatMessage{RoomID: first.ID, SenderID: 1, Text: &text, CreatedAt: sentAt}
		require.NoError(t, store.CreateMessage(ctx, msg))
	}

	messages, err := store.ListMessages(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Less(t, messages[0].ID, messages[1].ID)
	assert.Less(t, messages[1].ID, messages[2].ID)

	latest, err := store.LatestMessage(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, messages[2].ID, latest.ID)

	_, err = store.LatestMessage(ctx, second.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rooms, err := store.ListRoomsForAccount(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, first.ID, rooms[0].ID, "room with the newest message comes first")
	assert.Len(t, rooms[1].Participants, 2)

	found, err := store.FindRoomByDirectKey(ctx, models.DirectRoomKey(2, 1))
	require.NoError(t, err)
	assert.Equal(t, second.ID, found.ID)
}

func TestHasStaffSeenSince(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	room, participants := newSupportRoom(4)
	_, err := store.InsertRoomIfAbsent(ctx, room, participants)
	require.NoError(t, err)

	joined := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.AddParticipant(ctx, &models.RoomParticipant{
		RoomID: room.ID, AccountID: 8, Role: models.RoleStaff, JoinedAt: joined,
	}))

	messageAt := joined.Add(10 * time.Minute)

	seen, err := store.HasStaffSeenSince(ctx, room.ID, messageAt)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkSeen(ctx, room.ID, 8, messageAt.Add(time.Second)))
	seen, err = store.HasStaffSeenSince(ctx, room.ID, messageAt)
	require.NoError(t, err)
	assert.True(t, seen)

	// Customer views do not count
	require.NoError(t, store.MarkSeen(ctx, room.ID, 4, messageAt.Add(time.Hour)))
	seen, err = store.HasStaffSeenSince(ctx, room.ID, messageAt.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestTransactionRollback(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewChatStore(db)
	ctx := context.Background()

	room, participants := newSupportRoom(6)
	_, err := store.InsertRoomIfAbsent(ctx, room, participants)
	require.NoError(t, err)

	err = store.Transaction(ctx, func(tx *ChatStore) error {
		if _, err := tx.CompareAndSwapStatus(ctx, room.ID, models.ClaimableStatuses, models.StatusAssigned); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	reloaded, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingSupport, reloaded.Status)
}
