package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNotification(title string) *models.Notification {
	return &models.Notification{
		ID:    uuid.NewString(),
		Type:  models.NotificationCommon,
		Title: title,
		Body:  title + " body",
	}
}

func TestCreateNotification(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewNotificationStore(db)
	ctx := context.Background()

	t.Run("fans out one box per recipient", func(t *testing.T) {
		n := newNotification("welcome")
		require.NoError(t, store.CreateNotification(ctx, n, []uint{1, 2, 3}))

		for _, userID := range []uint{1, 2, 3} {
			boxes, err := store.GetNotificationsByUserID(ctx, userID)
			require.NoError(t, err)
			require.Len(t, boxes, 1)
			assert.Equal(t, n.ID, boxes[0].NotificationID)
			assert.Equal(t, "welcome", boxes[0].Notification.Title)
			assert.False(t, boxes[0].Seen)
		}
	})

	t.Run("replay is a no-op", func(t *testing.T) {
		n := newNotification("replayed")
		require.NoError(t, store.CreateNotification(ctx, n, []uint{10}))

		again := *n
		require.NoError(t, store.CreateNotification(ctx, &again, []uint{10, 11}))

		boxes, err := store.GetNotificationsByUserID(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, boxes, 1)

		boxes, err = store.GetNotificationsByUserID(ctx, 11)
		require.NoError(t, err)
		assert.Len(t, boxes, 1, "replay still fills in missing recipients")

		var count int64
		db.Model(&models.Notification{}).Where("id = ?", n.ID).Count(&count)
		assert.Equal(t, int64(1), count)
	})

	t.Run("missing id is rejected", func(t *testing.T) {
		err := store.CreateNotification(ctx, &models.Notification{Title: "x"}, []uint{1})
		assert.Error(t, err)
	})
}

func TestGetNotificationsByUserIDOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewNotificationStore(db)
	ctx := context.Background()

	older := newNotification("older")
	newer := newNotification("newer")
	require.NoError(t, store.CreateNotification(ctx, older, []uint{1}))
	require.NoError(t, store.CreateNotification(ctx, newer, []uint{1}))

	boxes, err := store.GetNotificationsByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, boxes, 2)
	assert.Equal(t, newer.ID, boxes[0].NotificationID)
	assert.Equal(t, older.ID, boxes[1].NotificationID)
}

func TestDeleteNotification(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewNotificationStore(db)
	ctx := context.Background()

	n := newNotification("shared")
	require.NoError(t, store.CreateNotification(ctx, n, []uint{1, 2}))

	boxes, err := store.GetNotificationsByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	require.NoError(t, store.DeleteNotification(ctx, boxes[0].ID))

	boxes, err = store.GetNotificationsByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, boxes)

	// Other recipients and the notification itself are untouched
	boxes, err = store.GetNotificationsByUserID(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, boxes, 1)

	stored, err := store.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "shared", stored.Title)

	err = store.DeleteNotification(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkNotificationSeen(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewNotificationStore(db)
	ctx := context.Background()

	n := newNotification("seen")
	require.NoError(t, store.CreateNotification(ctx, n, []uint{1}))
	boxes, err := store.GetNotificationsByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	assert.ErrorIs(t, store.MarkNotificationSeen(ctx, boxes[0].ID, 2), ErrNotFound)
	require.NoError(t, store.MarkNotificationSeen(ctx, boxes[0].ID, 1))

	box, err := store.GetBox(ctx, boxes[0].ID)
	require.NoError(t, err)
	assert.True(t, box.Seen)
}
