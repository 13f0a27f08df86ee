package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kendall-kelly/support-chat-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationStore persists notifications and the per-recipient boxes they fan out to
type NotificationStore struct {
	db            *gorm.DB
	notifications Repository[models.Notification]
	boxes         Repository[models.NotificationBox]
}

// NewNotificationStore creates a notification store on db
func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{
		db:            db,
		notifications: NewGormRepository[models.Notification](db),
		boxes:         NewGormRepository[models.NotificationBox](db),
	}
}

// CreateNotification stores n once and one box per recipient. Both inserts ignore
// duplicates, so replaying the same notification is a no-op. Boxes are written one by
// one; a failure for one recipient does not stop the others and is reported after the
// loop so the caller can retry the whole call.
func (s *NotificationStore) CreateNotification(ctx context.Context, n *models.Notification, recipientIDs []uint) error {
	if n.ID == "" {
		return errors.New("notification id is required")
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(n).Error
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	var errs []error
	for _, recipientID := range recipientIDs {
		box := models.NotificationBox{NotificationID: n.ID, RecipientID: recipientID}
		err := s.db.WithContext(ctx).
			Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&box).Error
		if err != nil {
			errs = append(errs, fmt.Errorf("insert box for recipient %d: %w", recipientID, err))
		}
	}
	return errors.Join(errs...)
}

// GetNotification loads a shared notification by id
func (s *NotificationStore) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	return s.notifications.GetByID(ctx, id)
}

// GetNotificationsByUserID returns the user's boxes that were not deleted, newest first
func (s *NotificationStore) GetNotificationsByUserID(ctx context.Context, userID uint) ([]models.NotificationBox, error) {
	var boxes []models.NotificationBox
	err := s.db.WithContext(ctx).
		Preload("Notification").
		Where("recipient_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&boxes).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return boxes, nil
}

// GetBox loads one non-deleted box
func (s *NotificationStore) GetBox(ctx context.Context, boxID uint) (*models.NotificationBox, error) {
	return s.boxes.GetByID(ctx, boxID)
}

// DeleteNotification soft-deletes a single recipient's box. The shared notification and
// other recipients' boxes are untouched.
func (s *NotificationStore) DeleteNotification(ctx context.Context, boxID uint) error {
	return s.boxes.Delete(ctx, &models.NotificationBox{ID: boxID})
}

// MarkNotificationSeen flags a box owned by userID as seen
func (s *NotificationStore) MarkNotificationSeen(ctx context.Context, boxID, userID uint) error {
	res := s.db.WithContext(ctx).
		Model(&models.NotificationBox{}).
		Where("id = ? AND recipient_id = ?", boxID, userID).
		Update("seen", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification seen: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
