package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kendall-kelly/support-chat-api/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatStore persists rooms, participants and messages
type ChatStore struct {
	db       *gorm.DB
	rooms    Repository[models.ChatRoom]
	messages Repository[models.ChatMessage]
}

// NewChatStore creates a chat store on db
func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{
		db:       db,
		rooms:    NewGormRepository[models.ChatRoom](db),
		messages: NewGormRepository[models.ChatMessage](db),
	}
}

// Transaction runs fn against a store bound to a single database transaction
func (s *ChatStore) Transaction(ctx context.Context, fn func(tx *ChatStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewChatStore(tx))
	})
}

// GetRoom loads a room without its participants
func (s *ChatStore) GetRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error) {
	return s.rooms.GetByID(ctx, roomID)
}

// FindRoomByDirectKey returns the direct room for an unordered account pair
func (s *ChatStore) FindRoomByDirectKey(ctx context.Context, key string) (*models.ChatRoom, error) {
	return s.findOne(ctx, "direct_key = ?", key)
}

// FindOpenSupportRoom returns the customer's support room that is not closed
func (s *ChatStore) FindOpenSupportRoom(ctx context.Context, customerID uint) (*models.ChatRoom, error) {
	return s.findOne(ctx, "support_key = ?", models.SupportRoomKey(customerID))
}

func (s *ChatStore) findOne(ctx context.Context, query string, args ...interface{}) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := s.db.WithContext(ctx).Where(query, args...).First(&room).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

// InsertRoomIfAbsent inserts room and its participants unless a room with the same
// direct or support key already exists. It reports whether the insert happened.
func (s *ChatStore) InsertRoomIfAbsent(ctx context.Context, room *models.ChatRoom, participants []models.RoomParticipant) (bool, error) {
	created := false
	err := s.Transaction(ctx, func(tx *ChatStore) error {
		res := tx.db.WithContext(ctx).
			Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(room)
		if res.Error != nil {
			return fmt.Errorf("insert chat room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		for i := range participants {
			participants[i].RoomID = room.ID
			if err := tx.db.WithContext(ctx).Create(&participants[i]).Error; err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		created = true
		return nil
	})
	return created, err
}

// CompareAndSwapStatus moves the room to status `to` only if its current status is one
// of `from`. It reports whether this call performed the transition.
func (s *ChatStore) CompareAndSwapStatus(ctx context.Context, roomID uint, from []string, to string) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if to == models.StatusClosed {
		updates["support_key"] = gorm.Expr("NULL")
	}

	res := s.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ? AND status IN ?", roomID, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update room status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// LockRoom touches the room row so that concurrent transactions on the same room
// queue behind each other until commit
func (s *ChatStore) LockRoom(ctx context.Context, roomID uint) error {
	res := s.db.WithContext(ctx).
		Model(&models.ChatRoom{}).
		Where("id = ?", roomID).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("lock room: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRoomsByStatus returns rooms in any of statuses, oldest first
func (s *ChatStore) ListRoomsByStatus(ctx context.Context, statuses []string) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC, id ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms by status: %w", err)
	}
	return rooms, nil
}

// ListRoomsForAccount returns every room the account ever joined, most recently
// active first, with all participants loaded
func (s *ChatStore) ListRoomsForAccount(ctx context.Context, accountID uint) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Where("id IN (?)", s.db.Model(&models.RoomParticipant{}).Select("room_id").Where("account_id = ?", accountID)).
		Order("last_activity_at DESC, id DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("list rooms for account: %w", err)
	}
	return rooms, nil
}

// Participants returns the room's participants; activeOnly drops those who left
func (s *ChatStore) Participants(ctx context.Context, roomID uint, activeOnly bool) ([]models.RoomParticipant, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if activeOnly {
		q = q.Where("left_at IS NULL")
	}
	var participants []models.RoomParticipant
	if err := q.Order("joined_at ASC, id ASC").Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// FindParticipant returns the most recent membership row of accountID in roomID
func (s *ChatStore) FindParticipant(ctx context.Context, roomID, accountID uint) (*models.RoomParticipant, error) {
	var p models.RoomParticipant
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND account_id = ?", roomID, accountID).
		Order("left_at IS NULL DESC, joined_at DESC, id DESC").
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// AddParticipant inserts a new active membership
func (s *ChatStore) AddParticipant(ctx context.Context, p *models.RoomParticipant) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// MarkParticipantLeft sets left_at on the active membership of accountID.
// It reports whether an active membership existed.
func (s *ChatStore) MarkParticipantLeft(ctx context.Context, roomID, accountID uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.RoomParticipant{}).
		Where("room_id = ? AND account_id = ? AND left_at IS NULL", roomID, accountID).
		Update("left_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("mark participant left: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkAllParticipantsLeft closes every active membership of the room
func (s *ChatStore) MarkAllParticipantsLeft(ctx context.Context, roomID uint, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.RoomParticipant{}).
		Where("room_id = ? AND left_at IS NULL", roomID).
		Update("left_at", at).Error
	if err != nil {
		return fmt.Errorf("mark participants left: %w", err)
	}
	return nil
}

// CountActiveParticipants counts active memberships with the given role
func (s *ChatStore) CountActiveParticipants(ctx context.Context, roomID uint, role string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.RoomParticipant{}).
		Where("room_id = ? AND role = ? AND left_at IS NULL", roomID, role).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}

// MarkSeen records that accountID has read the room up to `at`
func (s *ChatStore) MarkSeen(ctx context.Context, roomID, accountID uint, at time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&models.RoomParticipant{}).
		Where("room_id = ? AND account_id = ?", roomID, accountID).
		Update("last_seen_at", at).Error
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// HasStaffSeenSince reports whether any staff participant, active or not, saw the
// room at or after `at`
func (s *ChatStore) HasStaffSeenSince(ctx context.Context, roomID uint, at time.Time) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.RoomParticipant{}).
		Where("room_id = ? AND role = ? AND last_seen_at IS NOT NULL AND last_seen_at >= ?", roomID, models.RoleStaff, at).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check staff seen: %w", err)
	}
	return n > 0, nil
}

// CreateMessage persists msg and bumps the room's activity timestamp
func (s *ChatStore) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.Transaction(ctx, func(tx *ChatStore) error {
		if err := tx.db.WithContext(ctx).Omit(clause.Associations).Create(msg).Error; err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		err := tx.db.WithContext(ctx).
			Model(&models.ChatRoom{}).
			Where("id = ?", msg.RoomID).
			Update("last_activity_at", msg.CreatedAt).Error
		if err != nil {
			return fmt.Errorf("touch room: %w", err)
		}
		return nil
	})
}

// ListMessages returns the full history of a room in (created_at, id) order
func (s *ChatStore) ListMessages(ctx context.Context, roomID uint) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// LatestMessage returns the newest message of a room
func (s *ChatStore) LatestMessage(ctx context.Context, roomID uint) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// GetMessage loads one message by id
func (s *ChatStore) GetMessage(ctx context.Context, messageID uint) (*models.ChatMessage, error) {
	return s.messages.GetByID(ctx, messageID)
}
