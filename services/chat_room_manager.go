package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/repository"
	"github.com/rs/zerolog"
)

// SupportRoomEvent is the push hub payload for support queue changes
type SupportRoomEvent struct {
	RoomID     uint   `json:"room_id"`
	CustomerID uint   `json:"customer_id"`
	Status     string `json:"status"`
	StaffID    uint   `json:"staff_id,omitempty"`
}

func supportRoomEvent(room *models.ChatRoom) SupportRoomEvent {
	evt := SupportRoomEvent{RoomID: room.ID, Status: room.Status}
	if room.CustomerID != nil {
		evt.CustomerID = *room.CustomerID
	}
	return evt
}

// ChatRoomManager owns the room state machine and is the only writer of room
// membership. Every status transition is a conditional update in the store, so
// concurrent callers on any number of instances cannot both win.
type ChatRoomManager struct {
	store     *repository.ChatStore
	directory AccountDirectory
	hub       PushHub
	notifier  NotificationSender
	log       zerolog.Logger
	now       func() time.Time
}

// NewChatRoomManager creates a room manager
func NewChatRoomManager(store *repository.ChatStore, directory AccountDirectory, hub PushHub, notifier NotificationSender, log zerolog.Logger) *ChatRoomManager {
	return &ChatRoomManager{
		store:     store,
		directory: directory,
		hub:       hub,
		notifier:  notifier,
		log:       log.With().Str("component", "chat_room_manager").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiateSupportChatRoom returns the customer's open support room, creating one in
// PendingSupport and alerting the staff pool if none exists
func (m *ChatRoomManager) InitiateSupportChatRoom(ctx context.Context, customerID uint) (*models.ChatRoom, error) {
	customer, err := m.lookupAccount(ctx, customerID, "customer not found")
	if err != nil {
		return nil, err
	}
	if customer.IsStaff() {
		return nil, forbiddenError("staff accounts cannot open support requests")
	}

	room, err := m.store.FindOpenSupportRoom(ctx, customerID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := m.now()
	key := models.SupportRoomKey(customerID)
	cid := customerID
	room = &models.ChatRoom{
		Kind:           models.RoomKindSupport,
		Status:         models.StatusPendingSupport,
		SupportKey:     &key,
		CustomerID:     &cid,
		LastActivityAt: now,
	}
	created, err := m.store.InsertRoomIfAbsent(ctx, room, []models.RoomParticipant{
		{AccountID: customerID, Role: models.RoleCustomer, JoinedAt: now},
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// A concurrent call opened it first
		return m.store.FindOpenSupportRoom(ctx, customerID)
	}

	m.log.Info().Uint("room_id", room.ID).Uint("customer_id", customerID).Msg("Support request opened")
	m.broadcastToStaff(ctx, EventSupportPending, room,
		"New support request",
		fmt.Sprintf("%s is waiting for a supporter", customer.Name))
	return room, nil
}

// AssignStaffToChatRoom lets a staff member claim a waiting support room. Exactly one
// of several concurrent claims succeeds; the others get a conflict.
func (m *ChatRoomManager) AssignStaffToChatRoom(ctx context.Context, roomID, staffID, customerID uint) (*models.ChatRoom, error) {
	staff, err := m.lookupAccount(ctx, staffID, "staff member not found")
	if err != nil {
		return nil, err
	}
	if !staff.IsStaff() {
		return nil, forbiddenError("only staff members can claim support requests")
	}

	room, err := m.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsSupport() {
		return nil, validationError("chat room is not a support room")
	}
	if room.CustomerID == nil || *room.CustomerID != customerID {
		return nil, validationError("customer does not match the support request")
	}

	now := m.now()
	claimed := false
	err = m.store.Transaction(ctx, func(tx *repository.ChatStore) error {
		ok, err := tx.CompareAndSwapStatus(ctx, roomID, models.ClaimableStatuses, models.StatusAssigned)
		if err != nil || !ok {
			return err
		}
		claimed = true
		return tx.AddParticipant(ctx, &models.RoomParticipant{
			RoomID:    roomID,
			AccountID: staffID,
			Role:      models.RoleStaff,
			JoinedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := m.getRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.StatusClosed {
			return nil, conflictError("chat room is closed")
		}
		return nil, conflictError("chat room is already assigned")
	}

	room, err = m.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m.log.Info().Uint("room_id", roomID).Uint("staff_id", staffID).Msg("Support request assigned")

	evt := supportRoomEvent(room)
	evt.StaffID = staffID
	m.emitToUsers(ctx, EventSupportAssigned, evt, []uint{customerID})
	m.emitToRoom(ctx, EventSupportAssigned, evt, roomID)
	m.enqueuePush(ctx, models.NotificationJob{
		Type:         models.NotificationCommon,
		Title:        "A supporter joined your chat",
		Body:         fmt.Sprintf("%s is now helping you", staff.Name),
		Payload:      mustJSON(evt),
		RecipientIDs: []uint{customerID},
	})
	return room, nil
}

// RemoveStaffFromChatRoom marks a staff member as having left. When the last active
// staff member leaves an Assigned room it goes back to the queue as
// AwaitingNewSupporter and the staff pool is alerted.
func (m *ChatRoomManager) RemoveStaffFromChatRoom(ctx context.Context, roomID, staffID uint) (*models.ChatRoom, error) {
	room, err := m.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsSupport() {
		return nil, validationError("chat room is not a support room")
	}

	now := m.now()
	requeued := false
	err = m.store.Transaction(ctx, func(tx *repository.ChatStore) error {
		if err := tx.LockRoom(ctx, roomID); err != nil {
			return err
		}
		p, err := tx.FindParticipant(ctx, roomID, staffID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && (!p.IsActive() || p.Role != models.RoleStaff)) {
			return validationError("staff member is not an active participant of this chat room")
		}
		if err != nil {
			return err
		}
		if _, err := tx.MarkParticipantLeft(ctx, roomID, staffID, now); err != nil {
			return err
		}

		remaining, err := tx.CountActiveParticipants(ctx, roomID, models.RoleStaff)
		if err != nil || remaining > 0 {
			return err
		}
		requeued, err = tx.CompareAndSwapStatus(ctx, roomID, []string{models.StatusAssigned}, models.StatusAwaitingNewSupporter)
		return err
	})
	if err != nil {
		return nil, err
	}

	room, err = m.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m.log.Info().Uint("room_id", roomID).Uint("staff_id", staffID).Bool("requeued", requeued).Msg("Staff left support room")

	if requeued {
		m.broadcastToStaff(ctx, EventNewSupporterRequested, room,
			"Support request needs a new supporter",
			"A customer is waiting for someone to take over their conversation")
	}
	return room, nil
}

// RequestNewSupporter re-broadcasts a waiting support room to the staff pool. It is a
// no-op for an Assigned room.
func (m *ChatRoomManager) RequestNewSupporter(ctx context.Context, roomID uint) (*models.ChatRoom, error) {
	room, err := m.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsSupport() {
		return nil, validationError("chat room is not a support room")
	}

	switch room.Status {
	case models.StatusAssigned:
		return room, nil
	case models.StatusClosed:
		return nil, conflictError("chat room is closed")
	}

	m.broadcastToStaff(ctx, EventNewSupporterRequested, room,
		"Support request needs a supporter",
		"A customer is still waiting for help")
	return room, nil
}

// CheckIfAllSupportersLeftAndUnseen reports whether the room has no active staff and
// its latest message has not been seen by any staff member. A room without messages
// reports false.
func (m *ChatRoomManager) CheckIfAllSupportersLeftAndUnseen(ctx context.Context, roomID uint) (bool, error) {
	room, err := m.getRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !room.IsSupport() {
		return false, validationError("chat room is not a support room")
	}

	active, err := m.store.CountActiveParticipants(ctx, roomID, models.RoleStaff)
	if err != nil {
		return false, err
	}
	if active > 0 {
		return false, nil
	}

	latest, err := m.store.LatestMessage(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	seen, err := m.store.HasStaffSeenSince(ctx, roomID, latest.CreatedAt)
	if err != nil {
		return false, err
	}
	return !seen, nil
}

// GetPendingSupportRequests lists the support rooms waiting for a supporter, oldest first
func (m *ChatRoomManager) GetPendingSupportRequests(ctx context.Context) ([]models.ChatRoom, error) {
	return m.store.ListRoomsByStatus(ctx, models.ClaimableStatuses)
}

// CreateChatRoom returns the direct room between two accounts, creating it on first
// contact. Argument order does not matter.
func (m *ChatRoomManager) CreateChatRoom(ctx context.Context, senderID, receiverID uint) (*models.ChatRoom, error) {
	if senderID == 0 || receiverID == 0 {
		return nil, validationError("sender and receiver are required")
	}
	if senderID == receiverID {
		return nil, validationError("cannot create a chat room with yourself")
	}

	accounts, err := m.directory.LookupMany(ctx, []uint{senderID, receiverID})
	if err != nil {
		return nil, err
	}
	sender, ok := accounts[senderID]
	if !ok {
		return nil, notFoundError("sender account not found")
	}
	receiver, ok := accounts[receiverID]
	if !ok {
		return nil, notFoundError("receiver account not found")
	}

	key := models.DirectRoomKey(senderID, receiverID)
	room, err := m.store.FindRoomByDirectKey(ctx, key)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := m.now()
	room = &models.ChatRoom{
		Kind:           models.RoomKindDirect,
		Status:         models.StatusDirect,
		DirectKey:      &key,
		LastActivityAt: now,
	}
	created, err := m.store.InsertRoomIfAbsent(ctx, room, []models.RoomParticipant{
		{AccountID: sender.ID, Role: sender.Role, JoinedAt: now},
		{AccountID: receiver.ID, Role: receiver.Role, JoinedAt: now},
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return m.store.FindRoomByDirectKey(ctx, key)
	}

	m.emitToUsers(ctx, EventChatListChanged, map[string]uint{"room_id": room.ID}, []uint{receiverID})
	return room, nil
}

// CloseChatRoom closes an open support room and ends every active membership. The
// actor must be an active participant or a staff member.
func (m *ChatRoomManager) CloseChatRoom(ctx context.Context, roomID, actorID uint) (*models.ChatRoom, error) {
	room, err := m.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsSupport() {
		return nil, validationError("only support rooms can be closed")
	}
	if err := m.authorizeClose(ctx, roomID, actorID); err != nil {
		return nil, err
	}

	now := m.now()
	err = m.store.Transaction(ctx, func(tx *repository.ChatStore) error {
		ok, err := tx.CompareAndSwapStatus(ctx, roomID, models.OpenSupportStatuses, models.StatusClosed)
		if err != nil {
			return err
		}
		if !ok {
			return conflictError("chat room is already closed")
		}
		return tx.MarkAllParticipantsLeft(ctx, roomID, now)
	})
	if err != nil {
		return nil, err
	}

	room, err = m.getRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	m.log.Info().Uint("room_id", roomID).Uint("actor_id", actorID).Msg("Support room closed")
	m.emitToRoom(ctx, EventSupportClosed, supportRoomEvent(room), roomID)
	return room, nil
}

// GetRoom loads a room by id
func (m *ChatRoomManager) GetRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error) {
	return m.getRoom(ctx, roomID)
}

func (m *ChatRoomManager) authorizeClose(ctx context.Context, roomID, actorID uint) error {
	p, err := m.store.FindParticipant(ctx, roomID, actorID)
	if err == nil && p.IsActive() {
		return nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	actor, err := m.lookupAccount(ctx, actorID, "account not found")
	if err != nil {
		return err
	}
	if !actor.IsStaff() {
		return forbiddenError("only participants or staff can close this chat room")
	}
	return nil
}

func (m *ChatRoomManager) getRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error) {
	room, err := m.store.GetRoom(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("chat room not found")
	}
	return room, err
}

func (m *ChatRoomManager) lookupAccount(ctx context.Context, id uint, notFoundMsg string) (*models.Account, error) {
	account, err := m.directory.Lookup(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError(notFoundMsg)
	}
	return account, err
}

// broadcastToStaff alerts the whole staff pool through the hub and a push job.
// Failures are logged; the state change that triggered them already happened.
func (m *ChatRoomManager) broadcastToStaff(ctx context.Context, event string, room *models.ChatRoom, title, body string) {
	staff, err := m.directory.ListStaffIDs(ctx)
	if err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("Failed to list staff pool")
		return
	}
	if len(staff) == 0 {
		m.log.Warn().Str("event", event).Uint("room_id", room.ID).Msg("No staff to notify")
		return
	}

	evt := supportRoomEvent(room)
	m.emitToUsers(ctx, event, evt, staff)
	m.enqueuePush(ctx, models.NotificationJob{
		Type:         models.NotificationOther,
		Title:        title,
		Body:         body,
		Payload:      mustJSON(evt),
		RecipientIDs: staff,
	})
}

func (m *ChatRoomManager) emitToUsers(ctx context.Context, event string, payload interface{}, userIDs []uint) {
	if err := m.hub.EmitToUsers(ctx, event, payload, userIDs); err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("Failed to emit hub event")
	}
}

func (m *ChatRoomManager) emitToRoom(ctx context.Context, event string, payload interface{}, roomID uint) {
	if err := m.hub.EmitToRoom(ctx, event, payload, roomID); err != nil {
		m.log.Warn().Err(err).Str("event", event).Uint("room_id", roomID).Msg("Failed to emit hub event")
	}
}

func (m *ChatRoomManager) enqueuePush(ctx context.Context, job models.NotificationJob) {
	if _, err := m.notifier.BatchingPushNotification(ctx, job); err != nil {
		m.log.Warn().Err(err).Str("title", job.Title).Msg("Failed to enqueue push notification")
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
