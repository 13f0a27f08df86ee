package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kendall-kelly/support-chat-api/models"
	"github.com/kendall-kelly/support-chat-api/repository"
	"github.com/rs/zerolog"
)

// Counterpart is the display identity of the other side of a room
type Counterpart struct {
	AccountID uint   `json:"account_id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ChatRoomSummary is one entry of a user's chat list
type ChatRoomSummary struct {
	models.ChatRoom
	Counterpart *Counterpart `json:"counterpart,omitempty"`
}

// RoomMessageEvent is the hub payload for a new message
type RoomMessageEvent struct {
	RoomID  uint                `json:"room_id"`
	Message *models.ChatMessage `json:"message"`
}

// ChatService handles messages and chat listings. Room state changes go through the
// ChatRoomManager.
type ChatService struct {
	store     *repository.ChatStore
	rooms     *ChatRoomManager
	directory AccountDirectory
	hub       PushHub
	notifier  NotificationSender
	images    ImageService
	log       zerolog.Logger
	now       func() time.Time

	fanout sync.WaitGroup
}

// NewChatService creates a chat service. images may be nil when uploads are disabled.
func NewChatService(
	store *repository.ChatStore,
	rooms *ChatRoomManager,
	directory AccountDirectory,
	hub PushHub,
	notifier NotificationSender,
	images ImageService,
	log zerolog.Logger,
) *ChatService {
	return &ChatService{
		store:     store,
		rooms:     rooms,
		directory: directory,
		hub:       hub,
		notifier:  notifier,
		images:    images,
		log:       log.With().Str("component", "chat_service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage stores a message from an active participant of an open room. Hub events
// and push jobs are emitted in the background after the message is persisted.
func (s *ChatService) SendMessage(ctx context.Context, roomID, senderID uint, text, imageKey string) (*models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	imageKey = strings.TrimSpace(imageKey)
	if text == "" && imageKey == "" {
		return nil, validationError("message must contain text or an image")
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("chat room not found")
	}
	if err != nil {
		return nil, err
	}
	if !room.IsOpen() {
		return nil, conflictError("chat room is closed")
	}

	participants, err := s.store.Participants(ctx, roomID, true)
	if err != nil {
		return nil, err
	}
	var sender *models.RoomParticipant
	for i := range participants {
		if participants[i].AccountID == senderID {
			sender = &participants[i]
			break
		}
	}
	if sender == nil {
		return nil, forbiddenError("you are not a participant of this chat room")
	}

	msg := &models.ChatMessage{
		RoomID:    roomID,
		SenderID:  senderID,
		CreatedAt: s.now(),
	}
	if text != "" {
		msg.Text = &text
	}
	if imageKey != "" {
		msg.ImageKey = &imageKey
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.MarkSeen(ctx, roomID, senderID, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Uint("room_id", roomID).Msg("Failed to mark room seen for sender")
	}
	s.attachImageURL(ctx, msg)

	var others []uint
	for _, p := range participants {
		if p.AccountID != senderID {
			others = append(others, p.AccountID)
		}
	}

	s.fanout.Add(1)
	go func() {
		defer s.fanout.Done()
		s.fanOutMessage(context.WithoutCancel(ctx), room, sender, msg, others)
	}()

	return msg, nil
}

func (s *ChatService) fanOutMessage(ctx context.Context, room *models.ChatRoom, sender *models.RoomParticipant, msg *models.ChatMessage, others []uint) {
	evt := RoomMessageEvent{RoomID: room.ID, Message: msg}
	if err := s.hub.EmitToRoom(ctx, EventRoomMessage, evt, room.ID); err != nil {
		s.log.Warn().Err(err).Uint("room_id", room.ID).Msg("Failed to emit room message")
	}
	if len(others) > 0 {
		if err := s.hub.EmitToUsers(ctx, EventChatListChanged, map[string]uint{"room_id": room.ID}, others); err != nil {
			s.log.Warn().Err(err).Uint("room_id", room.ID).Msg("Failed to emit chat list change")
		}
	}

	if !room.IsSupport() {
		return
	}

	if len(others) > 0 {
		body := "Sent an image"
		if msg.Text != nil {
			body = *msg.Text
		}
		_, err := s.notifier.BatchingPushNotification(ctx, models.NotificationJob{
			Type:         models.NotificationCommon,
			Title:        "New support message",
			Body:         body,
			Payload:      mustJSON(map[string]uint{"room_id": room.ID, "message_id": msg.ID}),
			RecipientIDs: others,
		})
		if err != nil {
			s.log.Warn().Err(err).Uint("room_id", room.ID).Msg("Failed to enqueue message push")
		}
	}

	// A customer writing into an abandoned room reminds the staff pool
	if sender.Role == models.RoleCustomer && room.Status == models.StatusAwaitingNewSupporter {
		if _, err := s.rooms.RequestNewSupporter(ctx, room.ID); err != nil {
			s.log.Warn().Err(err).Uint("room_id", room.ID).Msg("Failed to request new supporter")
		}
	}
}

// Wait blocks until background fan-out of sent messages has finished
func (s *ChatService) Wait() {
	s.fanout.Wait()
}

// GetChatMessages returns a room's history to anyone who has ever participated in it
// and marks the room seen for the requester
func (s *ChatService) GetChatMessages(ctx context.Context, roomID, requesterID uint) ([]models.ChatMessage, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("chat room not found")
		}
		return nil, err
	}

	if _, err := s.store.FindParticipant(ctx, roomID, requesterID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, forbiddenError("you are not a participant of this chat room")
		}
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkSeen(ctx, roomID, requesterID, s.now()); err != nil {
		s.log.Warn().Err(err).Uint("room_id", roomID).Msg("Failed to mark room seen")
	}

	for i := range messages {
		s.attachImageURL(ctx, &messages[i])
	}
	return messages, nil
}

// GetUserChatRooms lists every room the account joined, most recently active first,
// each with the identity of the other side
func (s *ChatService) GetUserChatRooms(ctx context.Context, accountID uint) ([]ChatRoomSummary, error) {
	rooms, err := s.store.ListRoomsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	counterparts := make(map[uint]uint, len(rooms))
	var ids []uint
	for _, room := range rooms {
		if id, ok := counterpartOf(room, accountID); ok {
			counterparts[room.ID] = id
			ids = append(ids, id)
		}
	}

	accounts, err := s.directory.LookupMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve counterparts: %w", err)
	}

	summaries := make([]ChatRoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summary := ChatRoomSummary{ChatRoom: room}
		if id, ok := counterparts[room.ID]; ok {
			if account, ok := accounts[id]; ok {
				summary.Counterpart = &Counterpart{AccountID: account.ID, Name: account.Name, AvatarURL: account.AvatarURL}
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// counterpartOf picks the account shown opposite accountID: the other member of a
// direct room, the customer for staff, or the most recent staff member for the customer
func counterpartOf(room models.ChatRoom, accountID uint) (uint, bool) {
	if room.IsSupport() && room.CustomerID != nil && *room.CustomerID != accountID {
		return *room.CustomerID, true
	}

	var found *models.RoomParticipant
	for i := range room.Participants {
		p := &room.Participants[i]
		if p.AccountID == accountID {
			continue
		}
		if found == nil || (p.IsActive() && !found.IsActive()) || (p.IsActive() == found.IsActive() && p.JoinedAt.After(found.JoinedAt)) {
			found = p
		}
	}
	if found == nil {
		return 0, false
	}
	return found.AccountID, true
}

// GetChatRoomParticipants returns the ids of the room's active participants
func (s *ChatService) GetChatRoomParticipants(ctx context.Context, roomID uint) ([]uint, error) {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundError("chat room not found")
		}
		return nil, err
	}

	participants, err := s.store.Participants(ctx, roomID, true)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.AccountID)
	}
	return ids, nil
}

func (s *ChatService) attachImageURL(ctx context.Context, msg *models.ChatMessage) {
	if s.images == nil || msg.ImageKey == nil {
		return
	}
	url, err := s.images.GetImageURL(ctx, *msg.ImageKey)
	if err != nil {
		s.log.Warn().Err(err).Uint("message_id", msg.ID).Msg("Failed to generate image URL")
		return
	}
	msg.ImageURL = &url
}
