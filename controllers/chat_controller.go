package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/middleware"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/kendall-kelly/support-chat-api/utils"
	"github.com/rs/zerolog"
)

// CreateChatRoomRequest represents the request body for opening a direct chat
type CreateChatRoomRequest struct {
	ReceiverID uint `json:"receiver_id" binding:"required"`
}

// SendMessageRequest represents the JSON body for sending a text message
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ChatController serves chat rooms and messages
type ChatController struct {
	chat      *services.ChatService
	rooms     *services.ChatRoomManager
	directory services.AccountDirectory
	images    services.ImageService
	log       zerolog.Logger
}

// NewChatController creates a chat controller. images may be nil to disable uploads.
func NewChatController(chat *services.ChatService, rooms *services.ChatRoomManager, directory services.AccountDirectory, images services.ImageService, log zerolog.Logger) *ChatController {
	return &ChatController{chat: chat, rooms: rooms, directory: directory, images: images, log: log}
}

// Register mounts the chat routes on rg
func (h *ChatController) Register(rg *gin.RouterGroup) {
	rooms := rg.Group("/chat-rooms")
	rooms.POST("", h.CreateChatRoom)
	rooms.GET("", h.ListChatRooms)
	rooms.GET("/:id/participants", h.GetParticipants)
	rooms.GET("/:id/messages", h.GetMessages)
	rooms.POST("/:id/messages", h.SendMessage)
}

// CreateChatRoom handles POST /api/v1/chat-rooms - returns the direct room with receiver_id
func (h *ChatController) CreateChatRoom(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}

	var req CreateChatRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "VALIDATION_ERROR", "receiver_id is required")
		return
	}

	room, err := h.rooms.CreateChatRoom(c.Request.Context(), account.ID, req.ReceiverID)
	if err != nil {
		respondError(c, h.log, err, "Failed to create chat room")
		return
	}
	respondOK(c, http.StatusOK, room)
}

// ListChatRooms handles GET /api/v1/chat-rooms - the caller's rooms, most recently active first
func (h *ChatController) ListChatRooms(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}

	rooms, err := h.chat.GetUserChatRooms(c.Request.Context(), account.ID)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch chat rooms")
		return
	}
	respondOK(c, http.StatusOK, rooms)
}

// GetParticipants handles GET /api/v1/chat-rooms/:id/participants
func (h *ChatController) GetParticipants(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	ids, err := h.chat.GetChatRoomParticipants(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch participants")
		return
	}

	member := false
	for _, id := range ids {
		if id == account.ID {
			member = true
			break
		}
	}
	if !member && !account.IsStaff() {
		respondFailure(c, http.StatusForbidden, "FORBIDDEN", "You are not a participant of this chat room")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"room_id": roomID, "participant_ids": ids})
}

// GetMessages handles GET /api/v1/chat-rooms/:id/messages
func (h *ChatController) GetMessages(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	messages, err := h.chat.GetChatMessages(c.Request.Context(), roomID, account.ID)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch messages")
		return
	}
	respondOK(c, http.StatusOK, messages)
}

// SendMessage handles POST /api/v1/chat-rooms/:id/messages. It accepts a JSON body
// with text, or a multipart form with an optional text field and an optional image.
func (h *ChatController) SendMessage(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var text, imageKey string
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		text = c.PostForm("text")

		if fileHeader, err := c.FormFile("image"); err == nil {
			if h.images == nil {
				respondFailure(c, http.StatusBadRequest, "UPLOADS_DISABLED", "Image uploads are not enabled")
				return
			}
			imageKey, err = h.images.UploadImage(c.Request.Context(), fileHeader)
			if err != nil {
				var uploadErr *utils.FileUploadError
				if errors.As(err, &uploadErr) {
					respondFailure(c, http.StatusBadRequest, uploadErr.Code, uploadErr.Message)
					return
				}
				reqLog := middleware.Logger(c, h.log)
				reqLog.Error().Err(err).Msg("Failed to upload chat image")
				respondFailure(c, http.StatusInternalServerError, "UPLOAD_ERROR", "Failed to upload image")
				return
			}
		}
	} else {
		var req SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "VALIDATION_ERROR",
					"message": "Invalid request data",
					"details": err.Error(),
				},
			})
			return
		}
		text = req.Text
	}

	msg, err := h.chat.SendMessage(c.Request.Context(), roomID, account.ID, text, imageKey)
	if err != nil {
		if imageKey != "" {
			if delErr := h.images.DeleteImage(c.Request.Context(), imageKey); delErr != nil {
				reqLog := middleware.Logger(c, h.log)
				reqLog.Warn().Err(delErr).Str("image_key", imageKey).Msg("Failed to delete orphaned chat image")
			}
		}
		respondError(c, h.log, err, "Failed to send message")
		return
	}
	respondOK(c, http.StatusCreated, msg)
}
