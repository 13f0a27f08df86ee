package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/rs/zerolog"
)

// AssignSupportRequest represents the request body for claiming a support request
type AssignSupportRequest struct {
	CustomerID uint `json:"customer_id" binding:"required"`
}

// SupportController exposes the support queue
type SupportController struct {
	rooms     *services.ChatRoomManager
	directory services.AccountDirectory
	log       zerolog.Logger
}

// NewSupportController creates a support controller
func NewSupportController(rooms *services.ChatRoomManager, directory services.AccountDirectory, log zerolog.Logger) *SupportController {
	return &SupportController{rooms: rooms, directory: directory, log: log}
}

// Register mounts the support routes on rg
func (h *SupportController) Register(rg *gin.RouterGroup) {
	support := rg.Group("/support/requests")
	support.POST("", h.OpenRequest)
	support.GET("", h.ListPending)
	support.POST("/:id/assign", h.Assign)
	support.POST("/:id/leave", h.Leave)
	support.POST("/:id/rebroadcast", h.Rebroadcast)
	support.POST("/:id/close", h.Close)
	support.GET("/:id/abandoned", h.Abandoned)
}

// OpenRequest handles POST /api/v1/support/requests - opens (or returns) the caller's support room
func (h *SupportController) OpenRequest(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}

	room, err := h.rooms.InitiateSupportChatRoom(c.Request.Context(), account.ID)
	if err != nil {
		respondError(c, h.log, err, "Failed to open support request")
		return
	}
	respondOK(c, http.StatusOK, room)
}

// ListPending handles GET /api/v1/support/requests - staff only
func (h *SupportController) ListPending(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	if !requireStaff(c, account, "Only staff members can view the support queue") {
		return
	}

	rooms, err := h.rooms.GetPendingSupportRequests(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch support requests")
		return
	}
	respondOK(c, http.StatusOK, rooms)
}

// Assign handles POST /api/v1/support/requests/:id/assign - the caller claims the room
func (h *SupportController) Assign(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req AssignSupportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFailure(c, http.StatusBadRequest, "VALIDATION_ERROR", "customer_id is required")
		return
	}

	room, err := h.rooms.AssignStaffToChatRoom(c.Request.Context(), roomID, account.ID, req.CustomerID)
	if err != nil {
		respondError(c, h.log, err, "Failed to assign support request")
		return
	}
	respondOK(c, http.StatusOK, room)
}

// Leave handles POST /api/v1/support/requests/:id/leave - the calling staff member leaves
func (h *SupportController) Leave(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	room, err := h.rooms.RemoveStaffFromChatRoom(c.Request.Context(), roomID, account.ID)
	if err != nil {
		respondError(c, h.log, err, "Failed to leave support request")
		return
	}
	respondOK(c, http.StatusOK, room)
}

// Rebroadcast handles POST /api/v1/support/requests/:id/rebroadcast
func (h *SupportController) Rebroadcast(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, err, "Failed to load chat room")
		return
	}
	isOwner := room.CustomerID != nil && *room.CustomerID == account.ID
	if !isOwner && !account.IsStaff() {
		respondFailure(c, http.StatusForbidden, "FORBIDDEN", "You do not have permission to escalate this chat room")
		return
	}

	room, err = h.rooms.RequestNewSupporter(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, err, "Failed to request a new supporter")
		return
	}
	respondOK(c, http.StatusOK, room)
}

// Close handles POST /api/v1/support/requests/:id/close
func (h *SupportController) Close(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	room, err := h.rooms.CloseChatRoom(c.Request.Context(), roomID, account.ID)
	if err != nil {
		respondError(c, h.log, err, "Failed to close support request")
		return
	}
	respondOK(c, http.StatusOK, room)
}

// Abandoned handles GET /api/v1/support/requests/:id/abandoned - staff only
func (h *SupportController) Abandoned(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	if !requireStaff(c, account, "Only staff members can inspect support requests") {
		return
	}
	roomID, ok := idParam(c, "id")
	if !ok {
		return
	}

	abandoned, err := h.rooms.CheckIfAllSupportersLeftAndUnseen(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, h.log, err, "Failed to inspect support request")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"room_id": roomID, "abandoned": abandoned})
}
