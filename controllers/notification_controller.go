package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kendall-kelly/support-chat-api/repository"
	"github.com/kendall-kelly/support-chat-api/services"
	"github.com/rs/zerolog"
)

// NotificationController serves the caller's in-app notification inbox
type NotificationController struct {
	store     *repository.NotificationStore
	directory services.AccountDirectory
	log       zerolog.Logger
}

// NewNotificationController creates a notification controller
func NewNotificationController(store *repository.NotificationStore, directory services.AccountDirectory, log zerolog.Logger) *NotificationController {
	return &NotificationController{store: store, directory: directory, log: log}
}

// Register mounts the notification routes on rg
func (h *NotificationController) Register(rg *gin.RouterGroup) {
	rg.GET("/notifications", h.List)
	rg.PATCH("/notifications/:id/seen", h.MarkSeen)
	rg.DELETE("/notifications/:id", h.Delete)
}

// List handles GET /api/v1/notifications - newest first
func (h *NotificationController) List(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}

	boxes, err := h.store.GetNotificationsByUserID(c.Request.Context(), account.ID)
	if err != nil {
		respondError(c, h.log, err, "Failed to fetch notifications")
		return
	}
	respondOK(c, http.StatusOK, boxes)
}

// MarkSeen handles PATCH /api/v1/notifications/:id/seen
func (h *NotificationController) MarkSeen(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	boxID, ok := idParam(c, "id")
	if !ok {
		return
	}

	if err := h.store.MarkNotificationSeen(c.Request.Context(), boxID, account.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondFailure(c, http.StatusNotFound, "NOTIFICATION_NOT_FOUND", "Notification not found")
			return
		}
		respondError(c, h.log, err, "Failed to update notification")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": boxID, "seen": true})
}

// Delete handles DELETE /api/v1/notifications/:id - removes the notification from the
// caller's inbox only
func (h *NotificationController) Delete(c *gin.Context) {
	account, ok := currentAccount(c, h.directory, h.log)
	if !ok {
		return
	}
	boxID, ok := idParam(c, "id")
	if !ok {
		return
	}

	box, err := h.store.GetBox(c.Request.Context(), boxID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && box.RecipientID != account.ID) {
		respondFailure(c, http.StatusNotFound, "NOTIFICATION_NOT_FOUND", "Notification not found")
		return
	}
	if err != nil {
		respondError(c, h.log, err, "Failed to load notification")
		return
	}

	if err := h.store.DeleteNotification(c.Request.Context(), boxID); err != nil {
		respondError(c, h.log, err, "Failed to delete notification")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"id": boxID, "deleted": true})
}
