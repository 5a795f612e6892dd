package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"captain/internal/middleware"
	"captain/internal/models"
	"captain/internal/services"
	"captain/internal/utils"
	"captain/internal/validators"
)

type NotificationHandler struct {
	notificationService services.NotificationService
}

func NewNotificationHandler(notificationService services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

type syncNotificationsRequest struct {
	Notifications []models.Notification `json:"notifications"`
}

// ListNotifications returns the caller's stored notifications, newest first.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	notifications, err := h.notificationService.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "NOTIFICATIONS_FETCH_FAILED", "Failed to fetch notifications")
		return
	}

	utils.SuccessResponseWithMeta(c, "Notifications retrieved successfully", notifications, &utils.Meta{
		Total: int64(len(notifications)),
		Count: len(notifications),
	})
}

// SyncNotifications replaces the caller's stored list with the client's.
func (h *NotificationHandler) SyncNotifications(c *gin.Context) {
	var request syncNotificationsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	err := h.notificationService.Sync(c.Request.Context(), middleware.GetUserID(c), request.Notifications)
	if errors.Is(err, validators.ErrInvalidNotificationType) {
		utils.BadRequestResponse(c, err.Error())
		return
	}
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "NOTIFICATIONS_SYNC_FAILED", "Failed to sync notifications")
		return
	}

	utils.SuccessResponse(c, "Notifications synced successfully", nil)
}

// CreateNotification stores a notification for the target user and pushes it.
// Admins may target any user with ?user_id=; everyone else targets themselves.
func (h *NotificationHandler) CreateNotification(c *gin.Context) {
	var draft models.NotificationDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if target := c.Query("user_id"); target != "" && target != userID {
		if middleware.GetUserType(c) != utils.UserTypeAdmin {
			utils.ForbiddenResponse(c)
			return
		}
		userID = target
	}

	notification, err := h.notificationService.Create(c.Request.Context(), userID, draft)
	if errors.Is(err, validators.ErrEmptyText) || errors.Is(err, validators.ErrInvalidNotificationType) {
		utils.BadRequestResponse(c, err.Error())
		return
	}
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "NOTIFICATION_CREATE_FAILED", "Failed to create notification")
		return
	}

	utils.CreatedResponse(c, "Notification created successfully", notification)
}
