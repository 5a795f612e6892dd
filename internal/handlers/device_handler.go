package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"captain/internal/middleware"
	"captain/internal/models"
	"captain/internal/services"
	"captain/internal/utils"
)

type DeviceHandler struct {
	notificationService services.NotificationService
}

func NewDeviceHandler(notificationService services.NotificationService) *DeviceHandler {
	return &DeviceHandler{notificationService: notificationService}
}

// RegisterDevice binds a push token to the caller.
func (h *DeviceHandler) RegisterDevice(c *gin.Context) {
	var device models.Device
	if err := c.ShouldBindJSON(&device); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	device.UserID = middleware.GetUserID(c)

	if err := h.notificationService.RegisterDevice(c.Request.Context(), &device); err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "DEVICE_REGISTRATION_FAILED", "Failed to register device")
		return
	}

	utils.SuccessResponse(c, "Device registered successfully", gin.H{"registered": true})
}
