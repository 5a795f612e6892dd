package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"captain/internal/models"
	"captain/internal/services"
	"captain/internal/utils"
)

type OrderHandler struct {
	orderService *services.OrderService
}

func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

type orderEventRequest struct {
	Event   string        `json:"event" binding:"required,oneof=new_order order_taken"`
	Order   *models.Order `json:"order"`
	OrderID string        `json:"orderId"`
}

// PublishOrderEvent announces a new or taken order to every driver.
func (h *OrderHandler) PublishOrderEvent(c *gin.Context) {
	var request orderEventRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	var err error
	switch request.Event {
	case models.EventNewOrder:
		if request.Order == nil {
			utils.BadRequestResponse(c, "order is required")
			return
		}
		err = h.orderService.PublishNewOrder(*request.Order)
	case models.EventOrderTaken:
		err = h.orderService.PublishOrderTaken(request.OrderID)
	}

	if errors.Is(err, services.ErrInvalidOrder) {
		utils.BadRequestResponse(c, err.Error())
		return
	}
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "ORDER_EVENT_FAILED", "Failed to publish order event")
		return
	}

	utils.SuccessResponse(c, "Order event published", nil)
}
