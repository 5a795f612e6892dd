package services

import (
	"errors"

	"captain/internal/models"
	"captain/internal/utils"
)

var ErrInvalidOrder = errors.New("order id is required")

// OrderService announces order lifecycle changes to every connected driver.
type OrderService struct {
	broadcaster Broadcaster
}

func NewOrderService(broadcaster Broadcaster) *OrderService {
	return &OrderService{broadcaster: broadcaster}
}

func (s *OrderService) PublishNewOrder(order models.Order) error {
	if order.ID == "" {
		return ErrInvalidOrder
	}
	return s.broadcaster.BroadcastToRoom(utils.RoomDrivers, models.EventNewOrder, order)
}

func (s *OrderService) PublishOrderTaken(orderID string) error {
	if orderID == "" {
		return ErrInvalidOrder
	}
	return s.broadcaster.BroadcastToRoom(utils.RoomDrivers, models.EventOrderTaken, models.OrderTaken{OrderID: orderID})
}
