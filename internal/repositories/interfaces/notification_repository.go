package interfaces

import (
	"context"

	"captain/internal/models"
)

type NotificationRepository interface {
	// ListByUser returns a user's notifications newest first.
	ListByUser(ctx context.Context, userID string) ([]*models.Notification, error)
	// ReplaceForUser swaps the stored list for notifications, preserving order.
	ReplaceForUser(ctx context.Context, userID string, notifications []models.Notification) error
	// Create stores a notification ahead of every existing one.
	Create(ctx context.Context, notification *models.Notification) error
	MarkAsRead(ctx context.Context, userID, notificationID string) error
}
