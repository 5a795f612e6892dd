package interfaces

import (
	"context"

	"captain/internal/models"
)

type DeviceRepository interface {
	Upsert(ctx context.Context, device *models.Device) error
	ListByUser(ctx context.Context, userID string) ([]*models.Device, error)
	Delete(ctx context.Context, token string) error
}
