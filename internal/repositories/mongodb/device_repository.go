package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"captain/internal/models"
	"captain/internal/repositories/interfaces"
	"captain/pkg/database"
)

type deviceRepository struct {
	collection *mongo.Collection
}

func NewDeviceRepository(db *mongo.Database) interfaces.DeviceRepository {
	return &deviceRepository{collection: db.Collection(database.CollectionDevices)}
}

// Upsert binds a device token to its latest user.
func (r *deviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": device.Token},
		bson.M{"$set": bson.M{
			"platform":   device.Platform,
			"user_id":    device.UserID,
			"updated_at": device.UpdatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (r *deviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.Device, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer cursor.Close(ctx)

	devices := make([]*models.Device, 0)
	if err := cursor.All(ctx, &devices); err != nil {
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": token}); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}
