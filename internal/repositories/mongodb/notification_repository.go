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

type notificationRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewNotificationRepository(db *mongo.Database) interfaces.NotificationRepository {
	return &notificationRepository{
		collection: db.Collection(database.CollectionNotifications),
		now:        time.Now,
	}
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string) ([]*models.Notification, error) {
	opts := options.Find().SetSort(bson.D{{Key: "position", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer cursor.Close(ctx)

	notifications := make([]*models.Notification, 0)
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) ReplaceForUser(ctx context.Context, userID string, notifications []models.Notification) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID}); err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}
	if len(notifications) == 0 {
		return nil
	}

	now := r.now()
	docs := make([]interface{}, len(notifications))
	for i, n := range notifications {
		n.UserID = userID
		n.Position = int64(i)
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		docs[i] = n
	}

	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to store notifications: %w", err)
	}
	return nil
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	now := r.now()
	notification.Position = -now.UnixNano()
	notification.CreatedAt = now

	if _, err := r.collection.InsertOne(ctx, notification); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"user_id": userID, "notification_id": notificationID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
