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

type messageRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMessageRepository(db *mongo.Database) interfaces.MessageRepository {
	return &messageRepository{
		collection: db.Collection(database.CollectionMessages),
		now:        time.Now,
	}
}

// Save inserts a message once; replays of the same id keep the stored copy.
func (r *messageRepository) Save(ctx context.Context, message *models.Message) error {
	now := r.now()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = now
	}
	message.UpdatedAt = now

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"conversation_id": message.ConversationID, "message_id": message.ID},
		bson.M{"$setOnInsert": message},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (r *messageRepository) UpdateStatus(ctx context.Context, conversationID, messageID string, status models.MessageStatus) (bool, error) {
	below := []interface{}{nil}
	for _, s := range models.StatusesBelow(status) {
		below = append(below, s)
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"conversation_id": conversationID,
			"message_id":      messageID,
			"status":          bson.M{"$in": below},
		},
		bson.M{"$set": bson.M{"status": status, "updated_at": r.now()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, limit int64) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}
