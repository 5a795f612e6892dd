package interfaces

import (
	"context"

	"captain/internal/models"
)

type MessageRepository interface {
	Save(ctx context.Context, message *models.Message) error
	// UpdateStatus moves a message forward to status. It reports false when
	// the message is unknown or already at or past status.
	UpdateStatus(ctx context.Context, conversationID, messageID string, status models.MessageStatus) (bool, error)
	ListByConversation(ctx context.Context, conversationID string, limit int64) ([]*models.Message, error)
}
