package services

import (
	"context"
	"fmt"
	"unicode/utf8"

	"captain/internal/models"
	"captain/internal/repositories/interfaces"
	"captain/internal/utils"
	"captain/internal/validators"
	"captain/pkg/logger"
	"captain/pkg/websocket"
)

// ChatService persists relayed conversation traffic.
type ChatService struct {
	messageRepo interfaces.MessageRepository
	log         *logger.Logger
}

var _ websocket.EventSink = (*ChatService)(nil)

func NewChatService(messageRepo interfaces.MessageRepository, log *logger.Logger) *ChatService {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatService{
		messageRepo: messageRepo,
		log:         log.WithComponent("chat_service"),
	}
}

func (s *ChatService) HandleInbound(ctx context.Context, in websocket.Inbound) error {
	switch in.Envelope.Event {
	case models.EventChatMessage:
		var msg models.Message
		if err := in.Envelope.Decode(&msg); err != nil {
			return fmt.Errorf("malformed chat message: %w", err)
		}
		return s.saveMessage(ctx, in.ConversationID, &msg)

	case models.EventReadReceipt:
		var receipt models.ReadReceipt
		if err := in.Envelope.Decode(&receipt); err != nil {
			return fmt.Errorf("malformed read receipt: %w", err)
		}
		return s.applyReceipt(ctx, in.ConversationID, receipt)
	}
	return nil
}

func (s *ChatService) History(ctx context.Context, conversationID string, limit int64) ([]*models.Message, error) {
	return s.messageRepo.ListByConversation(ctx, conversationID, limit)
}

func (s *ChatService) saveMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	text := validators.SanitizeInput(msg.Text)
	if msg.ID == "" || !msg.Sender.IsValid() || text == "" {
		return fmt.Errorf("invalid chat message %q", msg.ID)
	}
	if utf8.RuneCountInString(text) > utils.MaxMessageLength {
		return fmt.Errorf("chat message %q exceeds %d characters", msg.ID, utils.MaxMessageLength)
	}

	msg.ConversationID = conversationID
	if msg.Status == "" || msg.Status == models.MessageStatusSending {
		msg.Status = models.MessageStatusSent
	}
	return s.messageRepo.Save(ctx, msg)
}

func (s *ChatService) applyReceipt(ctx context.Context, conversationID string, receipt models.ReadReceipt) error {
	if err := validators.ValidateReceipt(receipt); err != nil {
		return err
	}

	changed, err := s.messageRepo.UpdateStatus(ctx, conversationID, receipt.MessageID, receipt.Status)
	if err != nil {
		return err
	}
	if changed {
		s.log.LogDeliveryTransition(receipt.MessageID, "", string(receipt.Status))
	}
	return nil
}
