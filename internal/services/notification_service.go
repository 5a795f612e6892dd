package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"captain/internal/models"
	"captain/internal/repositories/interfaces"
	"captain/internal/utils"
	"captain/internal/validators"
	"captain/pkg/logger"
	"captain/pkg/push"
)

type NotificationService interface {
	List(ctx context.Context, userID string) ([]models.Notification, error)
	Sync(ctx context.Context, userID string, notifications []models.Notification) error
	Create(ctx context.Context, userID string, draft models.NotificationDraft) (models.Notification, error)
	RegisterDevice(ctx context.Context, device *models.Device) error
}

type notificationService struct {
	notificationRepo interfaces.NotificationRepository
	deviceRepo       interfaces.DeviceRepository
	broadcaster      Broadcaster
	push             *push.Dispatcher
	log              *logger.Logger
	now              func() time.Time
}

func NewNotificationService(
	notificationRepo interfaces.NotificationRepository,
	deviceRepo interfaces.DeviceRepository,
	broadcaster Broadcaster,
	dispatcher *push.Dispatcher,
	log *logger.Logger,
) NotificationService {
	if log == nil {
		log = logger.Nop()
	}
	return &notificationService{
		notificationRepo: notificationRepo,
		deviceRepo:       deviceRepo,
		broadcaster:      broadcaster,
		push:             dispatcher,
		log:              log.WithComponent("notification_service"),
		now:              time.Now,
	}
}

func (s *notificationService) List(ctx context.Context, userID string) ([]models.Notification, error) {
	stored, err := s.notificationRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	notifications := make([]models.Notification, 0, len(stored))
	for _, n := range stored {
		notifications = append(notifications, *n)
	}
	return notifications, nil
}

func (s *notificationService) Sync(ctx context.Context, userID string, notifications []models.Notification) error {
	seen := make(map[string]bool, len(notifications))
	unique := make([]models.Notification, 0, len(notifications))
	for _, n := range notifications {
		if n.ID == "" || seen[n.ID] {
			continue
		}
		if !n.Type.IsValid() {
			return fmt.Errorf("notification %s: %w", n.ID, validators.ErrInvalidNotificationType)
		}
		seen[n.ID] = true
		unique = append(unique, n)
		if len(unique) == utils.MaxNotificationsPerUser {
			break
		}
	}

	return s.notificationRepo.ReplaceForUser(ctx, userID, unique)
}

// Create stores a server-originated notification and pushes it to the
// user's live connections and registered devices.
func (s *notificationService) Create(ctx context.Context, userID string, draft models.NotificationDraft) (models.Notification, error) {
	if err := validators.ValidateNotificationDraft(draft); err != nil {
		return models.Notification{}, err
	}

	now := s.now()
	n := models.Notification{
		ID:        "srv_notif_" + uuid.NewString(),
		Title:     validators.SanitizeInput(draft.Title),
		Body:      validators.SanitizeInput(draft.Body),
		Type:      draft.Type,
		Timestamp: models.DisplayTime(now),
		UserID:    userID,
	}
	if err := s.notificationRepo.Create(ctx, &n); err != nil {
		return models.Notification{}, err
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.SendToUser(userID, models.EventNotification, n); err != nil {
			s.log.WithUserID(userID).WithError(err).Warn("Failed to deliver notification over websocket")
		}
	}
	s.pushToDevices(ctx, userID, n)

	return n, nil
}

func (s *notificationService) RegisterDevice(ctx context.Context, device *models.Device) error {
	return s.deviceRepo.Upsert(ctx, device)
}

func (s *notificationService) pushToDevices(ctx context.Context, userID string, n models.Notification) {
	if !s.push.Enabled() {
		return
	}

	devices, err := s.deviceRepo.ListByUser(ctx, userID)
	if err != nil {
		s.log.WithUserID(userID).WithError(err).Warn("Failed to load devices for push")
		return
	}

	for _, device := range devices {
		_, err := s.push.Send(ctx, device.Platform, &push.NotificationRequest{
			Token:       device.Token,
			Title:       n.Title,
			Body:        n.Body,
			Data:        map[string]string{"notificationId": n.ID, "type": string(n.Type)},
			Priority:    "high",
			CollapseKey: n.ID,
		})
		if err != nil {
			s.log.WithUserID(userID).WithField("platform", device.Platform).WithError(err).Warn("Push delivery failed")
		}
	}
}
