package models

import "time"

type NotificationType string

const (
	NotificationTypeOrder   NotificationType = "order"
	NotificationTypeMessage NotificationType = "message"
	NotificationTypeSystem  NotificationType = "system"
	NotificationTypePayment NotificationType = "payment"
)

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeOrder, NotificationTypeMessage, NotificationTypeSystem, NotificationTypePayment:
		return true
	}
	return false
}

type Notification struct {
	ID        string           `json:"id" bson:"notification_id"`
	Title     string           `json:"title" bson:"title" validate:"required"`
	Body      string           `json:"body" bson:"body" validate:"required"`
	Type      NotificationType `json:"type" bson:"type" validate:"required,notification_type"`
	Timestamp string           `json:"timestamp" bson:"timestamp"`
	Read      bool             `json:"read" bson:"read"`
	UserID    string           `json:"-" bson:"user_id"`
	Position  int64            `json:"-" bson:"position"`
	CreatedAt time.Time        `json:"-" bson:"created_at"`
}

// NotificationDraft carries the caller-supplied fields of a notification;
// id, timestamp and read state are synthesized on creation.
type NotificationDraft struct {
	Title string           `json:"title" binding:"required" validate:"required"`
	Body  string           `json:"body" binding:"required" validate:"required"`
	Type  NotificationType `json:"type" binding:"required" validate:"required,notification_type"`
}

type Device struct {
	Token     string    `json:"token" bson:"_id" binding:"required"`
	Platform  string    `json:"platform" bson:"platform" binding:"required,oneof=android ios web"`
	UserID    string    `json:"-" bson:"user_id"`
	UpdatedAt time.Time `json:"-" bson:"updated_at"`
}
