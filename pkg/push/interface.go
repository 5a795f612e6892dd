package push

import (
	"context"
	"errors"
)

var ErrUnsupportedPlatform = errors.New("push: unsupported device platform")

const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformWeb     = "web"
)

// PushProvider delivers a notification to a single device.
type PushProvider interface {
	SendNotification(ctx context.Context, request *NotificationRequest) (*NotificationResponse, error)
}

type NotificationRequest struct {
	Token       string            `json:"token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	Badge       int               `json:"badge,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	TTL         int               `json:"ttl,omitempty"`
	CollapseKey string            `json:"collapse_key,omitempty"`
}

type NotificationResponse struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Token     string `json:"token,omitempty"`
}
