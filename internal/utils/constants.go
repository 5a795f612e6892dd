package utils

import "time"

// Application Constants
const (
	AppName    = "Captain"
	AppVersion = "1.0.0"

	// Authentication
	JWTAccessTokenTTL = 24 * time.Hour

	// User types
	UserTypeDriver   = "driver"
	UserTypeCustomer = "customer"
	UserTypeAdmin    = "admin"

	// Chat
	MaxMessageLength = 1000
	MaxHistoryLimit  = 500

	// Notification
	MaxNotificationsPerUser = 500
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrInvalidToken     = "invalid token"
	ErrTokenExpired     = "token expired"
	ErrInvalidInput     = "invalid input"
	ErrInternalServer   = "internal server error"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrNotFound         = "not found"
	ErrValidationFailed = "validation failed"
)

// Room names
const (
	RoomDrivers            = "drivers"
	RoomUserPrefix         = "user_"
	RoomConversationPrefix = "conversation_"
)

func UserRoom(userID string) string {
	return RoomUserPrefix + userID
}

func ConversationRoom(conversationID string) string {
	return RoomConversationPrefix + conversationID
}
