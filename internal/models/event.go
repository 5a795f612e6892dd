package models

import (
	"encoding/json"
	"fmt"
)

// Wire event names. Open and close are raised locally by the transport.
const (
	EventOpen         = "open"
	EventClose        = "close"
	EventChatMessage  = "chat_message"
	EventReadReceipt  = "read_receipt"
	EventTypingStatus = "typing_status"
	EventNotification = "notification"
	EventOrderTaken   = "order_taken"
	EventNewOrder     = "new_order"
	EventJoinRoom     = "join_room"
	EventLeaveRoom    = "leave_room"
	EventWelcome      = "welcome"
)

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(event string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event, Payload: json.RawMessage("{}")}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: data}, nil
}

func (e Envelope) Decode(dest interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty %s payload", e.Event)
	}
	return json.Unmarshal(e.Payload, dest)
}

type ReadReceipt struct {
	MessageID string        `json:"messageId"`
	Status    MessageStatus `json:"status"`
}

type TypingStatus struct {
	IsTyping bool   `json:"isTyping"`
	UserID   string `json:"userId,omitempty"`
}

type ClosePayload struct {
	Reason string `json:"reason"`
}

type RoomPayload struct {
	RoomID string `json:"roomId"`
}

const (
	CloseReasonManual = "manual_disconnect"
	CloseReasonError  = "connection_error"
	CloseReasonServer = "server_closed"
)
