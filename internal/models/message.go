package models

import "time"

type Sender string
type MessageStatus string

const (
	SenderCustomer Sender = "customer"
	SenderDriver   Sender = "driver"

	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Message is one entry of a two-party conversation log. Status is empty for
// historical messages that never tracked delivery.
type Message struct {
	ID             string        `json:"id" bson:"message_id"`
	Sender         Sender        `json:"sender" bson:"sender"`
	Text           string        `json:"text" bson:"text"`
	Timestamp      string        `json:"timestamp" bson:"timestamp"`
	Status         MessageStatus `json:"status,omitempty" bson:"status,omitempty"`
	ConversationID string        `json:"-" bson:"conversation_id"`
	CreatedAt      time.Time     `json:"-" bson:"created_at"`
	UpdatedAt      time.Time     `json:"-" bson:"updated_at"`
}

// Rank orders statuses along sending < sent < delivered < read. Unknown or
// absent statuses rank zero.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSending:
		return 1
	case MessageStatusSent:
		return 2
	case MessageStatusDelivered:
		return 3
	case MessageStatusRead:
		return 4
	}
	return 0
}

func (s MessageStatus) IsValid() bool {
	return s.Rank() > 0
}

// StatusesBelow returns every valid status ranked strictly lower than s.
func StatusesBelow(s MessageStatus) []MessageStatus {
	var out []MessageStatus
	for _, candidate := range []MessageStatus{MessageStatusSending, MessageStatusSent, MessageStatusDelivered, MessageStatusRead} {
		if candidate.Rank() < s.Rank() {
			out = append(out, candidate)
		}
	}
	return out
}

func (s Sender) IsValid() bool {
	return s == SenderCustomer || s == SenderDriver
}

// Peer returns the other party of a conversation.
func (s Sender) Peer() Sender {
	if s == SenderDriver {
		return SenderCustomer
	}
	return SenderDriver
}

const DisplayTimeFormat = "15:04"

func DisplayTime(t time.Time) string {
	return t.Format(DisplayTimeFormat)
}
