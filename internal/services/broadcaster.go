package services

// Broadcaster delivers socket events to connected clients. The websocket hub
// delivers to local connections; Fanout delivers through every instance.
type Broadcaster interface {
	SendToUser(userID, event string, payload interface{}) error
	BroadcastToRoom(roomID, event string, payload interface{}) error
}
