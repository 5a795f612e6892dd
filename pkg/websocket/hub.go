package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"captain/internal/models"
	"captain/internal/utils"
	"captain/pkg/logger"
)

// Inbound is an event received from a connected client.
type Inbound struct {
	UserID         string
	UserType       string
	ConversationID string
	Envelope       models.Envelope
}

// EventSink observes relayed conversation events, typically to persist them.
type EventSink interface {
	HandleInbound(ctx context.Context, in Inbound) error
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan clientEvent
	rooms      map[string]map[*Client]bool
	mutex      sync.RWMutex

	sink    EventSink
	metrics *HubMetrics
	log     *logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type clientEvent struct {
	client *Client
	env    models.Envelope
}

type welcomePayload struct {
	UserID  string   `json:"userId"`
	Rooms   []string `json:"rooms"`
	Message string   `json:"message"`
}

func NewHub(sink EventSink, metrics *HubMetrics, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan clientEvent, 256),
		rooms:      make(map[string]map[*Client]bool),
		sink:       sink,
		metrics:    metrics,
		log:        log.WithComponent("websocket.hub"),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and client events until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case ev := <-h.inbound:
			h.handleEvent(ev.client, ev.env)

		case <-h.stop:
			h.closeAll()
			return
		}
	}
}

// Stop closes every client and ends Run. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// SendToUser delivers an event to every connection of a user.
func (h *Hub) SendToUser(userID, event string, payload interface{}) error {
	return h.BroadcastToRoom(utils.UserRoom(userID), event, payload)
}

// BroadcastToRoom delivers an event to every member of a room.
func (h *Hub) BroadcastToRoom(roomID, event string, payload interface{}) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.sendToRoomLocked(roomID, event, data, nil)
	return nil
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	h.metrics.connectionOpened()

	h.joinRoomLocked(client, utils.UserRoom(client.UserID))
	if client.UserType == utils.UserTypeDriver {
		h.joinRoomLocked(client, utils.RoomDrivers)
	}
	if client.ConversationID != "" {
		h.joinRoomLocked(client, utils.ConversationRoom(client.ConversationID))
	}

	h.log.WithUserID(client.UserID).WithConversationID(client.ConversationID).Info("Client registered")

	data, err := encode(models.EventWelcome, welcomePayload{
		UserID:  client.UserID,
		Rooms:   client.roomList(),
		Message: "Connected successfully",
	})
	if err == nil {
		h.sendToClientLocked(client, models.EventWelcome, data)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.removeClientLocked(client) {
		h.log.WithUserID(client.UserID).Info("Client unregistered")
	}
}

func (h *Hub) handleEvent(client *Client, env models.Envelope) {
	h.metrics.eventReceived(env.Event)

	switch env.Event {
	case models.EventJoinRoom, models.EventLeaveRoom:
		var room models.RoomPayload
		if err := env.Decode(&room); err != nil || room.RoomID == "" {
			h.log.WithUserID(client.UserID).WithEvent(env.Event).Warn("Ignoring room request without roomId")
			return
		}
		if !client.mayJoin(room.RoomID) {
			h.log.WithUserID(client.UserID).WithField("room_id", room.RoomID).Warn("Rejected room request")
			return
		}
		h.mutex.Lock()
		if env.Event == models.EventJoinRoom {
			h.joinRoomLocked(client, room.RoomID)
		} else {
			h.leaveRoomLocked(client, room.RoomID)
		}
		h.mutex.Unlock()

	case models.EventChatMessage, models.EventReadReceipt, models.EventTypingStatus:
		h.relay(client, env)

	default:
		h.log.WithUserID(client.UserID).WithEvent(env.Event).Debug("Ignoring unsupported client event")
	}
}

// relay forwards a conversation event to the other members of the sender's
// conversation room.
func (h *Hub) relay(client *Client, env models.Envelope) {
	if client.ConversationID == "" {
		h.log.WithUserID(client.UserID).WithEvent(env.Event).Debug("Client has no conversation, dropping event")
		return
	}

	if env.Event == models.EventTypingStatus {
		var status models.TypingStatus
		if err := env.Decode(&status); err != nil {
			h.log.WithUserID(client.UserID).WithError(err).Warn("Malformed typing status")
			return
		}
		status.UserID = client.UserID
		rewritten, err := models.NewEnvelope(env.Event, status)
		if err != nil {
			return
		}
		env = rewritten
	}

	if h.sink != nil {
		in := Inbound{
			UserID:         client.UserID,
			UserType:       client.UserType,
			ConversationID: client.ConversationID,
			Envelope:       env,
		}
		if err := h.sink.HandleInbound(context.Background(), in); err != nil {
			h.log.WithUserID(client.UserID).WithEvent(env.Event).WithError(err).Warn("Event sink failed")
		}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.sendToRoomLocked(utils.ConversationRoom(client.ConversationID), env.Event, data, client)
}

func (h *Hub) sendToRoomLocked(roomID, event string, data []byte, except *Client) {
	for client := range h.rooms[roomID] {
		if client == except {
			continue
		}
		h.sendToClientLocked(client, event, data)
	}
}

func (h *Hub) sendToClientLocked(client *Client, event string, data []byte) {
	select {
	case client.send <- data:
		h.metrics.eventSent(event)
	default:
		h.log.WithUserID(client.UserID).Warn("Client send buffer full, disconnecting")
		h.removeClientLocked(client)
	}
}

func (h *Hub) removeClientLocked(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	h.metrics.connectionClosed()

	for roomID := range client.rooms {
		h.leaveRoomLocked(client, roomID)
	}
	return true
}

func (h *Hub) joinRoomLocked(client *Client, roomID string) {
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	client.rooms[roomID] = true
}

func (h *Hub) leaveRoomLocked(client *Client, roomID string) {
	if room, exists := h.rooms[roomID]; exists {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, roomID)
		}
	}
	delete(client.rooms, roomID)
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		h.removeClientLocked(client)
	}
}

func encode(event string, payload interface{}) ([]byte, error) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// mayJoin keeps clients out of other users' personal rooms and keeps
// non-drivers out of the order broadcast room. Conversation rooms are not
// checked: there is no membership record to check them against.
func (c *Client) mayJoin(roomID string) bool {
	if strings.HasPrefix(roomID, utils.UserRoom("")) {
		return roomID == utils.UserRoom(c.UserID)
	}
	if roomID == utils.RoomDrivers {
		return c.UserType == utils.UserTypeDriver
	}
	return true
}
