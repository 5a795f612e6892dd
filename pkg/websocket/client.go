package websocket

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"captain/internal/models"
)

const writeWait = 10 * time.Second

type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	UserID         string
	UserType       string
	ConversationID string
	rooms          map[string]bool

	pingPeriod     time.Duration
	pongWait       time.Duration
	maxMessageSize int64
}

func NewClient(hub *Hub, conn *websocket.Conn, userID, userType, conversationID string) *Client {
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, 256),
		UserID:         userID,
		UserType:       userType,
		ConversationID: conversationID,
		rooms:          make(map[string]bool),
		pingPeriod:     54 * time.Second,
		pongWait:       60 * time.Second,
		maxMessageSize: 8192,
	}
}

func (c *Client) roomList() []string {
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.WithUserID(c.UserID).WithError(err).Warn("WebSocket read error")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.hub.log.WithUserID(c.UserID).Warn("Discarding malformed client frame")
			continue
		}

		select {
		case c.hub.inbound <- clientEvent{client: c, env: env}:
		case <-c.hub.stop:
			return
		}
	}
}

// writePump writes one envelope per frame; the peer decodes each text
// frame as a single JSON document.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
