package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"captain/internal/config"
	"captain/internal/middleware"
	"captain/internal/utils"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	cfg      *config.WebSocketConfig
}

// NewHandler upgrades authenticated requests and attaches them to hub. The
// caller owns the hub's Run and Stop.
func NewHandler(hub *Hub, cfg *config.WebSocketConfig) *Handler {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	allowAll := len(cfg.AllowedOrigins) == 0
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		origins[strings.TrimRight(origin, "/")] = true
	}

	return &Handler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || origins[origin]
			},
		},
	}
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		utils.UnauthorizedResponse(c)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.log.WithUserID(userID).WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, userID, middleware.GetUserType(c), c.Query("conversation_id"))
	if h.cfg.PingInterval > 0 {
		client.pingPeriod = h.cfg.PingInterval
	}
	if h.cfg.PongTimeout > 0 {
		client.pongWait = h.cfg.PongTimeout
	}
	if h.cfg.MaxMessageSize > 0 {
		client.maxMessageSize = h.cfg.MaxMessageSize
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.stop:
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Handler) GetHub() *Hub {
	return h.hub
}
