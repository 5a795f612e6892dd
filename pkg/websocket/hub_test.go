package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captain/internal/config"
	"captain/internal/middleware"
	"captain/internal/models"
	"captain/internal/utils"
)

const testSecret = "hub-secret"

type recordingSink struct {
	mu     sync.Mutex
	events []Inbound
}

func (s *recordingSink) HandleInbound(_ context.Context, in Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, in)
	return nil
}

func (s *recordingSink) snapshot() []Inbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Inbound(nil), s.events...)
}

type testServer struct {
	hub     *Hub
	sink    *recordingSink
	metrics *HubMetrics
	server  *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sink := &recordingSink{}
	metrics := NewHubMetrics(prometheus.NewRegistry())
	hub := NewHub(sink, metrics, nil)
	go hub.Run()

	handler := NewHandler(hub, &config.WebSocketConfig{AllowedOrigins: []string{"*"}})
	r := gin.New()
	r.GET("/ws", middleware.AuthRequired(testSecret), handler.HandleWebSocket)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return &testServer{hub: hub, sink: sink, metrics: metrics, server: srv}
}

func (s *testServer) dial(t *testing.T, userID, userType, conversationID string) *websocket.Conn {
	t.Helper()
	token, err := utils.GenerateToken(userID, userType, testSecret, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
	if conversationID != "" {
		url += "&conversation_id=" + conversationID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	welcome := readEnvelope(t, conn)
	require.Equal(t, models.EventWelcome, welcome.Event)
	return conn
}

func (s *testServer) roomSize(roomID string) int {
	s.hub.mutex.RLock()
	defer s.hub.mutex.RUnlock()
	return len(s.hub.rooms[roomID])
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func TestHub_WelcomeListsRooms(t *testing.T) {
	s := newTestServer(t)
	token, _ := utils.GenerateToken("d1", utils.UserTypeDriver, testSecret, time.Minute)
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?conversation_id=c1&token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	require.Equal(t, models.EventWelcome, env.Event)

	var welcome welcomePayload
	require.NoError(t, env.Decode(&welcome))
	assert.Equal(t, "d1", welcome.UserID)
	assert.ElementsMatch(t, []string{"user_d1", utils.RoomDrivers, "conversation_c1"}, welcome.Rooms)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.connections))
}

func TestHub_RejectsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestHub_RelaysConversationEventsToPeer(t *testing.T) {
	s := newTestServer(t)
	driver := s.dial(t, "d1", utils.UserTypeDriver, "c1")
	customer := s.dial(t, "u1", utils.UserTypeCustomer, "c1")
	outsider := s.dial(t, "u2", utils.UserTypeCustomer, "c2")

	msg := models.Message{ID: "m1", Sender: models.SenderDriver, Text: "on my way", Timestamp: "10:00", Status: models.MessageStatusSent}
	send(t, driver, models.EventChatMessage, msg)

	env := readEnvelope(t, customer)
	require.Equal(t, models.EventChatMessage, env.Event)
	var got models.Message
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "on my way", got.Text)

	send(t, customer, models.EventReadReceipt, models.ReadReceipt{MessageID: "m1", Status: models.MessageStatusRead})
	env = readEnvelope(t, driver)
	require.Equal(t, models.EventReadReceipt, env.Event)

	send(t, customer, models.EventTypingStatus, models.TypingStatus{IsTyping: true})
	env = readEnvelope(t, driver)
	var typing models.TypingStatus
	require.NoError(t, env.Decode(&typing))
	assert.True(t, typing.IsTyping)
	assert.Equal(t, "u1", typing.UserID)

	outsider.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := outsider.ReadMessage()
	assert.Error(t, err, "other conversations must not see the events")

	events := s.sink.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "d1", events[0].UserID)
	assert.Equal(t, "c1", events[0].ConversationID)
	assert.Equal(t, models.EventReadReceipt, events[1].Envelope.Event)
}

func TestHub_SenderDoesNotReceiveOwnEvent(t *testing.T) {
	s := newTestServer(t)
	driver := s.dial(t, "d1", utils.UserTypeDriver, "c1")
	customer := s.dial(t, "u1", utils.UserTypeCustomer, "c1")

	send(t, driver, models.EventChatMessage, models.Message{ID: "m1", Sender: models.SenderDriver, Text: "hi"})
	readEnvelope(t, customer)

	driver.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := driver.ReadMessage()
	assert.Error(t, err)
}

func TestHub_JoinAndBroadcastToRoom(t *testing.T) {
	s := newTestServer(t)
	driver := s.dial(t, "d1", utils.UserTypeDriver, "")

	send(t, driver, models.EventJoinRoom, models.RoomPayload{RoomID: "zone_north"})
	require.Eventually(t, func() bool { return s.roomSize("zone_north") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.hub.BroadcastToRoom("zone_north", models.EventNewOrder, models.Order{ID: "o1"}))
	env := readEnvelope(t, driver)
	assert.Equal(t, models.EventNewOrder, env.Event)

	send(t, driver, models.EventLeaveRoom, models.RoomPayload{RoomID: "zone_north"})
	require.Eventually(t, func() bool { return s.roomSize("zone_north") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_CannotJoinAnotherUsersRoom(t *testing.T) {
	s := newTestServer(t)
	intruder := s.dial(t, "u2", utils.UserTypeCustomer, "")
	s.dial(t, "u1", utils.UserTypeCustomer, "")

	send(t, intruder, models.EventJoinRoom, models.RoomPayload{RoomID: utils.UserRoom("u1")})
	send(t, intruder, models.EventJoinRoom, models.RoomPayload{RoomID: "zone_south"})
	require.Eventually(t, func() bool { return s.roomSize("zone_south") == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, s.roomSize(utils.UserRoom("u1")))
}

func TestHub_OnlyDriversJoinDriversRoom(t *testing.T) {
	s := newTestServer(t)
	s.dial(t, "d1", utils.UserTypeDriver, "")
	customer := s.dial(t, "u1", utils.UserTypeCustomer, "")

	send(t, customer, models.EventJoinRoom, models.RoomPayload{RoomID: utils.RoomDrivers})
	send(t, customer, models.EventJoinRoom, models.RoomPayload{RoomID: "zone_east"})
	require.Eventually(t, func() bool { return s.roomSize("zone_east") == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, s.roomSize(utils.RoomDrivers))
}

func TestHub_SendToUserAndDrivers(t *testing.T) {
	s := newTestServer(t)
	driver := s.dial(t, "d1", utils.UserTypeDriver, "")
	customer := s.dial(t, "u1", utils.UserTypeCustomer, "")

	require.NoError(t, s.hub.SendToUser("u1", models.EventNotification, models.Notification{ID: "n1", Title: "t", Body: "b", Type: models.NotificationTypeSystem}))
	env := readEnvelope(t, customer)
	assert.Equal(t, models.EventNotification, env.Event)

	require.NoError(t, s.hub.BroadcastToRoom(utils.RoomDrivers, models.EventOrderTaken, models.OrderTaken{OrderID: "o1"}))
	env = readEnvelope(t, driver)
	assert.Equal(t, models.EventOrderTaken, env.Event)
}

func TestHub_StopClosesClients(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "d1", utils.UserTypeDriver, "")
	require.Equal(t, 1, s.hub.ClientCount())

	s.hub.Stop()
	s.hub.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	assert.Equal(t, 0, s.hub.ClientCount())
}
