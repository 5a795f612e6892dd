package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captain/internal/models"
	"captain/internal/utils"
	"captain/internal/validators"
	"captain/pkg/cache"
	"captain/pkg/push"
	"captain/pkg/websocket"
)

type mockNotificationRepo struct {
	listFn    func(ctx context.Context, userID string) ([]*models.Notification, error)
	replaceFn func(ctx context.Context, userID string, notifications []models.Notification) error
	createFn  func(ctx context.Context, n *models.Notification) error
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string) ([]*models.Notification, error) {
	return m.listFn(ctx, userID)
}

func (m *mockNotificationRepo) ReplaceForUser(ctx context.Context, userID string, notifications []models.Notification) error {
	return m.replaceFn(ctx, userID, notifications)
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	return m.createFn(ctx, n)
}

func (m *mockNotificationRepo) MarkAsRead(context.Context, string, string) error {
	return nil
}

type mockDeviceRepo struct {
	devices  []*models.Device
	upserted []*models.Device
}

func (m *mockDeviceRepo) Upsert(_ context.Context, d *models.Device) error {
	m.upserted = append(m.upserted, d)
	return nil
}

func (m *mockDeviceRepo) ListByUser(context.Context, string) ([]*models.Device, error) {
	return m.devices, nil
}

func (m *mockDeviceRepo) Delete(context.Context, string) error {
	return nil
}

type sentEvent struct {
	Room    string
	Event   string
	Payload interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) SendToUser(userID, event string, payload interface{}) error {
	return b.BroadcastToRoom(utils.UserRoom(userID), event, payload)
}

func (b *recordingBroadcaster) BroadcastToRoom(roomID, event string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Room: roomID, Event: event, Payload: payload})
	return nil
}

func (b *recordingBroadcaster) snapshot() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.events...)
}

type recordingProvider struct {
	requests []*push.NotificationRequest
}

func (p *recordingProvider) SendNotification(_ context.Context, r *push.NotificationRequest) (*push.NotificationResponse, error) {
	p.requests = append(p.requests, r)
	return &push.NotificationResponse{Success: true}, nil
}

func TestNotificationService_Create(t *testing.T) {
	var stored *models.Notification
	repo := &mockNotificationRepo{createFn: func(_ context.Context, n *models.Notification) error {
		stored = n
		return nil
	}}
	devices := &mockDeviceRepo{devices: []*models.Device{{Token: "a", Platform: "android"}, {Token: "i", Platform: "ios"}}}
	broadcaster := &recordingBroadcaster{}
	fcm, apns := &recordingProvider{}, &recordingProvider{}

	svc := NewNotificationService(repo, devices, broadcaster, push.NewDispatcher(fcm, apns), nil)
	n, err := svc.Create(context.Background(), "d1", models.NotificationDraft{
		Title: "New order",
		Body:  "Pickup at Market St",
		Type:  models.NotificationTypeOrder,
	})
	require.NoError(t, err)

	assert.Contains(t, n.ID, "srv_notif_")
	assert.False(t, n.Read)
	require.NotNil(t, stored)
	assert.Equal(t, "d1", stored.UserID)

	events := broadcaster.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, utils.UserRoom("d1"), events[0].Room)
	assert.Equal(t, models.EventNotification, events[0].Event)

	require.Len(t, fcm.requests, 1)
	require.Len(t, apns.requests, 1)
	assert.Equal(t, n.ID, fcm.requests[0].Data["notificationId"])
}

func TestNotificationService_CreateRejectsInvalidDraft(t *testing.T) {
	repo := &mockNotificationRepo{createFn: func(context.Context, *models.Notification) error {
		t.Fatal("repository must not be called")
		return nil
	}}
	svc := NewNotificationService(repo, &mockDeviceRepo{}, nil, nil, nil)

	_, err := svc.Create(context.Background(), "d1", models.NotificationDraft{Title: " ", Body: "b", Type: models.NotificationTypeSystem})
	assert.ErrorIs(t, err, validators.ErrEmptyText)

	_, err = svc.Create(context.Background(), "d1", models.NotificationDraft{Title: "t", Body: "b", Type: "promo"})
	assert.ErrorIs(t, err, validators.ErrInvalidNotificationType)
}

func TestNotificationService_SyncDedupesAndValidates(t *testing.T) {
	var replaced []models.Notification
	repo := &mockNotificationRepo{replaceFn: func(_ context.Context, _ string, list []models.Notification) error {
		replaced = list
		return nil
	}}
	svc := NewNotificationService(repo, &mockDeviceRepo{}, nil, nil, nil)

	err := svc.Sync(context.Background(), "d1", []models.Notification{
		{ID: "n1", Type: models.NotificationTypeOrder},
		{ID: "n1", Type: models.NotificationTypeOrder},
		{ID: "n2", Type: models.NotificationTypePayment, Read: true},
	})
	require.NoError(t, err)
	require.Len(t, replaced, 2)
	assert.True(t, replaced[1].Read)

	err = svc.Sync(context.Background(), "d1", []models.Notification{{ID: "n3", Type: "bogus"}})
	assert.ErrorIs(t, err, validators.ErrInvalidNotificationType)
}

func TestNotificationService_ListPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	repo := &mockNotificationRepo{listFn: func(context.Context, string) ([]*models.Notification, error) {
		return nil, boom
	}}
	svc := NewNotificationService(repo, &mockDeviceRepo{}, nil, nil, nil)

	_, err := svc.List(context.Background(), "d1")
	assert.ErrorIs(t, err, boom)
}

type mockMessageRepo struct {
	saved    []*models.Message
	statuses map[string]models.MessageStatus
}

func (m *mockMessageRepo) Save(_ context.Context, msg *models.Message) error {
	m.saved = append(m.saved, msg)
	m.statuses[msg.ID] = msg.Status
	return nil
}

func (m *mockMessageRepo) UpdateStatus(_ context.Context, _ string, id string, status models.MessageStatus) (bool, error) {
	current, ok := m.statuses[id]
	if !ok || current.Rank() >= status.Rank() {
		return false, nil
	}
	m.statuses[id] = status
	return true, nil
}

func (m *mockMessageRepo) ListByConversation(context.Context, string, int64) ([]*models.Message, error) {
	return m.saved, nil
}

func inbound(t *testing.T, event string, payload interface{}) websocket.Inbound {
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	return websocket.Inbound{UserID: "d1", ConversationID: "c1", Envelope: env}
}

func TestChatService_PersistsMessagesAndReceipts(t *testing.T) {
	repo := &mockMessageRepo{statuses: map[string]models.MessageStatus{}}
	svc := NewChatService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.HandleInbound(ctx, inbound(t, models.EventChatMessage,
		models.Message{ID: "m1", Sender: models.SenderDriver, Text: "hello", Status: models.MessageStatusSending})))
	require.Len(t, repo.saved, 1)
	assert.Equal(t, "c1", repo.saved[0].ConversationID)
	assert.Equal(t, models.MessageStatusSent, repo.saved[0].Status)

	require.NoError(t, svc.HandleInbound(ctx, inbound(t, models.EventReadReceipt,
		models.ReadReceipt{MessageID: "m1", Status: models.MessageStatusRead})))
	require.NoError(t, svc.HandleInbound(ctx, inbound(t, models.EventReadReceipt,
		models.ReadReceipt{MessageID: "m1", Status: models.MessageStatusDelivered})))
	assert.Equal(t, models.MessageStatusRead, repo.statuses["m1"])

	history, err := svc.History(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestChatService_RejectsInvalidEvents(t *testing.T) {
	repo := &mockMessageRepo{statuses: map[string]models.MessageStatus{}}
	svc := NewChatService(repo, nil)
	ctx := context.Background()

	assert.Error(t, svc.HandleInbound(ctx, inbound(t, models.EventChatMessage, models.Message{ID: "m1", Sender: "bot", Text: "x"})))
	assert.Error(t, svc.HandleInbound(ctx, inbound(t, models.EventChatMessage, models.Message{ID: "m2", Sender: models.SenderDriver, Text: "   "})))
	assert.ErrorIs(t, svc.HandleInbound(ctx, inbound(t, models.EventReadReceipt, models.ReadReceipt{MessageID: "m1", Status: models.MessageStatusSent})), validators.ErrInvalidMessageStatus)
	assert.NoError(t, svc.HandleInbound(ctx, inbound(t, models.EventTypingStatus, models.TypingStatus{IsTyping: true})))
	assert.Empty(t, repo.saved)
}

func TestOrderService(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	svc := NewOrderService(broadcaster)

	require.NoError(t, svc.PublishNewOrder(models.Order{ID: "o1", Type: models.OrderTypeSingle}))
	require.NoError(t, svc.PublishOrderTaken("o1"))
	assert.ErrorIs(t, svc.PublishOrderTaken(""), ErrInvalidOrder)
	assert.ErrorIs(t, svc.PublishNewOrder(models.Order{}), ErrInvalidOrder)

	events := broadcaster.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, utils.RoomDrivers, events[0].Room)
	assert.Equal(t, models.EventNewOrder, events[0].Event)
	assert.Equal(t, models.OrderTaken{OrderID: "o1"}, events[1].Payload)
}

func TestFanout_DeliversPublishedEventsLocally(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	local := &recordingBroadcaster{}
	fanout := NewFanout(cache.NewRedisCacheWithClient(client, "captain:"), "captain:events", local, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fanout.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("captain:events")["captain:events"] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, fanout.SendToUser("d1", models.EventNotification, models.Notification{ID: "n1"}))
	require.Eventually(t, func() bool { return len(local.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	got := local.snapshot()[0]
	assert.Equal(t, utils.UserRoom("d1"), got.Room)
	assert.Equal(t, models.EventNotification, got.Event)
	raw, ok := got.Payload.(json.RawMessage)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"n1"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fanout did not stop")
	}
}
