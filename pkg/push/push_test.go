package push

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name     string
	requests []*NotificationRequest
}

func (s *stubProvider) SendNotification(_ context.Context, request *NotificationRequest) (*NotificationResponse, error) {
	s.requests = append(s.requests, request)
	return &NotificationResponse{MessageID: s.name, Success: true, Token: request.Token}, nil
}

func TestDispatcher_RoutesByPlatform(t *testing.T) {
	fcm := &stubProvider{name: "fcm"}
	apns := &stubProvider{name: "apns"}
	d := NewDispatcher(fcm, apns)
	require.True(t, d.Enabled())

	for platform, want := range map[string]string{PlatformAndroid: "fcm", PlatformWeb: "fcm", PlatformIOS: "apns"} {
		resp, err := d.Send(context.Background(), platform, &NotificationRequest{Token: "t"})
		require.NoError(t, err)
		assert.Equal(t, want, resp.MessageID)
	}

	_, err := d.Send(context.Background(), "blackberry", &NotificationRequest{})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestDispatcher_WithoutProviders(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.False(t, d.Enabled())

	_, err := d.Send(context.Background(), PlatformIOS, &NotificationRequest{})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)

	var nilDispatcher *Dispatcher
	assert.False(t, nilDispatcher.Enabled())
}

func TestBuildFCMMessage(t *testing.T) {
	msg := buildFCMMessage(&NotificationRequest{
		Token:    "device",
		Title:    "New order",
		Body:     "Order #1 nearby",
		Data:     map[string]string{"notificationId": "n1"},
		Priority: "high",
		TTL:      60,
	})

	assert.Equal(t, "device", msg.Token)
	assert.Equal(t, "New order", msg.Notification.Title)
	assert.Equal(t, "n1", msg.Data["notificationId"])
	assert.Equal(t, "high", msg.Android.Priority)
	require.NotNil(t, msg.Android.TTL)
	assert.Equal(t, 60.0, msg.Android.TTL.Seconds())
}

func TestBuildAPNSNotification(t *testing.T) {
	n := buildAPNSNotification("com.captain.app", &NotificationRequest{
		Token: "device",
		Title: "Payment",
		Body:  "You were paid",
		Data:  map[string]string{"notificationId": "n2"},
		Badge: 3,
	})

	assert.Equal(t, "com.captain.app", n.Topic)
	assert.Equal(t, apns2.PriorityLow, n.Priority)

	raw, err := json.Marshal(n.Payload)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "n2", body["notificationId"])
	aps := body["aps"].(map[string]interface{})
	assert.Equal(t, 3.0, aps["badge"])
	alert := aps["alert"].(map[string]interface{})
	assert.Equal(t, "Payment", alert["title"])
}
