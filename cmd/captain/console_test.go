package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captain/internal/clock"
	"captain/internal/delivery"
	"captain/internal/models"
	"captain/internal/remote"
	"captain/internal/session"
	"captain/internal/storage"
	"captain/internal/transport"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"", command{kind: cmdEmpty}},
		{"   ", command{kind: cmdEmpty}},
		{"on my way", command{kind: cmdSend, arg: "on my way"}},
		{"/read", command{kind: cmdRead}},
		{"/ack  n1 ", command{kind: cmdAck, arg: "n1"}},
		{"/notify order New | Pickup", command{kind: cmdNotify, arg: "order New | Pickup"}},
		{"/exit", command{kind: cmdQuit}},
		{"/dance", command{kind: cmdUnknown, arg: "/dance"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCommand(tt.line))
		})
	}
}

func TestParseDraft(t *testing.T) {
	draft, err := parseDraft("order New order | Pickup at Store A")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationDraft{
		Title: "New order",
		Body:  "Pickup at Store A",
		Type:  models.NotificationTypeOrder,
	}, draft)

	_, err = parseDraft("order")
	assert.Error(t, err)
	_, err = parseDraft("order missing body")
	assert.Error(t, err)
}

func TestConsole_RenderTransition(t *testing.T) {
	c := newConsole(&bytes.Buffer{}, models.SenderDriver)

	mine := c.renderTransition(delivery.Transition{Message: models.Message{
		ID: "m1", Sender: models.SenderDriver, Text: "hello", Timestamp: "08:00", Status: models.MessageStatusDelivered,
	}})
	assert.Contains(t, mine, "you:")
	assert.Contains(t, mine, "✓✓")

	theirs := c.renderTransition(delivery.Transition{Message: models.Message{
		ID: "m2", Sender: models.SenderCustomer, Text: "thanks", Timestamp: "08:01",
	}})
	assert.Contains(t, theirs, "customer:")
	assert.Contains(t, theirs, "thanks")
}

func TestConsole_ExecuteAgainstMockSession(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	opts := transport.DefaultMockOptions()
	opts.PushInterval = 0
	m := transport.NewMock(opts, clk, nil)

	simulated := remote.DefaultSimulatedOptions()
	simulated.FetchLatency = 0
	simulated.SyncLatency = 0
	simulated.NoticeProbability = 0
	simulated.Clock = clk

	sess := session.New(m, remote.NewSimulated(simulated, nil), session.Config{
		Self:           models.SenderDriver,
		ConversationID: "order-1",
		Store:          storage.NewMemory(),
		Clock:          clk,
	}, nil)
	t.Cleanup(sess.Close)

	var out bytes.Buffer
	c := newConsole(&out, models.SenderDriver)
	c.attach(sess)

	ctx := context.Background()
	require.NoError(t, sess.Start(ctx))
	clk.Advance(500 * time.Millisecond)

	assert.False(t, c.execute(ctx, sess, parseCommand("at the gate")))
	assert.Len(t, m.SentEvents(models.EventChatMessage), 1)
	assert.Contains(t, out.String(), "at the gate")
	assert.False(t, sess.Typing.LocalTyping())

	assert.False(t, c.execute(ctx, sess, parseCommand("/notify order New order | Pickup at Store A")))
	list := sess.Notifications.Notifications()
	require.Len(t, list, 1)
	assert.Equal(t, 1, sess.Notifications.UnreadCount())

	assert.False(t, c.execute(ctx, sess, parseCommand("/ack "+list[0].ID)))
	assert.Equal(t, 0, sess.Notifications.UnreadCount())

	assert.False(t, c.execute(ctx, sess, parseCommand("/bogus")))
	assert.Contains(t, out.String(), "unknown command /bogus")

	assert.True(t, c.execute(ctx, sess, parseCommand("/quit")))
}
