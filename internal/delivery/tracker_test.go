package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captain/internal/clock"
	"captain/internal/models"
	"captain/internal/storage"
	"captain/internal/transport"
)

var testStart = time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)

func connectedMock(t *testing.T, opts transport.MockOptions) (*transport.Mock, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testStart)
	m := transport.NewMock(opts, clk, nil)
	require.NoError(t, m.Connect(context.Background()))
	clk.Advance(opts.ConnectDelay)
	require.Equal(t, models.ConnectionConnected, m.Status())
	return m, clk
}

func recordTransitions(tr *Tracker) *[]string {
	var seen []string
	tr.Watch(func(change Transition) {
		seen = append(seen, string(change.From)+">"+string(change.Message.Status))
	})
	return &seen
}

func decodeReceipts(t *testing.T, envs []models.Envelope) []models.ReadReceipt {
	t.Helper()
	out := make([]models.ReadReceipt, 0, len(envs))
	for _, env := range envs {
		var r models.ReadReceipt
		require.NoError(t, env.Decode(&r))
		out = append(out, r)
	}
	return out
}

func TestTracker_SendWhileConnected(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)
	seen := recordTransitions(tr)

	msg, err := tr.Send(context.Background(), "on my way")
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSent, msg.Status)
	assert.Equal(t, models.SenderDriver, msg.Sender)
	assert.Equal(t, "14:30", msg.Timestamp)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, []string{">sending", "sending>sent"}, *seen)

	sent := m.SentEvents(models.EventChatMessage)
	require.Len(t, sent, 1)
	var wire models.Message
	require.NoError(t, sent[0].Decode(&wire))
	assert.Equal(t, msg.ID, wire.ID)
	assert.Equal(t, "on my way", wire.Text)
}

func TestTracker_SendWhileDisconnectedStaysSending(t *testing.T) {
	clk := clock.NewFake(testStart)
	m := transport.NewMock(transport.MockOptions{}, clk, nil)
	tr := NewTracker(m, Options{Clock: clk}, nil)

	msg, err := tr.Send(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, models.MessageStatusSending, msg.Status)
	assert.Empty(t, m.Sent())
	assert.Len(t, tr.Messages(), 1)
}

func TestTracker_RejectsEmptyText(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)

	_, err := tr.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, tr.Messages())
}

func TestTracker_ReceiptsOnlyMoveForward(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)
	msg, err := tr.Send(context.Background(), "hi")
	require.NoError(t, err)
	seen := recordTransitions(tr)

	require.NoError(t, m.Inject(models.EventReadReceipt, models.ReadReceipt{MessageID: msg.ID, Status: models.MessageStatusRead}))
	require.NoError(t, m.Inject(models.EventReadReceipt, models.ReadReceipt{MessageID: msg.ID, Status: models.MessageStatusDelivered}))
	require.NoError(t, m.Inject(models.EventReadReceipt, models.ReadReceipt{MessageID: msg.ID, Status: models.MessageStatusRead}))

	got, ok := tr.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, models.MessageStatusRead, got.Status)
	assert.Equal(t, []string{"sent>delivered", "delivered>read"}, *seen)
}

func TestTracker_IgnoresUnknownAndPeerReceipts(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)
	require.NoError(t, m.Inject(models.EventChatMessage, models.Message{ID: "c1", Sender: models.SenderCustomer, Text: "where are you?"}))
	seen := recordTransitions(tr)

	require.NoError(t, m.Inject(models.EventReadReceipt, models.ReadReceipt{MessageID: "nope", Status: models.MessageStatusRead}))
	require.NoError(t, m.Inject(models.EventReadReceipt, models.ReadReceipt{MessageID: "c1", Status: models.MessageStatusRead}))
	require.NoError(t, m.Inject(models.EventReadReceipt, map[string]string{"messageId": "c1", "status": "bogus"}))

	assert.Empty(t, *seen)
	got, _ := tr.Message("c1")
	assert.Equal(t, models.MessageStatusDelivered, got.Status)
}

func TestTracker_InboundMessageIsAppendedOnceAndAcknowledged(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)

	reply := models.Message{ID: "c1", Sender: models.SenderCustomer, Text: "I'm at the door", Timestamp: "14:31", Status: models.MessageStatusSent}
	require.NoError(t, m.Inject(models.EventChatMessage, reply))
	require.NoError(t, m.Inject(models.EventChatMessage, reply))

	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "c1", msgs[0].ID)
	assert.Equal(t, models.MessageStatusDelivered, msgs[0].Status)

	receipts := decodeReceipts(t, m.SentEvents(models.EventReadReceipt))
	assert.Equal(t, []models.ReadReceipt{{MessageID: "c1", Status: models.MessageStatusDelivered}}, receipts)
}

func TestTracker_MarkReadAcknowledgesInbound(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)
	_, err := tr.Send(context.Background(), "outbound")
	require.NoError(t, err)
	require.NoError(t, m.Inject(models.EventChatMessage, models.Message{ID: "c1", Sender: models.SenderCustomer, Text: "one"}))
	require.NoError(t, m.Inject(models.EventChatMessage, models.Message{ID: "c2", Sender: models.SenderCustomer, Text: "two"}))

	assert.Equal(t, 2, tr.MarkRead(context.Background()))
	assert.Equal(t, 0, tr.MarkRead(context.Background()))

	for _, msg := range tr.Messages() {
		if msg.Sender == models.SenderCustomer {
			assert.Equal(t, models.MessageStatusRead, msg.Status)
		} else {
			assert.Equal(t, models.MessageStatusSent, msg.Status)
		}
	}

	receipts := decodeReceipts(t, m.SentEvents(models.EventReadReceipt))
	assert.Equal(t, []models.ReadReceipt{
		{MessageID: "c1", Status: models.MessageStatusDelivered},
		{MessageID: "c2", Status: models.MessageStatusDelivered},
		{MessageID: "c1", Status: models.MessageStatusRead},
		{MessageID: "c2", Status: models.MessageStatusRead},
	}, receipts)
}

func TestTracker_FullConversationAgainstSimulatedServer(t *testing.T) {
	opts := transport.DefaultMockOptions()
	opts.PushInterval = 0
	m, clk := connectedMock(t, opts)
	tr := NewTracker(m, Options{Clock: clk}, nil)
	seen := recordTransitions(tr)

	msg, err := tr.Send(context.Background(), "on my way")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, msg.Status)

	clk.Advance(800 * time.Millisecond)
	got, _ := tr.Message(msg.ID)
	assert.Equal(t, models.MessageStatusDelivered, got.Status)

	clk.Advance(1200 * time.Millisecond)
	got, _ = tr.Message(msg.ID)
	assert.Equal(t, models.MessageStatusRead, got.Status)

	clk.Advance(3000 * time.Millisecond)
	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderCustomer, msgs[1].Sender)

	assert.Equal(t, []string{
		">sending",
		"sending>sent",
		"sent>delivered",
		"delivered>read",
		">delivered",
	}, *seen)
}

func TestTracker_FlushOnReconnect(t *testing.T) {
	clk := clock.NewFake(testStart)
	m := transport.NewMock(transport.MockOptions{}, clk, nil)
	tr := NewTracker(m, Options{Clock: clk, FlushOnReconnect: true}, nil)

	first, err := tr.Send(context.Background(), "first")
	require.NoError(t, err)
	second, err := tr.Send(context.Background(), "second")
	require.NoError(t, err)
	require.Equal(t, models.MessageStatusSending, first.Status)

	require.NoError(t, m.Connect(context.Background()))

	sent := m.SentEvents(models.EventChatMessage)
	require.Len(t, sent, 2)
	var wire models.Message
	require.NoError(t, sent[0].Decode(&wire))
	assert.Equal(t, first.ID, wire.ID)

	got, _ := tr.Message(second.ID)
	assert.Equal(t, models.MessageStatusSent, got.Status)
}

func TestTracker_NoFlushByDefault(t *testing.T) {
	clk := clock.NewFake(testStart)
	m := transport.NewMock(transport.MockOptions{}, clk, nil)
	tr := NewTracker(m, Options{Clock: clk}, nil)

	msg, err := tr.Send(context.Background(), "pending")
	require.NoError(t, err)
	require.NoError(t, m.Connect(context.Background()))

	assert.Empty(t, m.Sent())
	got, _ := tr.Message(msg.ID)
	assert.Equal(t, models.MessageStatusSending, got.Status)
}

func TestTracker_HistoryPersistence(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	m, clk := connectedMock(t, transport.MockOptions{})

	tr := NewTracker(m, Options{Clock: clk, Store: store, ConversationID: "order-1"}, nil)
	msg, err := tr.Send(ctx, "saved")
	require.NoError(t, err)
	tr.Close()

	restored := NewTracker(m, Options{Clock: clk, Store: store, ConversationID: "order-1"}, nil)
	assert.Equal(t, 1, restored.LoadHistory(ctx))
	assert.Equal(t, 0, restored.LoadHistory(ctx))

	got, ok := restored.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, "saved", got.Text)
	assert.Equal(t, models.MessageStatusSent, got.Status)
}

func TestTracker_MalformedHistoryIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	require.NoError(t, store.SetItem(ctx, "chat_history", "[{broken"))
	m, clk := connectedMock(t, transport.MockOptions{})

	tr := NewTracker(m, Options{Clock: clk, Store: store}, nil)

	assert.Equal(t, 0, tr.LoadHistory(ctx))
	assert.Empty(t, tr.Messages())
}

func TestTracker_MessagesReturnsCopy(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)
	_, err := tr.Send(context.Background(), "original")
	require.NoError(t, err)

	snapshot := tr.Messages()
	snapshot[0].Text = "mutated"

	assert.Equal(t, "original", tr.Messages()[0].Text)
}

func TestTracker_WatchUnsubscribe(t *testing.T) {
	m, clk := connectedMock(t, transport.MockOptions{})
	tr := NewTracker(m, Options{Clock: clk}, nil)
	calls := 0
	off := tr.Watch(func(Transition) { calls++ })
	off()
	off()

	_, err := tr.Send(context.Background(), "quiet")
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}
