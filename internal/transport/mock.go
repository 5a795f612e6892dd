package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"captain/internal/clock"
	"captain/internal/models"
	"captain/pkg/logger"
)

// MockOptions tunes the simulated server. A zero delay disables the
// corresponding behavior; a zero ConnectDelay opens synchronously.
type MockOptions struct {
	ConnectDelay    time.Duration
	DeliveredDelay  time.Duration
	ReadDelay       time.Duration
	TypingDelay     time.Duration
	ReplyDelay      time.Duration
	PushInterval    time.Duration
	PushProbability float64

	Peer      models.Sender
	PeerID    string
	ReplyText string
	Random    func() float64
}

func DefaultMockOptions() MockOptions {
	return MockOptions{
		ConnectDelay:    500 * time.Millisecond,
		DeliveredDelay:  800 * time.Millisecond,
		ReadDelay:       2000 * time.Millisecond,
		TypingDelay:     2500 * time.Millisecond,
		ReplyDelay:      5000 * time.Millisecond,
		PushInterval:    45 * time.Second,
		PushProbability: 0.1,
		Peer:            models.SenderCustomer,
		PeerID:          "customer_1",
		ReplyText:       "Got your message, I'm waiting at the main entrance. Thank you.",
	}
}

// Mock is an in-process Transport that plays the server side of a
// conversation: it acknowledges sent chat messages with delivered and read
// receipts, simulates the peer typing and replying, and occasionally pushes
// a notification. Every simulated event is scheduled on the injected clock.
type Mock struct {
	opts  MockOptions
	clock clock.Clock
	log   *logger.Logger
	bus   *bus

	mu     sync.Mutex
	state  models.ConnectionState
	epoch  int
	timers []clock.Timer
	sent   []models.Envelope
}

func NewMock(opts MockOptions, clk clock.Clock, log *logger.Logger) *Mock {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.Peer == "" {
		opts.Peer = models.SenderCustomer
	}
	if opts.Random == nil {
		opts.Random = rand.Float64
	}
	return &Mock{
		opts:  opts,
		clock: clk,
		log:   log.WithComponent("transport.mock"),
		bus:   newBus(),
		state: models.ConnectionDisconnected,
	}
}

func (m *Mock) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != models.ConnectionDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = models.ConnectionConnecting
	m.epoch++
	epoch := m.epoch
	if m.opts.ConnectDelay > 0 {
		m.scheduleLocked(m.opts.ConnectDelay, epoch, func() { m.open(epoch) })
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.open(epoch)
	return nil
}

func (m *Mock) open(epoch int) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != models.ConnectionConnecting {
		m.mu.Unlock()
		return
	}
	m.state = models.ConnectionConnected
	if m.opts.PushInterval > 0 {
		m.schedulePushLocked(epoch)
	}
	m.mu.Unlock()

	m.log.LogTransportEvent("in", models.EventOpen, nil)
	m.dispatch(openEnvelope())
}

func (m *Mock) On(event string, handler Handler) func() {
	return m.bus.on(event, handler)
}

func (m *Mock) Send(event string, payload interface{}) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != models.ConnectionConnected {
		m.log.WithEvent(event).Warn("WebSocket is not connected, dropping outbound event")
		return ErrNotConnected
	}

	m.sent = append(m.sent, env)
	m.log.LogTransportEvent("out", event, nil)

	if event == models.EventChatMessage {
		var msg models.Message
		if err := env.Decode(&msg); err == nil && msg.ID != "" && msg.Sender != m.opts.Peer {
			m.simulateConversationLocked(msg.ID)
		}
	}
	return nil
}

func (m *Mock) Disconnect() {
	m.mu.Lock()
	if m.state == models.ConnectionDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = models.ConnectionDisconnected
	m.epoch++
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
	m.mu.Unlock()

	m.log.LogTransportEvent("in", models.EventClose, map[string]interface{}{"reason": models.CloseReasonManual})
	m.dispatch(closeEnvelope(models.CloseReasonManual))
}

func (m *Mock) Status() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Inject delivers an inbound event as if the server had sent it. It is
// ignored while disconnected.
func (m *Mock) Inject(event string, payload interface{}) error {
	if isLocalEvent(event) {
		return fmt.Errorf("cannot inject local event %q", event)
	}
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	if m.Status() != models.ConnectionConnected {
		return ErrNotConnected
	}
	m.dispatch(env)
	return nil
}

// Sent returns a copy of every envelope accepted by Send.
func (m *Mock) Sent() []models.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentEvents returns the accepted envelopes named event.
func (m *Mock) SentEvents(event string) []models.Envelope {
	var out []models.Envelope
	for _, env := range m.Sent() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (m *Mock) simulateConversationLocked(messageID string) {
	epoch := m.epoch
	if d := m.opts.DeliveredDelay; d > 0 {
		m.scheduleLocked(d, epoch, func() {
			m.emit(epoch, models.EventReadReceipt, models.ReadReceipt{MessageID: messageID, Status: models.MessageStatusDelivered})
		})
	}
	if d := m.opts.ReadDelay; d > 0 {
		m.scheduleLocked(d, epoch, func() {
			m.emit(epoch, models.EventReadReceipt, models.ReadReceipt{MessageID: messageID, Status: models.MessageStatusRead})
		})
	}
	if d := m.opts.TypingDelay; d > 0 {
		m.scheduleLocked(d, epoch, func() {
			m.emit(epoch, models.EventTypingStatus, models.TypingStatus{IsTyping: true, UserID: m.opts.PeerID})
		})
	}
	if d := m.opts.ReplyDelay; d > 0 {
		m.scheduleLocked(d, epoch, func() {
			m.emit(epoch, models.EventTypingStatus, models.TypingStatus{IsTyping: false, UserID: m.opts.PeerID})
			now := m.clock.Now()
			m.emit(epoch, models.EventChatMessage, models.Message{
				ID:        fmt.Sprintf("server_%d", now.UnixMilli()),
				Sender:    m.opts.Peer,
				Text:      m.opts.ReplyText,
				Timestamp: models.DisplayTime(now),
				Status:    models.MessageStatusSent,
			})
		})
	}
}

func (m *Mock) schedulePushLocked(epoch int) {
	m.scheduleLocked(m.opts.PushInterval, epoch, func() {
		if m.opts.Random() < m.opts.PushProbability {
			now := m.clock.Now()
			m.emit(epoch, models.EventNotification, models.Notification{
				ID:        "ws_notif_" + uuid.NewString(),
				Title:     "Live area update",
				Body:      "High demand right now in your area, head there for better orders.",
				Type:      models.NotificationTypeSystem,
				Timestamp: models.DisplayTime(now),
			})
		}

		m.mu.Lock()
		if m.epoch == epoch && m.state == models.ConnectionConnected {
			m.schedulePushLocked(epoch)
		}
		m.mu.Unlock()
	})
}

func (m *Mock) scheduleLocked(d time.Duration, epoch int, fn func()) {
	var t clock.Timer
	t = m.clock.AfterFunc(d, func() {
		m.mu.Lock()
		m.forgetLocked(t)
		live := m.epoch == epoch
		m.mu.Unlock()
		if live {
			fn()
		}
	})
	m.timers = append(m.timers, t)
}

func (m *Mock) forgetLocked(t clock.Timer) {
	for i, candidate := range m.timers {
		if candidate == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

func (m *Mock) emit(epoch int, event string, payload interface{}) {
	m.mu.Lock()
	live := m.epoch == epoch && m.state == models.ConnectionConnected
	m.mu.Unlock()
	if !live {
		return
	}

	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		m.log.WithEvent(event).WithError(err).Error("Failed to encode simulated event")
		return
	}
	m.log.LogTransportEvent("in", event, nil)
	m.dispatch(env)
}

func (m *Mock) dispatch(env models.Envelope) {
	m.bus.emit(env)
}
