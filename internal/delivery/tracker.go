// Package delivery tracks the status of chat messages in one conversation
// as they move from sending through sent and delivered to read.
package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"captain/internal/clock"
	"captain/internal/models"
	"captain/internal/storage"
	"captain/internal/transport"
	"captain/pkg/logger"
)

var ErrEmptyMessage = errors.New("message text is empty")

// Transition reports a change to the conversation log. From is empty when
// the message was just appended.
type Transition struct {
	Message models.Message
	From    models.MessageStatus
}

type Options struct {
	// Self is the local party. Receipts only apply to its own messages.
	Self           models.Sender
	ConversationID string
	// FlushOnReconnect re-sends messages still marked sending when the
	// transport opens.
	FlushOnReconnect bool
	Store            storage.Store
	HistoryKey       string
	Clock            clock.Clock
}

type watcher struct {
	id uint64
	fn func(Transition)
}

// Tracker owns the ordered conversation log. It is safe for concurrent use.
type Tracker struct {
	opts  Options
	tr    transport.Transport
	log   *logger.Logger
	clock clock.Clock

	mu       sync.Mutex
	messages []models.Message
	index    map[string]int
	watchers []watcher
	nextID   uint64

	saveMu sync.Mutex
	unsubs []func()
}

func NewTracker(tr transport.Transport, opts Options, log *logger.Logger) *Tracker {
	if opts.Self == "" {
		opts.Self = models.SenderDriver
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.HistoryKey == "" {
		opts.HistoryKey = "chat_history"
		if opts.ConversationID != "" {
			opts.HistoryKey += ":" + opts.ConversationID
		}
	}
	if log == nil {
		log = logger.Nop()
	}

	t := &Tracker{
		opts:  opts,
		tr:    tr,
		log:   log.WithComponent("delivery").WithConversationID(opts.ConversationID),
		clock: opts.Clock,
		index: make(map[string]int),
	}

	t.unsubs = append(t.unsubs,
		tr.On(models.EventReadReceipt, t.handleReceipt),
		tr.On(models.EventChatMessage, t.handleInbound),
	)
	if opts.FlushOnReconnect {
		t.unsubs = append(t.unsubs, tr.On(models.EventOpen, func(models.Envelope) { t.Flush() }))
	}
	return t
}

// LoadHistory seeds the log from the store. Stored entries that are
// malformed or already present are skipped.
func (t *Tracker) LoadHistory(ctx context.Context) int {
	var stored []models.Message
	if !storage.LoadJSON(ctx, t.opts.Store, t.log, t.opts.HistoryKey, &stored) {
		return 0
	}

	t.mu.Lock()
	loaded := 0
	for _, msg := range stored {
		if msg.ID == "" || !msg.Sender.IsValid() {
			continue
		}
		if _, exists := t.index[msg.ID]; exists {
			continue
		}
		msg.ConversationID = t.opts.ConversationID
		t.appendLocked(msg)
		loaded++
	}
	t.mu.Unlock()

	t.log.WithField("count", loaded).Debug("Loaded chat history")
	return loaded
}

// Send appends a new message from the local party and hands it to the
// transport. The message stays sending when the transport is down.
func (t *Tracker) Send(ctx context.Context, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	now := t.clock.Now()
	msg := models.Message{
		ID:             uuid.NewString(),
		Sender:         t.opts.Self,
		Text:           text,
		Timestamp:      models.DisplayTime(now),
		Status:         models.MessageStatusSending,
		ConversationID: t.opts.ConversationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t.mu.Lock()
	t.appendLocked(msg)
	t.mu.Unlock()
	t.notify([]Transition{{Message: msg}})

	if t.transmit(msg) {
		t.advance(msg.ID, models.MessageStatusSent)
	}
	t.persist(ctx)

	current, _ := t.Message(msg.ID)
	return current, nil
}

// MarkRead marks every inbound message read and acknowledges each one to
// the peer.
func (t *Tracker) MarkRead(ctx context.Context) int {
	t.mu.Lock()
	var changes []Transition
	for i := range t.messages {
		msg := &t.messages[i]
		if msg.Sender == t.opts.Self || msg.Status == models.MessageStatusRead {
			continue
		}
		from := msg.Status
		msg.Status = models.MessageStatusRead
		msg.UpdatedAt = t.clock.Now()
		changes = append(changes, Transition{Message: *msg, From: from})
	}
	t.mu.Unlock()

	if len(changes) == 0 {
		return 0
	}

	t.notify(changes)
	for _, change := range changes {
		t.acknowledge(change.Message.ID, models.MessageStatusRead)
	}
	t.persist(ctx)
	return len(changes)
}

// Flush re-sends, in log order, own messages that never left the device.
func (t *Tracker) Flush() int {
	t.mu.Lock()
	var pending []models.Message
	for _, msg := range t.messages {
		if msg.Sender == t.opts.Self && msg.Status == models.MessageStatusSending {
			pending = append(pending, msg)
		}
	}
	t.mu.Unlock()

	flushed := 0
	for _, msg := range pending {
		if !t.transmit(msg) {
			break
		}
		t.advance(msg.ID, models.MessageStatusSent)
		flushed++
	}
	if flushed > 0 {
		t.log.WithField("count", flushed).Info("Flushed pending messages")
		t.persist(context.Background())
	}
	return flushed
}

// Watch registers fn for every transition and returns its unsubscribe
// function.
func (t *Tracker) Watch(fn func(Transition)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.watchers = append(t.watchers, watcher{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, w := range t.watchers {
				if w.id == id {
					t.watchers = append(t.watchers[:i:i], t.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

// Messages returns a copy of the log in display order.
func (t *Tracker) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Tracker) Message(id string) (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return models.Message{}, false
	}
	return t.messages[i], true
}

func (t *Tracker) Close() {
	for _, off := range t.unsubs {
		off()
	}
}

func (t *Tracker) handleReceipt(env models.Envelope) {
	var receipt models.ReadReceipt
	if err := env.Decode(&receipt); err != nil {
		t.log.WithError(err).Warn("Ignoring malformed read receipt")
		return
	}
	if receipt.Status != models.MessageStatusDelivered && receipt.Status != models.MessageStatusRead {
		t.log.WithMessageID(receipt.MessageID).WithField("status", receipt.Status).Debug("Ignoring receipt with unsupported status")
		return
	}

	t.mu.Lock()
	i, ok := t.index[receipt.MessageID]
	own := ok && t.messages[i].Sender == t.opts.Self
	t.mu.Unlock()
	if !own {
		return
	}

	if t.advance(receipt.MessageID, receipt.Status) {
		t.persist(context.Background())
	}
}

func (t *Tracker) handleInbound(env models.Envelope) {
	var msg models.Message
	if err := env.Decode(&msg); err != nil {
		t.log.WithError(err).Warn("Ignoring malformed chat message")
		return
	}
	if msg.ID == "" || msg.Sender == t.opts.Self {
		return
	}
	// Receiving it is the delivery; read follows from MarkRead.
	msg.Status = models.MessageStatusDelivered
	now := t.clock.Now()
	msg.ConversationID = t.opts.ConversationID
	msg.CreatedAt = now
	msg.UpdatedAt = now

	t.mu.Lock()
	if _, exists := t.index[msg.ID]; exists {
		t.mu.Unlock()
		return
	}
	t.appendLocked(msg)
	t.mu.Unlock()

	t.notify([]Transition{{Message: msg}})
	t.acknowledge(msg.ID, models.MessageStatusDelivered)
	t.persist(context.Background())
}

// advance moves an own message forward to status. A jump to read from
// below delivered is reported as two transitions. It reports whether the
// status changed.
func (t *Tracker) advance(id string, status models.MessageStatus) bool {
	t.mu.Lock()
	i, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	msg := &t.messages[i]
	if status.Rank() <= msg.Status.Rank() {
		t.mu.Unlock()
		return false
	}

	var changes []Transition
	step := func(to models.MessageStatus) {
		from := msg.Status
		msg.Status = to
		msg.UpdatedAt = t.clock.Now()
		changes = append(changes, Transition{Message: *msg, From: from})
	}
	if status == models.MessageStatusRead && msg.Status.Rank() < models.MessageStatusDelivered.Rank() {
		step(models.MessageStatusDelivered)
	}
	step(status)
	t.mu.Unlock()

	t.notify(changes)
	return true
}

func (t *Tracker) transmit(msg models.Message) bool {
	wire := msg
	wire.Status = models.MessageStatusSent
	if err := t.tr.Send(models.EventChatMessage, wire); err != nil {
		t.log.WithMessageID(msg.ID).WithError(err).Warn("Message not sent, keeping it pending")
		return false
	}
	return true
}

func (t *Tracker) acknowledge(id string, status models.MessageStatus) {
	receipt := models.ReadReceipt{MessageID: id, Status: status}
	if err := t.tr.Send(models.EventReadReceipt, receipt); err != nil {
		t.log.WithMessageID(id).WithError(err).Debug("Read receipt not sent")
	}
}

func (t *Tracker) appendLocked(msg models.Message) {
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
}

func (t *Tracker) notify(changes []Transition) {
	t.mu.Lock()
	watchers := make([]watcher, len(t.watchers))
	copy(watchers, t.watchers)
	t.mu.Unlock()

	for _, change := range changes {
		t.log.LogDeliveryTransition(change.Message.ID, string(change.From), string(change.Message.Status))
		for _, w := range watchers {
			w.fn(change)
		}
	}
}

func (t *Tracker) persist(ctx context.Context) {
	if t.opts.Store == nil {
		return
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	storage.SaveJSON(ctx, t.opts.Store, t.log, t.opts.HistoryKey, t.Messages())
}
