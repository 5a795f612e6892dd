package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"captain/internal/models"
	"captain/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

type WebSocketOptions struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer

	// Reconnect re-dials after an unexpected close using exponential
	// backoff with jitter. A manual Disconnect never reconnects.
	Reconnect            bool
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

// WebSocket is a Transport over a gorilla/websocket client connection
// exchanging JSON envelopes. Inbound events are dispatched on a single read
// goroutine in network order.
type WebSocket struct {
	opts WebSocketOptions
	log  *logger.Logger
	bus  *bus

	mu              sync.Mutex
	state           models.ConnectionState
	conn            *websocket.Conn
	manual          bool
	cancelReconnect context.CancelFunc

	writeMu sync.Mutex
}

func NewWebSocket(opts WebSocketOptions, log *logger.Logger) *WebSocket {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WebSocket{
		opts:  opts,
		log:   log.WithComponent("transport.websocket"),
		bus:   newBus(),
		state: models.ConnectionDisconnected,
	}
}

func (w *WebSocket) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.state != models.ConnectionDisconnected {
		w.mu.Unlock()
		return nil
	}
	w.state = models.ConnectionConnecting
	w.manual = false
	w.mu.Unlock()

	conn, _, err := w.opts.Dialer.DialContext(ctx, w.opts.URL, w.opts.Header)
	if err != nil {
		w.mu.Lock()
		if w.state == models.ConnectionConnecting {
			w.state = models.ConnectionDisconnected
		}
		w.mu.Unlock()
		return fmt.Errorf("failed to dial %s: %w", w.opts.URL, err)
	}

	w.mu.Lock()
	if w.state != models.ConnectionConnecting {
		// Disconnect raced the dial.
		w.mu.Unlock()
		conn.Close()
		return fmt.Errorf("connect aborted: %w", ErrNotConnected)
	}
	conn.SetReadLimit(maxMessageSize)
	w.conn = conn
	w.state = models.ConnectionConnected
	w.mu.Unlock()

	w.log.LogTransportEvent("in", models.EventOpen, map[string]interface{}{"url": w.opts.URL})
	w.bus.emit(openEnvelope())

	go w.readLoop(conn)
	return nil
}

func (w *WebSocket) On(event string, handler Handler) func() {
	return w.bus.on(event, handler)
}

func (w *WebSocket) Send(event string, payload interface{}) error {
	w.mu.Lock()
	conn := w.conn
	connected := w.state == models.ConnectionConnected
	w.mu.Unlock()

	if !connected || conn == nil {
		w.log.WithEvent(event).Warn("WebSocket is not connected, dropping outbound event")
		return ErrNotConnected
	}

	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		w.log.WithEvent(event).WithError(err).Warn("Failed to write outbound event")
		return fmt.Errorf("failed to send %s: %w", event, err)
	}

	w.log.LogTransportEvent("out", event, nil)
	return nil
}

func (w *WebSocket) Disconnect() {
	w.mu.Lock()
	w.manual = true
	if w.cancelReconnect != nil {
		w.cancelReconnect()
		w.cancelReconnect = nil
	}
	if w.state == models.ConnectionDisconnected {
		w.mu.Unlock()
		return
	}
	conn := w.conn
	w.conn = nil
	w.state = models.ConnectionDisconnected
	w.mu.Unlock()

	if conn != nil {
		w.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, models.CloseReasonManual),
			time.Now().Add(writeWait))
		w.writeMu.Unlock()
		conn.Close()
	}

	w.log.LogTransportEvent("in", models.EventClose, map[string]interface{}{"reason": models.CloseReasonManual})
	w.bus.emit(closeEnvelope(models.CloseReasonManual))
}

func (w *WebSocket) Status() models.ConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.handleClose(conn, err)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			w.log.WithError(err).Warn("Discarding malformed inbound frame")
			continue
		}
		if env.Event == "" || isLocalEvent(env.Event) {
			continue
		}

		w.log.LogTransportEvent("in", env.Event, nil)
		w.bus.emit(env)
	}
}

func (w *WebSocket) handleClose(conn *websocket.Conn, err error) {
	w.mu.Lock()
	if w.conn != conn {
		// Already torn down by Disconnect.
		w.mu.Unlock()
		return
	}
	w.conn = nil
	w.state = models.ConnectionDisconnected
	reconnect := w.opts.Reconnect && !w.manual
	var ctx context.Context
	if reconnect {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		w.cancelReconnect = cancel
	}
	w.mu.Unlock()

	conn.Close()

	reason := models.CloseReasonError
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		reason = models.CloseReasonServer
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		w.log.WithError(err).Warn("WebSocket closed unexpectedly")
	}

	w.log.LogTransportEvent("in", models.EventClose, map[string]interface{}{"reason": reason})
	w.bus.emit(closeEnvelope(reason))

	if reconnect {
		go w.reconnect(ctx)
	}
}

func (w *WebSocket) reconnect(ctx context.Context) {
	backoff := retry.NewExponential(w.opts.ReconnectBaseDelay)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(w.opts.ReconnectMaxDelay, backoff)
	if w.opts.ReconnectMaxAttempts > 0 {
		backoff = retry.WithMaxRetries(uint64(w.opts.ReconnectMaxAttempts), backoff)
	}

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := w.Connect(ctx); err != nil {
			w.log.WithError(err).WithField("attempt", attempt).Debug("Reconnect attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		w.log.WithError(err).WithField("attempts", attempt).Warn("Giving up reconnecting")
	}
}
