// Package transport provides the event-subscribable bidirectional channel
// the messaging components talk through: a WebSocket client and an
// in-process simulation of the server.
package transport

import (
	"context"
	"errors"

	"captain/internal/models"
)

var ErrNotConnected = errors.New("transport not connected")

// Transport delivers named inbound events to subscribers and sends named
// outbound events. Sends are at-most-once; nothing is queued while the
// connection is down.
type Transport interface {
	// Connect starts a connect cycle. The open event fires once the
	// connection is established.
	Connect(ctx context.Context) error
	// On registers handler for event and returns its unsubscribe function.
	// Unsubscribing more than once has no effect.
	On(event string, handler Handler) func()
	// Send returns ErrNotConnected and drops the event when the transport
	// is not connected.
	Send(event string, payload interface{}) error
	// Disconnect closes the connection and fires close with a
	// manual_disconnect reason. Repeated calls are no-ops.
	Disconnect()
	Status() models.ConnectionState
}

func closeEnvelope(reason string) models.Envelope {
	env, _ := models.NewEnvelope(models.EventClose, models.ClosePayload{Reason: reason})
	return env
}

func openEnvelope() models.Envelope {
	env, _ := models.NewEnvelope(models.EventOpen, nil)
	return env
}

// isLocalEvent reports whether event is raised by the transport itself and
// must not be accepted from the network.
func isLocalEvent(event string) bool {
	return event == models.EventOpen || event == models.EventClose
}
