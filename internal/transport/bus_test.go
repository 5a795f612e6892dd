package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"captain/internal/models"
)

func TestBus_HandlersFireInRegistrationOrder(t *testing.T) {
	b := newBus()
	var calls []string
	b.on("ping", func(models.Envelope) { calls = append(calls, "first") })
	b.on("ping", func(models.Envelope) { calls = append(calls, "second") })
	b.on("other", func(models.Envelope) { calls = append(calls, "other") })

	b.emit(models.Envelope{Event: "ping"})

	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := newBus()
	var first, second int
	off := b.on("ping", func(models.Envelope) { first++ })
	b.on("ping", func(models.Envelope) { second++ })

	off()
	off()
	b.emit(models.Envelope{Event: "ping"})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, b.count("ping"))
}

func TestBus_UnsubscribeDuringEmitKeepsSnapshot(t *testing.T) {
	b := newBus()
	var calls []string
	var offSecond func()
	b.on("ping", func(models.Envelope) {
		calls = append(calls, "first")
		offSecond()
	})
	offSecond = b.on("ping", func(models.Envelope) { calls = append(calls, "second") })

	b.emit(models.Envelope{Event: "ping"})
	b.emit(models.Envelope{Event: "ping"})

	assert.Equal(t, []string{"first", "second", "first"}, calls)
}

func TestBus_EmitWithoutHandlersIsNoop(t *testing.T) {
	b := newBus()
	assert.NotPanics(t, func() { b.emit(models.Envelope{Event: "unknown"}) })
}
