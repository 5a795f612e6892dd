package transport

import (
	"sync"

	"captain/internal/models"
)

// Handler receives an inbound event. The payload is left raw so each
// subscriber decodes only what it needs.
type Handler func(env models.Envelope)

type subscription struct {
	id      uint64
	handler Handler
}

// bus keeps the per-event observer lists shared by every transport.
type bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]subscription
}

func newBus() *bus {
	return &bus{handlers: make(map[string][]subscription)}
}

func (b *bus) on(event string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.off(event, id) })
	}
}

func (b *bus) off(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[event]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[event]) == 0 {
		delete(b.handlers, event)
	}
}

// emit calls the handlers registered at the time of the call, in
// registration order. Handlers run without the lock held so they may
// subscribe, unsubscribe or send.
func (b *bus) emit(env models.Envelope) {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[env.Event]))
	copy(subs, b.handlers[env.Event])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(env)
	}
}

func (b *bus) count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}
