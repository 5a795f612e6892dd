// Package orders keeps the list of orders currently offered to the driver,
// fed by new_order and order_taken events.
package orders

import (
	"sync"

	"captain/internal/models"
	"captain/internal/transport"
	"captain/pkg/logger"
)

type Feed struct {
	log *logger.Logger

	mu       sync.Mutex
	orders   []models.Order
	onChange []func([]models.Order)

	unsubs []func()
}

func NewFeed(tr transport.Transport, log *logger.Logger) *Feed {
	if log == nil {
		log = logger.Nop()
	}
	f := &Feed{log: log.WithComponent("orders")}
	f.unsubs = append(f.unsubs,
		tr.On(models.EventNewOrder, f.handleNewOrder),
		tr.On(models.EventOrderTaken, f.handleOrderTaken),
	)
	return f
}

// Orders returns the available orders, newest first.
func (f *Feed) Orders() []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) OnChange(fn func([]models.Order)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = append(f.onChange, fn)
}

func (f *Feed) Close() {
	for _, off := range f.unsubs {
		off()
	}
}

func (f *Feed) handleNewOrder(env models.Envelope) {
	var order models.Order
	if err := env.Decode(&order); err != nil || order.ID == "" {
		f.log.WithError(err).Warn("Ignoring malformed order")
		return
	}

	f.mu.Lock()
	for _, existing := range f.orders {
		if existing.ID == order.ID {
			f.mu.Unlock()
			return
		}
	}
	f.orders = append([]models.Order{order}, f.orders...)
	snapshot, listeners := f.snapshotLocked(), f.listenersLocked()
	f.mu.Unlock()

	f.log.WithField("order_id", order.ID).Info("New order available")
	f.emit(listeners, snapshot)
}

func (f *Feed) handleOrderTaken(env models.Envelope) {
	var taken models.OrderTaken
	if err := env.Decode(&taken); err != nil || taken.OrderID == "" {
		f.log.WithError(err).Warn("Ignoring malformed order_taken event")
		return
	}

	f.mu.Lock()
	removed := false
	for i, o := range f.orders {
		if o.ID == taken.OrderID {
			f.orders = append(f.orders[:i:i], f.orders[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		f.mu.Unlock()
		return
	}
	snapshot, listeners := f.snapshotLocked(), f.listenersLocked()
	f.mu.Unlock()

	f.log.WithField("order_id", taken.OrderID).Info("Order taken by another driver")
	f.emit(listeners, snapshot)
}

func (f *Feed) snapshotLocked() []models.Order {
	out := make([]models.Order, len(f.orders))
	copy(out, f.orders)
	return out
}

func (f *Feed) listenersLocked() []func([]models.Order) {
	out := make([]func([]models.Order), len(f.onChange))
	copy(out, f.onChange)
	return out
}

func (f *Feed) emit(listeners []func([]models.Order), orders []models.Order) {
	for _, fn := range listeners {
		fn(orders)
	}
}
