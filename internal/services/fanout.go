package services

import (
	"context"
	"encoding/json"
	"fmt"

	"captain/internal/utils"
	"captain/pkg/cache"
	"captain/pkg/logger"
)

type fanoutMessage struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Fanout publishes socket events on a Redis channel so that every server
// instance delivers them to its own connections.
type Fanout struct {
	cache   *cache.RedisCache
	channel string
	local   Broadcaster
	log     *logger.Logger
}

func NewFanout(c *cache.RedisCache, channel string, local Broadcaster, log *logger.Logger) *Fanout {
	if log == nil {
		log = logger.Nop()
	}
	return &Fanout{
		cache:   c,
		channel: channel,
		local:   local,
		log:     log.WithComponent("fanout"),
	}
}

func (f *Fanout) SendToUser(userID, event string, payload interface{}) error {
	return f.BroadcastToRoom(utils.UserRoom(userID), event, payload)
}

func (f *Fanout) BroadcastToRoom(roomID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	msg := fanoutMessage{Room: roomID, Event: event, Payload: data}
	if err := f.cache.Publish(context.Background(), f.channel, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	return nil
}

// Run delivers published events to local connections until ctx ends.
func (f *Fanout) Run(ctx context.Context) error {
	pubsub := f.cache.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}
	f.log.WithField("channel", f.channel).Info("Fanout subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.deliver(msg.Payload)
		}
	}
}

func (f *Fanout) deliver(raw string) {
	var msg fanoutMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil || msg.Room == "" || msg.Event == "" {
		f.log.Warn("Discarding malformed fanout message")
		return
	}
	if err := f.local.BroadcastToRoom(msg.Room, msg.Event, msg.Payload); err != nil {
		f.log.WithEvent(msg.Event).WithError(err).Warn("Fanout delivery failed")
	}
}
