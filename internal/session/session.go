// Package session wires the transport and the messaging components of one
// driver into a unit whose lifecycle is owned by the entry point.
package session

import (
	"context"
	"sync"
	"time"

	"captain/internal/clock"
	"captain/internal/delivery"
	"captain/internal/models"
	"captain/internal/notify"
	"captain/internal/orders"
	"captain/internal/storage"
	"captain/internal/transport"
	"captain/internal/typing"
	"captain/pkg/logger"
)

type Config struct {
	Self             models.Sender
	ConversationID   string
	FlushOnReconnect bool

	BannerTimeout         time.Duration
	SyncInterval          time.Duration
	SyncTimeout           time.Duration
	NotificationRetention int

	TypingIdleTimeout   time.Duration
	TypingRemoteTimeout time.Duration

	Store storage.Store
	Clock clock.Clock
}

type Session struct {
	Transport     transport.Transport
	Chat          *delivery.Tracker
	Notifications *notify.Synchronizer
	Typing        *typing.Coordinator
	Orders        *orders.Feed

	log *logger.Logger

	mu       sync.Mutex
	watchers []func(models.ConnectionState)
	unsubs   []func()
	started  bool
}

func New(tr transport.Transport, remote notify.Remote, cfg Config, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	s := &Session{
		Transport: tr,
		Chat: delivery.NewTracker(tr, delivery.Options{
			Self:             cfg.Self,
			ConversationID:   cfg.ConversationID,
			FlushOnReconnect: cfg.FlushOnReconnect,
			Store:            cfg.Store,
			Clock:            cfg.Clock,
		}, log),
		Notifications: notify.New(remote, tr, notify.Options{
			BannerTimeout: cfg.BannerTimeout,
			SyncInterval:  cfg.SyncInterval,
			SyncTimeout:   cfg.SyncTimeout,
			Retention:     cfg.NotificationRetention,
			Clock:         cfg.Clock,
		}, log),
		Typing: typing.New(tr, typing.Options{
			IdleTimeout:   cfg.TypingIdleTimeout,
			RemoteTimeout: cfg.TypingRemoteTimeout,
			Clock:         cfg.Clock,
		}, log),
		Orders: orders.NewFeed(tr, log),
		log:    log.WithComponent("session").WithConversationID(cfg.ConversationID),
	}

	s.unsubs = append(s.unsubs,
		tr.On(models.EventOpen, func(models.Envelope) { s.emitState(models.ConnectionConnected) }),
		tr.On(models.EventClose, func(models.Envelope) { s.emitState(models.ConnectionDisconnected) }),
	)
	return s
}

// Start restores chat history, connects the transport and starts
// notification syncing. A failed connect is returned but the session stays
// usable offline.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if n := s.Chat.LoadHistory(ctx); n > 0 {
		s.log.WithField("count", n).Info("Restored chat history")
	}
	s.Notifications.Start(ctx)

	if err := s.Transport.Connect(ctx); err != nil {
		s.log.WithError(err).Warn("Initial connect failed, continuing offline")
		return err
	}
	return nil
}

// SetOnline follows device connectivity: going offline closes the
// transport, coming back online reconnects it.
func (s *Session) SetOnline(ctx context.Context, online bool) error {
	if !online {
		s.log.Info("Connectivity lost, disconnecting")
		s.Transport.Disconnect()
		return nil
	}
	if s.Transport.Status() != models.ConnectionDisconnected {
		return nil
	}
	s.log.Info("Connectivity restored, reconnecting")
	return s.Transport.Connect(ctx)
}

func (s *Session) ConnectionState() models.ConnectionState {
	return s.Transport.Status()
}

// WatchConnection calls fn on every open and close of the transport.
func (s *Session) WatchConnection(fn func(models.ConnectionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Close tears the session down: typing is reset, background work is
// stopped and the transport is disconnected.
func (s *Session) Close() {
	s.Typing.Close()
	s.Notifications.Stop()
	s.Chat.Close()
	s.Orders.Close()
	s.Transport.Disconnect()

	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, off := range unsubs {
		off()
	}
}

func (s *Session) emitState(state models.ConnectionState) {
	s.mu.Lock()
	watchers := make([]func(models.ConnectionState), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(state)
	}
}
