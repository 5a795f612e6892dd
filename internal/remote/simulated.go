package remote

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"captain/internal/clock"
	"captain/internal/models"
	"captain/internal/storage"
	"captain/pkg/logger"
)

const simulatedStoreKey = "captain_notifications_backend"

type SimulatedOptions struct {
	FetchLatency time.Duration
	SyncLatency  time.Duration
	// NoticeProbability is the chance that a fetch finds a new system notice.
	NoticeProbability float64
	Store             storage.Store
	Clock             clock.Clock
	Random            *rand.Rand
}

func DefaultSimulatedOptions() SimulatedOptions {
	return SimulatedOptions{
		FetchLatency:      800 * time.Millisecond,
		SyncLatency:       500 * time.Millisecond,
		NoticeProbability: 0.3,
	}
}

// Simulated is an in-process notification backend for offline demos. Its
// list lives in a key-value store.
type Simulated struct {
	opts SimulatedOptions
	log  *logger.Logger

	mu sync.Mutex
}

func NewSimulated(opts SimulatedOptions, log *logger.Logger) *Simulated {
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Random == nil {
		opts.Random = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Simulated{opts: opts, log: log.WithComponent("remote.simulated")}
}

func (s *Simulated) FetchRemoteNotifications(ctx context.Context) ([]models.Notification, error) {
	if err := s.wait(ctx, s.opts.FetchLatency); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored []models.Notification
	storage.LoadJSON(ctx, s.opts.Store, s.log, simulatedStoreKey, &stored)

	if s.opts.Random.Float64() < s.opts.NoticeProbability {
		now := s.opts.Clock.Now()
		notice := models.Notification{
			ID:        fmt.Sprintf("remote_%d", now.UnixMilli()),
			Title:     "System notice",
			Body:      "The agency privacy policy was updated, please review it.",
			Type:      models.NotificationTypeSystem,
			Timestamp: models.DisplayTime(now),
		}
		stored = append([]models.Notification{notice}, stored...)
		storage.SaveJSON(ctx, s.opts.Store, s.log, simulatedStoreKey, stored)
	}
	return stored, nil
}

func (s *Simulated) SyncToServer(ctx context.Context, notifications []models.Notification) error {
	if err := s.wait(ctx, s.opts.SyncLatency); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	storage.SaveJSON(ctx, s.opts.Store, s.log, simulatedStoreKey, notifications)
	return nil
}

func (s *Simulated) RegisterDeviceForPush(ctx context.Context) (bool, error) {
	s.log.Info("Registering device for push notifications")
	return true, nil
}

func (s *Simulated) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	done := make(chan struct{})
	timer := s.opts.Clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}
