// Package notify reconciles the local notification list with the server and
// drives the single auto-dismissing banner slot.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"captain/internal/clock"
	"captain/internal/models"
	"captain/internal/transport"
	"captain/internal/validators"
	"captain/pkg/logger"
)

var ErrSyncFailed = errors.New("notification sync failed")

// Remote is the server-side notification store.
type Remote interface {
	// FetchRemoteNotifications returns the stored list, newest first.
	FetchRemoteNotifications(ctx context.Context) ([]models.Notification, error)
	SyncToServer(ctx context.Context, notifications []models.Notification) error
	RegisterDeviceForPush(ctx context.Context) (bool, error)
}

type Options struct {
	BannerTimeout time.Duration
	SyncInterval  time.Duration
	SyncTimeout   time.Duration
	// Retention caps the list length, dropping the oldest entries. Zero
	// keeps everything.
	Retention int
	Clock     clock.Clock
}

const (
	DefaultBannerTimeout = 4 * time.Second
	DefaultSyncInterval  = 30 * time.Second
	DefaultRetention     = 200
)

type bannerWatcher struct {
	id uint64
	fn func(*models.Notification)
}

type Synchronizer struct {
	opts   Options
	remote Remote
	tr     transport.Transport
	log    *logger.Logger
	clock  clock.Clock

	mu            sync.Mutex
	notifications []models.Notification
	// pending holds ids created or pushed on this device that the remote
	// list has not confirmed yet. Sync keeps them.
	pending map[string]struct{}
	lastSyncedAt  time.Time
	synced        bool

	banner      *models.Notification
	bannerGen   uint64
	bannerTimer clock.Timer
	watchers    []bannerWatcher
	nextWatchID uint64

	loopTimer clock.Timer
	running   bool
	loopCtx   context.Context
	cancel    context.CancelFunc

	syncing  atomic.Int32
	inflight sync.WaitGroup
	unsubs   []func()
}

// New builds a Synchronizer. When tr is non-nil, pushed notification events
// are prepended as they arrive.
func New(remote Remote, tr transport.Transport, opts Options, log *logger.Logger) *Synchronizer {
	if opts.BannerTimeout <= 0 {
		opts.BannerTimeout = DefaultBannerTimeout
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.Retention < 0 {
		opts.Retention = 0
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Synchronizer{
		opts:    opts,
		remote:  remote,
		tr:      tr,
		log:     log.WithComponent("notify"),
		clock:   opts.Clock,
		pending: make(map[string]struct{}),
	}
	s.subscribeLocked()
	return s
}

func (s *Synchronizer) subscribeLocked() {
	if s.tr != nil && s.unsubs == nil {
		s.unsubs = append(s.unsubs, s.tr.On(models.EventNotification, s.handlePush))
	}
}

// Start performs the initial sync, registers the device for push and
// schedules background syncs. Failures of the first two are logged only.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.loopCtx, s.cancel = context.WithCancel(ctx)
	loopCtx := s.loopCtx
	s.subscribeLocked()
	s.mu.Unlock()

	if err := s.Sync(loopCtx); err != nil {
		s.log.WithError(err).Warn("Initial notification sync failed")
	}
	if _, err := s.remote.RegisterDeviceForPush(loopCtx); err != nil {
		s.log.WithError(err).Warn("Failed to register device for push")
	}

	s.mu.Lock()
	if s.running {
		s.scheduleLocked()
	}
	s.mu.Unlock()
}

// Stop cancels background syncing and waits for in-flight propagation.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		if s.loopTimer != nil {
			s.loopTimer.Stop()
			s.loopTimer = nil
		}
		s.cancel()
	}
	if s.bannerTimer != nil {
		s.bannerTimer.Stop()
		s.bannerTimer = nil
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, off := range unsubs {
		off()
	}
	s.Wait()
}

// Wait blocks until fire-and-forget server updates have finished.
func (s *Synchronizer) Wait() {
	s.inflight.Wait()
}

func (s *Synchronizer) scheduleLocked() {
	s.loopTimer = s.clock.AfterFunc(s.opts.SyncInterval, func() {
		s.mu.Lock()
		ctx := s.loopCtx
		running := s.running
		s.mu.Unlock()
		if !running {
			return
		}

		s.log.Debug("Background syncing notifications")
		if err := s.Sync(ctx); err != nil {
			s.log.WithError(err).Debug("Background sync failed, retrying next interval")
		}

		s.mu.Lock()
		if s.running {
			s.scheduleLocked()
		}
		s.mu.Unlock()
	})
}

// Sync fetches the remote list and adopts it when the id sets differ,
// keeping local items the remote has not confirmed yet. Those are sent to
// the server again. Read flags never revert. On failure the local list and
// LastSyncedAt are left untouched and the returned error wraps
// ErrSyncFailed.
func (s *Synchronizer) Sync(ctx context.Context) error {
	s.syncing.Add(1)
	defer s.syncing.Add(-1)

	if s.opts.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SyncTimeout)
		defer cancel()
	}

	start := s.clock.Now()
	remote, err := s.remote.FetchRemoteNotifications(ctx)
	if err != nil {
		s.log.LogSyncResult(0, false, s.clock.Now().Sub(start), err)
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}
	remote = normalize(remote)

	s.mu.Lock()
	changed, fresh := s.applyLocked(remote)
	s.lastSyncedAt = s.clock.Now()
	initial := !s.synced
	s.synced = true
	var activated *models.Notification
	if !initial && fresh != nil {
		activated = s.activateLocked(*fresh)
	}
	count := len(s.notifications)
	watchers := s.bannerWatchersLocked(activated != nil)
	var snapshot []models.Notification
	if len(s.pending) > 0 {
		snapshot = s.snapshotLocked()
	}
	s.mu.Unlock()

	if activated != nil {
		s.notifyBanner(watchers, activated)
	}
	if snapshot != nil {
		s.propagate(snapshot)
	}
	s.log.LogSyncResult(count, changed, s.clock.Now().Sub(start), nil)
	return nil
}

// applyLocked merges remote into the list. Pending items missing from
// remote stay in front, everything else follows the remote order. It
// returns whether the list changed and the newest unread item that was not
// held locally.
func (s *Synchronizer) applyLocked(remote []models.Notification) (bool, *models.Notification) {
	for _, n := range remote {
		delete(s.pending, n.ID)
	}

	local := make(map[string]bool, len(s.notifications))
	merged := make([]models.Notification, 0, len(remote)+len(s.pending))
	for _, n := range s.notifications {
		local[n.ID] = n.Read
		if _, ok := s.pending[n.ID]; ok {
			merged = append(merged, n)
		}
	}

	for _, n := range remote {
		n.Read = n.Read || local[n.ID]
		merged = append(merged, n)
	}

	merged = s.retain(merged)
	s.prunePendingLocked(merged)
	if sameIDs(local, merged) {
		return false, nil
	}
	s.notifications = merged

	for _, n := range merged {
		if _, known := local[n.ID]; !known && !n.Read {
			fresh := n
			return true, &fresh
		}
	}
	return true, nil
}

// prunePendingLocked forgets pending ids no longer in list.
func (s *Synchronizer) prunePendingLocked(list []models.Notification) {
	if len(s.pending) == 0 {
		return
	}
	kept := make(map[string]struct{}, len(list))
	for _, n := range list {
		kept[n.ID] = struct{}{}
	}
	for id := range s.pending {
		if _, ok := kept[id]; !ok {
			delete(s.pending, id)
		}
	}
}

// CreateLocal adds a notification raised on this device, shows it in the
// banner and propagates the list to the server in the background.
func (s *Synchronizer) CreateLocal(draft models.NotificationDraft) (models.Notification, error) {
	if err := validators.ValidateNotificationDraft(draft); err != nil {
		return models.Notification{}, err
	}

	now := s.clock.Now()
	n := models.Notification{
		ID:        uuid.NewString(),
		Title:     draft.Title,
		Body:      draft.Body,
		Type:      draft.Type,
		Timestamp: models.DisplayTime(now),
		Read:      false,
		CreatedAt: now,
	}

	s.mu.Lock()
	s.notifications = s.retain(append([]models.Notification{n}, s.notifications...))
	s.pending[n.ID] = struct{}{}
	s.prunePendingLocked(s.notifications)
	activated := s.activateLocked(n)
	snapshot := s.snapshotLocked()
	watchers := s.bannerWatchersLocked(true)
	s.mu.Unlock()

	s.notifyBanner(watchers, activated)
	s.propagate(snapshot)
	return n, nil
}

// MarkAsRead flags the notification read. Unknown ids are ignored. Marking
// the bannered notification read also dismisses the banner.
func (s *Synchronizer) MarkAsRead(id string) bool {
	s.mu.Lock()
	changed := false
	for i := range s.notifications {
		if s.notifications[i].ID == id && !s.notifications[i].Read {
			s.notifications[i].Read = true
			changed = true
			break
		}
	}
	if !changed {
		s.mu.Unlock()
		return false
	}
	var watchers []bannerWatcher
	if s.banner != nil && s.banner.ID == id {
		s.clearBannerLocked()
		watchers = s.bannerWatchersLocked(true)
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyBanner(watchers, nil)
	s.propagate(snapshot)
	return true
}

func (s *Synchronizer) MarkAllAsRead() int {
	s.mu.Lock()
	marked := 0
	for i := range s.notifications {
		if !s.notifications[i].Read {
			s.notifications[i].Read = true
			marked++
		}
	}
	if marked == 0 {
		s.mu.Unlock()
		return 0
	}
	var watchers []bannerWatcher
	if s.banner != nil {
		s.clearBannerLocked()
		watchers = s.bannerWatchersLocked(true)
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notifyBanner(watchers, nil)
	s.propagate(snapshot)
	return marked
}

func (s *Synchronizer) ActiveBanner() (models.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.banner == nil {
		return models.Notification{}, false
	}
	return *s.banner, true
}

// DismissBanner clears the banner and cancels its pending auto-clear.
func (s *Synchronizer) DismissBanner() {
	s.mu.Lock()
	if s.banner == nil {
		s.mu.Unlock()
		return
	}
	s.clearBannerLocked()
	watchers := s.bannerWatchersLocked(true)
	s.mu.Unlock()

	s.notifyBanner(watchers, nil)
}

// WatchBanner calls fn whenever the banner changes; nil means cleared.
func (s *Synchronizer) WatchBanner(fn func(*models.Notification)) func() {
	s.mu.Lock()
	s.nextWatchID++
	id := s.nextWatchID
	s.watchers = append(s.watchers, bannerWatcher{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, w := range s.watchers {
				if w.id == id {
					s.watchers = append(s.watchers[:i:i], s.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Synchronizer) Notifications() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	unread := 0
	for _, n := range s.notifications {
		if !n.Read {
			unread++
		}
	}
	return unread
}

// LastSyncedAt is the time of the last successful sync, zero before one.
func (s *Synchronizer) LastSyncedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncedAt
}

func (s *Synchronizer) Syncing() bool {
	return s.syncing.Load() > 0
}

func (s *Synchronizer) handlePush(env models.Envelope) {
	var n models.Notification
	if err := env.Decode(&n); err != nil || n.ID == "" {
		s.log.WithError(err).Warn("Ignoring malformed pushed notification")
		return
	}
	if !n.Type.IsValid() {
		n.Type = models.NotificationTypeSystem
	}
	if n.Timestamp == "" {
		n.Timestamp = models.DisplayTime(s.clock.Now())
	}

	s.mu.Lock()
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			s.mu.Unlock()
			return
		}
	}
	s.notifications = s.retain(append([]models.Notification{n}, s.notifications...))
	s.pending[n.ID] = struct{}{}
	s.prunePendingLocked(s.notifications)
	var activated *models.Notification
	if !n.Read {
		activated = s.activateLocked(n)
	}
	watchers := s.bannerWatchersLocked(activated != nil)
	s.mu.Unlock()

	s.log.WithField("notification_id", n.ID).Debug("Received pushed notification")
	if activated != nil {
		s.notifyBanner(watchers, activated)
	}
}

// activateLocked puts n in the banner slot, superseding whatever was shown,
// and arms its auto-clear. The timer only clears the banner it was armed
// for.
func (s *Synchronizer) activateLocked(n models.Notification) *models.Notification {
	if s.bannerTimer != nil {
		s.bannerTimer.Stop()
	}
	s.bannerGen++
	gen := s.bannerGen
	banner := n
	s.banner = &banner
	s.bannerTimer = s.clock.AfterFunc(s.opts.BannerTimeout, func() { s.expireBanner(gen) })

	out := banner
	return &out
}

func (s *Synchronizer) expireBanner(gen uint64) {
	s.mu.Lock()
	if s.bannerGen != gen || s.banner == nil {
		s.mu.Unlock()
		return
	}
	s.banner = nil
	s.bannerTimer = nil
	watchers := s.bannerWatchersLocked(true)
	s.mu.Unlock()

	s.notifyBanner(watchers, nil)
}

func (s *Synchronizer) clearBannerLocked() {
	if s.bannerTimer != nil {
		s.bannerTimer.Stop()
		s.bannerTimer = nil
	}
	s.bannerGen++
	s.banner = nil
}

func (s *Synchronizer) bannerWatchersLocked(changed bool) []bannerWatcher {
	if !changed || len(s.watchers) == 0 {
		return nil
	}
	out := make([]bannerWatcher, len(s.watchers))
	copy(out, s.watchers)
	return out
}

func (s *Synchronizer) notifyBanner(watchers []bannerWatcher, banner *models.Notification) {
	for _, w := range watchers {
		w.fn(banner)
	}
}

func (s *Synchronizer) propagate(snapshot []models.Notification) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		ctx := context.Background()
		if s.opts.SyncTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.SyncTimeout)
			defer cancel()
		}
		if err := s.remote.SyncToServer(ctx, snapshot); err != nil {
			s.log.WithError(err).Warn("Failed to sync notifications to server")
		}
	}()
}

func (s *Synchronizer) retain(list []models.Notification) []models.Notification {
	if s.opts.Retention > 0 && len(list) > s.opts.Retention {
		return list[:s.opts.Retention]
	}
	return list
}

func (s *Synchronizer) snapshotLocked() []models.Notification {
	out := make([]models.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// normalize drops entries without an id and repeated ids, keeping the first
// occurrence.
func normalize(list []models.Notification) []models.Notification {
	seen := make(map[string]struct{}, len(list))
	out := make([]models.Notification, 0, len(list))
	for _, n := range list {
		if n.ID == "" {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

func sameIDs(local map[string]bool, remote []models.Notification) bool {
	if len(local) != len(remote) {
		return false
	}
	for _, n := range remote {
		if _, ok := local[n.ID]; !ok {
			return false
		}
	}
	return true
}
