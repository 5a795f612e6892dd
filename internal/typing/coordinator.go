// Package typing exchanges ephemeral typing indicators with the peer of a
// conversation.
package typing

import (
	"strings"
	"sync"
	"time"

	"captain/internal/clock"
	"captain/internal/models"
	"captain/internal/transport"
	"captain/pkg/logger"
)

type Options struct {
	// IdleTimeout sends isTyping=false after no input for this long. Zero
	// disables it.
	IdleTimeout time.Duration
	// RemoteTimeout clears the peer's flag when no update arrives for this
	// long. Zero disables it.
	RemoteTimeout time.Duration
	Clock         clock.Clock
}

type watcher struct {
	id uint64
	fn func(bool)
}

type Coordinator struct {
	opts  Options
	tr    transport.Transport
	log   *logger.Logger
	clock clock.Clock

	mu          sync.Mutex
	local       bool
	remote      bool
	idleTimer   clock.Timer
	idleGen     uint64
	remoteTimer clock.Timer
	remoteGen   uint64
	watchers    []watcher
	nextID      uint64

	unsubs []func()
}

func New(tr transport.Transport, opts Options, log *logger.Logger) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	c := &Coordinator{
		opts:  opts,
		tr:    tr,
		log:   log.WithComponent("typing"),
		clock: opts.Clock,
	}
	c.unsubs = append(c.unsubs,
		tr.On(models.EventTypingStatus, c.handleRemote),
		tr.On(models.EventClose, func(models.Envelope) { c.handleClose() }),
	)
	return c
}

// SetLocalTyping announces the local typing state. Only changes are sent,
// and the state is kept only once the transport accepted it.
func (c *Coordinator) SetLocalTyping(typing bool) {
	c.mu.Lock()
	if !typing {
		c.stopIdleLocked()
	}
	if c.local == typing {
		c.mu.Unlock()
		return
	}
	c.local = typing
	c.mu.Unlock()

	if err := c.send(typing); err != nil {
		c.mu.Lock()
		if c.local == typing {
			c.local = !typing
		}
		c.mu.Unlock()
	}
}

// InputChanged derives the typing state from the composer text and re-arms
// the idle timeout while input keeps arriving.
func (c *Coordinator) InputChanged(text string) {
	typing := strings.TrimSpace(text) != ""
	c.SetLocalTyping(typing)
	if !typing || c.opts.IdleTimeout <= 0 {
		return
	}

	c.mu.Lock()
	c.stopIdleLocked()
	c.idleGen++
	gen := c.idleGen
	c.idleTimer = c.clock.AfterFunc(c.opts.IdleTimeout, func() {
		c.mu.Lock()
		live := c.idleGen == gen
		c.mu.Unlock()
		if live {
			c.SetLocalTyping(false)
		}
	})
	c.mu.Unlock()
}

func (c *Coordinator) LocalTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Coordinator) RemoteTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Watch calls fn whenever the peer's typing flag changes.
func (c *Coordinator) Watch(fn func(typing bool)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers = append(c.watchers, watcher{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, w := range c.watchers {
				if w.id == id {
					c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
					return
				}
			}
		})
	}
}

// Reset clears both flags, telling the peer we stopped if we were typing.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.stopIdleLocked()
	c.stopRemoteLocked()
	wasLocal := c.local
	c.local = false
	changed := c.setRemoteLocked(false)
	c.mu.Unlock()

	if wasLocal {
		c.send(false)
	}
	c.notify(changed, false)
}

func (c *Coordinator) Close() {
	c.Reset()
	for _, off := range c.unsubs {
		off()
	}
}

func (c *Coordinator) handleRemote(env models.Envelope) {
	var status models.TypingStatus
	if err := env.Decode(&status); err != nil {
		c.log.WithError(err).Warn("Ignoring malformed typing status")
		return
	}

	c.mu.Lock()
	c.stopRemoteLocked()
	changed := c.setRemoteLocked(status.IsTyping)
	if status.IsTyping && c.opts.RemoteTimeout > 0 {
		c.remoteGen++
		gen := c.remoteGen
		c.remoteTimer = c.clock.AfterFunc(c.opts.RemoteTimeout, func() { c.expireRemote(gen) })
	}
	c.mu.Unlock()

	c.notify(changed, status.IsTyping)
}

func (c *Coordinator) expireRemote(gen uint64) {
	c.mu.Lock()
	if c.remoteGen != gen {
		c.mu.Unlock()
		return
	}
	c.remoteTimer = nil
	changed := c.setRemoteLocked(false)
	c.mu.Unlock()

	if changed != nil {
		c.log.Debug("Peer typing indicator expired")
	}
	c.notify(changed, false)
}

// handleClose forgets both flags without sending; the peer's state is
// unknown while disconnected and ours is re-announced on the next input.
func (c *Coordinator) handleClose() {
	c.mu.Lock()
	c.stopIdleLocked()
	c.stopRemoteLocked()
	c.local = false
	changed := c.setRemoteLocked(false)
	c.mu.Unlock()

	c.notify(changed, false)
}

func (c *Coordinator) setRemoteLocked(typing bool) []watcher {
	if c.remote == typing {
		return nil
	}
	c.remote = typing
	out := make([]watcher, len(c.watchers))
	copy(out, c.watchers)
	return out
}

func (c *Coordinator) notify(watchers []watcher, typing bool) {
	for _, w := range watchers {
		w.fn(typing)
	}
}

func (c *Coordinator) stopIdleLocked() {
	c.idleGen++
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Coordinator) stopRemoteLocked() {
	c.remoteGen++
	if c.remoteTimer != nil {
		c.remoteTimer.Stop()
		c.remoteTimer = nil
	}
}

func (c *Coordinator) send(typing bool) error {
	err := c.tr.Send(models.EventTypingStatus, models.TypingStatus{IsTyping: typing})
	if err != nil {
		c.log.WithError(err).Debug("Typing status not sent")
	}
	return err
}
