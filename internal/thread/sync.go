package thread

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"colloquy/internal/models"
	"colloquy/internal/observability"
)

// LoadFunc loads a full thread snapshot.
type LoadFunc func(ctx context.Context, threadID uint) Snapshot

// SyncController owns the change feed subscription of one active thread view
// and turns change events into whole-thread reloads.
//
// Every reload is stamped with a generation. Only the completion carrying the
// latest requested generation is handed to onSnapshot; anything older is
// dropped, so a slow reload can never overwrite a newer one. onSnapshot calls
// are serialized and must not call Activate or Deactivate synchronously.
type SyncController struct {
	scope      models.Scope
	feed       ChangeFeed
	load       LoadFunc
	onSnapshot func(Snapshot)
	coalesce   time.Duration
	log        *slog.Logger

	mu          sync.Mutex
	session     uint64
	active      bool
	threadID    uint
	ctx         context.Context
	unsubscribe Unsubscribe
	timer       *time.Timer
	requested   uint64

	deliverMu sync.Mutex
	inflight  sync.WaitGroup
}

// NewSyncController creates an inactive controller.
func NewSyncController(
	scope models.Scope, feed ChangeFeed, load LoadFunc, onSnapshot func(Snapshot), opts ...Option,
) *SyncController {
	o := buildOptions(opts)
	return &SyncController{
		scope:      scope,
		feed:       feed,
		load:       load,
		onSnapshot: onSnapshot,
		coalesce:   o.coalesce,
		log:        o.logger,
	}
}

// Activate subscribes to changes for threadID and triggers the initial load.
// Any previous activation is torn down first. When the subscription cannot be
// established the controller stays active without live updates and a
// TransportError is returned; the initial load still runs.
func (c *SyncController) Activate(ctx context.Context, threadID uint) error {
	c.Deactivate()

	c.mu.Lock()
	c.session++
	session := c.session
	c.active = true
	c.threadID = threadID
	c.ctx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	var subErr error
	if c.feed != nil {
		unsub, err := c.feed.Subscribe(ctx, c.scope, threadID, func(ev models.ChangeEvent) {
			c.handleEvent(session, ev)
		})
		if err != nil {
			observability.ChangeFeedErrors.WithLabelValues("controller", "subscribe").Inc()
			c.log.WarnContext(ctx, "change feed subscribe failed, live updates disabled",
				slog.String("kind", c.scope.String()),
				slog.Uint64("thread_id", uint64(threadID)),
				slog.String("error", err.Error()),
			)
			subErr = models.NewTransportError(err)
		} else {
			c.mu.Lock()
			if c.session == session {
				c.unsubscribe = unsub
				observability.ActiveSubscriptions.WithLabelValues(c.scope.String()).Inc()
				unsub = nil
			}
			c.mu.Unlock()
			// Deactivated while subscribing.
			if unsub != nil {
				_ = unsub()
			}
		}
	}

	c.reload(session)
	return subErr
}

// Deactivate tears down the subscription and discards every reload that is
// still in flight. When it returns no further onSnapshot call will be made
// until the next Activate. Safe to call repeatedly.
func (c *SyncController) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.session++
	c.active = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsub := c.unsubscribe
	c.unsubscribe = nil
	threadID := c.threadID
	c.mu.Unlock()

	if unsub != nil {
		observability.ActiveSubscriptions.WithLabelValues(c.scope.String()).Dec()
		if err := unsub(); err != nil {
			observability.ChangeFeedErrors.WithLabelValues("controller", "unsubscribe").Inc()
			c.log.Warn("change feed unsubscribe failed",
				slog.String("kind", c.scope.String()),
				slog.Uint64("thread_id", uint64(threadID)),
				slog.String("error", err.Error()),
			)
		}
	}

	// Wait out a delivery that may have passed the session check already.
	c.deliverMu.Lock()
	c.deliverMu.Unlock() //nolint:staticcheck
}

// Reload requests a full reload of the active thread. It is a no-op while
// inactive.
func (c *SyncController) Reload() {
	c.mu.Lock()
	session, active := c.session, c.active
	c.mu.Unlock()
	if active {
		c.reload(session)
	}
}

// ThreadID returns the active thread, or false when inactive.
func (c *SyncController) ThreadID() (uint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID, c.active
}

func (c *SyncController) handleEvent(session uint64, ev models.ChangeEvent) {
	c.mu.Lock()
	if session != c.session || !c.active {
		c.mu.Unlock()
		return
	}
	// Comment events are already filtered by the feed. Reaction events are
	// not, and reload the active thread whichever thread they belong to.
	if ev.Table == models.TableComments && ev.ThreadID != 0 && ev.ThreadID != c.threadID {
		c.mu.Unlock()
		return
	}
	observability.ChangeEvents.WithLabelValues(c.scope.String(), string(ev.Table)).Inc()

	if c.coalesce <= 0 {
		c.mu.Unlock()
		c.reload(session)
		return
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.coalesce, func() {
			c.mu.Lock()
			if session != c.session {
				c.mu.Unlock()
				return
			}
			c.timer = nil
			c.mu.Unlock()
			c.reload(session)
		})
	}
	c.mu.Unlock()
}

func (c *SyncController) reload(session uint64) {
	c.mu.Lock()
	if session != c.session {
		c.mu.Unlock()
		return
	}
	c.requested++
	gen := c.requested
	ctx, threadID := c.ctx, c.threadID
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		snap := c.load(ctx, threadID)
		snap.Generation = gen
		c.deliver(session, gen, snap)
	}()
}

func (c *SyncController) deliver(session, gen uint64, snap Snapshot) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	current := session == c.session && gen == c.requested
	c.mu.Unlock()

	kind := c.scope.String()
	if !current {
		observability.ThreadReloads.WithLabelValues(kind, observability.ReloadStale).Inc()
		return
	}

	switch snap.State {
	case StateFailed:
		observability.ThreadReloads.WithLabelValues(kind, observability.ReloadFailed).Inc()
	case StateUnresolved:
		observability.ThreadReloads.WithLabelValues(kind, observability.ReloadUnresolved).Inc()
	default:
		observability.ThreadReloads.WithLabelValues(kind, observability.ReloadApplied).Inc()
	}
	if c.onSnapshot != nil {
		c.onSnapshot(snap)
	}
}

// wait blocks until every started reload has finished.
func (c *SyncController) wait() {
	c.inflight.Wait()
}
