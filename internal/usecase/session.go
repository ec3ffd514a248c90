// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// SessionConfig holds optional session controller settings.
type SessionConfig struct {
	// FaultHandler receives errors raised on background paths: unrecognized
	// daemon events and failed live-update starts. Defaults to logging them.
	FaultHandler func(error)
}

// Snapshot is the state the front-end renders.
type Snapshot struct {
	HasModel   bool
	Running    bool
	Dead       bool
	Saved      bool
	LiveUpdate bool
	Gates      Gates
}

// SessionController coordinates the edited layout with the daemon lifecycle.
//
// Every field the front-end observes is written on the dispatcher. Actions
// may be called from any goroutine except the dispatcher's own.
type SessionController struct {
	client   domain.DaemonClient
	live     domain.LayoutProvider
	ui       domain.Dispatcher
	logger   *zap.Logger
	onFault  func(error)
	inflight *semaphore.Weighted

	mu          sync.Mutex
	model       domain.LayoutModel
	modelCancel func()
	running     bool
	dead        bool
	saved       bool
	liveUpdate  bool
	livePending bool // A live-update start met a busy slot
	last        Snapshot
	listeners   map[int]func(Snapshot)
	nextID      int

	sub      domain.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

// NewSessionController creates a controller. Call Open to subscribe to the daemon.
func NewSessionController(
	client domain.DaemonClient,
	live domain.LayoutProvider,
	ui domain.Dispatcher,
	cfg SessionConfig,
	logger *zap.Logger,
) *SessionController {
	c := &SessionController{
		client:    client,
		live:      live,
		ui:        ui,
		logger:    logger,
		onFault:   cfg.FaultHandler,
		inflight:  semaphore.NewWeighted(1),
		saved:     true,
		listeners: make(map[int]func(Snapshot)),
	}
	if c.onFault == nil {
		c.onFault = func(err error) {
			logger.Error("session fault", zap.Error(err))
		}
	}
	c.last = c.snapshotLocked()
	return c
}

// Open subscribes to daemon events and syncs with the daemon's current state.
// Subscribing happens before the state is read, so no transition is missed.
func (c *SessionController) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.sub != nil {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	sub := c.client.Subscribe()
	c.sub = sub
	c.pumpDone = make(chan struct{})
	c.mu.Unlock()

	initial := domain.DaemonEvent{Kind: domain.EventForState(c.client.State())}
	if err := c.HandleEvent(ctx, initial); err != nil {
		return fmt.Errorf("failed to sync daemon state: %w", err)
	}

	go c.pump(sub)
	return nil
}

// Close unsubscribes from the daemon and releases the model subscription.
func (c *SessionController) Close() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	done := c.pumpDone
	if c.cancel != nil {
		c.cancel()
	}
	if c.modelCancel != nil {
		c.modelCancel()
		c.modelCancel = nil
	}
	c.model = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
		<-done
	}
}

func (c *SessionController) pump(sub domain.Subscription) {
	defer close(c.pumpDone)
	for ev := range sub.Events() {
		if err := c.HandleEvent(c.ctx, ev); err != nil {
			c.onFault(err)
		}
	}
}

// HandleEvent applies one daemon event on the dispatcher.
// Cancellation while applying is benign and leaves state untouched.
// An unrecognized kind returns an error wrapping domain.ErrUnexpectedEvent.
func (c *SessionController) HandleEvent(ctx context.Context, ev domain.DaemonEvent) error {
	var running, dead bool
	switch ev.Kind {
	case domain.EventRunning:
		running, dead = true, false
	case domain.EventStopped:
		running, dead = false, false
	case domain.EventDead:
		running, dead = false, true
	case domain.EventDisplayChanged, domain.EventDesktopChanged, domain.EventFocusChanged,
		domain.EventPaused, domain.EventConnected:
		c.logger.Debug("daemon event", zap.String("event", string(ev.Kind)), zap.String("payload", ev.Payload))
		return nil
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnexpectedEvent, ev.Kind)
	}

	err := c.ui.Invoke(ctx, func() {
		c.mu.Lock()
		c.running, c.dead = running, dead
		c.mu.Unlock()
		c.publish()
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Debug("daemon event dropped during shutdown", zap.String("event", string(ev.Kind)))
			return nil
		}
		return fmt.Errorf("failed to apply daemon event %s: %w", ev.Kind, err)
	}

	c.logger.Debug("daemon state changed",
		zap.String("event", string(ev.Kind)),
		zap.Bool("running", running),
		zap.Bool("dead", dead))
	return nil
}

// Attach replaces the edited model. Passing nil detaches.
func (c *SessionController) Attach(ctx context.Context, model domain.LayoutModel) error {
	return c.ui.Invoke(ctx, func() {
		c.mu.Lock()
		if c.modelCancel != nil {
			c.modelCancel()
			c.modelCancel = nil
		}
		c.model = model
		c.saved = true
		if model != nil {
			c.saved = model.Saved()
			c.modelCancel = model.OnSavedChanged(func(bool) {
				c.ui.Post(func() { c.refreshSaved(model) })
			})
		}
		c.mu.Unlock()

		c.publish()
		c.maybeLiveUpdate()
	})
}

// Detach drops the edited model.
func (c *SessionController) Detach(ctx context.Context) error {
	return c.Attach(ctx, nil)
}

// refreshSaved re-reads Saved from the model. Runs on the dispatcher.
func (c *SessionController) refreshSaved(model domain.LayoutModel) {
	c.mu.Lock()
	if c.model != model {
		c.mu.Unlock()
		return
	}
	changed := c.saved != model.Saved()
	c.saved = model.Saved()
	c.mu.Unlock()

	if changed {
		c.publish()
		c.maybeLiveUpdate()
	}
}

// SetLiveUpdate toggles automatic start on edit.
func (c *SessionController) SetLiveUpdate(ctx context.Context, on bool) error {
	return c.ui.Invoke(ctx, func() {
		c.mu.Lock()
		changed := c.liveUpdate != on
		c.liveUpdate = on
		c.mu.Unlock()

		if changed {
			c.publish()
			c.maybeLiveUpdate()
		}
	})
}

// maybeLiveUpdate runs Start in the background when live update is on and the
// model has edits. Runs on the dispatcher.
func (c *SessionController) maybeLiveUpdate() {
	c.mu.Lock()
	model := c.model
	trigger := c.liveUpdate && model != nil
	ctx := c.ctx
	c.mu.Unlock()

	if !trigger || model.Saved() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if err := c.start(ctx, true); err != nil {
			c.onFault(fmt.Errorf("live update: %w", err))
		}
	}()
}

// Snapshot returns the current state and gates.
func (c *SessionController) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *SessionController) snapshotLocked() Snapshot {
	s := Snapshot{
		HasModel:   c.model != nil,
		Running:    c.running,
		Dead:       c.dead,
		Saved:      c.saved,
		LiveUpdate: c.liveUpdate,
	}
	s.Gates = ComputeGates(GateInputs{
		Running:    s.Running,
		Dead:       s.Dead,
		Saved:      s.Saved,
		LiveUpdate: s.LiveUpdate,
	})
	return s
}

// OnChange registers fn to run on the dispatcher after every state change.
func (c *SessionController) OnChange(fn func(Snapshot)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// publish notifies listeners when the snapshot changed. Runs on the dispatcher.
func (c *SessionController) publish() {
	c.mu.Lock()
	s := c.snapshotLocked()
	if s == c.last {
		c.mu.Unlock()
		return
	}
	c.last = s
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (c *SessionController) currentModel() domain.LayoutModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}
