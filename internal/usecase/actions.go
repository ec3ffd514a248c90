package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// Start marks the layout enabled, persists it, then starts the daemon against
// the application's live layout. Persistence always completes before the
// daemon is contacted. A closed gate or a start/stop already in flight makes
// it a no-op. A failed persistence step leaves Enabled as it was.
func (c *SessionController) Start(ctx context.Context) error {
	return c.start(ctx, false)
}

// start runs Start. A live-update start that finds the slot busy is kept
// pending and retried once the slot is released.
func (c *SessionController) start(ctx context.Context, live bool) error {
	model := c.currentModel()
	if model == nil {
		return nil
	}
	if !c.gates(model).Start {
		c.logger.Debug("start refused by gate")
		return nil
	}
	if !c.acquire(live) {
		c.logger.Debug("start ignored, action in flight", zap.Bool("live", live))
		return nil
	}
	defer c.release()

	wasEnabled := model.Enabled()
	model.SetEnabled(true)

	var err error
	if !model.Saved() {
		err = c.save(model)
	} else if err = offload(model.SaveEnabled); err != nil {
		err = fmt.Errorf("failed to save enabled flag: %w", err)
	}
	if err != nil {
		model.SetEnabled(wasEnabled)
		return err
	}

	target := model
	if c.live != nil {
		if active := c.live.ActiveLayout(); active != nil {
			target = active
		}
	}
	zones := target.ComputeZones()

	err = offload(func() error { return c.client.Start(ctx, zones) })
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	c.logger.Info("daemon start requested", zap.Int("zones", len(zones.Zones)))
	return nil
}

// Stop marks the layout disabled, persists the flag, then stops the daemon.
func (c *SessionController) Stop(ctx context.Context) error {
	model := c.currentModel()
	if model == nil {
		return nil
	}
	if !c.gates(model).Stop {
		c.logger.Debug("stop refused by gate")
		return nil
	}
	if !c.acquire(false) {
		c.logger.Debug("stop ignored, action in flight")
		return nil
	}
	defer c.release()

	wasEnabled := model.Enabled()
	model.SetEnabled(false)
	if err := offload(model.SaveEnabled); err != nil {
		model.SetEnabled(wasEnabled)
		return fmt.Errorf("failed to save enabled flag: %w", err)
	}

	if err := offload(func() error { return c.client.Stop(ctx) }); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	c.logger.Info("daemon stop requested")
	return nil
}

// Save persists the full layout when it still has edits.
func (c *SessionController) Save(ctx context.Context) error {
	model := c.currentModel()
	if model == nil {
		return nil
	}
	if !c.gates(model).Save {
		return nil
	}
	return c.save(model)
}

// Undo discards edits and reloads the persisted layout.
func (c *SessionController) Undo(ctx context.Context) error {
	model := c.currentModel()
	if model == nil {
		return nil
	}
	if !c.gates(model).Undo {
		return nil
	}

	err := offload(func() error {
		// The gate may have closed since it was read.
		if model.Saved() {
			return nil
		}
		return model.Load()
	})
	if err != nil {
		return fmt.Errorf("failed to load layout: %w", err)
	}
	return nil
}

// gates evaluates the action gates for model at call time. Saved is read
// from the model itself; the snapshot can lag an edit still queued for the
// dispatcher. Daemon state comes from the last applied event.
func (c *SessionController) gates(model domain.LayoutModel) Gates {
	saved := model.Saved()
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeGates(GateInputs{
		Running:    c.running,
		Dead:       c.dead,
		Saved:      saved,
		LiveUpdate: c.liveUpdate,
	})
}

// acquire takes the single Start/Stop slot. A live-update caller that finds
// it taken leaves a pending request for release to pick up.
func (c *SessionController) acquire(live bool) bool {
	if !live {
		return c.inflight.TryAcquire(1)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight.TryAcquire(1) {
		return true
	}
	c.livePending = true
	return false
}

// release frees the slot and re-runs a pending live update on the dispatcher.
func (c *SessionController) release() {
	c.mu.Lock()
	c.inflight.Release(1)
	pending := c.livePending
	c.livePending = false
	c.mu.Unlock()

	if pending {
		c.ui.Post(c.maybeLiveUpdate)
	}
}

func (c *SessionController) save(model domain.LayoutModel) error {
	err := offload(func() error {
		if model.Saved() {
			return nil
		}
		return model.Save()
	})
	if err != nil {
		return fmt.Errorf("failed to save layout: %w", err)
	}
	return nil
}

// offload runs fn on a background goroutine and waits for it.
func offload(fn func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	return <-errc
}
