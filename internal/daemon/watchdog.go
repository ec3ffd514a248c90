package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// WatchdogConfig holds watchdog configuration.
type WatchdogConfig struct {
	CheckInterval time.Duration // How often to check the daemon pid
}

// DefaultWatchdogConfig returns default watchdog configuration.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		CheckInterval: 2 * time.Second,
	}
}

// Watchdog tells a crashed daemon from one that was never started or exited
// cleanly. A daemon that exits cleanly clears its registry entry; one that dies
// leaves an entry whose pid is gone.
type Watchdog struct {
	config   WatchdogConfig
	registry domain.DaemonRegistry
	logger   *zap.Logger
}

// NewWatchdog creates a new watchdog.
func NewWatchdog(config WatchdogConfig, registry domain.DaemonRegistry, logger *zap.Logger) *Watchdog {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultWatchdogConfig().CheckInterval
	}
	return &Watchdog{
		config:   config,
		registry: registry,
		logger:   logger,
	}
}

// Crashed reports whether a registered daemon is no longer running.
func (w *Watchdog) Crashed() bool {
	entry, err := w.registry.Get()
	if err != nil || entry == nil || entry.PID == 0 {
		return false
	}
	alive, err := w.registry.IsAlive()
	if err != nil {
		w.logger.Debug("liveness check failed", zap.Error(err))
		return false
	}
	return !alive
}

// Run checks the daemon on a ticker and calls onDeath once per death.
// This blocks until context is canceled.
func (w *Watchdog) Run(ctx context.Context, onDeath func()) error {
	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	reported := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			crashed := w.Crashed()
			switch {
			case crashed && !reported:
				w.logger.Warn("daemon is gone")
				reported = true
				onDeath()
			case !crashed:
				reported = false
			}
		}
	}
}
