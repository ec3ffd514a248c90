package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lbmctl/lbmctl/internal/client"
	"github.com/lbmctl/lbmctl/internal/config"
	"github.com/lbmctl/lbmctl/internal/daemon"
	"github.com/lbmctl/lbmctl/internal/dispatch"
	"github.com/lbmctl/lbmctl/internal/domain"
	"github.com/lbmctl/lbmctl/internal/infra"
	"github.com/lbmctl/lbmctl/internal/layout"
	"github.com/lbmctl/lbmctl/internal/usecase"
)

// stack is everything a client-side command works with.
type stack struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *infra.SQLLayoutStore
	layout   *layout.Layout
	pm       domain.ProcessManager
	registry *infra.FileRegistry
	watchdog *daemon.Watchdog
	client   *client.Client
	loop     *dispatch.Loop
	session  *usecase.SessionController

	cancel context.CancelFunc
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	return cfg, nil
}

// openStack builds config → store → layout → client → dispatch loop → session.
// The client connects when a daemon is running; otherwise it stays idle until Start.
func openStack(ctx context.Context) (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newCLILogger(verbose)

	store, err := infra.OpenStore(ctx, cfg.DataDir, cfg.Encrypted())
	if err != nil {
		return nil, fmt.Errorf("failed to open layout store: %w", err)
	}

	l, err := layout.Open(cfg.Monitors, store, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load layout: %w", err)
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)
	watchdog := daemon.NewWatchdog(daemon.WatchdogConfig{CheckInterval: cfg.Daemon.WatchInterval}, registry, logger)

	launcher := daemon.Launcher{SocketPath: cfg.Socket, ConfigPath: configPath, DataDir: cfg.DataDir}
	c := client.New(client.Config{
		SocketPath:     cfg.Socket,
		DialTimeout:    cfg.Daemon.DialTimeout,
		RequestTimeout: cfg.Daemon.RequestTimeout,
	}, launcher, watchdog, logger)
	if err := c.Connect(ctx); err != nil {
		logger.Debug("no daemon running", zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	loop := dispatch.Start(loopCtx)

	live := domain.LayoutProviderFunc(func() domain.LayoutModel { return l })
	session := usecase.NewSessionController(c, live, loop, usecase.SessionConfig{}, logger)

	s := &stack{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		layout:   l,
		pm:       pm,
		registry: registry,
		watchdog: watchdog,
		client:   c,
		loop:     loop,
		session:  session,
		cancel:   cancel,
	}

	if err := session.Open(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if err := session.Attach(ctx, l); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to attach layout: %w", err)
	}
	return s, nil
}

// Close tears the stack down in reverse order.
func (s *stack) Close() {
	s.session.Close()
	s.cancel()
	<-s.loop.Done()
	_ = s.client.Close()
	_ = s.store.Close()
	_ = s.logger.Sync()
}

func newCLILogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	cfg.DisableStacktrace = !verbose
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// createDaemonLogger writes JSON logs to the configured files.
func createDaemonLogger(logCfg config.LogConfig) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{logCfg.File}
	cfg.ErrorOutputPaths = []string{logCfg.ErrorFile}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
