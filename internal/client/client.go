// Package client talks to the pointer daemon over its unix socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/daemon"
	"github.com/lbmctl/lbmctl/internal/domain"
)

// Config holds client timings.
type Config struct {
	SocketPath     string
	DialTimeout    time.Duration // How long Start waits for a spawned daemon
	RequestTimeout time.Duration // How long a request waits for its response
}

// DefaultConfig returns default client configuration for socketPath.
func DefaultConfig(socketPath string) Config {
	return Config{
		SocketPath:     socketPath,
		DialTimeout:    3 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Launcher spawns the daemon when it is not reachable.
// Implementation: daemon.Launcher.
type Launcher interface {
	Launch() error
}

// Prober tells a crashed daemon from one that is simply not running.
// Implementation: *daemon.Watchdog.
type Prober interface {
	Crashed() bool
}

// RequestError is a request the daemon answered with an error.
type RequestError struct {
	Op      daemon.Op
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("daemon rejected %s: %s", e.Op, e.Message)
}

const dialRetryInterval = 50 * time.Millisecond

// Client implements domain.DaemonClient over the daemon socket.
type Client struct {
	config   Config
	launcher Launcher
	prober   Prober
	logger   *zap.Logger

	connectMu sync.Mutex

	mu      sync.Mutex
	state   domain.DaemonState
	conn    net.Conn
	out     *daemon.LineWriter
	pending map[string]chan daemon.Message
	subs    map[*subscription]struct{}
	synced  chan struct{} // Closed once the greeting state arrives
	readers sync.WaitGroup
	closed  bool
}

// New creates a disconnected client. launcher and prober may be nil.
func New(config Config, launcher Launcher, prober Prober, logger *zap.Logger) *Client {
	defaults := DefaultConfig(config.SocketPath)
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}

	state := domain.StateStopped
	if prober != nil && prober.Crashed() {
		state = domain.StateDead
	}
	return &Client{
		config:   config,
		launcher: launcher,
		prober:   prober,
		logger:   logger,
		state:    state,
		pending:  make(map[string]chan daemon.Message),
		subs:     make(map[*subscription]struct{}),
	}
}

// State returns the last lifecycle state observed.
func (c *Client) State() domain.DaemonState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client holds a daemon connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe opens a new event stream.
func (c *Client) Subscribe() domain.Subscription {
	s := newSubscription(c)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		s.Close()
		return s
	}
	c.subs[s] = struct{}{}
	c.mu.Unlock()
	return s
}

// Connect dials a running daemon. It does not spawn one.
// The daemon greets with Connected and its current state; Connect returns once
// State reflects that greeting.
func (c *Client) Connect(ctx context.Context) error {
	return c.ensureConnected(ctx, false)
}

// Start connects (spawning the daemon if needed) and starts it with zones.
func (c *Client) Start(ctx context.Context, zones *domain.ZoneLayout) error {
	if err := c.ensureConnected(ctx, true); err != nil {
		return err
	}
	_, err := c.request(ctx, daemon.Request{Op: daemon.OpStart, Zones: zones})
	return err
}

// Stop stops the daemon. Without a connection there is nothing to stop.
func (c *Client) Stop(ctx context.Context) error {
	if !c.Connected() {
		if err := c.Connect(ctx); err != nil {
			c.logger.Debug("stop: daemon not reachable", zap.Error(err))
			return nil
		}
	}
	_, err := c.request(ctx, daemon.Request{Op: daemon.OpStop})
	return err
}

// Query asks the daemon for its state.
func (c *Client) Query(ctx context.Context) (domain.DaemonState, error) {
	if err := c.ensureConnected(ctx, false); err != nil {
		return "", err
	}
	resp, err := c.request(ctx, daemon.Request{Op: daemon.OpState})
	if err != nil {
		return "", err
	}
	return domain.DaemonState(resp.Payload), nil
}

// MarkDead records that the daemon process is gone. Used by the watchdog while
// no connection exists to report it.
func (c *Client) MarkDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil || c.closed {
		return
	}
	c.setStateLocked(domain.StateDead, "")
}

// Close drops the connection and ends every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.readers.Wait()
	for _, s := range subs {
		s.Close()
	}
	return err
}

func (c *Client) ensureConnected(ctx context.Context, launch bool) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.Connected() {
		return nil
	}

	conn, err := c.dial(ctx)
	if err != nil && launch && c.launcher != nil {
		c.logger.Info("daemon not reachable, launching", zap.String("socket", c.config.SocketPath))
		if lerr := c.launcher.Launch(); lerr != nil {
			return fmt.Errorf("failed to launch daemon: %w", lerr)
		}
		conn, err = c.dialRetry(ctx)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDaemonUnavailable, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return domain.ErrNotConnected
	}
	c.conn = conn
	c.out = daemon.NewLineWriter(conn)
	synced := make(chan struct{})
	c.synced = synced
	c.readers.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()
	select {
	case <-synced:
	case <-timer.C:
		c.logger.Warn("daemon did not report its state", zap.String("socket", c.config.SocketPath))
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", c.config.SocketPath)
}

// dialRetry redials until the spawned daemon listens or DialTimeout passes.
func (c *Client) dialRetry(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	ticker := time.NewTicker(dialRetryInterval)
	defer ticker.Stop()
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-ticker.C:
		}
	}
}

func (c *Client) request(ctx context.Context, req daemon.Request) (daemon.Message, error) {
	req.ID = uuid.NewString()
	ch := make(chan daemon.Message, 1)

	c.mu.Lock()
	out := c.out
	if out == nil {
		c.mu.Unlock()
		return daemon.Message{}, domain.ErrNotConnected
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	if err := out.Write(req); err != nil {
		cleanup()
		return daemon.Message{}, fmt.Errorf("failed to send %s: %w", req.Op, err)
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return daemon.Message{}, domain.ErrNotConnected
		}
		if !resp.OK {
			return resp, &RequestError{Op: req.Op, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return daemon.Message{}, ctx.Err()
	case <-timer.C:
		cleanup()
		return daemon.Message{}, fmt.Errorf("%s: %w", req.Op, context.DeadlineExceeded)
	}
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.readers.Done()

	in := daemon.NewLineReader(conn)
	for {
		var m daemon.Message
		err := in.Next(&m)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("daemon read failed", zap.Error(err))
			}
			break
		}
		c.dispatch(m)
	}

	conn.Close()
	c.disconnected()
}

func (c *Client) dispatch(m daemon.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m.Type {
	case daemon.MessageResponse:
		if ch, ok := c.pending[m.ID]; ok {
			delete(c.pending, m.ID)
			ch <- m
		}
	case daemon.MessageEvent:
		ev := m.DaemonEvent()
		if ev.Kind.IsLifecycle() {
			c.state = domain.DaemonState(ev.Kind)
			c.markSyncedLocked()
		}
		c.broadcastLocked(ev)
	default:
		c.logger.Warn("unknown message type", zap.String("type", string(m.Type)))
	}
}

// disconnected fails pending requests and settles the state: Dead when the
// daemon process is gone without unregistering, Stopped otherwise.
func (c *Client) disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = nil
	c.out = nil
	c.markSyncedLocked()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	if c.closed {
		return
	}

	next := domain.StateStopped
	if c.prober != nil && c.prober.Crashed() {
		next = domain.StateDead
	}
	c.logger.Info("daemon connection lost", zap.String("state", string(next)))
	c.setStateLocked(next, "")
}

func (c *Client) markSyncedLocked() {
	if c.synced != nil {
		close(c.synced)
		c.synced = nil
	}
}

func (c *Client) setStateLocked(state domain.DaemonState, payload string) {
	if c.state == state {
		return
	}
	c.state = state
	c.broadcastLocked(domain.DaemonEvent{Kind: domain.EventForState(state), Payload: payload})
}

func (c *Client) broadcastLocked(ev domain.DaemonEvent) {
	for s := range c.subs {
		s.push(ev)
	}
}

func (c *Client) unsubscribe(s *subscription) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

// Ensure Client implements domain.DaemonClient.
var _ domain.DaemonClient = (*Client)(nil)
