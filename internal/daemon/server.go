// Package daemon implements the pointer daemon and its socket protocol.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// ServerConfig holds daemon server configuration.
type ServerConfig struct {
	SocketPath        string
	HeartbeatInterval time.Duration // How often to update the registry heartbeat
	WriteTimeout      time.Duration // Per-message write deadline for clients
	AppVersion        string
}

// DefaultServerConfig returns default server configuration for socketPath.
func DefaultServerConfig(socketPath string) ServerConfig {
	return ServerConfig{
		SocketPath:        socketPath,
		HeartbeatInterval: 5 * time.Second,
		WriteTimeout:      time.Second,
	}
}

// Server is the pointer daemon. It owns the lifecycle state, keeps the zones
// it was started with and broadcasts every lifecycle change to all clients.
type Server struct {
	config         ServerConfig
	registry       domain.DaemonRegistry
	processManager domain.ProcessManager
	logger         *zap.Logger

	ready chan struct{}

	mu       sync.Mutex
	state    domain.DaemonState
	zones    *domain.ZoneLayout
	clients  map[*clientConn]struct{}
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

type clientConn struct {
	conn net.Conn
	out  *LineWriter
}

// NewServer creates a new daemon server.
func NewServer(
	config ServerConfig,
	registry domain.DaemonRegistry,
	pm domain.ProcessManager,
	logger *zap.Logger,
) *Server {
	defaults := DefaultServerConfig(config.SocketPath)
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	return &Server{
		config:         config,
		registry:       registry,
		processManager: pm,
		logger:         logger,
		ready:          make(chan struct{}),
		state:          domain.StateStopped,
		clients:        make(map[*clientConn]struct{}),
	}
}

// Ready is closed once the socket accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// State returns the current lifecycle state.
func (s *Server) State() domain.DaemonState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Zones returns the zones of the last start, nil while stopped.
func (s *Server) Zones() *domain.ZoneLayout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zones
}

// Run listens on the socket and serves clients.
// This blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}

	entry := domain.RegistryEntry{
		PID:        s.processManager.GetCurrentPID(),
		Socket:     s.config.SocketPath,
		AppVersion: s.config.AppVersion,
	}
	if err := s.registry.Register(entry); err != nil {
		ln.Close()
		os.Remove(s.config.SocketPath)
		s.logger.Error("failed to register daemon", zap.Error(err))
		return fmt.Errorf("failed to register daemon: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("daemon started",
		zap.Int("pid", entry.PID),
		zap.String("socket", s.config.SocketPath))
	close(s.ready)

	s.wg.Add(1)
	go s.acceptLoop(ln)

	heartbeatTicker := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("daemon stopping")
			s.shutdown()
			return ctx.Err()

		case <-heartbeatTicker.C:
			if err := s.registry.UpdateHeartbeat(); err != nil {
				s.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

func (s *Server) listen() (net.Listener, error) {
	path := s.config.SocketPath
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if st, err := os.Lstat(path); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path exists and is not a unix socket: %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat socket path: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to chmod socket: %w", err)
	}
	return ln, nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

// serve greets a client with Connected and the current state, then answers its requests.
func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	c := &clientConn{conn: conn, out: NewLineWriter(conn)}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	greeting := []Message{
		EventMessage(domain.EventConnected, ""),
		EventMessage(domain.EventForState(s.state), s.layoutIDLocked()),
	}
	for _, m := range greeting {
		if err := s.send(c, m); err != nil {
			s.mu.Unlock()
			s.drop(c)
			return
		}
	}
	s.mu.Unlock()
	s.logger.Debug("client connected")

	in := NewLineReader(conn)
	for {
		var req Request
		err := in.Next(&req)
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			break
		}
		if err != nil {
			s.logger.Debug("client read ended", zap.Error(err))
			break
		}
		resp := s.handle(req)
		s.mu.Lock()
		err = s.send(c, resp)
		s.mu.Unlock()
		if err != nil {
			break
		}
	}

	s.drop(c)
	s.logger.Debug("client disconnected")
}

// handle applies a request. Lifecycle broadcasts go out before the response.
func (s *Server) handle(req Request) Message {
	resp := Message{Type: MessageResponse, ID: req.ID}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Op {
	case OpStart:
		if req.Zones == nil {
			resp.Error = "start requires zones"
			return resp
		}
		s.zones = req.Zones
		s.state = domain.StateRunning
		s.logger.Info("pointer adjustment started",
			zap.String("layout", req.Zones.LayoutID),
			zap.Int("zones", len(req.Zones.Zones)))
		s.broadcastLocked(EventMessage(domain.EventRunning, req.Zones.LayoutID))

	case OpStop:
		if s.state != domain.StateStopped {
			s.state = domain.StateStopped
			s.zones = nil
			s.logger.Info("pointer adjustment stopped")
			s.broadcastLocked(EventMessage(domain.EventStopped, ""))
		}

	case OpState:
		resp.Payload = string(s.state)

	default:
		resp.Error = fmt.Sprintf("unknown op %q", req.Op)
		return resp
	}

	resp.OK = true
	return resp
}

func (s *Server) layoutIDLocked() string {
	if s.zones == nil {
		return ""
	}
	return s.zones.LayoutID
}

// send writes m to c with a deadline. Caller holds s.mu so messages keep their order.
func (s *Server) send(c *clientConn, m Message) error {
	if s.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	return c.out.Write(m)
}

func (s *Server) broadcastLocked(m Message) {
	for c := range s.clients {
		if err := s.send(c, m); err != nil {
			s.logger.Debug("dropping slow client", zap.Error(err))
			delete(s.clients, c)
			c.conn.Close()
		}
	}
}

func (s *Server) drop(c *clientConn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.conn.Close()
}

// shutdown announces Stopped, disconnects everyone and unregisters.
func (s *Server) shutdown() {
	s.mu.Lock()
	s.closing = true
	s.state = domain.StateStopped
	s.zones = nil
	s.broadcastLocked(EventMessage(domain.EventStopped, ""))
	ln := s.listener
	s.listener = nil
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.config.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove socket", zap.Error(err))
	}
	if err := s.registry.Clear(); err != nil {
		s.logger.Warn("failed to clear registry", zap.Error(err))
	}
}
