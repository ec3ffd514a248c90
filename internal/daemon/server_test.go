package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/domain"
	"github.com/lbmctl/lbmctl/internal/infra"
)

// shortTempDir keeps socket paths under the unix socket path limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lbm")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

type serverHarness struct {
	server   *Server
	registry *infra.FileRegistry
	socket   string
	cancel   context.CancelFunc
	done     chan error

	once sync.Once
	err  error
}

func startServer(t *testing.T) *serverHarness {
	t.Helper()
	dir := shortTempDir(t)
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(dir, pm)
	socket := filepath.Join(dir, "d.sock")

	cfg := DefaultServerConfig(socket)
	cfg.HeartbeatInterval = 20 * time.Millisecond
	srv := NewServer(cfg, registry, pm, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h := &serverHarness{server: srv, registry: registry, socket: socket, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-h.done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server not ready")
	}
	t.Cleanup(h.stop)
	return h
}

// wait returns the result of Run.
func (h *serverHarness) wait() error {
	h.once.Do(func() { h.err = <-h.done })
	return h.err
}

func (h *serverHarness) stop() {
	h.cancel()
	h.wait()
}

type testConn struct {
	conn net.Conn
	in   *LineReader
	out  *LineWriter
}

func dial(t *testing.T, socket string) *testConn {
	t.Helper()
	conn, err := net.Dial("unix", socket)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{conn: conn, in: NewLineReader(conn), out: NewLineWriter(conn)}
}

func (c *testConn) next(t *testing.T) Message {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m Message
	require.NoError(t, c.in.Next(&m))
	return m
}

func (c *testConn) greeted(t *testing.T) domain.EventKind {
	t.Helper()
	assert.Equal(t, domain.EventConnected, c.next(t).Event)
	return c.next(t).Event
}

func TestServer_RegistersAndGreets(t *testing.T) {
	h := startServer(t)

	entry, err := h.registry.Get()
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, os.Getpid(), entry.PID)
	assert.Equal(t, h.socket, entry.Socket)

	c := dial(t, h.socket)
	assert.Equal(t, domain.EventStopped, c.greeted(t))
}

func TestServer_StartStopBroadcast(t *testing.T) {
	h := startServer(t)
	a := dial(t, h.socket)
	b := dial(t, h.socket)
	a.greeted(t)
	b.greeted(t)

	zones := &domain.ZoneLayout{LayoutID: "L1", Zones: []domain.Zone{{ID: 0, DeviceID: "A"}}}
	require.NoError(t, a.out.Write(Request{ID: "r1", Op: OpStart, Zones: zones}))

	// Event first, then the response.
	ev := a.next(t)
	assert.Equal(t, domain.EventRunning, ev.Event)
	assert.Equal(t, "L1", ev.Payload)
	resp := a.next(t)
	assert.Equal(t, MessageResponse, resp.Type)
	assert.Equal(t, "r1", resp.ID)
	assert.True(t, resp.OK)

	assert.Equal(t, domain.EventRunning, b.next(t).Event, "other clients see the change")
	assert.Equal(t, domain.StateRunning, h.server.State())
	assert.Equal(t, "L1", h.server.Zones().LayoutID)

	require.NoError(t, b.out.Write(Request{ID: "r2", Op: OpStop}))
	assert.Equal(t, domain.EventStopped, b.next(t).Event)
	assert.True(t, b.next(t).OK)
	assert.Equal(t, domain.EventStopped, a.next(t).Event)
	assert.Nil(t, h.server.Zones())
}

func TestServer_LateClientSeesCurrentState(t *testing.T) {
	h := startServer(t)
	a := dial(t, h.socket)
	a.greeted(t)
	require.NoError(t, a.out.Write(Request{ID: "1", Op: OpStart, Zones: &domain.ZoneLayout{LayoutID: "L"}}))
	a.next(t)
	a.next(t)

	late := dial(t, h.socket)
	assert.Equal(t, domain.EventConnected, late.next(t).Event)
	cur := late.next(t)
	assert.Equal(t, domain.EventRunning, cur.Event)
	assert.Equal(t, "L", cur.Payload)
}

func TestServer_Requests(t *testing.T) {
	tests := []struct {
		name        string
		req         Request
		wantOK      bool
		wantErr     string
		wantPayload string
	}{
		{name: "state", req: Request{ID: "s", Op: OpState}, wantOK: true, wantPayload: "Stopped"},
		{name: "stop while stopped", req: Request{ID: "x", Op: OpStop}, wantOK: true},
		{name: "start without zones", req: Request{ID: "z", Op: OpStart}, wantErr: "requires zones"},
		{name: "unknown op", req: Request{ID: "u", Op: "reboot"}, wantErr: "unknown op"},
	}

	h := startServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, h.socket)
			c.greeted(t)
			require.NoError(t, c.out.Write(tt.req))

			resp := c.next(t)
			assert.Equal(t, MessageResponse, resp.Type)
			assert.Equal(t, tt.req.ID, resp.ID)
			assert.Equal(t, tt.wantOK, resp.OK)
			assert.Equal(t, tt.wantPayload, resp.Payload)
			if tt.wantErr != "" {
				assert.Contains(t, resp.Error, tt.wantErr)
			}
		})
	}
}

func TestServer_ShutdownAnnouncesStoppedAndCleansUp(t *testing.T) {
	h := startServer(t)
	c := dial(t, h.socket)
	c.greeted(t)
	require.NoError(t, c.out.Write(Request{ID: "1", Op: OpStart, Zones: &domain.ZoneLayout{}}))
	c.next(t)
	c.next(t)

	h.cancel()
	assert.Equal(t, domain.EventStopped, c.next(t).Event)

	assert.True(t, errors.Is(h.wait(), context.Canceled))

	_, statErr := os.Stat(h.socket)
	assert.True(t, os.IsNotExist(statErr), "socket removed")
	entry, _ := h.registry.Get()
	assert.Nil(t, entry, "registry cleared")
}

func TestServer_RefusesSecondDaemon(t *testing.T) {
	h := startServer(t)
	pm := infra.NewProcessManager()

	// Same pid registers fine, so pretend to be someone else.
	other := NewServer(DefaultServerConfig(filepath.Join(filepath.Dir(h.socket), "o.sock")),
		h.registry, otherPID{pm}, zap.NewNop())
	err := other.Run(context.Background())
	assert.ErrorContains(t, err, "already running")
}

func TestServer_RejectsNonSocketPath(t *testing.T) {
	dir := shortTempDir(t)
	path := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	pm := infra.NewProcessManager()

	srv := NewServer(DefaultServerConfig(path), infra.NewFileRegistry(dir, pm), pm, zap.NewNop())
	assert.ErrorContains(t, srv.Run(context.Background()), "not a unix socket")
}

type otherPID struct{ domain.ProcessManager }

func (otherPID) GetCurrentPID() int { return 1 << 22 }
