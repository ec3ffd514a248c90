package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lbmctl/lbmctl/internal/domain"
)

func newTestFileRegistry(t *testing.T) (*FileRegistry, *mockProcessManager) {
	t.Helper()
	pm := newMockProcessManager()
	return NewFileRegistryWithPath(filepath.Join(t.TempDir(), ".test_registry"), pm), pm
}

func TestFileRegistry_RegisterAndGet(t *testing.T) {
	registry, _ := newTestFileRegistry(t)

	entry := domain.RegistryEntry{PID: 12345, Socket: "/tmp/lbm.sock", AppVersion: "1.0.0"}
	if err := registry.Register(entry); err != nil {
		t.Fatalf("failed to register daemon: %v", err)
	}

	got, err := registry.Get()
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}

	if got.PID != 12345 {
		t.Errorf("expected PID 12345, got %d", got.PID)
	}
	if got.Socket != "/tmp/lbm.sock" {
		t.Errorf("expected socket '/tmp/lbm.sock', got '%s'", got.Socket)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
	if got.StartedAt == 0 || got.LastHeartbeat == 0 {
		t.Error("expected timestamps to be set")
	}
}

func TestFileRegistry_RegisterRefusesLiveDaemon(t *testing.T) {
	registry, pm := newTestFileRegistry(t)

	if err := registry.Register(domain.RegistryEntry{PID: 100}); err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	pm.SetRunning(100, true)

	if err := registry.Register(domain.RegistryEntry{PID: 200}); err == nil {
		t.Fatal("expected error registering over a live daemon")
	}

	// A stale entry is replaced.
	pm.SetRunning(100, false)
	if err := registry.Register(domain.RegistryEntry{PID: 200}); err != nil {
		t.Fatalf("failed to replace stale entry: %v", err)
	}
}

func TestFileRegistry_IsAlive(t *testing.T) {
	registry, pm := newTestFileRegistry(t)

	alive, err := registry.IsAlive()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alive {
		t.Error("expected not alive before register")
	}

	registry.Register(domain.RegistryEntry{PID: 12346})
	pm.SetRunning(12346, true)

	alive, _ = registry.IsAlive()
	if !alive {
		t.Error("expected daemon to be alive")
	}

	pm.SetRunning(12346, false)
	alive, _ = registry.IsAlive()
	if alive {
		t.Error("expected daemon to be dead")
	}
}

func TestFileRegistry_UpdateHeartbeat(t *testing.T) {
	registry, _ := newTestFileRegistry(t)

	if err := registry.UpdateHeartbeat(); err == nil {
		t.Error("expected error before register")
	}

	registry.Register(domain.RegistryEntry{PID: 1})
	if err := registry.UpdateHeartbeat(); err != nil {
		t.Fatalf("failed to update heartbeat: %v", err)
	}
}

func TestFileRegistry_Clear(t *testing.T) {
	registry, _ := newTestFileRegistry(t)
	registry.Register(domain.RegistryEntry{PID: 12345})

	if err := registry.Clear(); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if _, err := os.Stat(registry.GetRegistryPath()); !os.IsNotExist(err) {
		t.Error("expected registry file to be removed")
	}

	entry, err := registry.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Error("expected nil entry after clear")
	}

	// Clearing twice is fine.
	if err := registry.Clear(); err != nil {
		t.Fatalf("second clear failed: %v", err)
	}
}
