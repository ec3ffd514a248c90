package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lbmctl/lbmctl/internal/domain"
)

const registryFileName = ".daemon.json"

// FileRegistry implements domain.DaemonRegistry using a hidden JSON file
// in the data directory.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry in dataDir.
func NewFileRegistry(dataDir string, pm domain.ProcessManager) *FileRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetRegistryPath returns the registry file path.
func (r *FileRegistry) GetRegistryPath() string {
	return r.path
}

// Register records the daemon pid and socket. It fails when another live
// daemon already holds the registry.
func (r *FileRegistry) Register(entry domain.RegistryEntry) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	// Use file lock to prevent two daemons registering at once
	lockPath := r.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	existing, _ := r.Get() // May not exist yet
	if existing != nil && existing.PID != entry.PID && r.processManager.IsRunning(existing.PID) {
		return fmt.Errorf("daemon already running with pid %d", existing.PID)
	}

	now := time.Now().Unix()
	entry.Version = 1
	if entry.StartedAt == 0 {
		entry.StartedAt = now
	}
	entry.LastHeartbeat = now

	return r.atomicWrite(&entry)
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileRegistry) UpdateHeartbeat() error {
	entry, err := r.Get()
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("daemon not registered")
	}

	entry.LastHeartbeat = time.Now().Unix()
	return r.atomicWrite(entry)
}

// IsAlive checks if the registered daemon is running via PID.
func (r *FileRegistry) IsAlive() (bool, error) {
	entry, err := r.Get()
	if err != nil {
		return false, err
	}
	if entry == nil || entry.PID == 0 {
		return false, nil // Not registered = not alive
	}
	return r.processManager.IsRunning(entry.PID), nil
}

// Get returns the registry entry, nil when the file does not exist.
func (r *FileRegistry) Get() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode registry: %w", err)
	}

	return &entry, nil
}

// Clear removes the registry file. A missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes registry to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(entry *domain.RegistryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
