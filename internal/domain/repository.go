package domain

import "context"

// LayoutModel is the editable monitor layout the session controller drives.
// Implementation: internal/layout.
type LayoutModel interface {
	// Saved is true iff there are no edits since the last successful Save or Load.
	Saved() bool

	// Enabled reports whether the layout is marked active for the daemon.
	Enabled() bool

	// SetEnabled changes the enabled flag. It does not affect Saved.
	SetEnabled(enabled bool)

	// Save persists the full layout and marks it saved.
	Save() error

	// SaveEnabled persists only the enabled flag.
	SaveEnabled() error

	// Load discards edits and reloads the persisted layout.
	Load() error

	// ComputeZones derives the zone layout handed to the daemon.
	ComputeZones() *ZoneLayout

	// OnSavedChanged registers fn to be called after Saved flips.
	// The returned func removes the registration.
	OnSavedChanged(fn func(saved bool)) (cancel func())
}

// LayoutProvider returns the application's live monitor layout.
// It may be a different object than the one being edited.
type LayoutProvider interface {
	ActiveLayout() LayoutModel
}

// LayoutProviderFunc adapts a func to LayoutProvider.
type LayoutProviderFunc func() LayoutModel

// ActiveLayout calls f.
func (f LayoutProviderFunc) ActiveLayout() LayoutModel { return f() }

// Subscription is a handle on the daemon event stream.
type Subscription interface {
	// Events delivers events in the order the client observed them.
	// The channel is closed after Close.
	Events() <-chan DaemonEvent

	// Close stops delivery. Safe to call more than once.
	Close()
}

// DaemonClient is the narrow contract with the background pointer daemon.
// Implementation: internal/client.
type DaemonClient interface {
	// State returns the current lifecycle snapshot.
	State() DaemonState

	// Subscribe opens a new event stream.
	Subscribe() Subscription

	// Start hands zones to the daemon and starts it.
	Start(ctx context.Context, zones *ZoneLayout) error

	// Stop stops the daemon.
	Stop(ctx context.Context) error
}

// Dispatcher is the UI-affine execution context.
// Implementation: internal/dispatch.
type Dispatcher interface {
	// Invoke runs fn on the context and waits for it.
	// If fn could not run the error wraps context.Canceled.
	Invoke(ctx context.Context, fn func()) error

	// Post enqueues fn without waiting.
	Post(fn func())
}

// LayoutStore persists layouts.
// Implementation: SQLite (modernc) or SQLCipher encrypted database.
type LayoutStore interface {
	// SaveLayout replaces the full record.
	SaveLayout(ctx context.Context, rec LayoutRecord) error

	// SaveEnabled updates only the enabled flag of a layout.
	SaveEnabled(ctx context.Context, id string, enabled bool) error

	// LoadLayout returns the record, or ErrNotFound.
	LoadLayout(ctx context.Context, id string) (*LayoutRecord, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// Names returns the distinct names of running processes, sorted.
	Names() ([]string, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry lets clients discover the running daemon.
// Implementation: hidden JSON file in the data directory.
type DaemonRegistry interface {
	// Register records the daemon pid and socket.
	Register(entry RegistryEntry) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// Get returns the registered entry, nil when none.
	Get() (*RegistryEntry, error)

	// IsAlive checks if the registered daemon pid is running.
	IsAlive() (bool, error)

	// Clear removes the registry file.
	Clear() error

	// GetRegistryPath returns the registry file path (for tests).
	GetRegistryPath() string
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ProcessesCollector lists processes the user can exclude.
type ProcessesCollector interface {
	SeenProcesses() []string
}
