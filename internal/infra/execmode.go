package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser keeps state under the user's home directory.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem keeps state in system directories (root only).
	ExecModeSystem ExecMode = "system"
)

const (
	appDirName     = "lbmctl"
	socketFileName = "daemon.sock"
)

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Layout database, key and registry
	RuntimeDir string // Daemon socket
	SocketPath string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		runtimeDir := filepath.Join("/run", appDirName)
		return &ExecModeConfig{
			Mode:       ExecModeSystem,
			DataDir:    filepath.Join("/var/lib", appDirName),
			RuntimeDir: runtimeDir,
			SocketPath: filepath.Join(runtimeDir, socketFileName),
			IsRoot:     true,
		}
	}
	return GetUserModeConfig()
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetUserModeConfig returns user mode config regardless of current euid.
// The socket lives in XDG_RUNTIME_DIR when set, else in the data directory.
func GetUserModeConfig() *ExecModeConfig {
	dataDir := filepath.Join(GetRealUserHome(), "."+appDirName)
	runtimeDir := dataDir
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		runtimeDir = filepath.Join(xdg, appDirName)
	}
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		DataDir:    dataDir,
		RuntimeDir: runtimeDir,
		SocketPath: filepath.Join(runtimeDir, socketFileName),
		IsRoot:     os.Geteuid() == 0, // Still track actual root status for permission operations
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
