package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDaemon spawns the daemon from the running executable.
func StartDaemon(args []string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	return StartDaemonWithPath(executable, args)
}

// StartDaemonWithPath spawns binary with args (see DaemonArgs).
// The daemon is detached from the parent process (runs independently).
func StartDaemonWithPath(binary string, args []string) error {
	cmd := exec.Command(binary, args...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap the child if it exits before we do, so its pid frees up and the
	// watchdog can see it is gone.
	go func() { _ = cmd.Wait() }()
	return nil
}

// DaemonArgs returns the hidden command line that runs the daemon.
// Empty configPath or dataDir are left to the daemon's defaults.
func DaemonArgs(socketPath, configPath, dataDir string) []string {
	args := []string{"daemon", "--socket", socketPath}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if dataDir != "" {
		args = append(args, "--data-dir", dataDir)
	}
	return args
}

// Launcher starts the daemon on demand. Implements client.Launcher.
type Launcher struct {
	Binary     string // Empty means the running executable
	SocketPath string
	ConfigPath string
	DataDir    string
}

// Args returns the daemon command line.
func (l Launcher) Args() []string {
	return DaemonArgs(l.SocketPath, l.ConfigPath, l.DataDir)
}

// Launch spawns a detached daemon.
func (l Launcher) Launch() error {
	if l.Binary == "" {
		return StartDaemon(l.Args())
	}
	return StartDaemonWithPath(l.Binary, l.Args())
}
