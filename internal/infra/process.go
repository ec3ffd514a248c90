// Package infra implements infrastructure concerns (process, storage, registry).
package infra

import (
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// Names returns the distinct names of running processes, sorted case-insensitively.
func (pm *ProcessManagerImpl) Names() ([]string, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			continue // Process may have exited
		}
		seen[name] = struct{}{}
	}

	return sortedNames(seen), nil
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)

// ProcessCollector accumulates every process name observed across scans so the
// exclusion list can offer programs that are not running right now.
type ProcessCollector struct {
	pm domain.ProcessManager

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewProcessCollector creates a collector over pm.
func NewProcessCollector(pm domain.ProcessManager) *ProcessCollector {
	return &ProcessCollector{
		pm:   pm,
		seen: make(map[string]struct{}),
	}
}

// Scan adds the currently running processes.
func (c *ProcessCollector) Scan() error {
	names, err := c.pm.Names()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		c.seen[n] = struct{}{}
	}
	return nil
}

// SeenProcesses returns every name seen so far, sorted.
func (c *ProcessCollector) SeenProcesses() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedNames(c.seen)
}

// Ensure ProcessCollector implements domain.ProcessesCollector.
var _ domain.ProcessesCollector = (*ProcessCollector)(nil)

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i]), strings.ToLower(out[j])
		if a == b {
			return out[i] < out[j]
		}
		return a < b
	})
	return out
}
