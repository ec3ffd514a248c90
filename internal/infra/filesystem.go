package infra

import (
	"os"
	"path/filepath"
	"strings"
)

// PathExpander resolves user-written paths from the config file.
type PathExpander struct {
	homeDir string
}

// NewPathExpander expands against the real user's home, even under sudo.
func NewPathExpander() *PathExpander {
	return &PathExpander{homeDir: GetRealUserHome()}
}

// NewPathExpanderWithHome creates an expander with custom home (for testing).
func NewPathExpanderWithHome(home string) *PathExpander {
	return &PathExpander{homeDir: home}
}

// Exists checks if a path exists.
func (p *PathExpander) Exists(path string) bool {
	_, err := os.Stat(p.ExpandHome(path))
	return err == nil
}

// ExpandHome expands ~ to the user's home directory and environment variables.
func (p *PathExpander) ExpandHome(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(p.homeDir, path[2:])
	}
	if path == "~" {
		return p.homeDir
	}
	return path
}
