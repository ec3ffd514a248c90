// Package config loads lbmctl settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lbmctl/lbmctl/internal/domain"
	"github.com/lbmctl/lbmctl/internal/infra"
)

// Store backends.
const (
	StoreSQLite    = "sqlite"
	StoreSQLCipher = "sqlcipher"
)

// Config is the full application configuration.
type Config struct {
	DataDir  string               `yaml:"data_dir"`
	Socket   string               `yaml:"socket"`
	Store    string               `yaml:"store"`
	Log      LogConfig            `yaml:"log"`
	Daemon   DaemonConfig         `yaml:"daemon"`
	Monitors []domain.MonitorSpec `yaml:"monitors"`
}

// LogConfig controls the daemon log file.
type LogConfig struct {
	File      string `yaml:"file"`
	ErrorFile string `yaml:"error_file"`
}

// DaemonConfig holds daemon and client timings.
type DaemonConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WatchInterval     time.Duration `yaml:"watch_interval"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	mode := infra.DetectExecMode()
	return Config{
		DataDir: mode.DataDir,
		Socket:  mode.SocketPath,
		Store:   StoreSQLite,
		Log: LogConfig{
			File:      filepath.Join(mode.DataDir, "daemon.log"),
			ErrorFile: filepath.Join(mode.DataDir, "daemon.err.log"),
		},
		Daemon: DaemonConfig{
			HeartbeatInterval: 5 * time.Second,
			WatchInterval:     2 * time.Second,
			DialTimeout:       3 * time.Second,
			RequestTimeout:    5 * time.Second,
		},
		Monitors: []domain.MonitorSpec{
			{
				DeviceID: "DISPLAY1",
				Name:     "Primary display",
				Pixels:   domain.Rect{Right: 1920, Bottom: 1080},
				WidthMM:  531,
				HeightMM: 299,
				DpiRatio: 1,
				Primary:  true,
				Attached: true,
			},
		},
	}
}

// DefaultPath returns the config file location under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "lbmctl.yaml"
	}
	return filepath.Join(dir, "lbmctl", "config.yaml")
}

// Load reads path over Default(). A missing file yields the defaults.
// An empty path means DefaultPath().
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// A monitors list in the file replaces the default topology.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.expandPaths(infra.NewPathExpander())

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expandPaths(p *infra.PathExpander) {
	c.DataDir = p.ExpandHome(c.DataDir)
	c.Socket = p.ExpandHome(c.Socket)
	c.Log.File = p.ExpandHome(c.Log.File)
	c.Log.ErrorFile = p.ExpandHome(c.Log.ErrorFile)
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreSQLCipher:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreSQLite, StoreSQLCipher)
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Socket == "" {
		return errors.New("socket is required")
	}
	if len(c.Monitors) == 0 {
		return errors.New("at least one monitor is required")
	}

	seen := make(map[string]bool, len(c.Monitors))
	primaries := 0
	for _, m := range c.Monitors {
		if m.DeviceID == "" {
			return errors.New("monitor device_id is required")
		}
		if seen[m.DeviceID] {
			return fmt.Errorf("duplicate monitor %q", m.DeviceID)
		}
		seen[m.DeviceID] = true
		if m.WidthMM <= 0 || m.HeightMM <= 0 {
			return fmt.Errorf("monitor %q: physical size must be positive", m.DeviceID)
		}
		if m.Pixels.Width() <= 0 || m.Pixels.Height() <= 0 {
			return fmt.Errorf("monitor %q: pixel bounds are empty", m.DeviceID)
		}
		if m.Primary {
			primaries++
		}
	}
	if primaries > 1 {
		return errors.New("more than one primary monitor")
	}
	return nil
}

// Encrypted reports whether the SQLCipher store is selected.
func (c Config) Encrypted() bool {
	return c.Store == StoreSQLCipher
}

// Write stores c as YAML at path, creating the directory.
func Write(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
