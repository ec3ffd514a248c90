package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
)

// AutostartFormat selects how the daemon is started at login.
type AutostartFormat string

const (
	// AutostartLaunchAgent writes a launchd LaunchAgent plist (macOS).
	AutostartLaunchAgent AutostartFormat = "launchagent"
	// AutostartXDG writes an XDG autostart desktop entry (Linux desktops).
	AutostartXDG AutostartFormat = "xdg"
)

// DefaultAutostartLabel names the launchd job and the desktop entry file.
const DefaultAutostartLabel = "io.lbmctl.daemon"

// LaunchAgent plist template (runs as user)
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{html .ExecutablePath}}</string>
{{- range .Args}}
        <string>{{html .}}</string>
{{- end}}
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{html .LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{html .ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>
</dict>
</plist>
`

const desktopEntryTemplate = `[Desktop Entry]
Type=Application
Name=lbmctl pointer daemon
Comment=Moves the pointer across monitors by physical size
Exec={{.Exec}}
Terminal=false
X-GNOME-Autostart-enabled=true
`

type autostartTemplateData struct {
	Label          string
	ExecutablePath string
	Args           []string
	Exec           string
	LogPath        string
	ErrorLogPath   string
}

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Run(name string, args ...string) error
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete
func (r *RealCommandRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// AutostartConfig holds the login-start settings.
type AutostartConfig struct {
	Format       AutostartFormat
	Dir          string // Directory holding the plist or desktop entry
	Label        string
	LogPath      string
	ErrorLogPath string
}

// DefaultAutostartConfig picks the format for the running OS.
func DefaultAutostartConfig(mode *ExecModeConfig) AutostartConfig {
	home := GetRealUserHome()
	cfg := AutostartConfig{
		Format:       AutostartXDG,
		Label:        DefaultAutostartLabel,
		LogPath:      filepath.Join(mode.DataDir, "daemon.out.log"),
		ErrorLogPath: filepath.Join(mode.DataDir, "daemon.err.log"),
	}

	if runtime.GOOS == "darwin" {
		cfg.Format = AutostartLaunchAgent
		cfg.Dir = filepath.Join(home, "Library", "LaunchAgents")
		return cfg
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}
	cfg.Dir = filepath.Join(configHome, "autostart")
	return cfg
}

// AutostartManager installs and removes the login entry that runs the daemon.
type AutostartManager struct {
	config AutostartConfig
	runner CommandRunner
}

// NewAutostartManager creates a manager. A nil runner runs real commands.
func NewAutostartManager(config AutostartConfig, runner CommandRunner) *AutostartManager {
	if runner == nil {
		runner = &RealCommandRunner{}
	}
	if config.Label == "" {
		config.Label = DefaultAutostartLabel
	}
	return &AutostartManager{config: config, runner: runner}
}

// Path returns the plist or desktop entry path.
func (m *AutostartManager) Path() string {
	switch m.config.Format {
	case AutostartLaunchAgent:
		return filepath.Join(m.config.Dir, m.config.Label+".plist")
	default:
		return filepath.Join(m.config.Dir, m.config.Label+".desktop")
	}
}

// Format returns the configured format.
func (m *AutostartManager) Format() AutostartFormat {
	return m.config.Format
}

// content renders the entry for execPath with args.
func (m *AutostartManager) content(execPath string, args []string) ([]byte, error) {
	var tmplStr string
	switch m.config.Format {
	case AutostartLaunchAgent:
		tmplStr = launchAgentTemplate
	case AutostartXDG:
		tmplStr = desktopEntryTemplate
	default:
		return nil, fmt.Errorf("unknown autostart format %q", m.config.Format)
	}

	data := autostartTemplateData{
		Label:          m.config.Label,
		ExecutablePath: execPath,
		Args:           args,
		Exec:           desktopExec(append([]string{execPath}, args...)),
		LogPath:        m.config.LogPath,
		ErrorLogPath:   m.config.ErrorLogPath,
	}

	tmpl, err := template.New("autostart").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse autostart template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute autostart template: %w", err)
	}
	return buf.Bytes(), nil
}

// desktopExec quotes arguments per the desktop entry Exec rules.
func desktopExec(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a != "" && !strings.ContainsAny(a, " \t\n\"'\\$`") {
			quoted[i] = a
			continue
		}
		r := strings.NewReplacer(`\`, `\\\\`, `"`, `\\"`, "`", "\\\\`", `$`, `\\$`)
		quoted[i] = `"` + r.Replace(a) + `"`
	}
	return strings.Join(quoted, " ")
}

// Install writes the entry and, for launchd, loads it.
func (m *AutostartManager) Install(execPath string, args []string) error {
	if err := os.MkdirAll(m.config.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create autostart directory: %w", err)
	}

	content, err := m.content(execPath, args)
	if err != nil {
		return err
	}

	if m.config.Format == AutostartLaunchAgent && m.IsInstalled() {
		_ = m.runner.Run("launchctl", "unload", m.Path())
	}
	if err := os.WriteFile(m.Path(), content, 0o644); err != nil {
		return fmt.Errorf("failed to write autostart entry: %w", err)
	}

	if m.config.Format == AutostartLaunchAgent {
		if err := m.runner.Run("launchctl", "load", m.Path()); err != nil {
			return fmt.Errorf("failed to load launch agent: %w", err)
		}
	}
	return nil
}

// Uninstall unloads and removes the entry. A missing entry is not an error.
func (m *AutostartManager) Uninstall() error {
	if !m.IsInstalled() {
		return nil
	}
	if m.config.Format == AutostartLaunchAgent {
		// Ignore errors if not loaded
		_ = m.runner.Run("launchctl", "unload", m.Path())
	}
	if err := os.Remove(m.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove autostart entry: %w", err)
	}
	return nil
}

// IsInstalled checks if the entry exists.
func (m *AutostartManager) IsInstalled() bool {
	_, err := os.Stat(m.Path())
	return err == nil
}

// NeedsUpdate reports whether an installed entry differs from what Install would write.
func (m *AutostartManager) NeedsUpdate(execPath string, args []string) bool {
	if !m.IsInstalled() {
		return false // Doesn't exist, needs install not update
	}

	current, err := os.ReadFile(m.Path())
	if err != nil {
		return true
	}
	expected, err := m.content(execPath, args)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}
