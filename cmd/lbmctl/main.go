// Package main is the CLI entry point for lbmctl.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/daemon"
	"github.com/lbmctl/lbmctl/internal/display"
	"github.com/lbmctl/lbmctl/internal/export"
	"github.com/lbmctl/lbmctl/internal/infra"
	"github.com/lbmctl/lbmctl/internal/options"
	"github.com/lbmctl/lbmctl/internal/tui"
	"github.com/lbmctl/lbmctl/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lbmctl",
	Short: "Control the physical-size pointer daemon",
	Long: `lbmctl edits the monitor layout used to move the pointer across
monitors of different sizes and resolutions, and starts or stops the
background daemon that applies it.`,
	Version:      Version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Save the layout and start the daemon",
	Long: `Marks the layout enabled, saves it, then hands its zones to the daemon.
The daemon is launched in the background when it is not running.`,
	RunE: runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable the layout and stop the daemon",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and layout status",
	RunE:  runStatus,
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Persist pending layout edits",
	RunE:  runSave,
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Discard pending layout edits",
	RunE:  runUndo,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print a JSON snapshot of the layout for bug reports",
	RunE:  runExport,
}

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List or change pointer options",
	Long: `Without flags lists the available algorithms and priorities with the
current selection. Flags change the options and save the layout.`,
	RunE: runOptions,
}

var monitorsCmd = &cobra.Command{
	Use:   "monitors",
	Short: "List monitors of the layout",
	RunE:  runMonitors,
}

var attachCmd = &cobra.Command{
	Use:   "attach DEVICE",
	Short: "Attach a monitor to the layout and save",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runAttach(cmd, args[0], true) },
}

var detachCmd = &cobra.Command{
	Use:   "detach DEVICE",
	Short: "Detach a monitor from the layout and save",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runAttach(cmd, args[0], false) },
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive layout and daemon control",
	RunE:  runTUI,
}

var autostartCmd = &cobra.Command{
	Use:       "autostart [enable|disable|status]",
	Short:     "Start the daemon at login",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"enable", "disable", "status"},
	RunE:      runAutostart,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning the daemon
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	configPath string
	dataDir    string
	socketPath string
	verbose    bool

	jsonOutput   bool
	exportOutput string
	recoverDead  bool

	optAlgorithm string
	optPriority  string
	optExclude   []string
	optInclude   []string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Override the daemon socket path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	startCmd.Flags().BoolVar(&recoverDead, "recover", false, "Forget a crashed daemon before starting")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")

	optionsCmd.Flags().StringVar(&optAlgorithm, "algorithm", "", "Pointer transition algorithm")
	optionsCmd.Flags().StringVar(&optPriority, "priority", "", "Daemon priority")
	optionsCmd.Flags().StringSliceVar(&optExclude, "exclude", nil, "Process names to exclude")
	optionsCmd.Flags().StringSliceVar(&optInclude, "include", nil, "Process names to stop excluding")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(detachCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(autostartCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withStack runs fn against a freshly built stack.
func withStack(fn func(ctx context.Context, s *stack) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	s, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func describe(snap usecase.Snapshot) string {
	state := "Stopped"
	switch {
	case snap.Dead:
		state = "Dead"
	case snap.Running:
		state = "Running"
	}
	saved := "saved"
	if !snap.Saved {
		saved = "unsaved"
	}
	return fmt.Sprintf("daemon %s, layout %s", state, saved)
}

func refused(cmd *cobra.Command, action string, snap usecase.Snapshot) error {
	fmt.Fprintf(cmd.OutOrStdout(), "%s not available: %s\n", action, describe(snap))
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	if recoverDead {
		if err := forgetCrashedDaemon(cmd); err != nil {
			return err
		}
	}

	return withStack(func(ctx context.Context, s *stack) error {
		snap := s.session.Snapshot()
		if !snap.Gates.Start {
			if snap.Dead {
				fmt.Fprintln(cmd.OutOrStdout(), "The daemon crashed. Run 'lbmctl start --recover' to start a new one.")
			}
			return refused(cmd, "start", snap)
		}
		if err := s.session.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started (daemon %s)\n", s.client.State())
		return nil
	})
}

// forgetCrashedDaemon clears a registry entry whose pid is gone.
func forgetCrashedDaemon(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry := infra.NewFileRegistry(cfg.DataDir, infra.NewProcessManager())
	w := daemon.NewWatchdog(daemon.DefaultWatchdogConfig(), registry, zap.NewNop())
	if !w.Crashed() {
		return nil
	}
	if err := registry.Clear(); err != nil {
		return fmt.Errorf("failed to clear crashed daemon: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cleared crashed daemon")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		snap := s.session.Snapshot()
		if !snap.Gates.Stop {
			return refused(cmd, "stop", snap)
		}
		if err := s.session.Stop(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped (daemon %s)\n", s.client.State())
		return nil
	})
}

func runSave(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		snap := s.session.Snapshot()
		if !snap.Gates.Save {
			return refused(cmd, "save", snap)
		}
		if err := s.session.Save(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Saved")
		return nil
	})
}

func runUndo(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		snap := s.session.Snapshot()
		if !snap.Gates.Undo {
			return refused(cmd, "undo", snap)
		}
		if err := s.session.Undo(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reverted to the saved layout")
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		snap := s.session.Snapshot()
		entry, _ := s.registry.Get()
		out := cmd.OutOrStdout()

		if jsonOutput {
			pid := 0
			if entry != nil {
				pid = entry.PID
			}
			fmt.Fprintf(out, `{"daemon":"%s","pid":%d,"layout":"%s","saved":%t,"enabled":%t,"gates":{"start":%t,"stop":%t,"save":%t,"undo":%t}}`+"\n",
				s.client.State(), pid, s.layout.ID(), snap.Saved, s.layout.Enabled(),
				snap.Gates.Start, snap.Gates.Stop, snap.Gates.Save, snap.Gates.Undo)
			return nil
		}

		fmt.Fprintln(out, "\n=== lbmctl Status ===")
		fmt.Fprintf(out, "Daemon: %s\n", s.client.State())
		if entry != nil {
			fmt.Fprintf(out, "PID: %d\n", entry.PID)
			fmt.Fprintf(out, "Socket: %s\n", entry.Socket)
			if entry.LastHeartbeat > 0 {
				lastBeat := time.Unix(entry.LastHeartbeat, 0)
				fmt.Fprintf(out, "Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
			}
		}
		fmt.Fprintf(out, "\nLayout: %s\n", s.layout.ID())
		fmt.Fprintf(out, "Enabled: %t\n", s.layout.Enabled())
		fmt.Fprintf(out, "Store: %s\n", s.store.Path())
		fmt.Fprintf(out, "Algorithm: %s\n", s.layout.Algorithm())
		fmt.Fprintf(out, "Priority: %s\n", s.layout.Priority())

		var open []string
		for _, g := range []struct {
			name string
			ok   bool
		}{
			{"start", snap.Gates.Start}, {"stop", snap.Gates.Stop}, {"save", snap.Gates.Save}, {"undo", snap.Gates.Undo},
		} {
			if g.ok {
				open = append(open, g.name)
			}
		}
		fmt.Fprintf(out, "\nAvailable: %s\n", strings.Join(open, ", "))
		fmt.Fprintln(out, "=====================")
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		text, err := export.Copy(s.layout, export.DeviceTree(s.layout.Monitors()))
		if err != nil {
			return err
		}
		if exportOutput == "" {
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		}
		if err := os.WriteFile(exportOutput, []byte(text+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", exportOutput)
		return nil
	})
}

func runOptions(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		collector := infra.NewProcessCollector(s.pm)
		if err := collector.Scan(); err != nil {
			s.logger.Debug("process scan failed", zap.Error(err))
		}
		view := options.NewView(s.layout, collector)
		out := cmd.OutOrStdout()

		if err := applyOptions(view); err != nil {
			return err
		}

		if !s.layout.Saved() {
			if err := s.session.Save(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "Options saved")
		}

		printList(out, "Algorithms", view.Algorithms(), view.SelectedAlgorithm())
		printList(out, "Priorities", view.Priorities(), view.SelectedPriority())

		fmt.Fprintln(out, "\nExcluded processes:")
		for _, name := range view.ExcludedProcesses() {
			fmt.Fprintf(out, "  - %s\n", name)
		}
		if !view.AdjustPointerAllowed() {
			fmt.Fprintln(out, "\nPointer and speed adjustment need every monitor at 100% scaling.")
		}
		return nil
	})
}

func applyOptions(view *options.View) error {
	if optAlgorithm != "" {
		it, ok := options.Algorithms().Find(optAlgorithm)
		if !ok {
			return fmt.Errorf("unknown algorithm %q", optAlgorithm)
		}
		view.SetSelectedAlgorithm(&it)
	}
	if optPriority != "" {
		it, ok := options.Priorities().Find(optPriority)
		if !ok {
			return fmt.Errorf("unknown priority %q", optPriority)
		}
		view.SetSelectedPriority(&it)
	}
	for _, name := range optExclude {
		view.SelectSeenProcess(name)
		view.AddExcludedProcess()
	}
	for _, name := range optInclude {
		view.SelectExcludedProcess(name)
		view.RemoveExcludedProcess()
	}
	return nil
}

func printList(out io.Writer, title string, items []options.ListItem, selected *options.ListItem) {
	fmt.Fprintf(out, "\n%s:\n", title)
	for _, it := range items {
		mark := " "
		if selected != nil && selected.ID == it.ID {
			mark = "*"
		}
		fmt.Fprintf(out, " %s %-8s %s", mark, it.ID, it.Caption)
		if it.Description != "" {
			fmt.Fprintf(out, " - %s", it.Description)
		}
		fmt.Fprintln(out)
	}
}

func runMonitors(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		out := cmd.OutOrStdout()
		for _, m := range s.layout.Monitors() {
			v := display.NewMonitorView(m)
			var flags []string
			if m.Primary {
				flags = append(flags, "primary")
			}
			if !m.Attached {
				flags = append(flags, "detached")
			}
			if v.CanDetach() {
				flags = append(flags, "detachable")
			}
			fmt.Fprintf(out, "%-12s %6s  %dx%d px  %s x %s at (%.0f, %.0f) mm  %s\n",
				m.DeviceID, display.Diagonal(m),
				m.Pixels.Width(), m.Pixels.Height(),
				display.Inches(m.WidthMM), display.Inches(m.HeightMM),
				m.XMM, m.YMM, strings.Join(flags, ","))
		}
		return nil
	})
}

func runAttach(cmd *cobra.Command, deviceID string, attach bool) error {
	return withStack(func(ctx context.Context, s *stack) error {
		m, ok := s.layout.Monitor(deviceID)
		if !ok {
			return fmt.Errorf("unknown monitor %q", deviceID)
		}
		v := display.NewMonitorView(m)

		var changed bool
		if attach {
			if !v.CanAttach() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already attached\n", deviceID)
				return nil
			}
			changed = v.Attach(s.layout)
		} else {
			if !v.CanDetach() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s cannot be detached\n", deviceID)
				return nil
			}
			changed = v.Detach(s.layout)
		}
		if !changed {
			return nil
		}
		if err := s.session.Save(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved (%s)\n", describe(s.session.Snapshot()))
		return nil
	})
}

func runTUI(cmd *cobra.Command, args []string) error {
	return withStack(func(ctx context.Context, s *stack) error {
		collector := infra.NewProcessCollector(s.pm)
		if err := collector.Scan(); err != nil {
			s.logger.Debug("process scan failed", zap.Error(err))
		}
		view := options.NewView(s.layout, collector)

		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go func() {
			_ = s.watchdog.Run(watchCtx, s.client.MarkDead)
		}()

		return tui.Run(ctx, s.session, s.session, s.layout, view)
	})
}

func runAutostart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	daemonArgs := daemon.Launcher{SocketPath: cfg.Socket, ConfigPath: configPath, DataDir: cfg.DataDir}.Args()
	m := infra.NewAutostartManager(infra.DefaultAutostartConfig(infra.DetectExecMode()), nil)
	out := cmd.OutOrStdout()

	action := "status"
	if len(args) == 1 {
		action = args[0]
	}
	switch action {
	case "enable":
		if err := m.Install(executable, daemonArgs); err != nil {
			return err
		}
		fmt.Fprintf(out, "Installed %s\n", m.Path())
	case "disable":
		if err := m.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Autostart disabled")
	default:
		switch {
		case !m.IsInstalled():
			fmt.Fprintln(out, "Autostart: disabled")
		case m.NeedsUpdate(executable, daemonArgs):
			fmt.Fprintf(out, "Autostart: outdated (%s), run 'lbmctl autostart enable'\n", m.Path())
		default:
			fmt.Fprintf(out, "Autostart: enabled (%s)\n", m.Path())
		}
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	logger := createDaemonLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)

	serverCfg := daemon.DefaultServerConfig(cfg.Socket)
	serverCfg.HeartbeatInterval = cfg.Daemon.HeartbeatInterval
	serverCfg.AppVersion = Version
	server := daemon.NewServer(serverCfg, registry, pm, logger)

	// Set up graceful shutdown
	ctx, cancel := signalContext()
	defer cancel()

	err = server.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("received shutdown signal")
		return nil
	}
	return err
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("lbmctl %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
