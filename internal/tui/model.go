// Package tui is the interactive terminal front-end of the session controller.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lbmctl/lbmctl/internal/display"
	"github.com/lbmctl/lbmctl/internal/domain"
	"github.com/lbmctl/lbmctl/internal/options"
	"github.com/lbmctl/lbmctl/internal/usecase"
)

// Controller is the session the TUI drives.
// Implementation: *usecase.SessionController.
type Controller interface {
	Snapshot() usecase.Snapshot
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Save(ctx context.Context) error
	Undo(ctx context.Context) error
	SetLiveUpdate(ctx context.Context, on bool) error
}

// Layout is the edited layout as the TUI shows it.
// Implementation: *layout.Layout.
type Layout interface {
	ID() string
	Algorithm() string
	Priority() string
	Monitors() []domain.MonitorSpec
	display.Attacher
}

// OptionCycler steps through algorithms and priorities.
// Implementation: *options.View.
type OptionCycler interface {
	CycleAlgorithm() *options.ListItem
	CyclePriority() *options.ListItem
}

// SnapshotMsg carries a controller state change into the program.
type SnapshotMsg usecase.Snapshot

type actionDoneMsg struct {
	action string
	err    error
}

// Model is the bubbletea model.
type Model struct {
	ctx    context.Context
	ctl    Controller
	layout Layout
	opts   OptionCycler
	th     theme

	snap   usecase.Snapshot
	cursor int
	busy   string
	status string
	err    error
}

// New creates the model. layout and opts may be nil.
func New(ctx context.Context, ctl Controller, layout Layout, opts OptionCycler) Model {
	return Model{
		ctx:    ctx,
		ctl:    ctl,
		layout: layout,
		opts:   opts,
		th:     defaultTheme(),
		snap:   ctl.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case SnapshotMsg:
		m.snap = usecase.Snapshot(msg)
		return m, nil

	case actionDoneMsg:
		m.busy = ""
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.action + " done"
		} else {
			m.status = ""
		}
		// Pick up anything a notification may not have carried yet.
		m.snap = m.ctl.Snapshot()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "s":
		return m.action("start", m.snap.Gates.Start, m.ctl.Start)
	case "x":
		return m.action("stop", m.snap.Gates.Stop, m.ctl.Stop)
	case "w":
		return m.action("save", m.snap.Gates.Save, m.ctl.Save)
	case "u":
		return m.action("undo", m.snap.Gates.Undo, m.ctl.Undo)
	case "l":
		on := !m.snap.LiveUpdate
		return m.action("live update", true, func(ctx context.Context) error {
			return m.ctl.SetLiveUpdate(ctx, on)
		})

	case "a":
		if m.opts != nil {
			if it := m.opts.CycleAlgorithm(); it != nil {
				m.status = "algorithm: " + it.Caption
			}
		}
	case "p":
		if m.opts != nil {
			if it := m.opts.CyclePriority(); it != nil {
				m.status = "priority: " + it.Caption
			}
		}

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.monitors())-1 {
			m.cursor++
		}
	case "d":
		m.toggleAttached()
	}
	return m, nil
}

// action runs fn off the program goroutine when the gate is open.
func (m Model) action(name string, open bool, fn func(context.Context) error) (tea.Model, tea.Cmd) {
	if !open {
		m.status = name + " not available"
		m.err = nil
		return m, nil
	}
	if m.busy != "" {
		return m, nil
	}
	m.busy = name
	m.status = ""
	ctx := m.ctx
	return m, func() tea.Msg {
		return actionDoneMsg{action: name, err: fn(ctx)}
	}
}

func (m *Model) toggleAttached() {
	ms := m.monitors()
	if m.cursor >= len(ms) {
		return
	}
	v := display.NewMonitorView(ms[m.cursor])
	switch {
	case v.CanDetach():
		if v.Detach(m.layout) {
			m.status = "detached " + v.DeviceID
		}
	case v.CanAttach():
		if v.Attach(m.layout) {
			m.status = "attached " + v.DeviceID
		}
	default:
		m.status = "primary monitor stays attached"
	}
}

func (m Model) monitors() []domain.MonitorSpec {
	if m.layout == nil {
		return nil
	}
	return m.layout.Monitors()
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.th.Header.Render("lbmctl"))
	if m.layout != nil {
		b.WriteString(m.th.Muted.Render("  layout " + shortID(m.layout.ID())))
	}
	b.WriteString("\n\n")

	m.row(&b, "Daemon", m.daemonState())
	m.row(&b, "Layout", m.savedState())
	m.row(&b, "Live update", onOff(m.th, m.snap.LiveUpdate))
	if m.layout != nil {
		m.row(&b, "Algorithm", m.layout.Algorithm())
		m.row(&b, "Priority", m.layout.Priority())
	}

	if ms := m.monitors(); len(ms) > 0 {
		b.WriteString("\n")
		for i, mon := range ms {
			cursor := "  "
			if i == m.cursor {
				cursor = m.th.Accent.Render("> ")
			}
			line := fmt.Sprintf("%s %s", mon.DeviceID, display.Diagonal(mon))
			if mon.Primary {
				line += " primary"
			}
			if !mon.Attached {
				line = m.th.Muted.Render(line + " detached")
			}
			b.WriteString(cursor + line + "\n")
		}
	}

	b.WriteString("\n")
	g := m.snap.Gates
	b.WriteString(strings.Join([]string{
		m.gate("s", "start", g.Start),
		m.gate("x", "stop", g.Stop),
		m.gate("w", "save", g.Save),
		m.gate("u", "undo", g.Undo),
	}, "  "))
	b.WriteString("\n")
	b.WriteString(m.th.Muted.Render("l live update  a algorithm  p priority  d attach/detach  q quit"))
	b.WriteString("\n")

	switch {
	case m.busy != "":
		b.WriteString("\n" + m.th.Alert.Render(m.busy+"..."))
	case m.err != nil:
		b.WriteString("\n" + m.th.Danger.Render(m.err.Error()))
	case m.status != "":
		b.WriteString("\n" + m.th.Muted.Render(m.status))
	}

	return m.th.Frame.Render(b.String())
}

func (m Model) row(b *strings.Builder, label, value string) {
	b.WriteString(m.th.Label.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

func (m Model) daemonState() string {
	switch {
	case m.snap.Dead:
		return m.th.Danger.Render("Dead")
	case m.snap.Running:
		return m.th.Success.Render("Running")
	default:
		return "Stopped"
	}
}

func (m Model) savedState() string {
	if !m.snap.HasModel {
		return m.th.Muted.Render("none")
	}
	if m.snap.Saved {
		return "saved"
	}
	return m.th.Alert.Render("unsaved")
}

func (m Model) gate(key, name string, open bool) string {
	if !open {
		return m.th.Muted.Render(key + " " + name)
	}
	return m.th.Key.Render(key) + " " + name
}

func onOff(th theme, on bool) string {
	if on {
		return th.Success.Render("on")
	}
	return "off"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
