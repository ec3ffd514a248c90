package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lbmctl/lbmctl/internal/usecase"
)

// Notifier publishes controller state changes.
// Implementation: *usecase.SessionController.
type Notifier interface {
	OnChange(fn func(usecase.Snapshot)) (cancel func())
}

// Forward sends every state change from n into p.
func Forward(p *tea.Program, n Notifier) (cancel func()) {
	return n.OnChange(func(s usecase.Snapshot) {
		p.Send(SnapshotMsg(s))
	})
}

// Run shows the TUI until the user quits or ctx is canceled.
func Run(ctx context.Context, ctl Controller, n Notifier, layout Layout, opts OptionCycler, extra ...tea.ProgramOption) error {
	progOpts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, extra...)
	p := tea.NewProgram(New(ctx, ctl, layout, opts), progOpts...)

	cancel := Forward(p, n)
	defer cancel()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
