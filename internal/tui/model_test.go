package tui

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/domain"
	"github.com/lbmctl/lbmctl/internal/layout"
	"github.com/lbmctl/lbmctl/internal/options"
	"github.com/lbmctl/lbmctl/internal/usecase"
)

type fakeController struct {
	mu    sync.Mutex
	snap  usecase.Snapshot
	calls []string
	live  []bool
	err   error
}

func (f *fakeController) Snapshot() usecase.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) Start(context.Context) error { return f.record("start") }
func (f *fakeController) Stop(context.Context) error  { return f.record("stop") }
func (f *fakeController) Save(context.Context) error  { return f.record("save") }
func (f *fakeController) Undo(context.Context) error  { return f.record("undo") }

func (f *fakeController) SetLiveUpdate(_ context.Context, on bool) error {
	f.mu.Lock()
	f.live = append(f.live, on)
	f.mu.Unlock()
	return f.record("live")
}

func snapshot(in usecase.GateInputs) usecase.Snapshot {
	return usecase.Snapshot{
		HasModel:   true,
		Running:    in.Running,
		Dead:       in.Dead,
		Saved:      in.Saved,
		LiveUpdate: in.LiveUpdate,
		Gates:      usecase.ComputeGates(in),
	}
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testLayout() *layout.Layout {
	return layout.New([]domain.MonitorSpec{
		{DeviceID: "A", WidthMM: 531, HeightMM: 299, Primary: true, Attached: true, DpiRatio: 1},
		{DeviceID: "B", WidthMM: 300, HeightMM: 200, Attached: true, DpiRatio: 1},
	}, nil, zap.NewNop())
}

// press feeds a key and runs the resulting command, if any, back into the model.
func press(t *testing.T, m Model, k string) (Model, bool) {
	t.Helper()
	next, cmd := m.Update(key(k))
	m = next.(Model)
	if cmd == nil {
		return m, false
	}
	next, _ = m.Update(cmd())
	return next.(Model), true
}

func TestModel_ActionsFollowGates(t *testing.T) {
	tests := []struct {
		name    string
		in      usecase.GateInputs
		key     string
		wantRun bool
	}{
		{"start when stopped and saved", usecase.GateInputs{Saved: true}, "s", true},
		{"start refused while running and saved", usecase.GateInputs{Running: true, Saved: true}, "s", false},
		{"stop while running", usecase.GateInputs{Running: true, Saved: true}, "x", true},
		{"stop refused while stopped", usecase.GateInputs{Saved: true}, "x", false},
		{"save when unsaved", usecase.GateInputs{}, "w", true},
		{"save refused when saved", usecase.GateInputs{Saved: true}, "w", false},
		{"undo when unsaved", usecase.GateInputs{}, "u", true},
		{"undo refused when saved", usecase.GateInputs{Saved: true}, "u", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{snap: snapshot(tt.in)}
			m := New(context.Background(), ctl, nil, nil)

			m, ran := press(t, m, tt.key)
			assert.Equal(t, tt.wantRun, ran)
			if tt.wantRun {
				assert.Len(t, ctl.calls, 1)
				assert.Contains(t, m.View(), "done")
			} else {
				assert.Empty(t, ctl.calls)
				assert.Contains(t, m.View(), "not available")
			}
		})
	}
}

func TestModel_LiveUpdateToggles(t *testing.T) {
	ctl := &fakeController{snap: snapshot(usecase.GateInputs{Saved: true})}
	m := New(context.Background(), ctl, nil, nil)

	m, _ = press(t, m, "l")
	ctl.snap.LiveUpdate = true
	next, _ := m.Update(SnapshotMsg(ctl.snap))
	m = next.(Model)
	press(t, m, "l")

	assert.Equal(t, []bool{true, false}, ctl.live)
}

func TestModel_ActionError(t *testing.T) {
	ctl := &fakeController{snap: snapshot(usecase.GateInputs{Saved: true}), err: errors.New("daemon unavailable")}
	m := New(context.Background(), ctl, nil, nil)

	m, ran := press(t, m, "s")
	require.True(t, ran)
	assert.Contains(t, m.View(), "daemon unavailable")
}

func TestModel_BusyIgnoresSecondAction(t *testing.T) {
	ctl := &fakeController{snap: snapshot(usecase.GateInputs{Saved: true})}
	m := New(context.Background(), ctl, nil, nil)

	next, first := m.Update(key("s"))
	require.NotNil(t, first)
	m = next.(Model)
	assert.Contains(t, m.View(), "start...")

	_, second := m.Update(key("s"))
	assert.Nil(t, second)
}

func TestModel_SnapshotRendering(t *testing.T) {
	tests := []struct {
		name string
		in   usecase.GateInputs
		want []string
	}{
		{"running", usecase.GateInputs{Running: true, Saved: true}, []string{"Running", "saved", "off"}},
		{"dead", usecase.GateInputs{Dead: true}, []string{"Dead", "unsaved"}},
		{"stopped live", usecase.GateInputs{Saved: true, LiveUpdate: true}, []string{"Stopped", "on"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{}
			m := New(context.Background(), ctl, nil, nil)
			next, cmd := m.Update(SnapshotMsg(snapshot(tt.in)))
			assert.Nil(t, cmd)

			view := next.(Model).View()
			for _, w := range tt.want {
				assert.Contains(t, view, w)
			}
		})
	}
}

func TestModel_NoLayout(t *testing.T) {
	m := New(context.Background(), &fakeController{}, nil, nil)
	assert.Contains(t, m.View(), "none")

	// Keys that need a layout are ignored.
	for _, k := range []string{"a", "p", "d", "j", "k"} {
		next, cmd := m.Update(key(k))
		assert.Nil(t, cmd)
		m = next.(Model)
	}
}

func TestModel_CycleOptionsEditsLayout(t *testing.T) {
	l := testLayout()
	v := options.NewView(l, nil)
	m := New(context.Background(), &fakeController{}, l, v)

	m, _ = press(t, m, "a")
	assert.Equal(t, "Cross", l.Algorithm())
	assert.False(t, l.Saved())
	assert.Contains(t, m.View(), "algorithm: Corner crossing")

	m, _ = press(t, m, "p")
	assert.Equal(t, "Above", l.Priority())
	assert.Contains(t, m.View(), "Above")
}

func TestModel_AttachDetach(t *testing.T) {
	l := testLayout()
	m := New(context.Background(), &fakeController{}, l, nil)

	// Cursor on the primary monitor.
	m, _ = press(t, m, "d")
	mon, _ := l.Monitor("A")
	assert.True(t, mon.Attached)
	assert.Contains(t, m.View(), "primary monitor stays attached")

	m, _ = press(t, m, "j")
	m, _ = press(t, m, "d")
	mon, _ = l.Monitor("B")
	assert.False(t, mon.Attached)
	assert.Contains(t, m.View(), "detached")

	m, _ = press(t, m, "d")
	mon, _ = l.Monitor("B")
	assert.True(t, mon.Attached)

	// Cursor stays in range.
	m, _ = press(t, m, "j")
	m, _ = press(t, m, "k")
	m, _ = press(t, m, "k")
	assert.Equal(t, 0, m.cursor)
}

func TestModel_ViewShowsMonitors(t *testing.T) {
	m := New(context.Background(), &fakeController{}, testLayout(), nil)
	view := m.View()

	assert.Contains(t, view, "A 24.0\"")
	assert.Contains(t, view, "primary")
	assert.Contains(t, view, "Strait")
}

func TestModel_Quit(t *testing.T) {
	m := New(context.Background(), &fakeController{}, nil, nil)
	for _, k := range []tea.KeyMsg{key("q"), {Type: tea.KeyCtrlC}} {
		_, cmd := m.Update(k)
		require.NotNil(t, cmd)
		assert.Equal(t, tea.Quit(), cmd())
	}
}

type fakeNotifier struct {
	fn       func(usecase.Snapshot)
	canceled bool
}

func (f *fakeNotifier) OnChange(fn func(usecase.Snapshot)) func() {
	f.fn = fn
	return func() { f.canceled = true }
}

func TestForward(t *testing.T) {
	n := &fakeNotifier{}
	p := tea.NewProgram(nil)
	cancel := Forward(p, n)
	require.NotNil(t, n.fn)

	cancel()
	assert.True(t, n.canceled)
}
