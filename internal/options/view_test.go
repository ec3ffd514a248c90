package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/domain"
	"github.com/lbmctl/lbmctl/internal/layout"
)

type fakeCollector []string

func (f fakeCollector) SeenProcesses() []string { return f }

// newLayout builds a layout that is never persisted by these tests.
func newLayout(ratios ...float64) *layout.Layout {
	ms := make([]domain.MonitorSpec, len(ratios))
	for i, r := range ratios {
		ms[i] = domain.MonitorSpec{DeviceID: string(rune('A' + i)), DpiRatio: r, Attached: true}
	}
	return layout.New(ms, nil, zap.NewNop())
}

func TestView_NoModelIsNoOp(t *testing.T) {
	v := NewView(nil, fakeCollector{"a.exe"})
	strait, _ := Algorithms().Find("Strait")

	assert.Nil(t, v.SelectedAlgorithm())
	assert.Nil(t, v.SelectedPriority())
	v.SetSelectedAlgorithm(&strait)
	v.SetSelectedPriority(nil)
	assert.Nil(t, v.CycleAlgorithm())
	assert.Nil(t, v.CyclePriority())

	v.SelectSeenProcess("a.exe")
	assert.False(t, v.AddExcludedProcess())
	assert.False(t, v.RemoveExcludedProcess())
	assert.Nil(t, v.ExcludedProcesses())
	assert.False(t, v.AdjustPointerAllowed())
	assert.False(t, v.AdjustSpeedAllowed())
}

func TestView_SelectedAlgorithm(t *testing.T) {
	l := newLayout(1)
	v := NewView(l, nil)

	require.NotNil(t, v.SelectedAlgorithm())
	assert.Equal(t, layout.DefaultAlgorithm, v.SelectedAlgorithm().ID)

	cross, _ := Algorithms().Find("Cross")
	v.SetSelectedAlgorithm(&cross)
	assert.Equal(t, "Cross", l.Algorithm())
	assert.False(t, l.Saved())

	v.SetSelectedAlgorithm(nil)
	assert.Equal(t, "", l.Algorithm())
	assert.Nil(t, v.SelectedAlgorithm(), "empty id matches no item")
}

func TestView_SelectedPriority(t *testing.T) {
	l := newLayout(1)
	v := NewView(l, nil)

	assert.Equal(t, "Normal", v.SelectedPriority().ID)

	high, _ := Priorities().Find("High")
	v.SetSelectedPriority(&high)
	assert.Equal(t, "High", l.Priority())
}

func TestView_Cycle(t *testing.T) {
	l := newLayout(1)
	v := NewView(l, nil)

	assert.Equal(t, "Cross", v.CycleAlgorithm().ID)
	assert.Equal(t, "Strait", v.CycleAlgorithm().ID)
	assert.Equal(t, "Above", v.CyclePriority().ID)
	assert.Equal(t, "Above", l.Priority())
}

func TestView_ExcludedProcesses(t *testing.T) {
	l := newLayout(1)
	v := NewView(l, fakeCollector{"a.exe", "b.exe", "c.exe"})

	// Nothing selected.
	assert.False(t, v.AddExcludedProcess())

	v.SelectSeenProcess("b.exe")
	assert.True(t, v.AddExcludedProcess())
	assert.False(t, v.AddExcludedProcess(), "already excluded")
	assert.Equal(t, []string{"b.exe"}, v.ExcludedProcesses())
	assert.Equal(t, []string{"a.exe", "c.exe"}, v.SeenProcesses())

	v.SelectExcludedProcess("missing.exe")
	assert.False(t, v.RemoveExcludedProcess())

	v.SelectExcludedProcess("b.exe")
	assert.True(t, v.RemoveExcludedProcess())
	assert.Empty(t, v.ExcludedProcesses())
	assert.False(t, v.RemoveExcludedProcess(), "selection cleared after remove")
}

func TestView_AdjustAllowed(t *testing.T) {
	tests := []struct {
		name   string
		ratios []float64
		want   bool
	}{
		{"all unary", []float64{1, 1}, true},
		{"mixed", []float64{1, 1.25}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewView(newLayout(tt.ratios...), nil)
			assert.Equal(t, tt.want, v.AdjustPointerAllowed())
			assert.Equal(t, tt.want, v.AdjustSpeedAllowed())
		})
	}
}

func TestView_SetModelClearsSelection(t *testing.T) {
	v := NewView(newLayout(1), fakeCollector{"a.exe"})
	v.SelectSeenProcess("a.exe")

	other := newLayout(1)
	v.SetModel(other)
	assert.False(t, v.AddExcludedProcess())
	assert.Empty(t, other.ExcludedProcesses())
}

func TestView_Lists(t *testing.T) {
	v := NewView(nil, nil)

	assert.Len(t, v.Algorithms(), 2)
	assert.Len(t, v.Priorities(), 6)
	assert.Nil(t, v.SeenProcesses())
}
