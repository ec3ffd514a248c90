package options

import (
	"sync"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// Model is the part of the layout the options view edits.
// Implementation: *layout.Layout.
type Model interface {
	Algorithm() string
	SetAlgorithm(id string)
	Priority() string
	SetPriority(id string)
	ExcludedProcesses() []string
	AddExcluded(name string) bool
	RemoveExcluded(name string) bool
	IsUnaryRatio() bool
}

// View binds the choice lists and the process exclusion list to a layout.
// Every operation is a no-op while no model is set.
type View struct {
	algorithms *Catalog
	priorities *Catalog
	collector  domain.ProcessesCollector

	mu               sync.Mutex
	model            Model
	selectedSeen     string
	selectedExcluded string
}

// NewView creates a view over model. model and collector may be nil.
func NewView(model Model, collector domain.ProcessesCollector) *View {
	return &View{
		algorithms: Algorithms(),
		priorities: Priorities(),
		collector:  collector,
		model:      model,
	}
}

// SetModel replaces the edited layout.
func (v *View) SetModel(model Model) {
	v.mu.Lock()
	v.model = model
	v.selectedSeen, v.selectedExcluded = "", ""
	v.mu.Unlock()
}

func (v *View) current() Model {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.model
}

// Algorithms returns the algorithm list.
func (v *View) Algorithms() []ListItem { return v.algorithms.Items() }

// Priorities returns the priority list.
func (v *View) Priorities() []ListItem { return v.priorities.Items() }

// SelectedAlgorithm returns the item matching the layout's algorithm, nil when none.
func (v *View) SelectedAlgorithm() *ListItem {
	return selected(v.current(), v.algorithms, Model.Algorithm)
}

// SetSelectedAlgorithm writes the item's id into the layout. A nil item clears it.
func (v *View) SetSelectedAlgorithm(item *ListItem) {
	if m := v.current(); m != nil {
		m.SetAlgorithm(itemID(item))
	}
}

// SelectedPriority returns the item matching the layout's priority, nil when none.
func (v *View) SelectedPriority() *ListItem {
	return selected(v.current(), v.priorities, Model.Priority)
}

// SetSelectedPriority writes the item's id into the layout. A nil item clears it.
func (v *View) SetSelectedPriority(item *ListItem) {
	if m := v.current(); m != nil {
		m.SetPriority(itemID(item))
	}
}

// CycleAlgorithm selects the next algorithm and returns it.
func (v *View) CycleAlgorithm() *ListItem {
	m := v.current()
	if m == nil {
		return nil
	}
	next := v.algorithms.Next(m.Algorithm())
	m.SetAlgorithm(next.ID)
	return &next
}

// CyclePriority selects the next priority and returns it.
func (v *View) CyclePriority() *ListItem {
	m := v.current()
	if m == nil {
		return nil
	}
	next := v.priorities.Next(m.Priority())
	m.SetPriority(next.ID)
	return &next
}

// SeenProcesses lists processes the user can exclude, minus those already excluded.
func (v *View) SeenProcesses() []string {
	if v.collector == nil {
		return nil
	}
	excluded := map[string]bool{}
	if m := v.current(); m != nil {
		for _, n := range m.ExcludedProcesses() {
			excluded[n] = true
		}
	}
	var out []string
	for _, n := range v.collector.SeenProcesses() {
		if !excluded[n] {
			out = append(out, n)
		}
	}
	return out
}

// ExcludedProcesses lists the layout's excluded processes.
func (v *View) ExcludedProcesses() []string {
	if m := v.current(); m != nil {
		return m.ExcludedProcesses()
	}
	return nil
}

// SelectSeenProcess sets the candidate for AddExcludedProcess.
func (v *View) SelectSeenProcess(name string) {
	v.mu.Lock()
	v.selectedSeen = name
	v.mu.Unlock()
}

// SelectExcludedProcess sets the candidate for RemoveExcludedProcess.
func (v *View) SelectExcludedProcess(name string) {
	v.mu.Lock()
	v.selectedExcluded = name
	v.mu.Unlock()
}

// AddExcludedProcess excludes the selected seen process.
// Nothing happens when no process is selected or it is already excluded.
func (v *View) AddExcludedProcess() bool {
	v.mu.Lock()
	m, name := v.model, v.selectedSeen
	v.mu.Unlock()
	if m == nil || name == "" {
		return false
	}
	return m.AddExcluded(name)
}

// RemoveExcludedProcess removes the selected excluded process.
// Nothing happens when it is not in the list.
func (v *View) RemoveExcludedProcess() bool {
	v.mu.Lock()
	m, name := v.model, v.selectedExcluded
	v.mu.Unlock()
	if m == nil || name == "" {
		return false
	}
	if !m.RemoveExcluded(name) {
		return false
	}
	v.mu.Lock()
	v.selectedExcluded = ""
	v.mu.Unlock()
	return true
}

// AdjustPointerAllowed reports whether pointer adjustment applies to this topology.
func (v *View) AdjustPointerAllowed() bool {
	m := v.current()
	return m != nil && m.IsUnaryRatio()
}

// AdjustSpeedAllowed reports whether speed adjustment applies to this topology.
func (v *View) AdjustSpeedAllowed() bool {
	return v.AdjustPointerAllowed()
}

func selected(m Model, c *Catalog, get func(Model) string) *ListItem {
	if m == nil {
		return nil
	}
	it, ok := c.Find(get(m))
	if !ok {
		return nil
	}
	return &it
}

func itemID(item *ListItem) string {
	if item == nil {
		return ""
	}
	return item.ID
}
