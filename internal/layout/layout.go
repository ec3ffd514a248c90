// Package layout implements the editable monitor layout.
package layout

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lbmctl/lbmctl/internal/domain"
)

const (
	// DefaultAlgorithm is used until the user picks one.
	DefaultAlgorithm = "Strait"
	// DefaultPriority is used until the user picks one.
	DefaultPriority = "Normal"

	defaultStoreTimeout = 5 * time.Second
)

// layoutNamespace scopes layout ids generated from monitor device ids.
var layoutNamespace = uuid.MustParse("6f1b7a52-3c1e-4f0e-9d57-2a7c9b8e4d10")

// Layout is the monitor layout being edited. It implements domain.LayoutModel.
type Layout struct {
	store   domain.LayoutStore
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	id        string
	monitors  []domain.MonitorSpec
	options   domain.LayoutOptions
	enabled   bool
	saved     bool
	revision  uint64 // Bumped by every edit and Load
	listeners map[int]func(bool)
	nextID    int
}

// New creates an unsaved layout over the given monitors with default options.
func New(monitors []domain.MonitorSpec, store domain.LayoutStore, logger *zap.Logger) *Layout {
	ms := make([]domain.MonitorSpec, len(monitors))
	copy(ms, monitors)
	return &Layout{
		store:    store,
		logger:   logger,
		timeout:  defaultStoreTimeout,
		id:       ID(ms),
		monitors: ms,
		options: domain.LayoutOptions{
			Algorithm:         DefaultAlgorithm,
			Priority:          DefaultPriority,
			ExcludedProcesses: []string{},
		},
		listeners: make(map[int]func(bool)),
	}
}

// Open creates a layout and loads its persisted state when there is one.
// A layout never saved before stays unsaved with default options.
func Open(monitors []domain.MonitorSpec, store domain.LayoutStore, logger *zap.Logger) (*Layout, error) {
	l := New(monitors, store, logger)
	if err := l.Load(); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info("no saved layout, using defaults", zap.String("layout", l.id))
			return l, nil
		}
		return nil, err
	}
	return l, nil
}

// ID derives a stable layout id from the set of monitor device ids.
func ID(monitors []domain.MonitorSpec) string {
	ids := make([]string, 0, len(monitors))
	for _, m := range monitors {
		ids = append(ids, m.DeviceID)
	}
	sort.Strings(ids)
	return uuid.NewSHA1(layoutNamespace, []byte(strings.Join(ids, "|"))).String()
}

// ID returns the layout id.
func (l *Layout) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// Saved reports whether there are no edits since the last Save or Load.
func (l *Layout) Saved() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saved
}

// Enabled reports whether the layout is marked active for the daemon.
func (l *Layout) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetEnabled changes the enabled flag. The flag has its own persistence path
// (SaveEnabled) and does not count as an edit.
func (l *Layout) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Monitors returns a copy of the monitors.
func (l *Layout) Monitors() []domain.MonitorSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.MonitorSpec, len(l.monitors))
	copy(out, l.monitors)
	return out
}

// Monitor returns the monitor with the given device id.
func (l *Layout) Monitor(deviceID string) (domain.MonitorSpec, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(deviceID)
	if i < 0 {
		return domain.MonitorSpec{}, false
	}
	return l.monitors[i], true
}

// Options returns a copy of the pointer options.
func (l *Layout) Options() domain.LayoutOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.optionsLocked()
}

func (l *Layout) optionsLocked() domain.LayoutOptions {
	o := l.options
	o.ExcludedProcesses = slices.Clone(l.options.ExcludedProcesses)
	if o.ExcludedProcesses == nil {
		o.ExcludedProcesses = []string{}
	}
	return o
}

// Algorithm returns the selected algorithm id.
func (l *Layout) Algorithm() string { return l.Options().Algorithm }

// Priority returns the selected priority id.
func (l *Layout) Priority() string { return l.Options().Priority }

// ExcludedProcesses returns the excluded process names in insertion order.
func (l *Layout) ExcludedProcesses() []string { return l.Options().ExcludedProcesses }

// IsUnaryRatio is true when every monitor maps one pixel to one dip.
func (l *Layout) IsUnaryRatio() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.monitors {
		if m.DpiRatio != 0 && m.DpiRatio != 1 {
			return false
		}
	}
	return true
}

// SetAlgorithm selects the transition algorithm.
func (l *Layout) SetAlgorithm(id string) {
	l.edit(func() bool {
		if l.options.Algorithm == id {
			return false
		}
		l.options.Algorithm = id
		return true
	})
}

// SetPriority selects the daemon process priority.
func (l *Layout) SetPriority(id string) {
	l.edit(func() bool {
		if l.options.Priority == id {
			return false
		}
		l.options.Priority = id
		return true
	})
}

// SetAdjustPointer toggles pointer position adjustment.
func (l *Layout) SetAdjustPointer(on bool) {
	l.edit(func() bool {
		if l.options.AdjustPointer == on {
			return false
		}
		l.options.AdjustPointer = on
		return true
	})
}

// SetAdjustSpeed toggles pointer speed adjustment.
func (l *Layout) SetAdjustSpeed(on bool) {
	l.edit(func() bool {
		if l.options.AdjustSpeed == on {
			return false
		}
		l.options.AdjustSpeed = on
		return true
	})
}

// AddExcluded appends a process name. Duplicates and empty names are ignored.
func (l *Layout) AddExcluded(name string) bool {
	return l.edit(func() bool {
		if name == "" || slices.Contains(l.options.ExcludedProcesses, name) {
			return false
		}
		l.options.ExcludedProcesses = append(l.options.ExcludedProcesses, name)
		return true
	})
}

// RemoveExcluded removes a process name if present.
func (l *Layout) RemoveExcluded(name string) bool {
	return l.edit(func() bool {
		i := slices.Index(l.options.ExcludedProcesses, name)
		if i < 0 {
			return false
		}
		l.options.ExcludedProcesses = slices.Delete(l.options.ExcludedProcesses, i, i+1)
		return true
	})
}

// MoveMonitor places a monitor at a physical position in millimeters.
func (l *Layout) MoveMonitor(deviceID string, xMM, yMM float64) bool {
	return l.edit(func() bool {
		i := l.indexLocked(deviceID)
		if i < 0 {
			return false
		}
		m := &l.monitors[i]
		if m.XMM == xMM && m.YMM == yMM {
			return false
		}
		m.XMM, m.YMM = xMM, yMM
		return true
	})
}

// SetAttached marks a monitor attached to or detached from the desktop.
func (l *Layout) SetAttached(deviceID string, attached bool) bool {
	return l.edit(func() bool {
		i := l.indexLocked(deviceID)
		if i < 0 || l.monitors[i].Attached == attached {
			return false
		}
		l.monitors[i].Attached = attached
		return true
	})
}

// edit applies fn under the lock and marks the layout unsaved when fn reports a change.
func (l *Layout) edit(fn func() bool) bool {
	l.mu.Lock()
	changed := fn()
	var fns []func(bool)
	if changed {
		l.revision++
		fns = l.setSavedLocked(false)
	}
	l.mu.Unlock()
	notify(fns, false)
	return changed
}

// Save persists the full layout.
func (l *Layout) Save() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	l.mu.Lock()
	rec := domain.LayoutRecord{
		ID:        l.id,
		Enabled:   l.enabled,
		Options:   l.optionsLocked(),
		Monitors:  slices.Clone(l.monitors),
		UpdatedAt: time.Now().UTC(),
	}
	revision := l.revision
	l.mu.Unlock()

	if err := l.store.SaveLayout(ctx, rec); err != nil {
		return fmt.Errorf("failed to save layout %s: %w", rec.ID, err)
	}
	l.logger.Info("layout saved", zap.String("layout", rec.ID), zap.Int("monitors", len(rec.Monitors)))

	// Edits made while the record was being written are not in the store.
	l.mu.Lock()
	current := l.revision == revision
	var fns []func(bool)
	if current {
		fns = l.setSavedLocked(true)
	}
	l.mu.Unlock()

	if !current {
		l.logger.Debug("layout edited during save, staying unsaved", zap.String("layout", rec.ID))
		return nil
	}
	notify(fns, true)
	return nil
}

// SaveEnabled persists only the enabled flag.
func (l *Layout) SaveEnabled() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	id, enabled := l.ID(), l.Enabled()
	if err := l.store.SaveEnabled(ctx, id, enabled); err != nil {
		return fmt.Errorf("failed to save enabled flag of %s: %w", id, err)
	}
	l.logger.Debug("layout enabled flag saved", zap.String("layout", id), zap.Bool("enabled", enabled))
	return nil
}

// Load discards edits and restores the persisted layout.
// Placement is restored for monitors still present; pixel geometry stays as detected.
func (l *Layout) Load() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	id := l.ID()
	rec, err := l.store.LoadLayout(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load layout %s: %w", id, err)
	}

	l.mu.Lock()
	l.enabled = rec.Enabled
	l.options = rec.Options
	if l.options.ExcludedProcesses == nil {
		l.options.ExcludedProcesses = []string{}
	}
	for _, saved := range rec.Monitors {
		i := l.indexLocked(saved.DeviceID)
		if i < 0 {
			continue
		}
		m := &l.monitors[i]
		m.XMM, m.YMM = saved.XMM, saved.YMM
		if saved.WidthMM > 0 && saved.HeightMM > 0 {
			m.WidthMM, m.HeightMM = saved.WidthMM, saved.HeightMM
		}
		m.Attached = saved.Attached
	}
	l.revision++
	fns := l.setSavedLocked(true)
	l.mu.Unlock()

	notify(fns, true)
	return nil
}

// ComputeZones derives one zone per attached monitor.
func (l *Layout) ComputeZones() *domain.ZoneLayout {
	l.mu.Lock()
	defer l.mu.Unlock()

	zl := &domain.ZoneLayout{
		LayoutID:          l.id,
		Zones:             make([]domain.Zone, 0, len(l.monitors)),
		Algorithm:         l.options.Algorithm,
		Priority:          l.options.Priority,
		ExcludedProcesses: slices.Clone(l.options.ExcludedProcesses),
		AdjustPointer:     l.options.AdjustPointer,
		AdjustSpeed:       l.options.AdjustSpeed,
	}
	for _, m := range l.monitors {
		if !m.Attached {
			continue
		}
		ratio := m.DpiRatio
		if ratio == 0 {
			ratio = 1
		}
		zl.Zones = append(zl.Zones, domain.Zone{
			ID:       len(zl.Zones),
			DeviceID: m.DeviceID,
			Name:     m.Name,
			Pixels:   m.Pixels,
			Physical: domain.RectMM{X: m.XMM, Y: m.YMM, Width: m.WidthMM, Height: m.HeightMM},
			DpiRatio: ratio,
			Primary:  m.Primary,
		})
	}
	return zl
}

// OnSavedChanged registers fn to be called after Saved flips.
func (l *Layout) OnSavedChanged(fn func(saved bool)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// setSavedLocked updates Saved and returns the listeners to notify once the
// lock is released. Nothing is returned when Saved did not change.
func (l *Layout) setSavedLocked(saved bool) []func(bool) {
	if l.saved == saved {
		return nil
	}
	l.saved = saved
	fns := make([]func(bool), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(bool), saved bool) {
	for _, fn := range fns {
		fn(saved)
	}
}

func (l *Layout) indexLocked(deviceID string) int {
	for i := range l.monitors {
		if l.monitors[i].DeviceID == deviceID {
			return i
		}
	}
	return -1
}

// Ensure Layout implements domain.LayoutModel.
var _ domain.LayoutModel = (*Layout)(nil)
