// Package export builds the diagnostic JSON snapshot of a layout.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// Source is the layout being exported.
// Implementation: *layout.Layout.
type Source interface {
	ID() string
	Saved() bool
	Enabled() bool
	Options() domain.LayoutOptions
	Monitors() []domain.MonitorSpec
	ComputeZones() *domain.ZoneLayout
}

// LayoutInfo is the layout part of a snapshot.
type LayoutInfo struct {
	ID       string               `json:"id"`
	Saved    bool                 `json:"saved"`
	Enabled  bool                 `json:"enabled"`
	Options  domain.LayoutOptions `json:"options"`
	Monitors []domain.MonitorSpec `json:"monitors"`
}

// Snapshot is everything needed to reproduce a layout issue.
type Snapshot struct {
	Layout  LayoutInfo            `json:"layout"`
	Devices *domain.DisplayDevice `json:"devices,omitempty"`
	Zones   *domain.ZoneLayout    `json:"zones"`
}

// New captures src and the device tree.
func New(src Source, devices *domain.DisplayDevice) Snapshot {
	return Snapshot{
		Layout: LayoutInfo{
			ID:       src.ID(),
			Saved:    src.Saved(),
			Enabled:  src.Enabled(),
			Options:  src.Options(),
			Monitors: src.Monitors(),
		},
		Devices: devices,
		Zones:   src.ComputeZones(),
	}
}

// Copy returns the snapshot as indented JSON, or "" when src is nil.
func Copy(src Source, devices *domain.DisplayDevice) (string, error) {
	if src == nil {
		return "", nil
	}
	data, err := json.MarshalIndent(New(src, devices), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return string(data), nil
}

// DeviceTree builds the display device tree of monitors: a root node with one
// adapter per monitor and the monitor below it.
func DeviceTree(monitors []domain.MonitorSpec) *domain.DisplayDevice {
	root := &domain.DisplayDevice{ID: "root", Name: "Display devices", Kind: "root"}
	for i, m := range monitors {
		adapter := &domain.DisplayDevice{
			ID:   fmt.Sprintf("adapter%d", i),
			Name: fmt.Sprintf("Display adapter %d", i),
			Kind: "adapter",
		}
		adapter.AddChild(&domain.DisplayDevice{ID: m.DeviceID, Name: m.Name, Kind: "monitor"})
		root.AddChild(adapter)
	}
	return root
}
