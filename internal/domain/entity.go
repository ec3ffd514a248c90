// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"math"
	"time"
)

// DaemonState is the lifecycle state of the pointer daemon.
type DaemonState string

const (
	StateRunning DaemonState = "Running"
	StateStopped DaemonState = "Stopped"
	StateDead    DaemonState = "Dead"
)

// EventKind identifies a daemon notification.
type EventKind string

const (
	EventRunning        EventKind = "Running"
	EventStopped        EventKind = "Stopped"
	EventDead           EventKind = "Dead"
	EventDisplayChanged EventKind = "DisplayChanged"
	EventDesktopChanged EventKind = "DesktopChanged"
	EventFocusChanged   EventKind = "FocusChanged"
	EventPaused         EventKind = "Paused"
	EventConnected      EventKind = "Connected"
)

// IsLifecycle reports whether the kind changes the daemon lifecycle state.
func (k EventKind) IsLifecycle() bool {
	switch k {
	case EventRunning, EventStopped, EventDead:
		return true
	}
	return false
}

// IsInformational reports whether the kind is a known event that carries no state.
func (k EventKind) IsInformational() bool {
	switch k {
	case EventDisplayChanged, EventDesktopChanged, EventFocusChanged, EventPaused, EventConnected:
		return true
	}
	return false
}

// EventForState maps a lifecycle state to the event announcing it.
func EventForState(s DaemonState) EventKind {
	return EventKind(s)
}

// DaemonEvent is one notification emitted by the daemon client.
type DaemonEvent struct {
	Kind    EventKind `json:"event"`
	Payload string    `json:"payload,omitempty"`
}

// Rect is a rectangle in virtual desktop pixel coordinates.
// Coordinates can be negative (monitor left of or above the primary one).
type Rect struct {
	Left   int32 `json:"left" yaml:"left"`
	Top    int32 `json:"top" yaml:"top"`
	Right  int32 `json:"right" yaml:"right"`
	Bottom int32 `json:"bottom" yaml:"bottom"`
}

// Width returns the horizontal extent.
func (r Rect) Width() int32 { return r.Right - r.Left }

// Height returns the vertical extent.
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// RectMM is a rectangle in physical millimeters.
type RectMM struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MonitorSpec describes one physical monitor and the source driving it.
type MonitorSpec struct {
	DeviceID    string  `json:"device_id" yaml:"device_id"`
	Name        string  `json:"name" yaml:"name"`
	Pixels      Rect    `json:"pixels" yaml:"pixels"`
	WidthMM     float64 `json:"width_mm" yaml:"width_mm"`
	HeightMM    float64 `json:"height_mm" yaml:"height_mm"`
	XMM         float64 `json:"x_mm" yaml:"x_mm"`
	YMM         float64 `json:"y_mm" yaml:"y_mm"`
	DpiRatio    float64 `json:"dpi_ratio" yaml:"dpi_ratio"`
	Primary     bool    `json:"primary" yaml:"primary"`
	Attached    bool    `json:"attached" yaml:"attached"`
	Orientation int     `json:"orientation" yaml:"orientation"`
}

// DiagonalMM returns the physical diagonal.
func (m MonitorSpec) DiagonalMM() float64 {
	return math.Hypot(m.WidthMM, m.HeightMM)
}

// LayoutOptions are the user-editable pointer options of a layout.
type LayoutOptions struct {
	Algorithm         string   `json:"algorithm"`
	Priority          string   `json:"priority"`
	ExcludedProcesses []string `json:"excluded_processes"`
	AdjustPointer     bool     `json:"adjust_pointer"`
	AdjustSpeed       bool     `json:"adjust_speed"`
}

// LayoutRecord is the persisted form of a layout.
type LayoutRecord struct {
	ID        string
	Enabled   bool
	Options   LayoutOptions
	Monitors  []MonitorSpec
	UpdatedAt time.Time
}

// Zone is one monitor as seen by the daemon.
type Zone struct {
	ID       int     `json:"id"`
	DeviceID string  `json:"device_id"`
	Name     string  `json:"name"`
	Pixels   Rect    `json:"pixels"`
	Physical RectMM  `json:"physical"`
	DpiRatio float64 `json:"dpi_ratio"`
	Primary  bool    `json:"primary"`
}

// ZoneLayout is everything the daemon needs to start adjusting the pointer.
type ZoneLayout struct {
	LayoutID          string   `json:"layout_id"`
	Zones             []Zone   `json:"zones"`
	Algorithm         string   `json:"algorithm"`
	Priority          string   `json:"priority"`
	ExcludedProcesses []string `json:"excluded_processes"`
	AdjustPointer     bool     `json:"adjust_pointer"`
	AdjustSpeed       bool     `json:"adjust_speed"`
}

// DisplayDevice is a node of the system display device tree.
// Parent is not serialized so the tree has no cycles on export.
type DisplayDevice struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Kind     string           `json:"kind"`
	Children []*DisplayDevice `json:"children,omitempty"`
	Parent   *DisplayDevice   `json:"-"`
}

// AddChild links child under d.
func (d *DisplayDevice) AddChild(child *DisplayDevice) {
	child.Parent = d
	d.Children = append(d.Children, child)
}

// RegistryEntry stores the running daemon for discovery by clients.
// Persisted to a hidden file.
type RegistryEntry struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	Socket        string `json:"socket"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	AppVersion    string `json:"app_version,omitempty"`
}
