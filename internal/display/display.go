// Package display holds small presentation helpers for monitor views.
package display

import (
	"strconv"

	"github.com/lbmctl/lbmctl/internal/domain"
)

const mmPerInch = 25.4

// Inches formats a millimeter length as inches with one fractional digit.
func Inches(mm float64) string {
	return strconv.FormatFloat(mm/mmPerInch, 'f', 1, 64) + `"`
}

// Diagonal formats the monitor's physical diagonal.
func Diagonal(m domain.MonitorSpec) string {
	return Inches(m.DiagonalMM())
}

// Attacher changes whether a monitor is part of the desktop.
// Implementation: *layout.Layout.
type Attacher interface {
	SetAttached(deviceID string, attached bool) bool
}

// MonitorView derives the attach/detach commands for one monitor.
type MonitorView struct {
	DeviceID string
	Attached bool
	Primary  bool
}

// NewMonitorView builds the view of m.
func NewMonitorView(m domain.MonitorSpec) MonitorView {
	return MonitorView{DeviceID: m.DeviceID, Attached: m.Attached, Primary: m.Primary}
}

// CanDetach is true for an attached monitor that is not the primary one.
func (v MonitorView) CanDetach() bool { return v.Attached && !v.Primary }

// CanAttach is true for a detached monitor.
func (v MonitorView) CanAttach() bool { return !v.Attached }

// Attach attaches the monitor when allowed and reports whether it changed.
func (v MonitorView) Attach(a Attacher) bool {
	if !v.CanAttach() {
		return false
	}
	return a.SetAttached(v.DeviceID, true)
}

// Detach detaches the monitor when allowed and reports whether it changed.
func (v MonitorView) Detach(a Attacher) bool {
	if !v.CanDetach() {
		return false
	}
	return a.SetAttached(v.DeviceID, false)
}
