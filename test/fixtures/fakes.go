// Package fixtures provides test doubles shared by unit and integration tests.
package fixtures

import (
	"context"
	"sync"

	"github.com/lbmctl/lbmctl/internal/domain"
)

// Recorder is a goroutine-safe ordered call log shared by fakes.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// Record appends a call name.
func (r *Recorder) Record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

// Calls returns a copy of the log.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times name was recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

// FakeLayout is an in-memory domain.LayoutModel that records persistence calls.
type FakeLayout struct {
	Rec   *Recorder
	Name  string
	Zones *domain.ZoneLayout

	SaveErr        error
	SaveEnabledErr error
	LoadErr        error

	mu        sync.Mutex
	saved     bool
	enabled   bool
	listeners map[int]func(bool)
	nextID    int
	zoneCalls int
}

// NewFakeLayout creates a layout in the given saved state.
func NewFakeLayout(rec *Recorder, name string, saved bool) *FakeLayout {
	return &FakeLayout{
		Rec:       rec,
		Name:      name,
		Zones:     &domain.ZoneLayout{LayoutID: name},
		saved:     saved,
		listeners: make(map[int]func(bool)),
	}
}

func (f *FakeLayout) Saved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved
}

func (f *FakeLayout) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *FakeLayout) SetEnabled(enabled bool) {
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
}

func (f *FakeLayout) Save() error {
	f.Rec.Record("Save")
	if f.SaveErr != nil {
		return f.SaveErr
	}
	f.setSaved(true)
	return nil
}

func (f *FakeLayout) SaveEnabled() error {
	f.Rec.Record("SaveEnabled")
	return f.SaveEnabledErr
}

func (f *FakeLayout) Load() error {
	f.Rec.Record("Load")
	if f.LoadErr != nil {
		return f.LoadErr
	}
	f.setSaved(true)
	return nil
}

func (f *FakeLayout) ComputeZones() *domain.ZoneLayout {
	f.mu.Lock()
	f.zoneCalls++
	f.mu.Unlock()
	return f.Zones
}

// ZoneCalls returns how many times ComputeZones ran.
func (f *FakeLayout) ZoneCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zoneCalls
}

func (f *FakeLayout) OnSavedChanged(fn func(saved bool)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Edit simulates a user edit.
func (f *FakeLayout) Edit() {
	f.setSaved(false)
}

// Listeners returns the number of live OnSavedChanged registrations.
func (f *FakeLayout) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *FakeLayout) setSaved(saved bool) {
	f.mu.Lock()
	changed := f.saved != saved
	f.saved = saved
	fns := make([]func(bool), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	if changed {
		for _, fn := range fns {
			fn(saved)
		}
	}
}

var _ domain.LayoutModel = (*FakeLayout)(nil)

// FakeDaemon is a domain.DaemonClient driven by the test.
type FakeDaemon struct {
	Rec *Recorder

	StartErr error
	StopErr  error

	// Block, when set, holds Start until it is closed.
	Block chan struct{}

	// EmitOnStart publishes lifecycle events when Start/Stop succeed.
	EmitOnStart bool

	mu        sync.Mutex
	state     domain.DaemonState
	subs      map[*fakeSub]struct{}
	lastZones *domain.ZoneLayout
}

// NewFakeDaemon creates a daemon in the given state.
func NewFakeDaemon(rec *Recorder, state domain.DaemonState) *FakeDaemon {
	return &FakeDaemon{
		Rec:   rec,
		state: state,
		subs:  make(map[*fakeSub]struct{}),
	}
}

func (d *FakeDaemon) State() domain.DaemonState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *FakeDaemon) Subscribe() domain.Subscription {
	s := &fakeSub{ch: make(chan domain.DaemonEvent, 32), owner: d}
	d.mu.Lock()
	d.subs[s] = struct{}{}
	d.mu.Unlock()
	return s
}

func (d *FakeDaemon) Start(ctx context.Context, zones *domain.ZoneLayout) error {
	d.Rec.Record("StartAsync")
	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.StartErr != nil {
		return d.StartErr
	}
	d.mu.Lock()
	d.lastZones = zones
	d.mu.Unlock()
	if d.EmitOnStart {
		d.Emit(domain.DaemonEvent{Kind: domain.EventRunning})
	}
	return nil
}

func (d *FakeDaemon) Stop(ctx context.Context) error {
	d.Rec.Record("StopAsync")
	if d.StopErr != nil {
		return d.StopErr
	}
	if d.EmitOnStart {
		d.Emit(domain.DaemonEvent{Kind: domain.EventStopped})
	}
	return nil
}

// LastZones returns the zones passed to the last successful Start.
func (d *FakeDaemon) LastZones() *domain.ZoneLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastZones
}

// Emit delivers ev to every open subscription. Lifecycle kinds update State.
func (d *FakeDaemon) Emit(ev domain.DaemonEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev.Kind.IsLifecycle() {
		d.state = domain.DaemonState(ev.Kind)
	}
	for s := range d.subs {
		s.ch <- ev
	}
}

// Subscribers returns the number of open subscriptions.
func (d *FakeDaemon) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

type fakeSub struct {
	ch    chan domain.DaemonEvent
	owner *FakeDaemon
	once  sync.Once
}

func (s *fakeSub) Events() <-chan domain.DaemonEvent { return s.ch }

func (s *fakeSub) Close() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		close(s.ch)
		s.owner.mu.Unlock()
	})
}

var _ domain.DaemonClient = (*FakeDaemon)(nil)
