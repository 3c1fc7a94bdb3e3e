// Package monitor owns the poll loop: on every tick it polls the enabled
// detectors, reads their last completed state in source declaration order,
// filters dismissed activations and publishes one Snapshot.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiroq/beacon/internal/detector"
	"github.com/tiroq/beacon/internal/source"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Settings is the read-only configuration the monitor consults on every
// tick.
type Settings interface {
	detector.Settings
	Enabled(kind source.Kind) bool
}

// Monitor aggregates detector states into snapshots.
type Monitor struct {
	detectors []detector.Detector // indexed by declaration order
	byKind    map[source.Kind]detector.Detector
	settings  Settings
	interval  func() time.Duration
	now       func() time.Time
	log       *zap.Logger
	session   string

	tickMu sync.Mutex // serialises ticks so snapshots are totally ordered

	mu        sync.Mutex
	seq       uint64
	current   Snapshot
	real      Snapshot
	published Snapshot // last real snapshot handed to subscribers
	mock      *Snapshot
	shown     map[source.Kind]uint64 // kind -> activation listed in real
	dismissed map[source.Kind]uint64 // kind -> dismissed activation
	subs      map[int]func(Snapshot)
	nextSub   int
	running   bool // loop goroutine active
	stopped   bool // Stop called and not restarted
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets a fixed tick period.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = func() time.Duration { return d } }
}

// WithIntervalFunc reads the tick period before every tick, so a config
// reload can change the cadence.
func WithIntervalFunc(f func() time.Duration) Option {
	return func(m *Monitor) { m.interval = f }
}

// WithClock sets the time source for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// WithSession overrides the generated session id.
func WithSession(id string) Option {
	return func(m *Monitor) { m.session = id }
}

// New creates a monitor over detectors. Detectors are reordered into source
// declaration order; a second detector for the same kind is ignored.
func New(detectors []detector.Detector, settings Settings, opts ...Option) *Monitor {
	m := &Monitor{
		byKind:    make(map[source.Kind]detector.Detector, len(detectors)),
		settings:  settings,
		interval:  func() time.Duration { return DefaultInterval },
		now:       time.Now,
		log:       zap.NewNop(),
		session:   uuid.NewString(),
		shown:     make(map[source.Kind]uint64),
		dismissed: make(map[source.Kind]uint64),
		subs:      make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, d := range detectors {
		if _, dup := m.byKind[d.Kind()]; dup {
			m.log.Warn("duplicate detector ignored", zap.Stringer("source", d.Kind()))
			continue
		}
		m.byKind[d.Kind()] = d
	}
	for _, kind := range source.All() {
		if d, ok := m.byKind[kind]; ok {
			m.detectors = append(m.detectors, d)
		}
	}
	m.log = m.log.With(zap.String("session", m.session))
	return m
}

// Session returns the id of this monitor run.
func (m *Monitor) Session() string { return m.session }

// Start runs the tick loop in the background until Stop or ctx is done.
// Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.stopped = false
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.log.Info("monitoring started", zap.Int("detectors", len(m.detectors)), zap.Duration("interval", m.interval()))
	go m.loop(ctx, done)
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.running = false
		}
		m.mu.Unlock()
		close(done)
	}()

	interval := m.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
			if next := m.interval(); next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				m.log.Info("poll interval changed", zap.Duration("interval", interval))
			}
		}
	}
}

// Stop halts the loop. Once Stop returns no further real snapshot is
// published, even by a tick that was already running or a manual Tick.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.log.Info("monitoring stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Tick performs one poll-and-publish cycle and returns the snapshot it
// built. Detectors are polled without waiting, so the snapshot reflects the
// latest completed check of each source, not necessarily this tick's.
func (m *Monitor) Tick(ctx context.Context) Snapshot {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	enabled := make([]detector.Detector, 0, len(m.detectors))
	for _, d := range m.detectors {
		if m.settings.Enabled(d.Kind()) {
			enabled = append(enabled, d)
		}
	}

	for _, d := range enabled {
		m.poll(ctx, d)
	}

	states := make([]kindState, 0, len(enabled))
	for _, d := range enabled {
		states = append(states, kindState{detector: d, state: d.Activity()})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.build(states)
	m.real = snap
	if m.mock == nil {
		m.publishLocked(snap)
	}
	return snap.Clone()
}

type kindState struct {
	detector detector.Detector
	state    detector.ActivityState
}

// poll dispatches one detector; a panicking detector is logged and skipped.
func (m *Monitor) poll(ctx context.Context, d detector.Detector) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("detector poll panicked", zap.Stringer("source", d.Kind()), zap.Any("panic", r))
		}
	}()
	d.Poll(ctx)
}

// build turns detector states into a snapshot and records the activation of
// every listed source. Callers hold mu.
func (m *Monitor) build(states []kindState) Snapshot {
	clear(m.shown)
	m.seq++
	snap := Snapshot{
		Seq:      m.seq,
		At:       m.now(),
		Active:   make([]source.Kind, 0, len(states)),
		Progress: make(map[source.Kind]float64),
		Details:  make(map[source.Kind]string),
	}
	for _, ks := range states {
		kind := ks.detector.Kind()
		if !ks.state.Active {
			delete(m.dismissed, kind)
			continue
		}
		if act, ok := m.dismissed[kind]; ok {
			if act == ks.state.Activation {
				continue
			}
			delete(m.dismissed, kind)
		}
		snap.Active = append(snap.Active, kind)
		m.shown[kind] = ks.state.Activation
		if p, ok := ks.detector.Progress(); ok {
			snap.Progress[kind] = p
		}
		if d := ks.detector.Detail(); d != "" {
			snap.Details[kind] = d
		}
	}
	return snap
}

// publishLocked makes snap current and hands a copy to every subscriber.
// Callers hold mu. After Stop only mock snapshots are published.
func (m *Monitor) publishLocked(snap Snapshot) {
	if m.stopped && !snap.Mock {
		return
	}
	m.current = snap
	if !snap.Mock {
		m.published = snap
	}
	for _, fn := range m.subs {
		fn(snap.Clone())
	}
}

// Current returns the most recently published snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// Subscribe registers fn for every published snapshot and returns a
// function that removes it. fn runs on the publishing goroutine and must
// not block or call back into the monitor.
func (m *Monitor) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Updates returns a channel that always holds the latest snapshot not yet
// received. A slow reader skips intermediate snapshots instead of blocking
// the monitor.
func (m *Monitor) Updates() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	cancel := m.Subscribe(func(s Snapshot) {
		for {
			select {
			case ch <- s:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch, cancel
}

// Dismiss hides the activation of kind listed in the latest real snapshot
// until the source goes idle or activates again. It reports false if kind
// is not listed there.
func (m *Monitor) Dismiss(kind source.Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	act, ok := m.shown[kind]
	if !ok {
		return false
	}
	m.dismissed[kind] = act
	m.log.Info("source dismissed", zap.Stringer("source", kind), zap.Uint64("activation", act))
	return true
}

// Dismissed returns the kinds whose current activation is dismissed.
func (m *Monitor) Dismissed() []source.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []source.Kind
	for _, kind := range source.All() {
		if _, ok := m.dismissed[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// SetMock publishes snap immediately and keeps real snapshots from reaching
// subscribers until ClearMock.
func (m *Monitor) SetMock(snap Snapshot) {
	snap = snap.Clone()
	snap.Mock = true

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	snap.Seq = m.seq
	if snap.At.IsZero() {
		snap.At = m.now()
	}
	m.mock = &snap
	m.publishLocked(snap)
	m.log.Info("mock snapshot set", zap.Int("active", len(snap.Active)))
}

// ClearMock ends demo mode and republishes the latest real snapshot. After
// Stop nothing is published; Current falls back to the last real snapshot
// that was published before the stop.
func (m *Monitor) ClearMock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mock == nil {
		return
	}
	m.mock = nil
	if m.stopped {
		m.seq++
		m.current = m.published.Clone()
		m.current.Seq = m.seq
		m.current.At = m.now()
	} else {
		m.publishLocked(m.real.Clone())
	}
	m.log.Info("mock snapshot cleared")
}

// Mocking reports whether demo mode is on.
func (m *Monitor) Mocking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mock != nil
}

// Progress returns the cached progress of kind. It never triggers a probe.
func (m *Monitor) Progress(kind source.Kind) (float64, bool) {
	m.mu.Lock()
	if m.mock != nil {
		p, ok := m.mock.Progress[kind]
		m.mu.Unlock()
		return p, ok
	}
	m.mu.Unlock()

	d, ok := m.byKind[kind]
	if !ok {
		return 0, false
	}
	return d.Progress()
}

// Detail returns the cached context text of kind, such as a countdown.
func (m *Monitor) Detail(kind source.Kind) string {
	m.mu.Lock()
	if m.mock != nil {
		s := m.mock.Details[kind]
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	d, ok := m.byKind[kind]
	if !ok {
		return ""
	}
	return d.Detail()
}

// States returns every detector's last completed state, for diagnostics.
func (m *Monitor) States() map[source.Kind]detector.ActivityState {
	out := make(map[source.Kind]detector.ActivityState, len(m.detectors))
	for _, d := range m.detectors {
		out[d.Kind()] = d.Activity()
	}
	return out
}
