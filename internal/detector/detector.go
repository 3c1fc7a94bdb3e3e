// Package detector implements the per-source activity detectors.
//
// Every source is served by one Guarded detector wrapping a Check. Poll never
// blocks: it starts the check in the background unless one is already in
// flight, and the result is folded into the detector's ActivityState when
// the check completes. A check that fails or outlives its timeout leaves the
// state untouched, and a timed-out check that ignores its context still
// blocks the next dispatch until it returns.
package detector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tiroq/beacon/internal/logging"
	"github.com/tiroq/beacon/internal/source"
	"github.com/tiroq/beacon/internal/threshold"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// ActivityState is the last completed evaluation of one source.
type ActivityState struct {
	Active        bool      `json:"active"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	LastRawValue  *float64  `json:"last_raw_value,omitempty"` // numeric reading, or 1/0 for boolean sources

	// Numeric sources count evaluated states, boolean sources count raw
	// readings (the streak debounce consumes them).
	ConsecutiveIdleTicks   uint32 `json:"consecutive_idle_ticks"`
	ConsecutiveActiveTicks uint32 `json:"consecutive_active_ticks"`

	// Activation increments on every idle->active transition.
	Activation  uint64    `json:"activation"`
	ActiveSince time.Time `json:"active_since,omitempty"`
}

// Observation is what a Check learned. Numeric checks set Value, boolean
// checks set Matched.
type Observation struct {
	Value    *float64
	Matched  bool
	Progress *float64 // 0..1, nil when indeterminate
	Detail   string
}

// Value is a helper for building numeric observations.
func Value(v float64) *float64 { return &v }

// Check probes one external source. Implementations must honour ctx.
type Check interface {
	Run(ctx context.Context) (Observation, error)
}

// CheckFunc adapts a function to Check.
type CheckFunc func(ctx context.Context) (Observation, error)

// Run calls f.
func (f CheckFunc) Run(ctx context.Context) (Observation, error) { return f(ctx) }

// Settings is the live configuration a detector reads when it evaluates a
// completed check.
type Settings interface {
	Policy(kind source.Kind) threshold.Policy
	Streak(kind source.Kind) threshold.Streak
	Debug(kind source.Kind) bool
}

// Detector is the contract the monitor drives.
type Detector interface {
	Kind() source.Kind
	// Poll dispatches a check unless one is in flight and reports whether it
	// did. It never blocks on the check itself.
	Poll(ctx context.Context) bool
	Activity() ActivityState
	Progress() (float64, bool)
	Detail() string
}

// Guarded is the Detector implementation: a Check plus the in-flight guard,
// the timeout and the evaluation rule for its source category.
type Guarded struct {
	kind     source.Kind
	numeric  bool
	check    Check
	settings Settings
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger

	inFlight atomic.Bool
	checks   sync.WaitGroup

	mu       sync.RWMutex
	state    ActivityState
	progress *float64
	detail   string
}

// Option configures a Guarded detector.
type Option func(*Guarded)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithClock sets the time source used for LastCheckedAt.
func WithClock(now func() time.Time) Option {
	return func(g *Guarded) { g.now = now }
}

// WithLogger sets the logger used when the source's debug flag is on.
func WithLogger(log *zap.Logger) Option {
	return func(g *Guarded) { g.log = log }
}

// NewGuarded wraps check for kind.
func NewGuarded(kind source.Kind, check Check, settings Settings, opts ...Option) *Guarded {
	g := &Guarded{
		kind:     kind,
		numeric:  kind.Category().Numeric(),
		check:    check,
		settings: settings,
		timeout:  DefaultTimeout,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.Named(kind.String())
	return g
}

// Kind implements Detector.
func (g *Guarded) Kind() source.Kind { return g.kind }

// Poll implements Detector. The check runs detached from ctx cancellation so
// a stop request never kills a helper process midway; only the timeout does.
func (g *Guarded) Poll(ctx context.Context) bool {
	if !g.inFlight.CompareAndSwap(false, true) {
		return false
	}
	g.checks.Add(1)
	go g.run(context.WithoutCancel(ctx))
	return true
}

// InFlight reports whether a check is currently running.
func (g *Guarded) InFlight() bool { return g.inFlight.Load() }

// Wait blocks until the current check, if any, has been settled. A check
// that timed out counts as settled even while its goroutine is still
// running; InFlight stays true until it returns.
func (g *Guarded) Wait() { g.checks.Wait() }

type result struct {
	obs Observation
	err error
}

func (g *Guarded) run(parent context.Context) {
	defer g.checks.Done()

	ctx, cancel := context.WithTimeout(parent, g.timeout)

	// The first side to claim settled owns the outcome. A check abandoned at
	// the timeout keeps the guard held until it actually returns.
	var settled atomic.Bool
	done := make(chan result, 1)
	go func() {
		defer cancel()
		r := g.runCheck(ctx)
		if settled.CompareAndSwap(false, true) {
			done <- r
			return
		}
		g.inFlight.Store(false)
		g.debug("abandoned check returned", zap.Error(r.err))
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		if settled.CompareAndSwap(false, true) {
			g.debug("check timed out", zap.Duration("timeout", g.timeout))
			return
		}
		r = <-done
	}
	defer g.inFlight.Store(false)

	if r.err != nil {
		g.debug("check failed", zap.Error(r.err))
		return
	}
	if g.numeric && r.obs.Value == nil {
		g.debug("check returned no value")
		return
	}
	g.apply(r.obs)
}

func (g *Guarded) runCheck(ctx context.Context) (r result) {
	defer func() {
		if p := recover(); p != nil {
			r = result{err: fmt.Errorf("check panicked: %v", p)}
		}
	}()
	obs, err := g.check.Run(ctx)
	return result{obs: obs, err: err}
}

func (g *Guarded) apply(obs Observation) {
	now := g.now()

	g.mu.Lock()
	s := g.state
	s.LastCheckedAt = now

	var next bool
	if g.numeric {
		raw := *obs.Value
		s.LastRawValue = &raw
		next = g.settings.Policy(g.kind).Next(s.Active, raw)
		countTicks(&s, next)
	} else {
		raw := 0.0
		if obs.Matched {
			raw = 1
		}
		s.LastRawValue = &raw
		countTicks(&s, obs.Matched)
		next = g.settings.Streak(g.kind).Next(s.Active, obs.Matched, s.ConsecutiveActiveTicks, s.ConsecutiveIdleTicks)
	}

	switch {
	case next && !s.Active:
		s.Activation++
		s.ActiveSince = now
	case !next:
		s.ActiveSince = time.Time{}
	}
	changed := next != s.Active
	s.Active = next

	g.state = s
	g.progress = obs.Progress
	g.detail = obs.Detail
	g.mu.Unlock()

	g.debug("evaluated",
		zap.Float64(logging.FieldRaw, *s.LastRawValue),
		zap.Bool(logging.FieldActive, next),
		zap.String("detail", logging.Redact(obs.Detail)))
	if changed {
		g.debug("activity changed", zap.Bool(logging.FieldActive, next), zap.Uint64("activation", s.Activation))
	}
}

func countTicks(s *ActivityState, positive bool) {
	if positive {
		s.ConsecutiveActiveTicks++
		s.ConsecutiveIdleTicks = 0
	} else {
		s.ConsecutiveIdleTicks++
		s.ConsecutiveActiveTicks = 0
	}
}

func (g *Guarded) debug(msg string, fields ...zap.Field) {
	if g.settings == nil || !g.settings.Debug(g.kind) {
		return
	}
	g.log.Info(msg, fields...)
}

// Activity implements Detector.
func (g *Guarded) Activity() ActivityState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := g.state
	if s.LastRawValue != nil {
		v := *s.LastRawValue
		s.LastRawValue = &v
	}
	return s
}

// Progress implements Detector. It returns the value cached by the last
// completed check, clamped to [0, 1].
func (g *Guarded) Progress() (float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.progress == nil {
		return 0, false
	}
	p := *g.progress
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p, true
}

// Detail implements Detector.
func (g *Guarded) Detail() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detail
}
