package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/beacon/internal/detector"
	"github.com/tiroq/beacon/internal/source"
	"github.com/tiroq/beacon/internal/threshold"
)

type fakeDetector struct {
	kind source.Kind

	mu       sync.Mutex
	state    detector.ActivityState
	progress *float64
	detail   string
	polls    int
	panics   bool
}

func newFake(kind source.Kind) *fakeDetector { return &fakeDetector{kind: kind} }

func (f *fakeDetector) Kind() source.Kind { return f.kind }

func (f *fakeDetector) Poll(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.panics {
		panic("probe exploded")
	}
	return true
}

func (f *fakeDetector) Activity() detector.ActivityState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDetector) Progress() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progress == nil {
		return 0, false
	}
	return *f.progress, true
}

func (f *fakeDetector) Detail() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detail
}

func (f *fakeDetector) set(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if active && !f.state.Active {
		f.state.Activation++
	}
	f.state.Active = active
}

func (f *fakeDetector) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type settings struct {
	mu       sync.Mutex
	disabled map[source.Kind]bool
	policy   threshold.Policy
}

func newSettings() *settings {
	return &settings{disabled: map[source.Kind]bool{}, policy: threshold.Policy{Low: 10, High: 20}}
}

func (s *settings) Enabled(k source.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled[k]
}

func (s *settings) disable(k source.Kind, off bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[k] = off
}

func (s *settings) Policy(source.Kind) threshold.Policy { return s.policy }
func (s *settings) Streak(source.Kind) threshold.Streak { return threshold.DefaultStreak }
func (s *settings) Debug(source.Kind) bool              { return false }

func TestTickOrdersByDeclaration(t *testing.T) {
	cal, claude, xcode := newFake(source.Calendar), newFake(source.ClaudeCode), newFake(source.Xcode)
	m := New([]detector.Detector{cal, xcode, claude}, newSettings())

	xcode.set(true)
	cal.set(true)
	claude.set(true)
	for i := 0; i < 3; i++ {
		snap := m.Tick(context.Background())
		assert.Equal(t, []source.Kind{source.ClaudeCode, source.Xcode, source.Calendar}, snap.Active)
	}
}

func TestTickEmptyWhenIdle(t *testing.T) {
	m := New([]detector.Detector{newFake(source.Xcode)}, newSettings())
	snap := m.Tick(context.Background())
	assert.Empty(t, snap.Active)
	assert.Equal(t, uint64(1), snap.Seq)
}

func TestDuplicateDetectorIgnored(t *testing.T) {
	first, second := newFake(source.Xcode), newFake(source.Xcode)
	second.set(true)
	m := New([]detector.Detector{first, second}, newSettings())
	assert.Empty(t, m.Tick(context.Background()).Active)
	assert.Zero(t, second.pollCount())
}

func TestDisabledSourcesAreSkipped(t *testing.T) {
	a, b := newFake(source.Xcode), newFake(source.Docker)
	a.set(true)
	b.set(true)
	s := newSettings()
	s.disable(source.Docker, true)
	m := New([]detector.Detector{a, b}, s)

	snap := m.Tick(context.Background())
	assert.Equal(t, []source.Kind{source.Xcode}, snap.Active)
	assert.Equal(t, 1, a.pollCount())
	assert.Equal(t, 0, b.pollCount())

	s.disable(source.Docker, false)
	snap = m.Tick(context.Background())
	assert.Equal(t, []source.Kind{source.Xcode, source.Docker}, snap.Active)
	assert.Equal(t, 1, b.pollCount())
}

func TestDismissalIsSingleShot(t *testing.T) {
	a := newFake(source.Xcode)
	m := New([]detector.Detector{a}, newSettings())
	ctx := context.Background()

	assert.False(t, m.Dismiss(source.Xcode), "idle source cannot be dismissed")
	assert.False(t, m.Dismiss(source.Docker), "unknown source cannot be dismissed")

	a.set(true)
	assert.True(t, m.Tick(ctx).Contains(source.Xcode))

	require.True(t, m.Dismiss(source.Xcode))
	assert.Equal(t, []source.Kind{source.Xcode}, m.Dismissed())
	assert.Empty(t, m.Tick(ctx).Active)
	assert.Empty(t, m.Tick(ctx).Active)

	a.set(false)
	assert.Empty(t, m.Tick(ctx).Active)
	assert.Empty(t, m.Dismissed())

	a.set(true)
	assert.Equal(t, []source.Kind{source.Xcode}, m.Tick(ctx).Active)
}

func TestDismissalClearedByReactivationBetweenTicks(t *testing.T) {
	a := newFake(source.Xcode)
	m := New([]detector.Detector{a}, newSettings())
	ctx := context.Background()

	a.set(true)
	m.Tick(ctx)
	require.True(t, m.Dismiss(source.Xcode))
	assert.Empty(t, m.Tick(ctx).Active)

	a.set(false)
	a.set(true)
	assert.Equal(t, []source.Kind{source.Xcode}, m.Tick(ctx).Active)
}

func TestDismissTargetsShownActivation(t *testing.T) {
	a := newFake(source.Xcode)
	m := New([]detector.Detector{a}, newSettings())
	ctx := context.Background()

	require.Empty(t, m.Tick(ctx).Active)
	a.set(true)
	assert.False(t, m.Dismiss(source.Xcode), "activation not yet shown")
	assert.Equal(t, []source.Kind{source.Xcode}, m.Tick(ctx).Active)

	// A fresh activation lands between ticks; the user only saw the first.
	a.set(false)
	a.set(true)
	require.True(t, m.Dismiss(source.Xcode))
	assert.Equal(t, []source.Kind{source.Xcode}, m.Tick(ctx).Active)
	assert.Empty(t, m.Dismissed())
}

func TestSubscribeReceivesEverySnapshot(t *testing.T) {
	a := newFake(source.Xcode)
	m := New([]detector.Detector{a}, newSettings())

	var got []Snapshot
	cancel := m.Subscribe(func(s Snapshot) { got = append(got, s) })

	m.Tick(context.Background())
	a.set(true)
	m.Tick(context.Background())
	cancel()
	cancel()
	m.Tick(context.Background())

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Empty(t, got[0].Active)
	assert.Equal(t, []source.Kind{source.Xcode}, got[1].Active)
}

func TestSubscribersGetCopies(t *testing.T) {
	a := newFake(source.Homebrew)
	a.set(true)
	a.progress = detector.Value(0.5)
	m := New([]detector.Detector{a}, newSettings())

	m.Subscribe(func(s Snapshot) {
		s.Active[0] = source.Calendar
		s.Progress[source.Homebrew] = 9
	})
	m.Tick(context.Background())

	cur := m.Current()
	assert.Equal(t, []source.Kind{source.Homebrew}, cur.Active)
	assert.Equal(t, 0.5, cur.Progress[source.Homebrew])
}

func TestUpdatesKeepsLatest(t *testing.T) {
	m := New([]detector.Detector{newFake(source.Xcode)}, newSettings())
	ch, cancel := m.Updates()
	defer cancel()

	for i := 0; i < 5; i++ {
		m.Tick(context.Background())
	}
	select {
	case s := <-ch:
		assert.Equal(t, uint64(5), s.Seq)
	default:
		t.Fatal("no snapshot buffered")
	}
	select {
	case s := <-ch:
		t.Fatalf("unexpected extra snapshot %d", s.Seq)
	default:
	}
}

func TestStopSuppressesPublication(t *testing.T) {
	a := newFake(source.Xcode)
	m := New([]detector.Detector{a}, newSettings(), WithInterval(time.Hour))

	var published atomic.Int32
	m.Subscribe(func(Snapshot) { published.Add(1) })

	m.Start(context.Background())
	require.Eventually(t, func() bool { return published.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, m.Running())

	m.Stop()
	assert.False(t, m.Running())
	before := m.Current()

	a.set(true)
	m.Tick(context.Background())
	assert.Equal(t, int32(1), published.Load())
	assert.Equal(t, before, m.Current())

	m.Stop()
}

func TestStartRunsTicks(t *testing.T) {
	m := New([]detector.Detector{newFake(source.Xcode)}, newSettings(), WithInterval(2*time.Millisecond))
	ch, cancel := m.Updates()
	defer cancel()

	m.Start(context.Background())
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		select {
		case s := <-ch:
			return s.Seq >= 3
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
}

func TestRestartAfterContextCancel(t *testing.T) {
	m := New([]detector.Detector{newFake(source.Xcode)}, newSettings(), WithInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return !m.Running() }, time.Second, time.Millisecond)

	m.Start(context.Background())
	assert.True(t, m.Running())
	m.Stop()
}

func TestMockOverridesRealSnapshots(t *testing.T) {
	a := newFake(source.Xcode)
	a.set(true)
	a.progress = detector.Value(0.1)
	m := New([]detector.Detector{a}, newSettings())

	var got []Snapshot
	m.Subscribe(func(s Snapshot) { got = append(got, s) })

	m.SetMock(MockSnapshot([]source.Kind{source.Calendar, source.Homebrew, source.Homebrew},
		map[source.Kind]float64{source.Homebrew: 0.75}))
	require.Len(t, got, 1)
	assert.True(t, got[0].Mock)
	assert.Equal(t, []source.Kind{source.Homebrew, source.Calendar}, got[0].Active)
	assert.True(t, m.Mocking())

	realSnap := m.Tick(context.Background())
	assert.Equal(t, []source.Kind{source.Xcode}, realSnap.Active)
	assert.Len(t, got, 1, "real snapshot must not reach subscribers in mock mode")
	assert.True(t, m.Current().Mock)

	p, ok := m.Progress(source.Homebrew)
	assert.True(t, ok)
	assert.Equal(t, 0.75, p)
	_, ok = m.Progress(source.Xcode)
	assert.False(t, ok)

	m.ClearMock()
	require.Len(t, got, 2)
	assert.False(t, got[1].Mock)
	assert.Equal(t, []source.Kind{source.Xcode}, got[1].Active)
	p, ok = m.Progress(source.Xcode)
	assert.True(t, ok)
	assert.Equal(t, 0.1, p)

	m.ClearMock()
	assert.Len(t, got, 2)
}

func TestClearMockWhileStopped(t *testing.T) {
	a := newFake(source.Xcode)
	a.set(true)
	m := New([]detector.Detector{a}, newSettings())

	var published atomic.Int32
	m.Subscribe(func(Snapshot) { published.Add(1) })

	m.Tick(context.Background())
	m.Stop()
	m.SetMock(MockSnapshot([]source.Kind{source.Calendar}, nil))
	require.True(t, m.Current().Mock)
	require.Equal(t, int32(2), published.Load())

	a.set(false)
	m.Tick(context.Background())
	m.ClearMock()

	cur := m.Current()
	assert.False(t, m.Mocking())
	assert.False(t, cur.Mock)
	assert.Equal(t, []source.Kind{source.Xcode}, cur.Active, "last real snapshot published before the stop")
	assert.Equal(t, uint64(4), cur.Seq)
	assert.Equal(t, int32(2), published.Load())
}

func TestProgressAndDetailAreCached(t *testing.T) {
	a := newFake(source.Calendar)
	a.set(true)
	a.progress = detector.Value(0.4)
	a.detail = "Standup in 6m"
	m := New([]detector.Detector{a}, newSettings())

	snap := m.Tick(context.Background())
	assert.Equal(t, 0.4, snap.Progress[source.Calendar])
	assert.Equal(t, "Standup in 6m", snap.Details[source.Calendar])

	polls := a.pollCount()
	for i := 0; i < 3; i++ {
		p, ok := m.Progress(source.Calendar)
		assert.True(t, ok)
		assert.Equal(t, 0.4, p)
		assert.Equal(t, "Standup in 6m", m.Detail(source.Calendar))
	}
	assert.Equal(t, polls, a.pollCount(), "progress queries must not poll")

	_, ok := m.Progress(source.Docker)
	assert.False(t, ok)
	assert.Empty(t, m.Detail(source.Docker))
}

func TestInactiveSourcesCarryNoProgress(t *testing.T) {
	a := newFake(source.Homebrew)
	a.progress = detector.Value(0.9)
	m := New([]detector.Detector{a}, newSettings())
	snap := m.Tick(context.Background())
	assert.Empty(t, snap.Progress)
}

func TestPanickingDetectorDoesNotStallTick(t *testing.T) {
	bad, good := newFake(source.ClaudeCode), newFake(source.Xcode)
	bad.panics = true
	good.set(true)
	m := New([]detector.Detector{bad, good}, newSettings())

	snap := m.Tick(context.Background())
	assert.Equal(t, []source.Kind{source.Xcode}, snap.Active)
	assert.Equal(t, 1, good.pollCount())
}

func TestSlowDetectorDoesNotBlockTick(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := detector.NewGuarded(source.ClaudeCode, detector.CheckFunc(func(ctx context.Context) (detector.Observation, error) {
		<-release
		return detector.Observation{Matched: true}, nil
	}), newSettings(), detector.WithTimeout(time.Hour))
	fast := newFake(source.Xcode)
	fast.set(true)
	m := New([]detector.Detector{slow, fast}, newSettings())

	done := make(chan Snapshot, 1)
	go func() { done <- m.Tick(context.Background()) }()
	select {
	case snap := <-done:
		assert.Equal(t, []source.Kind{source.Xcode}, snap.Active)
	case <-time.After(time.Second):
		t.Fatal("tick blocked on a slow detector")
	}
	assert.True(t, slow.InFlight())
}

func TestSessionID(t *testing.T) {
	m := New(nil, newSettings())
	assert.Len(t, m.Session(), 36)
	assert.Equal(t, "fixed", New(nil, newSettings(), WithSession("fixed")).Session())
}
