package detector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiroq/beacon/internal/source"
	"github.com/tiroq/beacon/internal/threshold"
)

type fakeSettings struct {
	policy threshold.Policy
	streak threshold.Streak
}

func (f fakeSettings) Policy(source.Kind) threshold.Policy { return f.policy }
func (f fakeSettings) Streak(source.Kind) threshold.Streak { return f.streak }
func (f fakeSettings) Debug(source.Kind) bool              { return true }

var testSettings = fakeSettings{
	policy: threshold.Policy{Low: 10, High: 20},
	streak: threshold.DefaultStreak,
}

// sequence returns a check yielding values in order.
func sequence(values ...float64) Check {
	var i atomic.Int32
	return CheckFunc(func(ctx context.Context) (Observation, error) {
		n := int(i.Add(1)) - 1
		return Observation{Value: Value(values[n])}, nil
	})
}

func pollAndWait(t *testing.T, g *Guarded) {
	t.Helper()
	require.True(t, g.Poll(context.Background()))
	g.Wait()
}

func TestGuardedHysteresis(t *testing.T) {
	g := NewGuarded(source.Xcode, sequence(5, 15, 25, 15, 5), testSettings)

	var got []bool
	for i := 0; i < 5; i++ {
		pollAndWait(t, g)
		got = append(got, g.Activity().Active)
	}
	assert.Equal(t, []bool{false, false, true, true, false}, got)

	s := g.Activity()
	require.NotNil(t, s.LastRawValue)
	assert.Equal(t, 5.0, *s.LastRawValue)
	assert.Equal(t, uint64(1), s.Activation)
	assert.Equal(t, uint32(1), s.ConsecutiveIdleTicks)
	assert.True(t, s.ActiveSince.IsZero())
}

func TestGuardedStartsInactive(t *testing.T) {
	g := NewGuarded(source.ClaudeCode, CheckFunc(func(ctx context.Context) (Observation, error) {
		return Observation{Matched: true}, nil
	}), testSettings)

	s := g.Activity()
	assert.False(t, s.Active)
	assert.True(t, s.LastCheckedAt.IsZero())
	_, ok := g.Progress()
	assert.False(t, ok)
}

func TestGuardedNoOverlap(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	g := NewGuarded(source.ClaudeCode, CheckFunc(func(ctx context.Context) (Observation, error) {
		runs.Add(1)
		<-release
		return Observation{Matched: true}, nil
	}), testSettings, WithTimeout(time.Minute))

	assert.True(t, g.Poll(context.Background()))
	assert.False(t, g.Poll(context.Background()))
	assert.False(t, g.Poll(context.Background()))
	assert.True(t, g.InFlight())

	close(release)
	g.Wait()
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, g.InFlight())
	assert.True(t, g.Activity().Active)

	assert.True(t, g.Poll(context.Background()))
	g.Wait()
	assert.Equal(t, int32(2), runs.Load())
}

func TestGuardedFailStaticOnTimeout(t *testing.T) {
	var calls atomic.Int32
	hang := make(chan struct{})
	g := NewGuarded(source.Xcode, CheckFunc(func(ctx context.Context) (Observation, error) {
		if calls.Add(1) == 1 {
			return Observation{Value: Value(50)}, nil
		}
		<-hang // ignores ctx on purpose
		return Observation{Value: Value(0)}, nil
	}), testSettings, WithTimeout(20*time.Millisecond))

	pollAndWait(t, g)
	before := g.Activity()
	require.True(t, before.Active)

	pollAndWait(t, g)
	assert.Equal(t, before, g.Activity())

	close(hang)
	assert.Eventually(t, func() bool { return !g.InFlight() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, before, g.Activity(), "late result is discarded")
}

func TestGuardedTimedOutCheckHoldsGuard(t *testing.T) {
	var running, peak, calls atomic.Int32
	hang := make(chan struct{})
	g := NewGuarded(source.Xcode, CheckFunc(func(ctx context.Context) (Observation, error) {
		calls.Add(1)
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-hang
		return Observation{Value: Value(0)}, nil
	}), testSettings, WithTimeout(10*time.Millisecond))

	require.True(t, g.Poll(context.Background()))
	g.Wait()
	for i := 0; i < 4; i++ {
		time.Sleep(15 * time.Millisecond)
		assert.False(t, g.Poll(context.Background()), "poll %d while the check hangs", i)
	}
	assert.True(t, g.InFlight())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), peak.Load())

	close(hang)
	require.Eventually(t, func() bool { return !g.InFlight() }, time.Second, 5*time.Millisecond)
	assert.True(t, g.Poll(context.Background()))
	g.Wait()
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestGuardedFailStaticOnError(t *testing.T) {
	var calls atomic.Int32
	g := NewGuarded(source.ClaudeCode, CheckFunc(func(ctx context.Context) (Observation, error) {
		if calls.Add(1) == 1 {
			return Observation{Matched: true, Detail: "thinking"}, nil
		}
		return Observation{}, errors.New("osascript: not authorized")
	}), testSettings)

	pollAndWait(t, g)
	before := g.Activity()
	for i := 0; i < 3; i++ {
		pollAndWait(t, g)
	}
	assert.Equal(t, before, g.Activity())
	assert.Equal(t, "thinking", g.Detail())
}

func TestGuardedNumericWithoutValueIsIgnored(t *testing.T) {
	g := NewGuarded(source.Xcode, CheckFunc(func(ctx context.Context) (Observation, error) {
		return Observation{Matched: true}, nil
	}), testSettings)
	pollAndWait(t, g)
	assert.True(t, g.Activity().LastCheckedAt.IsZero())
}

func TestGuardedRecoversPanics(t *testing.T) {
	g := NewGuarded(source.ClaudeCode, CheckFunc(func(ctx context.Context) (Observation, error) {
		panic("boom")
	}), testSettings)
	pollAndWait(t, g)
	assert.False(t, g.Activity().Active)
	assert.False(t, g.InFlight())
}

func TestGuardedStopDoesNotCancelCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	g := NewGuarded(source.ClaudeCode, CheckFunc(func(ctx context.Context) (Observation, error) {
		select {
		case <-release:
			return Observation{Matched: true}, nil
		case <-ctx.Done():
			return Observation{}, ctx.Err()
		}
	}), testSettings, WithTimeout(time.Minute))

	require.True(t, g.Poll(ctx))
	cancel()
	close(release)
	g.Wait()
	assert.True(t, g.Activity().Active)
}

func TestGuardedActivationCounter(t *testing.T) {
	clock := time.Unix(100, 0)
	readings := []bool{true, true, false, true}
	var i atomic.Int32
	g := NewGuarded(source.ClaudeCode, CheckFunc(func(ctx context.Context) (Observation, error) {
		return Observation{Matched: readings[i.Add(1)-1]}, nil
	}), testSettings, WithClock(func() time.Time { return clock }))

	pollAndWait(t, g)
	assert.Equal(t, uint64(1), g.Activity().Activation)
	assert.Equal(t, clock, g.Activity().ActiveSince)

	clock = clock.Add(time.Second)
	pollAndWait(t, g)
	assert.Equal(t, uint64(1), g.Activity().Activation)
	assert.Equal(t, time.Unix(100, 0), g.Activity().ActiveSince)

	pollAndWait(t, g)
	assert.False(t, g.Activity().Active)

	clock = clock.Add(time.Second)
	pollAndWait(t, g)
	assert.Equal(t, uint64(2), g.Activity().Activation)
	assert.Equal(t, clock, g.Activity().ActiveSince)
}

func TestGuardedStreakDebounce(t *testing.T) {
	settings := fakeSettings{streak: threshold.Streak{Start: 2, Stop: 2}}
	readings := []bool{true, false, true, true, false, true, false, false}
	var i atomic.Int32
	g := NewGuarded(source.Aider, CheckFunc(func(ctx context.Context) (Observation, error) {
		return Observation{Matched: readings[i.Add(1)-1]}, nil
	}), settings)

	var got []bool
	for range readings {
		pollAndWait(t, g)
		got = append(got, g.Activity().Active)
	}
	assert.Equal(t, []bool{false, false, false, true, true, true, true, false}, got)
}

func TestGuardedProgressIsCachedAndClamped(t *testing.T) {
	var calls atomic.Int32
	g := NewGuarded(source.Homebrew, CheckFunc(func(ctx context.Context) (Observation, error) {
		calls.Add(1)
		return Observation{Matched: true, Progress: Value(1.7)}, nil
	}), testSettings)
	pollAndWait(t, g)

	for i := 0; i < 3; i++ {
		p, ok := g.Progress()
		require.True(t, ok)
		assert.Equal(t, 1.0, p)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestActivityReturnsCopy(t *testing.T) {
	g := NewGuarded(source.Xcode, sequence(50), testSettings)
	pollAndWait(t, g)

	s := g.Activity()
	*s.LastRawValue = -1
	assert.Equal(t, 50.0, *g.Activity().LastRawValue)
}
