package monitor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tiroq/beacon/internal/detector"
	"github.com/tiroq/beacon/internal/source"
)

// reading is a probe value the test changes between ticks.
type reading struct {
	mu      sync.Mutex
	value   float64
	matched bool
}

func (r *reading) set(v float64, matched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value, r.matched = v, matched
}

func (r *reading) numeric(ctx context.Context) (detector.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return detector.Observation{Value: detector.Value(r.value)}, nil
}

func (r *reading) boolean(ctx context.Context) (detector.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return detector.Observation{Matched: r.matched}, nil
}

func TestEndToEndScenario(t *testing.T) {
	s := newSettings() // low=10 high=20
	var ra, rb reading
	a := detector.NewGuarded(source.Xcode, detector.CheckFunc(ra.numeric), s)
	b := detector.NewGuarded(source.ClaudeCode, detector.CheckFunc(rb.boolean), s)
	m := New([]detector.Detector{b, a}, s)
	ctx := context.Background()

	settle := func() {
		a.Wait()
		b.Wait()
	}
	// step feeds one set of readings: checks dispatched by the first tick
	// complete before the second tick builds the snapshot.
	step := func(av float64, bm bool) Snapshot {
		settle()
		ra.set(av, false)
		rb.set(0, bm)
		m.Tick(ctx)
		settle()
		return m.Tick(ctx)
	}

	assert.Empty(t, step(5, false).Active, "tick 1")
	assert.Equal(t, []source.Kind{source.Xcode, source.ClaudeCode}, step(25, true).Active, "tick 2")

	settle()
	assert.True(t, m.Dismiss(source.Xcode))
	assert.Equal(t, []source.Kind{source.ClaudeCode}, step(25, true).Active, "tick 3")

	assert.Equal(t, []source.Kind{source.ClaudeCode}, step(5, true).Active, "tick 4")
	assert.Equal(t, []source.Kind{source.Xcode, source.ClaudeCode}, step(25, true).Active, "tick 5")
}

func TestSnapshotIndependentOfCompletionOrder(t *testing.T) {
	s := newSettings()
	gates := map[source.Kind]chan struct{}{
		source.ClaudeCode: make(chan struct{}),
		source.Xcode:      make(chan struct{}),
		source.Downloads:  make(chan struct{}),
	}
	var dets []*detector.Guarded
	for _, k := range []source.Kind{source.Downloads, source.Xcode, source.ClaudeCode} {
		gate := gates[k]
		numeric := k.Category().Numeric()
		dets = append(dets, detector.NewGuarded(k, detector.CheckFunc(func(ctx context.Context) (detector.Observation, error) {
			<-gate
			if numeric {
				return detector.Observation{Value: detector.Value(100)}, nil
			}
			return detector.Observation{Matched: true}, nil
		}), s))
	}
	m := New(detector.Detectors(dets), s)

	m.Tick(context.Background())
	close(gates[source.Downloads])
	dets[0].Wait()
	close(gates[source.ClaudeCode])
	dets[2].Wait()
	close(gates[source.Xcode])
	dets[1].Wait()

	snap := m.Tick(context.Background())
	assert.Equal(t, []source.Kind{source.ClaudeCode, source.Xcode, source.Downloads}, snap.Active)
}
