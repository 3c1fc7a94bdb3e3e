// Package threshold turns raw probe readings into stable on/off activity.
//
// Numeric signals (CPU percent, event rates, file counts) go through a
// two-band Policy. Boolean signals (pattern matches, running apps) go through
// a Streak, which requires a number of consecutive agreeing checks before the
// state flips.
package threshold

import "fmt"

// Policy is a low/high hysteresis band.
type Policy struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Validate rejects inverted bands. Use it at the configuration boundary.
func (p Policy) Validate() error {
	if p.Low > p.High {
		return fmt.Errorf("low (%g) must be <= high (%g)", p.Low, p.High)
	}
	return nil
}

// Normalize clamps High up to Low so an inverted band that slipped past
// validation still evaluates as a single cutoff.
func (p Policy) Normalize() Policy {
	if p.High < p.Low {
		p.High = p.Low
	}
	return p
}

// Next returns the activity after observing raw while currently active.
// An inactive source turns on only above High and an active source turns off
// only below Low; readings inside the band keep the current state.
func (p Policy) Next(active bool, raw float64) bool {
	p = p.Normalize()
	if active {
		return raw >= p.Low
	}
	return raw > p.High
}

// Degenerate reports whether the band has no gap.
func (p Policy) Degenerate() bool {
	return p.Low == p.High
}

func (p Policy) String() string {
	return fmt.Sprintf("%g/%g", p.Low, p.High)
}

// Streak debounces a boolean signal: Start consecutive positive checks turn
// the source on, Stop consecutive negative checks turn it off.
type Streak struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// DefaultStreak reacts on the first check in both directions.
var DefaultStreak = Streak{Start: 1, Stop: 1}

// Validate checks that both counts are at least one.
func (s Streak) Validate() error {
	if s.Start < 1 {
		return fmt.Errorf("start streak must be >= 1, got %d", s.Start)
	}
	if s.Stop < 1 {
		return fmt.Errorf("stop streak must be >= 1, got %d", s.Stop)
	}
	return nil
}

// Next returns the activity given the current state, the latest boolean
// reading and the streak counts that already include that reading.
func (s Streak) Next(active, positive bool, activeTicks, idleTicks uint32) bool {
	if s.Start < 1 {
		s.Start = 1
	}
	if s.Stop < 1 {
		s.Stop = 1
	}
	if positive {
		return active || activeTicks >= uint32(s.Start)
	}
	if active && idleTicks < uint32(s.Stop) {
		return true
	}
	return false
}
