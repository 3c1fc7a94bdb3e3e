package monitor

import (
	"maps"
	"slices"
	"time"

	"github.com/tiroq/beacon/internal/source"
)

// Snapshot is one published view of the active sources. Consumers receive
// their own copy and may keep or modify it.
type Snapshot struct {
	Seq      uint64                  `json:"seq"`
	At       time.Time               `json:"at"`
	Active   []source.Kind           `json:"active"`
	Progress map[source.Kind]float64 `json:"progress,omitempty"`
	Details  map[source.Kind]string  `json:"details,omitempty"`
	Mock     bool                    `json:"mock,omitempty"`
}

// Contains reports whether kind is active in s.
func (s Snapshot) Contains(kind source.Kind) bool {
	return slices.Contains(s.Active, kind)
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Active = slices.Clone(s.Active)
	c.Progress = maps.Clone(s.Progress)
	c.Details = maps.Clone(s.Details)
	return c
}

// SameSources reports whether s and o list the same active sources in the
// same order.
func (s Snapshot) SameSources(o Snapshot) bool {
	return slices.Equal(s.Active, o.Active)
}

// MockSnapshot builds a synthetic snapshot for demo mode. Kinds are put in
// declaration order and deduplicated.
func MockSnapshot(kinds []source.Kind, progress map[source.Kind]float64) Snapshot {
	active := slices.Clone(kinds)
	slices.Sort(active)
	active = slices.Compact(active)
	return Snapshot{Active: active, Progress: maps.Clone(progress), Mock: true}
}
