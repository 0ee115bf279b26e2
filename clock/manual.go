package clock

import "sync/atomic"

// Manual is a Clock a test can advance deterministically, so timing-gate
// assertions (start grace period, stop deadline, backoff cooldown) don't
// depend on real sleeps.
type Manual struct {
	ns atomic.Uint64
}

// NewManual returns a Manual clock starting at the given reading.
func NewManual(startNS uint64) *Manual {
	m := &Manual{}
	m.ns.Store(startNS)
	return m
}

// NowNS implements Clock.
func (m *Manual) NowNS() uint64 {
	return m.ns.Load()
}

// Advance moves the clock forward by the given nanosecond delta.
func (m *Manual) Advance(deltaNS uint64) {
	m.ns.Add(deltaNS)
}

// AdvanceSeconds is Advance expressed in (possibly fractional) seconds.
func (m *Manual) AdvanceSeconds(s float64) {
	m.Advance(FromSeconds(s))
}

// Set pins the clock to an absolute reading.
func (m *Manual) Set(ns uint64) {
	m.ns.Store(ns)
}
