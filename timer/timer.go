// Package timer implements the coordinator's single deadline timer:
// one monotonically-adjusted wakeup firing on the nearest deadline across
// its registered sources (package coordinator registers grace and batch
// expiry; there is no report-flush source), mirroring copytool/timer.c's
// timerfd-based
// rearm logic (O(workers x slots) rescan per rearm, accepted as adequate
// for small fleets per the design note on timer coalescing).
package timer

import "time"

// Source reports the next deadline it knows about, in nanoseconds since
// epoch, and whether one is pending. The coordinator registers
// worker.Registry's grace expiry and its own batch-slot expiry; the
// reporting writer has no flush schedule and is not a Source.
type Source interface {
	NextDeadlineNS() (deadline int64, ok bool)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (int64, bool)

func (f SourceFunc) NextDeadlineNS() (int64, bool) { return f() }

// Engine rearms a single time.Timer to fire at the nearest deadline
// across all registered sources, recomputing on every rearm call.
type Engine struct {
	sources []Source
	t       *time.Timer
	nowNS   func() int64
}

// New returns an Engine polling nowNS for the current time and the given
// sources for their next deadlines.
func New(nowNS func() int64, sources ...Source) *Engine {
	return &Engine{sources: sources, nowNS: nowNS}
}

// Next returns the earliest deadline across all sources and whether any
// source has one pending.
func (e *Engine) Next() (int64, bool) {
	var best int64
	found := false
	for _, s := range e.sources {
		d, ok := s.NextDeadlineNS()
		if !ok {
			continue
		}
		if !found || d < best {
			best = d
			found = true
		}
	}
	return best, found
}

// Rearm stops any pending timer and, if a deadline exists, arms a fresh
// one to fire at that deadline (clamped to immediate if already past).
// Returns the channel to select on, or nil if no deadline is pending.
func (e *Engine) Rearm() <-chan time.Time {
	if e.t != nil {
		e.t.Stop()
		e.t = nil
	}
	deadline, ok := e.Next()
	if !ok {
		return nil
	}
	d := time.Duration(deadline - e.nowNS())
	if d < 0 {
		d = 0
	}
	e.t = time.NewTimer(d)
	return e.t.C
}

// Stop releases the underlying timer, if any.
func (e *Engine) Stop() {
	if e.t != nil {
		e.t.Stop()
		e.t = nil
	}
}
