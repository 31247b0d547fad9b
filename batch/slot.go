// Package batch implements per-worker batch-slot reservation: grouping
// ARCHIVE actions that share a hint tag onto the same worker for data
// locality, with idle/max expiry. This package knows nothing about workers
// or the registry -- it operates purely on Slot values and the global
// archive list handed to it, mirroring copytool/batch.c's
// batch_still_reserved/batch_find_slot/batch_slot_list functions. Owning
// which worker has which slots is package worker's job; cross-worker
// search order (breadth-first over connected workers) lives in package
// sched, which is the only caller that needs to iterate workers.
package batch

import (
	"github.com/cea-hpc/lhsm-coordinator/action"
)

// Slot is one per-worker batch reservation.
type Slot struct {
	Hint         string
	ExpireMaxNS  int64 // 0 = unlimited
	ExpireIdleNS int64 // 0 = unlimited
	Waiting      *action.List
	CurrentCount int // dispatched-this-reply counter, reset per RECV
}

// NewSlot returns a free (unreserved) slot with its own waiting list.
func NewSlot() *Slot {
	return &Slot{Waiting: action.NewList()}
}

// StillReserved reports whether s is still holding its hint: the max
// deadline (if set) must not have passed, and either the idle deadline
// hasn't passed or the waiting list is non-empty. Mirrors
// batch_still_reserved.
func (s *Slot) StillReserved(nowNS int64) bool {
	if s.ExpireMaxNS != 0 && s.ExpireMaxNS < nowNS {
		return false
	}
	if s.ExpireIdleNS != 0 && s.ExpireIdleNS < nowNS && s.Waiting.Empty() {
		return false
	}
	return true
}

// Free reports whether the slot has no hint at all (never allocated, or
// released).
func (s *Slot) Free() bool { return s.Hint == "" }

// Release clears the slot's hint and deadlines without touching its
// waiting list; callers are expected to have already drained/spliced the
// waiting list elsewhere.
func (s *Slot) Release() {
	s.Hint = ""
	s.ExpireMaxNS = 0
	s.ExpireIdleNS = 0
	s.CurrentCount = 0
}

// FindSlot returns the slot among slots whose hint equals the given hint,
// or nil. Mirrors batch_find_slot; does not check deadlines.
func FindSlot(slots []*Slot, hint string) *Slot {
	for _, s := range slots {
		if s.Hint != "" && s.Hint == hint {
			return s
		}
	}
	return nil
}

// Allocate reserves s for the given node's hint (if fresh is true, i.e. a
// newly-claimed slot) and refreshes the idle deadline, returning the
// waiting list to enqueue into. Mirrors batch_slot_list: when fresh is
// true the hint and max deadline are (re)set; the idle deadline is always
// refreshed since any append is itself activity.
func (s *Slot) Allocate(hint string, nowNS int64, idleNS, maxNS int64, fresh bool) *action.List {
	if fresh {
		s.Hint = hint
		if maxNS != 0 {
			s.ExpireMaxNS = nowNS + maxNS
		} else {
			s.ExpireMaxNS = 0
		}
	}
	if idleNS != 0 {
		s.ExpireIdleNS = nowNS + idleNS
	} else {
		s.ExpireIdleNS = 0
	}
	return s.Waiting
}

// PerSlotCap divides a per-reply ARCHIVE cap evenly across n batch slots,
// rounding up so no single slot starves the others. cap < 0 (unlimited)
// and n <= 0 both pass through as -1 (unlimited).
func PerSlotCap(cap int, n int) int {
	if cap < 0 || n <= 0 {
		return -1
	}
	return (cap + n - 1) / n
}
