// Package sched implements the scheduler: binding queued actions to
// waiting workers under fairness, capacity, affinity, batching, and
// host-mapping constraints. Grounded on copytool/scheduler.c
// (ct_schedule_client, hsm_action_node_schedule, schedule_can_send) and
// copytool/batch.c (batch_reschedule_client).
//
// The REDESIGN FLAG removing the original "stop after 100 iterations"
// stuck-loop guard is implemented here: canSendArchive never leaves a
// node in the list it was examined from without either consuming it into
// the reply or relocating it via ScheduleNew, so the per-kind walk never
// revisits the same node twice.
package sched

import (
	"context"
	"math/rand"

	"github.com/OneOfOne/xxhash"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/batch"
	"github.com/cea-hpc/lhsm-coordinator/hostmap"
	"github.com/cea-hpc/lhsm-coordinator/locate"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// Scheduler implements action.Scheduler (ScheduleNew, consulted at
// enqueue time) and additionally exposes Dispatch, consulted when a
// worker sends RECV or becomes newly WAITING with pending work.
type Scheduler struct {
	Store    *action.Store
	Registry *worker.Registry
	HostMap  *hostmap.Map
	Locator  locate.Locator
	Fsname   string

	BatchSlots  int
	BatchIdleNS int64
	BatchMaxNS  int64

	// GroupHashEnabled turns on xxhash-based group routing for ARCHIVE
	// actions carrying a hint but not matched by any host-mapping rule.
	// The original C source uses DJB2; per the design note "a choice, not
	// a contract", this redesign uses xxhash for the same deterministic
	// purpose.
	GroupHashEnabled bool

	// Clock returns the current time in nanoseconds. Overridden in tests;
	// production wiring sets it to time.Now().UnixNano.
	Clock func() int64

	// Rand supplies the random index used for host-mapping tie-breaks and
	// the locator's fair-coin tie-break. Overridden in tests for
	// determinism.
	Rand *rand.Rand
}

var backgroundCtx = context.Background()

func (s *Scheduler) now() int64 {
	if s.Clock == nil {
		return 0
	}
	return s.Clock()
}

func (s *Scheduler) randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	if s.Rand == nil {
		return 0
	}
	return s.Rand.Intn(n)
}

// ScheduleNew implements action.Scheduler. Tie-break order: active batch
// match beats host mapping beats new batch slot beats backend locate.
func (s *Scheduler) ScheduleNew(n *action.Node) *action.List {
	now := s.now()

	if list := s.activeBatchMatch(n, now); list != nil {
		return list
	}
	if n.Kind == protocol.ActionArchive {
		if list := s.hostMappingMatch(n, now); list != nil {
			return list
		}
	}
	if list := s.newBatchSlot(n, now); list != nil {
		return list
	}
	if list := s.locatorMatch(n, now); list != nil {
		return list
	}
	return nil
}

// activeBatchMatch implements schedule_batch_slot_active: if any worker
// already has a reserved slot for this hint, route there; if the slot has
// expired but that worker has no other archive work waiting, reclaim the
// slot in place rather than losing the locality.
func (s *Scheduler) activeBatchMatch(n *action.Node, now int64) *action.List {
	if n.Kind != protocol.ActionArchive || n.Hint == "" || s.BatchSlots <= 0 {
		return nil
	}
	for _, w := range s.Registry.Ordered() {
		slot := batch.FindSlot(w.Batch, n.Hint)
		if slot == nil {
			continue
		}
		if slot.StillReserved(now) {
			return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, false)
		}
		if w.WaitingArchive.Empty() {
			return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, true)
		}
	}
	return nil
}

// hostMappingMatch implements schedule_host_mapping: try all configured
// hosts for a connected worker first, then a disconnected one, then
// synthesize a disconnected placeholder for the first configured host so
// the action waits rather than goes to the wrong worker.
func (s *Scheduler) hostMappingMatch(n *action.Node, now int64) *action.List {
	if s.HostMap == nil {
		return nil
	}
	hosts, ok := s.HostMap.Match(n.Data)
	if !ok || len(hosts) == 0 {
		return nil
	}

	start := s.randIntn(len(hosts))
	for i := 0; i < len(hosts); i++ {
		idx := (start + i) % len(hosts)
		if w := s.Registry.Get(hosts[idx]); w != nil && w.Status != worker.StatusDisconnected {
			return s.scheduleOnWorker(w, n, now)
		}
	}
	for i := 0; i < len(hosts); i++ {
		idx := (start + i) % len(hosts)
		if w := s.Registry.Get(hosts[idx]); w != nil && w.Status == worker.StatusDisconnected {
			return s.scheduleOnWorker(w, n, now)
		}
	}
	w := s.Registry.NewDisconnectedWorker(hosts[0], now)
	return s.scheduleOnWorker(w, n, now)
}

// scheduleOnWorker implements schedule_on_client: for ARCHIVE, prefer an
// existing or free batch slot on w; otherwise fall back to w's own local
// per-kind queue (never the global one -- once host-routed, an action
// stays routed).
func (s *Scheduler) scheduleOnWorker(w *worker.Worker, n *action.Node, now int64) *action.List {
	if n.Kind == protocol.ActionArchive && s.BatchSlots > 0 {
		if slot := batch.FindSlot(w.Batch, n.Hint); slot != nil {
			if slot.StillReserved(now) {
				return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, false)
			}
			return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, true)
		}
		for _, slot := range w.Batch {
			if slot.Free() {
				return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, true)
			}
		}
	}
	return w.WaitingList(n.Kind)
}

// newBatchSlot implements schedule_batch_slot_new's two-pass breadth-first
// search: first any slot that's free or expired-with-no-pending-work
// across all workers, slot index outermost so work spreads across workers
// before doubling up; then a second pass taking over any expired slot,
// requeueing its residual waiting list to the global archive queue.
func (s *Scheduler) newBatchSlot(n *action.Node, now int64) *action.List {
	if n.Kind != protocol.ActionArchive || s.BatchSlots <= 0 {
		return nil
	}
	workers := s.Registry.Ordered()

	for i := 0; i < s.BatchSlots; i++ {
		for _, w := range workers {
			if i >= len(w.Batch) {
				continue
			}
			slot := w.Batch[i]
			if slot.Free() {
				return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, true)
			}
			if slot.StillReserved(now) {
				continue
			}
			if !slot.Waiting.Empty() {
				continue
			}
			return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, true)
		}
	}

	for i := 0; i < s.BatchSlots; i++ {
		for _, w := range workers {
			if i >= len(w.Batch) {
				continue
			}
			slot := w.Batch[i]
			if slot.StillReserved(now) {
				continue
			}
			s.Store.RequeueAll(slot.Waiting)
			return slot.Allocate(n.Hint, now, s.BatchIdleNS, s.BatchMaxNS, true)
		}
	}
	return nil
}

// locatorMatch implements the backend-locate() path: RESTORE with a
// known object id asks the configured Locator; ARCHIVE with group-hashing
// enabled hashes the hint across currently-connected workers instead.
func (s *Scheduler) locatorMatch(n *action.Node, now int64) *action.List {
	switch {
	case n.Kind == protocol.ActionRestore && n.ObjectID != "" && s.Locator != nil:
		focus := s.leastBusyRestoreHost()
		host, ok, err := s.Locator.Locate(backgroundCtx, n.ObjectID, focus)
		if err != nil || !ok {
			return nil
		}
		w := s.Registry.Get(host)
		if w == nil {
			w = s.Registry.NewDisconnectedWorker(host, now)
		}
		return s.scheduleOnWorker(w, n, now)

	case n.Kind == protocol.ActionArchive && s.GroupHashEnabled && n.Hint != "":
		workers := s.Registry.Ordered()
		var connected []*worker.Worker
		for _, w := range workers {
			if w.Status != worker.StatusDisconnected {
				connected = append(connected, w)
			}
		}
		if len(connected) == 0 {
			return nil
		}
		h := xxhash.ChecksumString64(n.Hint)
		idx := int(h % uint64(len(connected)))
		return s.scheduleOnWorker(connected[idx], n, now)
	}
	return nil
}

// leastBusyRestoreHost picks the connected worker with the fewest
// in-flight restores, a fair coin deciding ties.
func (s *Scheduler) leastBusyRestoreHost() string {
	var best *worker.Worker
	tie := 0
	for _, w := range s.Registry.Ordered() {
		if w.Status == worker.StatusDisconnected {
			continue
		}
		switch {
		case best == nil || w.CurrentRestore < best.CurrentRestore:
			best = w
			tie = 1
		case w.CurrentRestore == best.CurrentRestore:
			tie++
			if s.randIntn(tie) == 0 {
				best = w
			}
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}
