package sched

import (
	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/batch"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// replyState accumulates one RECV reply's bytes, items, and the single
// archive-id/flags tuple the whole reply must share -- mirroring
// ct_schedule_client's enqueued_bytes/archive_id/hal_flags, which persist
// across all three kind loops, not just one.
type replyState struct {
	bytes       int64
	haveTuple   bool
	archiveID   uint32
	flags       uint64
	items       []protocol.HSMActionItem
}

// Dispatch assembles a reply for w if any work can be sent, mutating
// store/worker counters and moving dispatched nodes onto w's
// active-requests list. Returns nil if nothing could be sent (w should
// remain WAITING).
func (s *Scheduler) Dispatch(w *worker.Worker) *protocol.HSMActionList {
	now := s.now()
	st := &replyState{}

	connected := s.Registry.Connected()
	if connected <= 0 {
		connected = 1
	}

	s.dispatchKind(w, protocol.ActionRestore, []*action.List{w.WaitingRestore, s.Store.Restore},
		w.CapRestore, &w.CurrentRestore, s.Store.PendingRestore, connected, st, now)

	s.dispatchKind(w, protocol.ActionRemove, []*action.List{w.WaitingRemove, s.Store.Remove},
		w.CapRemove, &w.CurrentRemove, s.Store.PendingRemove, connected, st, now)

	if s.BatchSlots > 0 {
		s.RescheduleWorker(w, now)
		lists := make([]*action.List, 0, len(w.Batch))
		for _, slot := range w.Batch {
			lists = append(lists, slot.Waiting)
		}
		s.dispatchArchiveBatched(w, lists, st, now, connected)
	} else {
		s.dispatchKind(w, protocol.ActionArchive, []*action.List{w.WaitingArchive, s.Store.Archive},
			w.CapArchive, &w.CurrentArchive, s.Store.PendingArchive, connected, st, now)
	}

	if st.bytes == 0 {
		return nil
	}
	return &protocol.HSMActionList{
		HalVersion:   protocol.HALVersion,
		HalArchiveID: st.archiveID,
		HalFlags:     st.flags,
		HalFsname:    s.Fsname,
		List:         st.items,
	}
}

// dispatchKind walks lists in order (local queue then global queue,
// matching the "many-lists" cursor of ct_schedule_client), consuming
// sendable nodes into st until a stop condition is hit. Used for
// RESTORE, REMOVE, and non-batched ARCHIVE.
func (s *Scheduler) dispatchKind(w *worker.Worker, kind protocol.Action, lists []*action.List,
	capMax int, current *int, pendingSnapshot int, connected int, st *replyState, now int64) {
	s.dispatchKindCapped(w, kind, lists, capMax, current, -1, nil, pendingSnapshot, connected, st, now)
}

// dispatchArchiveBatched dispatches ARCHIVE across N batch-slot lists,
// each capped independently at ceil(cap/N) per reply so one slot cannot
// starve the others.
func (s *Scheduler) dispatchArchiveBatched(w *worker.Worker, lists []*action.List, st *replyState, now int64, connected int) {
	perSlotCap := batch.PerSlotCap(w.CapArchive, len(lists))
	for i, lst := range lists {
		slot := w.Batch[i]
		slot.CurrentCount = 0
		s.dispatchKindCapped(w, protocol.ActionArchive, []*action.List{lst},
			w.CapArchive, &w.CurrentArchive, perSlotCap, &slot.CurrentCount,
			s.Store.PendingArchive, connected, st, now)
	}
}

// dispatchKindCapped is the shared per-kind walk. extraCap/extraCount
// implement the additional per-batch-slot cap layered on top of the
// worker-wide kind cap; pass extraCap < 0 and extraCount nil to disable.
func (s *Scheduler) dispatchKindCapped(w *worker.Worker, kind protocol.Action, lists []*action.List,
	capMax int, current *int, extraCap int, extraCount *int,
	pendingSnapshot int, connected int, st *replyState, now int64) {

	enqueuedPass := 0
	for _, lst := range lists {
		stop := false
		lst.Each(func(n *action.Node) bool {
			if st.bytes > w.MaxBytes-protocol.HAISizeMargin {
				stop = true
				return false
			}
			if capMax >= 0 && *current >= capMax {
				stop = true
				return false
			}
			if extraCap >= 0 && extraCount != nil && *extraCount >= extraCap {
				stop = true
				return false
			}

			if !st.haveTuple {
				if !w.AcceptsArchiveID(n.ArchiveID) {
					return true
				}
			} else if st.archiveID != n.ArchiveID || st.flags != n.Flags {
				return true
			}

			if kind == protocol.ActionArchive {
				if !s.canSendArchive(w, n, now) {
					return true
				}
			}

			itemBytes := n.Size()
			if st.bytes+itemBytes > w.MaxBytes {
				stop = true
				return false
			}

			if !st.haveTuple {
				st.haveTuple = true
				st.archiveID = n.ArchiveID
				st.flags = n.Flags
			}

			lst.Unlink(n)
			w.ActiveRequests.PushBack(n)
			*current++
			if extraCount != nil {
				*extraCount++
			}
			st.bytes += itemBytes
			st.items = append(st.items, n.Item())
			s.Store.MarkRunning(n)

			enqueuedPass++
			if enqueuedPass > pendingSnapshot/connected {
				stop = true
				return false
			}
			return true
		})
		if stop {
			break
		}
	}
}

// canSendArchive implements batch_slot_can_send: if w still has a
// reserved slot matching n's hint, refresh its idle deadline and allow
// sending; otherwise relocate n via ScheduleNew (global queue if nothing
// else claims it) and report false so the caller skips it without
// re-examining it in place -- the mechanism that lets the stuck-loop guard
// be removed entirely.
func (s *Scheduler) canSendArchive(w *worker.Worker, n *action.Node, now int64) bool {
	if s.BatchSlots <= 0 {
		return true
	}
	for _, slot := range w.Batch {
		if slot.Hint != "" && slot.Hint == n.Hint {
			if s.BatchIdleNS != 0 {
				slot.ExpireIdleNS = now + s.BatchIdleNS
			}
			return true
		}
	}

	if owner := n.Owner(); owner != nil {
		owner.Unlink(n)
	}
	if placed := s.ScheduleNew(n); placed != nil {
		placed.PushBack(n)
	} else {
		s.Store.Archive.PushBack(n)
	}
	return false
}

// RescheduleWorker implements batch_reschedule_client: before dispatch,
// claim slots for w using the first pending archive node from w's local
// queue (or the global queue), then sweep both for any other node sharing
// that hint and drain them into the same slot too.
func (s *Scheduler) RescheduleWorker(w *worker.Worker, now int64) {
	if s.BatchSlots <= 0 {
		return
	}
	sourceLists := []*action.List{w.WaitingArchive, s.Store.Archive}

	nextCandidate := func() *action.Node {
		for _, l := range sourceLists {
			if f := l.Front(); f != nil {
				return f
			}
		}
		return nil
	}

	han := nextCandidate()
	for i := 0; i < len(w.Batch) && han != nil; i++ {
		slot := w.Batch[i]
		if slot.Hint != "" && slot.StillReserved(now) {
			continue
		}

		s.Store.RequeueAll(slot.Waiting)
		target := slot.Allocate(han.Hint, now, s.BatchIdleNS, s.BatchMaxNS, true)
		if owner := han.Owner(); owner != nil {
			owner.Unlink(han)
		}
		target.PushBack(han)

		for _, l := range sourceLists {
			var matched []*action.Node
			l.Each(func(n *action.Node) bool {
				if n.Hint == slot.Hint {
					matched = append(matched, n)
				}
				return true
			})
			for _, n := range matched {
				l.Unlink(n)
				target.PushBack(n)
			}
		}

		han = nextCandidate()
	}
}
