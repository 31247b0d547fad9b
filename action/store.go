package action

import (
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	cuckoo "github.com/seiflotfy/cuckoofilter"
)

// Scheduler is consulted by Enqueue to place a freshly-created node on a
// per-worker or batch list before it falls back to the global FIFO for its
// kind. Implemented by package sched; accepted here as a small interface
// to avoid an action<->sched import cycle.
type Scheduler interface {
	ScheduleNew(n *Node) *List
}

// Enricher tags a node (host mapping / backend locate hint) before the
// scheduler is consulted. Implemented by package enrich's Pipeline.
type Enricher interface {
	Enrich(n *Node)
}

// Mirror receives fire-and-forget notifications of store mutations.
// Implemented by package mirror; a nil Mirror is a valid no-op.
type Mirror interface {
	Insert(n *Node)
	Delete(k Key)
}

// Source identifies where an enqueued action came from, for logging and
// for recovery bookkeeping (recovered actions skip re-enrichment).
type Source int

const (
	SourceUplink Source = iota
	SourceQueueRequest
	SourceRecovery
)

// Store is the duplicate-suppressed index of all known actions plus the
// three global per-kind FIFOs. It owns no worker state; per-worker lists
// and batch slots live in package worker/batch and are reached only via
// the injected Scheduler.
type Store struct {
	index map[Key]*Node
	fast  *cuckoo.Filter // probabilistic front door: maybe-present accelerator only

	Archive *List
	Restore *List
	Remove  *List

	PendingArchive int
	PendingRestore int
	PendingRemove  int
	RunningArchive int
	RunningRestore int
	RunningRemove  int
	DoneArchive    int
	DoneRestore    int
	DoneRemove     int

	Scheduler Scheduler
	Enricher  Enricher
	Mirror    Mirror
}

// NewStore returns an empty store. sched/enricher/mirror may be nil and
// are filled in later by the coordinator's wiring step (they are mutually
// dependent with the store and cannot all be constructed in one call).
func NewStore() *Store {
	return &Store{
		index:   make(map[Key]*Node),
		fast:    cuckoo.NewFilter(1 << 16),
		Archive: NewList(),
		Restore: NewList(),
		Remove:  NewList(),
	}
}

func (s *Store) fastKey(k Key) []byte {
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(k.Cookie >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		b[8+i] = byte(k.Dfid.Oid >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		b[12+i] = byte(k.Dfid.Ver >> (8 * i))
	}
	return b[:]
}

func (s *Store) globalList(kind protocol.Action) *List {
	switch kind {
	case protocol.ActionArchive:
		return s.Archive
	case protocol.ActionRestore:
		return s.Restore
	case protocol.ActionRemove:
		return s.Remove
	default:
		return nil
	}
}

func (s *Store) incPending(kind protocol.Action, delta int) {
	switch kind {
	case protocol.ActionArchive:
		s.PendingArchive += delta
	case protocol.ActionRestore:
		s.PendingRestore += delta
	case protocol.ActionRemove:
		s.PendingRemove += delta
	}
}

// Find looks up a node by key without mutating anything.
func (s *Store) Find(k Key) *Node {
	return s.index[k]
}

// Len reports the number of actions currently tracked by the index.
func (s *Store) Len() int { return len(s.index) }

// Enqueue inserts node into the index if its key is absent, runs the
// enrichment pipeline, consults the Scheduler for placement, and falls
// back to the kind's global FIFO. Returns false if the key was already
// present (node discarded as a duplicate, per the index's
// single-source-of-truth contract).
func (s *Store) Enqueue(n *Node, source Source) bool {
	fk := s.fastKey(n.Key)
	if s.fast.Lookup(fk) {
		// filter says maybe-present: fall through to the authoritative
		// map check below rather than trust the false-positive-prone
		// fast path.
		if _, ok := s.index[n.Key]; ok {
			return false
		}
	}

	s.index[n.Key] = n
	s.fast.InsertUnique(fk)

	if source != SourceRecovery && s.Enricher != nil {
		s.Enricher.Enrich(n)
	}

	var placed *List
	if s.Scheduler != nil {
		placed = s.Scheduler.ScheduleNew(n)
	}
	if placed != nil {
		placed.PushBack(n)
	} else if g := s.globalList(n.Kind); g != nil {
		g.PushBack(n)
	}
	s.incPending(n.Kind, 1)

	if s.Mirror != nil {
		s.Mirror.Insert(n)
	}
	return true
}

// Requeue resets node to an unscheduled, pending state and pushes it to
// the tail of its kind's global FIFO. Used on worker free/disconnect.
func (s *Store) Requeue(n *Node) {
	if g := s.globalList(n.Kind); g != nil {
		g.PushBack(n)
	}
}

// RequeueAll requeues every node currently in src (draining it), e.g. a
// freed worker's active-requests list or an expired batch slot's waiting
// list.
func (s *Store) RequeueAll(src *List) {
	src.Each(func(n *Node) bool {
		s.Requeue(n)
		return true
	})
}

// Unassign reverses MarkRunning for a node that was running but never
// reached DONE -- a worker disconnected or was freed while the node still
// sat on its active-requests list. Decrements the kind's running counter,
// increments pending, then requeues the node onto its kind's global FIFO.
// Without this step, draining a freed worker's active-requests list
// through Requeue/RequeueAll alone would relink the node correctly but
// leave Running permanently too high, since that pair never touches the
// pending/running counters themselves.
func (s *Store) Unassign(n *Node) {
	switch n.Kind {
	case protocol.ActionArchive:
		s.RunningArchive--
	case protocol.ActionRestore:
		s.RunningRestore--
	case protocol.ActionRemove:
		s.RunningRemove--
	}
	s.incPending(n.Kind, 1)
	s.Requeue(n)
}

// UnassignAll drains src (expected to be a freed worker's active-requests
// list) through Unassign for every node, the running-list counterpart to
// RequeueAll.
func (s *Store) UnassignAll(src *List) {
	src.Each(func(n *Node) bool {
		s.Unassign(n)
		return true
	})
}

// Cancel removes the action identified by k if known. Pending is
// decremented whether the node was queued or running, per the cancel
// open-question resolution: a queued node is simply dropped; an assigned
// node's worker-side cleanup is the caller's (worker package's)
// responsibility before Cancel is invoked. Returns the removed node, or
// nil if unknown (a no-op, matching the boundary-behavior contract for
// cancelling an unknown cookie).
func (s *Store) Cancel(k Key) *Node {
	n, ok := s.index[k]
	if !ok {
		return nil
	}
	delete(s.index, k)
	if owner := n.Owner(); owner != nil {
		owner.Unlink(n)
	}
	s.incPending(n.Kind, -1)
	if s.Mirror != nil {
		s.Mirror.Delete(k)
	}
	return n
}

// Complete locates the action by key, detaches it from whatever list
// currently owns it (expected to be a worker's active-requests list),
// adjusts running/done counters, deletes it from the index, and mirrors
// the deletion. Returns false if the key is unknown (DONE for an unknown
// (cookie, FID): caller replies EINVAL "Request not found" and must not
// touch counters).
func (s *Store) Complete(k Key) (*Node, bool) {
	n, ok := s.index[k]
	if !ok {
		return nil, false
	}
	delete(s.index, k)
	if owner := n.Owner(); owner != nil {
		owner.Unlink(n)
	}

	switch n.Kind {
	case protocol.ActionArchive:
		s.RunningArchive--
		s.DoneArchive++
	case protocol.ActionRestore:
		s.RunningRestore--
		s.DoneRestore++
	case protocol.ActionRemove:
		s.RunningRemove--
		s.DoneRemove++
	}

	if s.Mirror != nil {
		s.Mirror.Delete(k)
	}
	return n, true
}

// CancelRunning removes an action that was already assigned to a worker
// (running, not pending) from the index, decrementing the running
// counter rather than pending. Used when cancelling an action currently
// in a worker's active-requests list; the caller (package coordinator)
// is responsible for unlinking it from that list and forwarding a
// CANCEL notification to the worker before calling this.
func (s *Store) CancelRunning(k Key) *Node {
	n, ok := s.index[k]
	if !ok {
		return nil
	}
	delete(s.index, k)
	if owner := n.Owner(); owner != nil {
		owner.Unlink(n)
	}
	switch n.Kind {
	case protocol.ActionArchive:
		s.RunningArchive--
	case protocol.ActionRestore:
		s.RunningRestore--
	case protocol.ActionRemove:
		s.RunningRemove--
	}
	if s.Mirror != nil {
		s.Mirror.Delete(k)
	}
	return n
}

// MarkRunning transitions a node's kind counters from pending to running
// when the scheduler hands it to a worker (called by package sched via
// the Store, since only the store owns the counters).
func (s *Store) MarkRunning(n *Node) {
	s.incPending(n.Kind, -1)
	switch n.Kind {
	case protocol.ActionArchive:
		s.RunningArchive++
	case protocol.ActionRestore:
		s.RunningRestore++
	case protocol.ActionRemove:
		s.RunningRemove++
	}
}
