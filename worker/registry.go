package worker

import (
	"github.com/cea-hpc/lhsm-coordinator/action"
)

// Registry owns the set of known workers by id plus the FIFO of currently
// WAITING workers, and implements EHLO handling, reconnect merge, and
// disconnect/grace-expiry. It does not itself invoke the scheduler --
// callers (the protocol command handlers, wired by package coordinator)
// call ScheduleWorker-equivalents after mutating registry state.
type Registry struct {
	byID  map[string]*Worker
	order []string // insertion order, for deterministic breadth-first slot search
	waiting *waitingFIFO

	BatchSlots int
	GraceNS    int64
}

// NewRegistry returns an empty registry configured with n batch slots per
// new worker and the given disconnect grace window.
func NewRegistry(batchSlots int, graceNS int64) *Registry {
	return &Registry{
		byID:       make(map[string]*Worker),
		waiting:    newWaitingFIFO(),
		BatchSlots: batchSlots,
		GraceNS:    graceNS,
	}
}

func (r *Registry) remember(id string) {
	for _, existing := range r.order {
		if existing == id {
			return
		}
	}
	r.order = append(r.order, id)
}

func (r *Registry) forget(id string) {
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Ordered returns every known worker in the order it was first registered,
// substituting renamed/merged ids transparently. Used by the scheduler's
// breadth-first batch-slot search, which needs a stable iteration order.
func (r *Registry) Ordered() []*Worker {
	out := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		if w, ok := r.byID[id]; ok {
			out = append(out, w)
		}
	}
	return out
}

// NewDisconnectedWorker synthesizes a DISCONNECTED placeholder record for
// a host mapping / locator target that isn't currently connected, so that
// an action "waits for the right worker" rather than being sent elsewhere.
// It expires through the normal grace-window path like any other
// disconnected worker.
func (r *Registry) NewDisconnectedWorker(hostID string, nowNS int64) *Worker {
	if w, ok := r.byID[hostID]; ok {
		return w
	}
	w := New(hostID, r.BatchSlots)
	w.IDSet = true
	w.Status = StatusDisconnected
	w.DisconnectedNS = nowNS
	r.byID[hostID] = w
	r.remember(hostID)
	return w
}

// Get returns the worker with the given id, or nil.
func (r *Registry) Get(id string) *Worker {
	return r.byID[id]
}

// Len reports the number of known workers (any status).
func (r *Registry) Len() int { return len(r.byID) }

// Connected reports the number of workers not in DISCONNECTED, used by
// the scheduler's fairness brake (pending / connected).
func (r *Registry) Connected() int {
	n := 0
	for _, w := range r.byID {
		if w.Status != StatusDisconnected {
			n++
		}
	}
	return n
}

// Each calls fn for every known worker.
func (r *Registry) Each(fn func(*Worker)) {
	for _, w := range r.byID {
		fn(w)
	}
}

// EachDisconnected calls fn for every DISCONNECTED worker, in no
// particular order.
func (r *Registry) EachDisconnected(fn func(*Worker)) {
	for _, w := range r.byID {
		if w.Status == StatusDisconnected {
			fn(w)
		}
	}
}

// IDUnique reports whether id is free to claim: not held by a currently
// connected (READY/WAITING) worker. Mirrors ehlo_is_id_unique, which
// excludes INIT placeholders (haven't announced an id yet) and
// DISCONNECTED clients (not in the main connected-clients list) from the
// conflict check.
func (r *Registry) IDUnique(id string) bool {
	w, ok := r.byID[id]
	if !ok {
		return true
	}
	return w.Status == StatusInit || w.Status == StatusDisconnected
}

// Accept registers a newly-accepted, not-yet-EHLO'd connection under a
// placeholder id (e.g. the transport's remote address), returning its
// INIT-status Worker.
func (r *Registry) Accept(placeholderID string, conn Conn) *Worker {
	w := New(placeholderID, r.BatchSlots)
	w.Conn = conn
	r.byID[placeholderID] = w
	r.remember(placeholderID)
	return w
}

// EHLO transitions w to READY under the given id (or keeps its
// placeholder id if id is empty). If a DISCONNECTED worker with the same
// id exists, its active requests, waiting lists, and batch slots are
// spliced into w and the old record is discarded -- mirroring
// protocol.c's ehlo_cb reconnect-merge block. Returns false (EEXIST) if id
// is already held by a connected, non-INIT worker other than w itself.
func (r *Registry) EHLO(w *Worker, id string, archiveFilter []uint32) bool {
	if id != "" {
		if existing, ok := r.byID[id]; ok && existing != w &&
			existing.Status != StatusInit && existing.Status != StatusDisconnected {
			return false
		}
	}

	w.ArchiveFilter = archiveFilter
	oldPlaceholder := w.ID

	if id == "" {
		w.Status = StatusReady
		return true
	}

	if old, ok := r.byID[id]; ok && old.Status == StatusDisconnected {
		w.ActiveRequests.SpliceAll(old.ActiveRequests)
		w.WaitingArchive.SpliceAll(old.WaitingArchive)
		w.WaitingRestore.SpliceAll(old.WaitingRestore)
		w.WaitingRemove.SpliceAll(old.WaitingRemove)
		for i := range w.Batch {
			if i >= len(old.Batch) {
				break
			}
			w.Batch[i] = old.Batch[i]
		}
		delete(r.byID, id)
		r.forget(id)
	}

	delete(r.byID, oldPlaceholder)
	r.forget(oldPlaceholder)
	w.ID = id
	w.IDSet = true
	w.Status = StatusReady
	r.byID[id] = w
	r.remember(id)
	return true
}

// ReconcileHaiList merges a reconnecting worker's self-reported
// in-progress actions: for each key present in haiKeys, if the store
// knows about it, move it into w's active-requests list; any node still
// left on w's active-requests list after this pass (claimed by the old
// record but not re-claimed now) is returned for the caller to requeue
// into the global queues.
func (r *Registry) ReconcileHaiList(w *Worker, find func(action.Key) *action.Node, haiKeys []action.Key) []*action.Node {
	claimed := make(map[action.Key]bool, len(haiKeys))
	for _, k := range haiKeys {
		claimed[k] = true
		if n := find(k); n != nil {
			w.ActiveRequests.PushBack(n)
		}
	}

	var unclaimed []*action.Node
	w.ActiveRequests.Each(func(n *action.Node) bool {
		if !claimed[n.Key] {
			unclaimed = append(unclaimed, n)
		}
		return true
	})
	for _, n := range unclaimed {
		w.ActiveRequests.Unlink(n)
	}
	return unclaimed
}

// Disconnect handles a transport error or EOF on w. If w never announced
// an id, it is freed immediately (drain is called once with every list w
// owns). Otherwise w transitions to DISCONNECTED with DisconnectedNS =
// nowNS and remains registered until grace expiry.
func (r *Registry) Disconnect(w *Worker, nowNS int64, drain func(*action.List)) {
	if !w.IDSet {
		w.RequeueLists(drain)
		delete(r.byID, w.ID)
		r.forget(w.ID)
		r.waiting.remove(w)
		return
	}
	w.Status = StatusDisconnected
	w.DisconnectedNS = nowNS
	r.waiting.remove(w)
}

// NextGraceExpiry returns the earliest DISCONNECTED-worker expiry deadline
// (DisconnectedNS + GraceNS) across the registry, and whether any exists.
func (r *Registry) NextGraceExpiry() (int64, bool) {
	var best int64
	found := false
	for _, w := range r.byID {
		if w.Status != StatusDisconnected {
			continue
		}
		expiry := w.DisconnectedNS + r.GraceNS
		if !found || expiry < best {
			best = expiry
			found = true
		}
	}
	return best, found
}

// ExpireDisconnected frees every DISCONNECTED worker whose grace window
// has elapsed as of nowNS, draining their owned lists via drain (expected
// to requeue nodes into the global queues). Returns the freed workers.
func (r *Registry) ExpireDisconnected(nowNS int64, drain func(*action.List)) []*Worker {
	var freed []*Worker
	for id, w := range r.byID {
		if w.Status != StatusDisconnected {
			continue
		}
		if w.DisconnectedNS+r.GraceNS > nowNS {
			continue
		}
		w.RequeueLists(drain)
		delete(r.byID, id)
		r.forget(id)
		freed = append(freed, w)
	}
	return freed
}

// MarkWaiting transitions w to WAITING and enqueues it on the
// waiting-workers FIFO, used when a RECV request finds no immediate work.
func (r *Registry) MarkWaiting(w *Worker) {
	w.Status = StatusWaiting
	r.waiting.push(w)
}

// MarkReady transitions w back to READY and removes it from the waiting
// FIFO, used once a non-empty reply has been sent.
func (r *Registry) MarkReady(w *Worker) {
	w.Status = StatusReady
	r.waiting.remove(w)
}

// WaitingWorkers returns the workers currently on the waiting FIFO, head
// first.
func (r *Registry) WaitingWorkers() []*Worker {
	return r.waiting.snapshot()
}

// waitingFIFO is a small ordered set: push is idempotent, remove is O(n)
// but n is the connected fleet size, acceptable per the "adequate for
// small fleets" latitude the timer engine design note already accepts.
type waitingFIFO struct {
	order []*Worker
}

func newWaitingFIFO() *waitingFIFO { return &waitingFIFO{} }

func (q *waitingFIFO) push(w *Worker) {
	for _, existing := range q.order {
		if existing == w {
			return
		}
	}
	q.order = append(q.order, w)
}

func (q *waitingFIFO) remove(w *Worker) {
	for i, existing := range q.order {
		if existing == w {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

func (q *waitingFIFO) snapshot() []*Worker {
	out := make([]*Worker, len(q.order))
	copy(out, q.order)
	return out
}
