// Package worker implements the worker registry: per-worker state
// machine (INIT/READY/WAITING/DISCONNECTED), reconnect/handover merge
// semantics, and the grace-window disconnect/free cycle. Grounded on
// copytool/coordinatool.h's struct client and copytool/protocol.c's
// ehlo_cb reconnect-merge block.
package worker

import (
	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/batch"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

// Status is the worker lifecycle state.
type Status int

const (
	StatusInit Status = iota
	StatusReady
	StatusWaiting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusWaiting:
		return "waiting"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "init"
	}
}

// Conn is the minimal transport surface the registry needs from a worker's
// connection, small enough to be satisfied by a *net.TCPConn or a test
// fake.
type Conn interface {
	Close() error
}

// Worker is one connected (or recently-disconnected) copytool agent.
type Worker struct {
	ID     string
	IDSet  bool // false: transport address kept as id, worker is anonymous
	Status Status
	Conn   Conn

	MaxBytes   int64
	CapArchive int // -1 = unlimited
	CapRestore int
	CapRemove  int

	CurrentArchive int
	CurrentRestore int
	CurrentRemove  int
	DoneArchive    int
	DoneRestore    int
	DoneRemove     int

	ActiveRequests *action.List
	WaitingArchive *action.List
	WaitingRestore *action.List
	WaitingRemove  *action.List

	Batch []*batch.Slot

	ArchiveFilter []uint32 // nil = accept any archive id

	DisconnectedNS int64 // valid only when Status == StatusDisconnected
}

// New returns an INIT-status worker with n batch slots and empty lists.
func New(id string, n int) *Worker {
	slots := make([]*batch.Slot, n)
	for i := range slots {
		slots[i] = batch.NewSlot()
	}
	return &Worker{
		ID:             id,
		Status:         StatusInit,
		CapArchive:     -1,
		CapRestore:     -1,
		CapRemove:      -1,
		ActiveRequests: action.NewList(),
		WaitingArchive: action.NewList(),
		WaitingRestore: action.NewList(),
		WaitingRemove:  action.NewList(),
		Batch:          slots,
	}
}

// AcceptsArchiveID reports whether w's archive-id filter (if any) accepts
// the given archive id.
func (w *Worker) AcceptsArchiveID(id uint32) bool {
	if w.ArchiveFilter == nil {
		return true
	}
	for _, a := range w.ArchiveFilter {
		if a == id {
			return true
		}
	}
	return false
}

// WaitingList returns w's local FIFO for the given action kind.
func (w *Worker) WaitingList(kind protocol.Action) *action.List {
	switch kind {
	case protocol.ActionArchive:
		return w.WaitingArchive
	case protocol.ActionRestore:
		return w.WaitingRestore
	case protocol.ActionRemove:
		return w.WaitingRemove
	default:
		return nil
	}
}

// Cap returns w's configured maximum for the given kind.
func (w *Worker) Cap(kind protocol.Action) int {
	switch kind {
	case protocol.ActionArchive:
		return w.CapArchive
	case protocol.ActionRestore:
		return w.CapRestore
	case protocol.ActionRemove:
		return w.CapRemove
	default:
		return -1
	}
}

// Current returns w's in-flight count for the given kind.
func (w *Worker) Current(kind protocol.Action) int {
	switch kind {
	case protocol.ActionArchive:
		return w.CurrentArchive
	case protocol.ActionRestore:
		return w.CurrentRestore
	case protocol.ActionRemove:
		return w.CurrentRemove
	default:
		return 0
	}
}

// IncCurrent bumps w's in-flight counter for kind by delta.
func (w *Worker) IncCurrent(kind protocol.Action, delta int) {
	switch kind {
	case protocol.ActionArchive:
		w.CurrentArchive += delta
	case protocol.ActionRestore:
		w.CurrentRestore += delta
	case protocol.ActionRemove:
		w.CurrentRemove += delta
	}
}

// RequeueLists drains every list w owns (active requests + three waiting
// lists + batch slot waiting lists) via the callback, used on free() to
// push every owned node back to the global queues.
func (w *Worker) RequeueLists(drain func(*action.List)) {
	drain(w.ActiveRequests)
	drain(w.WaitingArchive)
	drain(w.WaitingRestore)
	drain(w.WaitingRemove)
	for _, s := range w.Batch {
		drain(s.Waiting)
	}
}
