// Package action implements the action store: a duplicate-suppressed index
// of all known HSM actions keyed by (cookie, FID), the node type, and the
// intrusive-style list machinery nodes move through on their way from
// uplink to worker to completion.
//
// The C teacher (cea-hpc/coordinatool) keeps nodes on cds_list_head chains
// with a side rbtree for the index; this package keeps the same shape using
// container/list.List chains plus a weak back-pointer on each Node so a
// node can be unlinked in O(1) without knowing which list currently owns
// it -- the Go re-expression of the "arena + indices, or typed list
// headers" note for pointer-heavy intrusive lists.
package action

import (
	"container/list"

	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

// Key uniquely identifies an action: its cookie and destination FID.
// Immutable once a node is created.
type Key struct {
	Cookie uint64
	Dfid   protocol.FID
}

// Node is one in-flight or queued action. A Node is linked in exactly one
// List at a time; Owner tracks which one for O(1) Unlink.
type Node struct {
	Key
	Kind       protocol.Action
	ArchiveID  uint32
	Flags      uint64
	Fsname     string
	Fid        protocol.FID
	ExtentOff  uint64
	ExtentLen  uint64
	Gid        uint64
	Data       string
	EnqueuedNS int64
	Hint       string // parsed "grouping=" (or configured needle) tag, empty if none
	ObjectID   string // optional backend object id for locate()

	elem  *list.Element
	owner *List
}

// Item renders the node back to its wire shape for a RECV reply.
func (n *Node) Item() protocol.HSMActionItem {
	return protocol.HSMActionItem{
		HaiAction:       n.Kind,
		HaiFid:          n.Fid,
		HaiDfid:         n.Dfid,
		HaiExtentOffset: n.ExtentOff,
		HaiExtentLength: n.ExtentLen,
		HaiCookie:       n.Cookie,
		HaiGid:          n.Gid,
		HaiData:         n.Data,
	}
}

// Size estimates the wire bytes this node contributes to a reply, used by
// the scheduler's max_bytes accounting.
func (n *Node) Size() int64 {
	return protocol.HAISizeMargin - 100 + int64(len(n.Data))
}

// FromItem builds a Node from a wire item plus the fields only the
// enclosing hsm_action_list header carries (archive id, flags, fsname).
func FromItem(item protocol.HSMActionItem, archiveID uint32, flags uint64, fsname string, nowNS int64) *Node {
	return &Node{
		Key:        Key{Cookie: item.HaiCookie, Dfid: item.HaiDfid},
		Kind:       item.HaiAction,
		ArchiveID:  archiveID,
		Flags:      flags,
		Fsname:     fsname,
		Fid:        item.HaiFid,
		ExtentOff:  item.HaiExtentOffset,
		ExtentLen:  item.HaiExtentLength,
		Gid:        item.HaiGid,
		Data:       item.HaiData,
		EnqueuedNS: nowNS,
	}
}

// List is a FIFO chain of nodes. It wraps container/list.List rather than
// reimplementing intrusive links, while still giving each Node a weak
// pointer back to its current owner so Unlink doesn't need the caller to
// know which list a node sits in.
type List struct {
	l list.List
}

// NewList returns an empty, ready-to-use List.
func NewList() *List {
	li := &List{}
	li.l.Init()
	return li
}

// Len reports the number of nodes currently linked.
func (li *List) Len() int { return li.l.Len() }

// Empty reports whether the list has no nodes.
func (li *List) Empty() bool { return li.l.Len() == 0 }

// PushBack links n at the tail, unlinking it from any prior owner first.
func (li *List) PushBack(n *Node) {
	if n.owner != nil {
		n.owner.Unlink(n)
	}
	n.elem = li.l.PushBack(n)
	n.owner = li
}

// PushFront links n at the head, unlinking it from any prior owner first.
func (li *List) PushFront(n *Node) {
	if n.owner != nil {
		n.owner.Unlink(n)
	}
	n.elem = li.l.PushFront(n)
	n.owner = li
}

// Front returns the head node, or nil if empty.
func (li *List) Front() *Node {
	e := li.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Node)
}

// Unlink removes n from li. No-op if n is not currently linked to li.
func (li *List) Unlink(n *Node) {
	if n.owner != li || n.elem == nil {
		return
	}
	li.l.Remove(n.elem)
	n.elem = nil
	n.owner = nil
}

// Each calls fn for every node in order, front to back. fn may unlink the
// current node (and only the current node) from li without disrupting
// iteration.
func (li *List) Each(fn func(n *Node) bool) {
	e := li.l.Front()
	for e != nil {
		next := e.Next()
		if !fn(e.Value.(*Node)) {
			return
		}
		e = next
	}
}

// SpliceAll moves every node from src onto the tail of li, leaving src
// empty. Mirrors cds_list_splice followed by CDS_INIT_LIST_HEAD(src).
func (li *List) SpliceAll(src *List) {
	src.Each(func(n *Node) bool {
		li.PushBack(n)
		return true
	})
}

// Owner reports which List currently holds n, or nil if unlinked.
func (n *Node) Owner() *List { return n.owner }
