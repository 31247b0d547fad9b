package coordinator

import (
	"net"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/uplink"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// handleAccept registers a newly-accepted connection as an INIT worker
// and starts its reader/writer goroutines.
func (c *Coordinator) handleAccept(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	w := c.Registry.Accept(addr, conn)
	link := newWorkerLink(w, conn)
	c.links[w] = link
	go link.writeLoop()
	go link.readLoop(c.msgs)
}

// handleMessage dispatches one decoded message (or reports a transport
// failure) from a worker connection.
func (c *Coordinator) handleMessage(m workerMsg) {
	if m.err != nil {
		c.handleDisconnect(m.link)
		return
	}

	switch m.env.Command {
	case protocol.CmdEHLO:
		var req protocol.EHLORequest
		if err := m.env.Unmarshal(&req); err != nil {
			m.link.send(protocol.EHLOReply{Command: protocol.CmdEHLO, Status: statusEINVAL, Error: err.Error()})
			return
		}
		m.link.send(c.handleEHLO(m.link, req))

	case protocol.CmdStatus:
		var req protocol.StatusRequest
		_ = m.env.Unmarshal(&req)
		m.link.send(c.buildStatusReply(req.Verbose))

	case protocol.CmdRecv:
		var req protocol.RecvRequest
		if err := m.env.Unmarshal(&req); err != nil {
			m.link.send(protocol.RecvReply{Command: protocol.CmdRecv, Status: statusEINVAL, Error: err.Error()})
			return
		}
		m.link.send(c.handleRecv(m.link, req))

	case protocol.CmdDone:
		var req protocol.DoneRequest
		if err := m.env.Unmarshal(&req); err != nil {
			m.link.send(protocol.DoneReply{Command: protocol.CmdDone, Status: statusEINVAL, Error: err.Error()})
			return
		}
		m.link.send(c.handleDone(m.link, req))

	case protocol.CmdQueue:
		var req protocol.QueueRequest
		if err := m.env.Unmarshal(&req); err != nil {
			m.link.send(protocol.QueueReply{Command: protocol.CmdQueue, Status: statusEINVAL, Error: err.Error()})
			return
		}
		m.link.send(c.handleQueue(req))

	case protocol.CmdCancel:
		var req protocol.CancelRequest
		if err := m.env.Unmarshal(&req); err != nil {
			m.link.send(protocol.CancelReply{Command: protocol.CmdCancel, Status: statusEINVAL, Error: err.Error()})
			return
		}
		m.link.send(c.handleCancel(req))

	default:
		clog.Warnf("worker %s sent unknown command %q, ignoring", m.link.w.ID, m.env.Command)
	}
}

// handleDisconnect tears down a connection's link and hands the worker
// off to the registry's disconnect/grace-window machinery.
func (c *Coordinator) handleDisconnect(link *workerLink) {
	link.conn.Close()
	delete(c.links, link.w)
	c.Registry.Disconnect(link.w, c.now(), c.drainList)
	c.refreshMetrics()
}

func (c *Coordinator) handleEHLO(link *workerLink, req protocol.EHLORequest) protocol.EHLOReply {
	if !c.Registry.IDUnique(req.ID) {
		return protocol.EHLOReply{Command: protocol.CmdEHLO, Status: statusEEXIST, Error: "id already in use"}
	}
	if !c.Registry.EHLO(link.w, req.ID, req.ArchiveIDs) {
		return protocol.EHLOReply{Command: protocol.CmdEHLO, Status: statusEEXIST, Error: "id already in use"}
	}

	if len(req.HaiList) > 0 {
		keys := make([]action.Key, 0, len(req.HaiList))
		for _, item := range req.HaiList {
			keys = append(keys, action.Key{Cookie: item.HaiCookie, Dfid: item.HaiDfid})
		}
		unclaimed := c.Registry.ReconcileHaiList(link.w, c.Store.Find, keys)
		for _, n := range unclaimed {
			c.Store.Unassign(n)
		}
	}

	clog.Infof("worker %s said hello (archive filter %v)", link.w.ID, req.ArchiveIDs)
	c.refreshMetrics()
	return protocol.EHLOReply{Command: protocol.CmdEHLO, Status: statusOK}
}

func (c *Coordinator) handleRecv(link *workerLink, req protocol.RecvRequest) protocol.RecvReply {
	w := link.w
	if w.Status != worker.StatusReady && w.Status != worker.StatusWaiting {
		return protocol.RecvReply{Command: protocol.CmdRecv, Status: statusEINVAL, Error: "Client must send EHLO first"}
	}
	if req.MaxBytes < protocol.HAISizeMargin {
		return protocol.RecvReply{Command: protocol.CmdRecv, Status: statusEINVAL, Error: "Buffer too small"}
	}

	w.MaxBytes = req.MaxBytes
	w.CapArchive = req.MaxArchive
	w.CapRestore = req.MaxRestore
	w.CapRemove = req.MaxRemove

	list := c.Scheduler.Dispatch(w)
	if list == nil {
		c.Registry.MarkWaiting(w)
		return protocol.RecvReply{Command: protocol.CmdRecv, Status: statusOK}
	}
	c.Registry.MarkReady(w)
	c.refreshMetrics()
	return protocol.RecvReply{Command: protocol.CmdRecv, Status: statusOK, HsmActionList: list}
}

func (c *Coordinator) handleDone(link *workerLink, req protocol.DoneRequest) protocol.DoneReply {
	k := action.Key{Cookie: req.HaiCookie, Dfid: req.HaiDfid}
	n, ok := c.Store.Complete(k)
	if !ok {
		return protocol.DoneReply{Command: protocol.CmdDone, Status: statusEINVAL, Error: "Request not found"}
	}

	link.w.IncCurrent(n.Kind, -1)
	var kindLabel string
	switch n.Kind {
	case protocol.ActionArchive:
		link.w.DoneArchive++
		kindLabel = "archive"
	case protocol.ActionRestore:
		link.w.DoneRestore++
		kindLabel = "restore"
	case protocol.ActionRemove:
		link.w.DoneRemove++
		kindLabel = "remove"
	}
	if c.Metrics != nil && kindLabel != "" {
		c.Metrics.IncDone(kindLabel)
	}

	if c.Reporter != nil {
		c.Reporter.Done(n, req.Status)
	}
	if c.StateDir != "" {
		if err := uplink.RemoveState(c.StateDir, link.w.ID, n.Cookie); err != nil {
			clog.Warnf("removing recovery state for cookie %#x: %v", n.Cookie, err)
		}
	}

	// Completing an action may have freed capacity on a worker parked
	// WAITING since its last RECV; give the scheduler another look rather
	// than leaving it stalled until an unrelated enqueue or timer event.
	if link.w.Status == worker.StatusWaiting {
		if list := c.Scheduler.Dispatch(link.w); list != nil {
			c.Registry.MarkReady(link.w)
			link.send(protocol.RecvReply{Command: protocol.CmdRecv, Status: statusOK, HsmActionList: list})
		}
	}

	c.refreshMetrics()
	return protocol.DoneReply{Command: protocol.CmdDone, Status: statusOK}
}

func (c *Coordinator) handleQueue(req protocol.QueueRequest) protocol.QueueReply {
	now := c.now()
	var enqueued, skipped int
	for _, item := range req.HsmActionItems {
		n := action.FromItem(item, 0, 0, req.Fsname, now)
		if !c.Store.Enqueue(n, action.SourceQueueRequest) {
			skipped++
			continue
		}
		enqueued++
		if c.Reporter != nil {
			c.Reporter.New(n)
		}
		if c.StateDir != "" {
			if err := uplink.WriteState(c.StateDir, c.assignedWorkerID(n), n); err != nil {
				clog.Warnf("writing recovery state for cookie %#x: %v", n.Cookie, err)
			}
		}
	}
	c.refreshMetrics()
	c.tryDispatchWaiting()
	return protocol.QueueReply{Command: protocol.CmdQueue, Status: statusOK, Enqueued: enqueued, Skipped: skipped}
}

// handleCancel implements the three-way cancel split: a queued action is
// simply removed; one assigned to a connected worker is forwarded as a
// CANCEL notification before being removed; one assigned to a
// disconnected worker is removed without any notification to send.
func (c *Coordinator) handleCancel(req protocol.CancelRequest) protocol.CancelReply {
	k := action.Key{Cookie: req.HaiCookie, Dfid: req.HaiDfid}
	n := c.Store.Find(k)
	if n == nil {
		return protocol.CancelReply{Command: protocol.CmdCancel, Status: statusOK}
	}

	w, running := c.runningOwner(n)
	switch {
	case !running:
		c.Store.Cancel(k)
	case w.Status == worker.StatusDisconnected:
		c.Store.CancelRunning(k)
	default:
		if link, ok := c.links[w]; ok {
			link.send(protocol.CancelRequest{Command: protocol.CmdCancel, HaiCookie: k.Cookie, HaiDfid: k.Dfid})
		}
		w.IncCurrent(n.Kind, -1)
		c.Store.CancelRunning(k)
	}

	c.refreshMetrics()
	return protocol.CancelReply{Command: protocol.CmdCancel, Status: statusOK}
}

// runningOwner reports the worker whose ActiveRequests list currently
// holds n, i.e. whether n has actually been dispatched (running) rather
// than merely routed to a worker-local or batch-slot waiting list
// (still pending).
func (c *Coordinator) runningOwner(n *action.Node) (*worker.Worker, bool) {
	owner := n.Owner()
	if owner == nil {
		return nil, false
	}
	var found *worker.Worker
	c.Registry.Each(func(w *worker.Worker) {
		if owner == w.ActiveRequests {
			found = w
		}
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// assignedWorkerID reports which worker (by id) a node is currently
// routed to, for any reason -- active, worker-local waiting, or a batch
// slot -- or "unassigned" if it sits only on a global queue. Used to pick
// the state-dir client subdirectory a recovery file belongs under.
func (c *Coordinator) assignedWorkerID(n *action.Node) string {
	owner := n.Owner()
	if owner == nil {
		return "unassigned"
	}
	id := "unassigned"
	c.Registry.Each(func(w *worker.Worker) {
		if owner == w.ActiveRequests || owner == w.WaitingArchive ||
			owner == w.WaitingRestore || owner == w.WaitingRemove {
			id = w.ID
			return
		}
		for _, slot := range w.Batch {
			if owner == slot.Waiting {
				id = w.ID
			}
		}
	})
	return id
}

// drainList requeues every node in l. Nodes on a worker's ActiveRequests
// list are running, not pending, so they go through Store.UnassignAll
// (which adjusts the running/pending counters); nodes on any other list
// (worker-local waiting, batch-slot waiting) are already counted pending
// and just need relinking onto the global queue.
func (c *Coordinator) drainList(l *action.List) {
	isActive := false
	c.Registry.Each(func(w *worker.Worker) {
		if l == w.ActiveRequests {
			isActive = true
		}
	})
	if isActive {
		c.Store.UnassignAll(l)
	} else {
		c.Store.RequeueAll(l)
	}
}

// tryDispatchWaiting offers newly-pending work to every worker currently
// parked on the waiting FIFO, used after an enqueue or a timer-driven
// expiry might have created work a waiting RECV can now be satisfied by.
func (c *Coordinator) tryDispatchWaiting() {
	for _, w := range c.Registry.WaitingWorkers() {
		list := c.Scheduler.Dispatch(w)
		if list == nil {
			continue
		}
		c.Registry.MarkReady(w)
		if link, ok := c.links[w]; ok {
			link.send(protocol.RecvReply{Command: protocol.CmdRecv, Status: statusOK, HsmActionList: list})
		}
	}
	c.refreshMetrics()
}
