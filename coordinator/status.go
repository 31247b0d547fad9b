package coordinator

import (
	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// buildStatusReply assembles a STATUS reply from the store's counters and,
// if verbose > 0, one ClientStatus per known worker including its
// in-flight action items.
func (c *Coordinator) buildStatusReply(verbose int) protocol.StatusReply {
	reply := protocol.StatusReply{
		Command:        protocol.CmdStatus,
		Status:         statusOK,
		PendingArchive: c.Store.PendingArchive,
		PendingRestore: c.Store.PendingRestore,
		PendingRemove:  c.Store.PendingRemove,
		RunningArchive: c.Store.RunningArchive,
		RunningRestore: c.Store.RunningRestore,
		RunningRemove:  c.Store.RunningRemove,
		DoneArchive:    c.Store.DoneArchive,
		DoneRestore:    c.Store.DoneRestore,
		DoneRemove:     c.Store.DoneRemove,
	}
	if verbose > 0 {
		reply.Clients = c.clientStatuses()
	}
	return reply
}

func (c *Coordinator) clientStatuses() []protocol.ClientStatus {
	var out []protocol.ClientStatus
	c.Registry.Each(func(w *worker.Worker) {
		cs := protocol.ClientStatus{
			ClientID:       w.ID,
			Status:         w.Status.String(),
			CurrentRestore: w.CurrentRestore,
			CurrentArchive: w.CurrentArchive,
			CurrentRemove:  w.CurrentRemove,
			DoneRestore:    w.DoneRestore,
			DoneArchive:    w.DoneArchive,
			DoneRemove:     w.DoneRemove,
		}
		if w.Status == worker.StatusDisconnected {
			cs.DisconnectedTimestamp = w.DisconnectedNS / int64(1e9)
		}
		appendItems(&cs.ActiveRequests, w.ActiveRequests)
		appendItems(&cs.WaitingArchive, w.WaitingArchive)
		appendItems(&cs.WaitingRestore, w.WaitingRestore)
		appendItems(&cs.WaitingRemove, w.WaitingRemove)
		for _, slot := range w.Batch {
			if slot.Free() {
				continue
			}
			cs.Batches = append(cs.Batches, protocol.BatchStatus{
				Hint:         slot.Hint,
				CurrentCount: slot.CurrentCount,
				ExpireIdleS:  slot.ExpireIdleNS / int64(1e9),
				ExpireMaxS:   slot.ExpireMaxNS / int64(1e9),
			})
		}
		out = append(out, cs)
	})
	return out
}

func appendItems(dst *[]protocol.HSMActionItem, l *action.List) {
	l.Each(func(n *action.Node) bool {
		*dst = append(*dst, n.Item())
		return true
	})
}

// refreshMetrics pushes the store's and registry's current counters into
// the Prometheus registry and refreshes the snapshot the admin HTTP
// surface reads under snapMu, the one piece of state that legitimately
// crosses from the event-loop goroutine to the HTTP handler goroutine.
func (c *Coordinator) refreshMetrics() {
	if c.Metrics != nil {
		c.Metrics.SetPending("archive", c.Store.PendingArchive)
		c.Metrics.SetPending("restore", c.Store.PendingRestore)
		c.Metrics.SetPending("remove", c.Store.PendingRemove)
		c.Metrics.SetRunning("archive", c.Store.RunningArchive)
		c.Metrics.SetRunning("restore", c.Store.RunningRestore)
		c.Metrics.SetRunning("remove", c.Store.RunningRemove)

		var counts [4]int
		c.Registry.Each(func(w *worker.Worker) { counts[w.Status]++ })
		c.Metrics.SetWorkers("init", counts[worker.StatusInit])
		c.Metrics.SetWorkers("ready", counts[worker.StatusReady])
		c.Metrics.SetWorkers("waiting", counts[worker.StatusWaiting])
		c.Metrics.SetWorkers("disconnected", counts[worker.StatusDisconnected])
	}

	status := c.buildStatusReply(0)
	workers := c.clientStatuses()

	c.snapMu.Lock()
	c.snapStatus = status
	c.snapWorkers = workers
	c.snapMu.Unlock()
}
