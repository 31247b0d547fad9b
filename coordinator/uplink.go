package coordinator

import (
	"errors"
	"io"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/uplink"
)

// uplinkReadLoop pulls successive hsm_action_list frames off r until a
// read error (including io.EOF) or stop fires.
func uplinkReadLoop(r *uplink.Reader, lists chan<- *protocol.HSMActionList, errs chan<- error, stop <-chan struct{}) {
	for {
		list, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case errs <- err:
				case <-stop:
					return
				}
			}
			return
		}
		select {
		case lists <- list:
		case <-stop:
			return
		}
	}
}

// handleUplinkList enqueues every item the filesystem uplink delivered,
// persists recovery state for each, and offers the newly-pending work to
// any worker already parked on RECV. CANCEL items are not enqueued; each
// one is handed to handleCancel for the action it names.
func (c *Coordinator) handleUplinkList(list *protocol.HSMActionList) {
	now := c.now()
	for _, item := range list.List {
		if item.HaiAction == protocol.ActionCancel {
			c.handleCancel(protocol.CancelRequest{Command: protocol.CmdCancel, HaiCookie: item.HaiCookie, HaiDfid: item.HaiDfid})
			continue
		}
		n := action.FromItem(item, list.HalArchiveID, list.HalFlags, list.HalFsname, now)
		if !c.Store.Enqueue(n, action.SourceUplink) {
			continue
		}
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
}

// recoverState reconstructs any actions left in-flight by a previous
// coordinator process: each state-dir client subdirectory becomes a
// synthesized DISCONNECTED worker, and every action found under it is
// relinked directly onto that worker's active-requests list and marked
// running, exactly as it would have been at the moment of the crash. The
// normal EHLO reconnect-merge (if the real worker comes back under the
// same id) or grace-expiry requeue (if it never does) takes over from
// there.
func (c *Coordinator) recoverState() error {
	if c.StateDir == "" {
		return nil
	}
	now := c.now()
	clients, err := uplink.ScanStateDir(c.StateDir, now)
	if err != nil {
		return err
	}
	for _, rc := range clients {
		if len(rc.Nodes) == 0 {
			continue
		}
		w := c.Registry.NewDisconnectedWorker(rc.ClientID, now)
		for _, n := range rc.Nodes {
			if !c.Store.Enqueue(n, action.SourceRecovery) {
				continue
			}
			if owner := n.Owner(); owner != nil {
				owner.Unlink(n)
			}
			w.ActiveRequests.PushBack(n)
			c.Store.MarkRunning(n)
		}
		clog.Infof("recovered %d in-flight action(s) for client %s", len(rc.Nodes), rc.ClientID)
	}
	return nil
}
