package coordinator

import (
	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// handleTimer runs whenever the timer engine's nearest deadline fires:
// free any worker whose disconnect grace window has elapsed, and release
// any batch slot whose idle/max deadline has passed.
func (c *Coordinator) handleTimer() {
	now := c.now()

	freed := c.Registry.ExpireDisconnected(now, c.drainList)
	for _, w := range freed {
		clog.Infof("worker %s's grace window expired, freeing", w.ID)
	}

	c.expireBatchSlots(now)

	if len(freed) > 0 {
		c.refreshMetrics()
	}
	c.tryDispatchWaiting()
}

// nextBatchExpiry reports the earliest ExpireIdleNS/ExpireMaxNS deadline
// across every worker's reserved batch slots, used as a timer.Source
// alongside the registry's grace-expiry deadline.
func (c *Coordinator) nextBatchExpiry() (int64, bool) {
	var best int64
	found := false
	c.Registry.Each(func(w *worker.Worker) {
		for _, slot := range w.Batch {
			if slot.Free() {
				continue
			}
			if slot.ExpireIdleNS != 0 && (!found || slot.ExpireIdleNS < best) {
				best = slot.ExpireIdleNS
				found = true
			}
			if slot.ExpireMaxNS != 0 && (!found || slot.ExpireMaxNS < best) {
				best = slot.ExpireMaxNS
				found = true
			}
		}
	})
	return best, found
}

// expireBatchSlots releases any reserved batch slot whose deadlines have
// passed, requeueing whatever it still holds waiting to the global
// archive queue.
func (c *Coordinator) expireBatchSlots(now int64) {
	c.Registry.Each(func(w *worker.Worker) {
		for _, slot := range w.Batch {
			if slot.Free() || slot.StillReserved(now) {
				continue
			}
			c.Store.RequeueAll(slot.Waiting)
			slot.Release()
		}
	})
}
