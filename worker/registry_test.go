package worker_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error { c.closed = true; return nil }

var _ = Describe("Registry", func() {
	var r *worker.Registry

	BeforeEach(func() {
		r = worker.NewRegistry(2, 10_000_000_000)
	})

	It("rejects a duplicate EHLO id from a different connected worker", func() {
		w1 := r.Accept("addr1", &fakeConn{})
		Expect(r.EHLO(w1, "w1", nil)).To(BeTrue())

		w2 := r.Accept("addr2", &fakeConn{})
		Expect(r.EHLO(w2, "w1", nil)).To(BeFalse())
	})

	It("keeps an action assigned across a grace-window reconnect", func() {
		w1 := r.Accept("addr1", &fakeConn{})
		r.EHLO(w1, "w1", nil)

		item := protocol.HSMActionItem{HaiAction: protocol.ActionArchive, HaiCookie: 0x1234}
		n := action.FromItem(item, 1, 0, "testfs", 100)
		w1.ActiveRequests.PushBack(n)

		var drained []*action.Node
		r.Disconnect(w1, 5000, func(l *action.List) {
			l.Each(func(node *action.Node) bool {
				drained = append(drained, node)
				return true
			})
		})
		Expect(w1.Status).To(Equal(worker.StatusDisconnected))

		// reconnect before grace expiry with the same id
		w1b := r.Accept("addr2", &fakeConn{})
		ok := r.EHLO(w1b, "w1", nil)
		Expect(ok).To(BeTrue())
		Expect(w1b.ActiveRequests.Len()).To(Equal(1))
		Expect(w1b.ActiveRequests.Front().Key).To(Equal(n.Key))
	})

	It("frees a disconnected worker's actions back to the queue after grace expiry", func() {
		w1 := r.Accept("addr1", &fakeConn{})
		r.EHLO(w1, "w1", nil)

		item := protocol.HSMActionItem{HaiAction: protocol.ActionArchive, HaiCookie: 0x5678}
		n := action.FromItem(item, 1, 0, "testfs", 100)
		w1.ActiveRequests.PushBack(n)

		r.Disconnect(w1, 0, func(*action.List) {})

		requeued := action.NewList()
		freed := r.ExpireDisconnected(10_000_000_001, func(l *action.List) {
			requeued.SpliceAll(l)
		})
		Expect(freed).To(HaveLen(1))
		Expect(requeued.Len()).To(Equal(1))
		Expect(r.Get("w1")).To(BeNil())
	})

	It("does not expire a disconnected worker before its grace window elapses", func() {
		w1 := r.Accept("addr1", &fakeConn{})
		r.EHLO(w1, "w1", nil)
		r.Disconnect(w1, 0, func(*action.List) {})

		freed := r.ExpireDisconnected(5_000_000_000, func(*action.List) {})
		Expect(freed).To(BeEmpty())
		Expect(r.Get("w1")).NotTo(BeNil())
	})

	It("frees an anonymous (no-id) worker immediately on disconnect", func() {
		w1 := r.Accept("addr1", &fakeConn{})
		var drained bool
		r.Disconnect(w1, 0, func(*action.List) { drained = true })
		Expect(r.Get("addr1")).To(BeNil())
		_ = drained
	})
})
