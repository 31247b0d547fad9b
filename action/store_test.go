package action_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

func newArchiveItem(cookie uint64, data string) protocol.HSMActionItem {
	return protocol.HSMActionItem{
		HaiAction: protocol.ActionArchive,
		HaiDfid:   protocol.FID{Seq: 0x4200000000, Oid: 1, Ver: 0},
		HaiCookie: cookie,
		HaiData:   data,
	}
}

var _ = Describe("Store", func() {
	var s *action.Store

	BeforeEach(func() {
		s = action.NewStore()
	})

	It("enqueues into the global archive list and tracks pending count", func() {
		n := action.FromItem(newArchiveItem(0x1234, "grouping=A"), 1, 0, "testfs", 100)
		ok := s.Enqueue(n, action.SourceUplink)
		Expect(ok).To(BeTrue())
		Expect(s.PendingArchive).To(Equal(1))
		Expect(s.Archive.Len()).To(Equal(1))
	})

	It("silently drops a duplicate key", func() {
		n1 := action.FromItem(newArchiveItem(0x1234, "grouping=A"), 1, 0, "testfs", 100)
		n2 := action.FromItem(newArchiveItem(0x1234, "grouping=A"), 1, 0, "testfs", 200)
		Expect(s.Enqueue(n1, action.SourceUplink)).To(BeTrue())
		Expect(s.Enqueue(n2, action.SourceUplink)).To(BeFalse())
		Expect(s.PendingArchive).To(Equal(1))
	})

	It("round-trips pending/running counters across enqueue and complete", func() {
		n := action.FromItem(newArchiveItem(0x1234, "grouping=A"), 1, 0, "testfs", 100)
		s.Enqueue(n, action.SourceUplink)
		s.Archive.Unlink(n)
		s.MarkRunning(n)
		Expect(s.PendingArchive).To(Equal(0))
		Expect(s.RunningArchive).To(Equal(1))

		got, ok := s.Complete(n.Key)
		Expect(ok).To(BeTrue())
		Expect(got).To(Equal(n))
		Expect(s.RunningArchive).To(Equal(0))
		Expect(s.DoneArchive).To(Equal(1))
		Expect(s.Find(n.Key)).To(BeNil())
	})

	It("reports not-found for completion of an unknown key and leaves counters untouched", func() {
		n := action.FromItem(newArchiveItem(0x9999, "grouping=A"), 1, 0, "testfs", 100)
		_, ok := s.Complete(n.Key)
		Expect(ok).To(BeFalse())
		Expect(s.RunningArchive).To(Equal(0))
		Expect(s.DoneArchive).To(Equal(0))
	})

	It("treats cancel of an unknown cookie as a no-op", func() {
		got := s.Cancel(action.Key{Cookie: 0xdead})
		Expect(got).To(BeNil())
	})

	It("decrements running (not pending) when cancelling an assigned action", func() {
		n := action.FromItem(newArchiveItem(0x1234, "grouping=A"), 1, 0, "testfs", 100)
		s.Enqueue(n, action.SourceUplink)
		s.Archive.Unlink(n)
		s.MarkRunning(n)
		Expect(s.RunningArchive).To(Equal(1))

		got := s.CancelRunning(n.Key)
		Expect(got).To(Equal(n))
		Expect(s.RunningArchive).To(Equal(0))
		Expect(s.PendingArchive).To(Equal(0))
		Expect(s.Find(n.Key)).To(BeNil())
	})

	It("requeues all nodes from a drained list back to the global FIFO", func() {
		n1 := action.FromItem(newArchiveItem(0x1, "a"), 1, 0, "testfs", 1)
		n2 := action.FromItem(newArchiveItem(0x2, "b"), 1, 0, "testfs", 2)
		s.Enqueue(n1, action.SourceUplink)
		s.Enqueue(n2, action.SourceUplink)

		staging := action.NewList()
		staging.PushBack(n1)
		staging.PushBack(n2)
		s.Archive.Unlink(n1)
		s.Archive.Unlink(n2)

		s.RequeueAll(staging)
		Expect(staging.Empty()).To(BeTrue())
		Expect(s.Archive.Len()).To(Equal(2))
	})
})

var _ = Describe("List", func() {
	It("keeps a node linked in exactly one list when moved between lists", func() {
		a := action.NewList()
		b := action.NewList()
		n := action.FromItem(newArchiveItem(0x1, "x"), 1, 0, "fs", 1)

		a.PushBack(n)
		Expect(n.Owner()).To(Equal(a))

		b.PushBack(n)
		Expect(n.Owner()).To(Equal(b))
		Expect(a.Len()).To(Equal(0))
		Expect(b.Len()).To(Equal(1))
	})
})
