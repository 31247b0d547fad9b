package sched_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/hostmap"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/sched"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

func newScheduler(store *action.Store, reg *worker.Registry, batchSlots int, idleNS, maxNS int64) *sched.Scheduler {
	s := &sched.Scheduler{
		Store:       store,
		Registry:    reg,
		Fsname:      "testfs",
		BatchSlots:  batchSlots,
		BatchIdleNS: idleNS,
		BatchMaxNS:  maxNS,
		Clock:       func() int64 { return 1000 },
		Rand:        rand.New(rand.NewSource(1)),
	}
	store.Scheduler = s
	return s
}

func archiveItem(cookie uint64, data string) protocol.HSMActionItem {
	return protocol.HSMActionItem{
		HaiAction: protocol.ActionArchive,
		HaiDfid:   protocol.FID{Seq: 0x4200000000, Oid: 1, Ver: 0},
		HaiCookie: cookie,
		HaiData:   data,
	}
}

func enqueueArchive(store *action.Store, cookie uint64, data string) *action.Node {
	n := action.FromItem(archiveItem(cookie, data), 1, 0, "testfs", 1000)
	n.Hint = data
	store.Enqueue(n, action.SourceUplink)
	return n
}

var _ = Describe("single-archive dispatch", func() {
	It("dispatches exactly one item and updates running/pending counters", func() {
		store := action.NewStore()
		reg := worker.NewRegistry(0, 10_000_000_000)
		newScheduler(store, reg, 0, 0, 0)

		enqueueArchive(store, 0x1234, "grouping=A")
		Expect(store.PendingArchive).To(Equal(1))

		w := reg.Accept("addr1", nil)
		reg.EHLO(w, "w1", nil)
		w.MaxBytes = 1048576
		w.CapArchive = 1

		storeSched := store.Scheduler.(*sched.Scheduler)
		list := storeSched.Dispatch(w)
		Expect(list).NotTo(BeNil())
		Expect(list.List).To(HaveLen(1))
		Expect(list.List[0].HaiCookie).To(Equal(uint64(0x1234)))
		Expect(store.PendingArchive).To(Equal(0))
		Expect(store.RunningArchive).To(Equal(1))

		_, ok := store.Complete(action.Key{Cookie: 0x1234, Dfid: list.List[0].HaiDfid})
		Expect(ok).To(BeTrue())
		Expect(store.RunningArchive).To(Equal(0))
		Expect(store.DoneArchive).To(Equal(1))
		Expect(store.Len()).To(Equal(0))
	})
})

var _ = Describe("batch slot grouping", func() {
	It("caps each hint's dispatch at ceil(max_archive/batch_slots) per reply", func() {
		store := action.NewStore()
		reg := worker.NewRegistry(2, 10_000_000_000)
		s := newScheduler(store, reg, 2, 1_000_000_000, 0)

		enqueueArchive(store, 1, "tag1")
		enqueueArchive(store, 2, "tag1")
		enqueueArchive(store, 3, "tag1")
		enqueueArchive(store, 4, "tag2")
		enqueueArchive(store, 5, "tag2")

		w := reg.Accept("addr1", nil)
		reg.EHLO(w, "w1", nil)
		w.MaxBytes = 1 << 20
		w.CapArchive = 4

		list := s.Dispatch(w)
		Expect(list).NotTo(BeNil())
		Expect(list.List).To(HaveLen(4))

		counts := map[string]int{}
		byCookie := map[uint64]string{1: "tag1", 2: "tag1", 3: "tag1", 4: "tag2", 5: "tag2"}
		for _, item := range list.List {
			counts[byCookie[item.HaiCookie]]++
		}
		Expect(counts["tag1"]).To(BeNumerically("<=", 2))
		Expect(counts["tag2"]).To(BeNumerically("<=", 2))
	})
})

var _ = Describe("host mapping", func() {
	It("routes a mapped hint only to a configured host", func() {
		store := action.NewStore()
		reg := worker.NewRegistry(0, 10_000_000_000)
		s := newScheduler(store, reg, 0, 0, 0)
		s.HostMap = hostmap.New([]hostmap.Rule{{Tag: "ssd", Hosts: []string{"h1"}}})

		w3 := reg.Accept("addr3", nil)
		reg.EHLO(w3, "h3", nil)
		w3.MaxBytes = 1 << 20
		w3.CapArchive = -1

		enqueueArchive(store, 0xaa, "grouping=ssd")

		list := s.Dispatch(w3)
		Expect(list).To(BeNil())

		w1 := reg.Accept("addr1", nil)
		reg.EHLO(w1, "h1", nil)
		w1.MaxBytes = 1 << 20
		w1.CapArchive = -1

		list = s.Dispatch(w1)
		Expect(list).NotTo(BeNil())
		Expect(list.List).To(HaveLen(1))
		Expect(list.List[0].HaiCookie).To(Equal(uint64(0xaa)))
	})
})
