package batch_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/batch"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

var _ = Describe("Slot", func() {
	It("is reserved while now is before both deadlines", func() {
		s := batch.NewSlot()
		s.Allocate("tag1", 1000, 500, 2000, true)
		Expect(s.StillReserved(1400)).To(BeTrue())
	})

	It("stops being reserved past the idle deadline when waiting is empty", func() {
		s := batch.NewSlot()
		s.Allocate("tag1", 1000, 500, 2000, true)
		Expect(s.StillReserved(1600)).To(BeFalse())
	})

	It("stays reserved past the idle deadline when waiting is non-empty", func() {
		s := batch.NewSlot()
		s.Allocate("tag1", 1000, 500, 2000, true)
		item := protocol.HSMActionItem{HaiAction: protocol.ActionArchive, HaiCookie: 1}
		s.Waiting.PushBack(action.FromItem(item, 1, 0, "fs", 1000))
		Expect(s.StillReserved(1600)).To(BeTrue())
	})

	It("stops being reserved past the max deadline regardless of activity", func() {
		s := batch.NewSlot()
		s.Allocate("tag1", 1000, 0, 500, true)
		Expect(s.StillReserved(1600)).To(BeFalse())
	})

	It("finds a slot by hint, ignoring unallocated slots", func() {
		s1 := batch.NewSlot()
		s2 := batch.NewSlot()
		s2.Allocate("tag2", 0, 0, 0, true)
		Expect(batch.FindSlot([]*batch.Slot{s1, s2}, "tag2")).To(Equal(s2))
		Expect(batch.FindSlot([]*batch.Slot{s1, s2}, "tag1")).To(BeNil())
	})

	It("divides a per-reply cap evenly across slots, rounding up", func() {
		Expect(batch.PerSlotCap(4, 2)).To(Equal(2))
		Expect(batch.PerSlotCap(5, 2)).To(Equal(3))
		Expect(batch.PerSlotCap(-1, 2)).To(Equal(-1))
		Expect(batch.PerSlotCap(4, 0)).To(Equal(-1))
	})
})
