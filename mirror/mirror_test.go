package mirror_test

import (
	"testing"
	"time"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/mirror"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

func testNode(cookie uint64) *action.Node {
	return action.FromItem(protocol.HSMActionItem{
		HaiAction: protocol.ActionArchive,
		HaiCookie: cookie,
		HaiDfid:   protocol.FID{Seq: 1, Oid: 2, Ver: 3},
		HaiData:   "grouping=tag",
	}, 1, 0, "testfs", 1000)
}

func TestDisabledStoreIsNoop(t *testing.T) {
	s, err := mirror.Open("", false, 0)
	if err != nil {
		t.Fatalf("Open(\"\") returned error: %v", err)
	}
	s.Insert(testNode(1))
	s.Delete(action.Key{Cookie: 1})
	if err := s.Close(); err != nil {
		t.Fatalf("Close on disabled store: %v", err)
	}
}

func TestInsertAndDeleteRoundTrip(t *testing.T) {
	s, err := mirror.Open(":memory:", false, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	n := testNode(0xbeef)
	s.Insert(n)
	s.Delete(n.Key)

	// Background writer drains asynchronously; Close waits for the queue
	// to empty, so call it to synchronize before asserting completion
	// would require a separate handle. Here we just give the goroutine a
	// moment, since Insert/Delete are fire-and-forget by design.
	time.Sleep(20 * time.Millisecond)
}

func TestCompressedInsert(t *testing.T) {
	s, err := mirror.Open(":memory:", true, 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Insert(testNode(7))
	time.Sleep(20 * time.Millisecond)
}
