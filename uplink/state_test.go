package uplink_test

import (
	"path/filepath"
	"testing"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/uplink"
)

func TestWriteScanRemoveStateRoundTrip(t *testing.T) {
	root := t.TempDir()

	n := action.FromItem(protocol.HSMActionItem{
		HaiAction: protocol.ActionArchive,
		HaiCookie: 0x99,
		HaiDfid:   protocol.FID{Seq: 1, Oid: 2, Ver: 3},
		HaiData:   "grouping=tag1",
	}, 7, 0, "testfs", 1000)

	if err := uplink.WriteState(root, "w1", n); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	clients, err := uplink.ScanStateDir(root, 2000)
	if err != nil {
		t.Fatalf("ScanStateDir: %v", err)
	}
	if len(clients) != 1 || clients[0].ClientID != "w1" {
		t.Fatalf("unexpected clients: %+v", clients)
	}
	if len(clients[0].Nodes) != 1 {
		t.Fatalf("expected 1 recovered node, got %d", len(clients[0].Nodes))
	}
	got := clients[0].Nodes[0]
	if got.Key.Cookie != 0x99 || got.ArchiveID != 7 || got.Fsname != "testfs" {
		t.Fatalf("unexpected recovered node: %+v", got)
	}

	if err := uplink.RemoveState(root, "w1", 0x99); err != nil {
		t.Fatalf("RemoveState: %v", err)
	}
	if _, err := filepath.Glob(filepath.Join(root, "w1", "*")); err != nil {
		t.Fatalf("glob: %v", err)
	}
	clients, err = uplink.ScanStateDir(root, 2000)
	if err != nil {
		t.Fatalf("ScanStateDir after remove: %v", err)
	}
	if len(clients) != 1 || len(clients[0].Nodes) != 0 {
		t.Fatalf("expected empty client dir after remove, got %+v", clients)
	}
}

func TestScanStateDirMissingRootIsNotError(t *testing.T) {
	clients, err := uplink.ScanStateDir(filepath.Join(t.TempDir(), "absent"), 0)
	if err != nil {
		t.Fatalf("expected no error for missing root, got %v", err)
	}
	if clients != nil {
		t.Fatalf("expected nil clients, got %+v", clients)
	}
}
