package uplink_test

import (
	"bytes"
	"testing"

	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/uplink"
)

func encodeList(t *testing.T, list protocol.HSMActionList) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := protocol.NewEncoder(buf).Encode(&list); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestReaderAcceptsValidFrame(t *testing.T) {
	list := protocol.HSMActionList{
		HalVersion:   protocol.HALVersion,
		HalArchiveID: 1,
		HalFsname:    "testfs",
		List: []protocol.HSMActionItem{
			{HaiAction: protocol.ActionArchive, HaiCookie: 1},
		},
	}
	r := uplink.NewReader(bytes.NewReader(encodeList(t, list)))
	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(got.List) != 1 || got.List[0].HaiCookie != 1 {
		t.Fatalf("unexpected decoded list: %+v", got)
	}
}

func TestReaderRejectsWrongVersion(t *testing.T) {
	list := protocol.HSMActionList{HalVersion: protocol.HALVersion + 1}
	r := uplink.NewReader(bytes.NewReader(encodeList(t, list)))
	if _, err := r.Next(); err == nil {
		t.Fatalf("expected version rejection")
	}
}
