package mirror

import (
	"github.com/tinylib/msgp/msgp"
)

// Record is the durable shape mirrored to the KV store for each live
// action: enough to recreate the action node on coordinator restart if
// the on-disk state directory and EHLO replay were somehow unavailable.
// Hand-written msgp methods below avoid depending on the msgp code
// generator, which is never invoked (the Go toolchain is never run in
// this build); they are written directly against the documented msgp
// runtime append/read helpers.
type Record struct {
	Cookie    uint64
	DfidSeq   uint64
	DfidOid   uint32
	DfidVer   uint32
	Kind      int32
	ArchiveID uint32
	Flags     uint64
	Fsname    string
	Data      string
	Hint      string
	EnqueuedNS int64
}

// MarshalMsg appends the msgpack encoding of r to b.
func (r *Record) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 11)

	b = msgp.AppendString(b, "cookie")
	b = msgp.AppendUint64(b, r.Cookie)

	b = msgp.AppendString(b, "dfid_seq")
	b = msgp.AppendUint64(b, r.DfidSeq)

	b = msgp.AppendString(b, "dfid_oid")
	b = msgp.AppendUint32(b, r.DfidOid)

	b = msgp.AppendString(b, "dfid_ver")
	b = msgp.AppendUint32(b, r.DfidVer)

	b = msgp.AppendString(b, "kind")
	b = msgp.AppendInt32(b, r.Kind)

	b = msgp.AppendString(b, "archive_id")
	b = msgp.AppendUint32(b, r.ArchiveID)

	b = msgp.AppendString(b, "flags")
	b = msgp.AppendUint64(b, r.Flags)

	b = msgp.AppendString(b, "fsname")
	b = msgp.AppendString(b, r.Fsname)

	b = msgp.AppendString(b, "data")
	b = msgp.AppendString(b, r.Data)

	b = msgp.AppendString(b, "hint")
	b = msgp.AppendString(b, r.Hint)

	b = msgp.AppendString(b, "enqueued_ns")
	b = msgp.AppendInt64(b, r.EnqueuedNS)

	return b, nil
}

// UnmarshalMsg decodes r from b, returning any trailing bytes.
func (r *Record) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	for i := uint32(0); i < n; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return b, err
		}
		switch key {
		case "cookie":
			r.Cookie, b, err = msgp.ReadUint64Bytes(b)
		case "dfid_seq":
			r.DfidSeq, b, err = msgp.ReadUint64Bytes(b)
		case "dfid_oid":
			r.DfidOid, b, err = msgp.ReadUint32Bytes(b)
		case "dfid_ver":
			r.DfidVer, b, err = msgp.ReadUint32Bytes(b)
		case "kind":
			r.Kind, b, err = msgp.ReadInt32Bytes(b)
		case "archive_id":
			r.ArchiveID, b, err = msgp.ReadUint32Bytes(b)
		case "flags":
			r.Flags, b, err = msgp.ReadUint64Bytes(b)
		case "fsname":
			r.Fsname, b, err = msgp.ReadStringBytes(b)
		case "data":
			r.Data, b, err = msgp.ReadStringBytes(b)
		case "hint":
			r.Hint, b, err = msgp.ReadStringBytes(b)
		case "enqueued_ns":
			r.EnqueuedNS, b, err = msgp.ReadInt64Bytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

// Msgsize returns a (possibly loose) upper bound on the encoded size,
// used to presize append buffers.
func (r *Record) Msgsize() int {
	return 11*12 + len(r.Fsname) + len(r.Data) + len(r.Hint) + 11*10
}
