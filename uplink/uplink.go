// Package uplink implements the filesystem uplink's consumer side (frame
// validation), the persisted per-client state directory used for crash
// recovery, and the reporting directory's progress export -- the three
// collaborators named, but not specified in detail, by the scheduler's
// contract.
package uplink

import (
	"fmt"
	"io"
	"math"

	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

// Reader decodes hsm_action_list frames from the kernel uplink's byte
// stream, validating hal_version and hal_count before handing a frame
// back to the caller (package coordinator, which enqueues each item into
// the action store).
type Reader struct {
	dec *protocol.Decoder
}

// NewReader wraps r, a reliable in-order byte stream per the uplink's
// non-goal contract (TLS, framing, and the kernel protocol itself are
// out of scope).
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: protocol.NewDecoder(r)}
}

// Next decodes the next hsm_action_list frame, rejecting a wrong
// hal_version or a list whose length would overflow a native 32-bit
// count (hal_count > INT_MAX in the original).
func (u *Reader) Next() (*protocol.HSMActionList, error) {
	var list protocol.HSMActionList
	if err := u.dec.Next(&list); err != nil {
		return nil, err
	}
	if list.HalVersion != protocol.HALVersion {
		return nil, fmt.Errorf("uplink: unsupported hal_version %d", list.HalVersion)
	}
	if len(list.List) > math.MaxInt32 {
		return nil, fmt.Errorf("uplink: hal_count %d exceeds INT_MAX", len(list.List))
	}
	return &list, nil
}
