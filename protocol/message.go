package protocol

// HALVersion is the hsm_action_list wire-format version the coordinator
// speaks. Bumped only on an incompatible change to the item shape.
const HALVersion = 1

// HAISizeMargin bounds how small a worker's max_bytes may be: the native
// hsm_action_item struct (hai_action, two fids, extent offset/length,
// cookie, gid -- 7 x 8 bytes) plus 100 bytes of slack for hai_data, mirroring
// HAI_SIZE_MARGIN in coordinatool.h.
const HAISizeMargin = 56 + 100

// HSMActionItem mirrors the native hsm_action_item struct field-for-field.
// HaiData may contain embedded NUL bytes; jsoniter round-trips them as a
// regular Go string since encoding/json's   escaping is lossless.
type HSMActionItem struct {
	HaiAction        Action `json:"hai_action"`
	HaiFid           FID    `json:"hai_fid"`
	HaiDfid          FID    `json:"hai_dfid"`
	HaiExtentOffset  uint64 `json:"hai_extent_offset"`
	HaiExtentLength  uint64 `json:"hai_extent_length"`
	HaiCookie        uint64 `json:"hai_cookie"`
	HaiGid           uint64 `json:"hai_gid"`
	HaiData          string `json:"hai_data"`
}

// HSMActionList wraps a list of items with the common fsname/archive-id/
// flags header shared across that reply's items.
type HSMActionList struct {
	HalVersion   int             `json:"hal_version"`
	HalArchiveID uint32          `json:"hal_archive_id"`
	HalFlags     uint64          `json:"hal_flags"`
	HalFsname    string          `json:"hal_fsname"`
	List         []HSMActionItem `json:"list"`
}

// Command names, matching the `command` discriminator field.
const (
	CmdEHLO   = "ehlo"
	CmdStatus = "status"
	CmdRecv   = "recv"
	CmdDone   = "done"
	CmdQueue  = "queue"
	CmdCancel = "cancel"
)

// EHLORequest is sent by a worker immediately after connecting.
type EHLORequest struct {
	Command    string   `json:"command"`
	ID         string   `json:"id,omitempty"`
	ArchiveIDs []uint32 `json:"archive_ids,omitempty"`
	HaiList    []HSMActionItem `json:"hai_list,omitempty"`
}

// EHLOReply acknowledges or rejects an EHLO.
type EHLOReply struct {
	Command string `json:"command"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
}

// StatusRequest asks for coordinator/worker statistics.
type StatusRequest struct {
	Command string `json:"command"`
	Verbose int    `json:"verbose,omitempty"`
}

// BatchStatus reports one worker batch slot for a verbose status dump.
type BatchStatus struct {
	Hint          string `json:"hint"`
	CurrentCount  int    `json:"current_count"`
	ExpireIdleS   int64  `json:"expire_idle_s"`
	ExpireMaxS    int64  `json:"expire_max_s"`
}

// ClientStatus reports one worker's counters for a STATUS reply.
type ClientStatus struct {
	ClientID              string          `json:"client_id"`
	Status                string          `json:"status"`
	CurrentRestore        int             `json:"current_restore"`
	CurrentArchive        int             `json:"current_archive"`
	CurrentRemove         int             `json:"current_remove"`
	DoneRestore           int             `json:"done_restore"`
	DoneArchive           int             `json:"done_archive"`
	DoneRemove            int             `json:"done_remove"`
	DisconnectedTimestamp int64           `json:"disconnected_timestamp,omitempty"`
	ActiveRequests        []HSMActionItem `json:"active_requests,omitempty"`
	WaitingRestore         []HSMActionItem `json:"waiting_restore,omitempty"`
	WaitingArchive         []HSMActionItem `json:"waiting_archive,omitempty"`
	WaitingRemove          []HSMActionItem `json:"waiting_remove,omitempty"`
	Batches                []BatchStatus   `json:"batches,omitempty"`
}

// StatusReply is the top-level STATUS reply assembly: overall stats plus
// one ClientStatus per known worker.
type StatusReply struct {
	Command       string         `json:"command"`
	Status        int            `json:"status"`
	Error         string         `json:"error,omitempty"`
	PendingArchive int           `json:"pending_archive"`
	PendingRestore int           `json:"pending_restore"`
	PendingRemove  int           `json:"pending_remove"`
	RunningArchive int           `json:"running_archive"`
	RunningRestore int           `json:"running_restore"`
	RunningRemove  int           `json:"running_remove"`
	DoneArchive    int           `json:"done_archive"`
	DoneRestore    int           `json:"done_restore"`
	DoneRemove     int           `json:"done_remove"`
	Clients        []ClientStatus `json:"clients,omitempty"`
}

// RecvRequest is a worker asking for up to the given capacity of work.
type RecvRequest struct {
	Command     string `json:"command"`
	MaxBytes    int64  `json:"max_bytes"`
	MaxArchive  int    `json:"max_archive"`
	MaxRestore  int    `json:"max_restore"`
	MaxRemove   int    `json:"max_remove"`
}

// RecvReply carries at most one hsm_action_list (single archive-id/flags
// tuple per spec) back to a worker, or an empty/error reply.
type RecvReply struct {
	Command       string         `json:"command"`
	Status        int            `json:"status"`
	Error         string         `json:"error,omitempty"`
	HsmActionList *HSMActionList `json:"hsm_action_list,omitempty"`
}

// DoneRequest reports completion of one action; shape matches spec.md's
// wire table (singular hai_cookie/hai_dfid/status), not the cookies-array
// variant that appears in some vendored client headers.
type DoneRequest struct {
	Command   string `json:"command"`
	HaiCookie uint64 `json:"hai_cookie"`
	HaiDfid   FID    `json:"hai_dfid"`
	Status    int    `json:"status"`
}

// DoneReply acknowledges a DONE request.
type DoneReply struct {
	Command string `json:"command"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
}

// QueueRequest lets a worker submit action items directly (bypassing the
// filesystem uplink), e.g. for testing or out-of-band injection.
type QueueRequest struct {
	Command        string          `json:"command"`
	Fsname         string          `json:"fsname,omitempty"`
	HsmActionItems []HSMActionItem `json:"hsm_action_items"`
}

// QueueReply reports how many items were accepted vs skipped (duplicates).
type QueueReply struct {
	Command  string `json:"command"`
	Status   int    `json:"status"`
	Error    string `json:"error,omitempty"`
	Enqueued int    `json:"enqueued"`
	Skipped  int    `json:"skipped"`
}

// CancelRequest asks the coordinator to cancel one action, either from
// the filesystem uplink (the action may already be assigned) or pushed
// to an assigned worker as a forwarded notification (the worker has no
// further reply to give beyond the transport ack). The wire shape was
// left "to be defined" upstream; this is the minimal one-cookie form
// consistent with DoneRequest's singular shape.
type CancelRequest struct {
	Command   string `json:"command"`
	HaiCookie uint64 `json:"hai_cookie"`
	HaiDfid   FID    `json:"hai_dfid"`
}

// CancelReply acknowledges a CancelRequest.
type CancelReply struct {
	Command string `json:"command"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
}
