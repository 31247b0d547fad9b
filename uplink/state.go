package uplink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"

	jsoniter "github.com/json-iterator/go"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

// stateRecord is the flat, on-disk shape of one persisted action: the
// hsm_action_item fields plus the hal_* header fields carried alongside
// it in the same file, mirroring state.c's process_client_state reading
// hal_archive_id/hal_flags/hal_fsname and the hai_* fields out of one
// json object.
type stateRecord struct {
	protocol.HSMActionItem
	HalArchiveID uint32 `json:"hal_archive_id"`
	HalFlags     uint64 `json:"hal_flags"`
	HalFsname    string `json:"hal_fsname"`
}

var stateJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// stateFileName derives a filesystem-safe name for an action's state
// file from its cookie, matching the original's practice of naming each
// client state file after the action it represents.
func stateFileName(cookie uint64) string {
	return fmt.Sprintf("%016x", cookie)
}

// WriteState persists n's state-dir file under <root>/<clientID>/<cookie
// hex>, creating the client directory if needed. Called whenever a node
// is newly assigned to a worker, so a crash can recover in-flight work
// via ScanStateDir + EHLO replay.
func WriteState(root, clientID string, n *action.Node) error {
	if root == "" {
		return nil
	}
	dir := filepath.Join(root, clientID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	rec := stateRecord{
		HSMActionItem: n.Item(),
		HalArchiveID:  n.ArchiveID,
		HalFlags:      n.Flags,
		HalFsname:     n.Fsname,
	}
	buf, err := stateJSON.Marshal(&rec)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, stateFileName(n.Key.Cookie))
	return os.WriteFile(path, buf, 0644)
}

// RemoveState deletes the state-dir file for (clientID, cookie), called
// on completion or cancellation. Missing files are not an error.
func RemoveState(root, clientID string, cookie uint64) error {
	if root == "" {
		return nil
	}
	path := filepath.Join(root, clientID, stateFileName(cookie))
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RecoveredClient groups the actions found under one client's state
// subdirectory, to be replayed as a synthesized DISCONNECTED worker
// record at startup.
type RecoveredClient struct {
	ClientID string
	Nodes    []*action.Node
}

// ScanStateDir walks root (one subdirectory per client id, one file per
// action) and reconstructs the actions found, without touching the
// registry or store -- the caller attaches each RecoveredClient to a
// synthesized disconnected worker and re-enqueues its nodes via
// action.SourceRecovery. A missing root is not an error (nothing to
// recover), matching client_state_init's "nothing to do if state dir
// doesn't exist".
func ScanStateDir(root string, nowNS int64) ([]RecoveredClient, error) {
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var clients []RecoveredClient
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		clientDir := filepath.Join(root, entry.Name())
		nodes, err := scanClientDir(clientDir, nowNS)
		if err != nil {
			return nil, err
		}
		clients = append(clients, RecoveredClient{ClientID: entry.Name(), Nodes: nodes})
	}
	return clients, nil
}

func scanClientDir(dir string, nowNS int64) ([]*action.Node, error) {
	var nodes []*action.Node
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == dir || de.IsDir() {
				return nil
			}
			buf, err := os.ReadFile(path)
			if err != nil {
				return nil // skip unreadable file, matching LOG_WARN + continue
			}
			var rec stateRecord
			if err := stateJSON.Unmarshal(buf, &rec); err != nil {
				return nil // skip invalid json, matching LOG_WARN + continue
			}
			n := action.FromItem(rec.HSMActionItem, rec.HalArchiveID, rec.HalFlags, rec.HalFsname, nowNS)
			nodes = append(nodes, n)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
