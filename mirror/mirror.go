// Package mirror asynchronously shadows the live action set into an
// embedded KV store so that an external observer (or a future
// coordinator instance, in principle) can see in-flight work without
// touching the single event loop. It is the Go counterpart of
// copytool/redis.c's fire-and-forget hset/hdel pair: Insert and Delete
// never block the caller and never fail the action they mirror --
// errors are logged and dropped, exactly as redis_insert/redis_delete
// treat a redis error as non-fatal to the coordinator itself.
//
// Deliberately not implemented: per-action assignment tracking
// (redis_assign_request / redis_recovery in the original). Recovery
// after a restart relies on the on-disk per-worker state directory plus
// EHLO replay, not on reconstructing state from the mirror.
package mirror

import (
	"encoding/binary"
	"sync"

	"github.com/pierrec/lz4/v3"
	"github.com/tidwall/buntdb"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
)

const bucketKey = "requests"

// Store mirrors action.Node insert/delete calls into a buntdb database,
// off the caller's goroutine. Queue is bounded; a full queue drops the
// update and logs a warning rather than applying backpressure to the
// event loop, matching the original's "useful to work even if redis is
// down" stance.
type Store struct {
	db      *buntdb.DB
	queue   chan job
	wg      sync.WaitGroup
	compress bool

	closeOnce sync.Once
	done      chan struct{}
}

type jobKind int

const (
	jobInsert jobKind = iota
	jobDelete
)

type job struct {
	kind jobKind
	key  string
	rec  Record
}

// Open opens (creating if absent) a buntdb file at path and starts the
// background writer goroutine. An empty path disables mirroring
// entirely and returns a *Store whose Insert/Delete are no-ops, mirroring
// "allow running without redis if redis_host is empty".
func Open(path string, compress bool, queueDepth int) (*Store, error) {
	if path == "" {
		return &Store{}, nil
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	s := &Store{
		db:       db,
		queue:    make(chan job, queueDepth),
		compress: compress,
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Close stops the background writer and closes the database. Safe to
// call on a disabled (nil-db) Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
	return s.db.Close()
}

func keyFor(k action.Key) string {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], k.Cookie)
	binary.LittleEndian.PutUint32(b[8:12], k.Dfid.Oid)
	binary.LittleEndian.PutUint32(b[12:16], k.Dfid.Ver)
	return string(b[:])
}

// Insert mirrors n's current state, overwriting any prior record under
// the same key. Enqueues and returns immediately; a full queue drops
// the update with a log warning.
func (s *Store) Insert(n *action.Node) {
	if s == nil || s.db == nil {
		return
	}
	rec := Record{
		Cookie:     n.Key.Cookie,
		DfidSeq:    n.Key.Dfid.Seq,
		DfidOid:    n.Key.Dfid.Oid,
		DfidVer:    n.Key.Dfid.Ver,
		Kind:       int32(n.Kind),
		ArchiveID:  n.ArchiveID,
		Flags:      n.Flags,
		Fsname:     n.Fsname,
		Data:       n.Data,
		Hint:       n.Hint,
		EnqueuedNS: n.EnqueuedNS,
	}
	s.enqueue(job{kind: jobInsert, key: keyFor(n.Key), rec: rec})
}

// Delete mirrors removal of the action under k. Enqueues and returns
// immediately.
func (s *Store) Delete(k action.Key) {
	if s == nil || s.db == nil {
		return
	}
	s.enqueue(job{kind: jobDelete, key: keyFor(k)})
}

func (s *Store) enqueue(j job) {
	select {
	case s.queue <- j:
	default:
		clog.Warnf("mirror queue full, dropping update kind %d", j.kind)
	}
}

func (s *Store) run() {
	defer s.wg.Done()
	for j := range s.queue {
		var err error
		switch j.kind {
		case jobInsert:
			err = s.applyInsert(j.key, &j.rec)
		case jobDelete:
			err = s.applyDelete(j.key)
		}
		if err != nil {
			clog.Warnf("mirror write failed: %v", err)
		}
	}
}

func (s *Store) applyInsert(key string, rec *Record) error {
	raw, err := rec.MarshalMsg(make([]byte, 0, rec.Msgsize()))
	if err != nil {
		return err
	}
	if s.compress {
		raw = lz4Compress(raw)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(bucketKey+":"+key, string(raw), nil)
		return err
	})
}

func (s *Store) applyDelete(key string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(bucketKey + ":" + key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func lz4Compress(b []byte) []byte {
	out := make([]byte, lz4.CompressBlockBound(len(b)))
	n, err := lz4.CompressBlock(b, out, nil)
	if err != nil || n == 0 {
		return b
	}
	return out[:n]
}

var _ action.Mirror = (*Store)(nil)
