// Package coordinator implements the single cooperative event loop that
// owns every other package's mutable state: the action store, worker
// registry, scheduler, mirror, timer engine, and the filesystem uplink.
// Exactly one goroutine -- the one running Run -- ever mutates that
// state. Every connection and every uplink read lives in its own
// goroutine, but each of those only ever pushes a decoded message onto a
// channel Run selects on, or drains a channel of replies Run queued for
// it. This is the Go-native re-expression of the original coordinator's
// single epoll_fd loop over one global struct.
package coordinator

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/metrics"
	"github.com/cea-hpc/lhsm-coordinator/mirror"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/sched"
	"github.com/cea-hpc/lhsm-coordinator/timer"
	"github.com/cea-hpc/lhsm-coordinator/uplink"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// Status codes used on the wire. The byte-exact shape of these is
// explicitly out of scope; these three are enough to express the
// taxonomy in the error-handling section: success, malformed/rejected
// input, and a conflicting identifier.
const (
	statusOK     = 0
	statusEINVAL = -1
	statusEEXIST = -2
)

// Coordinator wires together the action store, worker registry,
// scheduler, mirror, reporter, and metrics registry and drives them from
// Run's event loop.
type Coordinator struct {
	Store     *action.Store
	Registry  *worker.Registry
	Scheduler *sched.Scheduler
	Mirror    *mirror.Store
	Metrics   *metrics.Registry
	Reporter  *uplink.Reporter
	StateDir  string

	// Clock returns the current time in nanoseconds; overridden in tests.
	Clock func() int64

	listener net.Listener
	uplinkR  *uplink.Reader

	msgs    chan workerMsg
	accepts chan net.Conn

	uplinkLists chan *protocol.HSMActionList
	uplinkErrs  chan error

	abort chan struct{}

	links map[*worker.Worker]*workerLink

	timerEngine *timer.Engine

	snapMu      sync.RWMutex
	snapStatus  protocol.StatusReply
	snapWorkers []protocol.ClientStatus
}

// New wires a Coordinator. uplinkSrc may be nil when no filesystem uplink
// is attached (e.g. a worker-only test harness driven purely through
// QUEUE requests).
func New(store *action.Store, registry *worker.Registry, scheduler *sched.Scheduler,
	mir *mirror.Store, reporter *uplink.Reporter, metricsReg *metrics.Registry,
	stateDir string, ln net.Listener, uplinkSrc io.Reader) *Coordinator {

	c := &Coordinator{
		Store:       store,
		Registry:    registry,
		Scheduler:   scheduler,
		Mirror:      mir,
		Reporter:    reporter,
		Metrics:     metricsReg,
		StateDir:    stateDir,
		Clock:       func() int64 { return time.Now().UnixNano() },
		listener:    ln,
		msgs:        make(chan workerMsg, 64),
		accepts:     make(chan net.Conn, 16),
		uplinkLists: make(chan *protocol.HSMActionList, 16),
		uplinkErrs:  make(chan error, 1),
		abort:       make(chan struct{}),
		links:       make(map[*worker.Worker]*workerLink),
	}
	if uplinkSrc != nil {
		c.uplinkR = uplink.NewReader(uplinkSrc)
	}
	c.timerEngine = timer.New(c.now,
		timer.SourceFunc(c.Registry.NextGraceExpiry),
		timer.SourceFunc(c.nextBatchExpiry),
	)
	return c
}

func (c *Coordinator) now() int64 {
	if c.Clock == nil {
		return time.Now().UnixNano()
	}
	return c.Clock()
}

// Abort requests a graceful shutdown of the event loop, e.g. from the
// admin HTTP surface's bearer-token-gated /admin/abort endpoint.
func (c *Coordinator) Abort() {
	select {
	case <-c.abort:
	default:
		close(c.abort)
	}
}

// Run recovers any persisted in-flight state, then drives the event loop
// until ctx is cancelled or Abort is called. The accept and uplink
// goroutines always return nil to the errgroup; uplink read errors are
// logged and the loop keeps running.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.recoverState(); err != nil {
		clog.Warnf("recovering persisted state failed: %v", err)
	}
	c.refreshMetrics()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		acceptLoop(c.listener, c.accepts, gctx.Done())
		return nil
	})

	if c.uplinkR != nil {
		g.Go(func() error {
			uplinkReadLoop(c.uplinkR, c.uplinkLists, c.uplinkErrs, gctx.Done())
			return nil
		})
	}

	for {
		timerCh := c.timerEngine.Rearm()

		select {
		case <-ctx.Done():
			c.listener.Close()
			return g.Wait()

		case <-c.abort:
			clog.Infof("abort requested, shutting down")
			c.listener.Close()
			return g.Wait()

		case conn := <-c.accepts:
			c.handleAccept(conn)

		case m := <-c.msgs:
			c.handleMessage(m)

		case list := <-c.uplinkLists:
			c.handleUplinkList(list)

		case err := <-c.uplinkErrs:
			clog.Errorf("uplink read failed: %v", err)

		case <-timerCh:
			c.handleTimer()
		}
	}
}

// StatusSnapshot implements metrics.StatusProvider.
func (c *Coordinator) StatusSnapshot() any {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapStatus
}

// WorkerSnapshot implements metrics.StatusProvider.
func (c *Coordinator) WorkerSnapshot() any {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snapWorkers
}
