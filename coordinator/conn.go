package coordinator

import (
	"net"

	"github.com/cea-hpc/lhsm-coordinator/clog"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/worker"
)

// workerLink pairs a registry worker.Worker with the live net.Conn
// backing it. Its reader and writer goroutines only ever move bytes
// across the channels below; Run alone touches the Worker it points to.
type workerLink struct {
	w    *worker.Worker
	conn net.Conn
	out  chan any
}

func newWorkerLink(w *worker.Worker, conn net.Conn) *workerLink {
	return &workerLink{w: w, conn: conn, out: make(chan any, 16)}
}

// send queues v for encoding. Never blocks the caller: a saturated queue
// (a wedged or catastrophically slow worker) drops the reply and logs,
// the same non-blocking-drop shape package mirror uses for its write
// queue.
func (l *workerLink) send(v any) {
	select {
	case l.out <- v:
	default:
		clog.Warnf("worker %s output queue full, dropping reply", l.w.ID)
	}
}

func (l *workerLink) writeLoop() {
	enc := protocol.NewEncoder(l.conn)
	for v := range l.out {
		if err := enc.Encode(v); err != nil {
			clog.Warnf("write to worker %s failed: %v", l.w.ID, err)
			l.conn.Close()
			return
		}
	}
}

// workerMsg is what a reader goroutine pushes onto Coordinator.msgs: a
// successfully decoded envelope, or a terminal read error signalling the
// connection is gone.
type workerMsg struct {
	link *workerLink
	env  protocol.RawEnvelope
	err  error
}

func (l *workerLink) readLoop(msgs chan<- workerMsg) {
	dec := protocol.NewDecoder(l.conn)
	for {
		env, err := dec.DecodeRaw()
		if err != nil {
			msgs <- workerMsg{link: l, err: err}
			return
		}
		msgs <- workerMsg{link: l, env: env}
	}
}

// acceptLoop pushes accepted connections onto accepts until the
// listener errors (including on intentional Close) or stop fires.
func acceptLoop(ln net.Listener, accepts chan<- net.Conn, stop <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
			default:
				clog.Errorf("accept failed: %v", err)
			}
			return
		}
		select {
		case accepts <- conn:
		case <-stop:
			conn.Close()
			return
		}
	}
}
