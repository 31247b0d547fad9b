package uplink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cea-hpc/lhsm-coordinator/action"
)

// Reporter appends plain-text progress lines to per-hint-tag files under a
// directory, refcounted by the number of live actions sharing a hint, and
// unlinks the file once the last action referencing it completes.
// Grounded on copytool/reporting.c's report_new_action/report_action/
// report_free_action; the append-only O_APPEND file per hint tag is kept,
// the tsearch-based refcount tree becomes a plain map.
type Reporter struct {
	dir  string
	hint string // needle passed to ExtractHint, e.g. "grouping="

	mu       sync.Mutex
	refcount map[string]int
}

// NewReporter returns a Reporter rooted at dir, or a disabled Reporter if
// dir is empty (report methods become no-ops, mirroring
// state->reporting_dir_fd < 0).
func NewReporter(dir, hintNeedle string) *Reporter {
	return &Reporter{dir: dir, hint: hintNeedle, refcount: make(map[string]int)}
}

func (r *Reporter) enabled() bool { return r != nil && r.dir != "" }

func (r *Reporter) write(hint, format string, args ...any) {
	if !r.enabled() {
		return
	}
	path := filepath.Join(r.dir, hint)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, format, args...)
}

// New registers n for reporting if its payload carries the configured
// hint tag, bumping the tag's refcount and emitting a "new" line. The
// extracted hint is stashed on n so later calls don't need to
// re-parse the payload.
func (r *Reporter) New(n *action.Node) {
	if !r.enabled() {
		return
	}
	hint, ok := ExtractHint(n.Data, r.hint)
	if !ok {
		return
	}
	n.Hint = hint

	r.mu.Lock()
	r.refcount[hint]++
	r.mu.Unlock()

	r.write(hint, "new %s\n", n.Key.Dfid)
}

// Assigned reports that n was handed to worker id.
func (r *Reporter) Assigned(n *action.Node, workerID string) {
	if n.Hint == "" {
		return
	}
	r.write(n.Hint, "assigned %s %s\n", n.Key.Dfid, workerID)
}

// Sent reports that n went out on the wire to worker id.
func (r *Reporter) Sent(n *action.Node, workerID string) {
	if n.Hint == "" {
		return
	}
	r.write(n.Hint, "sent %s %s\n", n.Key.Dfid, workerID)
}

// Done reports completion with the given status, then releases n's
// reference on its hint tag, unlinking the report file once the last
// reference is gone.
func (r *Reporter) Done(n *action.Node, status int) {
	if n.Hint == "" {
		return
	}
	r.write(n.Hint, "done %s %d\n", n.Key.Dfid, status)
	r.release(n.Hint)
}

// Progress reports pos/total for n's waiting position within its queue,
// e.g. when an idle timer periodically sweeps pending work.
func (r *Reporter) Progress(n *action.Node, worker string, pos, total int) {
	if n.Hint == "" {
		return
	}
	if worker == "" {
		worker = "global_queue"
	}
	r.write(n.Hint, "progress %s %s %d/%d\n", n.Key.Dfid, worker, pos, total)
}

func (r *Reporter) release(hint string) {
	if !r.enabled() {
		return
	}
	r.mu.Lock()
	r.refcount[hint]--
	done := r.refcount[hint] <= 0
	if done {
		delete(r.refcount, hint)
	}
	r.mu.Unlock()

	if done {
		os.Remove(filepath.Join(r.dir, hint))
	}
}
