// Package enrich implements the action store's enrichment pipeline: the
// step between "a new action entered the index" and "the scheduler is
// consulted" that tags a node with the hint/object-id fields the
// scheduler's host-mapping, batching, and locate paths depend on.
// Grounded on the same payload-scanning idiom as
// copytool/reporting.c's report_new_action, generalized to extract more
// than one needle.
package enrich

import (
	"github.com/cea-hpc/lhsm-coordinator/action"
	"github.com/cea-hpc/lhsm-coordinator/protocol"
	"github.com/cea-hpc/lhsm-coordinator/uplink"
)

// Pipeline implements action.Enricher. HintNeedle (e.g. "grouping=")
// tags actions of every kind for batching and host-mapping; ObjectIDNeedle
// (e.g. "object_id=") tags restore actions for the backend locator.
// Either may be left empty to disable that half of the pipeline.
type Pipeline struct {
	HintNeedle     string
	ObjectIDNeedle string
}

// Enrich tags n in place. Called once, at Store.Enqueue time, before the
// scheduler is consulted; never called for recovered actions. The
// state-dir record those are rebuilt from does not carry the hint or
// object id, so a recovered node has neither set.
func (p *Pipeline) Enrich(n *action.Node) {
	if p.HintNeedle != "" {
		if hint, ok := uplink.ExtractHint(n.Data, p.HintNeedle); ok {
			n.Hint = hint
		}
	}
	if p.ObjectIDNeedle != "" && n.Kind == protocol.ActionRestore {
		if id, ok := uplink.ExtractHint(n.Data, p.ObjectIDNeedle); ok {
			n.ObjectID = id
		}
	}
}

var _ action.Enricher = (*Pipeline)(nil)
