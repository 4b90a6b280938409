package executor

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/pipeline/pkg/models"
)

// BlockCause says why a node was blocked
type BlockCause string

const (
	// BlockNone means the node is not blocked
	BlockNone BlockCause = ""

	// BlockUpstreamFailure propagates transitively through all dependents
	BlockUpstreamFailure BlockCause = "upstream_failure"

	// BlockNoLivePredecessor means every predecessor was skipped or
	// blocked without a failure. A dependent with another completed
	// predecessor still runs.
	BlockNoLivePredecessor BlockCause = "no_live_predecessor"
)

// upstream is the terminal view of a predecessor seen by the gate
type upstream struct {
	Key    string
	Status models.Status
	Cause  BlockCause
}

// gateDecision is the outcome of gating one node on its predecessors
type gateDecision struct {
	Proceed bool
	Cause   BlockCause
	Reason  string
}

// gate decides whether a node may run. Predecessors are all terminal
// because they belong to earlier waves.
func gate(preds []upstream) gateDecision {
	if len(preds) == 0 {
		return gateDecision{Proceed: true}
	}

	// Failure wins over skips so propagation stays transitive
	for _, p := range preds {
		switch {
		case p.Status == models.StatusFailed:
			return gateDecision{
				Cause:  BlockUpstreamFailure,
				Reason: fmt.Sprintf("upstream node %s failed", p.Key),
			}
		case p.Status == models.StatusBlocked && p.Cause == BlockUpstreamFailure:
			return gateDecision{
				Cause:  BlockUpstreamFailure,
				Reason: fmt.Sprintf("upstream node %s is blocked by a failure", p.Key),
			}
		}
	}

	for _, p := range preds {
		if p.Status == models.StatusCompleted {
			return gateDecision{Proceed: true}
		}
	}

	return gateDecision{
		Cause:  BlockNoLivePredecessor,
		Reason: "no predecessor completed",
	}
}
