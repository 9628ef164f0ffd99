package signalbus

import "time"

// NodeID identifies an entity referenced by a Signal: an action, an
// analysis, a transitive set, or a top-level target. Signals reference
// nodes by identifier, not by ownership, so the bus never keeps build
// entities alive.
type NodeID string

// Kind distinguishes the signal shapes a Signal can report.
type Kind int

const (
	// KindActionExecuted reports a completed action: its own execution
	// duration and the node(s) it depended on.
	KindActionExecuted Kind = iota
	// KindAnalysisDone reports a completed target analysis.
	KindAnalysisDone
	// KindTransitiveSetComputed is a zero-duration node preserving
	// connectivity through a transitive set's member sets.
	KindTransitiveSetComputed
	// KindActionRedirection is a zero-duration node recording that Node's
	// work was redirected to RedirectTo.
	KindActionRedirection
	// KindTopLevelTarget injects zero-duration visibility edges from Node
	// to each entry of Reachable, applied only at BuildFinished.
	KindTopLevelTarget
	// KindBuildFinished ends the stream; signals received afterward are
	// dropped.
	KindBuildFinished
)

// Signal is one message on the bus. Field use varies by Kind:
//
//	ActionExecuted / AnalysisDone: Node, OwnDuration, Predecessors.
//	TransitiveSetComputed:         Node, Predecessors (= member sets).
//	ActionRedirection:             Node, RedirectTo.
//	TopLevelTarget:                Node, Reachable.
//	BuildFinished:                 no fields used.
type Signal struct {
	Kind         Kind
	Node         NodeID
	OwnDuration  time.Duration
	Predecessors []NodeID
	RedirectTo   NodeID
	Reachable    []NodeID
}
