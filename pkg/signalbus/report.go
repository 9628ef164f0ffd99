package signalbus

import "time"

// Entry is one node on the reported critical path, with its marginal
// (per-node) contribution to the total duration.
type Entry struct {
	Node     NodeID
	Duration time.Duration
}

// CriticalPath is the BuildFinished report: the duration-maximizing chain
// through the observed dependency graph, plus (LongestPath mode only) a
// per-node "potential savings" — how much the overall build could still
// shrink if that node's own duration were eliminated entirely.
type CriticalPath struct {
	Path       []Entry
	Total      time.Duration
	Potentials map[NodeID]time.Duration
}
