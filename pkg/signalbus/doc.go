/*
Package signalbus implements SignalBus and the post-build critical-path
analysis: a non-blocking `Signal` API backed by an unbounded MPSC queue,
drained by a single background consumer that builds either a predecessor
table (Mode = Simple) or a full dependency graph (Mode = LongestPath) and,
on BuildFinished, reports the critical path as an ordered sequence of
(node, per-node duration) pairs.

Every node's prefix is the longest accumulated duration of any chain ending
at that node: prefix[n] = own_duration(n) + max(prefix[p] for p in
predecessors already observed). The reported critical path walks back from
the node with the largest prefix to its chosen best predecessor, node by
node, to a root; each entry's duration is the difference between
consecutive prefixes along that walk, not the raw per-node duration, so
that the reported total always equals the endpoint's prefix exactly.

Modeled on an unbounded-intent-channel Broker (single goroutine consumer,
Publish that never blocks the caller), generalized from a pub/sub fanout to
a single stateful fold.
*/
package signalbus
