/*
Package materializer manages the actual bytes an engine build writes to
disk. It sits downstream of pkg/engine: an action's Compute declares the
outputs it expects to produce, and only Ensure forces those bytes onto
the filesystem — letting a caller request an artifact without paying for
every upstream path that produced it along the way.

Each path independently cycles through three states:

	Declared       -- expected content is known, nothing written yet
	Materializing  -- a task is producing the bytes right now
	Materialized   -- bytes on disk match the declared method

A redeclare of a path already Materialized with an identical method is a
no-op aside from refreshing its last-access-time; any other redeclare
schedules the old bytes for cleanup before the path returns to Declared.
At most one materialization task is ever alive per path, enforced by
spawnMaterializeIfDeclared's check-and-transition running on the single
command-queue consumer goroutine.

Every mutation and query funnels through a two-priority command queue
(queue.go): Declare/GetPath/Match/Invalidate/Ensure run high priority,
and a finished task's completion callback runs low priority so it never
jumps ahead of a caller already waiting on a fresh command. A completion
callback carries the path-epoch it was spawned under and is silently
discarded if that path has since been redeclared or invalidated out from
under it.

Deferred writes (deferred.go) let a caller hand over literal bytes at
declare time without immediately touching disk: the bytes are kept
zstd-compressed in a bounded LRU and only actually written on first
Ensure. A periodic cron task (ttlrefresh.go) extends the CAS TTL of every
Materialized CAS-backed path so a long build doesn't lose its blobs to
garbage collection mid-run.

Materialized state write-throughs to an embedded SQLite store
(pkg/materializer/sqlstore) so a restarted process can reconcile its
filesystem against what it last believed was there, instead of
re-materializing everything from scratch.

Grounded on a serialized, single-consumer state reconciliation loop and a
per-unit task dispatch and completion bookkeeping pattern, generalized
from workload scheduling to content materialization.
*/
package materializer
