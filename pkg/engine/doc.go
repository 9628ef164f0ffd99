/*
Package engine implements Engine, a demand-driven, versioned dependency
graph. Engine coordinates key evaluation on top of pkg/store's
VersionedStore: on request it either returns a memoized value, reuses a
value after verifying its recorded dependencies are still equivalent, or
re-executes the user function that produces it.

	Eval(key, txn)
	  │
	  ▼
	store.Get(key, txn.Version())
	  │
	  ├─ Match      ─────────────────────────────▶ return value
	  │
	  ├─ Mismatch(prev, prevDeps) ── recheck deps ─┬─ all equivalent ──▶ Reuse, return prev
	  │                                            └─ any differ ──────▶ run task
	  │
	  └─ None ─────────────────────────────────────────────────────────▶ run task

A "run task" is materialized through golang.org/x/sync/singleflight so
concurrent callers for the same (key, version) observe exactly one user
function invocation. Dependency re-checks on the Mismatch path fan out
concurrently with golang.org/x/sync/errgroup.

Derived keys supply their compute logic by implementing the Derivable
interface (see key.go); injected keys never have Compute called — their
values enter only through Inject.

Grounded on a scheduler run-loop/mutex shape for the background evaluation
bookkeeping, and a single-writer Apply discipline for Inject (every Inject
is one serialized version-minting operation, the same way a replicated
state machine serializes one log entry at a time).
*/
package engine
