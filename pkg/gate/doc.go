/*
Package gate implements ConcurrencyGate, the command-admission controller:
it ensures at most one "logical state" of the engine is observable at a
time, unless concurrent commands agree on that state.

	Idle ──admit(T)──▶ Active(T) ──all holders drop──▶ Cleanup(epoch) ──idle──▶ Idle
	           ▲                        │
	           └──── admit(T'≡T) ───────┘  (parallel, no wait)

A newcomer requesting a transaction equivalent (pkg/txn.Transaction.Equivalent)
to the currently active one is admitted immediately, in parallel with
existing holders. A newcomer requesting a non-equivalent transaction is
handled per Policy: Block waits on a fair FIFO condvar until Idle; Run admits
anyway; Error fails immediately. Nested invocations (calls made from inside
a transaction's own execution, detected by a context-carried marker) are
governed by a separate NestedPolicy.

Modeled on a single-writer admission pattern (there: one replicated-log
apply at a time, queued FSM commands; here: one transaction state at a
time, queued admission waiters), using sync.Cond for the FIFO wait queue
in the way a scheduler run-loop uses a condition check.
*/
package gate
