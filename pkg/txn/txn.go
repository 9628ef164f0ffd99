package txn

import (
	"sync/atomic"

	"github.com/cuemby/anvil/pkg/version"
)

// Transaction is a read-only handle over an engine at a fixed version,
// carrying an opaque per-command user-data bag. It is the unit the
// ConcurrencyGate admits and the unit user functions receive (wrapped in a
// richer context by pkg/engine).
type Transaction struct {
	stamp  version.Stamp
	data   any
	active *version.Active
	closed atomic.Bool
}

// New creates a Transaction at stamp, retaining stamp.Version in active.
// The caller must eventually call Close exactly once per Transaction
// returned from New or Clone.
func New(stamp version.Stamp, data any, active *version.Active) *Transaction {
	active.Retain(stamp.Version)
	return &Transaction{stamp: stamp, data: data, active: active}
}

// Version returns the transaction's version.
func (t *Transaction) Version() version.Version { return t.stamp.Version }

// Stamp returns the transaction's full (version, minor) identity.
func (t *Transaction) Stamp() version.Stamp { return t.stamp }

// Data returns the per-command user-data bag.
func (t *Transaction) Data() any { return t.data }

// Clone returns a new handle to the same transaction, retaining the
// version's refcount again. O(1): no history or graph state is copied.
func (t *Transaction) Clone() *Transaction {
	return New(t.stamp, t.data, t.active)
}

// Close releases this handle's hold on the transaction's version. It is
// safe to call more than once; calls after the first are no-ops.
func (t *Transaction) Close() {
	if t.closed.CompareAndSwap(false, true) {
		t.active.Release(t.stamp.Version)
	}
}

// Equivalent reports whether t and other reference the same version and the
// same per-command user-data identity — the predicate the ConcurrencyGate
// uses to decide whether two commands may run in parallel against "the same
// logical state".
func (t *Transaction) Equivalent(other *Transaction) bool {
	if other == nil {
		return false
	}
	return t.stamp.Version == other.stamp.Version && t.data == other.data
}
