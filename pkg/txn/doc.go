// Package txn implements Transaction: a read-only handle bundling a version
// stamp, per-command user data, and the version refcount table it holds a
// reference in. Transactions are
// cheap to clone and are reference counted through pkg/version.Active so
// the owning engine knows when a version's history can be collected.
package txn
