/*
Package version defines anvil's monotonic Version/MinorVersion pair and the
reference-counting table used to decide when a version's history can be
garbage collected.

A Version identifies a coherent snapshot of injected inputs: each committed
set of external changes (each successful Engine.Inject) mints a new Version.
MinorVersion increments when the same Version is re-used across
transactions without external changes — e.g. a no-op Inject — which lets
callers distinguish "the same snapshot, handed out again" from "a new
snapshot" without forcing a version bump, while still giving each
Transaction handle a unique identity for logging.

Active tracks, per Version, how many live Transaction handles reference it.
It is modeled on a single-writer-apply discipline: every mutation (Retain,
Release) is serialized under one mutex, and readers (Count) take
the read path of the same sync.RWMutex.
*/
package version
