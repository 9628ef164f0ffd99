/*
Package store implements VersionedStore, the per-key history with range
lookup and dirty tracking: a map from key to an ordered, disjoint sequence
of (version-range, value) pairs plus a "dirty at" set of versions where the
key is known to require re-check.

VersionedStore itself never runs user code and every call is infallible —
correctness here is purely bookkeeping; the Engine (pkg/engine) owns
deciding what a Mismatch result means and whether to re-run a user
function.

	┌─────────────────────── VersionedStore ───────────────────────┐
	│                                                                │
	│   shard[hash(key) % N]                                        │
	│     history[key] = {                                          │
	│       entries: [ {range: v1..v3, value: A, deps: [...]},      │
	│                   {range: v4..v4, value: B, deps: [...]} ],   │
	│       dirty:   { v5, v7 },                                    │
	│     }                                                         │
	│                                                                │
	│   Get(key, at=v2)  -> Match(A, v1..v3)                        │
	│   Get(key, at=v5)  -> Mismatch(B, v4..v4, deps)                │
	│   Get(newkey, at=_) -> None                                    │
	└────────────────────────────────────────────────────────────────┘

Sharding follows a "sharded lock per key, readers do not block writers of
other keys" design: each key is assigned to one of a fixed number of
shards by an fnv hash of its (type-id, id) identity, and each shard holds
its own sync.RWMutex, modeled on a bucket-per-entity-type layout (here, a
lock-per-bucket-of-keys instead of a lock-per-bucket-of-entity-type).
*/
package store
