package engine

import (
	"github.com/cuemby/anvil/pkg/anvilkey"
	"github.com/cuemby/anvil/pkg/metrics"
	"github.com/cuemby/anvil/pkg/store"
	"github.com/cuemby/anvil/pkg/txn"
	"github.com/cuemby/anvil/pkg/version"
)

// Change is one Injected key's new value, as submitted to Inject.
type Change struct {
	Key   anvilkey.Key
	Value any
}

// Inject atomically applies changes on top of base, producing a new
// Transaction. If every change is equal (under its key's equality
// predicate) to the value already recorded at base's version, no new
// version is minted — the returned transaction reuses base's version with
// a bumped MinorVersion, since changes equal to what's already recorded do
// not advance the version. Otherwise a new version is minted, changed keys
// are recorded, and every transitive dependent is marked dirty at the new
// version.
func (e *Engine) Inject(changes []Change, base *txn.Transaction) *txn.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()

	baseVersion := base.Version()
	changed := make([]Change, 0, len(changes))
	for _, c := range changes {
		e.keysByID[anvilkey.Of(c.Key)] = c.Key
		lookup := e.store.Get(c.Key, baseVersion)
		if lookup.Result == store.ResultMatch && c.Key.Equal(lookup.Value, c.Value) {
			continue
		}
		changed = append(changed, c)
	}

	if len(changed) == 0 {
		minor := e.curMinor[baseVersion] + 1
		e.curMinor[baseVersion] = minor
		metrics.EngineVersion.Set(float64(baseVersion))
		return txn.New(version.Stamp{Version: baseVersion, Minor: minor}, base.Data(), e.active)
	}

	newVersion := baseVersion + 1
	if newVersion <= e.curVersion {
		newVersion = e.curVersion + 1
	}
	e.curVersion = newVersion
	e.curMinor[newVersion] = 0

	visited := make(map[anvilkey.MapKey]struct{})
	for _, c := range changed {
		e.store.Record(c.Key, c.Value, newVersion, nil)
		e.markDirtyTransitiveLocked(anvilkey.Of(c.Key), newVersion, visited)
	}

	metrics.EngineVersion.Set(float64(newVersion))
	return txn.New(version.Stamp{Version: newVersion}, base.Data(), e.active)
}

// markDirtyTransitiveLocked walks the reverse-dependency graph from mk and
// marks every transitive dependent dirty at `at`. Must be called with e.mu
// held.
func (e *Engine) markDirtyTransitiveLocked(mk anvilkey.MapKey, at version.Version, visited map[anvilkey.MapKey]struct{}) {
	queue := []anvilkey.MapKey{mk}
	visited[mk] = struct{}{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dep := range e.reverseDeps[cur] {
			if _, ok := visited[dep]; ok {
				continue
			}
			visited[dep] = struct{}{}
			if k, ok := e.keysByID[dep]; ok {
				e.store.MarkDirty(k, at)
			}
			queue = append(queue, dep)
		}
	}
}
