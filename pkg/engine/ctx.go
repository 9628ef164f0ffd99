package engine

import (
	"context"
	"sync"

	"github.com/cuemby/anvil/pkg/anvilkey"
	"github.com/cuemby/anvil/pkg/store"
	"github.com/cuemby/anvil/pkg/txn"
)

// Ctx is the read-only context a Derived key's Compute method receives: it
// lets the user function request other keys (recording each as a
// dependency) and read the transaction's per-command user data.
type Ctx struct {
	eng   *Engine
	tr    *txn.Transaction
	chain map[anvilkey.MapKey]struct{}

	mu   sync.Mutex
	deps []store.Dep
}

// Compute requests key's value at the context's transaction, recording the
// dependency for future equivalence checks. May suspend on a single-flight
// task shared with other callers.
func (c *Ctx) Compute(ctx context.Context, key anvilkey.Key) (any, error) {
	value, err := c.eng.evalChained(ctx, key, c.tr, c.chain)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.deps = append(c.deps, store.Dep{
		Key:       anvilkey.Of(key),
		AtVersion: c.tr.Version(),
		Value:     value,
	})
	c.mu.Unlock()
	return value, nil
}

// Data returns the transaction's opaque per-command user-data bag.
func (c *Ctx) Data() any {
	return c.tr.Data()
}

func cloneChain(chain map[anvilkey.MapKey]struct{}) map[anvilkey.MapKey]struct{} {
	cp := make(map[anvilkey.MapKey]struct{}, len(chain)+1)
	for k := range chain {
		cp[k] = struct{}{}
	}
	return cp
}
