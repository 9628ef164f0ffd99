package engine

import (
	"context"

	"github.com/cuemby/anvil/pkg/anvilkey"
)

// Derivable is implemented by every Derived key: a key whose value is
// produced by a user function rather than supplied from outside the
// engine. The engine type-asserts a Derived key to Derivable the first
// time it must actually be computed; a Derived key that never implements
// it is a caller error.
type Derivable interface {
	anvilkey.Key
	// Compute runs the key's user function. c provides access to other
	// keys (Compute recursively) and to the transaction's per-command
	// user data.
	Compute(ctx context.Context, c *Ctx) (any, error)
}

type derivedKey[V any] struct {
	anvilkey.Key
	compute func(context.Context, *Ctx) (V, error)
}

func (d *derivedKey[V]) Compute(ctx context.Context, c *Ctx) (any, error) {
	return d.compute(ctx, c)
}

// NewDerived constructs a Derived key whose value is produced by compute.
// typeID and id follow the same rules as anvilkey.Make.
func NewDerived[V any](
	typeID, id string,
	storage anvilkey.Storage,
	equal func(a, b V) bool,
	valid func(v V) bool,
	compute func(context.Context, *Ctx) (V, error),
) anvilkey.Key {
	base := anvilkey.Make[V](typeID, id, anvilkey.KindDerived, storage, equal, valid)
	return &derivedKey[V]{Key: base, compute: compute}
}

// NewInjected constructs an Injected key: its value is supplied only
// through Engine.Inject and is never recomputed.
func NewInjected[V any](typeID, id string, storage anvilkey.Storage, equal func(a, b V) bool) anvilkey.Key {
	return anvilkey.Make[V](typeID, id, anvilkey.KindInjected, storage, equal, nil)
}
