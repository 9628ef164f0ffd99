package engine

import (
	"context"

	"github.com/cuemby/anvil/pkg/anvilkey"
)

// NewProjection constructs a projection key: a pure, synchronous derivation
// from source's value. It is an ordinary Derived key whose only recorded
// dependency is source itself: it runs as its own single-flight task keyed
// by the projection's identity and version, and it is recomputed only when
// its recheck finds that source's value changed. What it does NOT inherit from source is source's
// equality predicate: a projection's Equal compares the *projected* value,
// so a dependent of the projection skips recomputation whenever source
// changed in a way that left the projected field alone — this is how a
// large struct value can invalidate only the consumers of the fields that
// actually changed.
func NewProjection[S, V any](typeID, id string, source anvilkey.Key, project func(S) V, equal func(a, b V) bool) anvilkey.Key {
	return NewDerived[V](typeID, id, anvilkey.Storage{Class: anvilkey.ClassNormal}, equal, nil,
		func(ctx context.Context, c *Ctx) (V, error) {
			raw, err := c.Compute(ctx, source)
			if err != nil {
				var zero V
				return zero, err
			}
			sv, ok := raw.(S)
			if !ok {
				var zero V
				return zero, &NotDerivableError{Key: source.String()}
			}
			return project(sv), nil
		},
	)
}
