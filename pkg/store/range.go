package store

import (
	"github.com/cuemby/anvil/pkg/anvilkey"
	"github.com/cuemby/anvil/pkg/version"
)

// Range is an inclusive, closed version range over which a recorded value
// is known to be valid.
type Range struct {
	From version.Version
	To   version.Version
}

// Covers reports whether v falls within the range.
func (r Range) Covers(v version.Version) bool {
	return v >= r.From && v <= r.To
}

// Dep is a directed edge from a dependent key to a dependency key, tagged
// with the version at which the dependent observed the dependency's value
// and the value itself — the "computed dependency fingerprint" of spec
// section 3, used on a Mismatch lookup to test whether a dependency is
// still equivalent without recomputing the dependent.
type Dep struct {
	Key       anvilkey.MapKey
	AtVersion version.Version
	Value     any
}
