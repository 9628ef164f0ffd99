package store

import "github.com/cuemby/anvil/pkg/version"

// entry is one (range, value) pair in a key's history, plus the
// dependencies recorded when it was computed.
type entry struct {
	Range Range
	Value any
	Deps  []Dep
}

// history is the full recorded state of a single key: its ordered,
// disjoint entries and the set of versions at which it is known to require
// re-check. Callers hold the owning shard's lock while touching a history.
type history struct {
	entries []entry
	dirty   map[version.Version]struct{}
}

func newHistory() *history {
	return &history{dirty: make(map[version.Version]struct{})}
}

// latest returns the most recent entry, if any.
func (h *history) latest() (entry, bool) {
	if len(h.entries) == 0 {
		return entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// find returns the entry covering `at`, if any.
func (h *history) find(at version.Version) (entry, bool) {
	// Entries are few per key in practice (bounded by storage class), and
	// kept in ascending version order, so a linear scan from the back
	// favors the common case of querying a recent version.
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Range.Covers(at) {
			return h.entries[i], true
		}
	}
	return entry{}, false
}

// nearestBefore returns the most recent entry whose range ends strictly
// before `at`, used to produce the Mismatch result's prior value.
func (h *history) nearestBefore(at version.Version) (entry, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Range.To < at {
			return h.entries[i], true
		}
	}
	return entry{}, false
}
