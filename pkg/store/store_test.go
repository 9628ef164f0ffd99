package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anvil/pkg/anvilkey"
	"github.com/cuemby/anvil/pkg/version"
)

func intKey(id string) anvilkey.Key {
	return anvilkey.Make[int]("store_test.intKey", id, anvilkey.KindDerived,
		anvilkey.Storage{Class: anvilkey.ClassNormal},
		func(a, b int) bool { return a == b }, nil)
}

func lastNKey(id string, n int) anvilkey.Key {
	return anvilkey.Make[int]("store_test.lastNKey", id, anvilkey.KindDerived,
		anvilkey.Storage{Class: anvilkey.ClassLastN, N: n},
		func(a, b int) bool { return a == b }, nil)
}

func TestGetOnUnknownKeyIsNone(t *testing.T) {
	s := New()
	k := intKey("a")

	got := s.Get(k, version.Version(1))
	assert.Equal(t, ResultNone, got.Result)
}

func TestRecordThenGetMatches(t *testing.T) {
	s := New()
	k := intKey("a")

	s.Record(k, 42, version.Version(3), nil)

	got := s.Get(k, version.Version(3))
	require.Equal(t, ResultMatch, got.Result)
	assert.Equal(t, 42, got.Value)
	assert.Equal(t, Range{From: 3, To: 3}, got.Range)
}

func TestRecordEqualValueExtendsRange(t *testing.T) {
	s := New()
	k := intKey("a")

	s.Record(k, 42, version.Version(1), nil)
	s.Record(k, 42, version.Version(2), nil)

	got := s.Get(k, version.Version(2))
	require.Equal(t, ResultMatch, got.Result)
	assert.Equal(t, Range{From: 1, To: 2}, got.Range)
}

func TestRecordDifferentValueAppendsAndTrimsNormal(t *testing.T) {
	s := New()
	k := intKey("a")

	s.Record(k, 42, version.Version(1), nil)
	s.Record(k, 99, version.Version(2), nil)

	// ClassNormal retains only the latest entry.
	gotOld := s.Get(k, version.Version(1))
	assert.Equal(t, ResultNone, gotOld.Result)

	gotNew := s.Get(k, version.Version(2))
	require.Equal(t, ResultMatch, gotNew.Result)
	assert.Equal(t, 99, gotNew.Value)
}

func TestLastNRetainsMultipleDistinctValues(t *testing.T) {
	s := New()
	k := lastNKey("a", 2)

	s.Record(k, 1, version.Version(1), nil)
	s.Record(k, 2, version.Version(2), nil)
	s.Record(k, 3, version.Version(3), nil)

	// Only the 2 most recent distinct entries survive.
	assert.Equal(t, ResultNone, s.Get(k, version.Version(1)).Result)
	assert.Equal(t, ResultMatch, s.Get(k, version.Version(2)).Result)
	assert.Equal(t, ResultMatch, s.Get(k, version.Version(3)).Result)
}

func TestGetBeyondRangeIsMismatchWithPrevValue(t *testing.T) {
	s := New()
	k := intKey("a")

	s.Record(k, 7, version.Version(1), nil)

	got := s.Get(k, version.Version(5))
	require.Equal(t, ResultMismatch, got.Result)
	assert.Equal(t, 7, got.PrevValue)
}

func TestReuseExtendsLatestEntry(t *testing.T) {
	s := New()
	k := intKey("a")

	s.Record(k, 7, version.Version(1), nil)
	s.Reuse(k, version.Version(2))

	got := s.Get(k, version.Version(2))
	require.Equal(t, ResultMatch, got.Result)
	assert.Equal(t, 7, got.Value)
}

func TestMarkDirtySplitsCoveringRange(t *testing.T) {
	s := New()
	k := intKey("a")

	s.Record(k, 7, version.Version(1), nil)
	s.Record(k, 7, version.Version(5), nil) // extends range to 1..5

	s.MarkDirty(k, version.Version(3))

	assert.True(t, s.IsDirty(k, version.Version(3)))
	got := s.Get(k, version.Version(3))
	assert.Equal(t, ResultMismatch, got.Result)

	// Versions surrounding the dirtied one are untouched.
	assert.Equal(t, ResultMatch, s.Get(k, version.Version(1)).Result)
	assert.Equal(t, ResultMatch, s.Get(k, version.Version(5)).Result)
}

func TestCollectExpiredDropsOldEntriesButKeepsLatest(t *testing.T) {
	s := New()
	k := lastNKey("a", 3)

	s.Record(k, 1, version.Version(1), nil)
	s.Record(k, 2, version.Version(2), nil)
	s.Record(k, 3, version.Version(3), nil)

	s.CollectExpired(version.Version(3))

	assert.Equal(t, ResultNone, s.Get(k, version.Version(1)).Result)
	assert.Equal(t, ResultNone, s.Get(k, version.Version(2)).Result)
	assert.Equal(t, ResultMatch, s.Get(k, version.Version(3)).Result)
}

func TestCollectExpiredAlwaysKeepsSingleLatestEntry(t *testing.T) {
	s := New()
	k := intKey("a")

	s.Record(k, 1, version.Version(1), nil)

	s.CollectExpired(version.Version(100))

	got := s.Get(k, version.Version(1))
	require.Equal(t, ResultMatch, got.Result)
	assert.Equal(t, 1, got.Value)
}
