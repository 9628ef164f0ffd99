package store

import (
	"hash/fnv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/anvil/pkg/anvilkey"
	"github.com/cuemby/anvil/pkg/version"
)

// Result classifies a Get lookup against a key's recorded history.
type Result int

const (
	// ResultNone means the key has never been recorded.
	ResultNone Result = iota
	// ResultMatch means an entry's range already covers the requested
	// version: the recorded value is valid as-is.
	ResultMatch
	// ResultMismatch means the key has history, but none of it covers the
	// requested version. The caller (pkg/engine) must decide whether the
	// previous value's dependencies are still equivalent at the new
	// version before deciding whether to re-run the producing function.
	ResultMismatch
)

// Lookup is the outcome of Get.
type Lookup struct {
	Result Result

	// Valid when Result == ResultMatch.
	Value any
	Range Range

	// Valid when Result == ResultMismatch: the nearest prior entry, for
	// the engine's dependency-equivalence check ("recheck dependencies
	// before recompute").
	PrevValue any
	PrevRange Range
	PrevDeps  []Dep
}

const shardCount = 64

type shard struct {
	mu        sync.RWMutex
	histories map[anvilkey.MapKey]*history
}

// Store is VersionedStore: a sharded, concurrent map from key identity to
// History.
type Store struct {
	shards [shardCount]*shard
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{histories: make(map[anvilkey.MapKey]*history)}
	}
	return s
}

func (s *Store) shardFor(k anvilkey.MapKey) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.TypeID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.ID))
	return s.shards[h.Sum32()%shardCount]
}

// Get looks up key's history at version at.
func (s *Store) Get(key anvilkey.Key, at version.Version) Lookup {
	mk := anvilkey.Of(key)
	sh := s.shardFor(mk)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	h, ok := sh.histories[mk]
	if !ok {
		return Lookup{Result: ResultNone}
	}
	if e, ok := h.find(at); ok {
		return Lookup{Result: ResultMatch, Value: e.Value, Range: e.Range}
	}
	if e, ok := h.nearestBefore(at); ok {
		return Lookup{
			Result:    ResultMismatch,
			PrevValue: e.Value,
			PrevRange: e.Range,
			PrevDeps:  e.Deps,
		}
	}
	return Lookup{Result: ResultNone}
}

// Record stores value as key's value at version at, with the given
// dependency edges. If value is equal (under the key's equality predicate)
// to the immediately preceding entry, that entry's range is extended to
// cover at instead of appending a new entry, so a value that stays equal
// across versions keeps a single history entry.
func (s *Store) Record(key anvilkey.Key, value any, at version.Version, deps []Dep) {
	mk := anvilkey.Of(key)
	sh := s.shardFor(mk)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	h, ok := sh.histories[mk]
	if !ok {
		h = newHistory()
		sh.histories[mk] = h
	}

	if last, ok := h.latest(); ok && key.Equal(last.Value, value) && last.Range.To < at {
		h.entries[len(h.entries)-1].Range.To = at
		delete(h.dirty, at)
		return
	}

	h.entries = append(h.entries, entry{
		Range: Range{From: at, To: at},
		Value: value,
		Deps:  deps,
	})
	s.trim(key, h)
	delete(h.dirty, at)
}

// Reuse extends the most recent entry's range to also cover at, without
// changing its value. Used when the engine's Mismatch-path recheck finds
// every dependency still equivalent: the old value is still correct at the
// new version, so no recompute and no new entry are needed.
func (s *Store) Reuse(key anvilkey.Key, at version.Version) {
	mk := anvilkey.Of(key)
	sh := s.shardFor(mk)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	h, ok := sh.histories[mk]
	if !ok || len(h.entries) == 0 {
		return
	}
	last := len(h.entries) - 1
	if h.entries[last].Range.To < at {
		h.entries[last].Range.To = at
	}
	delete(h.dirty, at)
}

// MarkDirty flags key as requiring a recheck at version at: the next Get for
// that (key, at) pair will report ResultMismatch even if an entry's range
// would otherwise have covered it. Dirtying is how injected-key writes
// propagate: the engine marks every transitive dependent dirty at the new
// version before anyone observes it.
func (s *Store) MarkDirty(key anvilkey.Key, at version.Version) {
	mk := anvilkey.Of(key)
	sh := s.shardFor(mk)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	h, ok := sh.histories[mk]
	if !ok {
		h = newHistory()
		sh.histories[mk] = h
	}
	h.dirty[at] = struct{}{}

	// Split any entry whose range currently covers `at` so that future
	// Get calls for `at` fall through to Mismatch instead of Match, while
	// leaving the entry's validity for versions before/after `at` intact.
	for i, e := range h.entries {
		if !e.Range.Covers(at) {
			continue
		}
		if e.Range.From == e.Range.To {
			// Single-version entry: it IS the dirtied version.
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
		if e.Range.From == at {
			h.entries[i].Range.From = at + 1
			return
		}
		if e.Range.To == at {
			h.entries[i].Range.To = at - 1
			return
		}
		// at is strictly inside the range: split into two entries.
		before := entry{Range: Range{From: e.Range.From, To: at - 1}, Value: e.Value, Deps: e.Deps}
		after := entry{Range: Range{From: at + 1, To: e.Range.To}, Value: e.Value, Deps: e.Deps}
		rest := append([]entry{before, after}, h.entries[i+1:]...)
		h.entries = append(h.entries[:i], rest...)
		return
	}
}

// trim enforces key's storage class after an append, dropping the oldest
// entries beyond what the class retains. ClassLastN is enforced by feeding
// entries through a fixed-capacity LRU in insertion order: since nothing
// ever re-touches an already-inserted key, the LRU's "least recently used"
// eviction coincides exactly with "oldest inserted", giving the same
// result as a hand-rolled ring buffer with a real bounded cache instead.
func (s *Store) trim(key anvilkey.Key, h *history) {
	storage := key.Storage()
	switch storage.Class {
	case anvilkey.ClassLastN:
		n := storage.N
		if n <= 0 {
			n = 1
		}
		cache, _ := lru.New[int, entry](n)
		for i, e := range h.entries {
			cache.Add(i, e)
		}
		kept := make([]entry, 0, len(h.entries))
		for _, k := range cache.Keys() {
			if e, ok := cache.Peek(k); ok {
				kept = append(kept, e)
			}
		}
		h.entries = kept
	default: // ClassNormal
		if len(h.entries) > 1 {
			h.entries = h.entries[len(h.entries)-1:]
		}
	}
}

// CollectExpired drops history entries that can no longer be observed by
// any live transaction: every entry whose range ends strictly before
// oldestLive, except a key's single most recent entry, which is always kept
// so a future Get still has something to compare Mismatch against (spec
// section 4.1, "retain at least the last value per key").
func (s *Store) CollectExpired(oldestLive version.Version) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, h := range sh.histories {
			if len(h.entries) <= 1 {
				continue
			}
			keepFrom := 0
			for i := 0; i < len(h.entries)-1; i++ {
				if h.entries[i].Range.To >= oldestLive {
					break
				}
				keepFrom = i + 1
			}
			if keepFrom > 0 {
				h.entries = h.entries[keepFrom:]
			}
			for dv := range h.dirty {
				if dv < oldestLive {
					delete(h.dirty, dv)
				}
			}
			if len(h.entries) == 0 && len(h.dirty) == 0 {
				delete(sh.histories, k)
			}
		}
		sh.mu.Unlock()
	}
}

// IsDirty reports whether key was explicitly marked dirty at version at.
func (s *Store) IsDirty(key anvilkey.Key, at version.Version) bool {
	mk := anvilkey.Of(key)
	sh := s.shardFor(mk)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	h, ok := sh.histories[mk]
	if !ok {
		return false
	}
	_, dirty := h.dirty[at]
	return dirty
}
