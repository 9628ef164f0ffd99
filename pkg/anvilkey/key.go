package anvilkey

import "fmt"

// Kind distinguishes injected keys (supplied externally, never recomputed)
// from derived keys (produced by a user function that may request other
// keys).
type Kind int

const (
	KindDerived Kind = iota
	KindInjected
)

func (k Kind) String() string {
	if k == KindInjected {
		return "injected"
	}
	return "derived"
}

// Class is a key's storage class, controlling how many distinct values its
// History retains across versions.
type Class int

const (
	// ClassNormal retains only the last value.
	ClassNormal Class = iota
	// ClassLastN retains the N most recent distinct values across versions.
	ClassLastN
)

// Storage describes a key's retention policy.
type Storage struct {
	Class Class
	N     int // only meaningful when Class == ClassLastN
}

// Key is the type-erased identity and behavior of a unit of memoizable
// work. Concrete keys are constructed with Make; callers outside pkg/engine
// and pkg/store should rarely need to implement this interface by hand.
type Key interface {
	// ID is a stable identity unique within this key's TypeID.
	ID() string
	// TypeID distinguishes keys minted by different Make call sites so
	// that two unrelated key types sharing an ID string never collide.
	TypeID() string
	Kind() Kind
	Storage() Storage
	// Equal reports whether a and b, both previously produced for this
	// key, are equivalent under this key's equality predicate.
	Equal(a, b any) bool
	// Valid reports whether v is a valid (non-transient) value.
	Valid(v any) bool
	String() string
}

type typedKey[V any] struct {
	typeID  string
	id      string
	kind    Kind
	storage Storage
	equal   func(a, b V) bool
	valid   func(v V) bool
}

// Make constructs a Key over values of type V. typeID should be stable and
// unique per call site (e.g. the Go function name minting the key); id must
// be unique per distinct key instance of that type (e.g. a target label, a
// file path, a formatted argument tuple). A nil valid predicate is treated
// as "always valid".
func Make[V any](typeID, id string, kind Kind, storage Storage, equal func(a, b V) bool, valid func(v V) bool) Key {
	if equal == nil {
		panic("anvilkey: Make requires a non-nil equal predicate for " + typeID)
	}
	return &typedKey[V]{
		typeID:  typeID,
		id:      id,
		kind:    kind,
		storage: storage,
		equal:   equal,
		valid:   valid,
	}
}

func (k *typedKey[V]) ID() string       { return k.id }
func (k *typedKey[V]) TypeID() string   { return k.typeID }
func (k *typedKey[V]) Kind() Kind       { return k.kind }
func (k *typedKey[V]) Storage() Storage { return k.storage }
func (k *typedKey[V]) String() string   { return fmt.Sprintf("%s(%s)", k.typeID, k.id) }

func (k *typedKey[V]) Equal(a, b any) bool {
	av, aok := a.(V)
	bv, bok := b.(V)
	if !aok || !bok {
		return false
	}
	return k.equal(av, bv)
}

func (k *typedKey[V]) Valid(v any) bool {
	if k.valid == nil {
		return true
	}
	vv, ok := v.(V)
	if !ok {
		return false
	}
	return k.valid(vv)
}

// MapKey is the comparable identity used as a map key by pkg/store and
// pkg/engine — (TypeID, ID) rather than the Key interface value itself,
// since two Key instances for the same logical key may be distinct pointers
// minted by separate Make calls (e.g. across engine restarts in tests).
type MapKey struct {
	TypeID string
	ID     string
}

// Of returns the MapKey identity for k.
func Of(k Key) MapKey {
	return MapKey{TypeID: k.TypeID(), ID: k.ID()}
}
