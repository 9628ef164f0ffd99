/*
Package anvilkey provides the type-erased key/value identity used by the
incremental computation engine (pkg/engine) and its backing history store
(pkg/store).

A Key identifies a unit of memoizable work: either an Injected key (a value
supplied from outside the engine, never recomputed) or a Derived key (a
value produced by a user function that may itself request other keys). Every
key carries an equality predicate over its values (used to short-circuit
dirty propagation) and a validity predicate (values failing validity are
"transient" — cacheable only within the transaction that produced them).

Because the engine and store must hold heterogeneous keys of many concrete
Go types in the same map, Key is a narrow, type-erased interface rather than
a generic type: (type-id, id) forms the map key, and Equal/Valid take `any`
and type-assert internally. Make constructs a Key from a typed equality and
validity predicate, so call sites work with their own value types and never
see the type erasure:

	fooKey := anvilkey.Make[int]("Foo", strconv.Itoa(n), anvilkey.KindInjected,
		anvilkey.Storage{}, func(a, b int) bool { return a == b }, nil)

A nil Valid predicate is treated as "always valid" (the common case); most
keys never need transient semantics.
*/
package anvilkey
