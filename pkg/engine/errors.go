package engine

import "fmt"

// CycleError is returned when cycle detection is enabled and a key's
// evaluation chain revisits a key already being computed.
type CycleError struct {
	Key string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("engine: cycle detected evaluating %s", e.Key)
}

// NotInjectedError is returned when an Injected key is requested before
// any Inject call has ever supplied it a value.
type NotInjectedError struct {
	Key string
}

func (e *NotInjectedError) Error() string {
	return fmt.Sprintf("engine: injected key %s has no value at this version", e.Key)
}

// NotDerivableError is returned when a Derived key does not implement
// Derivable — a construction error by the caller, not a runtime condition.
type NotDerivableError struct {
	Key string
}

func (e *NotDerivableError) Error() string {
	return fmt.Sprintf("engine: derived key %s does not implement Derivable", e.Key)
}
