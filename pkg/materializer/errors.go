package materializer

import "fmt"

// NotFoundError is the "Not found" materialization error subkind of spec
// section 7: the originating action's identity is attached so a higher
// layer can retry by re-running the producing action.
type NotFoundError struct {
	Path   string
	Action string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("materializer: %s not found (produced by %s)", e.Path, e.Action)
}

// IOError is the generic "IO / transport" materialization error subkind:
// the path transitions back to Declared with a new path-epoch so a retry
// spawns a fresh task.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("materializer: %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// StaleCallbackError is never returned to a caller; it exists only so
// internal code can log a discarded, superseded completion distinctly
// from a real failure.
type StaleCallbackError struct {
	Path         string
	Epoch, Stale uint64
}

func (e *StaleCallbackError) Error() string {
	return fmt.Sprintf("materializer: discarding stale completion for %s (epoch %d < %d)", e.Path, e.Stale, e.Epoch)
}
