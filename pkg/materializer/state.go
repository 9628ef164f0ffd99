package materializer

import "time"

// stateKind is the per-path state machine.
type stateKind int

const (
	stateDeclared stateKind = iota
	stateMaterializing
	stateMaterialized
)

func (k stateKind) String() string {
	switch k {
	case stateDeclared:
		return "declared"
	case stateMaterializing:
		return "materializing"
	case stateMaterialized:
		return "materialized"
	default:
		return "unknown"
	}
}

// Metadata is the recorded, on-disk-verified content description of a
// Materialized path — the in-memory mirror of the sqlstore row.
type Metadata struct {
	ArtifactType   string // "directory", "file", "symlink", "external_symlink"
	DigestSize     int64
	DigestSHA1     []byte
	Executable     bool
	SymlinkTarget  string
	LastAccessTime time.Time
}

// pathState is one path's full state: its declared entry, its current FSM
// kind, its path-epoch, and (while Materializing or Cleaning) the future
// other callers can wait on. One pathState exists per path for the
// lifetime of its most recent declaration; the Materializer's top-level map
// replaces it wholesale on a redeclare that isn't a no-op.
type pathState struct {
	kind  stateKind
	epoch uint64
	entry Entry
	meta  Metadata

	// active is true iff some alive declaration still wants this path.
	active bool

	// cleaning, if non-nil, is a future for an in-flight removal of
	// stale bytes that must finish before materializing/re-declaring this
	// path is safe to finish: a separate Cleaning future may precede
	// either Materializing or a re-Declare.
	cleaning *taskFuture

	// materializing, if non-nil, is the in-flight materialization task.
	materializing *taskFuture
}

// taskFuture is a single-owner future for one in-flight background task on
// a path, guarded by the path's epoch: a callback belonging to an older
// epoch is discarded rather than allowed to mutate state.
type taskFuture struct {
	epoch uint64
	done  chan struct{}
	err   error
}

func newTaskFuture(epoch uint64) *taskFuture {
	return &taskFuture{epoch: epoch, done: make(chan struct{})}
}

func (f *taskFuture) finish(err error) {
	f.err = err
	close(f.done)
}

func (f *taskFuture) wait() error {
	<-f.done
	return f.err
}
