package materializer

import (
	"context"
	"crypto/sha1" //nolint:gosec // spec's persistent schema is explicitly digest_sha1
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuemby/anvil/pkg/log"
	"github.com/cuemby/anvil/pkg/materializer/sqlstore"
	"github.com/cuemby/anvil/pkg/metrics"
)

// CAS is the external content-addressed-storage collaborator (spec
// section 1 places the wire protocol itself out of core scope; only this
// narrow fetch/TTL surface is touched here).
type CAS interface {
	Download(ctx context.Context, digest Digest, dst string) error
	DownloadTree(ctx context.Context, digest Digest, dstDir string) error
	RefreshTTL(ctx context.Context, digests []Digest) (map[Digest]time.Time, error)
}

// HTTPFetcher is the external HTTP-download collaborator for
// MethodHTTPDownload artifacts.
type HTTPFetcher interface {
	Fetch(ctx context.Context, url, checksum, dst string) error
}

// Config configures a Materializer.
type Config struct {
	// Root is the filesystem directory every declared path is relative to.
	Root string
	CAS  CAS
	HTTP HTTPFetcher
	// Store, if non-nil, persists Materialized transitions under a
	// write-through policy.
	Store *sqlstore.Store
	// MaterializeFinals gates TryMaterializeFinal.
	MaterializeFinals bool
	// TTLRefreshSchedule is a cron expression for the periodic CAS
	// TTL-refresh task; empty disables it.
	TTLRefreshSchedule string
	// DeferredWriteCacheSize bounds the in-memory deferred-write LRU.
	DeferredWriteCacheSize int
}

// PathResult is one path's outcome from Ensure, delivered in input order.
type PathResult struct {
	Path string
	Meta Metadata
	Err  error
}

// Materializer is the content-addressed output manager: a path ->
// (declared | materializing | materialized) state machine with serialized
// per-path work, persisted steady state, and path-epoch guarded completion
// callbacks.
type Materializer struct {
	cfg Config
	q   *cmdQueue

	paths     map[string]*pathState
	nextEpoch uint64

	deferred *deferredCache

	cron       *cron.Cron
	refreshing atomic.Bool
}

// New constructs a Materializer rooted at cfg.Root and starts its command
// consumer (and, if configured, its TTL-refresh cron).
func New(cfg Config) (*Materializer, error) {
	if cfg.DeferredWriteCacheSize <= 0 {
		cfg.DeferredWriteCacheSize = 256
	}
	deferred, err := newDeferredCache(cfg.DeferredWriteCacheSize)
	if err != nil {
		return nil, fmt.Errorf("materializer: init deferred write cache: %w", err)
	}

	m := &Materializer{
		cfg:      cfg,
		q:        newCmdQueue(),
		paths:    make(map[string]*pathState),
		deferred: deferred,
	}
	go m.run()
	m.startTTLRefresh(cfg.TTLRefreshSchedule)
	return m, nil
}

// Close stops the command consumer and TTL-refresh cron. In-flight
// materialization/cleaning tasks are not cancelled; their completions are
// simply discarded as stale once the queue is closed.
func (m *Materializer) Close() {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.q.close()
}

func (m *Materializer) run() {
	logger := log.WithComponent("materializer")
	logger.Info().Msg("materializer command processor started")
	for {
		fn, ok := m.q.pop()
		if !ok {
			logger.Info().Msg("materializer command processor stopped")
			return
		}
		fn()
		m.refreshPathGauges()
	}
}

// refreshPathGauges recomputes the per-state path count gauges. Called
// after every command on the single-consumer loop, where m.paths may only
// be read without a lock.
func (m *Materializer) refreshPathGauges() {
	var declared, materializing, materialized float64
	for _, p := range m.paths {
		switch p.kind {
		case stateDeclared:
			declared++
		case stateMaterializing:
			materializing++
		case stateMaterialized:
			materialized++
		}
	}
	metrics.MaterializerPathsTotal.WithLabelValues("declared").Set(declared)
	metrics.MaterializerPathsTotal.WithLabelValues("materializing").Set(materializing)
	metrics.MaterializerPathsTotal.WithLabelValues("materialized").Set(materialized)
}

func (m *Materializer) now() time.Time { return time.Now() }

// Declare records that path will eventually produce entry's content. If
// path is currently Materialized with an identical method, this is a
// no-op that refreshes last-access-time and does not spawn any cleanup.
// Otherwise any bytes the
// path currently holds are scheduled for cleanup and the path moves to
// Declared — except a MethodWrite declaration with nothing to clean, which
// is fast-pathed straight into Materializing.
func (m *Materializer) Declare(path string, entry Entry) error {
	entry.Path = path
	m.q.runHigh(func() {
		m.declareLocked(path, entry)
	})
	return nil
}

func (m *Materializer) declareLocked(path string, entry Entry) {
	cur, exists := m.paths[path]

	if exists && cur.kind == stateMaterialized && equalMethod(cur.entry.Method, entry.Method) {
		cur.entry = entry
		cur.active = true
		cur.meta.LastAccessTime = m.now()
		return
	}

	m.nextEpoch++
	epoch := m.nextEpoch

	var cleaning *taskFuture
	if exists && (cur.kind == stateMaterialized || cur.materializing != nil) {
		cleaning = newTaskFuture(epoch)
		go m.runClean(path, cur.materializing, cleaning)
	}
	if exists && !(entry.Method.Kind == MethodWrite && entry.Method.Bytes == nil) {
		m.deferred.drop(path)
	}

	ns := &pathState{kind: stateDeclared, epoch: epoch, entry: entry, active: true, cleaning: cleaning}

	if entry.Method.Kind == MethodWrite && cleaning == nil {
		ns.kind = stateMaterializing
		fut := newTaskFuture(epoch)
		ns.materializing = fut
		m.paths[path] = ns
		go m.runMaterialize(path, epoch, entry, nil, fut)
		return
	}

	m.paths[path] = ns
}

// DeclareExisting marks path as already Materialized with the given entry
// and metadata, without running any task — used to reconcile state
// recovered from the persistent store at startup.
func (m *Materializer) DeclareExisting(path string, entry Entry, meta Metadata) {
	entry.Path = path
	m.q.runHigh(func() {
		m.nextEpoch++
		m.paths[path] = &pathState{kind: stateMaterialized, epoch: m.nextEpoch, entry: entry, meta: meta, active: true}
	})
}

// DeclareWrite declares path as a deferred literal-bytes write (spec
// section 4.6, "Deferred writes"): raw is stored zstd-compressed in memory
// and only actually written to disk on first Ensure.
func (m *Materializer) DeclareWrite(path string, raw []byte, executable bool) error {
	if _, err := m.deferred.put(path, raw); err != nil {
		return fmt.Errorf("materializer: declare write: %w", err)
	}
	return m.Declare(path, Entry{Method: Method{Kind: MethodWrite, Executable: executable}})
}

// MatchArtifacts returns true iff every path in expected is already
// Declared, Materializing or Materialized with a matching method — a cheap optimization
// to avoid redeclaring identical outputs.
func (m *Materializer) MatchArtifacts(expected map[string]Entry) bool {
	match := true
	m.q.runHigh(func() {
		for path, want := range expected {
			cur, exists := m.paths[path]
			if !exists {
				match = false
				return
			}
			if cur.kind != stateDeclared && cur.kind != stateMaterializing && cur.kind != stateMaterialized {
				match = false
				return
			}
			if !equalMethod(cur.entry.Method, want.Method) {
				match = false
				return
			}
		}
	})
	return match
}

// GetPath returns the Materialized metadata for path, if any.
func (m *Materializer) GetPath(path string) (Metadata, bool) {
	var meta Metadata
	var ok bool
	m.q.runHigh(func() {
		cur, exists := m.paths[path]
		if exists && cur.kind == stateMaterialized {
			meta = cur.meta
			ok = true
		}
	})
	return meta, ok
}

// Invalidate marks paths as no longer produced, removing their state and
// returning a channel that closes once any in-flight work on them drains.
func (m *Materializer) Invalidate(paths []string) <-chan struct{} {
	done := make(chan struct{})
	var futures []*taskFuture
	m.q.runHigh(func() {
		for _, p := range paths {
			cur, exists := m.paths[p]
			if !exists {
				continue
			}
			cur.active = false
			if cur.materializing != nil {
				futures = append(futures, cur.materializing)
			}
			if cur.cleaning != nil {
				futures = append(futures, cur.cleaning)
			}
			delete(m.paths, p)
			m.deferred.drop(p)
		}
	})
	go func() {
		for _, f := range futures {
			f.wait()
		}
		close(done)
	}()
	return done
}

// TryMaterializeFinal ensures path iff "materialize finals" mode is
// configured on; otherwise it is a no-op returning false.
func (m *Materializer) TryMaterializeFinal(ctx context.Context, path string) bool {
	if !m.cfg.MaterializeFinals {
		return false
	}
	return m.ensureOne(ctx, path).Err == nil
}

// Ensure materializes every path, recursively ensuring each entry's own
// input artifacts first, and returns a stream of per-path results in
// input order. An empty input returns an already-closed, empty stream.
func (m *Materializer) Ensure(ctx context.Context, paths []string) <-chan PathResult {
	out := make(chan PathResult, len(paths))
	if len(paths) == 0 {
		close(out)
		return out
	}
	go func() {
		defer close(out)
		for _, p := range paths {
			out <- m.ensureOne(ctx, p)
		}
	}()
	return out
}

func (m *Materializer) ensureOne(ctx context.Context, path string) PathResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MaterializerEnsureDuration)

	for {
		const (
			actionMissing = iota
			actionImmediate
			actionWait
			actionDeclared
		)
		action := actionMissing
		var meta Metadata
		var fut *taskFuture
		var entry Entry

		m.q.runHigh(func() {
			cur, exists := m.paths[path]
			if !exists {
				return
			}
			switch cur.kind {
			case stateMaterialized:
				cur.meta.LastAccessTime = m.now()
				meta = cur.meta
				action = actionImmediate
			case stateMaterializing:
				fut = cur.materializing
				action = actionWait
			case stateDeclared:
				entry = cur.entry
				action = actionDeclared
			}
		})

		switch action {
		case actionMissing:
			return PathResult{Path: path, Err: &NotFoundError{Path: path}}
		case actionImmediate:
			if m.cfg.Store != nil {
				_ = m.persist(path, meta)
			}
			return PathResult{Path: path, Meta: meta}
		case actionWait:
			if err := fut.wait(); err != nil {
				return PathResult{Path: path, Err: err}
			}
			continue
		case actionDeclared:
			deps := make([]string, 0, len(entry.Deps)+len(entry.Method.CopyFrom))
			deps = append(deps, entry.Deps...)
			deps = append(deps, entry.Method.CopyFrom...)
			for _, dep := range deps {
				if r := m.ensureOne(ctx, dep); r.Err != nil {
					return PathResult{Path: path, Err: r.Err}
				}
			}
			m.spawnMaterializeIfDeclared(path)
			continue
		}
	}
}

// spawnMaterializeIfDeclared transitions path from Declared to
// Materializing and spawns its task, unless a racing caller already did
// so (or the path is gone) — this is what guarantees at most one
// materialization task per path is ever alive.
func (m *Materializer) spawnMaterializeIfDeclared(path string) {
	m.q.runHigh(func() {
		cur, exists := m.paths[path]
		if !exists || cur.kind != stateDeclared {
			return
		}
		cur.kind = stateMaterializing
		fut := newTaskFuture(cur.epoch)
		cur.materializing = fut
		go m.runMaterialize(path, cur.epoch, cur.entry, cur.cleaning, fut)
	})
}

func (m *Materializer) runClean(path string, prior, fut *taskFuture) {
	if prior != nil {
		_ = prior.wait()
	}
	dst := filepath.Join(m.cfg.Root, path)
	err := os.RemoveAll(dst)
	fut.finish(err)
	if err != nil {
		log.WithPath(path).Warn().Err(err).Msg("cleanup of stale materialized bytes failed")
	}
}

func (m *Materializer) runMaterialize(path string, epoch uint64, entry Entry, cleaning, fut *taskFuture) {
	if cleaning != nil {
		_ = cleaning.wait()
	}

	err := m.materialize(context.Background(), path, entry)
	fut.finish(err)

	m.q.pushLow(func() {
		m.onMaterializationFinished(path, epoch, entry, err)
	})
}

func (m *Materializer) onMaterializationFinished(path string, epoch uint64, entry Entry, taskErr error) {
	cur, exists := m.paths[path]
	if !exists || cur.epoch != epoch {
		current := m.nextEpoch
		if exists {
			current = cur.epoch
		}
		log.WithPath(path).Debug().Msg((&StaleCallbackError{Path: path, Epoch: current, Stale: epoch}).Error())
		return
	}

	if taskErr != nil {
		m.nextEpoch++
		cur.kind = stateDeclared
		cur.epoch = m.nextEpoch
		cur.materializing = nil
		var kind string
		if _, ok := taskErr.(*NotFoundError); ok {
			kind = "not_found"
		} else {
			kind = "io"
		}
		metrics.MaterializerErrorsTotal.WithLabelValues(kind).Inc()
		return
	}

	meta, err := m.statMetadata(path, entry)
	if err != nil {
		meta = Metadata{ArtifactType: artifactType(entry), LastAccessTime: m.now()}
	}
	cur.kind = stateMaterialized
	cur.meta = meta
	cur.materializing = nil
	cur.active = true
	m.deferred.drop(path)

	if m.cfg.Store != nil {
		if perr := m.persist(path, meta); perr != nil {
			log.WithPath(path).Warn().Err(perr).Msg("persisting materialized record failed, continuing in-memory")
		}
	}
}

func artifactType(entry Entry) string {
	switch {
	case entry.Method.Symlink != "":
		return "symlink"
	case entry.Method.Directory:
		return "directory"
	default:
		return "file"
	}
}

func (m *Materializer) persist(path string, meta Metadata) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SQLStoreWriteDuration)
	return m.cfg.Store.Put(sqlstore.Record{
		Path:           path,
		ArtifactType:   meta.ArtifactType,
		DigestSize:     meta.DigestSize,
		DigestSHA1:     meta.DigestSHA1,
		Executable:     meta.Executable,
		SymlinkTarget:  meta.SymlinkTarget,
		LastAccessTime: meta.LastAccessTime,
	})
}

// materialize dispatches entry's method against the filesystem, consuming
// the CAS/HTTP collaborators as needed (Design Notes §9, "dynamic dispatch
// on 'method'-like declared artifacts...consumed by an exhaustive switch").
func (m *Materializer) materialize(ctx context.Context, path string, entry Entry) error {
	dst := filepath.Join(m.cfg.Root, path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &IOError{Path: path, Err: err}
	}

	if entry.Method.Symlink != "" {
		_ = os.Remove(dst)
		if err := os.Symlink(entry.Method.Symlink, dst); err != nil {
			return &IOError{Path: path, Err: err}
		}
		return nil
	}

	switch entry.Method.Kind {
	case MethodWrite:
		raw := entry.Method.Bytes
		if raw == nil {
			decompressed, ok, err := m.deferred.get(path)
			if err != nil {
				return &IOError{Path: path, Err: err}
			}
			if !ok {
				return &NotFoundError{Path: path, Action: "deferred_write"}
			}
			raw = decompressed
		}
		return writeFile(dst, raw, entry.Method.Executable)

	case MethodLocalCopy:
		return copyLocal(dst, m.cfg.Root, entry.Method.CopyFrom, entry.Method.Executable)

	case MethodCASDownload:
		if m.cfg.CAS == nil {
			return &IOError{Path: path, Err: fmt.Errorf("no CAS configured")}
		}
		if err := m.cfg.CAS.Download(ctx, entry.Method.Digest, dst); err != nil {
			return &NotFoundError{Path: path, Action: "cas_download"}
		}
		return applyExecutable(dst, entry.Method.Executable)

	case MethodCASTree:
		if m.cfg.CAS == nil {
			return &IOError{Path: path, Err: fmt.Errorf("no CAS configured")}
		}
		if err := m.cfg.CAS.DownloadTree(ctx, entry.Method.Digest, dst); err != nil {
			return &NotFoundError{Path: path, Action: "cas_tree"}
		}
		return nil

	case MethodHTTPDownload:
		if m.cfg.HTTP == nil {
			return &IOError{Path: path, Err: fmt.Errorf("no HTTP fetcher configured")}
		}
		if err := m.cfg.HTTP.Fetch(ctx, entry.Method.URL, entry.Method.Checksum, dst); err != nil {
			return &IOError{Path: path, Err: err}
		}
		return applyExecutable(dst, entry.Method.Executable)

	default:
		return &IOError{Path: path, Err: fmt.Errorf("unknown method kind %v", entry.Method.Kind)}
	}
}

func writeFile(dst string, raw []byte, executable bool) error {
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	if err := os.WriteFile(dst, raw, mode); err != nil {
		return &IOError{Path: dst, Err: err}
	}
	return nil
}

func applyExecutable(dst string, executable bool) error {
	if !executable {
		return nil
	}
	if err := os.Chmod(dst, 0o755); err != nil {
		return &IOError{Path: dst, Err: err}
	}
	return nil
}

func copyLocal(dst, root string, sources []string, executable bool) error {
	if len(sources) == 1 {
		src := filepath.Join(root, sources[0])
		in, err := os.Open(src)
		if err != nil {
			return &IOError{Path: dst, Err: err}
		}
		defer in.Close()

		mode := os.FileMode(0o644)
		if executable {
			mode = 0o755
		}
		out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
		if err != nil {
			return &IOError{Path: dst, Err: err}
		}
		defer out.Close()

		if _, err := io.Copy(out, in); err != nil {
			return &IOError{Path: dst, Err: err}
		}
		return nil
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return &IOError{Path: dst, Err: err}
	}
	for _, s := range sources {
		if err := copyLocal(filepath.Join(dst, filepath.Base(s)), root, []string{s}, executable); err != nil {
			return err
		}
	}
	return nil
}

// statMetadata re-derives Metadata from the bytes materialize() just wrote,
// so the recorded record always reflects what is actually on disk.
func (m *Materializer) statMetadata(path string, entry Entry) (Metadata, error) {
	dst := filepath.Join(m.cfg.Root, path)

	if entry.Method.Symlink != "" {
		target, err := os.Readlink(dst)
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{ArtifactType: "symlink", SymlinkTarget: target, LastAccessTime: m.now()}, nil
	}

	info, err := os.Stat(dst)
	if err != nil {
		return Metadata{}, err
	}
	if info.IsDir() {
		size, digest, err := hashTree(dst)
		if err != nil {
			return Metadata{}, err
		}
		return Metadata{ArtifactType: "directory", DigestSize: size, DigestSHA1: digest, LastAccessTime: m.now()}, nil
	}

	digest, err := hashFile(dst)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		ArtifactType:   "file",
		DigestSize:     info.Size(),
		DigestSHA1:     digest,
		Executable:     info.Mode()&0o111 != 0,
		LastAccessTime: m.now(),
	}, nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha1.New() //nolint:gosec
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func hashTree(root string) (int64, []byte, error) {
	h := sha1.New() //nolint:gosec
	var total int64
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		total += info.Size()
		rel, _ := filepath.Rel(root, p)
		fmt.Fprintf(h, "%s:%d\n", rel, info.Size())
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return total, h.Sum(nil), nil
}
