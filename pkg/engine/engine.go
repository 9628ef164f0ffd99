package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/anvil/pkg/anvilkey"
	"github.com/cuemby/anvil/pkg/gate"
	"github.com/cuemby/anvil/pkg/log"
	"github.com/cuemby/anvil/pkg/metrics"
	"github.com/cuemby/anvil/pkg/signalbus"
	"github.com/cuemby/anvil/pkg/store"
	"github.com/cuemby/anvil/pkg/txn"
	"github.com/cuemby/anvil/pkg/version"
)

// Config is the engine configuration tuple.
type Config struct {
	// DetectCycles enables per-task chain cycle detection. Disabled by
	// default: cycles deadlock and are the caller's responsibility.
	DetectCycles bool
	// NestedPolicy and ParallelPolicy configure the Engine's embedded
	// ConcurrencyGate.
	NestedPolicy   gate.Policy
	ParallelPolicy gate.Policy
	// Bus, if set, receives a KindActionExecuted signal after every
	// successful Derived key Compute whose value is recorded in the store;
	// transient (invalid) results send no signal.
	Bus *signalbus.Bus
}

type transientEntry struct {
	value any
	err   error
}

type transientKey struct {
	stamp version.Stamp
	key   anvilkey.MapKey
}

// Engine is the incremental computation engine.
type Engine struct {
	cfg    Config
	store  *store.Store
	gate   *gate.Gate
	active *version.Active

	sf singleflight.Group

	mu          sync.Mutex
	curVersion  version.Version
	curMinor    map[version.Version]version.Minor
	keysByID    map[anvilkey.MapKey]anvilkey.Key
	reverseDeps map[anvilkey.MapKey]map[anvilkey.MapKey]struct{}

	transientMu sync.Mutex
	transient   map[transientKey]transientEntry
}

// New constructs an Engine at version 0 with no injected values.
func New(cfg Config) *Engine {
	e := &Engine{
		cfg:         cfg,
		store:       store.New(),
		curMinor:    make(map[version.Version]version.Minor),
		keysByID:    make(map[anvilkey.MapKey]anvilkey.Key),
		reverseDeps: make(map[anvilkey.MapKey]map[anvilkey.MapKey]struct{}),
		transient:   make(map[transientKey]transientEntry),
	}
	e.active = version.NewActive(e.onVersionIdle)
	e.gate = gate.New(gate.Config{
		Parallel: cfg.ParallelPolicy,
		Nested:   cfg.NestedPolicy,
		Drain:    e.drainOldVersions,
	})
	return e
}

// Gate returns the engine's embedded ConcurrencyGate, through which
// callers should admit commands before calling Eval or Inject.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Begin returns a fresh Transaction at the engine's current version, with
// its own MinorVersion and the given per-command user data. Callers
// typically pass the result to gate.Admit before use.
func (e *Engine) Begin(data any) *txn.Transaction {
	e.mu.Lock()
	v := e.curVersion
	minor := e.curMinor[v] + 1
	e.curMinor[v] = minor
	e.mu.Unlock()
	return txn.New(version.Stamp{Version: v, Minor: minor}, data, e.active)
}

func (e *Engine) registerKey(key anvilkey.Key) {
	mk := anvilkey.Of(key)
	e.mu.Lock()
	if _, ok := e.keysByID[mk]; !ok {
		e.keysByID[mk] = key
	}
	e.mu.Unlock()
}

func (e *Engine) lookupKey(mk anvilkey.MapKey) (anvilkey.Key, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k, ok := e.keysByID[mk]
	return k, ok
}

// Eval returns key's value at tr's version.
func (e *Engine) Eval(ctx context.Context, key anvilkey.Key, tr *txn.Transaction) (any, error) {
	timer := metrics.NewTimer()
	v, err := e.evalChained(ctx, key, tr, make(map[anvilkey.MapKey]struct{}))
	timer.ObserveDuration(metrics.EngineEvalDuration)
	return v, err
}

func (e *Engine) evalChained(ctx context.Context, key anvilkey.Key, tr *txn.Transaction, chain map[anvilkey.MapKey]struct{}) (any, error) {
	mk := anvilkey.Of(key)
	e.registerKey(key)

	if e.cfg.DetectCycles {
		if _, inChain := chain[mk]; inChain {
			metrics.EngineEvalTotal.WithLabelValues("error").Inc()
			return nil, &CycleError{Key: key.String()}
		}
	}

	at := tr.Version()

	if te, ok := e.getTransient(tr.Stamp(), mk); ok {
		metrics.EngineEvalTotal.WithLabelValues("match").Inc()
		return te.value, te.err
	}

	lookup := e.store.Get(key, at)
	switch lookup.Result {
	case store.ResultMatch:
		metrics.EngineEvalTotal.WithLabelValues("match").Inc()
		return lookup.Value, nil

	case store.ResultMismatch:
		ok, err := e.recheckDeps(ctx, lookup.PrevDeps, tr, chain)
		if err != nil {
			return nil, err
		}
		if ok {
			e.store.Reuse(key, at)
			metrics.EngineEvalTotal.WithLabelValues("reused").Inc()
			return lookup.PrevValue, nil
		}
		// fall through to recompute

	case store.ResultNone:
		if key.Kind() == anvilkey.KindInjected {
			metrics.EngineEvalTotal.WithLabelValues("error").Inc()
			return nil, &NotInjectedError{Key: key.String()}
		}
	}

	if key.Kind() == anvilkey.KindInjected {
		metrics.EngineEvalTotal.WithLabelValues("error").Inc()
		return nil, &NotInjectedError{Key: key.String()}
	}

	v, err := e.runTask(ctx, key, tr, mk, chain)
	if err != nil {
		metrics.EngineEvalTotal.WithLabelValues("error").Inc()
	} else {
		metrics.EngineEvalTotal.WithLabelValues("computed").Inc()
	}
	return v, err
}

// recheckDeps re-evaluates each recorded dependency at tr's version and
// tests it for equivalence against its recorded fingerprint, fanning the
// re-evaluations out concurrently.
func (e *Engine) recheckDeps(ctx context.Context, deps []store.Dep, tr *txn.Transaction, chain map[anvilkey.MapKey]struct{}) (bool, error) {
	if len(deps) == 0 {
		return true, nil
	}

	results := make([]bool, len(deps))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range deps {
		i, d := i, d
		g.Go(func() error {
			depKey, ok := e.lookupKey(d.Key)
			if !ok {
				results[i] = false
				return nil
			}
			newVal, err := e.evalChained(gctx, depKey, tr, cloneChain(chain))
			if err != nil {
				return err
			}
			results[i] = depKey.Equal(d.Value, newVal)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, ok := range results {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) runTask(ctx context.Context, key anvilkey.Key, tr *txn.Transaction, mk anvilkey.MapKey, chain map[anvilkey.MapKey]struct{}) (any, error) {
	sfKey := fmt.Sprintf("%s\x00%s\x00%d", mk.TypeID, mk.ID, tr.Version())
	newChain := cloneChain(chain)
	newChain[mk] = struct{}{}

	result, err, _ := e.sf.Do(sfKey, func() (any, error) {
		derivable, ok := key.(Derivable)
		if !ok {
			return nil, &NotDerivableError{Key: key.String()}
		}

		c := &Ctx{eng: e, tr: tr, chain: newChain}
		timer := metrics.NewTimer()
		value, cErr := derivable.Compute(ctx, c)
		timer.ObserveDuration(metrics.EngineUserFunctionDuration)

		if cErr != nil {
			e.putTransient(tr.Stamp(), mk, nil, cErr)
			return nil, cErr
		}

		if !key.Valid(value) {
			e.putTransient(tr.Stamp(), mk, value, nil)
			return value, nil
		}

		e.store.Record(key, value, tr.Version(), c.deps)
		e.propagateDeps(mk, c.deps)
		e.emitSignal(key, c.deps, timer.Duration())

		return value, nil
	})

	return result, err
}

func (e *Engine) emitSignal(key anvilkey.Key, deps []store.Dep, d time.Duration) {
	if e.cfg.Bus == nil {
		return
	}
	preds := make([]signalbus.NodeID, 0, len(deps))
	for _, dep := range deps {
		preds = append(preds, signalbus.NodeID(dep.Key.TypeID+":"+dep.Key.ID))
	}
	e.cfg.Bus.Signal(signalbus.Signal{
		Kind:         signalbus.KindActionExecuted,
		Node:         signalbus.NodeID(key.TypeID() + ":" + key.ID()),
		OwnDuration:  d,
		Predecessors: preds,
	})
}

func (e *Engine) propagateDeps(mk anvilkey.MapKey, deps []store.Dep) {
	if len(deps) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range deps {
		set, ok := e.reverseDeps[d.Key]
		if !ok {
			set = make(map[anvilkey.MapKey]struct{})
			e.reverseDeps[d.Key] = set
		}
		set[mk] = struct{}{}
	}
}

func (e *Engine) getTransient(stamp version.Stamp, mk anvilkey.MapKey) (transientEntry, bool) {
	e.transientMu.Lock()
	defer e.transientMu.Unlock()
	te, ok := e.transient[transientKey{stamp, mk}]
	return te, ok
}

func (e *Engine) putTransient(stamp version.Stamp, mk anvilkey.MapKey, value any, err error) {
	e.transientMu.Lock()
	defer e.transientMu.Unlock()
	e.transient[transientKey{stamp, mk}] = transientEntry{value: value, err: err}
}

func (e *Engine) onVersionIdle(v version.Version) {
	e.transientMu.Lock()
	for k := range e.transient {
		if k.stamp.Version == v {
			delete(e.transient, k)
		}
	}
	e.transientMu.Unlock()

	if oldest, ok := e.active.Oldest(); ok {
		e.store.CollectExpired(oldest)
	} else {
		e.mu.Lock()
		cur := e.curVersion
		e.mu.Unlock()
		e.store.CollectExpired(cur)
	}
}

// drainOldVersions is passed as the gate's Drain hook: it gives any
// in-flight collect-expired bookkeeping a chance to settle between the
// gate's Active→Cleanup and Cleanup→Idle transitions. Collection itself
// runs synchronously off version refcounts dropping to zero (onVersionIdle)
// rather than here; this hook exists for symmetry with the gate's
// "after the engine's idle future resolves" step and as an extension point
// for callers that want to block admission on a slower async drain.
func (e *Engine) drainOldVersions() {
	log.WithVersion(int64(e.currentVersion())).Debug().Msg("gate draining to idle")
}

func (e *Engine) currentVersion() version.Version {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.curVersion
}
