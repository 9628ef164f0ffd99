package gate

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/anvil/pkg/log"
	"github.com/cuemby/anvil/pkg/metrics"
	"github.com/cuemby/anvil/pkg/txn"
)

// Policy controls how the gate treats a newcomer whose requested
// transaction is not equivalent to the currently active one.
type Policy int

const (
	// PolicyBlock waits, in FIFO order, until the gate returns to Idle.
	PolicyBlock Policy = iota
	// PolicyRun admits the newcomer immediately alongside the active
	// transaction, accepting the correctness caveat that follows.
	PolicyRun
	// PolicyError rejects the newcomer immediately.
	PolicyError
)

func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyRun:
		return "run"
	case PolicyError:
		return "error"
	default:
		return "unknown"
	}
}

// Config configures a Gate's admission policies.
type Config struct {
	// Parallel governs non-nested newcomers requesting an incompatible
	// transaction.
	Parallel Policy
	// Nested governs newcomers invoked from inside the active
	// transaction's own execution (see WithCurrent), requesting an
	// incompatible transaction. Its zero value is PolicyBlock; New applies
	// no default, while pkg/config's default for it is PolicyError.
	Nested Policy
	// Drain, if set, is invoked synchronously (without holding the
	// gate's lock) between the Active→Cleanup and Cleanup→Idle
	// transitions, giving the owning engine a chance to finish
	// collect-expired work before new commands are admitted.
	Drain func()
}

var ErrIncompatibleState = errors.New("gate: requested transaction is not equivalent to the active one")

type stateKind int

const (
	stateIdle stateKind = iota
	stateActive
	stateCleanup
)

// Gate is ConcurrencyGate: it admits or blocks commands against a shared
// transaction state.
type Gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	kind    stateKind
	current *txn.Transaction
	holders int
	epoch   uint64
	queue   *list.List
	cfg     Config
}

// New constructs an idle Gate.
func New(cfg Config) *Gate {
	g := &Gate{cfg: cfg, queue: list.New()}
	g.cond = sync.NewCond(&g.mu)
	return g
}

type currentKey struct{}

// WithCurrent tags ctx as executing inside t's transaction, so that a
// nested Admit call against the same Gate is recognized as a nested
// invocation rather than an independent command.
func WithCurrent(ctx context.Context, t *txn.Transaction) context.Context {
	return context.WithValue(ctx, currentKey{}, t)
}

func isNested(ctx context.Context) bool {
	t, ok := ctx.Value(currentKey{}).(*txn.Transaction)
	return ok && t != nil
}

// Admit requests admission for transaction requested. It blocks, admits, or
// errors according to the configured Policy. On success, the returned
// transaction is the one now governing the gate's Active state — either
// requested itself, or (when equivalent) the already-active transaction.
// The caller must call Release exactly once per successful Admit.
func (g *Gate) Admit(ctx context.Context, requested *txn.Transaction) (*txn.Transaction, error) {
	nested := isNested(ctx)
	logger := log.WithComponent("gate")
	waited := false

	g.mu.Lock()
	for {
		switch g.kind {
		case stateCleanup:
			g.waitTurn(logger)
			waited = true
			continue

		case stateIdle:
			g.kind = stateActive
			g.current = requested
			g.holders = 1
			g.mu.Unlock()
			metrics.GateAdmittedTotal.WithLabelValues(admitPath(waited, "idle")).Inc()
			return requested, nil

		case stateActive:
			if requested.Equivalent(g.current) {
				g.holders++
				admitted := g.current
				g.mu.Unlock()
				metrics.GateAdmittedTotal.WithLabelValues(admitPath(waited, "parallel")).Inc()
				return admitted, nil
			}

			policy := g.cfg.Parallel
			if nested {
				policy = g.cfg.Nested
			}
			switch policy {
			case PolicyRun:
				g.holders++
				g.mu.Unlock()
				logger.Warn().Bool("nested", nested).Msg("admitting incompatible state under run policy")
				metrics.GateAdmittedTotal.WithLabelValues(admitPath(waited, "parallel")).Inc()
				return requested, nil
			case PolicyError:
				g.mu.Unlock()
				logger.Error().Bool("nested", nested).Msg("rejecting incompatible state under error policy")
				metrics.GateAdmittedTotal.WithLabelValues("error").Inc()
				return nil, ErrIncompatibleState
			default: // PolicyBlock
				g.waitTurn(logger)
				waited = true
				continue
			}
		}
	}
}

// admitPath labels a successful admission for GateAdmittedTotal: a command
// that ever blocked in waitTurn is counted as "waited" regardless of which
// state it was ultimately admitted into.
func admitPath(waited bool, immediate string) string {
	if waited {
		return "waited"
	}
	return immediate
}

// waitTurn enqueues the calling goroutine as a FIFO waiter and blocks until
// the gate is Idle and this waiter is at the head of the queue. Must be
// called with g.mu held; releases and reacquires it via g.cond.Wait. Records
// the time spent waiting, independent of the eventual admission path.
func (g *Gate) waitTurn(logger zerolog.Logger) {
	timer := metrics.NewTimer()
	elem := g.queue.PushBack(struct{}{})
	logger.Debug().Msg("gate waiter queue: entered wait")
	for g.kind != stateIdle || g.queue.Front() != elem {
		g.cond.Wait()
	}
	g.queue.Remove(elem)
	logger.Debug().Msg("gate waiter queue: admitted from wait")
	timer.ObserveDuration(metrics.GateWaitDuration)
}

// Release drops one holder of the gate's active transaction. When the last
// holder drops, the gate transitions Active→Cleanup, runs cfg.Drain (if
// set) without holding the lock, then Cleanup→Idle — unless a newer
// Release has already advanced the epoch in the meantime, in which case
// this call's Cleanup→Idle transition is skipped (the newer one owns it).
func (g *Gate) Release() {
	g.mu.Lock()
	g.holders--
	if g.holders > 0 {
		g.mu.Unlock()
		return
	}

	g.epoch++
	myEpoch := g.epoch
	g.kind = stateCleanup
	drain := g.cfg.Drain
	g.mu.Unlock()

	if drain != nil {
		drain()
	}

	g.mu.Lock()
	if g.kind == stateCleanup && g.epoch == myEpoch {
		g.kind = stateIdle
		g.current = nil
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// Idle reports whether the gate currently has no active transaction.
func (g *Gate) Idle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.kind == stateIdle
}
