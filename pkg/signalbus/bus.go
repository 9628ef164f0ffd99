package signalbus

import (
	"sync"
	"time"

	"github.com/cuemby/anvil/pkg/log"
	"github.com/cuemby/anvil/pkg/metrics"
)

// Mode selects the critical-path algorithm run at BuildFinished.
type Mode int

const (
	// ModeSimple maintains the predecessor table incrementally as signals
	// arrive, in the assumed topological observation order.
	ModeSimple Mode = iota
	// ModeLongestPath additionally retains the full edge set and
	// recomputes a true topological-order longest path with potentials
	// at BuildFinished, independent of arrival order.
	ModeLongestPath
)

type nodeState struct {
	id          NodeID
	seen        bool
	ownDuration time.Duration
	preds       []NodeID
	arrival     int

	prefix      time.Duration
	bestPred    NodeID
	hasBestPred bool

	// Scratch fields used only during recomputeLongestPath.
	pendingBest   time.Duration
	pendingBestID NodeID
	pendingHas    bool
}

// Bus is SignalBus: a non-blocking Signal API backed by an unbounded
// queue and a single background consumer.
type Bus struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    []Signal
	finished bool

	mode       Mode
	nodes      map[NodeID]*nodeState
	arrivalSeq int
	pending    []Signal // deferred top-level-target signals

	done   chan struct{}
	report CriticalPath
}

// New starts a Bus running in the given Mode.
func New(mode Mode) *Bus {
	b := &Bus{
		mode:  mode,
		nodes: make(map[NodeID]*nodeState),
		done:  make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	go b.consume()
	return b
}

// Signal enqueues s. It never blocks and never returns an error; signals
// arriving after BuildFinished has been processed are silently dropped.
func (b *Bus) Signal(s Signal) {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		metrics.SignalsDroppedTotal.Inc()
		return
	}
	b.queue = append(b.queue, s)
	depth := len(b.queue)
	b.mu.Unlock()
	metrics.SignalBusQueueDepth.Set(float64(depth))
	b.cond.Signal()
}

// Wait blocks until BuildFinished has been processed and returns the
// critical-path report.
func (b *Bus) Wait() CriticalPath {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.report
}

func (b *Bus) consume() {
	logger := log.WithComponent("signalbus")
	logger.Info().Msg("signal consumer started")
	for {
		b.mu.Lock()
		for len(b.queue) == 0 {
			b.cond.Wait()
		}
		s := b.queue[0]
		b.queue = b.queue[1:]
		depth := len(b.queue)
		b.mu.Unlock()
		metrics.SignalBusQueueDepth.Set(float64(depth))

		if s.Kind == KindBuildFinished {
			b.finish()
			logger.Info().Msg("signal consumer stopped")
			return
		}
		b.apply(s)
	}
}

func (b *Bus) getOrCreate(id NodeID) *nodeState {
	n, ok := b.nodes[id]
	if !ok {
		n = &nodeState{id: id, arrival: b.arrivalSeq}
		b.arrivalSeq++
		b.nodes[id] = n
	}
	return n
}

func (b *Bus) apply(s Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch s.Kind {
	case KindActionExecuted, KindAnalysisDone:
		n := b.getOrCreate(s.Node)
		n.seen = true
		n.ownDuration = s.OwnDuration
		n.preds = append(n.preds, s.Predecessors...)
		if b.mode == ModeSimple {
			b.relax(n)
		}

	case KindTransitiveSetComputed:
		n := b.getOrCreate(s.Node)
		n.seen = true
		n.preds = append(n.preds, s.Predecessors...)
		if b.mode == ModeSimple {
			b.relax(n)
		}

	case KindActionRedirection:
		n := b.getOrCreate(s.Node)
		n.seen = true
		n.preds = append(n.preds, s.RedirectTo)
		if b.mode == ModeSimple {
			b.relax(n)
		}

	case KindTopLevelTarget:
		// Visibility edges are only meaningful once every analysis and
		// artifact node has been observed, so they are applied at finish
		// time rather than here.
		b.pending = append(b.pending, s)
	}
}

// relax recomputes n's prefix from its currently-known, already-seen
// predecessors. Used by ModeSimple as each signal arrives.
func (b *Bus) relax(n *nodeState) {
	var best time.Duration
	var bestID NodeID
	has := false
	for _, p := range n.preds {
		pn, ok := b.nodes[p]
		if !ok || !pn.seen {
			continue
		}
		if !has || pn.prefix > best {
			best = pn.prefix
			bestID = p
			has = true
		}
	}
	n.prefix = n.ownDuration + best
	n.bestPred = bestID
	n.hasBestPred = has
}

func (b *Bus) finish() {
	b.mu.Lock()

	for _, s := range b.pending {
		src := b.getOrCreate(s.Node)
		src.seen = true
		for _, artifact := range s.Reachable {
			art := b.getOrCreate(artifact)
			art.preds = append(art.preds, s.Node)
		}
	}

	// Top-level-target edges are only discovered at finish time, so any
	// mode must re-derive prefixes from scratch once they are applied;
	// ModeLongestPath always does so regardless.
	if b.mode == ModeLongestPath || len(b.pending) > 0 {
		b.recomputeLongestPath()
	}

	b.report = b.buildReport()
	b.finished = true
	b.mu.Unlock()
	metrics.CriticalPathDuration.Observe(b.report.Total.Seconds())
	log.WithComponent("signalbus").Info().
		Int("entries", len(b.report.Path)).
		Dur("total", b.report.Total).
		Msg("critical path computed")
	close(b.done)
}

func (b *Bus) buildReport() CriticalPath {
	var endID NodeID
	var maxPrefix time.Duration
	has := false
	for id, n := range b.nodes {
		if !n.seen {
			continue
		}
		if !has || n.prefix > maxPrefix {
			maxPrefix = n.prefix
			endID = id
			has = true
		}
	}
	if !has {
		return CriticalPath{}
	}

	var chain []NodeID
	for cur := endID; ; {
		chain = append(chain, cur)
		n := b.nodes[cur]
		if !n.hasBestPred {
			break
		}
		cur = n.bestPred
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	entries := make([]Entry, 0, len(chain))
	var prev time.Duration
	for _, id := range chain {
		n := b.nodes[id]
		entries = append(entries, Entry{Node: id, Duration: n.prefix - prev})
		prev = n.prefix
	}

	potentials := make(map[NodeID]time.Duration, len(b.nodes))
	for id, n := range b.nodes {
		if !n.seen {
			continue
		}
		potentials[id] = maxPrefix - n.prefix
	}

	return CriticalPath{Path: entries, Total: maxPrefix, Potentials: potentials}
}
