package signalbus

import "container/heap"

// readyQueue orders ready-to-finalize nodes by arrival index, giving
// recomputeLongestPath deterministic output when several nodes become
// ready on the same topological "layer".
type readyQueue []*nodeState

func (q readyQueue) Len() int            { return len(q) }
func (q readyQueue) Less(i, j int) bool  { return q[i].arrival < q[j].arrival }
func (q readyQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x any)         { *q = append(*q, x.(*nodeState)) }
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// recomputeLongestPath runs Kahn's algorithm over the full observed graph,
// computing each node's longest-path prefix and best predecessor from
// scratch. Must be called with b.mu held. Predecessor edges referencing a
// node that never arrived are dropped: dangling edges are not an error,
// since the engine may not signal everything under pathological failure.
func (b *Bus) recomputeLongestPath() {
	indegree := make(map[NodeID]int, len(b.nodes))
	succs := make(map[NodeID][]NodeID, len(b.nodes))

	for id, n := range b.nodes {
		for _, p := range n.preds {
			if _, ok := b.nodes[p]; !ok {
				continue
			}
			indegree[id]++
			succs[p] = append(succs[p], id)
		}
		n.pendingHas = false
	}

	q := make(readyQueue, 0, len(b.nodes))
	for id, n := range b.nodes {
		if indegree[id] == 0 {
			n.prefix = n.ownDuration
			n.hasBestPred = false
			q = append(q, n)
		}
	}
	heap.Init(&q)

	for q.Len() > 0 {
		n := heap.Pop(&q).(*nodeState)
		for _, succID := range succs[n.id] {
			sn := b.nodes[succID]
			if !sn.pendingHas || n.prefix > sn.pendingBest {
				sn.pendingBest = n.prefix
				sn.pendingBestID = n.id
				sn.pendingHas = true
			}
			indegree[succID]--
			if indegree[succID] == 0 {
				if sn.pendingHas {
					sn.prefix = sn.ownDuration + sn.pendingBest
					sn.bestPred = sn.pendingBestID
					sn.hasBestPred = true
				} else {
					sn.prefix = sn.ownDuration
					sn.hasBestPred = false
				}
				heap.Push(&q, sn)
			}
		}
	}
}
