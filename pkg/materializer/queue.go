package materializer

import (
	"container/list"
	"sync"
)

// cmdQueue is the Materializer's single-consumer, two-priority command
// queue: GetPath, Declare, DeclareExisting, Match, Invalidate, and Ensure
// run high priority, FIFO among themselves; MaterializationFinished
// completion callbacks run low priority and may be reordered behind any
// high-priority command still pending. Commands are plain closures run by
// the single consumer goroutine, so no lock is ever held across one's
// execution against pathState.
type cmdQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	high   *list.List
	low    *list.List
	closed bool
}

func newCmdQueue() *cmdQueue {
	q := &cmdQueue{high: list.New(), low: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// pushHigh enqueues a high-priority command.
func (q *cmdQueue) pushHigh(fn func()) {
	q.mu.Lock()
	q.high.PushBack(fn)
	q.mu.Unlock()
	q.cond.Signal()
}

// pushLow enqueues a low-priority command (a MaterializationFinished
// callback).
func (q *cmdQueue) pushLow(fn func()) {
	q.mu.Lock()
	q.low.PushBack(fn)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until a command is available or the queue is closed, always
// preferring any pending high-priority command.
func (q *cmdQueue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.high.Len() == 0 && q.low.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.high.Len() > 0 {
		e := q.high.Front()
		q.high.Remove(e)
		return e.Value.(func()), true
	}
	if q.low.Len() > 0 {
		e := q.low.Front()
		q.low.Remove(e)
		return e.Value.(func()), true
	}
	return nil, false
}

// close stops the queue; pop returns (nil, false) once drained.
func (q *cmdQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// runHigh enqueues fn as a high-priority command and blocks the caller
// until fn has run on the consumer goroutine.
func (q *cmdQueue) runHigh(fn func()) {
	done := make(chan struct{})
	q.pushHigh(func() {
		fn()
		close(done)
	})
	<-done
}
