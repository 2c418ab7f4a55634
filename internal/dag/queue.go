package dag

import (
	"container/heap"
	"fmt"
)

// Queue tracks topological readiness over a DAG of opaque keys.
//
// Every key carries a payload list and its own dependency list. A key becomes
// ready once each of its dependencies has been reported via Finish; Dequeue
// hands out ready keys one at a time, together with the Freshness accumulated
// from the dependencies that finished so far.
//
// Policy:
//   - Keys are registered with Enqueue before the first Dequeue/Finish. The
//     first call to either seals the queue.
//   - Simultaneously ready keys are dequeued in enqueue order (FIFO).
//   - A dependency on a key that is never enqueued is never satisfied; the
//     dependent stays in the queue forever. Validate reports that up front.
//
// Queue is not safe for concurrent use: it is owned by a single coordinator.
type Queue[K comparable, V any] struct {
	entries map[K]*queueEntry[K, V]
	order   []*queueEntry[K, V]
	ready   intMinHeap

	sealed     bool
	unfinished int
}

type queueEntry[K comparable, V any] struct {
	key     K
	index   int
	payload []V
	deps    []K

	dependents []*queueEntry[K, V]
	pending    int
	fresh      Freshness

	dequeued bool
	finished bool
}

// NewQueue returns an empty queue.
func NewQueue[K comparable, V any]() *Queue[K, V] {
	return &Queue[K, V]{entries: make(map[K]*queueEntry[K, V])}
}

// Enqueue registers key with its payload and dependency set.
//
// Duplicate dependency keys are collapsed. It fails if key was already
// enqueued or if draining has begun.
func (q *Queue[K, V]) Enqueue(key K, payload []V, deps []K) error {
	if q.sealed {
		return graphErrorf(ErrQueueSealed, "cannot enqueue %v", key)
	}
	if _, exists := q.entries[key]; exists {
		return graphErrorf(ErrDuplicateKey, "%v", key)
	}

	seen := make(map[K]struct{}, len(deps))
	uniq := make([]K, 0, len(deps))
	for _, d := range deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		uniq = append(uniq, d)
	}

	e := &queueEntry[K, V]{
		key:     key,
		index:   len(q.order),
		payload: append([]V(nil), payload...),
		deps:    uniq,
	}
	q.entries[key] = e
	q.order = append(q.order, e)
	q.unfinished++
	return nil
}

// seal wires reverse edges and seeds the ready heap. Done lazily so keys may
// be enqueued in any order relative to the keys they depend on.
func (q *Queue[K, V]) seal() {
	if q.sealed {
		return
	}
	q.sealed = true
	for _, e := range q.order {
		for _, d := range e.deps {
			e.pending++
			if dep, ok := q.entries[d]; ok {
				dep.dependents = append(dep.dependents, e)
			}
		}
	}
	heap.Init(&q.ready)
	for _, e := range q.order {
		if e.pending == 0 {
			heap.Push(&q.ready, e.index)
		}
	}
}

// Dequeue returns one key whose dependencies have all finished and which has
// not been dequeued before. ok is false when nothing is ready right now; more
// keys may become ready after in-flight keys Finish.
//
// The returned Freshness is Dirty if any finished dependency was Dirty.
func (q *Queue[K, V]) Dequeue() (fresh Freshness, key K, payload []V, ok bool) {
	q.seal()
	if q.ready.Len() == 0 {
		return Fresh, key, nil, false
	}
	idx := heap.Pop(&q.ready).(int)
	e := q.order[idx]
	e.dequeued = true
	return e.fresh, e.key, e.payload, true
}

// Finish marks key done, folding fresh into every not-yet-dequeued dependent
// and releasing those whose last dependency this was.
func (q *Queue[K, V]) Finish(key K, fresh Freshness) error {
	q.seal()
	e, ok := q.entries[key]
	if !ok {
		return graphErrorf(ErrInvalidGraph, "finish of unknown key %v", key)
	}
	if !e.dequeued {
		return graphErrorf(ErrInvalidGraph, "finish of %v before it was dequeued", key)
	}
	if e.finished {
		return graphErrorf(ErrInvalidGraph, "%v finished twice", key)
	}
	e.finished = true
	q.unfinished--

	for _, d := range e.dependents {
		if d.dequeued {
			continue
		}
		d.fresh = d.fresh.Combine(fresh)
		d.pending--
		if d.pending == 0 {
			heap.Push(&q.ready, d.index)
		}
	}
	return nil
}

// Len returns the number of keys not yet finished.
func (q *Queue[K, V]) Len() int { return q.unfinished }

// IsEmpty reports whether every enqueued key has finished.
func (q *Queue[K, V]) IsEmpty() bool { return q.unfinished == 0 }

// Remaining returns the unfinished keys in enqueue order.
func (q *Queue[K, V]) Remaining() []K {
	out := make([]K, 0, q.unfinished)
	for _, e := range q.order {
		if !e.finished {
			out = append(out, e.key)
		}
	}
	return out
}

func (q *Queue[K, V]) String() string {
	return fmt.Sprintf("Queue{keys: %d, unfinished: %d, ready: %d}", len(q.order), q.unfinished, q.ready.Len())
}
