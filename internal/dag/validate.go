package dag

import (
	"container/heap"
	"fmt"
)

// Validate checks the enqueued graph without draining it.
//
// It rejects dependencies on keys that were never enqueued and any cycle
// (direct or indirect). Both conditions would otherwise only surface when the
// executor stops with keys still left in the queue.
func (q *Queue[K, V]) Validate() error {
	for _, e := range q.order {
		for _, d := range e.deps {
			if _, ok := q.entries[d]; !ok {
				return graphErrorf(ErrUnknownDependency, "%v depends on %v, which was never enqueued", e.key, d)
			}
		}
	}

	outgoing, indeg := q.adjacency()
	if len(topoOrderIndices(outgoing, indeg)) == len(q.order) {
		return nil
	}

	cycle := findCycle(outgoing)
	path := make([]string, 0, len(cycle))
	for _, idx := range cycle {
		path = append(path, fmt.Sprint(q.order[idx].key))
	}
	return cycleError(path)
}

// adjacency returns dependency -> dependent edges by enqueue index.
func (q *Queue[K, V]) adjacency() ([][]int, []int) {
	outgoing := make([][]int, len(q.order))
	indeg := make([]int, len(q.order))
	for _, e := range q.order {
		for _, d := range e.deps {
			dep, ok := q.entries[d]
			if !ok {
				continue
			}
			outgoing[dep.index] = append(outgoing[dep.index], e.index)
			indeg[e.index]++
		}
	}
	return outgoing, indeg
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices is Kahn's algorithm with a min-heap, so ties resolve to
// the lowest enqueue index.
func topoOrderIndices(outgoing [][]int, indegree []int) []int {
	indeg := make([]int, len(indegree))
	copy(indeg, indegree)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle runs a DFS in index order and returns one cycle as a closed
// path (first element repeated at the end). It returns a single stable
// witness, not every cycle.
func findCycle(outgoing [][]int) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(outgoing))
	parent := make([]int, len(outgoing))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				// Back-edge u -> v: walk parents from u back to v.
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range outgoing {
		if color[i] == white && dfs(i) {
			break
		}
	}

	for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
		cycle[i], cycle[j] = cycle[j], cycle[i]
	}
	return cycle
}
