package dag

import (
	"errors"
	"reflect"
	"testing"
)

func drain(q *Queue[string, int]) []string {
	var out []string
	for {
		_, k, _, ok := q.Dequeue()
		if !ok {
			return out
		}
		out = append(out, k)
	}
}

func mustEnqueue(t *testing.T, q *Queue[string, int], key string, deps ...string) {
	t.Helper()
	if err := q.Enqueue(key, []int{1}, deps); err != nil {
		t.Fatalf("enqueue %s: %v", key, err)
	}
}

func TestQueue_ReadyInEnqueueOrder(t *testing.T) {
	q := NewQueue[string, int]()
	mustEnqueue(t, q, "C")
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B")

	got := drain(q)
	if !reflect.DeepEqual(got, []string{"C", "A", "B"}) {
		t.Fatalf("expected FIFO order, got %v", got)
	}
}

func TestQueue_DependentsWaitForEveryDependency(t *testing.T) {
	q := NewQueue[string, int]()
	// Diamond: A -> B, A -> C, {B, C} -> D. D is enqueued before its deps.
	mustEnqueue(t, q, "D", "B", "C")
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B", "A")
	mustEnqueue(t, q, "C", "A")

	if got := drain(q); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("only A should be ready, got %v", got)
	}
	if err := q.Finish("A", Fresh); err != nil {
		t.Fatalf("finish A: %v", err)
	}
	if got := drain(q); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Fatalf("expected B, C ready, got %v", got)
	}
	if err := q.Finish("C", Fresh); err != nil {
		t.Fatalf("finish C: %v", err)
	}
	if got := drain(q); len(got) != 0 {
		t.Fatalf("D must wait for B, got %v", got)
	}
	if err := q.Finish("B", Fresh); err != nil {
		t.Fatalf("finish B: %v", err)
	}
	if got := drain(q); !reflect.DeepEqual(got, []string{"D"}) {
		t.Fatalf("expected D ready, got %v", got)
	}
	if q.Len() != 1 || q.IsEmpty() {
		t.Fatalf("D is dequeued but not finished; Len=%d", q.Len())
	}
	if err := q.Finish("D", Fresh); err != nil {
		t.Fatalf("finish D: %v", err)
	}
	if !q.IsEmpty() {
		t.Fatalf("expected empty queue, remaining %v", q.Remaining())
	}
}

func TestQueue_DirtyPropagatesToDependents(t *testing.T) {
	q := NewQueue[string, int]()
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B")
	mustEnqueue(t, q, "C", "A", "B")

	drain(q)
	if err := q.Finish("A", Dirty); err != nil {
		t.Fatal(err)
	}
	if err := q.Finish("B", Fresh); err != nil {
		t.Fatal(err)
	}
	fresh, key, payload, ok := q.Dequeue()
	if !ok || key != "C" {
		t.Fatalf("expected C, got %q ok=%v", key, ok)
	}
	if fresh != Dirty {
		t.Fatalf("C must inherit Dirty from A, got %s", fresh)
	}
	if !reflect.DeepEqual(payload, []int{1}) {
		t.Fatalf("payload mismatch: %v", payload)
	}
}

func TestQueue_RootsAreFresh(t *testing.T) {
	q := NewQueue[string, int]()
	mustEnqueue(t, q, "A")
	fresh, _, _, ok := q.Dequeue()
	if !ok || fresh != Fresh {
		t.Fatalf("root should dequeue Fresh, got %s ok=%v", fresh, ok)
	}
}

func TestQueue_EveryKeyDequeuedExactlyOnceAfterItsDeps(t *testing.T) {
	q := NewQueue[string, int]()
	deps := map[string][]string{
		"A": nil,
		"B": nil,
		"C": {"A"},
		"D": {"A", "B"},
		"E": {"C"},
		"F": {"D", "E"},
		"G": {"F", "A"},
	}
	for _, k := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		mustEnqueue(t, q, k, deps[k]...)
	}

	finished := map[string]bool{}
	seen := map[string]int{}
	for !q.IsEmpty() {
		batch := drain(q)
		if len(batch) == 0 {
			t.Fatalf("stalled with %v remaining", q.Remaining())
		}
		for _, k := range batch {
			seen[k]++
			for _, d := range deps[k] {
				if !finished[d] {
					t.Fatalf("%s dequeued before dependency %s finished", k, d)
				}
			}
		}
		// Finish in reverse to exercise out-of-order completion.
		for i := len(batch) - 1; i >= 0; i-- {
			if err := q.Finish(batch[i], Fresh); err != nil {
				t.Fatal(err)
			}
			finished[batch[i]] = true
		}
	}
	for k := range deps {
		if seen[k] != 1 {
			t.Fatalf("%s dequeued %d times", k, seen[k])
		}
	}
}

func TestQueue_EnqueueMisuse(t *testing.T) {
	q := NewQueue[string, int]()
	mustEnqueue(t, q, "A")
	if err := q.Enqueue("A", nil, nil); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	drain(q)
	if err := q.Enqueue("B", nil, nil); !errors.Is(err, ErrQueueSealed) {
		t.Fatalf("expected ErrQueueSealed, got %v", err)
	}
}

func TestQueue_FinishMisuse(t *testing.T) {
	q := NewQueue[string, int]()
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B", "A")

	if err := q.Finish("Z", Fresh); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected error for unknown key, got %v", err)
	}
	if err := q.Finish("B", Fresh); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected error for finishing before dequeue, got %v", err)
	}
	drain(q)
	if err := q.Finish("A", Fresh); err != nil {
		t.Fatal(err)
	}
	if err := q.Finish("A", Fresh); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected error for double finish, got %v", err)
	}
}

func TestQueue_UnknownDependencyNeverReady(t *testing.T) {
	q := NewQueue[string, int]()
	mustEnqueue(t, q, "A", "ghost")
	if got := drain(q); len(got) != 0 {
		t.Fatalf("A must never be ready, got %v", got)
	}
	if !reflect.DeepEqual(q.Remaining(), []string{"A"}) {
		t.Fatalf("remaining: %v", q.Remaining())
	}
}

func TestQueue_DuplicateDepsCollapse(t *testing.T) {
	q := NewQueue[string, int]()
	mustEnqueue(t, q, "A")
	mustEnqueue(t, q, "B", "A", "A")
	drain(q)
	if err := q.Finish("A", Fresh); err != nil {
		t.Fatal(err)
	}
	if got := drain(q); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("B should be ready after a single Finish of A, got %v", got)
	}
}
