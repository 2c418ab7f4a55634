package build

import (
	"sync"

	"unitforge/internal/jobserver"
	"unitforge/internal/unit"
)

// Event is anything a worker or the token helper reports to the coordinator.
// The set is closed; the coordinator switches over it exhaustively.
type Event interface {
	isEvent()
}

// Run announces the command a job is about to execute.
type Run struct {
	Key unit.Key
	Cmd string
}

// BuildPlanUpdate is emitted instead of running anything in plan-only mode.
// Index is the reporting job's position in its unit's payload, so that jobs
// finishing in any order still describe the unit the same way.
type BuildPlanUpdate struct {
	Module    string
	Index     int
	Command   string
	Filenames []string
}

// Stdout is one line of job output destined for stdout.
type Stdout struct {
	Key  unit.Key
	Line string
}

// Stderr is one line of job output destined for stderr. It may carry ANSI
// escapes.
type Stderr struct {
	Key  unit.Key
	Line string
}

// Diagnostic is a pre-rendered compiler-style message.
type Diagnostic struct {
	Key unit.Key
	Msg string
}

// Warning is buffered per key and flushed when a job of that key completes.
type Warning struct {
	Key unit.Key
	Msg string
}

// TokenAcquired carries a granted token, or the error that ended the
// helper's attempt to get one.
type TokenAcquired struct {
	Token *jobserver.Token
	Err   error
}

// Finish is the last event a job ever sends.
type Finish struct {
	Key unit.Key
	Err error
}

func (Run) isEvent()             {}
func (BuildPlanUpdate) isEvent() {}
func (Stdout) isEvent()          {}
func (Stderr) isEvent()          {}
func (Diagnostic) isEvent()      {}
func (Warning) isEvent()         {}
func (TokenAcquired) isEvent()   {}
func (Finish) isEvent()          {}

// EventBus is an unbounded many-producer, single-consumer queue.
//
// Send never blocks, so a worker can always deliver its Finish even while the
// coordinator is busy launching other work (or running a fresh job inline,
// which sends on the same bus from the coordinator goroutine).
type EventBus struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{notify: make(chan struct{}, 1)}
}

// Send appends ev. Events from one goroutine are received in send order.
func (b *EventBus) Send(ev Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// TryDrain removes and returns everything currently queued without
// blocking. It returns nil when the bus is empty.
func (b *EventBus) TryDrain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil
	}
	out := b.queue
	b.queue = nil
	return out
}

// Recv blocks until one event is available and returns it.
func (b *EventBus) Recv() Event {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			ev := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return ev
		}
		b.mu.Unlock()
		<-b.notify
	}
}

// Len reports how many events are queued.
func (b *EventBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
