package build

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEventBus_TryDrainPreservesOrder(t *testing.T) {
	b := NewEventBus()
	if got := b.TryDrain(); got != nil {
		t.Fatalf("empty bus drained %v", got)
	}
	b.Send(Stdout{Line: "1"})
	b.Send(Stdout{Line: "2"})
	b.Send(Finish{Key: key("a")})

	got := b.TryDrain()
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].(Stdout).Line != "1" || got[1].(Stdout).Line != "2" {
		t.Fatalf("order lost: %v", got)
	}
	if _, ok := got[2].(Finish); !ok {
		t.Fatalf("expected Finish last, got %T", got[2])
	}
	if b.Len() != 0 {
		t.Fatalf("bus not empty after drain")
	}
}

func TestEventBus_RecvBlocksUntilSend(t *testing.T) {
	b := NewEventBus()
	got := make(chan Event, 1)
	go func() { got <- b.Recv() }()

	select {
	case ev := <-got:
		t.Fatalf("Recv returned early with %v", ev)
	case <-time.After(20 * time.Millisecond):
	}

	want := errors.New("x")
	b.Send(TokenAcquired{Err: want})
	select {
	case ev := <-got:
		if ta, ok := ev.(TokenAcquired); !ok || ta.Err != want {
			t.Fatalf("unexpected event %v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv never woke up")
	}
}

func TestEventBus_ManyProducers(t *testing.T) {
	b := NewEventBus()
	const producers, each = 8, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				b.Send(Warning{Msg: "w"})
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for received < producers*each {
			b.Recv()
			received++
		}
		close(done)
	}()
	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events were lost")
	}
}
