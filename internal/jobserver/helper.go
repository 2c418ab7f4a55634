package jobserver

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Helper turns the blocking Acquire into asynchronous requests.
//
// RequestToken never blocks. Each request is served by one background
// goroutine, in order, and yields at most one call to deliver. Requests the
// jobserver never grants simply stay outstanding until Stop.
type Helper struct {
	client  Client
	deliver func(*Token, error)
	log     hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	requests int
	stopped  bool
}

// NewHelper starts the helper goroutine. deliver is called from that
// goroutine; it must not block for long.
func NewHelper(client Client, deliver func(*Token, error), log hclog.Logger) *Helper {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Helper{
		client:  client,
		deliver: deliver,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.cond = sync.NewCond(&h.mu)
	go h.loop()
	return h
}

// RequestToken asks for one more token.
func (h *Helper) RequestToken() {
	h.mu.Lock()
	h.requests++
	h.mu.Unlock()
	h.cond.Signal()
}

// Outstanding returns the number of requests not yet served.
func (h *Helper) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}

// Stop abandons outstanding requests and waits for the helper goroutine to
// exit. A token acquired after Stop is released immediately.
func (h *Helper) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cond.Broadcast()
	h.cancel()
	<-h.done
}

func (h *Helper) loop() {
	defer close(h.done)
	for {
		h.mu.Lock()
		for h.requests == 0 && !h.stopped {
			h.cond.Wait()
		}
		if h.stopped {
			h.mu.Unlock()
			return
		}
		h.requests--
		h.mu.Unlock()

		tok, err := h.client.Acquire(h.ctx)
		if h.ctx.Err() != nil {
			if tok != nil {
				_ = tok.Release()
			}
			return
		}
		if err != nil {
			h.log.Error("token acquire failed", "error", err)
			h.deliver(nil, err)
			return
		}
		h.log.Trace("token acquired")
		h.deliver(tok, nil)
	}
}
