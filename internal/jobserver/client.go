// Package jobserver is the client side of the GNU make jobserver protocol.
//
// A jobserver is a shared pool of tokens. Every process owns one implicit
// token; each additional concurrent job must hold an acquired token and give
// it back as soon as the job no longer needs it, so that cooperating
// processes (nested builds, make -jN) never oversubscribe the machine.
package jobserver

import (
	"context"
	"errors"
	"sync"
)

// ErrHandshake is wrapped by every failure to attach to a jobserver.
var ErrHandshake = errors.New("jobserver handshake failed")

// Client hands out tokens.
type Client interface {
	// Acquire blocks until a token is granted or ctx is done.
	Acquire(ctx context.Context) (*Token, error)

	// Close detaches from the jobserver. Tokens still held are not returned.
	Close() error
}

// Token is one acquired capacity grant. Release returns it to the pool;
// calling Release more than once is a no-op.
type Token struct {
	once    sync.Once
	release func() error
	err     error
}

func newToken(release func() error) *Token {
	return &Token{release: release}
}

// Release gives the token back. Only the first call has an effect; later
// calls return the first call's error.
func (t *Token) Release() error {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		if t.release != nil {
			t.err = t.release()
		}
	})
	return t.err
}
