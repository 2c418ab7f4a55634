package jobserver

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// localClient is an in-process token pool. It is what a top-level build uses
// when no parent jobserver exists and no child process needs to share the
// budget.
type localClient struct {
	sem *semaphore.Weighted
}

// NewLocal returns a pool sized for jobs concurrent jobs (jobs-1 tokens plus
// the implicit slot).
func NewLocal(jobs int) (Client, error) {
	if jobs < 1 {
		return nil, fmt.Errorf("%w: jobs must be >= 1 (got %d)", ErrHandshake, jobs)
	}
	return &localClient{sem: semaphore.NewWeighted(int64(jobs - 1))}, nil
}

func (c *localClient) Acquire(ctx context.Context) (*Token, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return newToken(func() error {
		c.sem.Release(1)
		return nil
	}), nil
}

func (c *localClient) Close() error { return nil }
