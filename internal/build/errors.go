package build

import (
	"fmt"
	"strings"

	"unitforge/internal/unit"
)

// JobError is returned when a job's Run failed. It is the only error kind
// that means "the build is broken" rather than "the tool is broken".
type JobError struct {
	Key unit.Key
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("failed to build %s: %v", e.Key, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// TokenError is returned when the jobserver could not grant a requested
// token. Scheduling stops at once.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("failed to acquire jobserver token: %v", e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// ConsistencyError is returned when all active work finished but the queue
// still holds keys: a cycle or a dependency on a key that was never
// enqueued.
type ConsistencyError struct {
	Remaining []unit.Key
}

func (e *ConsistencyError) Error() string {
	names := make([]string, 0, len(e.Remaining))
	for _, k := range e.Remaining {
		names = append(names, k.String())
	}
	return "internal error: finished with jobs still left in the queue: " + strings.Join(names, ", ")
}
