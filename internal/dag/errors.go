package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph      = errors.New("invalid dependency graph")
	ErrCycleFound        = errors.New("cycle detected")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrQueueSealed       = errors.New("queue already draining")
)

// GraphError wraps deterministic graph and queue misuse failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func graphErrorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycleFound, Msg: msg}
}
