package build

import (
	"context"
	"fmt"

	"unitforge/internal/dag"
	"unitforge/internal/unit"
)

// Job is one runnable piece of a unit's payload.
//
// Run is called exactly once, either on the coordinator goroutine (when
// fresh is dag.Fresh) or on a worker goroutine. A Fresh run must not block.
type Job interface {
	Run(fresh dag.Freshness, st *JobState) error
}

// JobFunc adapts a plain function to Job.
type JobFunc func(fresh dag.Freshness, st *JobState) error

func (f JobFunc) Run(fresh dag.Freshness, st *JobState) error { return f(fresh, st) }

// Work is a Job together with the freshness its own collaborator computed
// for it. The queue combines it with the freshness of the unit's
// dependencies.
type Work struct {
	Job   Job
	Fresh dag.Freshness
}

// JobState is the reporting handle given to a running Job. Every method
// sends on the executor's EventBus and is safe to call from any goroutine.
type JobState struct {
	ctx      context.Context
	key      unit.Key
	index    int
	bus      *EventBus
	planOnly bool
}

// Context is cancelled when the caller of Execute gives up. Jobs that spawn
// processes should bind them to it.
func (s *JobState) Context() context.Context { return s.ctx }

// Key is the unit this job belongs to.
func (s *JobState) Key() unit.Key { return s.key }

// Index is the position of this job within its unit's payload.
func (s *JobState) Index() int { return s.index }

// PlanOnly reports whether the job should describe itself with BuildPlan
// rather than do any work.
func (s *JobState) PlanOnly() bool { return s.planOnly }

func (s *JobState) Running(cmd string) { s.bus.Send(Run{Key: s.key, Cmd: cmd}) }

func (s *JobState) BuildPlan(module, cmd string, filenames []string) {
	s.bus.Send(BuildPlanUpdate{
		Module:    module,
		Index:     s.index,
		Command:   cmd,
		Filenames: append([]string(nil), filenames...),
	})
}

func (s *JobState) Stdout(line string)    { s.bus.Send(Stdout{Key: s.key, Line: line}) }
func (s *JobState) Stderr(line string)    { s.bus.Send(Stderr{Key: s.key, Line: line}) }
func (s *JobState) Diagnostic(msg string) { s.bus.Send(Diagnostic{Key: s.key, Msg: msg}) }
func (s *JobState) Warn(msg string)       { s.bus.Send(Warning{Key: s.key, Msg: msg}) }

// runJob runs job and converts a panic into its error.
func runJob(job Job, fresh dag.Freshness, st *JobState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	if job == nil {
		return fmt.Errorf("nil job")
	}
	return job.Run(fresh, st)
}
