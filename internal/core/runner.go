package core

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"unitforge/internal/build"
	"unitforge/internal/dag"
	"unitforge/internal/plan"
)

// Runner turns Tasks into build jobs with fingerprint-based freshness.
//
// The flow for one task:
//  1. Prepare resolves inputs, computes the TaskHash and looks it up in the store.
//  2. The executor dequeues the unit; the job sees the combined freshness.
//  3. Fresh: nothing runs. Dirty: the old fingerprint is removed, the
//     command runs, outputs are harvested and a new fingerprint is stored.
//
// A failed command never leaves a fingerprint behind, so it is retried on
// the next build.
type Runner struct {
	WorkingDir string
	Store      FingerprintStore
	Process    *Executor
	Resolver   *InputResolver
	Hasher     *TaskHasher
	Harvester  *Harvester
	Log        hclog.Logger
}

// NewRunner creates a Runner rooted at workingDir.
func NewRunner(workingDir string, store FingerprintStore) *Runner {
	return &Runner{
		WorkingDir: workingDir,
		Store:      store,
		Process:    NewExecutor(workingDir),
		Resolver:   NewInputResolver(workingDir),
		Hasher:     NewTaskHasher(),
		Harvester:  NewHarvester(workingDir),
		Log:        hclog.NewNullLogger(),
	}
}

// Prepared is a task whose freshness has been determined.
type Prepared struct {
	Task  *Task
	Hash  TaskHash
	Fresh dag.Freshness
}

// Work wraps p for build.Executor.Enqueue.
func (r *Runner) Work(p *Prepared) build.Work {
	return build.Work{Job: r.Job(p), Fresh: p.Fresh}
}

// Prepare computes the task's hash and decides its own freshness. A task is
// Fresh only if a fingerprint exists for its hash and its outputs still
// hash to what was recorded.
//
// Inputs that cannot be resolved yet, typically outputs of a dependency
// that has never been built, make the task Dirty with an empty Hash.
func (r *Runner) Prepare(task *Task) (*Prepared, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	p := &Prepared{Task: task, Fresh: dag.Dirty}
	hash, err := r.hash(task)
	if err != nil {
		r.logger().Debug("inputs unresolved", "task", task.Name, "error", err)
		return p, nil
	}
	p.Hash = hash

	fp, err := r.Store.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", task.Name, err)
	}
	if fp == nil {
		r.logger().Debug("no fingerprint", "task", task.Name, "hash", hash)
		return p, nil
	}
	outputs, err := r.Harvester.Harvest(task.Outputs)
	if err != nil {
		r.logger().Debug("outputs missing", "task", task.Name, "error", err)
		return p, nil
	}
	if outputs.Hash() != fp.OutputHash {
		r.logger().Debug("outputs changed", "task", task.Name, "hash", hash)
		return p, nil
	}
	p.Fresh = dag.Fresh
	return p, nil
}

// Job returns the build.Job that brings p up to date.
func (r *Runner) Job(p *Prepared) build.Job {
	return build.JobFunc(func(fresh dag.Freshness, st *build.JobState) error {
		if st.PlanOnly() {
			st.BuildPlan(plan.ModuleName(st.Key()), p.Task.Run, r.Harvester.Paths(p.Task.Outputs))
			return nil
		}
		if fresh == dag.Fresh {
			return nil
		}
		return r.run(p, st)
	})
}

func (r *Runner) run(p *Prepared, st *build.JobState) error {
	task := p.Task

	// Inputs may be outputs of units that just ran, so the hash computed by
	// Prepare is stale for any dirty unit.
	hash, err := r.hash(task)
	if err != nil {
		return err
	}
	if p.Hash != "" {
		if err := r.Store.Remove(p.Hash); err != nil {
			return err
		}
	}

	code, err := r.Process.Execute(st.Context(), task, st)
	if err != nil {
		return fmt.Errorf("task %q: %w", task.Name, err)
	}
	if code != 0 {
		return &ExitError{Task: task.Name, Command: task.Run, Code: code}
	}

	outputs, err := r.Harvester.Harvest(task.Outputs)
	if err != nil {
		return fmt.Errorf("task %q: %w", task.Name, err)
	}
	fp := &Fingerprint{Hash: hash, Task: task.Name, OutputHash: outputs.Hash()}
	if err := r.Store.Put(fp); err != nil {
		return fmt.Errorf("task %q: %w", task.Name, err)
	}
	r.logger().Debug("stored fingerprint", "task", task.Name, "job", st.Index(), "hash", hash, "outputs", len(outputs.Files))
	return nil
}

func (r *Runner) hash(task *Task) (TaskHash, error) {
	inputs, err := r.Resolver.Resolve(task.Inputs)
	if err != nil {
		return "", fmt.Errorf("task %q: resolving inputs: %w", task.Name, err)
	}
	return r.Hasher.ComputeHash(HashInput{
		Inputs:     inputs,
		Command:    task.Run,
		Env:        task.Env,
		Outputs:    task.Outputs,
		WorkingDir: r.WorkingDir,
	}), nil
}

func (r *Runner) logger() hclog.Logger {
	if r.Log == nil {
		return hclog.NewNullLogger()
	}
	return r.Log
}
