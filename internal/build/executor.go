// Package build is the scheduling core: it runs a DAG of units with
// parallelism bounded by a jobserver, reports progress, and surfaces exactly
// one error.
package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"unitforge/internal/dag"
	"unitforge/internal/jobserver"
	"unitforge/internal/unit"
)

// Verbosity controls which status lines reach the Console.
type Verbosity int

const (
	Normal Verbosity = iota
	Verbose
	Quiet
)

// Console receives all user-facing output.
type Console interface {
	Status(verb, msg string)
	Warn(msg string)
	Error(msg string)
	Stdout(line string)
	// Stderr passes line through, ANSI escapes included.
	Stderr(line string)
	Progress(done, total int, active []string)
	ClearProgress()
}

// PlanSink collects BuildPlanUpdate events. index is the position of the
// reporting job within its unit's payload.
type PlanSink interface {
	Update(module string, index int, command string, filenames []string) error
}

// DiagnosticSink renders Diagnostic events.
type DiagnosticSink interface {
	Emit(msg string)
}

// Options configure an Executor. The zero value runs quietly into the void.
type Options struct {
	// PlanOnly suppresses status lines; jobs are expected to report
	// BuildPlan updates instead of doing work.
	PlanOnly    bool
	Verbosity   Verbosity
	Profile     Profile
	Console     Console
	Plan        PlanSink
	Diagnostics DiagnosticSink
	Logger      hclog.Logger
}

// Stats describe one Execute.
type Stats struct {
	Inline     int // fresh jobs run on the coordinator
	Spawned    int // dirty jobs run on their own goroutine
	PeakTokens int
}

// Executor owns the dependency queue and drives it to completion.
//
// Enqueue every unit, then call Execute once. An Executor is not safe for
// concurrent use; all scheduling state is touched only by the goroutine
// calling Execute.
type Executor struct {
	opts     Options
	log      hclog.Logger
	queue    *dag.Queue[unit.Key, Work]
	progress *ProgressReporter
	stats    Stats
	executed bool

	// onLoop is called once per main-loop iteration, after launching.
	onLoop func(loopState)
}

type loopState struct {
	active int
	tokens int
	ready  int
}

// NewExecutor returns an empty executor.
func NewExecutor(opts Options) *Executor {
	if opts.Console == nil {
		opts.Console = discardConsole{}
	}
	log := opts.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Executor{
		opts:     opts,
		log:      log,
		queue:    dag.NewQueue[unit.Key, Work](),
		progress: NewProgressReporter(),
	}
}

// Enqueue registers key with its jobs and the keys it depends on. A unit
// with several jobs finishes, as far as its dependents are concerned, only
// when all of them have.
func (e *Executor) Enqueue(key unit.Key, deps []unit.Key, work ...Work) error {
	if len(work) == 0 {
		return fmt.Errorf("enqueue %s: no jobs", key)
	}
	if err := e.queue.Enqueue(key, work, deps); err != nil {
		return err
	}
	for range work {
		e.progress.Expect(key)
	}
	return nil
}

// Validate checks the enqueued graph for unknown dependencies and cycles.
func (e *Executor) Validate() error { return e.queue.Validate() }

// Len returns the number of units not yet finished.
func (e *Executor) Len() int { return e.queue.Len() }

// Stats returns counters for the last Execute.
func (e *Executor) Stats() Stats { return e.stats }

// Execute runs every enqueued unit. Parallelism beyond one job requires a
// token from client.
//
// The returned error is nil, the first *JobError, a *TokenError, a
// *ConsistencyError, or a plan sink failure. Running jobs are never
// interrupted by a failure elsewhere; Execute waits for them.
func (e *Executor) Execute(ctx context.Context, client jobserver.Client) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if client == nil {
		return errors.New("nil jobserver client")
	}
	if e.executed {
		return errors.New("executor already ran")
	}
	e.executed = true

	start := time.Now()
	bus := NewEventBus()
	helper := jobserver.NewHelper(client, func(tok *jobserver.Token, err error) {
		bus.Send(TokenAcquired{Token: tok, Err: err})
	}, e.log.Named("jobserver"))

	s := &session{
		Executor: e,
		ctx:      ctx,
		bus:      bus,
		helper:   helper,
		total:    e.queue.Len(),
		pending:  make(map[unit.Key]*pendingBuild),
		warnings: make(map[unit.Key][]string),
	}
	e.log.Debug("execute", "units", s.total)

	err := s.drainTheQueue()
	if len(s.active) > 0 {
		s.waitActive()
	}

	e.log.Trace("stopping token helper", "outstanding", helper.Outstanding(), "queued_events", bus.Len())
	helper.Stop()
	for _, ev := range bus.TryDrain() {
		if t, ok := ev.(TokenAcquired); ok && t.Token != nil {
			_ = t.Token.Release()
		}
	}
	s.releaseTokens(0)

	if err != nil {
		e.log.Debug("execute failed", "error", err)
		return err
	}
	if !e.opts.PlanOnly && e.opts.Verbosity != Quiet {
		e.opts.Console.Status("Finished", e.opts.Profile.Summary(time.Since(start)))
	}
	return nil
}

type pendingBuild struct {
	remaining int
	fresh     dag.Freshness
}

type readyJob struct {
	key   unit.Key
	index int
	job   Job
	fresh dag.Freshness
}

// session is the state of one Execute. Only the coordinator touches it.
type session struct {
	*Executor

	ctx    context.Context
	bus    *EventBus
	helper *jobserver.Helper
	total  int

	active   []unit.Key
	tokens   []*jobserver.Token
	pending  map[unit.Key]*pendingBuild
	warnings map[unit.Key][]string
}

func (s *session) drainTheQueue() error {
	var (
		failure error
		ready   []readyJob
	)

	for {
		// Pull everything that is ready. Every job beyond the first one we
		// want running asks for a token.
		if failure == nil {
			for {
				fresh, key, work, ok := s.queue.Dequeue()
				if !ok {
					break
				}
				total := fresh
				for _, w := range work {
					total = total.Combine(w.Fresh)
				}
				s.pending[key] = &pendingBuild{remaining: len(work), fresh: total}
				for i, w := range work {
					if len(s.active)+len(ready) > 0 {
						s.helper.RequestToken()
					}
					ready = append(ready, readyJob{key: key, index: i, job: w.Job, fresh: fresh.Combine(w.Fresh)})
				}
			}
		}

		if failure == nil && s.ctx.Err() != nil {
			failure = fmt.Errorf("build interrupted: %w", s.ctx.Err())
		}

		for failure == nil && len(ready) > 0 && len(s.active) < len(s.tokens)+1 {
			j := ready[0]
			ready = ready[1:]
			s.launch(j)
		}

		if s.onLoop != nil {
			s.onLoop(loopState{active: len(s.active), tokens: len(s.tokens), ready: len(ready)})
		}

		if len(s.active) == 0 {
			break
		}

		s.releaseTokens(len(s.active) - 1)

		events := s.bus.TryDrain()
		if len(events) == 0 {
			s.showProgress()
			events = append(events, s.bus.Recv())
		}
		for i, ev := range events {
			if err := s.handle(ev, &failure); err != nil {
				s.opts.Console.ClearProgress()
				for _, rest := range events[i+1:] {
					s.afterFatal(rest)
				}
				return err
			}
		}
	}

	s.opts.Console.ClearProgress()
	if failure != nil {
		return failure
	}
	if !s.queue.IsEmpty() {
		s.log.Trace("queue not drained", "queue", s.queue.String())
		return &ConsistencyError{Remaining: s.queue.Remaining()}
	}
	return nil
}

func (s *session) launch(j readyJob) {
	s.active = append(s.active, j.key)
	s.progress.Started(j.key)
	if !s.opts.PlanOnly {
		s.noteWorking(j.key, j.fresh)
	}
	s.log.Debug("start", "unit", j.key, "job", j.index, "fresh", j.fresh,
		"package_waiting", s.progress.Remaining(j.key.Package))

	st := &JobState{ctx: s.ctx, key: j.key, index: j.index, bus: s.bus, planOnly: s.opts.PlanOnly}
	if j.fresh == dag.Fresh {
		s.stats.Inline++
		s.bus.Send(Finish{Key: j.key, Err: runJob(j.job, j.fresh, st)})
		return
	}
	s.stats.Spawned++
	go func() {
		s.bus.Send(Finish{Key: j.key, Err: runJob(j.job, j.fresh, st)})
	}()
}

func (s *session) noteWorking(key unit.Key, fresh dag.Freshness) {
	n, ok := s.progress.NoteWorking(key, fresh)
	if !ok {
		return
	}
	switch {
	case n.Verbose && s.opts.Verbosity == Verbose:
		s.opts.Console.Status(n.Verb, n.Target)
	case !n.Verbose && s.opts.Verbosity != Quiet:
		s.opts.Console.Status(n.Verb, n.Target)
	}
}

func (s *session) handle(ev Event, failure *error) error {
	switch ev := ev.(type) {
	case Run:
		s.log.Debug("running", "unit", ev.Key, "cmd", ev.Cmd)
		if s.opts.Verbosity == Verbose {
			s.opts.Console.Status("Running", "`"+ev.Cmd+"`")
		}
	case BuildPlanUpdate:
		if s.opts.Plan != nil {
			if err := s.opts.Plan.Update(ev.Module, ev.Index, ev.Command, ev.Filenames); err != nil {
				return fmt.Errorf("build plan: %w", err)
			}
		}
	case Stdout:
		s.opts.Console.ClearProgress()
		s.opts.Console.Stdout(ev.Line)
	case Stderr:
		s.opts.Console.Stderr(ev.Line)
	case Diagnostic:
		if s.opts.Diagnostics != nil {
			s.opts.Diagnostics.Emit(ev.Msg)
		} else {
			s.opts.Console.Stderr(ev.Msg)
		}
	case Warning:
		s.warnings[ev.Key] = append(s.warnings[ev.Key], ev.Msg)
	case TokenAcquired:
		if ev.Err != nil {
			return &TokenError{Err: ev.Err}
		}
		s.tokens = append(s.tokens, ev.Token)
		if len(s.tokens) > s.stats.PeakTokens {
			s.stats.PeakTokens = len(s.tokens)
		}
		s.log.Trace("token acquired", "held", len(s.tokens))
	case Finish:
		return s.finish(ev, failure)
	default:
		return fmt.Errorf("internal error: unexpected event %T", ev)
	}
	return nil
}

func (s *session) finish(ev Finish, failure *error) error {
	s.removeActive(ev.Key)
	if len(s.active) > 0 {
		s.releaseTokens(len(s.tokens) - 1)
	}

	if ev.Err != nil {
		s.log.Debug("end", "unit", ev.Key, "error", ev.Err)
		s.flushWarnings(ev.Key, "build failed, the following warnings were emitted:")
		jerr := &JobError{Key: ev.Key, Err: ev.Err}
		if *failure != nil {
			s.opts.Console.Error(jerr.Error())
			return nil
		}
		*failure = jerr
		if len(s.active) > 0 {
			s.opts.Console.Warn("build failed, waiting for other jobs to finish...")
		}
		return nil
	}

	s.log.Debug("end", "unit", ev.Key)
	s.flushWarnings(ev.Key, "")
	p, ok := s.pending[ev.Key]
	if !ok {
		return fmt.Errorf("internal error: finish of %s which is not pending", ev.Key)
	}
	p.remaining--
	if p.remaining > 0 {
		return nil
	}
	delete(s.pending, ev.Key)
	return s.queue.Finish(ev.Key, p.fresh)
}

func (s *session) removeActive(key unit.Key) {
	for i, k := range s.active {
		if k == key {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return
		}
	}
}

// releaseTokens drops held tokens until at most keep remain.
func (s *session) releaseTokens(keep int) {
	if keep < 0 {
		keep = 0
	}
	for len(s.tokens) > keep {
		last := len(s.tokens) - 1
		if err := s.tokens[last].Release(); err != nil {
			s.log.Warn("token release failed", "error", err)
		}
		s.tokens[last] = nil
		s.tokens = s.tokens[:last]
		s.log.Trace("token released", "held", len(s.tokens))
	}
}

func (s *session) flushWarnings(key unit.Key, header string) {
	msgs := s.warnings[key]
	if len(msgs) == 0 {
		return
	}
	delete(s.warnings, key)
	if s.opts.Verbosity == Quiet {
		return
	}
	if header != "" {
		s.opts.Console.Warn(header)
	}
	for _, m := range msgs {
		s.opts.Console.Warn(key.ProgressName() + ": " + m)
	}
}

func (s *session) showProgress() {
	if s.opts.PlanOnly {
		return
	}
	names := make([]string, 0, len(s.active))
	for _, k := range s.active {
		names = append(names, k.ProgressName())
	}
	s.opts.Console.Progress(s.total-s.queue.Len(), s.total, names)
}

// waitActive collects the Finish of every job still running after a fatal
// error. Their results are logged, not surfaced.
func (s *session) waitActive() {
	for len(s.active) > 0 {
		s.afterFatal(s.bus.Recv())
	}
}

// afterFatal handles ev once the build has already failed. Output still
// reaches the console and warnings are flushed when their unit ends, but
// nothing is scheduled and no further error is surfaced.
func (s *session) afterFatal(ev Event) {
	switch ev := ev.(type) {
	case Finish:
		s.removeActive(ev.Key)
		if ev.Err != nil {
			s.log.Debug("end after fatal error", "unit", ev.Key, "error", ev.Err)
			s.flushWarnings(ev.Key, "build failed, the following warnings were emitted:")
			return
		}
		s.flushWarnings(ev.Key, "")
	case TokenAcquired:
		if ev.Token != nil {
			s.tokens = append(s.tokens, ev.Token)
		}
	default:
		var failure error
		if err := s.handle(ev, &failure); err != nil {
			s.log.Debug("event after fatal error", "error", err)
		}
	}
}

type discardConsole struct{}

func (discardConsole) Status(string, string)       {}
func (discardConsole) Warn(string)                 {}
func (discardConsole) Error(string)                {}
func (discardConsole) Stdout(string)               {}
func (discardConsole) Stderr(string)               {}
func (discardConsole) Progress(int, int, []string) {}
func (discardConsole) ClearProgress()              {}
