package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"unitforge/internal/jobserver"
)

const (
	// WarningPrefix marks a stdout line as a warning for the unit.
	WarningPrefix = "unitforge:warning="
	// DiagnosticPrefix marks a stdout line as a pre-rendered diagnostic.
	DiagnosticPrefix = "unitforge:diagnostic="

	maxLineSize = 1 << 20
)

// makeflagsVars are set in a child's environment when it can join the
// jobserver, so that nested builds share the same token pool.
var makeflagsVars = []string{"MAKEFLAGS", "UNITFORGE_MAKEFLAGS"}

// Reporter receives a running task's output line by line.
// *build.JobState implements it.
type Reporter interface {
	Running(cmd string)
	Stdout(line string)
	Stderr(line string)
	Warn(msg string)
	Diagnostic(msg string)
}

// ExitError is a command that ran but did not exit 0.
type ExitError struct {
	Task    string
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process didn't exit successfully: `%s` (exit status: %d)", e.Command, e.Code)
}

// Executor runs task commands with only their declared environment.
//
// When Jobserver can be inherited, its pool is handed to every command along
// with the MAKEFLAGS that advertise it.
type Executor struct {
	WorkingDir string
	Jobserver  jobserver.Client
}

func NewExecutor(workingDir string) *Executor {
	return &Executor{WorkingDir: workingDir}
}

// Execute runs task.Run under "sh -c" and streams its output to rep. It
// returns the exit code; err is set only when the command could not be run
// at all or ctx was cancelled. Cancellation kills the whole process group.
func (e *Executor) Execute(ctx context.Context, task *Task, rep Reporter) (int, error) {
	if task == nil {
		return 0, fmt.Errorf("task is nil")
	}
	if task.Run == "" {
		return 0, fmt.Errorf("task %q: run command is empty", task.Name)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", task.Run)
	cmd.Dir = e.WorkingDir
	env := task.Env
	if in, ok := jobserver.Inherit(e.Jobserver); ok {
		env = withJobserver(env, in)
		cmd.ExtraFiles = in.Files
	}
	cmd.Env = buildIsolatedEnv(env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}

	rep.Running(task.Run)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start command: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error { return scanLines(stdout, func(line string) { routeStdout(rep, line) }) })
	g.Go(func() error { return scanLines(stderr, rep.Stderr) })
	scanErr := g.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return 0, fmt.Errorf("execution cancelled: %w", ctx.Err())
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, fmt.Errorf("failed to execute command: %w", waitErr)
	}
	if scanErr != nil {
		return 0, fmt.Errorf("reading command output: %w", scanErr)
	}
	return 0, nil
}

func routeStdout(rep Reporter, line string) {
	if msg, ok := strings.CutPrefix(line, WarningPrefix); ok {
		rep.Warn(msg)
		return
	}
	if msg, ok := strings.CutPrefix(line, DiagnosticPrefix); ok {
		rep.Diagnostic(msg)
		return
	}
	rep.Stdout(line)
}

func scanLines(r io.Reader, emit func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		emit(sc.Text())
	}
	if err := sc.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// withJobserver returns a copy of env advertising in. A MAKEFLAGS the task
// declares keeps its other flags.
func withJobserver(env map[string]string, in jobserver.Inheritance) map[string]string {
	out := make(map[string]string, len(env)+len(makeflagsVars))
	for k, v := range env {
		out[k] = v
	}
	for _, name := range makeflagsVars {
		out[name] = in.Makeflags(env[name])
	}
	return out
}

// buildIsolatedEnv is an allow-list: the environment starts empty and gets
// only the declared variables, in sorted order.
func buildIsolatedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
