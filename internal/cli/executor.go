package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"unitforge/internal/build"
	"unitforge/internal/config"
	"unitforge/internal/core"
	"unitforge/internal/jobserver"
	"unitforge/internal/plan"
	"unitforge/internal/shell"
)

// Streams are the process boundary: where output goes and where the
// environment comes from. Tests substitute all three.
type Streams struct {
	Stdout    io.Writer
	Stderr    io.Writer
	LookupEnv func(string) (string, bool)
}

// OSStreams is the real process boundary.
func OSStreams() Streams {
	return Streams{Stdout: os.Stdout, Stderr: os.Stderr, LookupEnv: os.LookupEnv}
}

func (s Streams) withDefaults() Streams {
	if s.Stdout == nil {
		s.Stdout = io.Discard
	}
	if s.Stderr == nil {
		s.Stderr = io.Discard
	}
	if s.LookupEnv == nil {
		s.LookupEnv = func(string) (string, bool) { return "", false }
	}
	return s
}

// LogEnvVar overrides the configured log level.
const LogEnvVar = "UNITFORGE_LOG"

type CLIResult struct {
	ExitCode int
	RunID    string
	Stats    build.Stats
}

// Execute loads config and graph, wires the executor and runs the build.
//
// Exit codes:
//   - 1 when a job failed.
//   - 3 for config, graph or validation problems; nothing has run.
//   - 4 for jobserver and consistency failures.
func Execute(ctx context.Context, inv Invocation, streams Streams) (res CLIResult, err error) {
	streams = streams.withDefaults()
	res.ExitCode = ExitInternalError
	res.RunID = uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	cfg, err := config.Load(inv.ConfigPath)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	cfg = inv.apply(cfg)
	if err := cfg.Validate(); err != nil {
		res.ExitCode = ExitConfigError
		return res, fmt.Errorf("config: %w", err)
	}

	log, err := newLogger(cfg, streams)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	log = log.With("run", res.RunID)

	color, _ := shell.ParseColor(cfg.Color)
	sh := shell.New(shell.Options{Out: streams.Stdout, Err: streams.Stderr, Color: color, Quiet: cfg.Quiet})

	graph, err := LoadGraphFromFile(inv.GraphPath, cfg.ProfileName())
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	client, err := newClient(cfg.Jobs, inv.BuildPlan, streams, log)
	if err != nil {
		return res, err
	}
	defer client.Close()

	var bp *plan.BuildPlan
	opts := build.Options{
		PlanOnly:    inv.BuildPlan,
		Verbosity:   cfg.Verbosity(),
		Profile:     cfg.Profile(),
		Console:     sh,
		Diagnostics: shell.NewDiagnostics(sh),
		Logger:      log.Named("build"),
	}
	if inv.BuildPlan {
		bp = plan.New(res.RunID)
		bp.SetInputs(existing(inv.GraphPath, inv.ConfigPath))
		opts.Plan = bp
	}

	runner := core.NewRunner(inv.WorkDir, core.NewFileStore(cfg.CacheDir))
	runner.Log = log.Named("core")
	runner.Process.Jobserver = client

	ex := build.NewExecutor(opts)
	for _, u := range graph.Units {
		works := make([]build.Work, 0, len(u.Tasks))
		for i := range u.Tasks {
			p, err := runner.Prepare(&u.Tasks[i])
			if err != nil {
				res.ExitCode = ExitConfigError
				return res, fmt.Errorf("unit %q: %w", u.Name, err)
			}
			works = append(works, runner.Work(p))
		}
		if err := ex.Enqueue(u.Key, u.Deps, works...); err != nil {
			res.ExitCode = ExitConfigError
			return res, err
		}
		if bp != nil {
			if err := bp.Add(u.Key, u.Deps); err != nil {
				res.ExitCode = ExitConfigError
				return res, err
			}
		}
	}
	if err := ex.Validate(); err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	log.Debug("starting build", "units", len(graph.Units), "jobs", cfg.Jobs, "plan", inv.BuildPlan)
	err = ex.Execute(ctx, client)
	res.Stats = ex.Stats()
	if err != nil {
		res.ExitCode = ExitCode(err)
		var jobErr *build.JobError
		if errors.As(err, &jobErr) {
			sh.Error(err.Error())
		}
		return res, err
	}

	if bp != nil {
		for _, m := range bp.Pending() {
			sh.Warn(fmt.Sprintf("%s: no job reported a build plan", m))
		}
		if _, err := bp.WriteTo(streams.Stdout); err != nil {
			return res, fmt.Errorf("write build plan: %w", err)
		}
		if h, err := bp.Hash(); err == nil {
			log.Debug("build plan written", "hash", h)
		}
	}
	res.ExitCode = ExitSuccess
	return res, nil
}

// newClient joins the jobserver advertised in the environment or creates
// a budget of jobs. An advertised jobserver that cannot be reached is fatal:
// the real budget is unknown.
//
// The private budget is a pipe jobserver so that commands can share it with
// builds they start. A plan-only run starts no commands and keeps its budget
// in process.
func newClient(jobs int, planOnly bool, streams Streams, log hclog.Logger) (jobserver.Client, error) {
	client, ok, err := jobserver.FromEnv(streams.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to jobserver from environment: %w", err)
	}
	if ok {
		log.Debug("joined jobserver from environment")
		return client, nil
	}
	if planOnly {
		return jobserver.NewLocal(jobs)
	}
	log.Debug("created jobserver pipe", "jobs", jobs)
	return jobserver.NewPipe(jobs)
}

func newLogger(cfg config.Config, streams Streams) (hclog.Logger, error) {
	levelName := cfg.LogLevel
	if v, ok := streams.LookupEnv(LogEnvVar); ok && v != "" {
		levelName = v
	}
	level, err := config.ParseLogLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", LogEnvVar, err)
	}
	if level == hclog.Off {
		return hclog.NewNullLogger(), nil
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "unitforge",
		Level:  level,
		Output: streams.Stderr,
	}), nil
}

func existing(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}
