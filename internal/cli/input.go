package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"unitforge/internal/build"
	"unitforge/internal/config"
	"unitforge/internal/dag"
	"unitforge/internal/shell"
)

const (
	ExitSuccess           = 0
	ExitBuildFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Invocation is the canonical description of one run. Paths are cleaned
// and resolved against WorkDir, never against the process CWD.
//
// Zero values of the override fields mean "use the config file".
type Invocation struct {
	WorkDir    string
	GraphPath  string
	ConfigPath string
	CacheDir   string

	Jobs      int
	Verbose   bool
	Quiet     bool
	Release   bool
	BuildPlan bool
	Color     string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses CLI flags into an Invocation. It does not read the
// environment or the CWD; --workdir must be explicit and absolute.
func ParseInvocation(args []string) (Invocation, error) {
	fs := flag.NewFlagSet("unitforge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var inv Invocation
	var graphPath, configPath, cacheDir string

	fs.StringVar(&inv.WorkDir, "workdir", "", "Absolute working directory. Required.")
	fs.StringVar(&graphPath, "graph", "", "Unit graph file (.yaml or .json). Required.")
	fs.StringVar(&configPath, "config", "", "Project config (default: <workdir>/"+config.FileName+").")
	fs.StringVar(&cacheDir, "cache-dir", "", "Fingerprint directory.")
	fs.IntVar(&inv.Jobs, "jobs", 0, "Number of parallel jobs.")
	fs.IntVar(&inv.Jobs, "j", 0, "Shorthand for --jobs.")
	fs.BoolVar(&inv.Verbose, "verbose", false, "Print fresh units and commands.")
	fs.BoolVar(&inv.Verbose, "v", false, "Shorthand for --verbose.")
	fs.BoolVar(&inv.Quiet, "quiet", false, "Print nothing but errors.")
	fs.BoolVar(&inv.Quiet, "q", false, "Shorthand for --quiet.")
	fs.BoolVar(&inv.Release, "release", false, "Build the release profile.")
	fs.BoolVar(&inv.BuildPlan, "build-plan", false, "Print the build plan as JSON instead of building.")
	fs.StringVar(&inv.Color, "color", "", "Coloring: auto|always|never.")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	if inv.WorkDir == "" {
		return Invocation{}, invalidInvocationf("--workdir is required")
	}
	inv.WorkDir = filepath.Clean(inv.WorkDir)
	if !filepath.IsAbs(inv.WorkDir) {
		return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", inv.WorkDir)
	}
	if graphPath == "" {
		return Invocation{}, invalidInvocationf("--graph is required")
	}
	if inv.Jobs < 0 {
		return Invocation{}, invalidInvocationf("--jobs must be >= 1 (got %d)", inv.Jobs)
	}
	if inv.Verbose && inv.Quiet {
		return Invocation{}, invalidInvocationf("--verbose and --quiet are mutually exclusive")
	}
	inv.Color = strings.ToLower(strings.TrimSpace(inv.Color))
	if inv.Color != "" {
		if _, err := shell.ParseColor(inv.Color); err != nil {
			return Invocation{}, invalidInvocationf("invalid --color %q (expected auto|always|never)", inv.Color)
		}
	}

	var err error
	if inv.GraphPath, err = resolveUnderWorkDir(inv.WorkDir, graphPath); err != nil {
		return Invocation{}, err
	}
	if configPath == "" {
		configPath = config.FileName
	}
	if inv.ConfigPath, err = resolveUnderWorkDir(inv.WorkDir, configPath); err != nil {
		return Invocation{}, err
	}
	if cacheDir != "" {
		if inv.CacheDir, err = resolveUnderWorkDir(inv.WorkDir, cacheDir); err != nil {
			return Invocation{}, err
		}
	}
	return inv, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// apply layers the flag overrides on top of cfg.
func (inv Invocation) apply(cfg config.Config) config.Config {
	if inv.Jobs > 0 {
		cfg.Jobs = inv.Jobs
	}
	if inv.Verbose {
		cfg.Verbose, cfg.Quiet = true, false
	}
	if inv.Quiet {
		cfg.Verbose, cfg.Quiet = false, true
	}
	if inv.Release {
		cfg.Release = true
	}
	if inv.Color != "" {
		cfg.Color = inv.Color
	}
	if inv.CacheDir != "" {
		cfg.CacheDir = inv.CacheDir
	}
	if !filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDir = filepath.Join(inv.WorkDir, cfg.CacheDir)
	}
	return cfg
}

// ExitCode maps an error from ParseInvocation or Execute to the process
// exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var jobErr *build.JobError
	if errors.As(err, &jobErr) {
		return ExitBuildFailure
	}
	var graphErr *dag.GraphError
	if errors.As(err, &graphErr) {
		return ExitConfigError
	}
	return ExitInternalError
}
