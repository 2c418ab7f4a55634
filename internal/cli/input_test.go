package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"unitforge/internal/config"
)

func TestParseInvocation_CanonicalPaths(t *testing.T) {
	workDir := t.TempDir()
	args := []string{
		"--workdir", workDir,
		"--graph", "graphs/../units.yaml",
		"--cache-dir", "./cache/..//cache",
		"-j", "4",
		"-v",
		"--release",
		"--color", "Never",
	}

	inv1, err := ParseInvocation(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inv2, err := ParseInvocation(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(inv1, inv2) {
		t.Fatalf("expected identical invocations, got\n%#v\n%#v", inv1, inv2)
	}

	want := Invocation{
		WorkDir:    filepath.Clean(workDir),
		GraphPath:  filepath.Join(workDir, "units.yaml"),
		ConfigPath: filepath.Join(workDir, config.FileName),
		CacheDir:   filepath.Join(workDir, "cache"),
		Jobs:       4,
		Verbose:    true,
		Release:    true,
		Color:      "never",
	}
	if !reflect.DeepEqual(inv1, want) {
		t.Fatalf("got\n%#v\nwant\n%#v", inv1, want)
	}
}

func TestParseInvocation_LongAndShortFlagsAgree(t *testing.T) {
	workDir := t.TempDir()
	short, err := ParseInvocation([]string{"--workdir", workDir, "--graph", "g.yaml", "-j", "2", "-q"})
	if err != nil {
		t.Fatal(err)
	}
	long, err := ParseInvocation([]string{"--workdir", workDir, "--graph", "g.yaml", "--jobs", "2", "--quiet"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(short, long) {
		t.Fatalf("got\n%#v\n%#v", short, long)
	}
}

func TestParseInvocation_ResolvesAgainstWorkDirNotCwd(t *testing.T) {
	workDir := t.TempDir()
	otherCwd := t.TempDir()

	oldCwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })
	if err := os.Chdir(otherCwd); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}

	inv, err := ParseInvocation([]string{"--workdir", workDir, "--graph", "g.json", "--config", "conf/u.yaml"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.GraphPath != filepath.Join(workDir, "g.json") {
		t.Fatalf("expected graph under workdir, got %q", inv.GraphPath)
	}
	if inv.ConfigPath != filepath.Join(workDir, "conf", "u.yaml") {
		t.Fatalf("expected config under workdir, got %q", inv.ConfigPath)
	}
}

func TestParseInvocation_Errors(t *testing.T) {
	workDir := t.TempDir()
	cases := map[string][]string{
		"missing workdir":  {"--graph", "g"},
		"relative workdir": {"--workdir", "relative", "--graph", "g"},
		"missing graph":    {"--workdir", workDir},
		"unknown flag":     {"--workdir", workDir, "--graph", "g", "--mode", "clean"},
		"positional":       {"--workdir", workDir, "--graph", "g", "extra"},
		"negative jobs":    {"--workdir", workDir, "--graph", "g", "-j", "-2"},
		"verbose quiet":    {"--workdir", workDir, "--graph", "g", "-v", "-q"},
		"bad color":        {"--workdir", workDir, "--graph", "g", "--color", "rainbow"},
		"dot graph":        {"--workdir", workDir, "--graph", "."},
	}
	for name, args := range cases {
		_, err := ParseInvocation(args)
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if ExitCode(err) != ExitInvalidInvocation {
			t.Errorf("%s: expected exit code %d, got %d", name, ExitInvalidInvocation, ExitCode(err))
		}
	}
}

func TestInvocation_ApplyOverridesConfig(t *testing.T) {
	workDir := t.TempDir()
	cfg := config.Default()
	cfg.Verbose = true
	cfg.Jobs = 8

	got := Invocation{WorkDir: workDir, Quiet: true, Jobs: 2, Color: "always"}.apply(cfg)
	if got.Jobs != 2 || !got.Quiet || got.Verbose || got.Color != "always" {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.CacheDir != filepath.Join(workDir, config.DefaultCacheDir) {
		t.Fatalf("cache dir = %q", got.CacheDir)
	}

	kept := Invocation{WorkDir: workDir}.apply(cfg)
	if kept.Jobs != 8 || !kept.Verbose {
		t.Fatalf("config values lost: %+v", kept)
	}
}
