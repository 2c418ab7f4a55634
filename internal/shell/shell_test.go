package shell

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func newTestShell(color ColorChoice, progress bool) (*Shell, *bytes.Buffer, *bytes.Buffer) {
	var out, errb bytes.Buffer
	sh := New(Options{Out: &out, Err: &errb, Color: color, Progress: &progress, Width: 100, Throttle: time.Second})
	return sh, &out, &errb
}

func TestStatus_RightAlignsVerb(t *testing.T) {
	sh, _, errb := newTestShell(ColorNever, false)
	sh.Status("Compiling", "core v1.0.0")
	sh.Status("Finished", "dev [unoptimized] target(s) in 0.10s")

	want := "   Compiling core v1.0.0\n    Finished dev [unoptimized] target(s) in 0.10s\n"
	if got := errb.String(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestWarnAndError(t *testing.T) {
	sh, _, errb := newTestShell(ColorNever, false)
	sh.Warn("unused import")
	sh.Error("failed to build core")
	want := "warning: unused import\nerror: failed to build core\n"
	if got := errb.String(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestColorAlways_EmitsEscapes(t *testing.T) {
	sh, _, errb := newTestShell(ColorAlways, false)
	sh.Status("Compiling", "core")
	if !strings.Contains(errb.String(), "\x1b[") {
		t.Fatalf("expected ANSI escapes, got %q", errb.String())
	}
}

func TestStderr_StripsANSIWithoutColor(t *testing.T) {
	sh, _, errb := newTestShell(ColorNever, false)
	sh.Stderr("\x1b[31merror\x1b[0m: bad")
	if got := errb.String(); got != "error: bad\n" {
		t.Fatalf("got %q", got)
	}

	sh, _, errb = newTestShell(ColorAlways, false)
	sh.Stderr("\x1b[31merror\x1b[0m")
	if got := errb.String(); got != "\x1b[31merror\x1b[0m\n" {
		t.Fatalf("escapes must pass through with color on, got %q", got)
	}
}

func TestStdout_GoesToOut(t *testing.T) {
	sh, out, errb := newTestShell(ColorNever, false)
	sh.Stdout("hello")
	if out.String() != "hello\n" || errb.Len() != 0 {
		t.Fatalf("out=%q err=%q", out.String(), errb.String())
	}
}

func TestProgress_DrawThrottleAndClear(t *testing.T) {
	sh, _, errb := newTestShell(ColorNever, true)
	now := time.Unix(0, 0)
	sh.now = func() time.Time { return now }

	sh.Progress(3, 10, []string{"core", "util(test)"})
	first := errb.String()
	if !strings.HasPrefix(first, "\r    Building [") || !strings.Contains(first, "] 3/10: core, util(test)") {
		t.Fatalf("unexpected progress line %q", first)
	}

	sh.Progress(4, 10, nil)
	if errb.String() != first {
		t.Fatalf("redraw within the throttle window")
	}

	now = now.Add(2 * time.Second)
	sh.Progress(10, 10, nil)
	if !strings.Contains(errb.String(), "] 10/10") {
		t.Fatalf("expected a redraw after the throttle window: %q", errb.String())
	}

	errb.Reset()
	sh.Status("Compiling", "core")
	if got := errb.String(); got != "\r\x1b[K   Compiling core\n" {
		t.Fatalf("status must clear the bar first, got %q", got)
	}
	errb.Reset()
	sh.ClearProgress()
	if errb.Len() != 0 {
		t.Fatalf("nothing to clear, got %q", errb.String())
	}
}

func TestProgress_FitsWidth(t *testing.T) {
	on := true
	sh := New(Options{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}, Color: ColorNever, Progress: &on, Width: 60})
	line := sh.renderProgress(1, 2, []string{strings.Repeat("x", 200)})
	if len(line) > 60 {
		t.Fatalf("line longer than the terminal: %d", len(line))
	}
}

func TestProgress_DisabledByDefaultOffTTY(t *testing.T) {
	var errb bytes.Buffer
	sh := New(Options{Out: &bytes.Buffer{}, Err: &errb})
	sh.Progress(1, 2, []string{"a"})
	if errb.Len() != 0 {
		t.Fatalf("progress drawn on a non-terminal: %q", errb.String())
	}
}

func TestParseColor(t *testing.T) {
	for in, want := range map[string]ColorChoice{"": ColorAuto, "auto": ColorAuto, "Always": ColorAlways, "never": ColorNever} {
		got, err := ParseColor(in)
		if err != nil || got != want {
			t.Fatalf("ParseColor(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseColor("sometimes"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDiagnostics_Deduplicates(t *testing.T) {
	sh, _, errb := newTestShell(ColorNever, false)
	d := NewDiagnostics(sh)
	d.Emit("a.c:1: note: x")
	d.Emit("a.c:1: note: x")
	d.Emit("b.c:2: note: y")
	if got := errb.String(); got != "a.c:1: note: x\nb.c:2: note: y\n" {
		t.Fatalf("got %q", got)
	}
	if d.Count() != 2 {
		t.Fatalf("count = %d", d.Count())
	}
}
