// Package shell renders user-facing build output on a terminal or a plain
// stream.
package shell

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// ColorChoice is the --color setting.
type ColorChoice int

const (
	ColorAuto ColorChoice = iota
	ColorAlways
	ColorNever
)

func (c ColorChoice) String() string {
	switch c {
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	default:
		return "auto"
	}
}

// ParseColor accepts auto, always and never. Empty means auto.
func ParseColor(s string) (ColorChoice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color choice %q (want auto, always or never)", s)
	}
}

// Options configure a Shell.
type Options struct {
	Out   io.Writer // job stdout
	Err   io.Writer // status lines, warnings, job stderr, progress
	Color ColorChoice
	Quiet bool

	// Progress forces the progress bar on or off. Nil means "on when Err
	// is a terminal and not Quiet".
	Progress *bool
	// Width is the terminal width used for the progress bar.
	Width int
	// Throttle is the minimum delay between two progress redraws.
	Throttle time.Duration
}

const (
	defaultWidth    = 80
	defaultThrottle = 100 * time.Millisecond
	verbWidth       = 12
)

// Shell implements the executor's console. It is safe for concurrent use.
type Shell struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer

	color    bool
	progress bool
	width    int
	throttle time.Duration
	now      func() time.Time

	verbStyle  lipgloss.Style
	warnStyle  lipgloss.Style
	errorStyle lipgloss.Style

	drawn    bool
	lastDraw time.Time
}

// New builds a Shell. Nil writers default to os.Stdout and os.Stderr.
func New(opts Options) *Shell {
	out, errw := opts.Out, opts.Err
	if out == nil {
		out = os.Stdout
	}
	if errw == nil {
		errw = os.Stderr
	}

	tty := isTerminal(errw)
	color := opts.Color == ColorAlways || (opts.Color == ColorAuto && tty)

	progress := tty && !opts.Quiet
	if opts.Progress != nil {
		progress = *opts.Progress
	}
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}
	throttle := opts.Throttle
	if throttle <= 0 {
		throttle = defaultThrottle
	}

	r := lipgloss.NewRenderer(errw)
	if color {
		r.SetColorProfile(termenv.ANSI)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Shell{
		out:        out,
		err:        errw,
		color:      color,
		progress:   progress,
		width:      width,
		throttle:   throttle,
		now:        time.Now,
		verbStyle:  r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		warnStyle:  r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		errorStyle: r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Status prints a right-aligned verb followed by msg, e.g.
// "   Compiling core v1.0.0".
func (s *Shell) Status(verb, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	fmt.Fprintf(s.err, "%s %s\n", s.verbStyle.Render(fmt.Sprintf("%*s", verbWidth, verb)), msg)
}

func (s *Shell) Warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	fmt.Fprintf(s.err, "%s: %s\n", s.warnStyle.Render("warning"), msg)
}

func (s *Shell) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	fmt.Fprintf(s.err, "%s: %s\n", s.errorStyle.Render("error"), msg)
}

func (s *Shell) Stdout(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	fmt.Fprintln(s.out, line)
}

// Stderr passes line through. Escapes are kept only when color is on.
func (s *Shell) Stderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	if !s.color {
		line = ansi.Strip(line)
	}
	fmt.Fprintln(s.err, line)
}

// Progress redraws the one-line progress bar in place.
func (s *Shell) Progress(done, total int, active []string) {
	if !s.progress || total <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.drawn && now.Sub(s.lastDraw) < s.throttle {
		return
	}
	line := s.renderProgress(done, total, active)
	fmt.Fprintf(s.err, "\r%s\x1b[K", line)
	s.drawn = true
	s.lastDraw = now
}

// ClearProgress erases the progress bar if it is on screen.
func (s *Shell) ClearProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Shell) clearLocked() {
	if !s.drawn {
		return
	}
	fmt.Fprint(s.err, "\r\x1b[K")
	s.drawn = false
}

func (s *Shell) renderProgress(done, total int, active []string) string {
	if done > total {
		done = total
	}
	if done < 0 {
		done = 0
	}
	prefix := fmt.Sprintf("%*s [", verbWidth, "Building")
	counts := fmt.Sprintf("] %d/%d", done, total)
	suffix := ""
	if len(active) > 0 {
		suffix = ": " + strings.Join(active, ", ")
	}

	barWidth := s.width - len(prefix) - len(counts) - 15
	if barWidth > 40 {
		barWidth = 40
	}
	if barWidth < 10 {
		barWidth = 10
	}
	filled := barWidth * done / total
	var bar strings.Builder
	bar.WriteString(strings.Repeat("=", filled))
	if filled < barWidth {
		bar.WriteByte('>')
		bar.WriteString(strings.Repeat(" ", barWidth-filled-1))
	}

	line := s.verbStyle.Render(prefix[:verbWidth]) + prefix[verbWidth:] + bar.String() + counts + suffix
	if ansi.StringWidth(line) > s.width {
		line = ansi.Truncate(line, s.width, "")
	}
	return line
}
