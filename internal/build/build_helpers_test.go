package build

import (
	"strings"
	"sync"
	"testing"
	"time"

	"unitforge/internal/dag"
	"unitforge/internal/unit"
)

func key(name string) unit.Key {
	return unit.Key{Package: unit.PackageID{Name: name, Version: "1.0.0"}, Target: "lib"}
}

type recConsole struct {
	mu     sync.Mutex
	lines  []string
	onWarn func(string)
}

func (c *recConsole) add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *recConsole) Status(verb, msg string)     { c.add(verb + " " + msg) }
func (c *recConsole) Error(msg string)            { c.add("error: " + msg) }
func (c *recConsole) Stdout(line string)          { c.add("stdout: " + line) }
func (c *recConsole) Stderr(line string)          { c.add("stderr: " + line) }
func (c *recConsole) Progress(int, int, []string) {}
func (c *recConsole) ClearProgress()              {}

func (c *recConsole) Warn(msg string) {
	c.add("warning: " + msg)
	if c.onWarn != nil {
		c.onWarn(msg)
	}
}

func (c *recConsole) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *recConsole) count(prefix string) int {
	n := 0
	for _, l := range c.snapshot() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

// recorder tracks start/end order and the peak number of jobs running at
// once.
type recorder struct {
	mu      sync.Mutex
	events  []string
	running int
	peak    int
	fresh   map[string]dag.Freshness
}

func (r *recorder) log(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) job(name string, delay time.Duration, err error) Job {
	return JobFunc(func(fresh dag.Freshness, st *JobState) error {
		r.mu.Lock()
		r.events = append(r.events, "start "+name)
		if r.fresh == nil {
			r.fresh = make(map[string]dag.Freshness)
		}
		r.fresh[name] = fresh
		r.running++
		if r.running > r.peak {
			r.peak = r.running
		}
		r.mu.Unlock()

		time.Sleep(delay)

		r.mu.Lock()
		r.running--
		r.events = append(r.events, "end "+name)
		r.mu.Unlock()
		return err
	})
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) ran(name string) bool {
	for _, e := range r.snapshot() {
		if e == "start "+name {
			return true
		}
	}
	return false
}

func mustEnqueue(t *testing.T, ex *Executor, k unit.Key, deps []unit.Key, work ...Work) {
	t.Helper()
	if err := ex.Enqueue(k, deps, work...); err != nil {
		t.Fatalf("enqueue %s: %v", k, err)
	}
}

func dirty(j Job) Work { return Work{Job: j, Fresh: dag.Dirty} }
func fresh(j Job) Work { return Work{Job: j, Fresh: dag.Fresh} }

func checkInvariant(t *testing.T, ex *Executor) {
	ex.onLoop = func(ls loopState) {
		if ls.active > ls.tokens+1 {
			t.Errorf("invariant violated: active=%d tokens=%d", ls.active, ls.tokens)
		}
	}
}
