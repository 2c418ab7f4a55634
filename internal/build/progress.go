package build

import (
	"unitforge/internal/dag"
	"unitforge/internal/unit"
)

// Note is one status line the ProgressReporter decided to show.
type Note struct {
	Verb    string
	Target  string
	Verbose bool // only shown at Verbose
}

type groupState struct {
	compiled   bool
	documented bool
	remaining  int
}

// ProgressReporter decides which "Compiling"/"Checking"/"Documenting"/
// "Fresh" lines to show so that each package is announced at most once per
// sub-area (code vs documentation).
type ProgressReporter struct {
	groups map[unit.PackageID]*groupState
}

func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{groups: make(map[unit.PackageID]*groupState)}
}

func (p *ProgressReporter) group(pkg unit.PackageID) *groupState {
	g, ok := p.groups[pkg]
	if !ok {
		g = &groupState{}
		p.groups[pkg] = g
	}
	return g
}

// Expect records one more job for key's package.
func (p *ProgressReporter) Expect(key unit.Key) {
	p.group(key.Package).remaining++
}

// Started records that one job of key's package began running.
func (p *ProgressReporter) Started(key unit.Key) {
	g := p.group(key.Package)
	if g.remaining > 0 {
		g.remaining--
	}
}

// Remaining returns the number of jobs of pkg that have not started.
func (p *ProgressReporter) Remaining(pkg unit.PackageID) int {
	if g, ok := p.groups[pkg]; ok {
		return g.remaining
	}
	return 0
}

// NoteWorking returns the line to print for a job of key that is about to
// run with the given freshness. ok is false when nothing should be printed.
func (p *ProgressReporter) NoteWorking(key unit.Key, fresh dag.Freshness) (n Note, ok bool) {
	g := p.group(key.Package)
	doc := key.Mode.IsDoc()
	if (g.compiled && !doc) || (g.documented && doc) {
		return Note{}, false
	}
	target := key.Package.String()

	switch fresh {
	case dag.Dirty:
		switch {
		case doc:
			g.documented = true
			return Note{Verb: "Documenting", Target: target}, true
		case key.Mode.IsCheck():
			g.compiled = true
			return Note{Verb: "Checking", Target: target}, true
		default:
			// build, test, doctest and run-custom-build all compile code.
			g.compiled = true
			return Note{Verb: "Compiling", Target: target}, true
		}
	default:
		// A doctest never claims the package once its code was announced.
		if g.remaining == 0 && !(key.Mode == unit.ModeDoctest && g.compiled) {
			g.compiled = true
			return Note{Verb: "Fresh", Target: target, Verbose: true}, true
		}
		return Note{}, false
	}
}
