// Package unit defines the identity of a schedulable build unit.
//
// A Key is an immutable, comparable value: it is used directly as a map key
// by the dependency queue, the executor's pending/active bookkeeping, and the
// progress reporter. Two units are the same unit iff their Keys are ==.
package unit

import (
	"fmt"
	"strings"
)

// Mode is the closed set of things a unit can do with its target.
type Mode int

const (
	ModeBuild Mode = iota
	ModeCheck
	ModeTest
	ModeDoc
	ModeDoctest
	ModeRunCustomBuild
)

var modeNames = [...]string{
	ModeBuild:          "build",
	ModeCheck:          "check",
	ModeTest:           "test",
	ModeDoc:            "doc",
	ModeDoctest:        "doctest",
	ModeRunCustomBuild: "run-custom-build",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode maps the textual form used in graph files to a Mode.
func ParseMode(s string) (Mode, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	if n == "" {
		return ModeBuild, nil
	}
	for i, name := range modeNames {
		if name == n {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Kind says which platform a unit is compiled for.
type Kind int

const (
	KindTarget Kind = iota
	KindHost
)

func (k Kind) String() string {
	switch k {
	case KindTarget:
		return "target"
	case KindHost:
		return "host"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps "target"/"host" (or empty, meaning target) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "target":
		return KindTarget, nil
	case "host":
		return KindHost, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", s)
	}
}

// PackageID is the logical group a unit belongs to. Progress lines are
// deduplicated per PackageID.
type PackageID struct {
	Name    string
	Version string
}

func (p PackageID) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + " v" + strings.TrimPrefix(p.Version, "v")
}

// Key identifies one schedulable unit.
type Key struct {
	Package PackageID
	Target  string
	Profile string
	Kind    Kind
	Mode    Mode
}

// String is the stable debug form used in logs and error messages.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(k.Package.String())
	if k.Target != "" {
		b.WriteString(" (")
		b.WriteString(k.Target)
		b.WriteByte(')')
	}
	fmt.Fprintf(&b, " [%s", k.Mode)
	if k.Profile != "" {
		b.WriteByte(' ')
		b.WriteString(k.Profile)
	}
	if k.Kind == KindHost {
		b.WriteString(" host")
	}
	b.WriteByte(']')
	return b.String()
}

// ProgressName is the short label shown in the progress bar's active list.
func (k Key) ProgressName() string {
	switch k.Mode {
	case ModeBuild:
		return k.Package.Name
	case ModeCheck:
		return k.Package.Name + "(check)"
	case ModeTest:
		return k.Package.Name + "(test)"
	case ModeDoc:
		return k.Package.Name + "(doc)"
	case ModeDoctest:
		return k.Package.Name + "(doctest)"
	case ModeRunCustomBuild:
		return k.Package.Name + "(build)"
	default:
		return k.Package.Name
	}
}

// IsDoc reports whether the unit renders documentation. Doctests are not
// documentation units: they compile and run code.
func (m Mode) IsDoc() bool { return m == ModeDoc }

// IsCheck reports whether the unit only type-checks.
func (m Mode) IsCheck() bool { return m == ModeCheck }
