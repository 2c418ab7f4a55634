// Package plan collects a build plan: what would be run for every unit, and
// in which dependency order, without running anything.
package plan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"unitforge/internal/unit"
)

// Invocation is one unit's entry in the plan.
type Invocation struct {
	Key     unit.Key
	Deps    []int
	Command string
	Outputs []string

	jobs map[int]*jobReport
}

// jobReport is what one job of a unit reported, keyed by its payload index.
type jobReport struct {
	command string
	outputs []string
}

// BuildPlan is safe for concurrent use. Invocations keep registration
// order; dependency edges are indices into that order.
type BuildPlan struct {
	mu          sync.Mutex
	id          string
	invocations []Invocation
	deps        [][]unit.Key
	byModule    map[string]int
	inputs      []string
}

// New returns an empty plan labelled with the invocation id.
func New(id string) *BuildPlan {
	return &BuildPlan{id: id, byModule: make(map[string]int)}
}

// ModuleName is the name jobs use to address a unit in Update.
func ModuleName(k unit.Key) string { return k.String() }

// Add registers a unit before execution starts.
func (p *BuildPlan) Add(k unit.Key, deps []unit.Key) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	name := ModuleName(k)
	if _, ok := p.byModule[name]; ok {
		return fmt.Errorf("plan: %s registered twice", name)
	}
	p.byModule[name] = len(p.invocations)
	p.invocations = append(p.invocations, Invocation{Key: k})
	p.deps = append(p.deps, append([]unit.Key(nil), deps...))
	return nil
}

// Update records the command and output files that job number index of a
// registered module reports. The commands of a unit's jobs are chained with
// " && " in index order, whatever order the jobs finish in; a job that
// reports twice has its own commands chained in report order.
func (p *BuildPlan) Update(module string, index int, command string, filenames []string) error {
	if index < 0 {
		return fmt.Errorf("plan: negative job index %d for %q", index, module)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.byModule[module]
	if !ok {
		return fmt.Errorf("plan: update for unknown module %q", module)
	}
	inv := &p.invocations[idx]
	if inv.jobs == nil {
		inv.jobs = make(map[int]*jobReport)
	}
	r, ok := inv.jobs[index]
	if !ok {
		r = &jobReport{}
		inv.jobs[index] = r
	}
	r.command = chain(r.command, command)
	r.outputs = append(r.outputs, filenames...)
	return nil
}

func chain(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " && " + b
}

// SetInputs records the files the plan itself was derived from.
func (p *BuildPlan) SetInputs(files []string) {
	p.mu.Lock()
	p.inputs = append([]string(nil), files...)
	p.mu.Unlock()
}

// Invocations returns a resolved copy of every invocation.
func (p *BuildPlan) Invocations() ([]Invocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Invocation, len(p.invocations))
	for i, inv := range p.invocations {
		deps := make([]int, 0, len(p.deps[i]))
		for _, d := range p.deps[i] {
			idx, ok := p.byModule[ModuleName(d)]
			if !ok {
				return nil, fmt.Errorf("plan: %s depends on unregistered %s", ModuleName(inv.Key), ModuleName(d))
			}
			deps = append(deps, idx)
		}
		sort.Ints(deps)
		inv.Deps = deps

		order := make([]int, 0, len(inv.jobs))
		for j := range inv.jobs {
			order = append(order, j)
		}
		sort.Ints(order)
		for _, j := range order {
			r := inv.jobs[j]
			inv.Command = chain(inv.Command, r.command)
			inv.Outputs = append(inv.Outputs, r.outputs...)
		}
		sort.Strings(inv.Outputs)
		inv.jobs = nil
		out[i] = inv
	}
	return out, nil
}

// Pending lists registered modules no job has reported on yet.
func (p *BuildPlan) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, inv := range p.invocations {
		if len(inv.jobs) == 0 {
			out = append(out, ModuleName(inv.Key))
		}
	}
	return out
}

// CanonicalJSON encodes the plan with a fixed field order, sorted outputs
// and sorted dependency indices.
func (p *BuildPlan) CanonicalJSON() ([]byte, error) {
	if p.id == "" {
		return nil, errors.New("plan id is required")
	}
	return p.encode(p.id)
}

// Hash is the sha256 of the canonical encoding without the id, so two runs
// that plan the same work hash the same.
func (p *BuildPlan) Hash() (string, error) {
	b, err := p.encode("")
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func (p *BuildPlan) encode(id string) ([]byte, error) {
	invs, err := p.Invocations()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	inputs := append([]string{}, p.inputs...)
	p.mu.Unlock()
	sort.Strings(inputs)

	var buf bytes.Buffer
	buf.WriteByte('{')
	if id != "" {
		buf.WriteString(`"id":`)
		writeJSON(&buf, id)
		buf.WriteByte(',')
	}
	buf.WriteString(`"invocations":[`)
	for i := range invs {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := json.Marshal(invs[i])
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteString(`],"inputs":`)
	writeJSON(&buf, inputs)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WriteTo writes the canonical encoding followed by a newline.
func (p *BuildPlan) WriteTo(w io.Writer) (int64, error) {
	b, err := p.CanonicalJSON()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(append(b, '\n'))
	return int64(n), err
}

// MarshalJSON fixes the field order of one invocation.
func (inv Invocation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"package_name":`)
	writeJSON(&buf, inv.Key.Package.Name)
	buf.WriteString(`,"package_version":`)
	writeJSON(&buf, inv.Key.Package.Version)
	buf.WriteString(`,"target":`)
	writeJSON(&buf, inv.Key.Target)
	buf.WriteString(`,"kind":`)
	writeJSON(&buf, inv.Key.Kind.String())
	buf.WriteString(`,"compile_mode":`)
	writeJSON(&buf, inv.Key.Mode.String())

	deps := inv.Deps
	if deps == nil {
		deps = []int{}
	}
	buf.WriteString(`,"deps":`)
	writeJSON(&buf, deps)

	if inv.Command != "" {
		buf.WriteString(`,"command":`)
		writeJSON(&buf, inv.Command)
	}
	outputs := inv.Outputs
	if outputs == nil {
		outputs = []string{}
	}
	buf.WriteString(`,"outputs":`)
	writeJSON(&buf, outputs)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, v any) {
	b, _ := json.Marshal(v)
	buf.Write(b)
}
