package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"unitforge/internal/core"
	"unitforge/internal/unit"
)

// graphFile is the on-disk unit graph. YAML and JSON share the schema.
type graphFile struct {
	Units []unitDef `json:"units" yaml:"units"`
}

type unitDef struct {
	Name    string      `json:"name" yaml:"name"`
	Package string      `json:"package,omitempty" yaml:"package,omitempty"`
	Version string      `json:"version,omitempty" yaml:"version,omitempty"`
	Target  string      `json:"target,omitempty" yaml:"target,omitempty"`
	Mode    string      `json:"mode,omitempty" yaml:"mode,omitempty"`
	Kind    string      `json:"kind,omitempty" yaml:"kind,omitempty"`
	Deps    []string    `json:"deps,omitempty" yaml:"deps,omitempty"`
	Jobs    []core.Task `json:"jobs" yaml:"jobs"`
}

// Unit is one loaded unit with its dependencies resolved to keys.
type Unit struct {
	Name  string
	Key   unit.Key
	Deps  []unit.Key
	Tasks []core.Task
}

// Graph lists units in file order.
type Graph struct {
	Units []Unit
}

// LoadGraphFromFile reads the unit graph at path. Files ending in .json are
// parsed as JSON, everything else as YAML. Unknown fields are rejected in
// both. profile is stamped onto every key.
//
// A dependency on a name that no unit declares is an error here; cycles are
// left to the executor's validation, which reports a witness.
func LoadGraphFromFile(path, profile string) (*Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}

	var gf graphFile
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = decodeJSON(b, &gf)
	} else {
		err = decodeYAML(b, &gf)
	}
	if err != nil {
		return nil, err
	}
	if len(gf.Units) == 0 {
		return nil, fmt.Errorf("parse graph: no units")
	}

	keys := make(map[string]unit.Key, len(gf.Units))
	for i, def := range gf.Units {
		if def.Name == "" {
			return nil, fmt.Errorf("parse graph: units[%d]: name is required", i)
		}
		if _, dup := keys[def.Name]; dup {
			return nil, fmt.Errorf("parse graph: duplicate unit name %q", def.Name)
		}
		k, err := def.key(profile)
		if err != nil {
			return nil, fmt.Errorf("parse graph: unit %q: %w", def.Name, err)
		}
		keys[def.Name] = k
	}

	g := &Graph{Units: make([]Unit, 0, len(gf.Units))}
	for _, def := range gf.Units {
		if len(def.Jobs) == 0 {
			return nil, fmt.Errorf("parse graph: unit %q has no jobs", def.Name)
		}
		u := Unit{Name: def.Name, Key: keys[def.Name], Tasks: def.Jobs}
		for _, d := range def.Deps {
			k, ok := keys[d]
			if !ok {
				return nil, fmt.Errorf("parse graph: unit %q depends on unknown unit %q", def.Name, d)
			}
			u.Deps = append(u.Deps, k)
		}
		for i := range u.Tasks {
			if u.Tasks[i].Name == "" {
				u.Tasks[i].Name = fmt.Sprintf("%s#%d", def.Name, i)
			}
			if err := u.Tasks[i].Validate(); err != nil {
				return nil, fmt.Errorf("parse graph: unit %q: %w", def.Name, err)
			}
		}
		g.Units = append(g.Units, u)
	}
	return g, nil
}

func (d unitDef) key(profile string) (unit.Key, error) {
	mode, err := unit.ParseMode(d.Mode)
	if err != nil {
		return unit.Key{}, err
	}
	kind, err := unit.ParseKind(d.Kind)
	if err != nil {
		return unit.Key{}, err
	}
	pkg := d.Package
	if pkg == "" {
		pkg = d.Name
	}
	target := d.Target
	if target == "" {
		target = d.Name
	}
	return unit.Key{
		Package: unit.PackageID{Name: pkg, Version: d.Version},
		Target:  target,
		Profile: profile,
		Kind:    kind,
		Mode:    mode,
	}, nil
}

func decodeJSON(b []byte, gf *graphFile) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(gf); err != nil {
		return fmt.Errorf("parse graph json: %w", err)
	}
	// A second JSON value is trailing garbage.
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("parse graph json: trailing data")
		}
		return fmt.Errorf("parse graph json: %w", err)
	}
	return nil
}

func decodeYAML(b []byte, gf *graphFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(gf); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("parse graph yaml: empty document")
		}
		return fmt.Errorf("parse graph yaml: %w", err)
	}
	return nil
}
