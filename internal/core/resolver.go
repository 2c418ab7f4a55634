package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentReads bounds how many input files are read at once.
const maxConcurrentReads = 8

// InputResolver expands input patterns into a sorted InputSet.
type InputResolver struct {
	// BaseDir anchors relative patterns.
	BaseDir string
}

func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands every pattern, sorts and de-duplicates the matches, and
// reads their contents. Directories are skipped. A literal path that does
// not exist is an error; a glob that matches nothing is not.
func (r *InputResolver) Resolve(patterns []string) (*InputSet, error) {
	if len(patterns) == 0 {
		return &InputSet{Inputs: []Input{}}, nil
	}

	pathSet := make(map[string]struct{})
	for _, pattern := range patterns {
		expanded, err := r.expandPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, p := range expanded {
			pathSet[p] = struct{}{}
		}
	}

	// Never rely on directory iteration order.
	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	inputs := make([]Input, len(paths))
	var g errgroup.Group
	g.SetLimit(maxConcurrentReads)
	for i, path := range paths {
		g.Go(func() error {
			content, err := os.ReadFile(filepath.FromSlash(path))
			if err != nil {
				return fmt.Errorf("reading input %q: %w", path, err)
			}
			inputs[i] = Input{Path: path, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &InputSet{Inputs: inputs}, nil
}

func (r *InputResolver) expandPattern(pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(pattern) {
		full = filepath.Join(r.BaseDir, pattern)
	}

	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 && !containsGlobChar(pattern) {
		if _, err := os.Stat(full); err != nil {
			return nil, fmt.Errorf("input does not exist: %w", err)
		}
		matches = []string{full}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", m, err)
		}
		if info.IsDir() {
			continue
		}
		out = append(out, filepath.ToSlash(m))
	}
	return out, nil
}

func containsGlobChar(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
