package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// OutputFile is one file found under a declared output.
type OutputFile struct {
	// Path is slash-separated and relative to the harvester's base dir.
	Path    string
	Content []byte
}

// OutputSet is sorted by Path.
type OutputSet struct {
	Files []OutputFile
}

// Hash is the content hash recorded in a fingerprint.
func (s *OutputSet) Hash() string {
	sum := sha256.New()
	var files []OutputFile
	if s != nil {
		files = s.Files
	}
	writeCount(sum, len(files))
	for _, f := range files {
		writeField(sum, []byte(f.Path))
		writeField(sum, f.Content)
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// Harvester collects the files under a task's declared outputs. Undeclared
// files are never looked at.
type Harvester struct {
	BaseDir string
}

func NewHarvester(baseDir string) *Harvester {
	return &Harvester{BaseDir: baseDir}
}

// Harvest reads every declared output; directories are walked
// recursively. A declared output that does not exist is an error.
func (h *Harvester) Harvest(declared []string) (*OutputSet, error) {
	if len(declared) == 0 {
		return &OutputSet{Files: []OutputFile{}}, nil
	}

	var all []string
	for _, output := range declared {
		full := h.abs(output)
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("declared output does not exist: %s", output)
			}
			return nil, fmt.Errorf("stat output %q: %w", output, err)
		}
		if !info.IsDir() {
			all = append(all, full)
			continue
		}
		files, err := collectFiles(full)
		if err != nil {
			return nil, fmt.Errorf("collecting files from %q: %w", output, err)
		}
		all = append(all, files...)
	}
	sort.Strings(all)
	all = deduplicateSorted(all)

	files := make([]OutputFile, 0, len(all))
	for _, path := range all {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading output %q: %w", path, err)
		}
		files = append(files, OutputFile{Path: h.rel(path), Content: content})
	}
	return &OutputSet{Files: files}, nil
}

// Paths returns the declared outputs as absolute paths, for build plans.
func (h *Harvester) Paths(declared []string) []string {
	out := make([]string, len(declared))
	for i, d := range declared {
		out[i] = filepath.ToSlash(h.abs(d))
	}
	return out
}

func (h *Harvester) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(h.BaseDir, p)
}

func (h *Harvester) rel(p string) string {
	if r, err := filepath.Rel(h.BaseDir, p); err == nil {
		return filepath.ToSlash(r)
	}
	return filepath.ToSlash(p)
}

func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func deduplicateSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
