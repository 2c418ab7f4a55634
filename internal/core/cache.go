package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Fingerprint is what a successful run leaves behind.
type Fingerprint struct {
	Hash       TaskHash `json:"hash"`
	Task       string   `json:"task"`
	OutputHash string   `json:"output_hash"`
}

// FingerprintStore records fingerprints by TaskHash. Implementations must
// be safe for concurrent use: dirty jobs run on their own goroutines.
type FingerprintStore interface {
	// Get returns nil, nil when no fingerprint exists.
	Get(hash TaskHash) (*Fingerprint, error)
	Put(fp *Fingerprint) error
	// Remove is a no-op when no fingerprint exists.
	Remove(hash TaskHash) error
}

// FileStore keeps one JSON file per fingerprint:
//
//	{Dir}/{hash[0:2]}/{hash}.json
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) Get(hash TaskHash) (*Fingerprint, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading fingerprint: %w", err)
	}
	var fp Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		return nil, fmt.Errorf("parsing fingerprint %s: %w", hash, err)
	}
	if fp.Hash != hash {
		// A file under the wrong name is as good as no file.
		return nil, nil
	}
	return &fp, nil
}

func (s *FileStore) Put(fp *Fingerprint) error {
	if fp == nil {
		return fmt.Errorf("fingerprint is nil")
	}
	path := s.path(fp.Hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating fingerprint directory: %w", err)
	}
	data, err := json.MarshalIndent(fp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling fingerprint: %w", err)
	}
	if err := writeFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing fingerprint: %w", err)
	}
	return nil
}

func (s *FileStore) Remove(hash TaskHash) error {
	if err := os.Remove(s.path(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing fingerprint: %w", err)
	}
	return nil
}

func (s *FileStore) path(hash TaskHash) string {
	h := string(hash)
	if len(h) < 2 {
		return filepath.Join(s.Dir, h+".json")
	}
	return filepath.Join(s.Dir, h[:2], h+".json")
}

// writeFileAtomic writes to a temp file in the same directory and renames
// it into place, so a crash never leaves a half-written fingerprint.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryStore is an in-process FingerprintStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[TaskHash]Fingerprint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[TaskHash]Fingerprint)}
}

func (s *MemoryStore) Get(hash TaskHash) (*Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.entries[hash]
	if !ok {
		return nil, nil
	}
	return &fp, nil
}

func (s *MemoryStore) Put(fp *Fingerprint) error {
	if fp == nil {
		return fmt.Errorf("fingerprint is nil")
	}
	s.mu.Lock()
	s.entries[fp.Hash] = *fp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(hash TaskHash) error {
	s.mu.Lock()
	delete(s.entries, hash)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored fingerprints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
