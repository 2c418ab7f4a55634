package core

import (
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

const testHash = TaskHash("ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12")

func exerciseStore(t *testing.T, s FingerprintStore) {
	t.Helper()

	got, err := s.Get(testHash)
	if err != nil || got != nil {
		t.Fatalf("empty store: got %v, %v", got, err)
	}

	fp := &Fingerprint{Hash: testHash, Task: "compile", OutputHash: "deadbeef"}
	if err := s.Put(fp); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err = s.Get(testHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, fp) {
		t.Fatalf("got %+v want %+v", got, fp)
	}

	if err := s.Remove(testHash); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got, _ := s.Get(testHash); got != nil {
		t.Fatalf("fingerprint survived Remove: %+v", got)
	}
	if err := s.Remove(testHash); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if err := s.Put(nil); err == nil {
		t.Fatalf("expected error for nil fingerprint")
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	exerciseStore(t, NewFileStore(dir))
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	if err := s.Put(&Fingerprint{Hash: testHash, Task: "t"}); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "ab", string(testHash)+".json")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected %s: %v", want, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "ab", "*.tmp.*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	writeFile(t, dir, filepath.Join("ab", string(testHash)+".json"), "{not json")
	if _, err := s.Get(testHash); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFileStore_MismatchedHashIsMissing(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	writeFile(t, dir, filepath.Join("ab", string(testHash)+".json"), `{"hash":"other","task":"t"}`)
	got, err := s.Get(testHash)
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := TaskHash(string(rune('a'+i)) + "0")
			_ = s.Put(&Fingerprint{Hash: h})
			_, _ = s.Get(h)
		}(i)
	}
	wg.Wait()
	if s.Len() != 16 {
		t.Fatalf("expected 16 fingerprints, got %d", s.Len())
	}
}
