package shell

import "sync"

// Diagnostics prints every distinct diagnostic once per run.
type Diagnostics struct {
	mu   sync.Mutex
	sh   *Shell
	seen map[string]struct{}
}

func NewDiagnostics(sh *Shell) *Diagnostics {
	return &Diagnostics{sh: sh, seen: make(map[string]struct{})}
}

func (d *Diagnostics) Emit(msg string) {
	d.mu.Lock()
	_, dup := d.seen[msg]
	d.seen[msg] = struct{}{}
	d.mu.Unlock()
	if dup {
		return
	}
	d.sh.Stderr(msg)
}

// Count returns the number of distinct diagnostics printed so far.
func (d *Diagnostics) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
