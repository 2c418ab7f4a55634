package jobserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// tokenByte is what NewPipe seeds the pipe with. Clients must write back the
// byte they read, whatever it is.
const tokenByte = '|'

type pipeClient struct {
	read  *os.File
	write *os.File
	fifo  string // set when attached through a named pipe
	owned bool
}

// NewPipe creates a private jobserver pipe sized for jobs concurrent jobs:
// jobs-1 tokens are written into it, the remaining slot is the implicit one.
func NewPipe(jobs int) (Client, error) {
	if jobs < 1 {
		return nil, fmt.Errorf("%w: jobs must be >= 1 (got %d)", ErrHandshake, jobs)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create pipe: %v", ErrHandshake, err)
	}
	if jobs > 1 {
		seed := []byte(strings.Repeat(string(rune(tokenByte)), jobs-1))
		if _, err := w.Write(seed); err != nil {
			_ = r.Close()
			_ = w.Close()
			return nil, fmt.Errorf("%w: seed tokens: %v", ErrHandshake, err)
		}
	}
	return &pipeClient{read: r, write: w, owned: true}, nil
}

// Acquire reads one byte from the pipe. The read itself cannot be
// interrupted, so on cancellation it is left to finish in the background
// and whatever it reads is written straight back.
func (c *pipeClient) Acquire(ctx context.Context) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		b   byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := c.readByte()
		ch <- result{b: b, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return c.token(r.b), nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_, _ = c.write.Write([]byte{r.b})
			}
		}()
		return nil, ctx.Err()
	}
}

func (c *pipeClient) readByte() (byte, error) {
	var buf [1]byte
	for {
		n, err := c.read.Read(buf[:])
		if n == 1 {
			return buf[0], nil
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return 0, fmt.Errorf("jobserver: read token: %w", err)
		}
	}
}

func (c *pipeClient) token(b byte) *Token {
	return newToken(func() error {
		if _, err := c.write.Write([]byte{b}); err != nil {
			return fmt.Errorf("jobserver: release token: %w", err)
		}
		return nil
	})
}

func (c *pipeClient) Close() error {
	if !c.owned {
		return nil
	}
	if c.read == c.write {
		return c.read.Close()
	}
	return errors.Join(c.read.Close(), c.write.Close())
}

// makeflagVars are consulted in order; the first one that names a jobserver
// wins.
var makeflagVars = []string{"UNITFORGE_MAKEFLAGS", "MAKEFLAGS", "MFLAGS"}

// FromEnv attaches to the jobserver advertised by a parent make, if any.
//
// ok is false (with a nil error) when no jobserver is advertised. A jobserver
// that is advertised but unusable is an error: running without knowing the
// real concurrency budget is not safe.
func FromEnv(lookup func(string) (string, bool)) (client Client, ok bool, err error) {
	for _, name := range makeflagVars {
		v, present := lookup(name)
		if !present {
			continue
		}
		auth := parseAuth(v)
		if auth == "" {
			continue
		}
		c, err := attach(auth)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", name, err)
		}
		return c, true, nil
	}
	return nil, false, nil
}

// parseAuth extracts the value of the last --jobserver-auth= (or the older
// --jobserver-fds=) argument.
func parseAuth(makeflags string) string {
	var auth string
	for _, arg := range strings.Fields(makeflags) {
		for _, prefix := range []string{"--jobserver-auth=", "--jobserver-fds="} {
			if strings.HasPrefix(arg, prefix) {
				auth = strings.TrimPrefix(arg, prefix)
			}
		}
	}
	return auth
}

func attach(auth string) (Client, error) {
	if path, isFifo := strings.CutPrefix(auth, "fifo:"); isFifo {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: open fifo %q: %v", ErrHandshake, path, err)
		}
		if err := checkPipe(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		return &pipeClient{read: f, write: f, fifo: path, owned: true}, nil
	}

	rs, ws, found := strings.Cut(auth, ",")
	if !found {
		return nil, fmt.Errorf("%w: malformed auth %q", ErrHandshake, auth)
	}
	rfd, err := strconv.Atoi(rs)
	if err != nil || rfd < 0 {
		return nil, fmt.Errorf("%w: bad read fd %q", ErrHandshake, rs)
	}
	wfd, err := strconv.Atoi(ws)
	if err != nil || wfd < 0 {
		return nil, fmt.Errorf("%w: bad write fd %q", ErrHandshake, ws)
	}

	r := os.NewFile(uintptr(rfd), "jobserver-read")
	w := os.NewFile(uintptr(wfd), "jobserver-write")
	if r == nil || w == nil {
		return nil, fmt.Errorf("%w: invalid fds %d,%d", ErrHandshake, rfd, wfd)
	}
	if err := checkPipe(r); err != nil {
		return nil, err
	}
	if err := checkPipe(w); err != nil {
		return nil, err
	}
	// The fds belong to the parent make; never close them.
	return &pipeClient{read: r, write: w, owned: false}, nil
}

func checkPipe(f *os.File) error {
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHandshake, f.Name(), err)
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("%w: %s is not a pipe", ErrHandshake, f.Name())
	}
	return nil
}

// Inheritance is what a child process needs to join a client's pool.
type Inheritance struct {
	// Files must be the child's first exec.Cmd.ExtraFiles, so that they
	// arrive as fds 3 and 4. Empty for a fifo.
	Files []*os.File
	// Auth is the --jobserver-auth value naming the pool in the child.
	Auth string
}

// Inherit reports how child processes can share c's tokens. ok is false for
// a client whose pool lives only inside this process.
func Inherit(c Client) (in Inheritance, ok bool) {
	pc, ok := c.(*pipeClient)
	if !ok || pc == nil {
		return Inheritance{}, false
	}
	if pc.fifo != "" {
		return Inheritance{Auth: "fifo:" + pc.fifo}, true
	}
	return Inheritance{Files: []*os.File{pc.read, pc.write}, Auth: "3,4"}, true
}

// Makeflags returns base with any jobserver arguments replaced by the ones
// naming this pool.
func (in Inheritance) Makeflags(base string) string {
	var args []string
	for _, arg := range strings.Fields(base) {
		if arg == "-j" || parseAuth(arg) != "" {
			continue
		}
		args = append(args, arg)
	}
	args = append(args, "-j")
	if !strings.HasPrefix(in.Auth, "fifo:") {
		args = append(args, "--jobserver-fds="+in.Auth)
	}
	return strings.Join(append(args, "--jobserver-auth="+in.Auth), " ")
}
