// Package output hands a workload the writers it may use for console output.
//
// Instead of swapping the process-wide stdout, the worker acquires a Scope for
// the duration of one invocation. Writes through the scope land on the shared
// report stream so frames stay on line boundaries; writes after Release fail.
package output

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrReleased is returned by a scope writer after its scope was released.
var ErrReleased = errors.New("output scope released")

// ErrBusy is returned by Acquire while another scope is active.
var ErrBusy = errors.New("output capture already acquired")

// Capture owns the stdout and stderr sinks of the worker.
type Capture struct {
	stdout io.Writer
	stderr io.Writer

	mu     sync.Mutex
	active *Scope
}

// New returns a capture writing workload stdout to stdout and stderr to stderr.
func New(stdout, stderr io.Writer) *Capture {
	if stderr == nil {
		stderr = io.Discard
	}
	return &Capture{stdout: stdout, stderr: stderr}
}

// Acquire opens a scope. Only one scope may be active at a time.
func (c *Capture) Acquire() (*Scope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, ErrBusy
	}
	s := &Scope{owner: c}
	s.stdout = &scopedWriter{scope: s, w: c.stdout}
	s.stderr = &scopedWriter{scope: s, w: c.stderr}
	c.active = s
	return s, nil
}

func (c *Capture) release(s *Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}

// Scope is one acquired capture.
type Scope struct {
	owner    *Capture
	released atomic.Bool
	stdout   *scopedWriter
	stderr   *scopedWriter
}

// Stdout returns the writer for workload console output.
func (s *Scope) Stdout() io.Writer { return s.stdout }

// Stderr returns the writer for workload diagnostics.
func (s *Scope) Stderr() io.Writer { return s.stderr }

// Written reports the bytes written to stdout and stderr so far.
func (s *Scope) Written() (stdout, stderr int64) {
	return s.stdout.n.Load(), s.stderr.n.Load()
}

// Release closes the scope. Safe to call more than once.
func (s *Scope) Release() {
	if s.released.Swap(true) {
		return
	}
	s.owner.release(s)
}

type scopedWriter struct {
	scope *Scope
	w     io.Writer
	n     atomic.Int64
}

func (w *scopedWriter) Write(p []byte) (int, error) {
	if w.scope.released.Load() {
		return 0, ErrReleased
	}
	n, err := w.w.Write(p)
	w.n.Add(int64(n))
	return n, err
}
