package provider

import (
	"errors"
	"fmt"
)

// ErrUnknownProvider is returned when a provider name is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// FailureKind separates failures that abort the worker from failures that
// are reported to the parent as data.
type FailureKind int

const (
	// FailureBootstrap covers configuration and provider resolution. Fatal.
	FailureBootstrap FailureKind = iota + 1
	// FailureInvocation covers anything raised while the workload runs. Reported, not fatal.
	FailureInvocation
)

func (k FailureKind) String() string {
	switch k {
	case FailureBootstrap:
		return "bootstrap"
	case FailureInvocation:
		return "invocation"
	default:
		return "unknown"
	}
}

// Failure is the single failure type the orchestrator branches on.
type Failure struct {
	Kind FailureKind
	// Source names the subsystem that failed, e.g. "test subsystem".
	Source string
	// Op names the operation, e.g. "load config" or a selector.
	Op    string
	Err   error
	Stack []byte
}

func (f *Failure) Error() string {
	if f.Op == "" {
		return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s failure in %s: %v", f.Kind, f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// BootstrapFailure wraps err as a bootstrap failure.
func BootstrapFailure(op string, err error) *Failure {
	return &Failure{Kind: FailureBootstrap, Source: "booter", Op: op, Err: err}
}

// InvocationFailure wraps err as an invocation failure. An err that already is an
// invocation failure is returned unchanged so nested wrappers do not stack.
func InvocationFailure(op string, err error, stack []byte) *Failure {
	var f *Failure
	if errors.As(err, &f) && f.Kind == FailureInvocation {
		if f.Stack == nil {
			f.Stack = stack
		}
		return f
	}
	return &Failure{Kind: FailureInvocation, Source: "test subsystem", Op: op, Err: err, Stack: stack}
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// PanicError carries a value recovered from a panicking workload.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// ExitError reports a workload process that exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
}
