package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EchoFactory returns the "echo" provider. It writes one line per selector to
// the captured stdout and succeeds. Parent-side integration tests use it.
func EchoFactory() Factory {
	return Factory{
		Name: "echo",
		New: func(p Params) (Provider, error) {
			prefix := asString(p.Config["prefix"])
			if prefix == "" {
				prefix = "running"
			}
			return &echo{prefix: prefix}, nil
		},
	}
}

type echo struct {
	prefix string
}

func (e *echo) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	start := time.Now()
	count := 0
	if inv.Selectors == nil {
		return Result{}, nil
	}
	for {
		sel, ok, err := inv.Selectors.Next(ctx)
		if err != nil {
			return Result{Selectors: count, Duration: time.Since(start)}, err
		}
		if !ok {
			break
		}
		count++
		if inv.Stdout != nil {
			if _, err := fmt.Fprintf(inv.Stdout, "%s %s\n", e.prefix, sel); err != nil {
				return Result{Selectors: count, Duration: time.Since(start)}, fmt.Errorf("write output: %w", err)
			}
		}
	}
	return Result{Selectors: count, Duration: time.Since(start)}, nil
}

// FailFactory returns the "fail" provider, which always reports an
// invocation failure carrying config.message.
func FailFactory() Factory {
	return Factory{
		Name: "fail",
		New: func(p Params) (Provider, error) {
			msg := asString(p.Config["message"])
			if msg == "" {
				msg = "workload failed"
			}
			return &fail{msg: msg}, nil
		},
	}
}

type fail struct {
	msg string
}

func (f *fail) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return Result{}, errors.New(f.msg)
}
