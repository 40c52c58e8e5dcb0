package booter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/forkboot/internal/protocol"
	"github.com/mattjoyce/forkboot/internal/provider"
	"github.com/mattjoyce/forkboot/internal/report"
)

// fakeTerminator records terminations instead of ending the test binary.
type fakeTerminator struct {
	mu     sync.Mutex
	hooks  []func()
	halted chan int
	exited chan int
}

func newFakeTerminator() *fakeTerminator {
	return &fakeTerminator{halted: make(chan int, 4), exited: make(chan int, 4)}
}

func (f *fakeTerminator) AddHook(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, fn)
}

func (f *fakeTerminator) Halt(code int) { f.halted <- code }

func (f *fakeTerminator) Exit(code int) {
	f.mu.Lock()
	hooks := append([]func(){}, f.hooks...)
	f.mu.Unlock()
	for _, h := range hooks {
		h()
	}
	f.exited <- code
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// blockingFactory returns a provider that blocks until release is closed or
// its context is cancelled. started is closed once it is running.
func blockingFactory(started, release chan struct{}) provider.Factory {
	return provider.Factory{
		Name: "block",
		New: func(provider.Params) (provider.Provider, error) {
			return providerFunc(func(ctx context.Context, inv provider.Invocation) (provider.Result, error) {
				close(started)
				select {
				case <-release:
					return provider.Result{}, nil
				case <-ctx.Done():
					return provider.Result{}, ctx.Err()
				}
			}), nil
		},
	}
}

func panicFactory() provider.Factory {
	return provider.Factory{
		Name: "panic",
		New: func(provider.Params) (provider.Provider, error) {
			return providerFunc(func(context.Context, provider.Invocation) (provider.Result, error) {
				panic("nil map write")
			}), nil
		},
	}
}

type providerFunc func(context.Context, provider.Invocation) (provider.Result, error)

func (f providerFunc) Invoke(ctx context.Context, inv provider.Invocation) (provider.Result, error) {
	return f(ctx, inv)
}

type harness struct {
	booter *Booter
	term   *fakeTerminator
	stdout *syncBuffer
	stderr *syncBuffer
	stdin  *io.PipeWriter
	logs   *syncBuffer
}

func writeBootConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newHarness(t *testing.T, bootConfig string, extra ...provider.Factory) *harness {
	t.Helper()
	reg := provider.DefaultRegistry()
	for _, f := range extra {
		require.NoError(t, reg.Add(f))
	}

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	h := &harness{
		term:   newFakeTerminator(),
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		stdin:  pw,
		logs:   &syncBuffer{},
	}
	h.booter = New(Options{
		BootConfig: bootConfig,
		Stdin:      pr,
		Stdout:     h.stdout,
		Stderr:     h.stderr,
		Registry:   reg,
		Terminator: h.term,
		Logger:     slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	return h
}

func (h *harness) send(t *testing.T, cmd protocol.Command) {
	t.Helper()
	require.NoError(t, protocol.EncodeCommand(h.stdin, cmd))
}

func parseStream(t *testing.T, out string) (raw []string, frames []protocol.Frame) {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		f, ok, err := protocol.ParseLine(sc.Text())
		require.NoError(t, err)
		if ok {
			frames = append(frames, f)
		} else {
			raw = append(raw, sc.Text())
		}
	}
	return raw, frames
}

func codes(frames []protocol.Frame) []protocol.Code {
	out := make([]protocol.Code, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Code)
	}
	return out
}

func assertNoTermination(t *testing.T, term *fakeTerminator) {
	t.Helper()
	assert.Empty(t, term.halted)
	assert.Empty(t, term.exited)
}

func TestRunSuccessEndsWithSingleBye(t *testing.T) {
	path := writeBootConfig(t, `
provider:
  name: echo
workload:
  selectors: [pkg.TestA, pkg.TestB]
`)
	h := newHarness(t, path)

	code := h.booter.Run(context.Background())

	assert.Equal(t, 0, code)
	assert.Equal(t, StateExited, h.booter.State())
	raw, frames := parseStream(t, h.stdout.String())
	assert.Equal(t, []string{"running pkg.TestA", "running pkg.TestB"}, raw)
	assert.Equal(t, []protocol.Code{protocol.CodeBye}, codes(frames))
	assert.Equal(t, protocol.ByePayload, frames[0].Payload)
	assert.True(t, strings.HasSuffix(h.stdout.String(), "Z,0,BYE!\n"))
	assertNoTermination(t, h.term)
}

func TestRunInvocationFailureIsData(t *testing.T) {
	path := writeBootConfig(t, `
provider:
  name: fail
  config:
    message: "expected 200, got 500"
`)
	h := newHarness(t, path)

	code := h.booter.Run(context.Background())

	assert.Equal(t, 0, code)
	_, frames := parseStream(t, h.stdout.String())
	require.Equal(t, []protocol.Code{protocol.CodeError, protocol.CodeBye}, codes(frames))

	rep, err := report.DecodePayload(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "test subsystem", rep.Source)
	assert.Equal(t, "no method", rep.Method)
	assert.Equal(t, "expected 200, got 500", rep.Message)
	assertNoTermination(t, h.term)
}

func TestRunRecoversPanics(t *testing.T) {
	path := writeBootConfig(t, `
provider:
  name: panic
  trim_stack_trace: false
`)
	h := newHarness(t, path, panicFactory())

	assert.Equal(t, 0, h.booter.Run(context.Background()))

	_, frames := parseStream(t, h.stdout.String())
	require.Equal(t, []protocol.Code{protocol.CodeError, protocol.CodeBye}, codes(frames))
	rep, err := report.DecodePayload(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "panic: nil map write", rep.Message)
	assert.Contains(t, rep.Stack, "goroutine")
}

func TestRunBootstrapFailures(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		missing bool
		stderr  string
	}{
		{name: "unknown provider", config: "provider:\n  name: junit\n", stderr: "resolve provider"},
		{name: "invalid provider config", config: "provider:\n  name: process\n", stderr: "config.command is required"},
		{name: "malformed yaml", config: "provider: [unterminated\n", stderr: "load boot config"},
		{name: "missing file uses defaults", missing: true, stderr: "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if !tt.missing {
				path = writeBootConfig(t, tt.config)
			}
			h := newHarness(t, path)

			code := h.booter.Run(context.Background())

			assert.Equal(t, 1, code)
			assert.Empty(t, h.stdout.String(), "no frame on bootstrap failure")
			assert.Contains(t, h.stderr.String(), tt.stderr)
			assert.Equal(t, StateExited, h.booter.State())
			assertNoTermination(t, h.term)
		})
	}
}

func TestRunWatchdogKillsWithoutPings(t *testing.T) {
	path := writeBootConfig(t, `
worker:
  ping_interval: 30ms
provider:
  name: block
`)
	started, release := make(chan struct{}), make(chan struct{})
	h := newHarness(t, path, blockingFactory(started, release))

	done := make(chan int, 1)
	go func() { done <- h.booter.Run(context.Background()) }()
	<-started

	select {
	case code := <-h.term.halted:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not halt the worker")
	}
	close(release)
	<-done
}

func TestRunPingsPreventKill(t *testing.T) {
	path := writeBootConfig(t, `
worker:
  ping_interval: 40ms
provider:
  name: block
`)
	started, release := make(chan struct{}), make(chan struct{})
	h := newHarness(t, path, blockingFactory(started, release))

	done := make(chan int, 1)
	go func() { done <- h.booter.Run(context.Background()) }()
	<-started

	for n := 0; n < 20; n++ {
		h.send(t, protocol.Command{Kind: protocol.KindPing})
		time.Sleep(10 * time.Millisecond)
	}
	close(release)

	assert.Equal(t, 0, <-done)
	assertNoTermination(t, h.term)
	_, frames := parseStream(t, h.stdout.String())
	assert.Equal(t, []protocol.Code{protocol.CodeBye}, codes(frames))
}

func TestRunShutdownExit(t *testing.T) {
	path := writeBootConfig(t, `
worker:
  exit_timeout: 50ms
provider:
  name: block
`)
	started, release := make(chan struct{}), make(chan struct{})
	defer close(release)
	h := newHarness(t, path, blockingFactory(started, release))

	done := make(chan int, 1)
	go func() { done <- h.booter.Run(context.Background()) }()
	<-started

	start := time.Now()
	h.send(t, protocol.Command{Kind: protocol.KindShutdown, Payload: "exit"})

	select {
	case code := <-h.term.exited:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("cooperative exit not requested")
	}

	// The fake exit returns, so the forced halt must follow.
	select {
	case code := <-h.term.halted:
		assert.Equal(t, 1, code)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("forced halt did not fire")
	}

	// The exit hook cancelled the workload context; the exit owns the result.
	assert.Equal(t, 1, <-done)
	_, frames := parseStream(t, h.stdout.String())
	assert.Empty(t, frames, "no error or bye once an exit is in progress")
}

func TestRunExitAfterCompletionIsIgnored(t *testing.T) {
	path := writeBootConfig(t, `
provider:
  name: echo
workload:
  selectors: [pkg.TestA]
`)
	h := newHarness(t, path)

	assert.Equal(t, 0, h.booter.Run(context.Background()))
	h.booter.shutdown.RequestShutdown(1, protocol.ShutdownExit)

	assertNoTermination(t, h.term)
	_, frames := parseStream(t, h.stdout.String())
	assert.Equal(t, []protocol.Code{protocol.CodeBye}, codes(frames))
}

func TestRunQuotesFrameShapedWorkloadOutput(t *testing.T) {
	path := writeBootConfig(t, `
provider:
  name: forger
`)
	forger := provider.Factory{
		Name: "forger",
		New: func(provider.Params) (provider.Provider, error) {
			return providerFunc(func(_ context.Context, inv provider.Invocation) (provider.Result, error) {
				_, _ = io.WriteString(inv.Stdout, "Z,0,BYE!\n")
				_, _ = io.WriteString(inv.Stdout, "X,0,not a failure\n")
				return provider.Result{}, errors.New("real failure")
			}), nil
		},
	}
	h := newHarness(t, path, forger)

	assert.Equal(t, 0, h.booter.Run(context.Background()))

	raw, frames := parseStream(t, h.stdout.String())
	require.Equal(t, []protocol.Code{protocol.CodeError, protocol.CodeBye}, codes(frames),
		"workload output must not produce frames")
	rep, err := report.DecodePayload(frames[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "real failure", rep.Message)

	require.Len(t, raw, 2)
	assert.Equal(t, "Z,0,BYE!", protocol.UnquoteRaw(raw[0]))
	assert.Equal(t, "X,0,not a failure", protocol.UnquoteRaw(raw[1]))
}

func TestRunShutdownKill(t *testing.T) {
	path := writeBootConfig(t, `
provider:
  name: block
`)
	started, release := make(chan struct{}), make(chan struct{})
	h := newHarness(t, path, blockingFactory(started, release))

	done := make(chan int, 1)
	go func() { done <- h.booter.Run(context.Background()) }()
	<-started

	h.send(t, protocol.Command{Kind: protocol.KindShutdown, Payload: "kill"})

	select {
	case code := <-h.term.halted:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("kill did not halt")
	}
	assert.Empty(t, h.term.exited)
	close(release)
	<-done
}

func TestRunShutdownDefaultContinues(t *testing.T) {
	path := writeBootConfig(t, `
worker:
  ping_interval: 20ms
provider:
  name: block
`)
	started, release := make(chan struct{}), make(chan struct{})
	h := newHarness(t, path, blockingFactory(started, release))

	done := make(chan int, 1)
	go func() { done <- h.booter.Run(context.Background()) }()
	<-started

	h.send(t, protocol.Command{Kind: protocol.KindShutdown, Payload: "default"})
	// The watchdog is stopped with the channel, so missing pings no longer kill.
	time.Sleep(80 * time.Millisecond)
	close(release)

	assert.Equal(t, 0, <-done)
	assertNoTermination(t, h.term)
}

func TestRunLazySelectors(t *testing.T) {
	path := writeBootConfig(t, `
provider:
  name: echo
workload:
  read_from_stdin: true
`)
	h := newHarness(t, path)

	// Parent side: answer each Next request from a fixed queue.
	outR, outW := io.Pipe()
	h.booter.opts.Stdout = outW
	pending := []string{"pkg.TestA", "pkg.TestB"}
	var transcript []string
	parentDone := make(chan struct{})
	go func() {
		defer close(parentDone)
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			line := sc.Text()
			transcript = append(transcript, line)
			f, ok, err := protocol.ParseLine(line)
			if err != nil || !ok {
				continue
			}
			switch f.Code {
			case protocol.CodeNext:
				if len(pending) == 0 {
					_ = protocol.EncodeCommand(h.stdin, protocol.Command{Kind: protocol.KindTestSetFinished})
					continue
				}
				_ = protocol.EncodeCommand(h.stdin, protocol.Command{Kind: protocol.KindRunClass, Payload: pending[0]})
				pending = pending[1:]
			case protocol.CodeBye:
				return
			}
		}
	}()

	code := h.booter.Run(context.Background())
	<-parentDone
	_ = outW.Close()

	assert.Equal(t, 0, code)
	assert.Equal(t, []string{
		"N,0,",
		"running pkg.TestA",
		"N,0,",
		"running pkg.TestB",
		"N,0,",
		"Z,0,BYE!",
	}, transcript)
}

func TestLazySelectorsSkip(t *testing.T) {
	var out bytes.Buffer
	rc := report.NewResultChannel(report.NewStream(&out), report.Encoder{}, nil, nil)
	lazy := newLazySelectors(rc)
	sel := &skippable{inner: lazy}

	lazy.push(protocol.Command{Kind: protocol.KindRunClass, Payload: "queued"})
	got, ok, err := sel.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "queued", got)
	assert.Empty(t, out.String(), "a queued selector needs no request")

	sel.skip(protocol.Command{Kind: protocol.KindSkipSinceNextTest})
	_, ok, err = sel.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = lazy.Next(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "N,0,\n", out.String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "bootstrapping", StateBootstrapping.String())
	assert.Equal(t, "reporting_failure", StateReportingFailure.String())
	assert.Equal(t, "state(42)", State(42).String())
}
