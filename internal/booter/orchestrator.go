package booter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mattjoyce/forkboot/internal/channel"
	"github.com/mattjoyce/forkboot/internal/config"
	"github.com/mattjoyce/forkboot/internal/lock"
	logpkg "github.com/mattjoyce/forkboot/internal/log"
	"github.com/mattjoyce/forkboot/internal/metrics"
	"github.com/mattjoyce/forkboot/internal/output"
	"github.com/mattjoyce/forkboot/internal/protocol"
	"github.com/mattjoyce/forkboot/internal/provider"
	"github.com/mattjoyce/forkboot/internal/report"
)

const (
	exitOK      = 0
	exitFailure = 1
)

// State is the orchestrator's position in the run.
type State int32

const (
	StateBootstrapping State = iota
	StateRunning
	StateReportingFailure
	StateReportingSuccess
	StateExited
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateRunning:
		return "running"
	case StateReportingFailure:
		return "reporting_failure"
	case StateReportingSuccess:
		return "reporting_success"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configure a Booter. Zero values select the process defaults.
type Options struct {
	// BootConfig is the boot file path. Required.
	BootConfig string
	// SystemProperties is an optional flat YAML map applied to the environment first.
	SystemProperties string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Registry   *provider.Registry
	Terminator Terminator
	Channel    CommandChannel
	// Logger overrides the logger configured from the boot file.
	Logger *slog.Logger
}

// hookRegistrar is implemented by terminators that run hooks on cooperative exit.
type hookRegistrar interface {
	AddHook(fn func())
}

// Booter runs one forked worker from bootstrap to exit.
type Booter struct {
	opts   Options
	runID  string
	logger *slog.Logger
	state  atomic.Int32

	cfg        *config.Config
	metrics    *metrics.Metrics
	stream     *report.Stream
	results    *report.ResultChannel
	capture    *output.Capture
	channel    CommandChannel
	watchdog   *Watchdog
	shutdown   *Controller
	terminator Terminator
	selectors  *skippable
	lazy       *lazySelectors
	pidLock    *lock.PIDLock

	cancel      context.CancelFunc
	cleanupOnce sync.Once
}

// New returns a Booter with defaults filled in.
func New(opts Options) *Booter {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Registry == nil {
		opts.Registry = provider.DefaultRegistry()
	}
	b := &Booter{opts: opts, runID: uuid.NewString()}
	b.logger = b.baseLogger().With("component", "booter")
	b.state.Store(int32(StateBootstrapping))
	return b
}

func (b *Booter) baseLogger() *slog.Logger {
	if b.opts.Logger != nil {
		return b.opts.Logger.With("run_id", b.runID)
	}
	return logpkg.WithRun(b.runID)
}

func (b *Booter) providerLogger(name string) *slog.Logger {
	if b.opts.Logger != nil {
		return b.opts.Logger.With("run_id", b.runID, "provider", name)
	}
	return logpkg.WithProvider(name).With("run_id", b.runID)
}

// State returns the current state.
func (b *Booter) State() State {
	return State(b.state.Load())
}

func (b *Booter) setState(s State) {
	b.state.Store(int32(s))
	b.logger.Debug("state changed", "state", s.String())
}

// Run executes the worker and returns the process exit code. Kill and Exit
// shutdowns terminate the process through the Terminator; when the workload
// returns during an Exit, Run writes no frames and returns 1.
func (b *Booter) Run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.cancel = cancel

	b.setState(StateBootstrapping)
	cfg, loadErr := b.loadConfig()
	b.wire(cfg)
	if loadErr != nil {
		return b.failBootstrap(loadErr)
	}
	if err := b.listen(ctx); err != nil {
		return b.failBootstrap(err)
	}
	prov, err := b.bootstrap()
	if err != nil {
		return b.failBootstrap(err)
	}

	b.setState(StateRunning)
	failure := b.invoke(ctx, prov)
	if !b.shutdown.Complete() {
		// The parent's exit owns termination and its hooks run cleanup.
		b.logger.Info("exit in progress, not reporting results")
		b.setState(StateExited)
		return exitFailure
	}
	if failure != nil {
		b.setState(StateReportingFailure)
		b.logger.Warn("workload failed", "error", failure.Err, "op", failure.Op)
		if err := b.results.Error(failure); err != nil {
			b.logger.Error("failed to report workload failure", "error", err)
		}
	}

	b.setState(StateReportingSuccess)
	if err := b.results.Bye(); err != nil {
		b.logger.Error("failed to write bye", "error", err)
	}
	if err := b.results.Flush(); err != nil {
		b.logger.Error("failed to flush output", "error", err)
	}

	b.setState(StateExited)
	b.shutdown.RequestShutdown(exitOK, protocol.ShutdownDefault)
	b.cleanup()
	return exitOK
}

// loadConfig applies system properties and reads the boot file. On error
// it still returns usable defaults so the shutdown path can be wired.
func (b *Booter) loadConfig() (*config.Config, error) {
	if b.opts.SystemProperties != "" {
		keys, err := config.ApplySystemProperties(b.opts.SystemProperties)
		if err != nil {
			return config.Defaults(), provider.BootstrapFailure("apply system properties", err)
		}
		b.logger.Debug("system properties applied", "count", len(keys))
	}

	cfg, err := config.Load(b.opts.BootConfig)
	if err != nil {
		return config.Defaults(), provider.BootstrapFailure("load boot config", err)
	}
	if cfg.SourcePath == "" {
		b.logger.Info("boot config not found, using defaults", "path", b.opts.BootConfig)
	}

	if b.opts.Logger == nil {
		logpkg.SetupWithWriter(cfg.Worker.LogLevel, cfg.Worker.LogFormat, b.opts.Stderr)
		b.logger = b.baseLogger().With("component", "booter")
	}
	b.logger.Info("boot config loaded", "path", cfg.SourcePath, "digest", cfg.Digest, "provider", cfg.Provider.Name)
	return cfg, nil
}

// wire builds every collaborator the shutdown path needs.
func (b *Booter) wire(cfg *config.Config) {
	b.cfg = cfg
	logger := b.baseLogger()

	b.metrics = metrics.New()
	b.stream = report.NewStream(b.opts.Stdout)
	b.results = report.NewResultChannel(b.stream, report.Encoder{TrimStack: cfg.Provider.TrimStack()}, b.metrics, logger)
	b.capture = output.New(b.stream, b.opts.Stderr)

	b.channel = b.opts.Channel
	if b.channel == nil {
		b.channel = channel.NewStream(b.opts.Stdin, logger)
	}
	b.terminator = b.opts.Terminator
	if b.terminator == nil {
		b.terminator = NewProcessTerminator(logger)
	}

	b.watchdog = NewWatchdog(cfg.Worker.PingInterval, func() {
		b.shutdown.RequestShutdown(exitFailure, protocol.ShutdownKill)
	}, logger)
	b.shutdown = NewController(b.channel, b.watchdog, b.terminator, cfg.Worker.ExitTimeout, b.metrics, logger)

	if r, ok := b.terminator.(hookRegistrar); ok {
		r.AddHook(b.cleanup)
	}
}

// listen subscribes the command handlers and starts the channel and watchdog.
func (b *Booter) listen(ctx context.Context) error {
	b.channel.Subscribe(protocol.KindPing, func(protocol.Command) {
		b.watchdog.Ping()
		b.metrics.ObservePing()
	})
	b.channel.Subscribe(protocol.KindShutdown, func(cmd protocol.Command) {
		// RequestShutdown stops the channel, which waits for this handler.
		go b.shutdown.RequestShutdown(exitFailure, cmd.ShutdownMode())
	})
	b.channel.Subscribe(protocol.KindByeAck, func(protocol.Command) {
		b.logger.Debug("bye acknowledged by parent")
	})

	var source provider.Selectors
	if b.cfg.Workload.ReadFromStdin {
		b.lazy = newLazySelectors(b.results)
		b.channel.Subscribe(protocol.KindRunClass, b.lazy.push)
		b.channel.Subscribe(protocol.KindTestSetFinished, b.lazy.finish)
		source = b.lazy
	} else {
		source = provider.NewStaticSelectors(b.cfg.Workload.Selectors)
	}
	b.selectors = &skippable{inner: source}
	b.channel.Subscribe(protocol.KindSkipSinceNextTest, func(cmd protocol.Command) {
		b.logger.Info("skipping remaining selectors")
		b.selectors.skip(cmd)
		if b.lazy != nil {
			b.lazy.finish(cmd)
		}
	})

	if err := b.channel.Start(ctx); err != nil {
		return provider.BootstrapFailure("start command channel", err)
	}
	b.watchdog.Start(ctx)
	return nil
}

// bootstrap acquires the pid file and resolves the provider.
func (b *Booter) bootstrap() (provider.Provider, error) {
	if path := b.cfg.Worker.PIDFile; path != "" {
		if err := lock.CheckLocalFilesystem(path); err != nil {
			b.logger.Warn("pid file lock may not be exclusive", "error", err)
		}
		l, err := lock.AcquirePIDLock(path)
		if err != nil {
			return nil, provider.BootstrapFailure("acquire pid file", err)
		}
		b.pidLock = l
	}

	prov, err := b.opts.Registry.Resolve(b.cfg.Provider.Name, provider.Params{
		Config:      b.cfg.Provider.Config,
		Environment: b.cfg.Environment,
		Logger:      b.providerLogger(b.cfg.Provider.Name),
	})
	if err != nil {
		return nil, provider.BootstrapFailure("resolve provider", err)
	}
	return prov, nil
}

// invoke runs the workload in a guarded region. Errors and panics come back
// as invocation failures.
func (b *Booter) invoke(ctx context.Context, prov provider.Provider) (failure *provider.Failure) {
	scope, err := b.capture.Acquire()
	if err != nil {
		return provider.InvocationFailure("acquire output", err, nil)
	}
	defer scope.Release()

	timer := metrics.NewTimer()
	defer func() {
		d := timer.ObserveDuration(b.metrics.WorkloadDuration)
		stdout, stderr := scope.Written()
		b.logger.Info("workload finished", "duration", d, "stdout_bytes", stdout, "stderr_bytes", stderr, "failed", failure != nil)
	}()
	defer func() {
		if r := recover(); r != nil {
			failure = provider.InvocationFailure("", &provider.PanicError{Value: r}, debug.Stack())
		}
	}()

	res, err := prov.Invoke(ctx, provider.Invocation{
		Selectors: b.selectors,
		Stdout:    scope.Stdout(),
		Stderr:    scope.Stderr(),
	})
	if err != nil {
		return provider.InvocationFailure("", err, nil)
	}
	b.logger.Debug("workload result", "selectors", res.Selectors)
	return nil
}

// failBootstrap reports a bootstrap failure on stderr and returns exit code 1.
// No frame is written.
func (b *Booter) failBootstrap(err error) int {
	f, ok := provider.AsFailure(err)
	if !ok {
		f = provider.BootstrapFailure("", err)
	}
	fmt.Fprintf(b.opts.Stderr, "forkboot: %v\n", f)
	b.logger.Error("bootstrap failed", "op", f.Op, "error", f.Err)

	b.setState(StateExited)
	b.shutdown.RequestShutdown(exitFailure, protocol.ShutdownDefault)
	b.cleanup()
	return exitFailure
}

// cleanup runs once, on the Default path or from the cooperative exit hook.
func (b *Booter) cleanup() {
	b.cleanupOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if err := b.stream.Flush(); err != nil {
			b.logger.Warn("failed to flush output", "error", err)
		}
		if err := b.metrics.WriteTextfile(b.cfg.Worker.MetricsTextfile); err != nil {
			b.logger.Warn("failed to write metrics", "error", err)
		}
		if err := b.pidLock.Release(); err != nil {
			b.logger.Warn("failed to release pid file", "error", err)
		}
	})
}

// Main runs a worker with process defaults and returns its exit code.
func Main(bootConfig, systemProperties string) int {
	return New(Options{BootConfig: bootConfig, SystemProperties: systemProperties}).Run(context.Background())
}
