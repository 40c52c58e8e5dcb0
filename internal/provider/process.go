package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	// defaultProcessTimeout bounds a single workload process.
	defaultProcessTimeout = 30 * time.Minute

	// defaultTerminationGrace is the time we wait after SIGTERM before sending SIGKILL.
	defaultTerminationGrace = 5 * time.Second
)

// processConfig is the parsed provider.config of the process provider.
type processConfig struct {
	Command     string
	Args        []string
	Dir         string
	Env         map[string]string
	Timeout     time.Duration
	Grace       time.Duration
	PerSelector bool
}

func parseProcessConfig(cfg map[string]any) (processConfig, error) {
	out := processConfig{
		Command:     asString(cfg["command"]),
		Args:        asStringSlice(cfg["args"]),
		Dir:         asString(cfg["dir"]),
		Env:         asStringMap(cfg["env"]),
		PerSelector: asBool(cfg["per_selector"]),
	}
	if out.Command == "" {
		return out, fmt.Errorf("process provider: config.command is required")
	}

	var err error
	if out.Timeout, err = asDuration(cfg["timeout"], defaultProcessTimeout); err != nil {
		return out, fmt.Errorf("process provider: config.timeout: %w", err)
	}
	if out.Timeout <= 0 {
		return out, fmt.Errorf("process provider: config.timeout must be positive")
	}
	if out.Grace, err = asDuration(cfg["grace"], defaultTerminationGrace); err != nil {
		return out, fmt.Errorf("process provider: config.grace: %w", err)
	}
	if out.Grace < 0 {
		return out, fmt.Errorf("process provider: config.grace must not be negative")
	}
	return out, nil
}

// ProcessFactory returns the factory for the "process" provider, which runs
// an external test command with selectors appended to its arguments.
func ProcessFactory() Factory {
	return Factory{
		Name: "process",
		New: func(p Params) (Provider, error) {
			cfg, err := parseProcessConfig(p.Config)
			if err != nil {
				return nil, err
			}
			return &Process{cfg: cfg, env: p.Environment, logger: p.Logger}, nil
		},
		Validate: func(cfg map[string]any) error {
			_, err := parseProcessConfig(cfg)
			return err
		},
	}
}

// Process spawns the configured command and waits for it.
type Process struct {
	cfg    processConfig
	env    map[string]string
	logger *slog.Logger
}

// Invoke implements Provider.
func (p *Process) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	start := time.Now()

	selectors, err := p.batches(ctx, inv.Selectors)
	if err != nil {
		return Result{}, err
	}

	count := 0
	for _, batch := range selectors {
		count += len(batch)
		if err := p.spawn(ctx, inv, batch); err != nil {
			return Result{Selectors: count, Duration: time.Since(start)}, err
		}
	}
	return Result{Selectors: count, Duration: time.Since(start)}, nil
}

// batches groups selectors into one batch per spawned process.
func (p *Process) batches(ctx context.Context, s Selectors) ([][]string, error) {
	all, err := Drain(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("read selectors: %w", err)
	}
	if !p.cfg.PerSelector {
		return [][]string{all}, nil
	}

	// No selectors means no processes in per-selector mode.
	out := make([][]string, 0, len(all))
	for _, sel := range all {
		out = append(out, []string{sel})
	}
	return out, nil
}

// spawn runs one workload process. Termination on timeout or cancellation is
// SIGTERM, then SIGKILL after the grace period.
func (p *Process) spawn(ctx context.Context, inv Invocation, selectors []string) error {
	timeoutTimer := time.NewTimer(p.cfg.Timeout)
	defer timeoutTimer.Stop()

	// Don't use CommandContext - termination is managed below.
	args := append(append([]string(nil), p.cfg.Args...), selectors...)
	cmd := exec.Command(p.cfg.Command, args...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = p.environ()
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr

	p.logger.Debug("spawning workload", "command", p.cfg.Command, "args", args, "timeout", p.cfg.Timeout)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var reason error
	select {
	case err := <-waitErr:
		return p.exitError(err)
	case <-timeoutTimer.C:
		reason = fmt.Errorf("workload timed out after %v: %w", p.cfg.Timeout, context.DeadlineExceeded)
		p.logger.Warn("workload timed out, sending SIGTERM")
	case <-ctx.Done():
		reason = fmt.Errorf("workload interrupted: %w", ctx.Err())
		p.logger.Warn("workload interrupted, sending SIGTERM")
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(p.cfg.Grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		p.logger.Info("workload exited after SIGTERM")
	case <-grace.C:
		p.logger.Warn("workload did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			p.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
	return reason
}

func (p *Process) exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.logger.Warn("workload exited with non-zero status", "exit_code", exitErr.ExitCode())
		return &ExitError{Command: p.cfg.Command, ExitCode: exitErr.ExitCode()}
	}
	return fmt.Errorf("wait for process: %w", err)
}

func (p *Process) environ() []string {
	env := os.Environ()
	for k, v := range p.env {
		env = append(env, k+"="+v)
	}
	for k, v := range p.cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}
