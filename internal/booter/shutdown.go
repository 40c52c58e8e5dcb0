package booter

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/forkboot/internal/protocol"
)

// ShutdownObserver is told about every shutdown request.
type ShutdownObserver interface {
	ObserveShutdown(mode protocol.ShutdownMode)
}

// Controller is the single authority for how the worker terminates.
type Controller struct {
	channel     stopper
	watchdog    stopper
	terminator  Terminator
	exitTimeout time.Duration
	observer    ShutdownObserver
	logger      *slog.Logger

	stopOnce sync.Once
	exiting  atomic.Bool
}

// NewController wires the shutdown sequence. observer may be nil.
func NewController(ch stopper, wd stopper, term Terminator, exitTimeout time.Duration, observer ShutdownObserver, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		channel:     ch,
		watchdog:    wd,
		terminator:  term,
		exitTimeout: exitTimeout,
		observer:    observer,
		logger:      logger.With("component", "shutdown"),
	}
}

// RequestShutdown terminates according to mode.
//
// The stop sequence (command channel, then watchdog) runs once across all
// callers. Kill always halts, even after an earlier Exit armed its timer.
// Exit arms the forced halt before the cooperative exit, unless an exit is
// in progress or the run already completed. Default returns to the caller. Must not be called synchronously from a command handler.
func (c *Controller) RequestShutdown(code int, mode protocol.ShutdownMode) {
	c.logger.Info("shutdown requested", "mode", mode.String(), "exit_code", code)
	if c.observer != nil {
		c.observer.ObserveShutdown(mode)
	}

	c.stop()

	switch mode {
	case protocol.ShutdownKill:
		c.terminator.Halt(code)
	case protocol.ShutdownExit:
		if !c.exiting.CompareAndSwap(false, true) {
			c.logger.Debug("exit already in progress")
			return
		}
		c.armHalt(code)
		c.terminator.Exit(code)
	}
}

// Complete claims termination for a run that reached its end. It returns
// false when a cooperative exit already owns termination; once it returns
// true later Exit requests are ignored and only Kill still acts.
func (c *Controller) Complete() bool {
	return c.exiting.CompareAndSwap(false, true)
}

func (c *Controller) stop() {
	c.stopOnce.Do(func() {
		if c.channel != nil {
			c.channel.Stop()
		}
		if c.watchdog != nil {
			c.watchdog.Stop()
		}
	})
}

func (c *Controller) armHalt(code int) {
	time.AfterFunc(c.exitTimeout, func() {
		c.logger.Error("cooperative exit timed out, halting", "timeout", c.exitTimeout)
		c.terminator.Halt(code)
	})
}
