package booter

import (
	"log/slog"
	"os"
	"sync"
)

// ProcessTerminator ends the current process.
type ProcessTerminator struct {
	logger *slog.Logger
	exit   func(int)

	mu    sync.Mutex
	hooks []func()
	ran   bool
}

// NewProcessTerminator returns a terminator backed by os.Exit.
func NewProcessTerminator(logger *slog.Logger) *ProcessTerminator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessTerminator{logger: logger.With("component", "terminator"), exit: os.Exit}
}

// AddHook registers fn to run on cooperative exit. Hooks run in reverse
// registration order.
func (t *ProcessTerminator) AddHook(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Halt exits without running hooks.
func (t *ProcessTerminator) Halt(code int) {
	t.logger.Warn("halting worker", "exit_code", code)
	t.exit(code)
}

// Exit runs the exit hooks once, then exits.
func (t *ProcessTerminator) Exit(code int) {
	t.logger.Info("exiting worker", "exit_code", code)
	t.RunHooks()
	t.exit(code)
}

// RunHooks runs the registered hooks if they have not run yet. A panicking
// hook is logged and does not stop the rest.
func (t *ProcessTerminator) RunHooks() {
	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return
	}
	t.ran = true
	hooks := append([]func(){}, t.hooks...)
	t.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		runHook(t.logger, hooks[i])
	}
}

func runHook(logger *slog.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("exit hook panicked", "panic", r)
		}
	}()
	fn()
}
