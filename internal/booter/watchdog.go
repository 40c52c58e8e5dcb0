package booter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Watchdog kills the worker when the parent stops pinging. Each tick clears
// the ping flag; a tick that finds it already clear fires onTimeout.
type Watchdog struct {
	interval  time.Duration
	onTimeout func()
	logger    *slog.Logger

	pinged   atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatchdog returns a watchdog that has not started ticking. The ping flag
// starts set so the immediate first tick passes.
func NewWatchdog(interval time.Duration, onTimeout func(), logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watchdog{
		interval:  interval,
		onTimeout: onTimeout,
		logger:    logger.With("component", "watchdog"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.pinged.Store(true)
	return w
}

// Ping records that the parent is alive.
func (w *Watchdog) Ping() {
	w.pinged.Store(true)
}

// Start begins the tick loop. Calling Start twice has no effect.
func (w *Watchdog) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.logger.Debug("starting watchdog", "interval", w.interval)
	go w.tickLoop(ctx)
}

// Stop cancels the schedule. It never blocks and may be called repeatedly.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Done is closed when the tick loop exits. It is never closed if Start was
// not called.
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

func (w *Watchdog) tickLoop(ctx context.Context) {
	defer close(w.done)

	// Initial tick immediately
	if w.tick() {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.tick() {
				return
			}
		case <-w.stopCh:
			w.logger.Debug("watchdog stopped")
			return
		case <-ctx.Done():
			w.logger.Debug("watchdog context cancelled")
			return
		}
	}
}

// tick reports whether the loop should end, either because the watchdog
// fired or because it was stopped.
func (w *Watchdog) tick() bool {
	select {
	case <-w.stopCh:
		return true
	default:
	}
	if w.pinged.Swap(false) {
		return false
	}
	w.logger.Error("no ping received from parent, killing worker", "interval", w.interval)
	if w.onTimeout != nil {
		w.onTimeout()
	}
	return true
}
