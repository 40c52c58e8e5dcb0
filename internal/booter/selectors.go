package booter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/forkboot/internal/protocol"
	"github.com/mattjoyce/forkboot/internal/provider"
)

// nextRequester asks the parent for one more selector.
type nextRequester interface {
	RequestNext() error
}

// lazySelectors pulls selectors from the parent one at a time. Each pull
// writes a Next frame and waits for a run-class or testset-finished command.
type lazySelectors struct {
	requester nextRequester

	mu       sync.Mutex
	queue    []string
	finished bool
	notify   chan struct{}
}

func newLazySelectors(r nextRequester) *lazySelectors {
	return &lazySelectors{requester: r, notify: make(chan struct{}, 1)}
}

// push is the run-class handler.
func (l *lazySelectors) push(cmd protocol.Command) {
	l.mu.Lock()
	if !l.finished {
		l.queue = append(l.queue, cmd.Payload)
	}
	l.mu.Unlock()
	l.wake()
}

// finish is the testset-finished handler.
func (l *lazySelectors) finish(protocol.Command) {
	l.mu.Lock()
	l.finished = true
	l.mu.Unlock()
	l.wake()
}

func (l *lazySelectors) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// pop returns a queued selector, or reports that the set is finished.
func (l *lazySelectors) pop() (sel string, ok, done bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) > 0 {
		sel, l.queue = l.queue[0], l.queue[1:]
		return sel, true, false
	}
	return "", false, l.finished
}

func (l *lazySelectors) Next(ctx context.Context) (string, bool, error) {
	if sel, ok, done := l.pop(); ok || done {
		return sel, ok, nil
	}
	if err := l.requester.RequestNext(); err != nil {
		return "", false, err
	}
	for {
		select {
		case <-l.notify:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
		if sel, ok, done := l.pop(); ok || done {
			return sel, ok, nil
		}
	}
}

// skippable ends a selector source once skip-since-next-test arrives.
// Selectors already handed out keep running.
type skippable struct {
	inner   provider.Selectors
	skipped atomic.Bool
}

func (s *skippable) skip(protocol.Command) {
	s.skipped.Store(true)
}

func (s *skippable) Next(ctx context.Context) (string, bool, error) {
	if s.skipped.Load() {
		return "", false, nil
	}
	return s.inner.Next(ctx)
}
