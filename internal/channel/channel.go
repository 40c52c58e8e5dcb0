package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mattjoyce/forkboot/internal/protocol"
)

// Handler reacts to one inbound command. It runs on the reader goroutine and
// must not call Stop synchronously.
type Handler func(cmd protocol.Command)

// CommandChannel is the inbound half of the parent link.
type CommandChannel interface {
	Subscribe(kind protocol.Kind, h Handler)
	Start(ctx context.Context) error
	Stop()
}

// ErrAlreadyStarted is returned by Start when the reader is already running.
var ErrAlreadyStarted = errors.New("command channel already started")

// Stream decodes commands from a reader (stdin in production) on its own
// goroutine and dispatches them to subscribers.
type Stream struct {
	decoder *protocol.CommandDecoder
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[protocol.Kind][]Handler
	started  bool
	stopped  bool

	done     chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStream returns a channel reading from r. Stop never closes r.
func NewStream(r io.Reader, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		decoder:  protocol.NewCommandDecoder(r),
		logger:   logger.With("component", "command-channel"),
		handlers: make(map[protocol.Kind][]Handler),
		done:     make(chan struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers h for kind. Handlers for one kind run in subscription order.
func (s *Stream) Subscribe(kind protocol.Kind, h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], h)
}

// Start launches the reader goroutine. The goroutine exits on EOF, on a read
// error, on Stop or when ctx is cancelled.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	cmds := make(chan protocol.Command)
	go s.readLoop(cmds)
	go s.dispatchLoop(ctx, cmds)
	return nil
}

// readLoop owns the decoder. A blocked read cannot be interrupted, so after
// Stop this goroutine lingers until the next line or EOF and then exits.
func (s *Stream) readLoop(out chan<- protocol.Command) {
	defer close(out)
	for {
		cmd, err := s.decoder.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("command stream closed")
				return
			}
			if errors.Is(err, protocol.ErrMalformedCommand) {
				s.logger.Warn("ignoring malformed command", "error", err)
				continue
			}
			s.logger.Error("command stream read failed", "error", err)
			return
		}
		select {
		case out <- cmd:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Stream) dispatchLoop(ctx context.Context, in <-chan protocol.Command) {
	defer close(s.done)
	for {
		select {
		case cmd, ok := <-in:
			if !ok {
				return
			}
			s.dispatch(cmd)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stream) dispatch(cmd protocol.Command) {
	// The read lock is held while handlers run, so Stop waits for an
	// in-flight dispatch and no handler begins after Stop returns.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}

	hs := s.handlers[cmd.Kind]
	if len(hs) == 0 {
		if !cmd.Kind.Known() {
			s.logger.Warn("ignoring unknown command", "kind", cmd.Kind)
		} else {
			s.logger.Debug("no handler for command", "kind", cmd.Kind)
		}
		return
	}
	for _, h := range hs {
		h(cmd)
	}
}

// Stop ends dispatch. It is idempotent and safe from any goroutine other
// than a handler.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopCh)
		s.logger.Debug("command channel stopped")
	})
}

// Done is closed once the dispatch goroutine has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
