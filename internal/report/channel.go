package report

import (
	"log/slog"
	"sync"

	"github.com/mattjoyce/forkboot/internal/protocol"
	"github.com/mattjoyce/forkboot/internal/provider"
)

// FrameObserver is told about every frame written.
type FrameObserver interface {
	ObserveFrame(code protocol.Code)
}

// ResultChannel writes outcome frames onto the shared stream.
type ResultChannel struct {
	stream   *Stream
	encoder  Encoder
	observer FrameObserver
	logger   *slog.Logger

	mu      sync.Mutex
	byeSent bool
}

// NewResultChannel returns a channel writing to stream. observer may be nil.
func NewResultChannel(stream *Stream, encoder Encoder, observer FrameObserver, logger *slog.Logger) *ResultChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultChannel{
		stream:   stream,
		encoder:  encoder,
		observer: observer,
		logger:   logger.With("component", "result-channel"),
	}
}

// Error writes an Error frame describing f.
func (c *ResultChannel) Error(f *provider.Failure) error {
	return c.write(protocol.ErrorFrame(c.encoder.Encode(f)))
}

// Bye writes the terminal Bye frame. Only the first call writes.
func (c *ResultChannel) Bye() error {
	c.mu.Lock()
	if c.byeSent {
		c.mu.Unlock()
		c.logger.Warn("bye already sent")
		return nil
	}
	c.byeSent = true
	c.mu.Unlock()
	return c.write(protocol.Bye())
}

// RequestNext asks the parent for the next lazily supplied selector.
func (c *ResultChannel) RequestNext() error {
	return c.write(protocol.NextRequest())
}

// Flush pushes buffered output to the underlying stream.
func (c *ResultChannel) Flush() error {
	return c.stream.Flush()
}

func (c *ResultChannel) write(f protocol.Frame) error {
	if err := c.stream.WriteFrame(f); err != nil {
		c.logger.Error("failed to write frame", "code", f.Code, "error", err)
		return err
	}
	c.logger.Debug("frame written", "code", f.Code)
	if c.observer != nil {
		c.observer.ObserveFrame(f.Code)
	}
	return nil
}
