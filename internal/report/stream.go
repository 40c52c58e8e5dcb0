package report

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/mattjoyce/forkboot/internal/protocol"
)

// Stream is the shared outbound byte stream. Raw workload output and result
// frames both go through it, so a frame always starts on a fresh line and a
// raw line that would read as a frame is quoted with protocol.RawQuote.
type Stream struct {
	mu          sync.Mutex
	w           *bufio.Writer
	atLineStart bool
	// pending holds the first bytes of a raw line until its header is judged.
	pending []byte
}

// NewStream wraps w. Raw output is line buffered; frames are flushed as soon
// as they are written.
func NewStream(w io.Writer) *Stream {
	return &Stream{w: bufio.NewWriter(w), atLineStart: true, pending: make([]byte, 0, 2)}
}

// Write passes raw output through, quoting lines that start like a frame.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeRaw(p); err != nil {
		return 0, err
	}
	if bytes.IndexByte(p, '\n') >= 0 {
		if err := s.w.Flush(); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (s *Stream) writeRaw(p []byte) error {
	for len(p) > 0 {
		if !s.atLineStart {
			i := bytes.IndexByte(p, '\n')
			if i < 0 {
				_, err := s.w.Write(p)
				return err
			}
			if _, err := s.w.Write(p[:i+1]); err != nil {
				return err
			}
			s.atLineStart = true
			p = p[i+1:]
			continue
		}

		s.pending = append(s.pending, p[0])
		p = p[1:]
		if quote, decided := protocol.RawNeedsQuote(s.pending); decided {
			if err := s.emitPending(quote); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitPending writes the held line start, quoted if asked.
func (s *Stream) emitPending(quote bool) error {
	if len(s.pending) == 0 {
		return nil
	}
	if quote {
		if err := s.w.WriteByte(protocol.RawQuote); err != nil {
			return err
		}
	}
	if _, err := s.w.Write(s.pending); err != nil {
		return err
	}
	s.atLineStart = s.pending[len(s.pending)-1] == '\n'
	s.pending = s.pending[:0]
	return nil
}

// WriteFrame writes one frame, preceded by a newline when raw output left
// the stream mid-line.
func (s *Stream) WriteFrame(f protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The raw line ends here, so an undecided start cannot become a header.
	if err := s.emitPending(false); err != nil {
		return fmt.Errorf("failed to write raw output: %w", err)
	}
	if !s.atLineStart {
		if err := s.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to terminate raw output: %w", err)
		}
		s.atLineStart = true
	}
	if err := protocol.EncodeFrame(s.w, f); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

// Flush pushes buffered bytes to the underlying writer. A held line start
// is quoted, since more of its line may still follow.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.emitPending(true); err != nil {
		return err
	}
	return s.w.Flush()
}
