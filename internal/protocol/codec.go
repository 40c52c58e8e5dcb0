package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedCommand wraps any inbound line that is not a valid command.
var ErrMalformedCommand = errors.New("malformed command")

// AppendFrame appends the wire form of f to dst:
//
//	<code>,<channel>,<escaped payload>\n
func AppendFrame(dst []byte, f Frame) []byte {
	dst = append(dst, byte(f.Code), ',')
	dst = strconv.AppendInt(dst, int64(f.Channel), 10)
	dst = append(dst, ',')
	dst = append(dst, Escape(f.Payload)...)
	return append(dst, '\n')
}

// EncodeFrame writes the wire form of f to w.
func EncodeFrame(w io.Writer, f Frame) error {
	if !f.Code.valid() {
		return fmt.Errorf("unsupported frame code: %s", f.Code)
	}
	if _, err := w.Write(AppendFrame(nil, f)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ParseLine classifies one stdout line (without its trailing newline).
// ok is false when the line is raw workload output rather than a frame.
// A line that has a frame header but an undecodable payload returns an error.
func ParseLine(line string) (f Frame, ok bool, err error) {
	line = strings.TrimSuffix(line, "\n")
	if len(line) < 4 || line[1] != ',' {
		return Frame{}, false, nil
	}
	code := Code(line[0])
	if !code.valid() {
		return Frame{}, false, nil
	}

	rest := line[2:]
	comma := strings.IndexByte(rest, ',')
	if comma <= 0 {
		return Frame{}, false, nil
	}
	channel, convErr := strconv.Atoi(rest[:comma])
	if convErr != nil || channel < 0 {
		return Frame{}, false, nil
	}

	payload, err := Unescape(rest[comma+1:])
	if err != nil {
		return Frame{}, true, fmt.Errorf("frame %s: %w", code, err)
	}
	return Frame{Code: code, Channel: channel, Payload: payload}, true, nil
}

// RawQuote is prepended to a raw output line that starts like a frame header
// or with RawQuote itself. ParseLine never reads a quoted line as a frame.
const RawQuote = '\\'

// RawNeedsQuote reports whether a raw line beginning with prefix must be
// quoted. decided is false while prefix is too short to tell.
func RawNeedsQuote(prefix []byte) (quote, decided bool) {
	if len(prefix) == 0 {
		return false, false
	}
	if prefix[0] == RawQuote {
		return true, true
	}
	if !Code(prefix[0]).valid() {
		return false, true
	}
	if len(prefix) < 2 {
		return false, false
	}
	return prefix[1] == ',', true
}

// UnquoteRaw restores a raw line reported by ParseLine to the bytes the
// workload wrote.
func UnquoteRaw(line string) string {
	if len(line) > 0 && line[0] == RawQuote {
		return line[1:]
	}
	return line
}

// EncodeCommand serializes cmd as one JSON line. Used by the parent side and tests.
func EncodeCommand(w io.Writer, cmd Command) error {
	if cmd.Kind == "" {
		return fmt.Errorf("command kind is required")
	}
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(cmd); err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}
	return nil
}

// CommandDecoder reads newline-delimited JSON commands.
// A malformed line yields an error wrapping ErrMalformedCommand but does not
// poison the stream; the next call continues with the following line.
type CommandDecoder struct {
	r *bufio.Reader
}

// NewCommandDecoder returns a decoder reading from r.
func NewCommandDecoder(r io.Reader) *CommandDecoder {
	return &CommandDecoder{r: bufio.NewReader(r)}
}

// Decode returns the next command, or io.EOF when the stream ends.
func (d *CommandDecoder) Decode() (Command, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if err != nil {
				return Command{}, err
			}
			continue
		}

		cmd, decErr := decodeCommandLine(trimmed)
		if decErr != nil {
			return Command{}, decErr
		}
		// A final line without a newline is still a command; the EOF surfaces on the next call.
		return cmd, nil
	}
}

func decodeCommandLine(line []byte) (Command, error) {
	var cmd Command
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if cmd.Kind == "" {
		return Command{}, fmt.Errorf("%w: missing required field: kind", ErrMalformedCommand)
	}
	return cmd, nil
}
