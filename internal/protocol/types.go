package protocol

import (
	"fmt"
	"strings"
)

// Kind identifies an inbound command sent by the parent on stdin.
type Kind string

const (
	// KindPing is the liveness signal. The parent sends one more often than
	// the worker's ping interval.
	KindPing Kind = "ping"
	// KindShutdown asks the worker to terminate. Payload names the mode.
	KindShutdown Kind = "shutdown"
	// KindRunClass carries one workload selector for lazily supplied test sets.
	KindRunClass Kind = "run-class"
	// KindTestSetFinished ends a lazily supplied test set.
	KindTestSetFinished Kind = "testset-finished"
	// KindSkipSinceNextTest asks the workload to skip everything not yet started.
	KindSkipSinceNextTest Kind = "skip-since-next-test"
	// KindByeAck acknowledges the worker's Bye frame.
	KindByeAck Kind = "bye-ack"
)

var knownKinds = map[Kind]bool{
	KindPing:              true,
	KindShutdown:          true,
	KindRunClass:          true,
	KindTestSetFinished:   true,
	KindSkipSinceNextTest: true,
	KindByeAck:            true,
}

// Known reports whether k is a command kind this worker understands.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// Command is one decoded inbound message. It is treated as immutable.
type Command struct {
	Kind    Kind   `json:"kind"`
	Payload string `json:"payload,omitempty"`
}

// ShutdownMode returns the mode carried by a shutdown command.
// An empty or unrecognised payload maps to ShutdownDefault.
func (c Command) ShutdownMode() ShutdownMode {
	mode, err := ParseShutdownMode(c.Payload)
	if err != nil {
		return ShutdownDefault
	}
	return mode
}

// ShutdownMode selects how the worker process terminates.
type ShutdownMode int

const (
	// ShutdownDefault takes no process-level action; normal flow continues.
	ShutdownDefault ShutdownMode = iota
	// ShutdownExit exits cooperatively, backed by a forced-halt timer.
	ShutdownExit
	// ShutdownKill halts the process immediately.
	ShutdownKill
)

func (m ShutdownMode) String() string {
	switch m {
	case ShutdownDefault:
		return "default"
	case ShutdownExit:
		return "exit"
	case ShutdownKill:
		return "kill"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseShutdownMode parses "default", "exit" or "kill" (case-insensitive).
// The empty string is ShutdownDefault.
func ParseShutdownMode(s string) (ShutdownMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ShutdownDefault, nil
	case "exit":
		return ShutdownExit, nil
	case "kill":
		return ShutdownKill, nil
	default:
		return ShutdownDefault, fmt.Errorf("unknown shutdown mode %q", s)
	}
}

// Code is the single-character type marker at the start of a frame.
type Code byte

const (
	// CodeBye marks successful completion of the run. Exactly one per run.
	CodeBye Code = 'Z'
	// CodeError carries an encoded failure description.
	CodeError Code = 'X'
	// CodeNext asks the parent for the next workload selector.
	CodeNext Code = 'N'
)

func (c Code) String() string {
	switch c {
	case CodeBye:
		return "bye"
	case CodeError:
		return "error"
	case CodeNext:
		return "next"
	default:
		return fmt.Sprintf("code(%q)", byte(c))
	}
}

func (c Code) valid() bool {
	return c == CodeBye || c == CodeError || c == CodeNext
}

// ByePayload is the fixed payload of the Bye frame.
const ByePayload = "BYE!"

// DefaultChannel is the only channel index used by this protocol version.
const DefaultChannel = 0

// Frame is one self-delimited record on the multiplexed stdout stream.
// Payload holds the unescaped text.
type Frame struct {
	Code    Code
	Channel int
	Payload string
}

// Bye returns the terminal success frame.
func Bye() Frame {
	return Frame{Code: CodeBye, Channel: DefaultChannel, Payload: ByePayload}
}

// ErrorFrame returns an error frame carrying an already-rendered failure description.
func ErrorFrame(payload string) Frame {
	return Frame{Code: CodeError, Channel: DefaultChannel, Payload: payload}
}

// NextRequest returns the frame asking the parent for the next selector.
func NextRequest() Frame {
	return Frame{Code: CodeNext, Channel: DefaultChannel}
}
