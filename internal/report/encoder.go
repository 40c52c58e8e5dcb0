package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/forkboot/internal/protocol"
	"github.com/mattjoyce/forkboot/internal/provider"
)

const (
	defaultSource = "test subsystem"
	defaultMethod = "no method"

	// maxTrimmedStackLines caps a trimmed stack.
	maxTrimmedStackLines = 16
)

// ErrMalformedPayload is returned when an Error payload does not hold four fields.
var ErrMalformedPayload = errors.New("malformed error payload")

// FailureReport is the decoded form of an Error frame payload.
type FailureReport struct {
	Source  string
	Method  string
	Message string
	Stack   string
}

// Encoder renders failures into Error frame payloads.
type Encoder struct {
	TrimStack bool
}

// Encode returns the payload for f: source, method, message and stack,
// each escaped and joined with commas. The frame codec escapes the whole
// payload again, so the commas never reach the wire unescaped.
func (e Encoder) Encode(f *provider.Failure) string {
	r := e.Report(f)
	fields := []string{r.Source, r.Method, r.Message, r.Stack}
	for i, v := range fields {
		fields[i] = protocol.Escape(v)
	}
	return strings.Join(fields, ",")
}

// Report builds the structured report for f.
func (e Encoder) Report(f *provider.Failure) FailureReport {
	r := FailureReport{Source: defaultSource, Method: defaultMethod}
	if f == nil {
		return r
	}
	if f.Source != "" {
		r.Source = f.Source
	}
	if f.Op != "" {
		r.Method = f.Op
	}
	if f.Err != nil {
		r.Message = f.Err.Error()
	}
	stack := string(f.Stack)
	if e.TrimStack {
		stack = TrimStack(stack)
	}
	r.Stack = strings.TrimRight(stack, "\n")
	return r
}

// DecodePayload is the inverse of Encode.
func DecodePayload(payload string) (FailureReport, error) {
	parts := strings.Split(payload, ",")
	if len(parts) != 4 {
		return FailureReport{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedPayload, len(parts))
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		v, err := protocol.Unescape(p)
		if err != nil {
			return FailureReport{}, fmt.Errorf("%w: field %d: %v", ErrMalformedPayload, i, err)
		}
		out[i] = v
	}
	return FailureReport{Source: out[0], Method: out[1], Message: out[2], Stack: out[3]}, nil
}

// TrimStack drops Go runtime frames from a goroutine dump and caps the
// result at maxTrimmedStackLines lines.
//
// A frame is a function line followed by a tab-indented file:line.
func TrimStack(stack string) string {
	if stack == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(stack, "\n"), "\n")
	kept := make([]string, 0, len(lines))
	skipFile := false
	for _, line := range lines {
		if strings.HasPrefix(line, "\t") {
			if !skipFile {
				kept = append(kept, line)
			}
			skipFile = false
			continue
		}
		if isRuntimeFrame(line) {
			skipFile = true
			continue
		}
		skipFile = false
		kept = append(kept, line)
	}
	if len(kept) > maxTrimmedStackLines {
		kept = kept[:maxTrimmedStackLines]
	}
	return strings.Join(kept, "\n")
}

func isRuntimeFrame(line string) bool {
	return strings.HasPrefix(line, "runtime.") ||
		strings.HasPrefix(line, "runtime/") ||
		strings.HasPrefix(line, "panic(")
}
