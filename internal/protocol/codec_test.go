package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "BYE!", want: "BYE!"},
		{name: "comma", in: "a,b", want: `a\2Cb`},
		{name: "backslash", in: `a\b`, want: `a\5Cb`},
		{name: "newline and tab", in: "line1\n\tline2", want: `line1\0A\09line2`},
		{name: "non-ascii", in: "é", want: `\C3\A9`},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Escape(tt.in)
			if got != tt.want {
				t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
			}
			back, err := Unescape(got)
			if err != nil {
				t.Fatalf("Unescape(%q): %v", got, err)
			}
			if back != tt.in {
				t.Errorf("Unescape(Escape(%q)) = %q", tt.in, back)
			}
		})
	}
}

func TestEscapeOutputIsPrintable(t *testing.T) {
	var all []byte
	for i := 0; i < 256; i++ {
		all = append(all, byte(i))
	}
	got := Escape(string(all))
	for i := 0; i < len(got); i++ {
		b := got[i]
		if b < 0x20 || b > 0x7E || b == ',' || b == '\n' {
			t.Fatalf("escaped output contains structural byte %#x at %d", b, i)
		}
	}
	back, err := Unescape(got)
	if err != nil {
		t.Fatalf("Unescape: %v", err)
	}
	if back != string(all) {
		t.Error("round trip over all byte values failed")
	}
}

func TestUnescapeMalformed(t *testing.T) {
	for _, in := range []string{`\`, `\4`, `ab\zz`, `\G0`} {
		_, err := Unescape(in)
		if !errors.Is(err, ErrMalformedEscape) {
			t.Errorf("Unescape(%q) error = %v, want ErrMalformedEscape", in, err)
		}
	}
	got, err := Unescape(`\2c`)
	if err != nil || got != "," {
		t.Errorf("lower-case hex should decode, got %q, %v", got, err)
	}
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		want    string
		wantErr bool
	}{
		{name: "bye", frame: Bye(), want: "Z,0,BYE!\n"},
		{name: "error with delimiters", frame: ErrorFrame("boom,\nbang"), want: "X,0,boom\\2C\\0Abang\n"},
		{name: "next request", frame: NextRequest(), want: "N,0,\n"},
		{name: "unsupported code", frame: Frame{Code: 'Q'}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeFrame(&buf, tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && buf.String() != tt.want {
				t.Errorf("EncodeFrame() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantErr bool
		want    Frame
	}{
		{name: "bye", line: "Z,0,BYE!", wantOK: true, want: Bye()},
		{name: "bye with newline", line: "Z,0,BYE!\n", wantOK: true, want: Bye()},
		{name: "error", line: `X,0,a\2Cb`, wantOK: true, want: ErrorFrame("a,b")},
		{name: "next with empty payload", line: "N,0,", wantOK: true, want: NextRequest()},
		{name: "raw output", line: "PASS: TestSomething (0.00s)"},
		{name: "raw short", line: "ok"},
		{name: "unknown code", line: "Q,0,hi"},
		{name: "non-numeric channel", line: "X,a,hi"},
		{name: "bad escape", line: `X,0,\Q1`, wantOK: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok, err := ParseLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLine(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if ok && !tt.wantErr && f != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, f, tt.want)
			}
		})
	}
}

func TestRawNeedsQuote(t *testing.T) {
	tests := []struct {
		prefix      string
		wantQuote   bool
		wantDecided bool
	}{
		{prefix: ""},
		{prefix: "Z"},
		{prefix: "Z,", wantQuote: true, wantDecided: true},
		{prefix: "X,", wantQuote: true, wantDecided: true},
		{prefix: "N,", wantQuote: true, wantDecided: true},
		{prefix: `\`, wantQuote: true, wantDecided: true},
		{prefix: "Zo", wantDecided: true},
		{prefix: "Z\n", wantDecided: true},
		{prefix: "P", wantDecided: true},
		{prefix: "\n", wantDecided: true},
	}

	for _, tt := range tests {
		quote, decided := RawNeedsQuote([]byte(tt.prefix))
		if quote != tt.wantQuote || decided != tt.wantDecided {
			t.Errorf("RawNeedsQuote(%q) = (%v, %v), want (%v, %v)",
				tt.prefix, quote, decided, tt.wantQuote, tt.wantDecided)
		}
	}
}

func TestQuotedRawLineIsNotAFrame(t *testing.T) {
	for _, raw := range []string{"Z,0,BYE!", `X,0,a\2Cb`, `\already quoted`} {
		quoted := string(RawQuote) + raw
		if _, ok, err := ParseLine(quoted); ok || err != nil {
			t.Fatalf("ParseLine(%q) = ok %v, err %v; want raw", quoted, ok, err)
		}
		if got := UnquoteRaw(quoted); got != raw {
			t.Errorf("UnquoteRaw(%q) = %q, want %q", quoted, got, raw)
		}
	}
	if got := UnquoteRaw("plain"); got != "plain" {
		t.Errorf("UnquoteRaw(plain) = %q", got)
	}
}

func TestCommandDecoder(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"ping"}`,
		``,
		`{"kind":"shutdown","payload":"exit"}`,
		`not json`,
		`{"kind":"run-class","payload":"pkg/foo"}`,
		`{"kind":"ping","extra":true}`,
		`{"payload":"orphan"}`,
		`{"kind":"bye-ack"}`,
	}, "\n")

	dec := NewCommandDecoder(strings.NewReader(input))

	expect := []struct {
		cmd       Command
		malformed bool
	}{
		{cmd: Command{Kind: KindPing}},
		{cmd: Command{Kind: KindShutdown, Payload: "exit"}},
		{malformed: true},
		{cmd: Command{Kind: KindRunClass, Payload: "pkg/foo"}},
		{malformed: true},
		{malformed: true},
		{cmd: Command{Kind: KindByeAck}},
	}

	for i, want := range expect {
		cmd, err := dec.Decode()
		if want.malformed {
			if !errors.Is(err, ErrMalformedCommand) {
				t.Fatalf("step %d: error = %v, want ErrMalformedCommand", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d: unexpected error %v", i, err)
		}
		if cmd != want.cmd {
			t.Errorf("step %d: got %+v, want %+v", i, cmd, want.cmd)
		}
	}

	if _, err := dec.Decode(); err != io.EOF {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeCommand(&buf, Command{Kind: KindShutdown, Payload: "kill"}); err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if err := EncodeCommand(&buf, Command{}); err == nil {
		t.Error("expected error for command without kind")
	}

	cmd, err := NewCommandDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmd.ShutdownMode() != ShutdownKill {
		t.Errorf("ShutdownMode() = %v, want kill", cmd.ShutdownMode())
	}
}

func TestParseShutdownMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ShutdownMode
		wantErr bool
	}{
		{"", ShutdownDefault, false},
		{"default", ShutdownDefault, false},
		{"EXIT", ShutdownExit, false},
		{" kill ", ShutdownKill, false},
		{"halt", ShutdownDefault, true},
	}
	for _, tt := range tests {
		got, err := ParseShutdownMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseShutdownMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseShutdownMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if (Command{Kind: KindShutdown, Payload: "bogus"}).ShutdownMode() != ShutdownDefault {
		t.Error("unrecognised payload should map to default")
	}
}

func TestKindKnown(t *testing.T) {
	if !KindPing.Known() || !KindShutdown.Known() {
		t.Error("ping and shutdown must be known kinds")
	}
	if Kind("telemetry").Known() {
		t.Error("unexpected kind reported as known")
	}
}
