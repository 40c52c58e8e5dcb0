package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedEscape is returned by Unescape for a truncated or non-hex escape.
var ErrMalformedEscape = errors.New("malformed escape sequence")

const hexChars = "0123456789ABCDEF"

// needsEscape reports whether b cannot appear literally inside a frame payload.
// Commas delimit frame fields and the backslash introduces escapes.
func needsEscape(b byte) bool {
	return b < 0x20 || b > 0x7E || b == '\\' || b == ','
}

// Escape renders s as printable ASCII. Every byte outside 0x20..0x7E, plus
// '\' and ',', becomes '\' followed by two upper-case hex digits.
func Escape(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if needsEscape(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if needsEscape(b) {
			sb.WriteByte('\\')
			sb.WriteByte(hexChars[b>>4])
			sb.WriteByte(hexChars[b&0x0F])
			continue
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

// Unescape reverses Escape.
func Unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b != '\\' {
			out = append(out, b)
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("%w at offset %d", ErrMalformedEscape, i)
		}
		hi, ok1 := fromHex(s[i+1])
		lo, ok2 := fromHex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("%w at offset %d", ErrMalformedEscape, i)
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return string(out), nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
