// Package delim turns a delimiter given on the command line into raw bytes.
//
// Backslash escapes follow Go string literal rules (\n, \t, \r, \\, \xHH,
// \ooo, \uXXXX and friends) plus a bare \0 for NUL and \e for ESC, so
// `-d '\0'` works the way it does for find and xargs.
package delim

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/jittakal/lbuffer/internal/errors"
)

// Default is the delimiter used when none is configured.
var Default = []byte{'\n'}

// Unescape converts s into the delimiter bytes. Bytes outside escape
// sequences are taken verbatim, including invalid UTF-8.
func Unescape(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for len(s) > 0 {
		if s[0] != '\\' {
			out = append(out, s[0])
			s = s[1:]
			continue
		}
		if len(s) == 1 {
			return nil, fmt.Errorf("%w: trailing backslash", errors.ErrInvalidDelimiter)
		}

		switch s[1] {
		case '0':
			if !isOctalTriple(s[1:]) {
				out = append(out, 0)
				s = s[2:]
				continue
			}
		case 'e':
			out = append(out, 0x1b)
			s = s[2:]
			continue
		case '\'', '"':
			out = append(out, s[1])
			s = s[2:]
			continue
		}

		value, multibyte, tail, err := strconv.UnquoteChar(s, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: bad escape sequence near %q", errors.ErrInvalidDelimiter, s[:min(len(s), 4)])
		}
		if multibyte {
			out = utf8.AppendRune(out, value)
		} else {
			out = append(out, byte(value))
		}
		s = tail
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: delimiter must be at least one byte", errors.ErrInvalidDelimiter)
	}
	return out, nil
}

// MustUnescape is like Unescape but panics on error. Intended for tests and
// package-level defaults.
func MustUnescape(s string) []byte {
	b, err := Unescape(s)
	if err != nil {
		panic(err)
	}
	return b
}

func isOctalTriple(s string) bool {
	if len(s) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < '0' || s[i] > '7' {
			return false
		}
	}
	return true
}
