// Package scanner finds record delimiters in a growing hold buffer.
//
// A Scanner remembers how much of the hold buffer it has already searched, so
// a buffer that grows one read at a time is scanned in O(total bytes): each
// call only looks at the window that can contain a match using the new bytes,
// starting len(delimiter)-1 bytes before the previous end so a delimiter that
// straddles two reads is still found.
package scanner

import (
	"bytes"
)

// Index returns the split point of the first delimiter in held that starts at
// or after from: the offset of the first byte after the match. It returns -1
// when there is no match, including when delim is longer than the searched
// window.
func Index(held, delim []byte, from int) int {
	if from < 0 {
		from = 0
	}
	if len(delim) == 0 || from >= len(held) || len(held)-from < len(delim) {
		return -1
	}
	i := bytes.Index(held[from:], delim)
	if i < 0 {
		return -1
	}
	return from + i + len(delim)
}

// Scanner is a resumable delimiter search over a single hold buffer.
type Scanner struct {
	delim   []byte
	scanned int
}

// New returns a Scanner for delim. delim must not be empty.
func New(delim []byte) *Scanner {
	d := make([]byte, len(delim))
	copy(d, delim)
	return &Scanner{delim: d}
}

// Delimiter returns the delimiter the scanner searches for.
func (s *Scanner) Delimiter() []byte {
	return s.delim
}

// Scan searches the part of held not yet confirmed free of delimiters and
// returns the split point, or -1. held must be the same buffer passed on the
// previous call, possibly with bytes appended.
func (s *Scanner) Scan(held []byte) int {
	from := s.scanned - len(s.delim) + 1
	if from < 0 {
		from = 0
	}
	split := Index(held, s.delim, from)
	if split < 0 {
		s.scanned = len(held)
	}
	return split
}

// Scanned reports how many leading bytes of the hold buffer have been searched.
func (s *Scanner) Scanned() int {
	return s.scanned
}

// Reset forgets the scan position. Call it whenever the hold buffer is replaced.
func (s *Scanner) Reset() {
	s.scanned = 0
}

// Split carves the completed record held[:split] out of held and copies the
// remainder into next, which must be empty. The remainder is copied rather
// than aliased because the record is handed to another goroutine.
func Split(held, next []byte, split int) (record, remainder []byte) {
	remainder = append(next[:0], held[split:]...)
	return held[:split], remainder
}
