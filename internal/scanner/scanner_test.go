package scanner

import (
	"bytes"
	"testing"
)

func TestIndex(t *testing.T) {
	tests := []struct {
		name  string
		held  string
		delim string
		from  int
		want  int
	}{
		{"newline", "abc\ndef", "\n", 0, 4},
		{"no match", "abcdef", "\n", 0, -1},
		{"empty held", "", "\n", 0, -1},
		{"delimiter longer than held", "|", "||", 0, -1},
		{"delimiter at start", "\nabc", "\n", 0, 1},
		{"multi-byte", "a||b", "||", 0, 3},
		{"from skips earlier match", "a\nb\nc", "\n", 2, 4},
		{"from past end", "abc", "c", 3, -1},
		{"negative from", "x\n", "\n", -5, 2},
		{"empty delimiter", "abc", "", 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Index([]byte(tt.held), []byte(tt.delim), tt.from)
			if got != tt.want {
				t.Errorf("Index(%q, %q, %d) = %d, want %d", tt.held, tt.delim, tt.from, got, tt.want)
			}
		})
	}
}

func TestScanner_ResumesAcrossAppends(t *testing.T) {
	s := New([]byte("||"))

	held := []byte("abc|")
	if got := s.Scan(held); got != -1 {
		t.Fatalf("Scan() = %d, want -1", got)
	}
	if s.Scanned() != 4 {
		t.Fatalf("Scanned() = %d, want 4", s.Scanned())
	}

	// Second half of the delimiter arrives in the next read.
	held = append(held, "|def"...)
	if got := s.Scan(held); got != 5 {
		t.Fatalf("Scan() = %d, want 5", got)
	}
}

func TestScanner_DoesNotRescanConfirmedBytes(t *testing.T) {
	s := New([]byte("\n"))

	held := []byte("aaaa")
	s.Scan(held)

	// Plant a delimiter inside the already-scanned region. A resumed scan must
	// not go back and find it.
	held[1] = '\n'
	held = append(held, "bbbb"...)
	if got := s.Scan(held); got != -1 {
		t.Fatalf("Scan() = %d, want -1", got)
	}

	s.Reset()
	if got := s.Scan(held); got != 2 {
		t.Fatalf("Scan() after Reset = %d, want 2", got)
	}
}

func TestScanner_CopiesDelimiter(t *testing.T) {
	delim := []byte("\t")
	s := New(delim)
	delim[0] = 'x'

	if !bytes.Equal(s.Delimiter(), []byte("\t")) {
		t.Errorf("Delimiter() = %q, want %q", s.Delimiter(), "\t")
	}
}

func TestSplit(t *testing.T) {
	held := []byte("abc\ndef")
	next := make([]byte, 0, 16)

	record, remainder := Split(held, next, 4)

	if string(record) != "abc\n" {
		t.Errorf("record = %q, want %q", record, "abc\n")
	}
	if string(remainder) != "def" {
		t.Errorf("remainder = %q, want %q", remainder, "def")
	}

	// The remainder must not alias the record's storage.
	remainder[0] = 'X'
	if string(held[4:7]) != "def" {
		t.Errorf("remainder aliases held: %q", held)
	}
}

func TestScanner_ChunkingIndependence(t *testing.T) {
	input := []byte("one||two|||three||||four|")
	delim := []byte("||")

	want := splitAll(input, delim, len(input))
	for chunk := 1; chunk <= len(input); chunk++ {
		got := splitAll(input, delim, chunk)
		if len(got) != len(want) {
			t.Fatalf("chunk %d: got %d records %q, want %d %q", chunk, len(got), got, len(want), want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("chunk %d: record %d = %q, want %q", chunk, i, got[i], want[i])
			}
		}
	}

	if want[0] != "one||" || want[1] != "two||" || want[2] != "|three||" {
		t.Errorf("unexpected records %q", want)
	}
}

// splitAll feeds input to a Scanner chunk bytes at a time, the way the reader does.
func splitAll(input, delim []byte, chunk int) []string {
	var records []string
	s := New(delim)
	var held []byte
	for off := 0; off < len(input); off += chunk {
		end := min(off+chunk, len(input))
		held = append(held, input[off:end]...)
		for {
			split := s.Scan(held)
			if split < 0 {
				break
			}
			var record []byte
			record, held = Split(held, nil, split)
			records = append(records, string(record))
			s.Reset()
		}
	}
	if len(held) > 0 {
		records = append(records, string(held))
	}
	return records
}
