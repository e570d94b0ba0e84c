package swddude

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteChar(t *testing.T) {
	var out bytes.Buffer
	console := Console{Out: &out, In: bufio.NewReader(strings.NewReader(""))}

	if err := writeChar(console, uint32('A')); err != nil {
		t.Fatalf("writeChar: %v", err)
	}

	if out.String() != "A" {
		t.Errorf("output = %q, want %q", out.String(), "A")
	}
}

func TestWriteStringWordAligned(t *testing.T) {
	_, target := newTestTarget()

	// "hi\0\0" packed little-endian into one word at a word-aligned address.
	if err := target.WriteWord(0x20000000, uint32('h')|uint32('i')<<8); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}

	var out bytes.Buffer
	console := Console{Out: &out, In: bufio.NewReader(strings.NewReader(""))}

	if err := writeString(target, console, 0x20000000); err != nil {
		t.Fatalf("writeString: %v", err)
	}

	if out.String() != "hi" {
		t.Errorf("output = %q, want %q", out.String(), "hi")
	}
}

func TestWriteStringSpansWords(t *testing.T) {
	_, target := newTestTarget()

	// A five-character string, word-aligned, forces the read loop to cross
	// into a second word.
	word0 := uint32('h') | uint32('e')<<8 | uint32('l')<<16 | uint32('l')<<24
	word1 := uint32('o')
	if err := target.WriteWord(0x20000000, word0); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	if err := target.WriteWord(0x20000004, word1); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}

	var out bytes.Buffer
	console := Console{Out: &out, In: bufio.NewReader(strings.NewReader(""))}

	if err := writeString(target, console, 0x20000000); err != nil {
		t.Fatalf("writeString: %v", err)
	}

	if out.String() != "hello" {
		t.Errorf("output = %q, want %q", out.String(), "hello")
	}
}

func TestReadChar(t *testing.T) {
	_, target := newTestTarget()

	console := Console{Out: &bytes.Buffer{}, In: bufio.NewReader(strings.NewReader("Q"))}

	if err := readChar(target, console); err != nil {
		t.Fatalf("readChar: %v", err)
	}

	got, err := target.ReadRegister(RegR0)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if got != uint32('Q') {
		t.Errorf("R0 = %d, want %d", got, 'Q')
	}
}
