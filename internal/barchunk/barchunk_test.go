package barchunk

import (
	"bytes"
	"errors"
	"testing"

	"barchive/internal/barerr"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, TypeFile, true, []byte("hello world!")); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	h, body, err := ReadChunk(&buf, false, map[Type]bool{TypeFile: true})
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if h.Type != TypeFile {
		t.Errorf("Type = %v, want %v", h.Type, TypeFile)
	}
	if h.Length != 12 {
		t.Errorf("Length = %d, want 12", h.Length)
	}
	if string(body) != "hello world!" {
		t.Errorf("body = %q, want %q", body, "hello world!")
	}
}

func TestMultipleChunksRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	WriteChunk(&buf, TypeHeader, false, []byte("v1"))
	WriteChunk(&buf, TypeFile, true, []byte("meta"))
	WriteChunk(&buf, TypeData, true, []byte("payload-bytes"))

	known := map[Type]bool{TypeHeader: true, TypeFile: true, TypeData: true}
	var got []string
	for {
		h, body, err := ReadChunk(&buf, false, known)
		if err != nil {
			break
		}
		got = append(got, h.Type.String()+":"+string(body))
	}
	want := []string{"BAR0:v1", "FILE:meta", "DATA:payload-bytes"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCrcMismatch(t *testing.T) {
	var buf bytes.Buffer
	WriteChunk(&buf, TypeData, true, []byte("abcdefgh"))
	raw := buf.Bytes()

	// Flip a bit inside the body (after type+flags+length header).
	corrupt := append([]byte(nil), raw...)
	corrupt[6] ^= 0x01

	_, _, err := ReadChunk(bytes.NewReader(corrupt), false, map[Type]bool{TypeData: true})
	if !errors.Is(err, barerr.ErrCrcMismatch) {
		t.Fatalf("ReadChunk() = %v, want ErrCrcMismatch", err)
	}
}

func TestUnknownChunkTolerantVsStrict(t *testing.T) {
	weird := NewType("WEAK")
	var buf bytes.Buffer
	WriteChunk(&buf, TypeFile, false, []byte("known-before"))
	WriteChunk(&buf, weird, false, []byte("unknown-middle"))
	WriteChunk(&buf, TypeFile, false, []byte("known-after"))

	known := map[Type]bool{TypeFile: true}

	t.Run("tolerant", func(t *testing.T) {
		r := bytes.NewReader(buf.Bytes())
		h1, b1, err := ReadChunk(r, true, known)
		if err != nil || string(b1) != "known-before" {
			t.Fatalf("first chunk: %v %v %q", h1, err, b1)
		}
		h2, _, err := ReadChunk(r, true, known)
		if err != nil || h2.Type != weird {
			t.Fatalf("unknown chunk should be skipped without error, got %v %v", h2, err)
		}
		h3, b3, err := ReadChunk(r, true, known)
		if err != nil || string(b3) != "known-after" {
			t.Fatalf("surrounding chunk after skip should parse: %v %v %q", h3, err, b3)
		}
	})

	t.Run("strict", func(t *testing.T) {
		r := bytes.NewReader(buf.Bytes())
		_, _, err := ReadChunk(r, false, known)
		if err != nil {
			t.Fatalf("first known chunk should parse: %v", err)
		}
		_, _, err = ReadChunk(r, false, known)
		if !errors.Is(err, barerr.ErrUnknownChunk) {
			t.Fatalf("ReadChunk() = %v, want ErrUnknownChunk", err)
		}
	})
}

func TestNestedReaderDepthLimit(t *testing.T) {
	if err := NestedReader(MaxNestDepth - 1); err != nil {
		t.Fatalf("depth below limit should be allowed: %v", err)
	}
	if err := NestedReader(MaxNestDepth); !errors.Is(err, barerr.ErrChunkDepthExceeded) {
		t.Fatalf("depth at limit should fail, got %v", err)
	}
}
