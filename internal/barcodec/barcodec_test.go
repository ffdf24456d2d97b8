package barcodec

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"barchive/internal/barerr"
)

func roundTrip(t *testing.T, p *Pipeline, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := p.Writer(&buf)
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := p.Reader(&buf)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return got
}

func TestNoneRoundTrip(t *testing.T) {
	p := New(None)
	data := []byte("plain bytes, no transform")
	got := roundTrip(t, p, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestZstdRoundTrip(t *testing.T) {
	p := New(Zstd)
	data := bytes.Repeat([]byte("compressible payload segment "), 500)
	got := roundTrip(t, p, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch, got %d bytes want %d", len(got), len(data))
	}
}

func TestBrotliRoundTrip(t *testing.T) {
	p := New(Brotli)
	data := bytes.Repeat([]byte("another compressible payload "), 500)
	got := roundTrip(t, p, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch, got %d bytes want %d", len(got), len(data))
	}
}

func TestAESGCMRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	stage, err := AESGCM(key)
	if err != nil {
		t.Fatalf("AESGCM: %v", err)
	}
	p := New(stage)
	data := bytes.Repeat([]byte("secret archive bytes"), 4000) // spans multiple blocks
	got := roundTrip(t, p, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch, got %d bytes want %d", len(got), len(data))
	}
}

func TestChaCha20Poly1305RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	stage, err := ChaCha20Poly1305(key)
	if err != nil {
		t.Fatalf("ChaCha20Poly1305: %v", err)
	}
	p := New(stage)
	data := []byte("short secret")
	got := roundTrip(t, p, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestTwofishRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x7a}, 32)
	stage, err := Twofish(key)
	if err != nil {
		t.Fatalf("Twofish: %v", err)
	}
	p := New(stage)
	data := bytes.Repeat([]byte("twofish payload chunk "), 2000)
	got := roundTrip(t, p, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch, got %d bytes want %d", len(got), len(data))
	}
}

func TestAESGCMWrongKeyFailsAuth(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 32)
	wrongKey := bytes.Repeat([]byte{0x02}, 32)

	encStage, _ := AESGCM(key)
	var buf bytes.Buffer
	w, _ := New(encStage).Writer(&buf)
	w.Write([]byte("top secret"))
	w.Close()

	decStage, _ := AESGCM(wrongKey)
	r, err := New(decStage).Reader(&buf)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	_, err = io.ReadAll(r)
	if !errors.Is(err, barerr.ErrDecryptAuthFailure) {
		t.Fatalf("ReadAll() = %v, want ErrDecryptAuthFailure", err)
	}
}

func TestComposedCompressThenEncrypt(t *testing.T) {
	key := bytes.Repeat([]byte{0x5c}, 32)
	encStage, err := ChaCha20Poly1305(key)
	if err != nil {
		t.Fatalf("ChaCha20Poly1305: %v", err)
	}
	p := New(Zstd, encStage)
	data := bytes.Repeat([]byte("layered compress-then-encrypt payload "), 300)
	got := roundTrip(t, p, data)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch, got %d bytes want %d", len(got), len(data))
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("fixed-salt-value")
	k1 := DeriveKey([]byte("hunter2"), salt, 32)
	k2 := DeriveKey([]byte("hunter2"), salt, 32)
	if !bytes.Equal(k1, k2) {
		t.Fatal("DeriveKey should be deterministic for the same inputs")
	}
	k3 := DeriveKey([]byte("different"), salt, 32)
	if bytes.Equal(k1, k3) {
		t.Fatal("DeriveKey should differ for different passwords")
	}
	if len(k1) != 32 {
		t.Fatalf("len(k1) = %d, want 32", len(k1))
	}
}
