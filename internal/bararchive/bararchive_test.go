package bararchive

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"io"
	"testing"
	"time"

	"barchive/internal/barconfig"
	"barchive/internal/barerr"
	"barchive/internal/barstorage"
)

func newLocalStorage(t *testing.T) barstorage.Adapter {
	t.Helper()
	adapter, err := barstorage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return adapter
}

func writeSimpleArchive(t *testing.T, storage barstorage.Adapter, name string, cfg WriterConfig, entries map[string][]byte) []VolumeResult {
	t.Helper()
	w, err := Create(storage, name, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for fname, data := range entries {
		if err := w.BeginEntry(KindFile, Metadata{Name: fname, Mode: 0o644, MTime: time.Unix(0, 0)}); err != nil {
			t.Fatalf("BeginEntry(%s): %v", fname, err)
		}
		// Stream in fixed-size pieces, as a real caller reading a file in
		// blocks would: WriteData only checks for rotation between chunks,
		// so a single giant call would never split into multiple volumes.
		const writeBlock = 512
		for off := 0; off < len(data); off += writeBlock {
			end := off + writeBlock
			if end > len(data) {
				end = len(data)
			}
			if _, err := w.WriteData(data[off:end]); err != nil {
				t.Fatalf("WriteData(%s): %v", fname, err)
			}
		}
		if err := w.EndEntry(); err != nil {
			t.Fatalf("EndEntry(%s): %v", fname, err)
		}
	}
	results, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	return results
}

func readAllEntries(t *testing.T, r *Reader) map[string][]byte {
	t.Helper()
	got := map[string][]byte{}
	for {
		meta, kind, err := r.NextEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextEntry: %v", err)
		}
		if kind != KindFile {
			t.Fatalf("unexpected kind %d for %s", kind, meta.Name)
		}
		data, err := io.ReadAll(readerFunc(func(p []byte) (int, error) { return r.ReadData(p) }))
		if err != nil {
			t.Fatalf("ReadData(%s): %v", meta.Name, err)
		}
		got[meta.Name] = data
	}
	return got
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestWriterReaderRoundTripPlain(t *testing.T) {
	storage := newLocalStorage(t)
	cfg := WriterConfig{
		Compression:    barconfig.CompressionNone,
		Encryption:     barconfig.EncryptionNone,
		VolumeMaxBytes: 1 << 30,
	}
	entries := map[string][]byte{
		"a.txt": []byte("hello, archive"),
		"b.txt": bytes.Repeat([]byte("xyz"), 1000),
	}
	writeSimpleArchive(t, storage, "vol", cfg, entries)

	r, err := Open(storage, "vol", ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := readAllEntries(t, r)
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for name, want := range entries {
		if !bytes.Equal(got[name], want) {
			t.Fatalf("entry %s: got %d bytes, want %d bytes", name, len(got[name]), len(want))
		}
	}
}

func TestWriterReaderRoundTripCompressedEncrypted(t *testing.T) {
	storage := newLocalStorage(t)
	cfg := WriterConfig{
		Compression:    barconfig.CompressionZstd,
		Encryption:     barconfig.EncryptionChaCha20,
		Password:       []byte("correct horse battery staple"),
		VolumeMaxBytes: 1 << 30,
	}
	entries := map[string][]byte{
		"report.csv": bytes.Repeat([]byte("1,2,3,4,5\n"), 5000),
	}
	writeSimpleArchive(t, storage, "vol", cfg, entries)

	r, err := Open(storage, "vol", ReaderConfig{Password: cfg.Password})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := readAllEntries(t, r)
	if !bytes.Equal(got["report.csv"], entries["report.csv"]) {
		t.Fatalf("report.csv mismatch: got %d bytes, want %d bytes", len(got["report.csv"]), len(entries["report.csv"]))
	}
}

func TestWriterReaderWrongPasswordFailsAuth(t *testing.T) {
	storage := newLocalStorage(t)
	cfg := WriterConfig{
		Compression:    barconfig.CompressionNone,
		Encryption:     barconfig.EncryptionAES,
		Password:       []byte("correct password"),
		VolumeMaxBytes: 1 << 30,
	}
	writeSimpleArchive(t, storage, "vol", cfg, map[string][]byte{"f": []byte("secret bytes")})

	r, err := Open(storage, "vol", ReaderConfig{Password: []byte("wrong password")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	_, _, err = r.NextEntry()
	if err == nil {
		t.Fatal("expected entry decode/auth error with wrong password")
	}
}

func TestWriterReaderSparseData(t *testing.T) {
	storage := newLocalStorage(t)
	cfg := WriterConfig{
		Compression:    barconfig.CompressionNone,
		Encryption:     barconfig.EncryptionNone,
		VolumeMaxBytes: 1 << 30,
	}
	zeroRun := make([]byte, sparseThreshold*2)
	data := append(append([]byte("head"), zeroRun...), []byte("tail")...)

	w, err := Create(storage, "vol", cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.BeginEntry(KindFile, Metadata{Name: "sparse.img", Mode: 0o644, MTime: time.Unix(0, 0)}); err != nil {
		t.Fatalf("BeginEntry: %v", err)
	}
	// Each WriteData call's own buffer is scanned independently for a
	// qualifying zero run, so the run must be presented in one call to be
	// recognized as sparse rather than as literal zero bytes.
	if _, err := w.WriteData([]byte("head")); err != nil {
		t.Fatalf("WriteData(head): %v", err)
	}
	if _, err := w.WriteData(zeroRun); err != nil {
		t.Fatalf("WriteData(zeroRun): %v", err)
	}
	if _, err := w.WriteData([]byte("tail")); err != nil {
		t.Fatalf("WriteData(tail): %v", err)
	}
	if err := w.EndEntry(); err != nil {
		t.Fatalf("EndEntry: %v", err)
	}
	if _, err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(storage, "vol", ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := readAllEntries(t, r)
	if !bytes.Equal(got["sparse.img"], data) {
		t.Fatalf("sparse round trip mismatch: got %d bytes, want %d", len(got["sparse.img"]), len(data))
	}
}

func TestWriterReaderMultiVolume(t *testing.T) {
	storage := newLocalStorage(t)
	cfg := WriterConfig{
		Compression:    barconfig.CompressionNone,
		Encryption:     barconfig.EncryptionNone,
		VolumeMaxBytes: 4096, // force rotation well within a single entry
	}
	data := bytes.Repeat([]byte("0123456789"), 5000) // ~50 KiB, several volumes
	results := writeSimpleArchive(t, storage, "vol", cfg, map[string][]byte{"big.bin": data})
	if len(results) < 2 {
		t.Fatalf("expected multiple volumes, got %d", len(results))
	}

	r, err := Open(storage, "vol", ReaderConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := readAllEntries(t, r)
	if !bytes.Equal(got["big.bin"], data) {
		t.Fatalf("multi-volume round trip mismatch: got %d bytes, want %d", len(got["big.bin"]), len(data))
	}
}

func TestWriterReaderSignatureVerified(t *testing.T) {
	storage := newLocalStorage(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg := WriterConfig{
		Compression:    barconfig.CompressionNone,
		Encryption:     barconfig.EncryptionNone,
		VolumeMaxBytes: 1 << 30,
		SigningKey:     priv,
	}
	writeSimpleArchive(t, storage, "vol", cfg, map[string][]byte{"f": []byte("signed content")})

	r, err := Open(storage, "vol", ReaderConfig{TrustedSigners: []ed25519.PublicKey{pub}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got := readAllEntries(t, r)
	if !bytes.Equal(got["f"], []byte("signed content")) {
		t.Fatalf("content mismatch: %q", got["f"])
	}
	if !r.Verified() {
		t.Fatal("expected signature to verify")
	}
}

func TestWriterReaderSignatureUntrustedFails(t *testing.T) {
	storage := newLocalStorage(t)
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	otherPub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg := WriterConfig{
		Compression:    barconfig.CompressionNone,
		Encryption:     barconfig.EncryptionNone,
		VolumeMaxBytes: 1 << 30,
		SigningKey:     priv,
	}
	writeSimpleArchive(t, storage, "vol", cfg, map[string][]byte{"f": []byte("signed content")})

	r, err := Open(storage, "vol", ReaderConfig{TrustedSigners: []ed25519.PublicKey{otherPub}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, _, err := r.NextEntry(); err != nil {
		t.Fatalf("NextEntry (before SIGN is reached): %v", err)
	}
	if err := drainAll(r); !errors.Is(err, barerr.ErrUnverifiedSignature) {
		t.Fatalf("got %v, want ErrUnverifiedSignature", err)
	}
}

func drainAll(r *Reader) error {
	var buf [4096]byte
	for {
		_, err := r.ReadData(buf[:])
		if err == io.EOF {
			if _, _, err := r.NextEntry(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
}
